package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/models"
)

// ChangeRecordRepository provides data access for change records.
// Status transitions are compare-and-set: they only touch rows still in the
// expected status, so concurrent reviewers or pipelines cannot both win.
type ChangeRecordRepository interface {
	// Create inserts a single change record.
	Create(ctx context.Context, rec *models.ChangeRecord) error

	// CreateBatch inserts multiple change records in one round trip.
	CreateBatch(ctx context.Context, recs []*models.ChangeRecord) error

	// GetByID returns a single change record, or nil if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.ChangeRecord, error)

	// List returns change records matching the filter.
	List(ctx context.Context, filter models.ChangeFilter) ([]*models.ChangeRecord, error)

	// Summary counts records by status, and pending records by type and source.
	Summary(ctx context.Context, filter models.ChangeFilter) (*models.ChangeSummary, error)

	// Transition moves one record from one status to another and writes the
	// accompanying fields. Returns nil when the record is missing or not in from.
	// A move the lifecycle does not allow fails with apperrors.ErrInvalidState
	// without touching the store; TransitionMany behaves the same.
	Transition(ctx context.Context, id uuid.UUID, from, to string, update models.StatusUpdate) (*models.ChangeRecord, error)

	// TransitionMany moves every listed record still in from to to, returning the ids that moved.
	TransitionMany(ctx context.Context, ids []uuid.UUID, from, to string, update models.StatusUpdate) ([]uuid.UUID, error)

	// DeleteIfStatus deletes the record only if its status is one of statuses.
	DeleteIfStatus(ctx context.Context, id uuid.UUID, statuses []string) (bool, error)
}

type changeRecordRepository struct {
	db Querier
}

// NewChangeRecordRepository creates a new ChangeRecordRepository.
func NewChangeRecordRepository(db Querier) ChangeRecordRepository {
	return &changeRecordRepository{db: db}
}

var _ ChangeRecordRepository = (*changeRecordRepository)(nil)

const changeRecordColumns = `
	id, credential_id, profile_id, change_type, entity_type, entity_id, entity_name,
	campaign_id, campaign_name, current_value, proposed_value, change_detail,
	mutation_command, source, reasoning, confidence, estimated_impact,
	status, reviewed_at, review_note, applied_at, apply_result, error_message,
	batch_id, batch_label, created_at, updated_at`

const insertChangeRecordSQL = `
	INSERT INTO change_records (
		credential_id, profile_id, change_type, entity_type, entity_id, entity_name,
		campaign_id, campaign_name, current_value, proposed_value, change_detail,
		mutation_command, source, reasoning, confidence, estimated_impact,
		status, batch_id, batch_label, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
	RETURNING id, created_at, updated_at`

func insertArgs(rec *models.ChangeRecord, now time.Time) ([]any, error) {
	if rec.Status == "" {
		rec.Status = models.ChangeStatusPending
	}
	if rec.Source == "" {
		rec.Source = models.ChangeSourceManual
	}
	command, err := json.Marshal(rec.MutationCommand)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutation command: %w", err)
	}
	return []any{
		rec.CredentialID,
		rec.ProfileID,
		rec.ChangeType,
		rec.EntityType,
		nullableString(rec.EntityID),
		nullableString(rec.EntityName),
		nullableString(rec.CampaignID),
		nullableString(rec.CampaignName),
		nullableString(rec.CurrentValue),
		nullableString(rec.ProposedValue),
		jsonbValueMap(rec.ChangeDetail),
		command,
		rec.Source,
		nullableString(rec.Reasoning),
		rec.Confidence,
		nullableString(rec.EstimatedImpact),
		rec.Status,
		nullableString(rec.BatchID),
		nullableString(rec.BatchLabel),
		now,
	}, nil
}

func (r *changeRecordRepository) Create(ctx context.Context, rec *models.ChangeRecord) error {
	args, err := insertArgs(rec, time.Now())
	if err != nil {
		return err
	}

	err = r.db.QueryRow(ctx, insertChangeRecordSQL, args...).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create change record: %w", err)
	}
	return nil
}

func (r *changeRecordRepository) CreateBatch(ctx context.Context, recs []*models.ChangeRecord) error {
	if len(recs) == 0 {
		return nil
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for i, rec := range recs {
		args, err := insertArgs(rec, now)
		if err != nil {
			return fmt.Errorf("change record %d: %w", i, err)
		}
		batch.Queue(insertChangeRecordSQL, args...)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range recs {
		if err := results.QueryRow().Scan(&recs[i].ID, &recs[i].CreatedAt, &recs[i].UpdatedAt); err != nil {
			return fmt.Errorf("failed to create change record %d: %w", i, err)
		}
	}
	return nil
}

func (r *changeRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ChangeRecord, error) {
	query := `SELECT` + changeRecordColumns + ` FROM change_records WHERE id = $1`

	rec, err := scanChangeRecord(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// whereClause builds the shared filter. A profile filter also matches rows
// recorded without a profile.
func whereClause(filter models.ChangeFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}

	if filter.CredentialID != nil {
		add("credential_id = ?", *filter.CredentialID)
	}
	if filter.ProfileID != "" {
		add("(profile_id IS NULL OR profile_id = ?)", filter.ProfileID)
	}
	if filter.Status != "" {
		add("status = ?", filter.Status)
	}
	if filter.ChangeType != "" {
		add("change_type = ?", filter.ChangeType)
	}
	if filter.Source != "" {
		add("source = ?", filter.Source)
	}
	if filter.BatchID != "" {
		add("batch_id = ?", filter.BatchID)
	}
	if len(filter.IDs) > 0 {
		add("id = ANY(?)", filter.IDs)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *changeRecordRepository) List(ctx context.Context, filter models.ChangeFilter) ([]*models.ChangeRecord, error) {
	where, args := whereClause(filter)

	order := "DESC"
	if filter.OldestFirst {
		order = "ASC"
	}
	query := `SELECT` + changeRecordColumns + ` FROM change_records` + where +
		` ORDER BY created_at ` + order + `, id ` + order
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list change records: %w", err)
	}
	defer rows.Close()

	recs := make([]*models.ChangeRecord, 0)
	for rows.Next() {
		rec, err := scanChangeRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change records: %w", err)
	}
	return recs, nil
}

func (r *changeRecordRepository) Summary(ctx context.Context, filter models.ChangeFilter) (*models.ChangeSummary, error) {
	where, args := whereClause(models.ChangeFilter{
		CredentialID: filter.CredentialID,
		ProfileID:    filter.ProfileID,
	})

	query := `
		SELECT status, change_type, source, COUNT(*)
		FROM change_records` + where + `
		GROUP BY status, change_type, source`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize change records: %w", err)
	}
	defer rows.Close()

	summary := &models.ChangeSummary{
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
		BySource: make(map[string]int),
	}
	for rows.Next() {
		var status, changeType, source string
		var count int
		if err := rows.Scan(&status, &changeType, &source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary.ByStatus[status] += count
		if status == models.ChangeStatusPending {
			summary.ByType[changeType] += count
			summary.BySource[source] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}

	summary.TotalPending = summary.ByStatus[models.ChangeStatusPending]
	summary.TotalApproved = summary.ByStatus[models.ChangeStatusApproved]
	summary.TotalRejected = summary.ByStatus[models.ChangeStatusRejected]
	summary.TotalApplied = summary.ByStatus[models.ChangeStatusApplied]
	summary.TotalFailed = summary.ByStatus[models.ChangeStatusFailed]
	return summary, nil
}

const transitionSetClause = `
	SET status        = $3,
	    updated_at    = $4,
	    reviewed_at   = COALESCE($5, reviewed_at),
	    review_note   = COALESCE($6, review_note),
	    applied_at    = COALESCE($7, applied_at),
	    apply_result  = COALESCE($8, apply_result),
	    error_message = COALESCE($9, error_message)`

func transitionArgs(from, to string, update models.StatusUpdate) []any {
	var applyResult any
	if update.ApplyResult != nil {
		applyResult = update.ApplyResult
	}
	return []any{
		from,
		to,
		time.Now(),
		update.ReviewedAt,
		update.ReviewNote,
		update.AppliedAt,
		applyResult,
		update.ErrorMessage,
	}
}

func (r *changeRecordRepository) Transition(ctx context.Context, id uuid.UUID, from, to string, update models.StatusUpdate) (*models.ChangeRecord, error) {
	if !models.CanTransition(from, to) {
		return nil, transitionNotAllowed(from, to)
	}

	query := `UPDATE change_records` + transitionSetClause + `
		WHERE id = $1 AND status = $2
		RETURNING` + changeRecordColumns

	args := append([]any{id}, transitionArgs(from, to, update)...)
	rec, err := scanChangeRecord(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition change record %s: %w", id, err)
	}
	return rec, nil
}

func (r *changeRecordRepository) TransitionMany(ctx context.Context, ids []uuid.UUID, from, to string, update models.StatusUpdate) ([]uuid.UUID, error) {
	if !models.CanTransition(from, to) {
		return nil, transitionNotAllowed(from, to)
	}

	moved := make([]uuid.UUID, 0, len(ids))
	if len(ids) == 0 {
		return moved, nil
	}

	query := `UPDATE change_records` + transitionSetClause + `
		WHERE id = ANY($1) AND status = $2
		RETURNING id`

	args := append([]any{ids}, transitionArgs(from, to, update)...)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition change records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transitioned id: %w", err)
		}
		moved = append(moved, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitioned ids: %w", err)
	}
	return moved, nil
}

func transitionNotAllowed(from, to string) error {
	return apperrors.InvalidStatef("cannot move a change from %s to %s", from, to)
}

func (r *changeRecordRepository) DeleteIfStatus(ctx context.Context, id uuid.UUID, statuses []string) (bool, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM change_records WHERE id = $1 AND status = ANY($2)`, id, statuses)
	if err != nil {
		return false, fmt.Errorf("failed to delete change record %s: %w", id, err)
	}
	return result.RowsAffected() > 0, nil
}

func scanChangeRecord(row pgx.Row) (*models.ChangeRecord, error) {
	var c models.ChangeRecord
	var entityID, entityName, campaignID, campaignName *string
	var currentValue, proposedValue, reasoning, estimatedImpact *string
	var reviewNote, errorMessage, batchID, batchLabel *string
	var changeDetail, command, applyResult []byte

	err := row.Scan(
		&c.ID,
		&c.CredentialID,
		&c.ProfileID,
		&c.ChangeType,
		&c.EntityType,
		&entityID,
		&entityName,
		&campaignID,
		&campaignName,
		&currentValue,
		&proposedValue,
		&changeDetail,
		&command,
		&c.Source,
		&reasoning,
		&c.Confidence,
		&estimatedImpact,
		&c.Status,
		&c.ReviewedAt,
		&reviewNote,
		&c.AppliedAt,
		&applyResult,
		&errorMessage,
		&batchID,
		&batchLabel,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan change record: %w", err)
	}

	c.EntityID = derefString(entityID)
	c.EntityName = derefString(entityName)
	c.CampaignID = derefString(campaignID)
	c.CampaignName = derefString(campaignName)
	c.CurrentValue = derefString(currentValue)
	c.ProposedValue = derefString(proposedValue)
	c.Reasoning = derefString(reasoning)
	c.EstimatedImpact = derefString(estimatedImpact)
	c.ReviewNote = derefString(reviewNote)
	c.ErrorMessage = derefString(errorMessage)
	c.BatchID = derefString(batchID)
	c.BatchLabel = derefString(batchLabel)

	// Unmarshal JSONB fields
	if len(changeDetail) > 0 && string(changeDetail) != "null" {
		if err := json.Unmarshal(changeDetail, &c.ChangeDetail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal change_detail: %w", err)
		}
	}
	if err := json.Unmarshal(command, &c.MutationCommand); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mutation_command: %w", err)
	}
	if len(applyResult) > 0 && string(applyResult) != "null" {
		if err := json.Unmarshal(applyResult, &c.ApplyResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal apply_result: %w", err)
		}
	}

	return &c, nil
}
