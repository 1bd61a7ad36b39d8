package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/metrics"
	"github.com/ekaya-inc/adpilot/pkg/models"
	"github.com/ekaya-inc/adpilot/pkg/repositories"
)

// List limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ApprovalQueue manages the review lifecycle of change records: pending
// records are approved or rejected before the execution pipeline may run them.
type ApprovalQueue interface {
	// Create queues a manually proposed change as pending.
	Create(ctx context.Context, rec *models.ChangeRecord) (*models.ChangeRecord, error)

	// Get returns one change record or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*models.ChangeRecord, error)

	// List returns records newest first.
	List(ctx context.Context, filter models.ChangeFilter) ([]*models.ChangeRecord, error)

	// Summary counts records for a credential/profile.
	Summary(ctx context.Context, filter models.ChangeFilter) (*models.ChangeSummary, error)

	// Review approves or rejects one pending record.
	Review(ctx context.Context, id uuid.UUID, action, note string) (*models.ChangeRecord, error)

	// BatchReview approves or rejects every listed record that is still
	// pending and returns how many moved. Other records are skipped.
	BatchReview(ctx context.Context, ids []uuid.UUID, action, note string) (int, error)

	// Delete removes a pending or rejected record.
	Delete(ctx context.Context, id uuid.UUID) error
}

type approvalQueue struct {
	changeRepo repositories.ChangeRecordRepository
	activity   ActivityRecorder
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *zap.Logger
}

// ApprovalQueueDeps contains dependencies for ApprovalQueue.
type ApprovalQueueDeps struct {
	ChangeRepo repositories.ChangeRecordRepository
	Activity   ActivityRecorder
	Metrics    *metrics.Metrics // Optional
	Now        func() time.Time // Optional: defaults to time.Now
	Logger     *zap.Logger
}

// NewApprovalQueue creates a new ApprovalQueue.
func NewApprovalQueue(deps *ApprovalQueueDeps) ApprovalQueue {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &approvalQueue{
		changeRepo: deps.ChangeRepo,
		activity:   deps.Activity,
		metrics:    deps.Metrics,
		now:        now,
		logger:     deps.Logger.Named("approval-queue"),
	}
}

var _ ApprovalQueue = (*approvalQueue)(nil)

// validateNewChange checks a record before it is queued.
func validateNewChange(rec *models.ChangeRecord) error {
	if err := rec.Scope().Validate(); err != nil {
		return err
	}
	if !models.IsValidChangeType(rec.ChangeType) {
		return apperrors.Validationf("unknown change_type %q", rec.ChangeType)
	}
	if !models.IsValidEntityType(rec.EntityType) {
		return apperrors.Validationf("unknown entity_type %q", rec.EntityType)
	}
	if rec.Source != "" && !models.IsValidChangeSource(rec.Source) {
		return apperrors.Validationf("unknown source %q", rec.Source)
	}
	if rec.Confidence != nil && (*rec.Confidence < 0 || *rec.Confidence > 1) {
		return apperrors.Validationf("confidence must be between 0 and 1")
	}
	if strings.TrimSpace(rec.MutationCommand.Operation) == "" {
		return apperrors.Validationf("mutation_command.operation is required")
	}
	if rec.MutationCommand.Kind == "" {
		rec.MutationCommand.Kind = models.ResolveCommandKind(rec.MutationCommand.Operation)
	}
	if !rec.MutationCommand.IsExecutable() {
		return apperrors.Validationf("mutation_command.operation %q is not executable", rec.MutationCommand.Operation)
	}
	return nil
}

func (q *approvalQueue) Create(ctx context.Context, rec *models.ChangeRecord) (*models.ChangeRecord, error) {
	if err := validateNewChange(rec); err != nil {
		return nil, err
	}
	rec.Status = models.ChangeStatusPending
	if rec.Source == "" {
		rec.Source = models.ChangeSourceManual
	}

	if err := q.changeRepo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to queue change: %w", err)
	}

	q.metrics.ObserveProposals(rec.Source, 1)
	q.activity.Record(ctx, &models.ActivityEntry{
		CredentialID: credentialRef(rec.CredentialID),
		Action:       models.ActivityChangeQueued,
		Category:     models.ActivityCategoryApprovals,
		Description:  fmt.Sprintf("Queued %s for %s %s", rec.ChangeType, rec.EntityType, rec.DisplayName()),
		EntityType:   models.ActivityEntityChange,
		EntityID:     rec.ID.String(),
	})

	q.logger.Info("Queued change",
		zap.String("change_id", rec.ID.String()),
		zap.String("change_type", rec.ChangeType),
		zap.String("source", rec.Source))
	return rec, nil
}

func (q *approvalQueue) Get(ctx context.Context, id uuid.UUID) (*models.ChangeRecord, error) {
	rec, err := q.changeRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get change: %w", err)
	}
	if rec == nil {
		return nil, apperrors.NotFoundf("change %s", id)
	}
	return rec, nil
}

func (q *approvalQueue) List(ctx context.Context, filter models.ChangeFilter) ([]*models.ChangeRecord, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}
	filter.OldestFirst = false

	recs, err := q.changeRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	return recs, nil
}

func (q *approvalQueue) Summary(ctx context.Context, filter models.ChangeFilter) (*models.ChangeSummary, error) {
	summary, err := q.changeRepo.Summary(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize changes: %w", err)
	}
	return summary, nil
}

func (q *approvalQueue) reviewUpdate(note string) models.StatusUpdate {
	now := q.now().UTC()
	update := models.StatusUpdate{ReviewedAt: &now}
	if note != "" {
		update.ReviewNote = &note
	}
	return update
}

func (q *approvalQueue) Review(ctx context.Context, id uuid.UUID, action, note string) (*models.ChangeRecord, error) {
	status, ok := models.ReviewStatus(action)
	if !ok {
		return nil, apperrors.Validationf("action must be 'approve' or 'reject'")
	}

	rec, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.ChangeStatusPending {
		return nil, apperrors.InvalidStatef("change is already %s", rec.Status)
	}

	updated, err := q.changeRepo.Transition(ctx, id, models.ChangeStatusPending, status, q.reviewUpdate(note))
	if err != nil {
		return nil, fmt.Errorf("failed to review change: %w", err)
	}
	if updated == nil {
		// Another reviewer won the race between the read and the update.
		current, err := q.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.InvalidStatef("change is already %s", current.Status)
	}

	q.metrics.ObserveReviews(action, 1)
	q.activity.Record(ctx, &models.ActivityEntry{
		CredentialID: credentialRef(updated.CredentialID),
		Action:       models.ReviewActivityAction(action),
		Category:     models.ActivityCategoryApprovals,
		Description:  fmt.Sprintf("%s %s for %s", titleCase(models.ReviewPastTense(action)), updated.ChangeType, updated.DisplayName()),
		Details:      mergeDetails(map[string]any{"review_note": note}, models.ProvenanceDetails(ctx)),
		EntityType:   models.ActivityEntityChange,
		EntityID:     updated.ID.String(),
	})

	q.logger.Info("Reviewed change",
		zap.String("change_id", id.String()),
		zap.String("status", status))
	return updated, nil
}

func (q *approvalQueue) BatchReview(ctx context.Context, ids []uuid.UUID, action, note string) (int, error) {
	status, ok := models.ReviewStatus(action)
	if !ok {
		return 0, apperrors.Validationf("action must be 'approve' or 'reject'")
	}
	if len(ids) == 0 {
		return 0, apperrors.Validationf("change_ids is required")
	}

	moved, err := q.changeRepo.TransitionMany(ctx, ids, models.ChangeStatusPending, status, q.reviewUpdate(note))
	if err != nil {
		return 0, fmt.Errorf("failed to batch review changes: %w", err)
	}
	if len(moved) == 0 {
		return 0, nil
	}

	movedIDs := make([]any, len(moved))
	for i, id := range moved {
		movedIDs[i] = id.String()
	}

	// All records of one review share a credential; the first one attributes the entry.
	var credentialID *uuid.UUID
	if first, err := q.changeRepo.GetByID(ctx, moved[0]); err == nil && first != nil {
		credentialID = credentialRef(first.CredentialID)
	}

	q.metrics.ObserveReviews(action, len(moved))
	q.activity.Record(ctx, &models.ActivityEntry{
		CredentialID: credentialID,
		Action:       models.BatchReviewAction(action),
		Category:     models.ActivityCategoryApprovals,
		Description:  fmt.Sprintf("Batch %s %d changes", models.ReviewPastTense(action), len(moved)),
		Details:      mergeDetails(map[string]any{"change_ids": movedIDs}, models.ProvenanceDetails(ctx)),
	})

	q.logger.Info("Batch reviewed changes",
		zap.Int("requested", len(ids)),
		zap.Int("moved", len(moved)),
		zap.String("status", status))
	return len(moved), nil
}

func (q *approvalQueue) Delete(ctx context.Context, id uuid.UUID) error {
	rec, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if !models.IsDeletable(rec.Status) {
		return apperrors.InvalidStatef("Cannot delete a %s change", rec.Status)
	}

	deleted, err := q.changeRepo.DeleteIfStatus(ctx, id, models.DeletableStatuses())
	if err != nil {
		return fmt.Errorf("failed to delete change: %w", err)
	}
	if !deleted {
		current, err := q.Get(ctx, id)
		if err != nil {
			return err
		}
		return apperrors.InvalidStatef("Cannot delete a %s change", current.Status)
	}

	q.logger.Info("Deleted change", zap.String("change_id", id.String()))
	return nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
