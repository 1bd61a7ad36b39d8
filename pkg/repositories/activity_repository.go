package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/adpilot/pkg/models"
)

// ActivityRepository provides data access for the activity log.
type ActivityRepository interface {
	// Create appends one activity entry.
	Create(ctx context.Context, entry *models.ActivityEntry) error

	// ListRecent returns the newest entries, optionally limited to one credential.
	ListRecent(ctx context.Context, credentialID *uuid.UUID, limit int) ([]*models.ActivityEntry, error)
}

type activityRepository struct {
	db Querier
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db Querier) ActivityRepository {
	return &activityRepository{db: db}
}

var _ ActivityRepository = (*activityRepository)(nil)

func (r *activityRepository) Create(ctx context.Context, entry *models.ActivityEntry) error {
	if entry.Status == "" {
		entry.Status = models.ActivityStatusSuccess
	}

	query := `
		INSERT INTO activity_log (
			credential_id, action, category, description, details,
			entity_type, entity_id, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		entry.CredentialID,
		entry.Action,
		entry.Category,
		nullableString(entry.Description),
		jsonbValueMap(entry.Details),
		nullableString(entry.EntityType),
		nullableString(entry.EntityID),
		entry.Status,
		time.Now(),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create activity entry: %w", err)
	}
	return nil
}

func (r *activityRepository) ListRecent(ctx context.Context, credentialID *uuid.UUID, limit int) ([]*models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, credential_id, action, category, description, details,
		       entity_type, entity_id, status, created_at
		FROM activity_log
		WHERE ($1::uuid IS NULL OR credential_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, credentialID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.ActivityEntry, 0)
	for rows.Next() {
		var e models.ActivityEntry
		var description, entityType, entityID *string
		var details []byte
		if err := rows.Scan(
			&e.ID,
			&e.CredentialID,
			&e.Action,
			&e.Category,
			&description,
			&details,
			&entityType,
			&entityID,
			&e.Status,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		e.Description = derefString(description)
		e.EntityType = derefString(entityType)
		e.EntityID = derefString(entityID)
		if len(details) > 0 && string(details) != "null" {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity: %w", err)
	}
	return entries, nil
}
