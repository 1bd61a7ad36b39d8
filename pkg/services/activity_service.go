package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/models"
	"github.com/ekaya-inc/adpilot/pkg/repositories"
)

// ActivityRecorder writes the user-visible activity log.
// Recording never fails the operation being recorded.
type ActivityRecorder interface {
	// Record appends one entry. Errors are logged, not returned.
	Record(ctx context.Context, entry *models.ActivityEntry)

	// ListRecent returns the newest entries, optionally limited to one credential.
	ListRecent(ctx context.Context, credentialID *uuid.UUID, limit int) ([]*models.ActivityEntry, error)
}

type activityRecorder struct {
	repo   repositories.ActivityRepository
	logger *zap.Logger
}

// NewActivityRecorder creates a new ActivityRecorder.
func NewActivityRecorder(repo repositories.ActivityRepository, logger *zap.Logger) ActivityRecorder {
	return &activityRecorder{
		repo:   repo,
		logger: logger.Named("activity-recorder"),
	}
}

var _ ActivityRecorder = (*activityRecorder)(nil)

func (r *activityRecorder) Record(ctx context.Context, entry *models.ActivityEntry) {
	if entry.Status == "" {
		entry.Status = models.ActivityStatusSuccess
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("Failed to record activity",
			zap.String("action", entry.Action),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err))
	}
}

func (r *activityRecorder) ListRecent(ctx context.Context, credentialID *uuid.UUID, limit int) ([]*models.ActivityEntry, error) {
	entries, err := r.repo.ListRecent(ctx, credentialID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return entries, nil
}

// credentialRef returns a pointer suitable for ActivityEntry.CredentialID.
func credentialRef(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// mergeDetails combines activity detail maps; later maps win on key clashes.
func mergeDetails(parts ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, p := range parts {
		for k, v := range p {
			out[k] = v
		}
	}
	return out
}
