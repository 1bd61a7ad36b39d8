package models

import (
	"time"

	"github.com/google/uuid"
)

// Activity actions emitted by the approval queue and execution pipeline.
const (
	ActivityChangeQueued   = "change_queued"
	ActivityChangeApproved = "change_approved"
	ActivityChangeRejected = "change_rejected"
	ActivityChangesApplied = "changes_applied"
	ActivityProposalsBatch = "changes_proposed"
)

// Activity categories.
const (
	ActivityCategoryApprovals = "approvals"
	ActivityCategoryOptimizer = "optimizer"
	ActivityCategoryHarvest   = "harvest"
)

// Activity statuses.
const (
	ActivityStatusSuccess = "success"
	ActivityStatusPartial = "partial"
	ActivityStatusError   = "error"
)

// ActivityEntityChange is the entity type recorded for change record activity.
const ActivityEntityChange = "pending_change"

// ActivityEntry is one row of the user-visible activity log.
type ActivityEntry struct {
	ID           uuid.UUID      `json:"id"`
	CredentialID *uuid.UUID     `json:"credential_id,omitempty"`
	Action       string         `json:"action"`
	Category     string         `json:"category"`
	Description  string         `json:"description,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	EntityType   string         `json:"entity_type,omitempty"`
	EntityID     string         `json:"entity_id,omitempty"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ReviewPastTense returns "approved" or "rejected" for a review action.
func ReviewPastTense(action string) string {
	if action == ReviewActionApprove {
		return ChangeStatusApproved
	}
	return ChangeStatusRejected
}

// BatchReviewAction returns the activity action for a batch review.
func BatchReviewAction(action string) string {
	return "batch_change_" + ReviewPastTense(action)
}

// ReviewActivityAction returns the activity action for a single review.
func ReviewActivityAction(action string) string {
	if action == ReviewActionApprove {
		return ActivityChangeApproved
	}
	return ActivityChangeRejected
}
