package models

import (
	"time"

	"github.com/google/uuid"
)

// Change type constants.
const (
	ChangeTypeBidUpdate          = "bid_update"
	ChangeTypeBudgetUpdate       = "budget_update"
	ChangeTypeCampaignState      = "campaign_state"
	ChangeTypeTargetState        = "target_state"
	ChangeTypeTargetCreate       = "target_create"
	ChangeTypeTargetDelete       = "target_delete"
	ChangeTypeAdGroupUpdate      = "ad_group_update"
	ChangeTypeAdGroupCreate      = "ad_group_create"
	ChangeTypeAdGroupDelete      = "ad_group_delete"
	ChangeTypeAdUpdate           = "ad_update"
	ChangeTypeAdCreate           = "ad_create"
	ChangeTypeAdDelete           = "ad_delete"
	ChangeTypeCampaignCreate     = "campaign_create"
	ChangeTypeCampaignUpdate     = "campaign_update"
	ChangeTypeCampaignDelete     = "campaign_delete"
	ChangeTypeCampaignAddCountry = "campaign_add_country"
	ChangeTypeCampaignBundle     = "campaign_bundle"
	ChangeTypeHarvest            = "harvest"
)

// Entity type constants.
const (
	EntityTypeCampaign = "campaign"
	EntityTypeAdGroup  = "ad_group"
	EntityTypeTarget   = "target"
	EntityTypeAd       = "ad"
)

// Change source constants.
const (
	ChangeSourceManual       = "manual"
	ChangeSourceAIChat       = "ai_chat"
	ChangeSourceAIOptimizer  = "ai_optimizer"
	ChangeSourceBidOptimizer = "bid_optimizer"
	ChangeSourceHarvester    = "harvester"
)

// Change status constants.
const (
	ChangeStatusPending  = "pending"
	ChangeStatusApproved = "approved"
	ChangeStatusRejected = "rejected"
	ChangeStatusApplied  = "applied"
	ChangeStatusFailed   = "failed"
)

// Review action constants.
const (
	ReviewActionApprove = "approve"
	ReviewActionReject  = "reject"
)

var changeTypes = map[string]bool{
	ChangeTypeBidUpdate: true, ChangeTypeBudgetUpdate: true, ChangeTypeCampaignState: true,
	ChangeTypeTargetState: true, ChangeTypeTargetCreate: true, ChangeTypeTargetDelete: true,
	ChangeTypeAdGroupUpdate: true, ChangeTypeAdGroupCreate: true, ChangeTypeAdGroupDelete: true,
	ChangeTypeAdUpdate: true, ChangeTypeAdCreate: true, ChangeTypeAdDelete: true,
	ChangeTypeCampaignCreate: true, ChangeTypeCampaignUpdate: true, ChangeTypeCampaignDelete: true,
	ChangeTypeCampaignAddCountry: true, ChangeTypeCampaignBundle: true, ChangeTypeHarvest: true,
}

var entityTypes = map[string]bool{
	EntityTypeCampaign: true, EntityTypeAdGroup: true, EntityTypeTarget: true, EntityTypeAd: true,
}

var changeSources = map[string]bool{
	ChangeSourceManual: true, ChangeSourceAIChat: true, ChangeSourceAIOptimizer: true,
	ChangeSourceBidOptimizer: true, ChangeSourceHarvester: true,
}

// IsValidChangeType reports whether t is a known change type.
func IsValidChangeType(t string) bool { return changeTypes[t] }

// IsValidEntityType reports whether t is a known entity type.
func IsValidEntityType(t string) bool { return entityTypes[t] }

// IsValidChangeSource reports whether s is a known change source.
func IsValidChangeSource(s string) bool { return changeSources[s] }

// allowedTransitions is the complete lifecycle state machine.
var allowedTransitions = map[string][]string{
	ChangeStatusPending:  {ChangeStatusApproved, ChangeStatusRejected},
	ChangeStatusApproved: {ChangeStatusApplied, ChangeStatusFailed},
}

// CanTransition reports whether a change record may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsDeletable reports whether a record in the given status may be deleted.
func IsDeletable(status string) bool {
	return status == ChangeStatusPending || status == ChangeStatusRejected
}

// DeletableStatuses lists the statuses a record may be deleted from.
func DeletableStatuses() []string {
	return []string{ChangeStatusPending, ChangeStatusRejected}
}

// ReviewStatus maps a review action to the status it produces.
// Returns false for anything other than approve or reject.
func ReviewStatus(action string) (string, bool) {
	switch action {
	case ReviewActionApprove:
		return ChangeStatusApproved, true
	case ReviewActionReject:
		return ChangeStatusRejected, true
	default:
		return "", false
	}
}

// ChangeRecord is one proposed mutation to the advertising platform awaiting
// review or execution. MutationCommand is fixed at creation and never rebuilt.
type ChangeRecord struct {
	ID           uuid.UUID `json:"id"`
	CredentialID uuid.UUID `json:"credential_id"`
	ProfileID    *string   `json:"profile_id,omitempty"`

	ChangeType   string `json:"change_type"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id,omitempty"`
	EntityName   string `json:"entity_name,omitempty"`
	CampaignID   string `json:"campaign_id,omitempty"`
	CampaignName string `json:"campaign_name,omitempty"`

	CurrentValue    string          `json:"current_value,omitempty"`
	ProposedValue   string          `json:"proposed_value,omitempty"`
	ChangeDetail    map[string]any  `json:"change_detail,omitempty"`
	MutationCommand MutationCommand `json:"mutation_command"`

	Source          string   `json:"source"`
	Reasoning       string   `json:"reasoning,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	EstimatedImpact string   `json:"estimated_impact,omitempty"`

	Status       string         `json:"status"`
	ReviewedAt   *time.Time     `json:"reviewed_at,omitempty"`
	ReviewNote   string         `json:"review_note,omitempty"`
	AppliedAt    *time.Time     `json:"applied_at,omitempty"`
	ApplyResult  map[string]any `json:"apply_result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	BatchID    string `json:"batch_id,omitempty"`
	BatchLabel string `json:"batch_label,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scope returns the credential/profile scope the record belongs to.
func (c *ChangeRecord) Scope() Scope {
	s := Scope{CredentialID: c.CredentialID}
	if c.ProfileID != nil {
		s.ProfileID = *c.ProfileID
	}
	return s
}

// DisplayName returns the entity name, falling back to the entity id.
func (c *ChangeRecord) DisplayName() string {
	if c.EntityName != "" {
		return c.EntityName
	}
	return c.EntityID
}

// StatusUpdate carries the fields written together with a status transition.
// Nil fields are left untouched by the store.
type StatusUpdate struct {
	ReviewedAt   *time.Time
	ReviewNote   *string
	AppliedAt    *time.Time
	ApplyResult  map[string]any
	ErrorMessage *string
}

// ChangeFilter selects change records for listing.
type ChangeFilter struct {
	CredentialID *uuid.UUID
	ProfileID    string
	Status       string
	ChangeType   string
	Source       string
	BatchID      string
	IDs          []uuid.UUID
	Limit        int
	OldestFirst  bool
}

// ChangeSummary aggregates change record counts for the approval queue.
type ChangeSummary struct {
	ByStatus      map[string]int `json:"by_status"`
	ByType        map[string]int `json:"by_type"`
	BySource      map[string]int `json:"by_source"`
	TotalPending  int            `json:"total_pending"`
	TotalApproved int            `json:"total_approved"`
	TotalRejected int            `json:"total_rejected"`
	TotalApplied  int            `json:"total_applied"`
	TotalFailed   int            `json:"total_failed"`
}
