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

const batchTimestampLayout = "20060102150405"

// HarvestSource is one source campaign of a harvest proposal.
type HarvestSource struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name,omitempty"`
}

// HarvestProposal describes a harvest configuration to queue for approval,
// one change record per source campaign. Params.SourceCampaignID is set per source.
type HarvestProposal struct {
	ConfigName         string               `json:"config_name"`
	Sources            []HarvestSource      `json:"sources"`
	Params             models.HarvestParams `json:"params"`
	TargetCampaignName string               `json:"target_campaign_name,omitempty"`
}

// ProposalService turns engine output into pending change records.
type ProposalService interface {
	// ProposeBidChanges queues one bid_update record per change as a single batch.
	ProposeBidChanges(ctx context.Context, scope models.Scope, ruleName string, changes []models.BidChange) ([]*models.ChangeRecord, error)

	// ProposeHarvest queues one harvest record per source campaign as a single batch.
	ProposeHarvest(ctx context.Context, scope models.Scope, proposal HarvestProposal) ([]*models.ChangeRecord, error)
}

type proposalService struct {
	changeRepo repositories.ChangeRecordRepository
	activity   ActivityRecorder
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *zap.Logger
}

// ProposalServiceDeps contains dependencies for ProposalService.
type ProposalServiceDeps struct {
	ChangeRepo repositories.ChangeRecordRepository
	Activity   ActivityRecorder
	Metrics    *metrics.Metrics // Optional
	Now        func() time.Time // Optional: defaults to time.Now
	Logger     *zap.Logger
}

// NewProposalService creates a new ProposalService.
func NewProposalService(deps *ProposalServiceDeps) ProposalService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &proposalService{
		changeRepo: deps.ChangeRepo,
		activity:   deps.Activity,
		metrics:    deps.Metrics,
		now:        now,
		logger:     deps.Logger.Named("proposal-service"),
	}
}

var _ ProposalService = (*proposalService)(nil)

func batchSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "-")
	if slug == "" {
		return "default"
	}
	return slug
}

// newBatchID names a proposal batch by origin, slug and time. The random
// suffix keeps two proposals made in the same second in separate batches.
func newBatchID(origin, name string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%s", origin, batchSlug(name), at.UTC().Format(batchTimestampLayout), uuid.NewString()[:8])
}

func (s *proposalService) ProposeBidChanges(ctx context.Context, scope models.Scope, ruleName string, changes []models.BidChange) ([]*models.ChangeRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return []*models.ChangeRecord{}, nil
	}
	if ruleName == "" {
		ruleName = "default"
	}

	batchID := newBatchID("optimizer", ruleName, s.now())
	label := "Bid optimizer: " + ruleName

	recs := make([]*models.ChangeRecord, 0, len(changes))
	for _, c := range changes {
		if c.TargetID == "" {
			return nil, apperrors.Validationf("bid change without target_id")
		}
		detail := map[string]any{
			"current_bid": c.CurrentBid,
			"new_bid":     c.NewBid,
			"change":      c.Change,
			"direction":   c.Direction,
			"clicks":      c.Clicks,
			"spend":       c.Spend,
			"sales":       c.Sales,
			"rule":        ruleName,
		}
		if c.CurrentACOS != nil {
			detail["current_acos"] = *c.CurrentACOS
		}
		recs = append(recs, &models.ChangeRecord{
			CredentialID:    scope.CredentialID,
			ProfileID:       scope.ProfilePtr(),
			ChangeType:      models.ChangeTypeBidUpdate,
			EntityType:      models.EntityTypeTarget,
			EntityID:        c.TargetID,
			EntityName:      c.Keyword,
			CampaignID:      c.CampaignID,
			CurrentValue:    fmt.Sprintf("$%.2f", c.CurrentBid),
			ProposedValue:   fmt.Sprintf("$%.2f", c.NewBid),
			ChangeDetail:    detail,
			MutationCommand: models.BidUpdateCommand(c.TargetID, c.NewBid),
			Source:          models.ChangeSourceBidOptimizer,
			Reasoning:       c.Reason,
			Status:          models.ChangeStatusPending,
			BatchID:         batchID,
			BatchLabel:      label,
		})
	}

	if err := s.changeRepo.CreateBatch(ctx, recs); err != nil {
		return nil, fmt.Errorf("failed to queue bid changes: %w", err)
	}

	for _, c := range changes {
		s.metrics.ObserveBidChange(c.Direction)
	}
	s.metrics.ObserveProposals(models.ChangeSourceBidOptimizer, len(recs))
	s.activity.Record(ctx, &models.ActivityEntry{
		CredentialID: credentialRef(scope.CredentialID),
		Action:       models.ActivityProposalsBatch,
		Category:     models.ActivityCategoryOptimizer,
		Description:  fmt.Sprintf("Queued %d bid changes for approval (%s)", len(recs), label),
		Details:      map[string]any{"batch_id": batchID, "count": len(recs), "rule": ruleName},
	})

	s.logger.Info("Queued bid changes",
		zap.String("batch_id", batchID),
		zap.Int("count", len(recs)))
	return recs, nil
}

func (s *proposalService) ProposeHarvest(ctx context.Context, scope models.Scope, proposal HarvestProposal) ([]*models.ChangeRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(proposal.ConfigName) == "" {
		return nil, apperrors.Validationf("config_name is required")
	}
	if len(proposal.Sources) == 0 {
		return nil, apperrors.Validationf("at least one source campaign is required")
	}

	batchID := newBatchID("harvest", proposal.ConfigName, s.now())
	label := "Harvest: " + proposal.ConfigName
	targetDesc := harvestTargetDescription(proposal)

	recs := make([]*models.ChangeRecord, 0, len(proposal.Sources))
	for _, src := range proposal.Sources {
		params := proposal.Params
		params.SourceCampaignID = src.CampaignID
		if err := ValidateHarvestParams(params); err != nil {
			return nil, fmt.Errorf("source campaign %q: %w", src.CampaignID, err)
		}

		var command models.MutationCommand
		switch {
		case params.Mode() == models.HarvestModeExisting:
			command = models.HarvestExistingCommand(params)
		case params.NegateInSource:
			command = models.HarvestNewNegatingCommand(params)
		default:
			command = models.HarvestNewCommand(params.SourceCampaignID, params.SalesThreshold, params.ACOSThreshold)
		}

		name := src.CampaignName
		if name == "" {
			name = src.CampaignID
		}
		detail := map[string]any{
			"config_name":            proposal.ConfigName,
			"target_mode":            params.Mode(),
			"negate_in_source":       params.NegateInSource,
			"sales_threshold":        params.SalesThreshold,
			"source_campaigns_count": len(proposal.Sources),
		}
		if params.ACOSThreshold != nil {
			detail["acos_threshold"] = *params.ACOSThreshold
		}
		if params.ClicksThreshold != nil {
			detail["clicks_threshold"] = *params.ClicksThreshold
		}
		if params.MatchType != "" {
			detail["match_type"] = params.MatchType
		}
		if params.TargetCampaignID != "" {
			detail["target_campaign_id"] = params.TargetCampaignID
		}

		recs = append(recs, &models.ChangeRecord{
			CredentialID:    scope.CredentialID,
			ProfileID:       scope.ProfilePtr(),
			ChangeType:      models.ChangeTypeHarvest,
			EntityType:      models.EntityTypeCampaign,
			EntityID:        src.CampaignID,
			EntityName:      name,
			CampaignID:      src.CampaignID,
			CampaignName:    src.CampaignName,
			CurrentValue:    "auto campaign",
			ProposedValue:   harvestProposedValue(params, targetDesc),
			ChangeDetail:    detail,
			MutationCommand: command,
			Source:          models.ChangeSourceHarvester,
			Reasoning:       harvestReasoning(name, params, targetDesc),
			Status:          models.ChangeStatusPending,
			BatchID:         batchID,
			BatchLabel:      label,
		})
	}

	if err := s.changeRepo.CreateBatch(ctx, recs); err != nil {
		return nil, fmt.Errorf("failed to queue harvest: %w", err)
	}

	s.metrics.ObserveProposals(models.ChangeSourceHarvester, len(recs))
	s.activity.Record(ctx, &models.ActivityEntry{
		CredentialID: credentialRef(scope.CredentialID),
		Action:       models.ActivityProposalsBatch,
		Category:     models.ActivityCategoryHarvest,
		Description:  fmt.Sprintf("Queued harvest '%s' for approval (%d campaigns) %s", proposal.ConfigName, len(recs), targetDesc),
		Details: map[string]any{
			"batch_id":         batchID,
			"count":            len(recs),
			"target_mode":      proposal.Params.Mode(),
			"negate_in_source": proposal.Params.NegateInSource,
		},
	})

	s.logger.Info("Queued harvest",
		zap.String("batch_id", batchID),
		zap.Int("count", len(recs)))
	return recs, nil
}

func harvestTargetDescription(p HarvestProposal) string {
	if p.Params.Mode() != models.HarvestModeExisting {
		return "-> new manual campaign"
	}
	name := p.TargetCampaignName
	if name == "" {
		name = p.Params.TargetCampaignID
	}
	return "-> " + name
}

func harvestProposedValue(p models.HarvestParams, targetDesc string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Harvest keywords (sales >= %g", p.SalesThreshold)
	if p.ACOSThreshold != nil {
		fmt.Fprintf(&b, ", ACOS <= %g%%", *p.ACOSThreshold)
	}
	b.WriteString(") ")
	b.WriteString(targetDesc)
	if p.NegateInSource {
		b.WriteString(" + negate in source")
	}
	return b.String()
}

func harvestReasoning(campaignName string, p models.HarvestParams, targetDesc string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Harvest high-performing keywords from '%s' %s. Thresholds: sales >= %g", campaignName, targetDesc, p.SalesThreshold)
	if p.ACOSThreshold != nil {
		fmt.Fprintf(&b, ", ACOS <= %g%%", *p.ACOSThreshold)
	}
	if p.ClicksThreshold != nil {
		fmt.Fprintf(&b, ", clicks >= %d", *p.ClicksThreshold)
	}
	b.WriteString(".")
	if p.NegateInSource {
		b.WriteString(" Harvested keywords will be negated in the source campaign.")
	}
	return b.String()
}
