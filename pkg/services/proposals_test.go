package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/models"
)

var proposalTime = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func newTestProposalService(repo *mockChangeRecordRepository, activity *mockActivityRecorder) ProposalService {
	return NewProposalService(&ProposalServiceDeps{
		ChangeRepo: repo,
		Activity:   activity,
		Now:        fixedClock(proposalTime),
		Logger:     zap.NewNop(),
	})
}

func testScope() models.Scope {
	return models.Scope{CredentialID: testCredentialID, ProfileID: "PROFILE-1"}
}

func TestProposeBidChanges(t *testing.T) {
	repo := newMockChangeRecordRepository()
	activity := &mockActivityRecorder{}
	svc := newTestProposalService(repo, activity)

	changes := []models.BidChange{
		{TargetID: "T1", CampaignID: "C1", Keyword: "running shoes", CurrentBid: 1, NewBid: 0.9, Change: -0.1,
			Direction: models.BidDirectionDecrease, Reason: "ACOS 50.0% > target 30.0% (high)", CurrentACOS: ptrFloat(50), Clicks: 20, Spend: 10, Sales: 20},
		{TargetID: "T2", CampaignID: "C1", Keyword: "trail shoes", CurrentBid: 0.5, NewBid: 0.6, Change: 0.1,
			Direction: models.BidDirectionIncrease, Reason: "ACOS 10.0% well below target (room to grow)", CurrentACOS: ptrFloat(10), Clicks: 30, Spend: 5, Sales: 50},
	}

	recs, err := svc.ProposeBidChanges(context.Background(), testScope(), "Summer Push", changes)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0]
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.Equal(t, models.ChangeStatusPending, first.Status)
	assert.Equal(t, models.ChangeSourceBidOptimizer, first.Source)
	assert.Equal(t, models.ChangeTypeBidUpdate, first.ChangeType)
	assert.Equal(t, models.EntityTypeTarget, first.EntityType)
	assert.Equal(t, "T1", first.EntityID)
	assert.Equal(t, "running shoes", first.EntityName)
	assert.Equal(t, "$1.00", first.CurrentValue)
	assert.Equal(t, "$0.90", first.ProposedValue)
	assert.Equal(t, "ACOS 50.0% > target 30.0% (high)", first.Reasoning)
	assert.Regexp(t, `^optimizer-summer-push-20260203040506-[0-9a-f]{8}$`, first.BatchID)
	assert.Equal(t, "Bid optimizer: Summer Push", first.BatchLabel)
	require.NotNil(t, first.ProfileID)
	assert.Equal(t, "PROFILE-1", *first.ProfileID)
	assert.Equal(t, 50.0, first.ChangeDetail["current_acos"])
	assert.Equal(t, models.BidUpdateCommand("T1", 0.9), first.MutationCommand)

	assert.Equal(t, first.BatchID, recs[1].BatchID)
	assert.NotNil(t, repo.get(recs[1].ID))

	require.Len(t, activity.entries, 1)
	entry := activity.entries[0]
	assert.Equal(t, models.ActivityProposalsBatch, entry.Action)
	assert.Equal(t, models.ActivityCategoryOptimizer, entry.Category)
	assert.Equal(t, "Queued 2 bid changes for approval (Bid optimizer: Summer Push)", entry.Description)
	assert.Equal(t, first.BatchID, entry.Details["batch_id"])
}

func TestProposeBidChanges_Empty(t *testing.T) {
	repo := newMockChangeRecordRepository()
	activity := &mockActivityRecorder{}

	recs, err := newTestProposalService(repo, activity).ProposeBidChanges(context.Background(), testScope(), "", nil)

	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, repo.records)
	assert.Empty(t, activity.entries)
}

func TestProposeBidChanges_Errors(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		svc := newTestProposalService(newMockChangeRecordRepository(), &mockActivityRecorder{})
		_, err := svc.ProposeBidChanges(context.Background(), models.Scope{}, "r", []models.BidChange{{TargetID: "T1"}})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("missing target id", func(t *testing.T) {
		repo := newMockChangeRecordRepository()
		svc := newTestProposalService(repo, &mockActivityRecorder{})
		_, err := svc.ProposeBidChanges(context.Background(), testScope(), "r",
			[]models.BidChange{{TargetID: "T1", NewBid: 1}, {NewBid: 2}})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Empty(t, repo.records)
	})

	t.Run("store failure", func(t *testing.T) {
		repo := newMockChangeRecordRepository()
		repo.createBatchErr = errors.New("deadlock detected")
		activity := &mockActivityRecorder{}
		svc := newTestProposalService(repo, activity)
		_, err := svc.ProposeBidChanges(context.Background(), testScope(), "r", []models.BidChange{{TargetID: "T1", NewBid: 1}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to queue bid changes")
		assert.Empty(t, activity.entries)
	})
}

func TestProposeHarvest_ExistingMode(t *testing.T) {
	repo := newMockChangeRecordRepository()
	activity := &mockActivityRecorder{}
	svc := newTestProposalService(repo, activity)

	recs, err := svc.ProposeHarvest(context.Background(), testScope(), HarvestProposal{
		ConfigName: "Weekly",
		Sources: []HarvestSource{
			{CampaignID: "AUTO-1", CampaignName: "Shoes Auto"},
			{CampaignID: "AUTO-2"},
		},
		Params: models.HarvestParams{
			TargetMode:       models.HarvestModeExisting,
			TargetCampaignID: "MANUAL",
			SalesThreshold:   2,
			ACOSThreshold:    ptrFloat(35),
			ClicksThreshold:  ptrInt(5),
			NegateInSource:   true,
		},
		TargetCampaignName: "Shoes Manual",
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0]
	assert.Equal(t, models.ChangeTypeHarvest, first.ChangeType)
	assert.Equal(t, models.EntityTypeCampaign, first.EntityType)
	assert.Equal(t, models.ChangeSourceHarvester, first.Source)
	assert.Equal(t, "AUTO-1", first.EntityID)
	assert.Equal(t, "Shoes Auto", first.EntityName)
	assert.Equal(t, "auto campaign", first.CurrentValue)
	assert.Equal(t, "Harvest keywords (sales >= 2, ACOS <= 35%) -> Shoes Manual + negate in source", first.ProposedValue)
	assert.Equal(t, "Harvest high-performing keywords from 'Shoes Auto' -> Shoes Manual. Thresholds: sales >= 2, ACOS <= 35%, clicks >= 5. Harvested keywords will be negated in the source campaign.", first.Reasoning)
	assert.Regexp(t, `^harvest-weekly-20260203040506-[0-9a-f]{8}$`, first.BatchID)
	assert.Equal(t, "Harvest: Weekly", first.BatchLabel)

	cmd := first.MutationCommand
	assert.Equal(t, models.OperationHarvestExecute, cmd.Operation)
	assert.Equal(t, models.CommandKindHarvestExisting, cmd.Kind)
	assert.Equal(t, "AUTO-1", cmd.Arguments["source_campaign_id"])
	assert.Equal(t, "MANUAL", cmd.Arguments["target_campaign_id"])
	assert.Equal(t, 35.0, cmd.Arguments["acos_threshold"])
	assert.Equal(t, 5, cmd.Arguments["clicks_threshold"])

	assert.Equal(t, "AUTO-2", recs[1].EntityName)
	assert.Equal(t, "AUTO-2", recs[1].MutationCommand.Arguments["source_campaign_id"])

	require.Len(t, activity.entries, 1)
	assert.Equal(t, models.ActivityCategoryHarvest, activity.entries[0].Category)
	assert.Equal(t, "Queued harvest 'Weekly' for approval (2 campaigns) -> Shoes Manual", activity.entries[0].Description)
}

func TestProposeHarvest_NewMode(t *testing.T) {
	svc := newTestProposalService(newMockChangeRecordRepository(), &mockActivityRecorder{})

	recs, err := svc.ProposeHarvest(context.Background(), testScope(), HarvestProposal{
		ConfigName: "Launch",
		Sources:    []HarvestSource{{CampaignID: "AUTO-1"}},
		Params:     models.HarvestParams{SalesThreshold: 1.5},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "Harvest keywords (sales >= 1.5) -> new manual campaign", rec.ProposedValue)
	assert.Equal(t, models.ToolCreateHarvestTargets, rec.MutationCommand.Operation)
	assert.Equal(t, models.CommandKindSingleCall, rec.MutationCommand.Kind)
	assert.Equal(t, models.HarvestNewCommand("AUTO-1", 1.5, nil), rec.MutationCommand)
}

func TestProposeHarvest_NewModeWithNegation(t *testing.T) {
	svc := newTestProposalService(newMockChangeRecordRepository(), &mockActivityRecorder{})

	recs, err := svc.ProposeHarvest(context.Background(), testScope(), HarvestProposal{
		ConfigName: "Launch",
		Sources:    []HarvestSource{{CampaignID: "AUTO-1"}},
		Params:     models.HarvestParams{SalesThreshold: 1.5, NegateInSource: true},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "Harvest keywords (sales >= 1.5) -> new manual campaign + negate in source", rec.ProposedValue)
	assert.Equal(t, models.OperationHarvestExecute, rec.MutationCommand.Operation)
	assert.Equal(t, models.CommandKindHarvestExisting, rec.MutationCommand.Kind)
	assert.Equal(t, models.HarvestModeNew, rec.MutationCommand.Arguments["target_mode"])
	assert.Equal(t, true, rec.MutationCommand.Arguments["negate_in_source"])
}

func TestProposeHarvest_Validation(t *testing.T) {
	tests := []struct {
		name     string
		proposal HarvestProposal
	}{
		{name: "missing config name", proposal: HarvestProposal{Sources: []HarvestSource{{CampaignID: "A"}}}},
		{name: "no sources", proposal: HarvestProposal{ConfigName: "x"}},
		{name: "blank source id", proposal: HarvestProposal{ConfigName: "x", Sources: []HarvestSource{{CampaignID: " "}}}},
		{name: "unknown match type", proposal: HarvestProposal{
			ConfigName: "x",
			Sources:    []HarvestSource{{CampaignID: "A"}},
			Params:     models.HarvestParams{MatchType: "sideways"},
		}},
		{name: "existing without destination", proposal: HarvestProposal{
			ConfigName: "x",
			Sources:    []HarvestSource{{CampaignID: "A"}},
			Params:     models.HarvestParams{TargetMode: models.HarvestModeExisting},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockChangeRecordRepository()
			_, err := newTestProposalService(repo, &mockActivityRecorder{}).ProposeHarvest(context.Background(), testScope(), tt.proposal)

			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Empty(t, repo.records)
		})
	}
}

// Optimizer output flows through review and execution without the command
// being rebuilt.
func TestOptimizeProposeApprove_Apply(t *testing.T) {
	rule := models.DefaultBidRule()
	result := Optimize([]models.TargetMetric{
		enabledTarget("T1", 1.0, 20, 10, 20),
		enabledTarget("T2", 1.0, 20, 1, 100),
		enabledTarget("T3", 1.0, 2, 10, 0),
	}, rule)
	require.Len(t, result.Changes, 2)

	f := newPipelineFixture(okHandler)
	scope := models.Scope{CredentialID: testCredentialID}
	svc := newTestProposalService(f.repo, f.activity)
	queue := newTestApprovalQueue(f.repo, f.activity, proposalTime)

	recs, err := svc.ProposeBidChanges(context.Background(), scope, "default", result.Changes)
	require.NoError(t, err)

	n, err := queue.BatchReview(context.Background(), idsOf(recs...), models.ReviewActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	report, err := f.pipeline.Apply(context.Background(), models.ApplyRequest{BatchID: recs[0].BatchID})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)

	calls := f.conn.callsTo(models.ToolUpdateTargetBid)
	require.Len(t, calls, 2)
	for i, call := range calls {
		body := targetsBody(call.Args)
		require.Len(t, body, 1)
		assert.Equal(t, result.Changes[i].TargetID, body[0]["targetId"])
		assert.Equal(t, result.Changes[i].NewBid, body[0]["bid"])
	}

	assert.Equal(t, []string{
		models.ActivityProposalsBatch,
		"batch_change_approved",
		models.ActivityChangesApplied,
	}, f.activity.actions())
}

func TestProposeBidChanges_SameSecondBatchesStayDistinct(t *testing.T) {
	rule := models.DefaultBidRule()
	result := Optimize([]models.TargetMetric{enabledTarget("T1", 1.0, 20, 10, 20)}, rule)
	require.Len(t, result.Changes, 1)

	f := newPipelineFixture(okHandler)
	svc := newTestProposalService(f.repo, f.activity)
	queue := newTestApprovalQueue(f.repo, f.activity, proposalTime)

	mine, err := svc.ProposeBidChanges(context.Background(), models.Scope{CredentialID: testCredentialID}, "default", result.Changes)
	require.NoError(t, err)
	theirs, err := svc.ProposeBidChanges(context.Background(), models.Scope{CredentialID: uuid.New()}, "default", result.Changes)
	require.NoError(t, err)
	require.NotEqual(t, mine[0].BatchID, theirs[0].BatchID)

	_, err = queue.BatchReview(context.Background(), idsOf(mine[0], theirs[0]), models.ReviewActionApprove, "")
	require.NoError(t, err)

	report, err := f.pipeline.Apply(context.Background(), models.ApplyRequest{BatchID: mine[0].BatchID})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, models.ChangeStatusApplied, f.repo.get(mine[0].ID).Status)
	assert.Equal(t, models.ChangeStatusApproved, f.repo.get(theirs[0].ID).Status)
}
