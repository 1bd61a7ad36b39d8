package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/adapters/ads"
	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/jsonutil"
	"github.com/ekaya-inc/adpilot/pkg/logging"
	"github.com/ekaya-inc/adpilot/pkg/metrics"
	"github.com/ekaya-inc/adpilot/pkg/models"
	"github.com/ekaya-inc/adpilot/pkg/repositories"
)

const unknownOperationMessage = "Unknown MCP tool in payload"

// ExecutionPipeline executes approved change records against the platform.
type ExecutionPipeline interface {
	// Apply runs the approved records selected by the request in list order.
	// Every selected record ends applied or failed; nothing is rolled back.
	// A record another pipeline finished first is reported as skipped. Each
	// record runs under a session for its own credential and profile.
	Apply(ctx context.Context, req models.ApplyRequest) (*models.ExecutionReport, error)
}

type executionPipeline struct {
	changeRepo  repositories.ChangeRecordRepository
	sessions    ads.SessionFactory
	harvest     HarvestEngine
	bundle      CampaignBundleExecutor
	activity    ActivityRecorder
	metrics     *metrics.Metrics
	maxErrorLen int
	now         func() time.Time
	logger      *zap.Logger
}

// ExecutionPipelineDeps contains dependencies for ExecutionPipeline.
type ExecutionPipelineDeps struct {
	ChangeRepo            repositories.ChangeRecordRepository
	Sessions              ads.SessionFactory
	Harvest               HarvestEngine          // Optional: defaults to NewHarvestEngine
	Bundle                CampaignBundleExecutor // Optional: defaults to NewCampaignBundleExecutor
	Activity              ActivityRecorder
	Metrics               *metrics.Metrics // Optional
	ErrorMessageMaxLength int              // Optional: defaults to logging.MaxErrorMessageLength
	Now                   func() time.Time // Optional: defaults to time.Now
	Logger                *zap.Logger
}

// NewExecutionPipeline creates a new ExecutionPipeline.
func NewExecutionPipeline(deps *ExecutionPipelineDeps) ExecutionPipeline {
	harvest := deps.Harvest
	if harvest == nil {
		harvest = NewHarvestEngine(deps.Logger, deps.Metrics)
	}
	bundle := deps.Bundle
	if bundle == nil {
		bundle = NewCampaignBundleExecutor(deps.Logger)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &executionPipeline{
		changeRepo:  deps.ChangeRepo,
		sessions:    deps.Sessions,
		harvest:     harvest,
		bundle:      bundle,
		activity:    deps.Activity,
		metrics:     deps.Metrics,
		maxErrorLen: deps.ErrorMessageMaxLength,
		now:         now,
		logger:      deps.Logger.Named("execution-pipeline"),
	}
}

var _ ExecutionPipeline = (*executionPipeline)(nil)

func (p *executionPipeline) Apply(ctx context.Context, req models.ApplyRequest) (*models.ExecutionReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	filter := models.ChangeFilter{
		Status:      models.ChangeStatusApproved,
		IDs:         req.ChangeIDs,
		BatchID:     req.BatchID,
		OldestFirst: true,
	}
	candidates, err := p.changeRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load approved changes: %w", err)
	}

	report := models.NewExecutionReport()
	if len(candidates) == 0 {
		p.logger.Info("No approved changes to apply",
			zap.Int("requested_ids", len(req.ChangeIDs)),
			zap.String("batch_id", req.BatchID))
		return report, nil
	}
	report.Total = len(candidates)

	p.logger.Info("Applying approved changes", zap.Int("count", len(candidates)))

	sessions := newScopeSessions(p.sessions, p.logger)
	defer sessions.closeAll()

	for _, rec := range candidates {
		scope := rec.Scope()
		session, openErr := sessions.get(ctx, scope)
		if openErr != nil {
			p.recordFailure(ctx, report, rec, logging.ErrorMessage(fmt.Errorf("failed to open ads session: %w", openErr), p.maxErrorLen), 0)
			continue
		}
		p.execute(ctx, report, session, rec)
	}

	for _, scope := range sessions.order {
		scoped := report.ForIDs(idsInScope(candidates, scope))
		p.activity.Record(ctx, &models.ActivityEntry{
			CredentialID: credentialRef(scope.CredentialID),
			Action:       models.ActivityChangesApplied,
			Category:     models.ActivityCategoryApprovals,
			Description:  fmt.Sprintf("Applied %d changes to Amazon Ads (%d failed)", scoped.Applied, scoped.Failed),
			Details:      mergeDetails(scoped.ToMap(), models.ProvenanceDetails(ctx)),
			Status:       reportStatus(scoped),
		})
	}

	p.logger.Info("Applied approved changes",
		zap.Int("applied", report.Applied),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("scopes", len(sessions.order)))
	return report, nil
}

func idsInScope(recs []*models.ChangeRecord, scope models.Scope) []uuid.UUID {
	var ids []uuid.UUID
	for _, rec := range recs {
		if rec.Scope().Equal(scope) {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// scopeSessions opens at most one session per scope during a run, so every
// change executes under the account it was proposed for.
type scopeSessions struct {
	factory ads.SessionFactory
	logger  *zap.Logger
	order   []models.Scope
	open    map[models.Scope]*ads.Session
	errs    map[models.Scope]error
}

func newScopeSessions(factory ads.SessionFactory, logger *zap.Logger) *scopeSessions {
	return &scopeSessions{
		factory: factory,
		logger:  logger,
		open:    make(map[models.Scope]*ads.Session),
		errs:    make(map[models.Scope]error),
	}
}

func (s *scopeSessions) get(ctx context.Context, scope models.Scope) (*ads.Session, error) {
	if session, ok := s.open[scope]; ok {
		return session, nil
	}
	if err, ok := s.errs[scope]; ok {
		return nil, err
	}

	s.order = append(s.order, scope)
	session, err := s.factory.Open(ctx, scope)
	if err != nil {
		s.logger.Error("Failed to open ads session",
			zap.String("scope", scope.String()),
			zap.String("error", logging.SanitizeError(err)))
		s.errs[scope] = err
		return nil, err
	}
	s.open[scope] = session
	return session, nil
}

func (s *scopeSessions) closeAll() {
	for _, scope := range s.order {
		session, ok := s.open[scope]
		if !ok {
			continue
		}
		if err := session.Close(); err != nil {
			s.logger.Warn("Failed to close ads session",
				zap.String("scope", scope.String()),
				zap.Error(err))
		}
	}
}

func reportStatus(r *models.ExecutionReport) string {
	switch {
	case r.Failed == 0:
		return models.ActivityStatusSuccess
	case r.Applied == 0:
		return models.ActivityStatusError
	default:
		return models.ActivityStatusPartial
	}
}

// execute runs one record and records its outcome.
func (p *executionPipeline) execute(ctx context.Context, report *models.ExecutionReport, session *ads.Session, rec *models.ChangeRecord) {
	start := time.Now()
	result, warning, err := p.dispatch(ctx, session, rec)
	elapsed := time.Since(start)

	if err != nil {
		p.logger.Warn("Change failed",
			zap.String("change_id", rec.ID.String()),
			zap.String("operation", rec.MutationCommand.Operation),
			zap.String("error", logging.SanitizeError(err)))
		p.recordFailure(ctx, report, rec, logging.ErrorMessage(err, p.maxErrorLen), elapsed)
		return
	}

	if result == nil {
		result = map[string]any{}
	}
	now := p.now().UTC()
	update := models.StatusUpdate{AppliedAt: &now, ApplyResult: result}
	if warning != "" {
		msg := logging.TruncateString(logging.SanitizeMessage(warning), p.errorLimit())
		update.ErrorMessage = &msg
	}

	outcome := models.ExecutionOutcome{ID: rec.ID, ChangeType: rec.ChangeType, Status: models.OutcomeApplied, Warning: warning}
	p.transition(ctx, report, rec, models.ChangeStatusApplied, update, outcome, elapsed)
}

func (p *executionPipeline) errorLimit() int {
	if p.maxErrorLen <= 0 {
		return logging.MaxErrorMessageLength
	}
	return p.maxErrorLen
}

func (p *executionPipeline) recordFailure(ctx context.Context, report *models.ExecutionReport, rec *models.ChangeRecord, msg string, elapsed time.Duration) {
	update := models.StatusUpdate{ErrorMessage: &msg}
	outcome := models.ExecutionOutcome{ID: rec.ID, ChangeType: rec.ChangeType, Status: models.OutcomeFailed, Error: msg}
	p.transition(ctx, report, rec, models.ChangeStatusFailed, update, outcome, elapsed)
}

// transition writes the outcome with a conditional update. A record that is
// no longer approved was finished by a concurrent pipeline and is skipped.
func (p *executionPipeline) transition(ctx context.Context, report *models.ExecutionReport, rec *models.ChangeRecord, to string, update models.StatusUpdate, outcome models.ExecutionOutcome, elapsed time.Duration) {
	updated, err := p.changeRepo.Transition(ctx, rec.ID, models.ChangeStatusApproved, to, update)
	switch {
	case err != nil:
		p.logger.Error("Failed to record change outcome",
			zap.String("change_id", rec.ID.String()),
			zap.String("status", to),
			zap.Error(err))
		outcome.Status = models.OutcomeFailed
		if outcome.Error == "" {
			outcome.Error = logging.ErrorMessage(fmt.Errorf("failed to record outcome: %w", err), p.maxErrorLen)
		}
	case updated == nil:
		p.logger.Warn("Change was no longer approved when recording its outcome",
			zap.String("change_id", rec.ID.String()))
		outcome.Status = models.OutcomeSkipped
	}

	p.metrics.ObserveExecution(rec.ChangeType, string(rec.MutationCommand.Kind), outcome.Status, elapsed)
	report.Add(outcome)
}

// dispatch routes a command to its execution strategy. A panicking executor
// is reported as an error.
func (p *executionPipeline) dispatch(ctx context.Context, session *ads.Session, rec *models.ChangeRecord) (result map[string]any, warning string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Executor panicked",
				zap.String("change_id", rec.ID.String()),
				zap.Any("panic", r))
			result, warning, err = nil, "", fmt.Errorf("executor panicked: %v", r)
		}
	}()

	cmd := rec.MutationCommand
	kind := cmd.Kind
	if cmd.Operation == "" {
		kind = models.CommandKindUnknown
	}

	switch kind {
	case models.CommandKindSingleCall:
		result, err = session.Invoke(ctx, cmd.Operation, cmd.Arguments)
		return result, "", err

	case models.CommandKindHarvestExisting:
		harvest, err := p.harvest.Harvest(ctx, session, harvestParamsFromArgs(cmd.Arguments))
		if err != nil {
			return nil, "", err
		}
		return harvest.ToMap(), "", nil

	case models.CommandKindCampaignBundle:
		plan := models.ParseCampaignPlan(jsonutil.Map(cmd.Arguments["plan"]))
		bundle, err := p.bundle.Execute(ctx, session, plan)
		var partial *apperrors.PartialCompositeError
		if errors.As(err, &partial) && bundle != nil {
			return bundle.ToMap(), partial.Error(), nil
		}
		if err != nil {
			return nil, "", err
		}
		return bundle.ToMap(), "", nil

	default:
		return nil, "", fmt.Errorf("%w: %s", apperrors.ErrUnknownOperation, unknownOperationMessage)
	}
}

// harvestParamsFromArgs reads harvest parameters stored in a command.
func harvestParamsFromArgs(args map[string]any) models.HarvestParams {
	params := models.HarvestParams{
		SourceCampaignID: jsonutil.String(args["source_campaign_id"]),
		TargetMode:       jsonutil.String(args["target_mode"]),
		TargetCampaignID: jsonutil.String(args["target_campaign_id"]),
		TargetAdGroupID:  jsonutil.String(args["target_ad_group_id"]),
		SalesThreshold:   jsonutil.FloatOr(args["sales_threshold"], models.DefaultHarvestSalesThreshold),
		MatchType:        jsonutil.String(args["match_type"]),
		NegateInSource:   true,
	}
	if params.TargetMode == "" {
		params.TargetMode = models.HarvestModeExisting
	}
	if f, ok := jsonutil.Float(args["acos_threshold"]); ok {
		params.ACOSThreshold = &f
	}
	if n, ok := jsonutil.Int(args["clicks_threshold"]); ok {
		params.ClicksThreshold = &n
	}
	if b, ok := jsonutil.Bool(args["negate_in_source"]); ok {
		params.NegateInSource = b
	}
	return params
}
