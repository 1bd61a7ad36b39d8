package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/adapters/ads"
	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/jsonutil"
	"github.com/ekaya-inc/adpilot/pkg/metrics"
	"github.com/ekaya-inc/adpilot/pkg/models"
)

const noQualifiedKeywordsMessage = "No keywords met the harvest thresholds."

// HarvestClient is the slice of the ads session the harvest engine needs.
type HarvestClient interface {
	QueryTargets(ctx context.Context, campaignID, adGroupID string) ([]map[string]any, error)
	QueryAdGroups(ctx context.Context, campaignID string) ([]map[string]any, error)
	CreateTargets(ctx context.Context, targets []map[string]any) (map[string]any, error)
	CreateHarvest(ctx context.Context, requests []map[string]any) (map[string]any, error)
}

var _ HarvestClient = (*ads.Session)(nil)

// HarvestEngine promotes converting keywords from a source campaign into
// keyword targets, optionally negating them in the source.
type HarvestEngine interface {
	Harvest(ctx context.Context, client HarvestClient, params models.HarvestParams) (*models.HarvestResult, error)
}

type harvestEngine struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ HarvestEngine = (*harvestEngine)(nil)

// NewHarvestEngine creates a harvest engine. m may be nil.
func NewHarvestEngine(logger *zap.Logger, m *metrics.Metrics) HarvestEngine {
	return &harvestEngine{
		logger:  logger.Named("harvest-engine"),
		metrics: m,
	}
}

// ValidateHarvestParams checks params before any platform call is made.
func ValidateHarvestParams(params models.HarvestParams) error {
	if err := validateStruct(params); err != nil {
		return err
	}
	if strings.TrimSpace(params.SourceCampaignID) == "" {
		return apperrors.Validationf("source_campaign_id is required")
	}
	if params.Mode() == models.HarvestModeExisting && strings.TrimSpace(params.TargetCampaignID) == "" {
		return apperrors.Validationf("target_campaign_id is required for existing mode")
	}
	return nil
}

func (e *harvestEngine) Harvest(ctx context.Context, client HarvestClient, params models.HarvestParams) (*models.HarvestResult, error) {
	if err := ValidateHarvestParams(params); err != nil {
		return nil, err
	}

	e.logger.Info("Starting harvest",
		zap.String("source_campaign_id", params.SourceCampaignID),
		zap.String("mode", params.Mode()))

	var result *models.HarvestResult
	var err error
	if params.Mode() == models.HarvestModeExisting {
		result, err = e.harvestToExisting(ctx, client, params)
	} else {
		result, err = e.harvestCreateNew(ctx, client, params)
	}
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveHarvest(result.Mode, result.KeywordsHarvested)
	return result, nil
}

func (e *harvestEngine) harvestCreateNew(ctx context.Context, client HarvestClient, params models.HarvestParams) (*models.HarvestResult, error) {
	req := map[string]any{
		"sourceCampaignId": params.SourceCampaignID,
		"salesThreshold":   params.SalesThreshold,
	}
	if params.ACOSThreshold != nil {
		req["acosThreshold"] = *params.ACOSThreshold
	}

	raw, err := client.CreateHarvest(ctx, []map[string]any{req})
	if err != nil {
		return nil, fmt.Errorf("failed to create harvest: %w", err)
	}

	keywords := harvestedKeywords(raw)
	count, ok := harvestedCount(raw)
	if !ok {
		count = len(keywords)
	}

	result := &models.HarvestResult{
		Status:            models.HarvestStatusSuccess,
		Mode:              models.HarvestModeNew,
		SourceCampaignID:  params.SourceCampaignID,
		TargetCampaignID:  harvestedCampaignID(raw),
		KeywordsHarvested: count,
		Keywords:          keywords,
		RawResult:         raw,
	}

	if params.NegateInSource && len(keywords) > 0 {
		result.KeywordsNegatedInSource, result.NegationErrors = e.negateInSource(ctx, client, params.SourceCampaignID, keywords)
	}
	return result, nil
}

func (e *harvestEngine) harvestToExisting(ctx context.Context, client HarvestClient, params models.HarvestParams) (*models.HarvestResult, error) {
	rows, err := client.QueryTargets(ctx, params.SourceCampaignID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to query harvest candidates: %w", err)
	}

	qualified := qualifyCandidates(harvestCandidates(rows), params)

	result := &models.HarvestResult{
		Status:           models.HarvestStatusSuccess,
		Mode:             models.HarvestModeExisting,
		SourceCampaignID: params.SourceCampaignID,
		TargetCampaignID: params.TargetCampaignID,
		Keywords:         qualified,
	}
	if len(qualified) == 0 {
		result.Message = noQualifiedKeywordsMessage
		return result, nil
	}

	adGroupID := params.TargetAdGroupID
	if adGroupID == "" {
		adGroupID, err = firstAdGroupID(ctx, client, params.TargetCampaignID)
		if err != nil {
			return nil, err
		}
		if adGroupID == "" {
			return nil, apperrors.NotFoundf("no ad group found in target campaign %s; create an ad group first", params.TargetCampaignID)
		}
	}
	result.TargetAdGroupID = adGroupID

	targets := make([]map[string]any, 0, len(qualified))
	for _, kw := range qualified {
		entry := keywordTargetEntry(adGroupID, params.TargetCampaignID, kw.Keyword, kw.MatchType)
		if kw.Bid != nil {
			entry["bid"] = *kw.Bid
		}
		targets = append(targets, entry)
	}

	created, err := client.CreateTargets(ctx, targets)
	if err != nil {
		return nil, fmt.Errorf("failed to create harvested targets: %w", err)
	}
	result.CreateResults = []map[string]any{created}
	result.KeywordsHarvested = len(qualified)

	e.logger.Info("Created harvested targets",
		zap.Int("count", len(targets)),
		zap.String("target_campaign_id", params.TargetCampaignID),
		zap.String("target_ad_group_id", adGroupID))

	if params.NegateInSource {
		result.KeywordsNegatedInSource, result.NegationErrors = e.negateInSource(ctx, client, params.SourceCampaignID, qualified)
	}
	return result, nil
}

// negateInSource adds harvested keywords as NEGATIVE_EXACT targets in the
// first ad group of the source campaign. Failures are logged and returned as
// the error count; they never fail the harvest.
func (e *harvestEngine) negateInSource(ctx context.Context, client HarvestClient, sourceCampaignID string, keywords []models.QualifiedKeyword) (negated, failed int) {
	adGroupID, err := firstAdGroupID(ctx, client, sourceCampaignID)
	if err != nil || adGroupID == "" {
		e.logger.Warn("No ad group available for negation in source campaign",
			zap.String("source_campaign_id", sourceCampaignID),
			zap.Error(err))
		return 0, len(keywords)
	}

	negatives := make([]map[string]any, 0, len(keywords))
	for _, kw := range keywords {
		if kw.Keyword == "" {
			continue
		}
		negatives = append(negatives, keywordTargetEntry(adGroupID, sourceCampaignID, kw.Keyword, models.MatchTypeNegativeExact))
	}
	if len(negatives) == 0 {
		return 0, 0
	}

	if _, err := client.CreateTargets(ctx, negatives); err != nil {
		e.logger.Warn("Failed to negate harvested keywords in source campaign",
			zap.String("source_campaign_id", sourceCampaignID),
			zap.Int("count", len(negatives)),
			zap.Error(err))
		return 0, len(negatives)
	}

	e.logger.Info("Negated harvested keywords in source campaign",
		zap.String("source_campaign_id", sourceCampaignID),
		zap.Int("count", len(negatives)))
	return len(negatives), 0
}

func keywordTargetEntry(adGroupID, campaignID, keyword, matchType string) map[string]any {
	return map[string]any{
		"adGroupId":  adGroupID,
		"campaignId": campaignID,
		"keyword":    keyword,
		"matchType":  strings.ToUpper(matchType),
		"state":      models.TargetStateEnabled,
		"adProduct":  ads.AdProductSponsoredProducts,
	}
}

func firstAdGroupID(ctx context.Context, client HarvestClient, campaignID string) (string, error) {
	groups, err := client.QueryAdGroups(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("failed to query ad groups for campaign %s: %w", campaignID, err)
	}
	if len(groups) == 0 {
		return "", nil
	}
	return jsonutil.FirstString(groups[0], "adGroupId", "id"), nil
}

// harvestCandidates normalizes source campaign target rows, dropping rows
// without keyword text.
func harvestCandidates(rows []map[string]any) []models.HarvestCandidate {
	out := make([]models.HarvestCandidate, 0, len(rows))
	for _, row := range rows {
		text := keywordText(row)
		if text == "" {
			continue
		}
		c := models.HarvestCandidate{
			TargetID:  jsonutil.FirstString(row, "targetId", "id"),
			Keyword:   text,
			MatchType: candidateMatchType(row),
			Clicks:    jsonutil.IntOr(row["clicks"], 0),
		}
		if bid, ok := jsonutil.Bid(row["bid"]); ok && bid > 0 {
			c.Bid = &bid
		}
		c.Spend, _ = jsonutil.FirstFloat(row, "spend", "cost")
		c.Sales, _ = jsonutil.FirstFloat(row, "sales", "attributedSales7d", "attributedSales")
		if acos, ok := jsonutil.FirstFloat(row, "acos", "acos7d"); ok {
			c.ReportedACOS = &acos
		}
		out = append(out, c)
	}
	return out
}

func qualifyCandidates(candidates []models.HarvestCandidate, params models.HarvestParams) []models.QualifiedKeyword {
	out := []models.QualifiedKeyword{}
	for _, c := range candidates {
		if c.Sales < params.SalesThreshold {
			continue
		}
		acos := c.EffectiveACOS()
		if params.ACOSThreshold != nil && acos != nil && *acos > *params.ACOSThreshold {
			continue
		}
		if params.ClicksThreshold != nil && c.Clicks < *params.ClicksThreshold {
			continue
		}

		matchType := params.MatchType
		if matchType == "" {
			matchType = c.MatchType
		}
		if matchType == "" {
			matchType = models.MatchTypeBroad
		}

		out = append(out, models.QualifiedKeyword{
			Keyword:   c.Keyword,
			MatchType: strings.ToUpper(matchType),
			Bid:       c.Bid,
			Sales:     c.Sales,
			ACOS:      acos,
			Clicks:    c.Clicks,
		})
	}
	return out
}

// keywordText reads the keyword of a target row: a flat field, or the nested
// targetDetails.<type> object.
func keywordText(row map[string]any) string {
	if s := firstText(row, "keyword", "keywordText", "expression", "text"); s != "" {
		return s
	}
	details := jsonutil.Map(row["targetDetails"])
	for _, key := range slices.Sorted(maps.Keys(details)) {
		if s := firstText(jsonutil.Map(details[key]), "keyword", "expression", "value"); s != "" {
			return s
		}
	}
	return ""
}

func candidateMatchType(row map[string]any) string {
	if s := firstText(row, "matchType"); s != "" {
		return s
	}
	details := jsonutil.Map(row["targetDetails"])
	for _, key := range slices.Sorted(maps.Keys(details)) {
		if s := firstText(jsonutil.Map(details[key]), "matchType"); s != "" {
			return s
		}
	}
	return ""
}

// firstText returns the first non-blank string value among keys. Non-string
// values such as structured expressions are ignored.
func firstText(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

var (
	harvestCampaignKeys = []string{"targetCampaignId", "campaignId", "manualCampaignId"}
	harvestKeywordKeys  = []string{"keywords", "harvestedKeywords", "targets"}
	harvestCountKeys    = []string{"keywordsHarvested", "keywords_harvested", "count"}
)

func harvestedCampaignID(raw map[string]any) string {
	if id := jsonutil.FirstString(raw, harvestCampaignKeys...); id != "" {
		return id
	}
	return jsonutil.FirstString(jsonutil.Map(raw["result"]), harvestCampaignKeys...)
}

func harvestedCount(raw map[string]any) (int, bool) {
	for _, k := range harvestCountKeys {
		if n, ok := jsonutil.Int(raw[k]); ok {
			return n, true
		}
	}
	return 0, false
}

// harvestedKeywords reads the keyword list of a platform harvest response.
// Entries may be keyword objects or bare strings.
func harvestedKeywords(raw map[string]any) []models.QualifiedKeyword {
	var items []any
	for _, src := range []map[string]any{raw, jsonutil.Map(raw["result"])} {
		for _, k := range harvestKeywordKeys {
			if list := jsonutil.List(src[k]); list != nil {
				items = list
				break
			}
		}
		if items != nil {
			break
		}
	}

	out := []models.QualifiedKeyword{}
	for _, item := range items {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, models.QualifiedKeyword{Keyword: s})
			}
			continue
		}
		m := jsonutil.Map(item)
		text := keywordText(m)
		if text == "" {
			continue
		}
		kw := models.QualifiedKeyword{
			Keyword:   text,
			MatchType: strings.ToUpper(candidateMatchType(m)),
			Clicks:    jsonutil.IntOr(m["clicks"], 0),
		}
		kw.Sales, _ = jsonutil.FirstFloat(m, "sales", "attributedSales7d")
		if bid, ok := jsonutil.Bid(m["bid"]); ok && bid > 0 {
			kw.Bid = &bid
		}
		out = append(out, kw)
	}
	return out
}
