package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/adapters/ads"
	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/jsonutil"
	"github.com/ekaya-inc/adpilot/pkg/logging"
	"github.com/ekaya-inc/adpilot/pkg/models"
)

const bundleOperation = "campaign bundle"

// BundleClient is the slice of the ads session the bundle executor needs.
type BundleClient interface {
	CreateCampaigns(ctx context.Context, campaigns []map[string]any) (map[string]any, error)
	CreateAdGroups(ctx context.Context, adGroups []map[string]any) (map[string]any, error)
	CreateAds(ctx context.Context, ads []map[string]any) (map[string]any, error)
	CreateTargets(ctx context.Context, targets []map[string]any) (map[string]any, error)
}

var _ BundleClient = (*ads.Session)(nil)

// CampaignBundleExecutor creates a campaign with its ad groups, product ads
// and keyword targets in sequence, threading created ids forward.
type CampaignBundleExecutor interface {
	// Execute runs the plan. A campaign that cannot be created fails the
	// whole bundle. Failed child steps are collected in the result and
	// reported as a *apperrors.PartialCompositeError returned with it.
	Execute(ctx context.Context, client BundleClient, plan models.CampaignPlan) (*models.BundleResult, error)
}

type campaignBundleExecutor struct {
	logger *zap.Logger
}

// NewCampaignBundleExecutor creates a new CampaignBundleExecutor.
func NewCampaignBundleExecutor(logger *zap.Logger) CampaignBundleExecutor {
	return &campaignBundleExecutor{logger: logger.Named("campaign-bundle")}
}

var _ CampaignBundleExecutor = (*campaignBundleExecutor)(nil)

var createdIDKeys = []string{"campaignId", "adGroupId", "adId", "targetId", "id"}

// createdID finds the id of the first created entity in a create response.
// Responses list entities under their collection key, carry a bare id, or
// report a success array.
func createdID(result map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := result[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			if len(v) > 0 {
				if id := jsonutil.FirstString(jsonutil.Map(v[0]), createdIDKeys...); id != "" {
					return id
				}
			}
		}
	}
	for _, item := range jsonutil.Objects(result["success"]) {
		if id := jsonutil.FirstString(item, createdIDKeys...); id != "" {
			return id
		}
	}
	return ""
}

func campaignPayload(c models.PlanCampaign) map[string]any {
	payload := map[string]any{
		"name":          orDefault(c.Name, models.DefaultCampaignName),
		"adProduct":     orDefault(c.AdProduct, models.DefaultAdProduct),
		"targetingType": orDefault(c.TargetingType, models.DefaultTargetingType),
		"state":         orDefault(c.State, models.DefaultEntityState),
		"dailyBudget":   models.DefaultDailyBudget,
	}
	if c.DailyBudget != nil && *c.DailyBudget > 0 {
		payload["dailyBudget"] = *c.DailyBudget
	}
	return payload
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (e *campaignBundleExecutor) Execute(ctx context.Context, client BundleClient, plan models.CampaignPlan) (*models.BundleResult, error) {
	if plan.IsEmpty() {
		return nil, apperrors.Validationf("campaign data is required")
	}

	result := models.NewBundleResult()

	created, err := client.CreateCampaigns(ctx, []map[string]any{campaignPayload(plan.Campaign)})
	if err != nil {
		return nil, fmt.Errorf("campaign creation failed: %w", err)
	}
	result.CampaignID = createdID(created, "campaigns", "campaignId", "success")
	if result.CampaignID == "" {
		return nil, apperrors.NewAdapterError(apperrors.AdapterErrorPlatform, models.ToolCreateCampaign,
			"campaign created but no id returned", nil)
	}
	e.logger.Info("Created campaign", zap.String("campaign_id", result.CampaignID))

	adGroups := plan.AdGroups
	if len(adGroups) == 0 {
		bid := models.DefaultKeywordBid
		if plan.Campaign.DefaultBid != nil {
			bid = *plan.Campaign.DefaultBid
		}
		adGroups = []models.PlanAdGroup{{Name: models.DefaultAdGroupName, DefaultBid: &bid}}
	}

	asin := plan.Campaign.ASIN
	if plan.Ad != nil && plan.Ad.ASIN != "" {
		asin = plan.Ad.ASIN
	}

	for i, ag := range adGroups {
		e.createAdGroup(ctx, client, plan, ag, i+1, asin, result)
	}

	if len(result.Errors) > 0 {
		return result, &apperrors.PartialCompositeError{
			Operation: bundleOperation,
			ParentID:  result.CampaignID,
			Errors:    result.Errors,
		}
	}
	return result, nil
}

// createAdGroup creates one ad group and its children. Failures are appended
// to result.Errors prefixed with the 1-based ad group index.
func (e *campaignBundleExecutor) createAdGroup(ctx context.Context, client BundleClient, plan models.CampaignPlan, ag models.PlanAdGroup, index int, asin string, result *models.BundleResult) {
	fail := func(format string, args ...any) {
		msg := fmt.Sprintf("ad group %d: %s", index, fmt.Sprintf(format, args...))
		result.Errors = append(result.Errors, msg)
		e.logger.Warn("Campaign bundle step failed",
			zap.String("campaign_id", result.CampaignID),
			zap.String("error", msg))
	}

	payload := map[string]any{
		"campaignId": result.CampaignID,
		"name":       orDefault(ag.Name, models.DefaultUnnamedAdGroup),
		"state":      models.DefaultEntityState,
	}
	if ag.DefaultBid != nil {
		payload["defaultBid"] = *ag.DefaultBid
	}

	created, err := client.CreateAdGroups(ctx, []map[string]any{payload})
	if err != nil {
		fail("ad group creation failed: %s", logging.SanitizeError(err))
		return
	}
	adGroupID := createdID(created, "adGroups", "adGroupId", "success")
	if adGroupID == "" {
		fail("ad group created but no id returned")
		return
	}
	result.AdGroupIDs = append(result.AdGroupIDs, adGroupID)

	if asin != "" {
		ad := map[string]any{
			"adGroupId": adGroupID,
			"asin":      asin,
			"state":     models.DefaultEntityState,
		}
		if plan.Ad != nil && plan.Ad.Name != "" {
			ad["name"] = plan.Ad.Name
		}
		adResult, err := client.CreateAds(ctx, []map[string]any{ad})
		if err != nil {
			fail("ad creation failed: %s", logging.SanitizeError(err))
		} else if adID := createdID(adResult, "ads", "adId", "success"); adID != "" {
			result.AdIDs = append(result.AdIDs, adID)
		}
	}

	targets := keywordTargets(adGroupID, ag)
	if len(targets) == 0 {
		return
	}
	targetResult, err := client.CreateTargets(ctx, targets)
	if err != nil {
		fail("target creation failed: %s", logging.SanitizeError(err))
		return
	}
	items := jsonutil.Objects(targetResult["targets"])
	if len(items) == 0 {
		items = jsonutil.Objects(targetResult["success"])
	}
	for _, t := range items {
		if id := jsonutil.String(t["targetId"]); id != "" {
			result.TargetIDs = append(result.TargetIDs, id)
		}
	}
	e.logger.Info("Created keyword targets",
		zap.String("ad_group_id", adGroupID),
		zap.Int("count", len(targets)))
}

// keywordTargets builds keyword target payloads. A keyword without a bid
// uses the ad group default bid, then DefaultKeywordBid.
func keywordTargets(adGroupID string, ag models.PlanAdGroup) []map[string]any {
	targets := make([]map[string]any, 0, len(ag.Keywords))
	for _, kw := range ag.Keywords {
		if kw.Text == "" {
			continue
		}
		bid := models.DefaultKeywordBid
		switch {
		case kw.Bid != nil && *kw.Bid > 0:
			bid = *kw.Bid
		case ag.DefaultBid != nil && *ag.DefaultBid > 0:
			bid = *ag.DefaultBid
		}
		targets = append(targets, map[string]any{
			"adGroupId":      adGroupID,
			"expression":     kw.Text,
			"expressionType": models.KeywordExpressionType,
			"matchType":      models.NormalizeMatchType(kw.MatchType),
			"bid":            bid,
		})
	}
	return targets
}
