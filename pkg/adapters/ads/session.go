package ads

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/jsonutil"
	"github.com/ekaya-inc/adpilot/pkg/models"
)

// DefaultMaxPages caps nextToken pagination.
const DefaultMaxPages = 20

// AdProductSponsoredProducts is the ad product queried by default.
const AdProductSponsoredProducts = "SPONSORED_PRODUCTS"

// Session wraps a connection with typed convenience calls. A session belongs
// to exactly one scope and is not shared between pipeline runs.
type Session struct {
	conn     Conn
	maxPages int
	logger   *zap.Logger
}

// NewSession wraps an open connection.
func NewSession(conn Conn, maxPages int, logger *zap.Logger) *Session {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Session{
		conn:     conn,
		maxPages: maxPages,
		logger:   logger.Named("ads-session"),
	}
}

// Invoke performs a raw operation.
func (s *Session) Invoke(ctx context.Context, operation string, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	return s.conn.Invoke(ctx, operation, args)
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) invokeBody(ctx context.Context, operation string, body map[string]any) (map[string]any, error) {
	return s.Invoke(ctx, operation, map[string]any{"body": body})
}

// paginate follows nextToken until the platform stops returning one or the
// page cap is reached.
func (s *Session) paginate(ctx context.Context, operation string, body map[string]any, resultKey string) ([]map[string]any, error) {
	items := make([]map[string]any, 0)
	nextToken := ""

	for page := 0; page < s.maxPages; page++ {
		pageBody := maps.Clone(body)
		if nextToken != "" {
			pageBody["nextToken"] = nextToken
		}

		result, err := s.invokeBody(ctx, operation, pageBody)
		if err != nil {
			return nil, err
		}

		pageItems := jsonutil.ExtractList(result, resultKey, "result", "results", "items")
		items = append(items, pageItems...)
		nextToken = jsonutil.String(result["nextToken"])

		s.logger.Debug("Fetched page",
			zap.String("operation", operation),
			zap.Int("page", page+1),
			zap.Int("items", len(pageItems)),
			zap.Int("total", len(items)))

		if nextToken == "" {
			return items, nil
		}
	}

	s.logger.Warn("Pagination stopped at page cap",
		zap.String("operation", operation),
		zap.Int("max_pages", s.maxPages),
		zap.Int("total", len(items)))
	return items, nil
}

func queryBody(adProduct, campaignID, adGroupID string) map[string]any {
	if adProduct == "" {
		adProduct = AdProductSponsoredProducts
	}
	body := map[string]any{
		"adProductFilter": map[string]any{"include": []any{adProduct}},
	}
	if campaignID != "" {
		body["campaignIdFilter"] = map[string]any{"include": []any{campaignID}}
	}
	if adGroupID != "" {
		body["adGroupIdFilter"] = map[string]any{"include": []any{adGroupID}}
	}
	return body
}

// QueryCampaigns returns every campaign of one ad product.
func (s *Session) QueryCampaigns(ctx context.Context, adProduct string) ([]map[string]any, error) {
	return s.paginate(ctx, models.ToolQueryCampaign, queryBody(adProduct, "", ""), "campaigns")
}

// QueryAdGroups returns the ad groups of a campaign.
func (s *Session) QueryAdGroups(ctx context.Context, campaignID string) ([]map[string]any, error) {
	return s.paginate(ctx, models.ToolQueryAdGroup, queryBody("", campaignID, ""), "adGroups")
}

// QueryTargets returns the targets of a campaign, optionally narrowed to one ad group.
func (s *Session) QueryTargets(ctx context.Context, campaignID, adGroupID string) ([]map[string]any, error) {
	return s.paginate(ctx, models.ToolQueryTarget, queryBody("", campaignID, adGroupID), "targets")
}

// QueryAds returns the ads of a campaign, optionally narrowed to one ad group.
func (s *Session) QueryAds(ctx context.Context, campaignID, adGroupID string) ([]map[string]any, error) {
	return s.paginate(ctx, models.ToolQueryAd, queryBody("", campaignID, adGroupID), "ads")
}

func objectsToAny(items []map[string]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// CreateCampaigns creates campaigns.
func (s *Session) CreateCampaigns(ctx context.Context, campaigns []map[string]any) (map[string]any, error) {
	return s.invokeBody(ctx, models.ToolCreateCampaign, map[string]any{"campaigns": objectsToAny(campaigns)})
}

// CreateAdGroups creates ad groups.
func (s *Session) CreateAdGroups(ctx context.Context, adGroups []map[string]any) (map[string]any, error) {
	return s.invokeBody(ctx, models.ToolCreateAdGroup, map[string]any{"adGroups": objectsToAny(adGroups)})
}

// CreateAds creates ads.
func (s *Session) CreateAds(ctx context.Context, ads []map[string]any) (map[string]any, error) {
	return s.invokeBody(ctx, models.ToolCreateAd, map[string]any{"ads": objectsToAny(ads)})
}

// CreateTargets creates keyword or product targets.
func (s *Session) CreateTargets(ctx context.Context, targets []map[string]any) (map[string]any, error) {
	return s.invokeBody(ctx, models.ToolCreateTarget, map[string]any{"targets": objectsToAny(targets)})
}

// UpdateTargets updates target fields such as state.
func (s *Session) UpdateTargets(ctx context.Context, targets []map[string]any) (map[string]any, error) {
	return s.invokeBody(ctx, models.ToolUpdateTarget, map[string]any{"targets": objectsToAny(targets)})
}

// DeleteTargets deletes targets by id.
func (s *Session) DeleteTargets(ctx context.Context, targetIDs []string) (map[string]any, error) {
	ids := make([]any, len(targetIDs))
	for i, id := range targetIDs {
		ids[i] = id
	}
	return s.invokeBody(ctx, models.ToolDeleteTarget, map[string]any{"targetIds": ids})
}

// UpdateTargetBids sets bids, one entry per target: {"targetId", "bid"}.
func (s *Session) UpdateTargetBids(ctx context.Context, targets []map[string]any) (map[string]any, error) {
	return s.invokeBody(ctx, models.ToolUpdateTargetBid, map[string]any{"targets": objectsToAny(targets)})
}

// UpdateCampaignBudget sets daily budgets: {"campaignId", "dailyBudget"}.
func (s *Session) UpdateCampaignBudget(ctx context.Context, campaigns []map[string]any) (map[string]any, error) {
	return s.invokeBody(ctx, models.ToolUpdateCampaignBudget, map[string]any{"campaigns": objectsToAny(campaigns)})
}

// UpdateCampaignState sets campaign states: {"campaignId", "state"}.
func (s *Session) UpdateCampaignState(ctx context.Context, campaigns []map[string]any) (map[string]any, error) {
	return s.invokeBody(ctx, models.ToolUpdateCampaignState, map[string]any{"campaigns": objectsToAny(campaigns)})
}

// AddCountryCampaign adds countries to existing manual campaigns.
func (s *Session) AddCountryCampaign(ctx context.Context, campaigns []map[string]any) (map[string]any, error) {
	return s.invokeBody(ctx, models.ToolAddCountryCampaign, map[string]any{"campaigns": objectsToAny(campaigns)})
}

// CreateHarvest runs the platform-native harvest into new manual campaigns.
func (s *Session) CreateHarvest(ctx context.Context, requests []map[string]any) (map[string]any, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("create harvest: no harvest requests")
	}
	return s.invokeBody(ctx, models.ToolCreateHarvestTargets, map[string]any{"harvestRequests": objectsToAny(requests)})
}
