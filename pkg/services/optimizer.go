package services

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/adpilot/pkg/jsonutil"
	"github.com/ekaya-inc/adpilot/pkg/models"
	"github.com/ekaya-inc/adpilot/pkg/workerpool"
)

var (
	highACOSFactor   = decimal.RequireFromString("1.2")
	growthACOSFactor = decimal.RequireFromString("0.7")
	minBidDelta      = decimal.RequireFromString("0.01")
	hundred          = decimal.NewFromInt(100)
	two              = decimal.NewFromInt(2)
)

// ValidateBidRule checks a rule before it is handed to the optimizer.
func ValidateBidRule(rule models.BidRule) error {
	return validateStruct(rule)
}

// Optimize proposes bid changes for a metrics snapshot. It is pure: the same
// targets and rule always produce the same result.
func Optimize(targets []models.TargetMetric, rule models.BidRule) *models.OptimizationResult {
	result := &models.OptimizationResult{
		Changes: []models.BidChange{},
		Summary: models.OptimizationSummary{
			TotalAnalyzed: len(targets),
			TargetACOS:    rule.TargetACOS,
		},
	}

	for _, t := range targets {
		change, ok := evaluateTarget(t, rule)
		if !ok {
			result.Summary.Unchanged++
			continue
		}
		if change.Direction == models.BidDirectionIncrease {
			result.Summary.Increases++
		} else {
			result.Summary.Decreases++
		}
		result.Changes = append(result.Changes, change)
	}

	result.Summary.TotalChanges = len(result.Changes)
	return result
}

func isActiveState(state string) bool {
	return state == "" || strings.EqualFold(state, models.TargetStateEnabled)
}

// formatPercent renders a target ACOS with at least one decimal (30 -> "30.0").
func formatPercent(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// evaluateTarget applies the rule to one target. The bool is false when the
// target stays unchanged.
func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func evaluateTarget(t models.TargetMetric, rule models.BidRule) (models.BidChange, bool) {
	if !isActiveState(t.State) || t.TargetID == "" || t.Bid <= 0 || t.Clicks < rule.MinClicks {
		return models.BidChange{}, false
	}
	// decimal.NewFromFloat panics on NaN and infinities.
	if !finite(t.Bid, t.Spend, t.Sales, rule.BidStep, rule.MinBid, rule.MaxBid, rule.TargetACOS) {
		return models.BidChange{}, false
	}

	bid := decimal.NewFromFloat(t.Bid)
	step := decimal.NewFromFloat(rule.BidStep)
	minBid := decimal.NewFromFloat(rule.MinBid)
	maxBid := decimal.NewFromFloat(rule.MaxBid)
	target := decimal.NewFromFloat(rule.TargetACOS)
	spend := decimal.NewFromFloat(t.Spend)
	sales := decimal.NewFromFloat(t.Sales)

	var newBid decimal.Decimal
	var reason string
	var acosOut *float64

	if sales.IsPositive() {
		acos := spend.Div(sales).Mul(hundred)
		acosFloat := acos.InexactFloat64()
		rounded := acos.Round(1).InexactFloat64()
		acosOut = &rounded

		switch {
		case acos.GreaterThan(target.Mul(highACOSFactor)):
			newBid = decimal.Max(bid.Sub(step), minBid)
			reason = fmt.Sprintf("ACOS %.1f%% > target %s%% (high)", acosFloat, formatPercent(rule.TargetACOS))
		case acos.GreaterThan(target):
			newBid = decimal.Max(bid.Sub(step.Div(two)), minBid)
			reason = fmt.Sprintf("ACOS %.1f%% slightly above target %s%%", acosFloat, formatPercent(rule.TargetACOS))
		case acos.LessThan(target.Mul(growthACOSFactor)):
			newBid = decimal.Min(bid.Add(step), maxBid)
			reason = fmt.Sprintf("ACOS %.1f%% well below target (room to grow)", acosFloat)
		default:
			return models.BidChange{}, false
		}
	} else {
		if !spend.IsPositive() {
			return models.BidChange{}, false
		}
		newBid = decimal.Max(bid.Sub(step), minBid)
		reason = fmt.Sprintf("No sales after %d clicks ($%.2f spent)", t.Clicks, t.Spend)
	}

	// A current bid outside the rule's range is pulled back into it.
	newBid = decimal.Min(decimal.Max(newBid, minBid), maxBid)

	if newBid.Sub(bid).Abs().LessThan(minBidDelta) {
		return models.BidChange{}, false
	}

	direction := models.BidDirectionDecrease
	if newBid.GreaterThan(bid) {
		direction = models.BidDirectionIncrease
	}

	return models.BidChange{
		TargetID:    t.TargetID,
		CampaignID:  t.CampaignID,
		Keyword:     t.Keyword,
		CurrentBid:  bid.Round(2).InexactFloat64(),
		NewBid:      newBid.Round(2).InexactFloat64(),
		Change:      newBid.Sub(bid).Round(2).InexactFloat64(),
		Direction:   direction,
		Reason:      reason,
		CurrentACOS: acosOut,
		Clicks:      t.Clicks,
		Spend:       spend.Round(2).InexactFloat64(),
		Sales:       sales.Round(2).InexactFloat64(),
	}, true
}

// CampaignOptimization is the optimizer output for one campaign.
type CampaignOptimization struct {
	CampaignID   string                     `json:"campaign_id"`
	CampaignName string                     `json:"campaign_name,omitempty"`
	Result       *models.OptimizationResult `json:"result"`
}

// MultiCampaignOptimization is the merged output of OptimizeCampaigns.
type MultiCampaignOptimization struct {
	Campaigns []CampaignOptimization     `json:"campaigns"`
	Summary   models.OptimizationSummary `json:"summary"`
}

// Changes flattens every campaign's changes in campaign order.
func (m *MultiCampaignOptimization) Changes() []models.BidChange {
	var out []models.BidChange
	for _, c := range m.Campaigns {
		out = append(out, c.Result.Changes...)
	}
	return out
}

// OptimizeCampaigns runs Optimize for each campaign on the worker pool and
// merges the results in input order.
func OptimizeCampaigns(ctx context.Context, pool *workerpool.Pool, groups []models.CampaignTargets, rule models.BidRule) (*MultiCampaignOptimization, error) {
	if err := ValidateBidRule(rule); err != nil {
		return nil, err
	}

	items := make([]workerpool.Item[*models.OptimizationResult], len(groups))
	for i, g := range groups {
		targets := slices.Clone(g.Targets)
		campaignID := g.CampaignID
		items[i] = workerpool.Item[*models.OptimizationResult]{
			ID: campaignID,
			Execute: func(ctx context.Context) (*models.OptimizationResult, error) {
				for j := range targets {
					if targets[j].CampaignID == "" {
						targets[j].CampaignID = campaignID
					}
				}
				return Optimize(targets, rule), nil
			},
		}
	}

	results := workerpool.Process(ctx, pool, items, nil)

	merged := &MultiCampaignOptimization{
		Campaigns: make([]CampaignOptimization, 0, len(groups)),
		Summary:   models.OptimizationSummary{TargetACOS: rule.TargetACOS},
	}
	for _, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("optimize campaign %s: %w", r.ID, r.Err)
		}
		g := groups[r.Index]
		merged.Campaigns = append(merged.Campaigns, CampaignOptimization{
			CampaignID:   g.CampaignID,
			CampaignName: g.CampaignName,
			Result:       r.Result,
		})
		merged.Summary.Add(r.Result.Summary)
	}
	return merged, nil
}

// ExtractTargetMetrics normalizes raw platform or snapshot target rows.
// Bids may be scalar, {"value": x} or {"monetaryBid": {"value": x}}, falling
// back to defaultBid. Spend may arrive as cost and sales as attributedSales.
func ExtractTargetMetrics(raw []map[string]any) []models.TargetMetric {
	out := make([]models.TargetMetric, 0, len(raw))
	for _, row := range raw {
		bid, ok := jsonutil.Bid(row["bid"])
		if !ok || bid == 0 {
			bid, _ = jsonutil.Bid(row["defaultBid"])
		}
		spend, _ := jsonutil.FirstFloat(row, "spend", "cost")
		sales, _ := jsonutil.FirstFloat(row, "sales", "attributedSales")

		out = append(out, models.TargetMetric{
			TargetID:   jsonutil.FirstString(row, "targetId", "id"),
			CampaignID: jsonutil.FirstString(row, "campaignId"),
			AdGroupID:  jsonutil.FirstString(row, "adGroupId"),
			Keyword:    keywordText(row),
			Bid:        bid,
			Clicks:     jsonutil.IntOr(row["clicks"], 0),
			Spend:      spend,
			Sales:      sales,
			State:      strings.ToUpper(jsonutil.String(row["state"])),
		})
	}
	return out
}
