package models

import (
	"strings"

	"github.com/ekaya-inc/adpilot/pkg/jsonutil"
)

// Campaign bundle defaults.
const (
	DefaultCampaignName     = "New Campaign"
	DefaultAdProduct        = "SPONSORED_PRODUCTS"
	DefaultTargetingType    = "manual"
	DefaultEntityState      = "enabled"
	DefaultDailyBudget      = 50.0
	DefaultAdGroupName      = "Default Ad Group"
	DefaultUnnamedAdGroup   = "Ad Group"
	DefaultKeywordBid       = 0.5
	DefaultKeywordMatchType = "broad"
	KeywordExpressionType   = "keyword"
)

// CampaignPlan describes a new campaign with its ad groups, product ad and keywords.
type CampaignPlan struct {
	Campaign PlanCampaign  `json:"campaign"`
	AdGroups []PlanAdGroup `json:"ad_groups"`
	Ad       *PlanAd       `json:"ad,omitempty"`
}

// PlanCampaign is the campaign part of a plan.
type PlanCampaign struct {
	Name          string   `json:"name,omitempty"`
	AdProduct     string   `json:"adProduct,omitempty"`
	TargetingType string   `json:"targetingType,omitempty"`
	State         string   `json:"state,omitempty"`
	DailyBudget   *float64 `json:"dailyBudget,omitempty"`
	DefaultBid    *float64 `json:"defaultBid,omitempty"`
	ASIN          string   `json:"asin,omitempty"`
}

// PlanAdGroup is one ad group of a plan.
type PlanAdGroup struct {
	Name       string        `json:"name,omitempty"`
	DefaultBid *float64      `json:"defaultBid,omitempty"`
	Keywords   []PlanKeyword `json:"keywords,omitempty"`
}

// PlanKeyword is one keyword target of an ad group.
type PlanKeyword struct {
	Text      string   `json:"text"`
	MatchType string   `json:"match_type,omitempty"`
	Bid       *float64 `json:"bid,omitempty"`
}

// PlanAd is the product ad created in every ad group.
type PlanAd struct {
	ASIN string `json:"asin,omitempty"`
	Name string `json:"name,omitempty"`
}

// IsEmpty reports whether the plan carries no campaign data at all.
func (p CampaignPlan) IsEmpty() bool {
	return p.Campaign == PlanCampaign{}
}

// ParseCampaignPlan reads a plan from a stored command argument. Keys are
// accepted in camelCase and snake_case.
func ParseCampaignPlan(raw map[string]any) CampaignPlan {
	var plan CampaignPlan

	if c := jsonutil.Map(raw["campaign"]); c != nil {
		plan.Campaign = PlanCampaign{
			Name:          jsonutil.String(c["name"]),
			AdProduct:     jsonutil.FirstString(c, "adProduct", "ad_product", "type"),
			TargetingType: jsonutil.FirstString(c, "targetingType", "targeting_type"),
			State:         jsonutil.String(c["state"]),
			ASIN:          jsonutil.String(c["asin"]),
		}
		if f, ok := jsonutil.FirstFloat(c, "dailyBudget", "daily_budget"); ok {
			plan.Campaign.DailyBudget = &f
		}
		if f, ok := jsonutil.FirstFloat(c, "defaultBid", "default_bid"); ok {
			plan.Campaign.DefaultBid = &f
		}
	}

	for _, ag := range jsonutil.Objects(firstPresent(raw, "ad_groups", "adGroups")) {
		group := PlanAdGroup{Name: jsonutil.String(ag["name"])}
		if f, ok := jsonutil.FirstFloat(ag, "defaultBid", "default_bid"); ok {
			group.DefaultBid = &f
		}
		for _, kw := range jsonutil.Objects(ag["keywords"]) {
			keyword := PlanKeyword{
				Text:      jsonutil.FirstString(kw, "text", "keyword"),
				MatchType: jsonutil.FirstString(kw, "match_type", "matchType"),
			}
			if f, ok := jsonutil.FirstFloat(kw, "suggested_bid", "suggestedBid", "bid"); ok {
				keyword.Bid = &f
			}
			group.Keywords = append(group.Keywords, keyword)
		}
		plan.AdGroups = append(plan.AdGroups, group)
	}

	if ad := jsonutil.Map(raw["ad"]); ad != nil {
		plan.Ad = &PlanAd{
			ASIN: jsonutil.String(ad["asin"]),
			Name: jsonutil.String(ad["name"]),
		}
	}

	return plan
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// ToMap renders the plan as command arguments.
func (p CampaignPlan) ToMap() map[string]any {
	campaign := map[string]any{}
	setString(campaign, "name", p.Campaign.Name)
	setString(campaign, "adProduct", p.Campaign.AdProduct)
	setString(campaign, "targetingType", p.Campaign.TargetingType)
	setString(campaign, "state", p.Campaign.State)
	setString(campaign, "asin", p.Campaign.ASIN)
	setFloat(campaign, "dailyBudget", p.Campaign.DailyBudget)
	setFloat(campaign, "defaultBid", p.Campaign.DefaultBid)

	groups := make([]any, 0, len(p.AdGroups))
	for _, ag := range p.AdGroups {
		group := map[string]any{}
		setString(group, "name", ag.Name)
		setFloat(group, "defaultBid", ag.DefaultBid)
		keywords := make([]any, 0, len(ag.Keywords))
		for _, kw := range ag.Keywords {
			entry := map[string]any{"text": kw.Text}
			setString(entry, "match_type", kw.MatchType)
			setFloat(entry, "bid", kw.Bid)
			keywords = append(keywords, entry)
		}
		group["keywords"] = keywords
		groups = append(groups, group)
	}

	out := map[string]any{
		"campaign":  campaign,
		"ad_groups": groups,
	}
	if p.Ad != nil {
		ad := map[string]any{}
		setString(ad, "asin", p.Ad.ASIN)
		setString(ad, "name", p.Ad.Name)
		out["ad"] = ad
	}
	return out
}

func setString(m map[string]any, key, val string) {
	if val != "" {
		m[key] = val
	}
}

func setFloat(m map[string]any, key string, val *float64) {
	if val != nil {
		m[key] = *val
	}
}

// NormalizeMatchType lowercases a plan keyword match type and falls back to broad.
func NormalizeMatchType(matchType string) string {
	switch m := strings.ToLower(strings.TrimSpace(matchType)); m {
	case "exact", "phrase", "broad":
		return m
	default:
		return DefaultKeywordMatchType
	}
}

// BundleResult enumerates what a campaign bundle created.
type BundleResult struct {
	CampaignID string   `json:"campaign_id"`
	AdGroupIDs []string `json:"ad_group_ids"`
	AdIDs      []string `json:"ad_ids"`
	TargetIDs  []string `json:"target_ids"`
	Errors     []string `json:"errors"`
}

// NewBundleResult returns a result with empty, non-nil lists.
func NewBundleResult() *BundleResult {
	return &BundleResult{
		AdGroupIDs: []string{},
		AdIDs:      []string{},
		TargetIDs:  []string{},
		Errors:     []string{},
	}
}

// ToMap renders the result as an apply_result payload.
func (r *BundleResult) ToMap() map[string]any {
	return map[string]any{
		"campaign_id":  r.CampaignID,
		"ad_group_ids": stringsToAny(r.AdGroupIDs),
		"ad_ids":       stringsToAny(r.AdIDs),
		"target_ids":   stringsToAny(r.TargetIDs),
		"errors":       stringsToAny(r.Errors),
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
