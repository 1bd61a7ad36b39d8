package models

// Harvest target modes.
const (
	HarvestModeNew      = "new"
	HarvestModeExisting = "existing"
)

// Harvest result statuses.
const (
	HarvestStatusSuccess = "success"
	HarvestStatusError   = "error"
)

// Keyword match types.
const (
	MatchTypeBroad         = "BROAD"
	MatchTypePhrase        = "PHRASE"
	MatchTypeExact         = "EXACT"
	MatchTypeNegativeExact = "NEGATIVE_EXACT"
)

// DefaultHarvestSalesThreshold is the minimum sales a keyword needs when no threshold is given.
const DefaultHarvestSalesThreshold = 1.0

// HarvestParams configures one harvest run.
type HarvestParams struct {
	SourceCampaignID string   `json:"source_campaign_id" validate:"required"`
	TargetMode       string   `json:"target_mode" validate:"omitempty,oneof=new existing"`
	TargetCampaignID string   `json:"target_campaign_id,omitempty" validate:"required_if=TargetMode existing"`
	TargetAdGroupID  string   `json:"target_ad_group_id,omitempty"`
	SalesThreshold   float64  `json:"sales_threshold" validate:"gte=0"`
	ACOSThreshold    *float64 `json:"acos_threshold,omitempty" validate:"omitempty,gte=0"`
	ClicksThreshold  *int     `json:"clicks_threshold,omitempty" validate:"omitempty,gte=0"`
	MatchType        string   `json:"match_type,omitempty" validate:"omitempty,oneof=BROAD PHRASE EXACT broad phrase exact"`
	NegateInSource   bool     `json:"negate_in_source"`
}

// Mode returns the target mode, defaulting to new.
func (p HarvestParams) Mode() string {
	if p.TargetMode == "" {
		return HarvestModeNew
	}
	return p.TargetMode
}

// HarvestCandidate is a normalized source-campaign target considered for promotion.
type HarvestCandidate struct {
	TargetID     string   `json:"target_id,omitempty"`
	Keyword      string   `json:"keyword"`
	MatchType    string   `json:"match_type,omitempty"`
	Bid          *float64 `json:"bid,omitempty"`
	Clicks       int      `json:"clicks"`
	Spend        float64  `json:"spend"`
	Sales        float64  `json:"sales"`
	ReportedACOS *float64 `json:"reported_acos,omitempty"`
}

// ACOS returns spend/sales*100, or nil when there are no sales.
func (c HarvestCandidate) ACOS() *float64 {
	if c.Sales <= 0 {
		return nil
	}
	acos := c.Spend / c.Sales * 100
	return &acos
}

// EffectiveACOS prefers the ACOS reported by the platform and computes it
// from spend and sales otherwise.
func (c HarvestCandidate) EffectiveACOS() *float64 {
	if c.ReportedACOS != nil {
		return c.ReportedACOS
	}
	return c.ACOS()
}

// QualifiedKeyword is a candidate that passed the harvest thresholds.
type QualifiedKeyword struct {
	Keyword   string   `json:"keyword"`
	MatchType string   `json:"match_type"`
	Bid       *float64 `json:"bid,omitempty"`
	Sales     float64  `json:"sales"`
	ACOS      *float64 `json:"acos,omitempty"`
	Clicks    int      `json:"clicks"`
}

// HarvestResult is the outcome of a harvest run.
type HarvestResult struct {
	Status                  string             `json:"status"`
	Mode                    string             `json:"mode"`
	SourceCampaignID        string             `json:"source_campaign_id"`
	TargetCampaignID        string             `json:"target_campaign_id,omitempty"`
	TargetAdGroupID         string             `json:"target_ad_group_id,omitempty"`
	KeywordsHarvested       int                `json:"keywords_harvested"`
	KeywordsNegatedInSource int                `json:"keywords_negated_in_source"`
	NegationErrors          int                `json:"negation_errors"`
	Keywords                []QualifiedKeyword `json:"keywords"`
	Message                 string             `json:"message,omitempty"`
	CreateResults           []map[string]any   `json:"create_results,omitempty"`
	RawResult               map[string]any     `json:"raw_result,omitempty"`
}

// ToMap renders the result as an apply_result payload.
func (r *HarvestResult) ToMap() map[string]any {
	keywords := make([]any, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		entry := map[string]any{
			"keyword":    kw.Keyword,
			"match_type": kw.MatchType,
			"sales":      kw.Sales,
			"clicks":     kw.Clicks,
		}
		if kw.Bid != nil {
			entry["bid"] = *kw.Bid
		}
		if kw.ACOS != nil {
			entry["acos"] = *kw.ACOS
		}
		keywords = append(keywords, entry)
	}
	out := map[string]any{
		"status":                     r.Status,
		"mode":                       r.Mode,
		"source_campaign_id":         r.SourceCampaignID,
		"target_campaign_id":         r.TargetCampaignID,
		"keywords_harvested":         r.KeywordsHarvested,
		"keywords_negated_in_source": r.KeywordsNegatedInSource,
		"negation_errors":            r.NegationErrors,
		"keywords":                   keywords,
	}
	if r.TargetAdGroupID != "" {
		out["target_ad_group_id"] = r.TargetAdGroupID
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	if len(r.CreateResults) > 0 {
		results := make([]any, len(r.CreateResults))
		for i, cr := range r.CreateResults {
			results[i] = cr
		}
		out["create_results"] = results
	}
	if r.RawResult != nil {
		out["raw_result"] = r.RawResult
	}
	return out
}
