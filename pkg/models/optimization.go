package models

// TargetStateEnabled is the platform state of an active target.
const TargetStateEnabled = "ENABLED"

// Bid change directions.
const (
	BidDirectionIncrease = "increase"
	BidDirectionDecrease = "decrease"
)

// TargetMetric is one row of the performance snapshot the optimizer reads.
type TargetMetric struct {
	TargetID   string  `json:"target_id"`
	CampaignID string  `json:"campaign_id,omitempty"`
	AdGroupID  string  `json:"ad_group_id,omitempty"`
	Keyword    string  `json:"keyword,omitempty"`
	Bid        float64 `json:"bid"`
	Clicks     int     `json:"clicks"`
	Spend      float64 `json:"spend"`
	Sales      float64 `json:"sales"`
	State      string  `json:"state"`
}

// BidRule holds the optimizer parameters. Zero values are filled from
// DefaultBidRule by WithDefaults.
type BidRule struct {
	Name       string  `json:"name,omitempty" yaml:"name"`
	TargetACOS float64 `json:"target_acos" yaml:"target_acos" validate:"gt=0"`
	MinBid     float64 `json:"min_bid" yaml:"min_bid" validate:"gt=0"`
	MaxBid     float64 `json:"max_bid" yaml:"max_bid" validate:"gtfield=MinBid"`
	BidStep    float64 `json:"bid_step" yaml:"bid_step" validate:"gt=0"`
	MinClicks  int     `json:"min_clicks" yaml:"min_clicks" validate:"gte=0"`
}

// DefaultBidRule returns the stock optimizer parameters.
func DefaultBidRule() BidRule {
	return BidRule{
		TargetACOS: 30.0,
		MinBid:     0.02,
		MaxBid:     100.0,
		BidStep:    0.10,
		MinClicks:  10,
	}
}

// WithDefaults fills unset numeric fields from DefaultBidRule.
// MinClicks of zero is a valid setting and is kept.
func (r BidRule) WithDefaults() BidRule {
	d := DefaultBidRule()
	if r.TargetACOS == 0 {
		r.TargetACOS = d.TargetACOS
	}
	if r.MinBid == 0 {
		r.MinBid = d.MinBid
	}
	if r.MaxBid == 0 {
		r.MaxBid = d.MaxBid
	}
	if r.BidStep == 0 {
		r.BidStep = d.BidStep
	}
	return r
}

// BidChange is one proposed bid adjustment.
type BidChange struct {
	TargetID    string   `json:"target_id"`
	CampaignID  string   `json:"campaign_id,omitempty"`
	Keyword     string   `json:"keyword,omitempty"`
	CurrentBid  float64  `json:"current_bid"`
	NewBid      float64  `json:"new_bid"`
	Change      float64  `json:"change"`
	Direction   string   `json:"direction"`
	Reason      string   `json:"reason"`
	CurrentACOS *float64 `json:"current_acos,omitempty"`
	Clicks      int      `json:"clicks"`
	Spend       float64  `json:"spend"`
	Sales       float64  `json:"sales"`
}

// OptimizationSummary counts the optimizer's decisions.
type OptimizationSummary struct {
	TotalAnalyzed int     `json:"total_analyzed"`
	Increases     int     `json:"increases"`
	Decreases     int     `json:"decreases"`
	Unchanged     int     `json:"unchanged"`
	TotalChanges  int     `json:"total_changes"`
	TargetACOS    float64 `json:"target_acos"`
}

// Add merges another summary's counters into s.
func (s *OptimizationSummary) Add(other OptimizationSummary) {
	s.TotalAnalyzed += other.TotalAnalyzed
	s.Increases += other.Increases
	s.Decreases += other.Decreases
	s.Unchanged += other.Unchanged
	s.TotalChanges += other.TotalChanges
}

// OptimizationResult is the optimizer output.
type OptimizationResult struct {
	Changes []BidChange         `json:"changes"`
	Summary OptimizationSummary `json:"summary"`
}

// CampaignTargets groups a campaign's metric rows for batch optimization.
type CampaignTargets struct {
	CampaignID   string         `json:"campaign_id"`
	CampaignName string         `json:"campaign_name,omitempty"`
	Targets      []TargetMetric `json:"targets"`
}
