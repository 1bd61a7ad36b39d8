package models

import (
	"encoding/json"
	"strings"
)

// Composite operation names. These are not adapter tools; the execution
// pipeline routes them to multi-step executors.
const (
	OperationHarvestExecute       = "_harvest_execute"
	OperationCampaignBundleCreate = "_campaign_bundle_create"
)

// Adapter tool names used when building commands.
const (
	ToolUpdateTargetBid      = "campaign_management-update_target_bid"
	ToolUpdateCampaignBudget = "campaign_management-update_campaign_budget"
	ToolUpdateCampaignState  = "campaign_management-update_campaign_state"
	ToolUpdateTarget         = "campaign_management-update_target"
	ToolCreateHarvestTargets = "campaign_management-create_campaign_harvest_targets"
	ToolCreateTarget         = "campaign_management-create_target"
	ToolDeleteTarget         = "campaign_management-delete_target"
	ToolCreateCampaign       = "campaign_management-create_campaign"
	ToolUpdateCampaign       = "campaign_management-update_campaign"
	ToolDeleteCampaign       = "campaign_management-delete_campaign"
	ToolCreateAdGroup        = "campaign_management-create_ad_group"
	ToolUpdateAdGroup        = "campaign_management-update_ad_group"
	ToolDeleteAdGroup        = "campaign_management-delete_ad_group"
	ToolCreateAd             = "campaign_management-create_ad"
	ToolUpdateAd             = "campaign_management-update_ad"
	ToolDeleteAd             = "campaign_management-delete_ad"
	ToolAddCountryCampaign   = "campaign_management-add_country_campaign"
	ToolQueryCampaign        = "campaign_management-query_campaign"
	ToolQueryAdGroup         = "campaign_management-query_ad_group"
	ToolQueryTarget          = "campaign_management-query_target"
	ToolQueryAd              = "campaign_management-query_ad"
)

const (
	operationUnknownSentinel = "unknown"
	compositeOperationPrefix = "_"
)

// CommandKind is the closed set of execution strategies for a mutation command.
// CommandKindHarvestExisting runs the harvest composite, which also carries
// new-campaign harvests that negate in the source; its target_mode argument
// tells the two apart.
type CommandKind string

const (
	CommandKindUnknown         CommandKind = "unknown"
	CommandKindSingleCall      CommandKind = "single_call"
	CommandKindHarvestExisting CommandKind = "harvest_existing"
	CommandKindCampaignBundle  CommandKind = "campaign_bundle"
)

// ResolveCommandKind maps an operation name to its execution strategy.
func ResolveCommandKind(operation string) CommandKind {
	switch {
	case operation == "" || operation == operationUnknownSentinel:
		return CommandKindUnknown
	case operation == OperationHarvestExecute:
		return CommandKindHarvestExisting
	case operation == OperationCampaignBundleCreate:
		return CommandKindCampaignBundle
	case strings.HasPrefix(operation, compositeOperationPrefix):
		return CommandKindUnknown
	default:
		return CommandKindSingleCall
	}
}

// MutationCommand is the exact operation and arguments the execution pipeline
// will perform for a change. It is resolved once at proposal time.
type MutationCommand struct {
	Operation string         `json:"operation"`
	Arguments map[string]any `json:"arguments"`
	Kind      CommandKind    `json:"kind"`
}

// NewMutationCommand builds a command and resolves its kind.
func NewMutationCommand(operation string, arguments map[string]any) MutationCommand {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return MutationCommand{
		Operation: operation,
		Arguments: arguments,
		Kind:      ResolveCommandKind(operation),
	}
}

// UnmarshalJSON keeps a stored kind and only resolves it for rows written
// before the kind was persisted.
func (m *MutationCommand) UnmarshalJSON(data []byte) error {
	var raw struct {
		Operation string         `json:"operation"`
		Arguments map[string]any `json:"arguments"`
		Kind      CommandKind    `json:"kind"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Operation = raw.Operation
	m.Arguments = raw.Arguments
	if m.Arguments == nil {
		m.Arguments = map[string]any{}
	}
	m.Kind = raw.Kind
	if m.Kind == "" {
		m.Kind = ResolveCommandKind(raw.Operation)
	}
	return nil
}

// IsExecutable reports whether the pipeline has a strategy for this command.
func (m MutationCommand) IsExecutable() bool {
	switch m.Kind {
	case CommandKindSingleCall, CommandKindHarvestExisting, CommandKindCampaignBundle:
		return true
	default:
		return false
	}
}

// Body returns the "body" object of the arguments, or nil.
func (m MutationCommand) Body() map[string]any {
	body, _ := m.Arguments["body"].(map[string]any)
	return body
}

func bodyArgs(body map[string]any) map[string]any {
	return map[string]any{"body": body}
}

// BidUpdateCommand builds a single-target bid update.
func BidUpdateCommand(targetID string, bid float64) MutationCommand {
	return NewMutationCommand(ToolUpdateTargetBid, bodyArgs(map[string]any{
		"targets": []any{
			map[string]any{"targetId": targetID, "bid": bid},
		},
	}))
}

// BudgetUpdateCommand builds a daily budget update for a campaign.
func BudgetUpdateCommand(campaignID string, dailyBudget float64) MutationCommand {
	return NewMutationCommand(ToolUpdateCampaignBudget, bodyArgs(map[string]any{
		"campaigns": []any{
			map[string]any{"campaignId": campaignID, "dailyBudget": dailyBudget},
		},
	}))
}

// CampaignStateCommand builds a campaign state change (ENABLED, PAUSED, ARCHIVED).
func CampaignStateCommand(campaignID, state string) MutationCommand {
	return NewMutationCommand(ToolUpdateCampaignState, bodyArgs(map[string]any{
		"campaigns": []any{
			map[string]any{"campaignId": campaignID, "state": strings.ToUpper(state)},
		},
	}))
}

// TargetStateCommand builds a target state change.
func TargetStateCommand(targetID, state string) MutationCommand {
	return NewMutationCommand(ToolUpdateTarget, bodyArgs(map[string]any{
		"targets": []any{
			map[string]any{"targetId": targetID, "state": strings.ToUpper(state)},
		},
	}))
}

// HarvestNewCommand builds the platform-native harvest into a new manual campaign.
func HarvestNewCommand(sourceCampaignID string, salesThreshold float64, acosThreshold *float64) MutationCommand {
	req := map[string]any{
		"sourceCampaignId": sourceCampaignID,
		"salesThreshold":   salesThreshold,
	}
	if acosThreshold != nil {
		req["acosThreshold"] = *acosThreshold
	}
	return NewMutationCommand(ToolCreateHarvestTargets, bodyArgs(map[string]any{
		"harvestRequests": []any{req},
	}))
}

// HarvestExistingCommand builds the composite harvest into an existing campaign.
func HarvestExistingCommand(p HarvestParams) MutationCommand {
	return harvestCompositeCommand(p, HarvestModeExisting)
}

// HarvestNewNegatingCommand builds the composite harvest into a new campaign
// followed by negation of the harvested keywords in the source campaign. The
// single platform call of HarvestNewCommand cannot negate.
func HarvestNewNegatingCommand(p HarvestParams) MutationCommand {
	p.NegateInSource = true
	return harvestCompositeCommand(p, HarvestModeNew)
}

func harvestCompositeCommand(p HarvestParams, mode string) MutationCommand {
	args := map[string]any{
		"source_campaign_id": p.SourceCampaignID,
		"sales_threshold":    p.SalesThreshold,
		"negate_in_source":   p.NegateInSource,
		"target_mode":        mode,
	}
	if p.TargetCampaignID != "" {
		args["target_campaign_id"] = p.TargetCampaignID
	}
	if p.TargetAdGroupID != "" {
		args["target_ad_group_id"] = p.TargetAdGroupID
	}
	if p.ACOSThreshold != nil {
		args["acos_threshold"] = *p.ACOSThreshold
	}
	if p.ClicksThreshold != nil {
		args["clicks_threshold"] = *p.ClicksThreshold
	}
	if p.MatchType != "" {
		args["match_type"] = p.MatchType
	}
	return NewMutationCommand(OperationHarvestExecute, args)
}

// CampaignBundleCommand builds the composite campaign creation.
func CampaignBundleCommand(plan CampaignPlan) MutationCommand {
	return NewMutationCommand(OperationCampaignBundleCreate, map[string]any{
		"plan": plan.ToMap(),
	})
}
