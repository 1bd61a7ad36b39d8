package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/adapters/ads"
	"github.com/ekaya-inc/adpilot/pkg/config"
	"github.com/ekaya-inc/adpilot/pkg/jsonutil"
	"github.com/ekaya-inc/adpilot/pkg/models"
	"github.com/ekaya-inc/adpilot/pkg/services"
)

var (
	campaignFlags []string
	ruleFlag      string
	proposeFlag   bool

	harvestConfigName string
	harvestSources    []string
	harvestMode       string
	harvestCampaign   string
	harvestAdGroup    string
	harvestTargetName string
	harvestSales      float64
	harvestACOS       float64
	harvestClicks     int
	harvestMatchType  string
	harvestNegate     bool
)

func registerEngineCommands(root *cobra.Command) {
	addScopeFlags(optimizeCmd)
	optimizeCmd.Flags().StringArrayVar(&campaignFlags, "campaign", nil, "campaign id to optimize (repeatable, default all campaigns)")
	optimizeCmd.Flags().StringVar(&ruleFlag, "rule", "", "rule preset name from optimizer.presets_file")
	optimizeCmd.Flags().BoolVar(&proposeFlag, "propose", false, "queue the proposed bid changes for review")

	addScopeFlags(harvestCmd)
	f := harvestCmd.Flags()
	f.StringVar(&harvestConfigName, "config-name", "manual", "name recorded on the batch")
	f.StringArrayVar(&harvestSources, "source", nil, "source campaign as id or id=name (repeatable)")
	f.StringVar(&harvestMode, "mode", models.HarvestModeNew, "target mode: new or existing")
	f.StringVar(&harvestCampaign, "target-campaign", "", "destination campaign id (existing mode)")
	f.StringVar(&harvestAdGroup, "target-ad-group", "", "destination ad group id (existing mode)")
	f.StringVar(&harvestTargetName, "target-campaign-name", "", "destination campaign name shown to reviewers")
	f.Float64Var(&harvestSales, "sales", models.DefaultHarvestSalesThreshold, "minimum sales")
	f.Float64Var(&harvestACOS, "acos", 0, "maximum ACOS percent")
	f.IntVar(&harvestClicks, "clicks", 0, "minimum clicks")
	f.StringVar(&harvestMatchType, "match-type", "", "match type for created keywords (default: keep source match type)")
	f.BoolVar(&harvestNegate, "negate", false, "add harvested keywords as negative exact in the source ad group")
	_ = harvestCmd.MarkFlagRequired("source")

	root.AddCommand(optimizeCmd, harvestCmd)
}

func resolveRule(cfg *config.Config) (models.BidRule, error) {
	if ruleFlag == "" {
		return cfg.Optimizer.DefaultRule(), nil
	}
	if cfg.Optimizer.PresetsFile == "" {
		return models.BidRule{}, fmt.Errorf("--rule %q given but optimizer.presets_file is not set", ruleFlag)
	}
	presets, err := config.LoadRulePresets(cfg.Optimizer.PresetsFile)
	if err != nil {
		return models.BidRule{}, err
	}
	rule, ok := presets[ruleFlag]
	if !ok {
		return models.BidRule{}, fmt.Errorf("unknown rule preset %q", ruleFlag)
	}
	return rule, nil
}

// loadCampaignTargets fetches targets for the requested campaigns, or for every
// campaign of the account when none are named.
func loadCampaignTargets(cmd *cobra.Command, session *ads.Session) ([]models.CampaignTargets, error) {
	ctx := cmd.Context()

	campaigns, err := session.QueryCampaigns(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	names := make(map[string]string, len(campaigns))
	ids := make([]string, 0, len(campaigns))
	for _, c := range campaigns {
		id := jsonutil.FirstString(c, "campaignId", "id")
		names[id] = jsonutil.FirstString(c, "name")
		ids = append(ids, id)
	}
	if len(campaignFlags) > 0 {
		ids = campaignFlags
	}

	groups := make([]models.CampaignTargets, 0, len(ids))
	for _, id := range ids {
		raw, err := session.QueryTargets(ctx, id, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list targets of campaign %s: %w", id, err)
		}
		groups = append(groups, models.CampaignTargets{
			CampaignID:   id,
			CampaignName: names[id],
			Targets:      services.ExtractTargetMetrics(raw),
		})
	}
	return groups, nil
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Compute bid changes from target performance",
	Long: `optimize reads keyword targets from the advertising platform and computes
bid changes that move each target toward the rule's target ACOS. With
--propose the changes are queued as one pending batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := scopeFromFlags()
		if err != nil {
			return err
		}
		rule, err := resolveRule(current.cfg)
		if err != nil {
			return err
		}

		session, err := current.sessions.Open(cmd.Context(), scope)
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Close(); err != nil {
				current.logger.Warn("Failed to close session", zap.Error(err))
			}
		}()

		groups, err := loadCampaignTargets(cmd, session)
		if err != nil {
			return err
		}

		result, err := services.OptimizeCampaigns(cmd.Context(), current.pool, groups, rule)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CAMPAIGN\tTARGET\tKEYWORD\tBID\tNEW\tREASON")
		for _, c := range result.Changes() {
			bid := fmt.Sprintf("%.2f", c.NewBid)
			if c.Direction == models.BidDirectionIncrease {
				bid = color.GreenString(bid)
			} else {
				bid = color.RedString(bid)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
				c.CampaignID, c.TargetID, c.Keyword, c.CurrentBid, bid, c.Reason)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		s := result.Summary
		fmt.Printf("analyzed %d: %d up, %d down, %d unchanged (target ACOS %.1f%%)\n",
			s.TotalAnalyzed, s.Increases, s.Decreases, s.Unchanged, s.TargetACOS)

		if !proposeFlag {
			return nil
		}
		recs, err := current.proposals.ProposeBidChanges(cmd.Context(), scope, rule.Name, result.Changes())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			color.Yellow("Nothing to propose")
			return nil
		}
		color.Green("Queued %d changes in batch %s", len(recs), recs[0].BatchID)
		return nil
	},
}

func parseHarvestSources(raw []string) []services.HarvestSource {
	sources := make([]services.HarvestSource, 0, len(raw))
	for _, s := range raw {
		id, name, _ := strings.Cut(s, "=")
		sources = append(sources, services.HarvestSource{
			CampaignID:   strings.TrimSpace(id),
			CampaignName: strings.TrimSpace(name),
		})
	}
	return sources
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Queue keyword harvests from source campaigns",
	Long: `harvest queues one pending harvest change per source campaign. When
applied, converting keywords are promoted into the destination campaign and,
with --negate, blocked in the source.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := scopeFromFlags()
		if err != nil {
			return err
		}

		params := models.HarvestParams{
			TargetMode:       harvestMode,
			TargetCampaignID: harvestCampaign,
			TargetAdGroupID:  harvestAdGroup,
			SalesThreshold:   harvestSales,
			MatchType:        strings.ToUpper(harvestMatchType),
			NegateInSource:   harvestNegate,
		}
		if cmd.Flags().Changed("acos") {
			params.ACOSThreshold = &harvestACOS
		}
		if cmd.Flags().Changed("clicks") {
			params.ClicksThreshold = &harvestClicks
		}

		recs, err := current.proposals.ProposeHarvest(cmd.Context(), scope, services.HarvestProposal{
			ConfigName:         harvestConfigName,
			Sources:            parseHarvestSources(harvestSources),
			Params:             params,
			TargetCampaignName: harvestTargetName,
		})
		if err != nil {
			return err
		}
		for _, rec := range recs {
			fmt.Printf("%s  %s  %s\n", rec.ID, rec.CampaignName, rec.ProposedValue)
		}
		color.Green("Queued %d harvest changes in batch %s", len(recs), recs[0].BatchID)
		return nil
	},
}
