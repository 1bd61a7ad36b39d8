package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/adpilot/pkg/models"
)

var (
	credentialFlag string
	profileFlag    string
	statusFlag     string
	typeFlag       string
	sourceFlag     string
	batchFlag      string
	limitFlag      int
	activityLimit  int
	noteFlag       string
	idsFlag        []string
)

func registerChangeCommands(root *cobra.Command) {
	for _, cmd := range []*cobra.Command{summaryCmd, listCmd, activityCmd} {
		addScopeFlags(cmd)
	}
	listCmd.Flags().StringVar(&statusFlag, "status", "", "filter by status")
	listCmd.Flags().StringVar(&typeFlag, "type", "", "filter by change type")
	listCmd.Flags().StringVar(&sourceFlag, "source", "", "filter by source")
	listCmd.Flags().StringVar(&batchFlag, "batch", "", "filter by batch id")
	listCmd.Flags().IntVar(&limitFlag, "limit", 0, "maximum rows (default 100, max 1000)")
	activityCmd.Flags().IntVar(&activityLimit, "limit", 50, "maximum rows")

	for _, cmd := range []*cobra.Command{approveCmd, rejectCmd} {
		cmd.Flags().StringVar(&noteFlag, "note", "", "review note")
	}

	applyCmd.Flags().StringSliceVar(&idsFlag, "ids", nil, "change ids to apply")
	applyCmd.Flags().StringVar(&batchFlag, "batch", "", "apply every approved change of a batch")

	root.AddCommand(summaryCmd, listCmd, showCmd, approveCmd, rejectCmd, applyCmd, deleteCmd, activityCmd)
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&credentialFlag, "credential", "", "credential id (required)")
	cmd.Flags().StringVar(&profileFlag, "profile", "", "advertiser profile id")
	_ = cmd.MarkFlagRequired("credential")
}

func scopeFromFlags() (models.Scope, error) {
	id, err := uuid.Parse(credentialFlag)
	if err != nil {
		return models.Scope{}, fmt.Errorf("invalid --credential %q: %w", credentialFlag, err)
	}
	scope := models.Scope{CredentialID: id, ProfileID: profileFlag}
	return scope, scope.Validate()
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid change id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func statusColor(status string) *color.Color {
	switch status {
	case models.ChangeStatusApplied, models.ChangeStatusApproved:
		return color.New(color.FgGreen)
	case models.ChangeStatusFailed, models.ChangeStatusRejected:
		return color.New(color.FgRed)
	case models.OutcomeSkipped:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count change records by status, type and source",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := scopeFromFlags()
		if err != nil {
			return err
		}
		summary, err := current.queue.Summary(cmd.Context(), models.ChangeFilter{
			CredentialID: &scope.CredentialID,
			ProfileID:    scope.ProfileID,
		})
		if err != nil {
			return err
		}

		fmt.Printf("pending %d  approved %d  rejected %d  applied %d  failed %d\n",
			summary.TotalPending, summary.TotalApproved, summary.TotalRejected,
			summary.TotalApplied, summary.TotalFailed)
		for t, n := range summary.ByType {
			fmt.Printf("  pending %-22s %d\n", t, n)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List change records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := scopeFromFlags()
		if err != nil {
			return err
		}
		recs, err := current.queue.List(cmd.Context(), models.ChangeFilter{
			CredentialID: &scope.CredentialID,
			ProfileID:    scope.ProfileID,
			Status:       statusFlag,
			ChangeType:   typeFlag,
			Source:       sourceFlag,
			BatchID:      batchFlag,
			Limit:        limitFlag,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tENTITY\tCURRENT\tPROPOSED\tBATCH")
		for _, rec := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.ID, statusColor(rec.Status).Sprint(rec.Status), rec.ChangeType,
				rec.DisplayName(), rec.CurrentValue, rec.ProposedValue, rec.BatchID)
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <change-id>",
	Short: "Print one change record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		rec, err := current.queue.Get(cmd.Context(), ids[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func reviewCommand(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <change-id>...",
		Short: strings.ToUpper(action[:1]) + action[1:] + " pending changes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			ctx := models.WithHumanReviewer(cmd.Context(), reviewer)

			if len(ids) == 1 {
				rec, err := current.queue.Review(ctx, ids[0], action, noteFlag)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", rec.ID, statusColor(rec.Status).Sprint(rec.Status))
				return nil
			}

			n, err := current.queue.BatchReview(ctx, ids, action, noteFlag)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d of %d changes (others were not pending)\n",
				statusColor(mustReviewStatus(action)).Sprint(models.ReviewPastTense(action)), n, len(ids))
			return nil
		},
	}
}

func mustReviewStatus(action string) string {
	status, _ := models.ReviewStatus(action)
	return status
}

var (
	approveCmd = reviewCommand(models.ReviewActionApprove)
	rejectCmd  = reviewCommand(models.ReviewActionReject)
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply approved changes to the advertising platform",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(idsFlag)
		if err != nil {
			return err
		}
		ctx := models.WithHumanReviewer(cmd.Context(), reviewer)

		report, err := current.pipeline.Apply(ctx, models.ApplyRequest{ChangeIDs: ids, BatchID: batchFlag})
		if err != nil {
			return err
		}

		for _, o := range report.Results {
			line := fmt.Sprintf("%s %-22s %s", o.ID, o.ChangeType, statusColor(o.Status).Sprint(o.Status))
			switch {
			case o.Error != "":
				line += "  " + o.Error
			case o.Warning != "":
				line += "  " + color.YellowString(o.Warning)
			}
			fmt.Println(line)
		}
		fmt.Printf("applied %d, failed %d, skipped %d of %d\n", report.Applied, report.Failed, report.Skipped, report.Total)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <change-id>",
	Short: "Delete a pending or rejected change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		if err := current.queue.Delete(cmd.Context(), ids[0]); err != nil {
			return err
		}
		color.Green("Deleted %s", ids[0])
		return nil
	},
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := scopeFromFlags()
		if err != nil {
			return err
		}
		entries, err := current.activity.ListRecent(cmd.Context(), &scope.CredentialID, activityLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  %-22s %-8s %s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Action,
				statusColor(activityStatusColor(e.Status)).Sprint(e.Status), e.Description)
		}
		return nil
	},
}

func activityStatusColor(status string) string {
	switch status {
	case models.ActivityStatusSuccess:
		return models.ChangeStatusApplied
	case models.ActivityStatusError:
		return models.ChangeStatusFailed
	default:
		return models.OutcomeSkipped
	}
}
