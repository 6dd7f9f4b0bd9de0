package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/open-justice/intervention-graph/internal/discovery"
	"github.com/open-justice/intervention-graph/internal/model"
)

var (
	reviewStatus   string
	reviewItemType string
	reviewSource   string
	reviewLimit    int

	approveConsent string
	approveGivenBy string
	rejectReason   string
	mergeTarget    string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the discovery review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		items, err := env.Queue.List(ctx, discovery.ListOpts{
			Status:   discovery.Status(reviewStatus),
			ItemType: reviewItemType,
			SourceID: reviewSource,
			Limit:    reviewLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list items")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <item-id>",
	Short: "Promote an item to a canonical intervention",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		iv, err := env.Pipeline.Approve(ctx, args[0], discovery.ApproveOpts{
			ConsentLevel: model.ConsentLevel(approveConsent),
			GivenBy:      approveGivenBy,
		})
		if err != nil {
			return eris.Wrap(err, "approve")
		}

		zap.L().Info("item approved",
			zap.String("item_id", args[0]),
			zap.String("intervention_id", iv.ID),
			zap.String("consent_level", string(iv.ConsentLevel)),
		)
		return nil
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <item-id>",
	Short: "Reject an item with a reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.Reject(ctx, args[0], rejectReason); err != nil {
			return eris.Wrap(err, "reject")
		}

		zap.L().Info("item rejected", zap.String("item_id", args[0]), zap.String("reason", rejectReason))
		return nil
	},
}

var reviewMergeCmd = &cobra.Command{
	Use:   "merge <item-id>",
	Short: "Fold an item into an existing intervention",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		target := mergeTarget
		if target == "" {
			item, err := env.Queue.Get(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "load item")
			}
			if item.PotentialDuplicateID == nil {
				return eris.New("item has no flagged duplicate; pass --into")
			}
			target = *item.PotentialDuplicateID
		}

		iv, err := env.Pipeline.Merge(ctx, args[0], target)
		if err != nil {
			return eris.Wrap(err, "merge")
		}

		zap.L().Info("item merged",
			zap.String("item_id", args[0]),
			zap.String("intervention_id", iv.ID),
		)
		return nil
	},
}

func init() {
	reviewListCmd.Flags().StringVar(&reviewStatus, "status", "pending", "filter by status")
	reviewListCmd.Flags().StringVar(&reviewItemType, "type", "", "filter by item type")
	reviewListCmd.Flags().StringVar(&reviewSource, "source", "", "filter by source")
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 50, "max items")

	reviewApproveCmd.Flags().StringVar(&approveConsent, "consent-level", "", "consent level for the new intervention (default community_controlled)")
	reviewApproveCmd.Flags().StringVar(&approveGivenBy, "given-by", "", "who recorded the consent grant")

	reviewRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "rejection reason (required)")
	_ = reviewRejectCmd.MarkFlagRequired("reason")

	reviewMergeCmd.Flags().StringVar(&mergeTarget, "into", "", "target intervention ID (default the flagged duplicate)")

	reviewCmd.AddCommand(reviewListCmd, reviewApproveCmd, reviewRejectCmd, reviewMergeCmd)
	rootCmd.AddCommand(reviewCmd)
}
