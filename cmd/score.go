package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/open-justice/intervention-graph/internal/model"
	"github.com/open-justice/intervention-graph/internal/scorer"
)

var (
	scoreType         string
	scoreJurisdiction string
	scoreMinAlpha     float64
	scoreLimit        int
	scoreCeiling      string
	scoreSave         bool
)

var scoreCmd = &cobra.Command{
	Use:   "score [intervention-id]",
	Short: "Compute alpha scores and market status",
	Long:  "Scores one intervention, or ranks everything visible at the ceiling when no ID is given. --save appends the run to the snapshot history.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ceiling := model.ConsentAdminCeiling
		if scoreCeiling != "" {
			ceiling, err = model.ParseConsentLevel(scoreCeiling)
			if err != nil {
				return eris.Wrap(err, "parse ceiling")
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if len(args) == 1 {
			score, err := env.Ranker.RankOne(ctx, args[0], ceiling)
			if err != nil {
				return eris.Wrap(err, "score intervention")
			}
			return enc.Encode(score)
		}

		scores, err := env.Ranker.RankAll(ctx, scorer.RankFilters{
			Type:         scoreType,
			Jurisdiction: scoreJurisdiction,
			MinAlpha:     scoreMinAlpha,
			Limit:        scoreLimit,
		}, ceiling)
		if err != nil {
			return eris.Wrap(err, "rank interventions")
		}

		if scoreSave {
			if err := scorer.SaveSnapshots(ctx, env.Pool, scores); err != nil {
				return eris.Wrap(err, "save snapshots")
			}
			zap.L().Info("snapshots saved", zap.Int("count", len(scores)))
		}

		return enc.Encode(scores)
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreType, "type", "", "filter by intervention type")
	scoreCmd.Flags().StringVar(&scoreJurisdiction, "jurisdiction", "", "filter by jurisdiction")
	scoreCmd.Flags().Float64Var(&scoreMinAlpha, "min-alpha", 0, "drop scores below this alpha")
	scoreCmd.Flags().IntVar(&scoreLimit, "limit", 0, "max results")
	scoreCmd.Flags().StringVar(&scoreCeiling, "ceiling", "", "consent ceiling (default unrestricted)")
	scoreCmd.Flags().BoolVar(&scoreSave, "save", false, "append results to the snapshot history")
	rootCmd.AddCommand(scoreCmd)
}
