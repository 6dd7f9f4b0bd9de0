package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/open-justice/intervention-graph/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "graph",
	Short: "Consent-gated intervention evidence graph",
	Long:  "Maintains a knowledge base of youth justice interventions: discovery queue, consent ledger, alpha scoring, and agent-run research sessions.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
