package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/open-justice/intervention-graph/internal/scorer"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update all database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Entities.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate entities")
		}
		if err := env.Ledger.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate consent ledger")
		}
		if err := env.Queue.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate discovery queue")
		}
		if err := env.Sessions.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate research sessions")
		}
		if err := scorer.MigrateSnapshots(ctx, env.Pool); err != nil {
			return eris.Wrap(err, "migrate alpha snapshots")
		}

		zap.L().Info("migrations complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
