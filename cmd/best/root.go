package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/pkg/config"
)

// dbPathFlag is shared by every subcommand that opens a database. Its
// default comes from the loaded config (BEST_DB_PATH, or ~/.best/best.sqlite).
var dbPathFlag string

func newRootCmd(log *zap.Logger, cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "best",
		Short:         "BEST clinical research data engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPathFlag, "db", cfg.DBPath, "path to the database file (default: $BEST_DB_PATH)")

	root.AddCommand(
		newInitCmd(log),
		newMigrateCmd(log),
		newSeedCmd(log),
		newImportCmd(log),
		newExportCmd(log),
		newDemoCmd(log),
		newResetCmd(log),
	)
	return root
}
