package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/migrate"
)

func newMigrateCmd(log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply any outstanding migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openDB(log)
			if err != nil {
				return err
			}
			defer h.Disconnect() //nolint:errcheck

			rt := migrate.New(h, log, migrate.AllMigrations())
			if err := rt.Initialize(cmd.Context()); err != nil {
				return err
			}
			status, err := rt.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("applied: %d, pending: %d\n", status.Executed, status.Pending)
			return nil
		},
	}
}
