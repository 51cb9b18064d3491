package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/migrate"
)

func newInitCmd(log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dbPath]",
		Short: "create the database file and apply every migration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				dbPathFlag = args[0]
			}
			h, err := openDB(log)
			if err != nil {
				return err
			}
			defer h.Disconnect() //nolint:errcheck

			rt := migrate.New(h, log, migrate.AllMigrations())
			if err := rt.Initialize(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("initialized")
			return nil
		},
	}
}
