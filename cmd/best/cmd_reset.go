package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/migrate"
)

func newResetCmd(log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "drop every user table and re-apply migrations from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openDB(log)
			if err != nil {
				return err
			}
			defer h.Disconnect() //nolint:errcheck

			rt := migrate.New(h, log, migrate.AllMigrations())
			if err := rt.Reset(cmd.Context()); err != nil {
				return err
			}
			if err := rt.Initialize(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("reset")
			return nil
		},
	}
}
