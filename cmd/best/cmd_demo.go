package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/demo"
)

func newDemoCmd(log *zap.Logger) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "generate deterministic synthetic patients for onboarding or testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openDB(log)
			if err != nil {
				return err
			}
			defer h.Disconnect() //nolint:errcheck

			report, err := demo.New(h, log).Generate(cmd.Context(), count)
			if err != nil {
				return err
			}
			cmd.Printf("batch: %s, patients: %d, visits: %d, observations: %d\n",
				report.BatchID, report.PatientCount, report.VisitCount, report.ObservationCount)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 3, "number of synthetic patients to create")
	return cmd
}
