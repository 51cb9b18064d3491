package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/conceptcache"
	"github.com/JenAIx/best-sub007/internal/importpipeline"
	"github.com/JenAIx/best-sub007/internal/importservice"
	"github.com/JenAIx/best-sub007/internal/model"
)

func newImportCmd(log *zap.Logger) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "import a CSV, JSON, or HL7-CDA bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			parsed := importpipeline.ImportFile(content, filepath.Base(path))
			if !parsed.Success {
				return model.ValidationFailure("import", fmt.Sprintf("%d parse errors, first: %v", len(parsed.Errors), firstDiagnostic(parsed.Errors)))
			}

			var dup importservice.DuplicateStrategy
			switch strategy {
			case "", "skip":
				dup = importservice.StrategySkip
			case "update":
				dup = importservice.StrategyUpdate
			case "error":
				dup = importservice.StrategyError
			default:
				return model.ValidationFailure("import", "unknown --strategy "+strategy)
			}

			h, err := openDB(log)
			if err != nil {
				return err
			}
			defer h.Disconnect() //nolint:errcheck

			cache := conceptcache.New(h, log)
			if err := cache.Refresh(cmd.Context()); err != nil {
				return err
			}

			svc := importservice.New(h, cache, log)
			report, err := svc.Import(cmd.Context(), parsed.Data, importservice.Options{DuplicateStrategy: dup})
			if err != nil {
				return err
			}
			if !report.Success {
				return model.ValidationFailure("import", "structural validation failed")
			}
			cmd.Printf("patients: %d, visits: %d, observations: %d\n",
				report.Patients.Imported, report.Visits.Imported, report.Observations.Imported)
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "skip", "duplicate policy: skip|update|error")
	return cmd
}

func firstDiagnostic(diags []model.ImportDiagnostic) string {
	if len(diags) == 0 {
		return ""
	}
	return diags[0].Message
}
