package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/seed"
)

func newSeedCmd(log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "load bundled reference data (concepts, code lookups, CQL rules, users)",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openDB(log)
			if err != nil {
				return err
			}
			defer h.Disconnect() //nolint:errcheck

			report, err := seed.New(h, log).Load(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("concepts: %d, code_lookup: %d, cql_rules: %d, users: %d, concept_cql_links: %d\n",
				report.ConceptsInserted, report.CodeLookupInserted, report.CqlRulesInserted,
				report.UsersInserted, report.ConceptCqlLinks)
			return nil
		},
	}
}
