package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/conceptcache"
	"github.com/JenAIx/best-sub007/internal/export"
	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/repository"
	"github.com/JenAIx/best-sub007/internal/storage"
)

const dateLayout = "2006-01-02"

func newExportCmd(log *zap.Logger) *cobra.Command {
	var format string
	var compress bool
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "export the full dataset as CSV, JSON, or HL7-CDA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openDB(log)
			if err != nil {
				return err
			}
			defer h.Disconnect() //nolint:errcheck

			bundle, err := buildExportBundle(cmd.Context(), h)
			if err != nil {
				return err
			}

			var body []byte
			switch format {
			case "json":
				body, err = export.ToJSON(bundle, export.Options{Compress: compress})
			case "csv":
				cache := conceptcache.New(h, log)
				if err := cache.Refresh(cmd.Context()); err != nil {
					return err
				}
				body, err = export.ToCSV(bundle, cache, export.Options{Compress: compress})
			case "hl7":
				body, err = export.ToHL7(bundle, nil)
			default:
				return model.ValidationFailure("export", "unknown --format "+format)
			}
			if err != nil {
				return err
			}
			return os.WriteFile(args[0], body, 0o600)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: csv|json|hl7")
	cmd.Flags().BoolVar(&compress, "compress", false, "gzip the output body (csv/json only)")
	return cmd
}

// buildExportBundle reads every patient/visit/observation back into the
// canonical model.ImportStructure the Export Pipeline formats from.
func buildExportBundle(ctx context.Context, h *storage.Handle) (model.ImportStructure, error) {
	patients, err := repository.NewPatientRepository(h, nil).FindAll(ctx, repository.FindAllOptions{})
	if err != nil {
		return model.ImportStructure{}, err
	}
	visits, err := repository.NewVisitRepository(h, nil).FindAll(ctx, repository.FindAllOptions{})
	if err != nil {
		return model.ImportStructure{}, err
	}
	observations, err := repository.NewObservationRepository(h, nil).FindAll(ctx, repository.FindAllOptions{})
	if err != nil {
		return model.ImportStructure{}, err
	}

	patientByNum := map[int64]model.Patient{}
	bundle := model.ImportStructure{Metadata: model.ImportMetadata{Format: "json"}}
	for _, p := range patients {
		patientByNum[p.PatientNum] = p
		bundle.Data.Patients = append(bundle.Data.Patients, model.RawPatient{
			PatientCD: p.PatientCD, SexCD: p.SexCD, AgeInYears: p.AgeInYears,
			BirthDate: formatDatePtr(p.BirthDate), DeathDate: formatDatePtr(p.DeathDate),
			LanguageCD: p.LanguageCD, RaceCD: p.RaceCD, MaritalCD: p.MaritalCD, ReligionCD: p.ReligionCD,
			SourceSystemCD: p.SourceSystemCD,
		})
	}

	for _, v := range visits {
		raw := model.RawVisit{
			EncounterNum: int64ToStr(v.EncounterNum), StartDate: v.StartDate.Format(dateLayout),
			EndDate: formatDatePtr(v.EndDate), InOutCD: v.InOutCD, LocationCD: v.LocationCD,
			ActiveStatusCD: v.ActiveStatusCD, SourceSystemCD: v.SourceSystemCD,
		}
		if p, ok := patientByNum[v.PatientNum]; ok {
			raw.PatientCD = p.PatientCD
		}
		bundle.Data.Visits = append(bundle.Data.Visits, raw)
	}

	for _, o := range observations {
		raw := model.RawObservation{
			ConceptCD: o.ConceptCD, ValTypeCD: string(o.ValTypeCD), NValNum: o.NumericValue,
			UnitCD: o.UnitCD, CategoryCD: o.CategoryCD, ProviderID: o.ProviderID, LocationCD: o.LocationCD,
			SourceSystemCD: o.SourceSystemCD, EncounterNum: int64ToStr(o.EncounterNum),
			StartDate: o.StartDate.Format(dateLayout), EndDate: formatDatePtr(o.EndDate),
		}
		if o.TextValue != nil {
			raw.TValChar = *o.TextValue
		}
		if p, ok := patientByNum[o.PatientNum]; ok {
			raw.PatientCD = p.PatientCD
		}
		bundle.Data.Observations = append(bundle.Data.Observations, raw)
	}

	bundle.Statistics = model.ImportStatistics{
		PatientCount: len(bundle.Data.Patients), VisitCount: len(bundle.Data.Visits), ObservationCount: len(bundle.Data.Observations),
	}
	return bundle, nil
}

func int64ToStr(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

func formatDatePtr(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
