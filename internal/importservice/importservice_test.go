package importservice

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/JenAIx/best-sub007/internal/conceptcache"
	"github.com/JenAIx/best-sub007/internal/migrate"
	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/repository"
	"github.com/JenAIx/best-sub007/internal/storage"
)

func openTestDB(t *testing.T) *storage.Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "importservice_test.sqlite")
	h, err := storage.Connect(path, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = h.Disconnect() })
	if err := migrate.New(h, nil, migrate.AllMigrations()).Initialize(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return h
}

func seedOneConcept(t *testing.T, ctx context.Context, h *storage.Handle, code string, valType model.ValueType) {
	t.Helper()
	concepts := repository.NewConceptRepository(h, nil)
	if err := concepts.CreateConcept(ctx, model.Concept{
		ConceptCD: code, ConceptPath: "\\Test\\" + code, DisplayName: code, ValTypeCD: valType,
	}); err != nil {
		t.Fatalf("seed concept %s: %v", code, err)
	}
}

func TestImportCreatesPatientsVisitsObservations(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	seedOneConcept(t, ctx, h, "LOINC:8867-4", model.ValueNumeric)

	cache := conceptcache.New(h, nil)
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh cache: %v", err)
	}
	svc := New(h, cache, nil)

	nval := 72.0
	bundle := model.ImportStructure{
		Metadata: model.ImportMetadata{Format: "json"},
		Data: model.ImportData{
			Patients: []model.RawPatient{{PatientCD: "DEMO_PATIENT_01", SexCD: "M"}},
			Visits:   []model.RawVisit{{EncounterNum: "E1", PatientCD: "DEMO_PATIENT_01", StartDate: "2024-01-01"}},
			Observations: []model.RawObservation{
				{PatientCD: "DEMO_PATIENT_01", EncounterNum: "E1", ConceptCD: "LOINC:8867-4", ValTypeCD: "T", NValNum: &nval, StartDate: "2024-01-01"},
			},
		},
	}

	report, err := svc.Import(ctx, bundle, Options{DuplicateStrategy: StrategySkip})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !report.Success {
		t.Fatalf("expected success, patient errors: %+v", report.Patients.Errors)
	}
	if report.Patients.Imported != 1 {
		t.Errorf("Patients.Imported = %d, want 1", report.Patients.Imported)
	}
	if report.Visits.Imported != 1 {
		t.Errorf("Visits.Imported = %d, want 1", report.Visits.Imported)
	}
	if report.Observations.Imported != 1 {
		t.Errorf("Observations.Imported = %d, want 1", report.Observations.Imported)
	}

	patients := repository.NewPatientRepository(h, nil)
	stored, err := patients.FindByPatientCode(ctx, "DEMO_PATIENT_01")
	if err != nil {
		t.Fatalf("find patient: %v", err)
	}

	obs := repository.NewObservationRepository(h, nil)
	rows, err := obs.FindByPatientNum(ctx, stored.PatientNum)
	if err != nil {
		t.Fatalf("find observations: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(rows))
	}
	if rows[0].ValTypeCD != model.ValueNumeric {
		t.Errorf("expected concept cache to override valtype_cd to N, got %s", rows[0].ValTypeCD)
	}
	if rows[0].NumericValue == nil || *rows[0].NumericValue != 72.0 {
		t.Errorf("expected numeric value 72, got %+v", rows[0].NumericValue)
	}
}

func TestImportDuplicateStrategyError(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	cache := conceptcache.New(h, nil)
	svc := New(h, cache, nil)

	bundle := model.ImportStructure{
		Metadata: model.ImportMetadata{Format: "json"},
		Data:     model.ImportData{Patients: []model.RawPatient{{PatientCD: "ERROR_TEST"}}},
	}
	if _, err := svc.Import(ctx, bundle, Options{DuplicateStrategy: StrategySkip}); err != nil {
		t.Fatalf("first import: %v", err)
	}
	_, err := svc.Import(ctx, bundle, Options{DuplicateStrategy: StrategyError})
	if err == nil {
		t.Fatalf("expected second import with strategy=error to fail")
	}
	var merr *model.Error
	if !errors.As(err, &merr) || merr.Kind != model.KindDuplicate {
		t.Errorf("expected model.KindDuplicate, got %v", err)
	}
}

func TestImportCreatesDefaultVisitForOrphanObservation(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	seedOneConcept(t, ctx, h, "LOINC:2947-0", model.ValueNumeric)
	cache := conceptcache.New(h, nil)
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	svc := New(h, cache, nil)

	nval := 140.0
	bundle := model.ImportStructure{
		Metadata: model.ImportMetadata{Format: "json"},
		Data: model.ImportData{
			Patients: []model.RawPatient{{PatientCD: "OBS_NO_VISIT_PATIENT"}},
			Observations: []model.RawObservation{
				{PatientCD: "OBS_NO_VISIT_PATIENT", ConceptCD: "LOINC:2947-0", ValTypeCD: "T", NValNum: &nval, StartDate: "2024-03-01"},
			},
		},
	}
	report, err := svc.Import(ctx, bundle, Options{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.Observations.Imported != 1 {
		t.Fatalf("expected 1 observation imported via a default visit, errors: %+v", report.Observations.Errors)
	}

	patients := repository.NewPatientRepository(h, nil)
	stored, err := patients.FindByPatientCode(ctx, "OBS_NO_VISIT_PATIENT")
	if err != nil {
		t.Fatalf("find patient: %v", err)
	}
	visits := repository.NewVisitRepository(h, nil)
	vs, err := visits.FindByPatientNum(ctx, stored.PatientNum)
	if err != nil {
		t.Fatalf("find visits: %v", err)
	}
	if len(vs) != 1 {
		t.Fatalf("expected exactly one default visit to have been created, got %d", len(vs))
	}
}

func TestImportNormalizesConceptCodeAcrossPrefixAlias(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	seedOneConcept(t, ctx, h, "LOINC:8462-4", model.ValueNumeric)

	cache := conceptcache.New(h, nil)
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh cache: %v", err)
	}
	svc := New(h, cache, nil)

	nval := 80.0
	bundle := model.ImportStructure{
		Metadata: model.ImportMetadata{Format: "json"},
		Data: model.ImportData{
			Patients: []model.RawPatient{{PatientCD: "PREFIX_ALIAS_PATIENT"}},
			Visits:   []model.RawVisit{{EncounterNum: "E1", PatientCD: "PREFIX_ALIAS_PATIENT", StartDate: "2024-02-01"}},
			Observations: []model.RawObservation{
				// LID: is the alias prefix for LOINC; the concept above was
				// seeded under the canonical LOINC: form.
				{PatientCD: "PREFIX_ALIAS_PATIENT", EncounterNum: "E1", ConceptCD: "LID:8462-4", ValTypeCD: "T", NValNum: &nval, StartDate: "2024-02-01"},
			},
		},
	}

	report, err := svc.Import(ctx, bundle, Options{DuplicateStrategy: StrategySkip})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.Observations.Imported != 1 {
		t.Fatalf("expected 1 observation imported via the LID: alias, errors: %+v", report.Observations.Errors)
	}

	patients := repository.NewPatientRepository(h, nil)
	stored, err := patients.FindByPatientCode(ctx, "PREFIX_ALIAS_PATIENT")
	if err != nil {
		t.Fatalf("find patient: %v", err)
	}
	obs := repository.NewObservationRepository(h, nil)
	rows, err := obs.FindByPatientNum(ctx, stored.PatientNum)
	if err != nil {
		t.Fatalf("find observations: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(rows))
	}
	if rows[0].ConceptCD != "LOINC:8462-4" {
		t.Errorf("expected observation stored under canonical concept_cd LOINC:8462-4, got %q", rows[0].ConceptCD)
	}
	if rows[0].ValTypeCD != model.ValueNumeric {
		t.Errorf("expected concept cache to resolve LID: alias and override valtype_cd to N, got %s", rows[0].ValTypeCD)
	}

	concepts := repository.NewConceptRepository(h, nil)
	viaAlias, err := concepts.FindByConceptCode(ctx, "LID:8462-4")
	if err != nil {
		t.Fatalf("FindByConceptCode via alias: %v", err)
	}
	viaCanonical, err := concepts.FindByConceptCode(ctx, "LOINC:8462-4")
	if err != nil {
		t.Fatalf("FindByConceptCode via canonical: %v", err)
	}
	if viaAlias.ConceptCD != viaCanonical.ConceptCD {
		t.Errorf("LID:8462-4 and LOINC:8462-4 resolved to different concept rows: %q vs %q", viaAlias.ConceptCD, viaCanonical.ConceptCD)
	}
}

func TestImportRejectsBundleWithoutPatients(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	cache := conceptcache.New(h, nil)
	svc := New(h, cache, nil)

	report, err := svc.Import(ctx, model.ImportStructure{Metadata: model.ImportMetadata{Format: "json"}}, Options{})
	if err != nil {
		t.Fatalf("Import should report structurally, not error: %v", err)
	}
	if report.Success {
		t.Fatalf("expected structure validation failure")
	}
	found := false
	for _, d := range report.Patients.Errors {
		if d.Code == "NO_PATIENTS" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected NO_PATIENTS diagnostic, got %+v", report.Patients.Errors)
	}
}
