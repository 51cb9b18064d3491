package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/JenAIx/best-sub007/internal/conceptcache"
	"github.com/JenAIx/best-sub007/internal/migrate"
	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/repository"
	"github.com/JenAIx/best-sub007/internal/storage"
)

func openTestDB(t *testing.T) *storage.Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "search_test.sqlite")
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

func seedPatients(t *testing.T, ctx context.Context, h *storage.Handle) {
	t.Helper()
	repo := repository.NewPatientRepository(h, nil)
	ages := []int{30, 45, 70}
	sexes := []string{"F", "M", "M"}
	codes := []string{"PAT_A", "PAT_B", "PAT_C"}
	for i := range codes {
		age := ages[i]
		if _, err := repo.CreatePatient(ctx, model.Patient{PatientCD: codes[i], SexCD: sexes[i], AgeInYears: &age}); err != nil {
			t.Fatalf("create patient %s: %v", codes[i], err)
		}
	}
}

func TestSearchPatientsFiltersBySexAndAge(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	seedPatients(t, ctx, h)

	svc := New(h, nil, nil)
	minAge := 40
	page, err := svc.SearchPatients(ctx, PatientFilter{SexCD: "M", MinAge: &minAge}, Paging{})
	if err != nil {
		t.Fatalf("SearchPatients: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 matching patients, got %d", page.Total)
	}
	for _, p := range page.Rows {
		if p.SexCD != "M" || p.AgeInYears == nil || *p.AgeInYears < 40 {
			t.Errorf("unexpected row in filtered results: %+v", p)
		}
	}
}

func TestSearchPatientsPaginates(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	seedPatients(t, ctx, h)

	svc := New(h, nil, nil)
	page, err := svc.SearchPatients(ctx, PatientFilter{}, Paging{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("SearchPatients: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("Total = %d, want 3", page.Total)
	}
	if len(page.Rows) != 2 {
		t.Errorf("expected page size 2, got %d rows", len(page.Rows))
	}
}

func seedObservation(t *testing.T, ctx context.Context, h *storage.Handle, conceptCD string, val float64, patientCD string) {
	t.Helper()
	patients := repository.NewPatientRepository(h, nil)
	patientNum, err := patients.CreatePatient(ctx, model.Patient{PatientCD: patientCD})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	visits := repository.NewVisitRepository(h, nil)
	visitID, err := visits.CreateVisit(ctx, model.Visit{PatientNum: patientNum, StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), InOutCD: "O"})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	concepts := repository.NewConceptRepository(h, nil)
	if _, err := concepts.FindByConceptCode(ctx, conceptCD); err != nil {
		if err := concepts.CreateConcept(ctx, model.Concept{ConceptCD: conceptCD, ConceptPath: "\\Test\\" + conceptCD, DisplayName: "Heart Rate", ValTypeCD: model.ValueNumeric}); err != nil {
			t.Fatalf("create concept: %v", err)
		}
	}

	obs := repository.NewObservationRepository(h, nil)
	nval := val
	if _, err := obs.CreateObservation(ctx, model.Observation{
		PatientNum: patientNum, EncounterNum: visitID, ConceptCD: conceptCD,
		ValTypeCD: model.ValueNumeric, NumericValue: &nval, StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("create observation: %v", err)
	}
}

func TestSearchObservationsFiltersByConceptAndValue(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	seedObservation(t, ctx, h, "LOINC:8867-4", 72.0, "OBS_PAT_1")
	seedObservation(t, ctx, h, "LOINC:8867-4", 140.0, "OBS_PAT_2")

	svc := New(h, nil, nil)
	minVal := 100.0
	page, err := svc.SearchObservations(ctx, ObservationFilter{ConceptCD: "LOINC:8867-4", MinValue: &minVal}, Paging{})
	if err != nil {
		t.Fatalf("SearchObservations: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected 1 observation above 100, got %d", page.Total)
	}
	if page.Rows[0].NumericValue == nil || *page.Rows[0].NumericValue != 140.0 {
		t.Errorf("unexpected observation: %+v", page.Rows[0])
	}
}

func TestSearchObservationsResolvesFreeTextViaConceptCache(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	seedObservation(t, ctx, h, "LOINC:8867-4", 72.0, "OBS_PAT_3")

	cache := conceptcache.New(h, nil)
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh cache: %v", err)
	}
	svc := New(h, cache, nil)

	page, err := svc.SearchObservations(ctx, ObservationFilter{FreeText: "Heart Rate"}, Paging{})
	if err != nil {
		t.Fatalf("SearchObservations: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected free-text search to resolve to the Heart Rate concept, got %d rows", page.Total)
	}
	if page.Rows[0].ConceptCD != "LOINC:8867-4" {
		t.Errorf("unexpected concept in results: %s", page.Rows[0].ConceptCD)
	}
}

func TestSearchObservationsUnknownFreeTextReturnsEmpty(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	cache := conceptcache.New(h, nil)
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh cache: %v", err)
	}
	svc := New(h, cache, nil)

	page, err := svc.SearchObservations(ctx, ObservationFilter{FreeText: "Nonexistent Vital Sign"}, Paging{})
	if err != nil {
		t.Fatalf("SearchObservations: %v", err)
	}
	if page.Total != 0 || len(page.Rows) != 0 {
		t.Errorf("expected empty result for unresolved free text, got %+v", page)
	}
}
