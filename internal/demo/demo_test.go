package demo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/JenAIx/best-sub007/internal/migrate"
	"github.com/JenAIx/best-sub007/internal/repository"
	"github.com/JenAIx/best-sub007/internal/seed"
	"github.com/JenAIx/best-sub007/internal/storage"
)

func openTestDB(t *testing.T) *storage.Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo_test.sqlite")
	h, err := storage.Connect(path, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = h.Disconnect() })
	ctx := context.Background()
	if err := migrate.New(h, nil, migrate.AllMigrations()).Initialize(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := seed.New(h, nil).Load(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return h
}

func TestGenerateThreePatients(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	g := New(h, nil)

	report, err := g.Generate(ctx, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.PatientCount != 3 {
		t.Errorf("PatientCount = %d, want 3", report.PatientCount)
	}
	if report.VisitCount < 6 || report.VisitCount > 9 {
		t.Errorf("VisitCount = %d, want between 6 and 9", report.VisitCount)
	}
	if report.ObservationCount < 60 || report.ObservationCount > 90 {
		t.Errorf("ObservationCount = %d, want between 60 and 90", report.ObservationCount)
	}
	if report.ObservationCount != report.VisitCount*10 {
		t.Errorf("expected exactly 10 observations per visit, got %d observations over %d visits",
			report.ObservationCount, report.VisitCount)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	h1 := openTestDB(t)
	h2 := openTestDB(t)
	ctx := context.Background()

	rep1, err := New(h1, nil).Generate(ctx, 2)
	if err != nil {
		t.Fatalf("Generate h1: %v", err)
	}
	rep2, err := New(h2, nil).Generate(ctx, 2)
	if err != nil {
		t.Fatalf("Generate h2: %v", err)
	}
	if rep1.VisitCount != rep2.VisitCount || rep1.ObservationCount != rep2.ObservationCount {
		t.Fatalf("expected identical shape across runs, got %+v vs %+v", rep1, rep2)
	}

	obs1 := repository.NewObservationRepository(h1, nil)
	obs2 := repository.NewObservationRepository(h2, nil)
	patients1 := repository.NewPatientRepository(h1, nil)
	patients2 := repository.NewPatientRepository(h2, nil)

	p1, err := patients1.FindByPatientCode(ctx, "DEMO_PATIENT_01")
	if err != nil {
		t.Fatalf("find patient h1: %v", err)
	}
	p2, err := patients2.FindByPatientCode(ctx, "DEMO_PATIENT_01")
	if err != nil {
		t.Fatalf("find patient h2: %v", err)
	}

	rows1, err := obs1.FindByPatientNum(ctx, p1.PatientNum)
	if err != nil {
		t.Fatalf("find observations h1: %v", err)
	}
	rows2, err := obs2.FindByPatientNum(ctx, p2.PatientNum)
	if err != nil {
		t.Fatalf("find observations h2: %v", err)
	}
	if len(rows1) != len(rows2) {
		t.Fatalf("expected same observation count for DEMO_PATIENT_01 across runs, got %d vs %d", len(rows1), len(rows2))
	}
	for i := range rows1 {
		if rows1[i].ConceptCD != rows2[i].ConceptCD {
			t.Errorf("row %d concept mismatch: %s vs %s", i, rows1[i].ConceptCD, rows2[i].ConceptCD)
		}
		if rows1[i].NumericValue == nil || rows2[i].NumericValue == nil || *rows1[i].NumericValue != *rows2[i].NumericValue {
			t.Errorf("row %d value mismatch: %+v vs %+v", i, rows1[i].NumericValue, rows2[i].NumericValue)
		}
	}
}

func TestDeleteDemoPatientsCascades(t *testing.T) {
	h := openTestDB(t)
	ctx := context.Background()
	g := New(h, nil)

	if _, err := g.Generate(ctx, 3); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	deleted, err := g.DeleteDemoPatients(ctx)
	if err != nil {
		t.Fatalf("DeleteDemoPatients: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}

	patients := repository.NewPatientRepository(h, nil)
	remaining, err := patients.FindBySourceSystem(ctx, "DEMO")
	if err != nil {
		t.Fatalf("find remaining demo patients: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected no demo patients left, got %d", len(remaining))
	}

	obs := repository.NewObservationRepository(h, nil)
	rows, err := obs.FindBySourceSystem(ctx, "DEMO")
	if err != nil {
		t.Fatalf("find remaining demo observations: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected cascade delete to remove demo observations, got %d", len(rows))
	}
}
