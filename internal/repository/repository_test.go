package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/JenAIx/best-sub007/internal/migrate"
	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

func openTestHandle(t *testing.T) *storage.Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo_test.sqlite")
	h, err := storage.Connect(path, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = h.Disconnect() })
	rt := migrate.New(h, nil, migrate.AllMigrations())
	if err := rt.Initialize(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return h
}

func seedConcept(t *testing.T, ctx context.Context, cr *ConceptRepository, code string) {
	t.Helper()
	if err := cr.CreateConcept(ctx, model.Concept{
		ConceptCD:   code,
		ConceptPath: `\BEST\TEST`,
		DisplayName: "test concept",
		ValTypeCD:   model.ValueNumeric,
	}); err != nil {
		t.Fatalf("seed concept: %v", err)
	}
}

func TestPatientCreateFindUniqueness(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()
	repo := NewPatientRepository(h, nil)

	now := time.Now()
	id, err := repo.CreatePatient(ctx, model.Patient{
		PatientCD: "P001",
		SexCD:     "M",
		Audit:     model.Audit{ImportDate: now, UpdateDate: now},
	})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected nonzero patient_num")
	}

	if _, err := repo.CreatePatient(ctx, model.Patient{PatientCD: "P001", Audit: model.Audit{ImportDate: now, UpdateDate: now}}); err == nil {
		t.Fatalf("expected duplicate error on repeated patient_cd")
	}

	found, err := repo.FindByPatientCode(ctx, "P001")
	if err != nil {
		t.Fatalf("FindByPatientCode: %v", err)
	}
	if found.SexCD != "M" {
		t.Errorf("SexCD = %q, want M", found.SexCD)
	}
}

func TestPatientUpdateMergesOnlyPatchedFields(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()
	repo := NewPatientRepository(h, nil)
	now := time.Now()

	num, err := repo.CreatePatient(ctx, model.Patient{
		PatientCD: "P002", SexCD: "F", RaceCD: "ASIAN",
		Audit: model.Audit{ImportDate: now, UpdateDate: now},
	})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	updated, err := repo.UpdatePatient(ctx, num, model.Patient{RaceCD: "WHITE"})
	if err != nil {
		t.Fatalf("UpdatePatient: %v", err)
	}
	if updated.RaceCD != "WHITE" {
		t.Errorf("RaceCD = %q, want WHITE", updated.RaceCD)
	}
	if updated.SexCD != "F" {
		t.Errorf("SexCD changed unexpectedly: %q", updated.SexCD)
	}
}

func TestVisitRejectsEndBeforeStart(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()
	patients := NewPatientRepository(h, nil)
	visits := NewVisitRepository(h, nil)
	now := time.Now()

	num, err := patients.CreatePatient(ctx, model.Patient{PatientCD: "P010", Audit: model.Audit{ImportDate: now, UpdateDate: now}})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	bad := now.Add(-time.Hour)
	_, err = visits.CreateVisit(ctx, model.Visit{
		PatientNum: num, StartDate: now, EndDate: &bad,
		Audit: model.Audit{ImportDate: now, UpdateDate: now},
	})
	if err == nil {
		t.Fatalf("expected validation error for end_date before start_date")
	}
}

func TestObservationValueTypeRouting(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()
	patients := NewPatientRepository(h, nil)
	visits := NewVisitRepository(h, nil)
	concepts := NewConceptRepository(h, nil)
	obs := NewObservationRepository(h, nil)
	now := time.Now()

	num, err := patients.CreatePatient(ctx, model.Patient{PatientCD: "P020", Audit: model.Audit{ImportDate: now, UpdateDate: now}})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	enc, err := visits.CreateVisit(ctx, model.Visit{PatientNum: num, StartDate: now, Audit: model.Audit{ImportDate: now, UpdateDate: now}})
	if err != nil {
		t.Fatalf("CreateVisit: %v", err)
	}
	seedConcept(t, ctx, concepts, "TEST:NUM")

	nval := 98.6
	if _, err := obs.CreateObservation(ctx, model.Observation{
		PatientNum: num, EncounterNum: enc, ConceptCD: "TEST:NUM",
		ValTypeCD: model.ValueNumeric, NumericValue: &nval, StartDate: now,
		Audit: model.Audit{ImportDate: now, UpdateDate: now},
	}); err != nil {
		t.Fatalf("CreateObservation numeric: %v", err)
	}

	if _, err := obs.CreateObservation(ctx, model.Observation{
		PatientNum: num, EncounterNum: enc, ConceptCD: "TEST:NUM",
		ValTypeCD: model.ValueNumeric, StartDate: now,
		Audit: model.Audit{ImportDate: now, UpdateDate: now},
	}); err == nil {
		t.Fatalf("expected validation error: numeric valtype without nval_num")
	}

	tval := "abnormal"
	if _, err := obs.CreateObservation(ctx, model.Observation{
		PatientNum: num, EncounterNum: enc, ConceptCD: "TEST:NUM",
		ValTypeCD: model.ValueText, TextValue: &tval, StartDate: now,
		Audit: model.Audit{ImportDate: now, UpdateDate: now},
	}); err != nil {
		t.Fatalf("CreateObservation text: %v", err)
	}

	found, err := obs.FindByPatientNum(ctx, num)
	if err != nil {
		t.Fatalf("FindByPatientNum: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(found))
	}
}

func TestPatientDeleteCascadesToVisitsAndObservations(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()
	patients := NewPatientRepository(h, nil)
	visits := NewVisitRepository(h, nil)
	concepts := NewConceptRepository(h, nil)
	obs := NewObservationRepository(h, nil)
	now := time.Now()

	num, err := patients.CreatePatient(ctx, model.Patient{PatientCD: "P030", Audit: model.Audit{ImportDate: now, UpdateDate: now}})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	enc, err := visits.CreateVisit(ctx, model.Visit{PatientNum: num, StartDate: now, Audit: model.Audit{ImportDate: now, UpdateDate: now}})
	if err != nil {
		t.Fatalf("CreateVisit: %v", err)
	}
	seedConcept(t, ctx, concepts, "TEST:CASCADE")
	nval := 1.0
	if _, err := obs.CreateObservation(ctx, model.Observation{
		PatientNum: num, EncounterNum: enc, ConceptCD: "TEST:CASCADE",
		ValTypeCD: model.ValueNumeric, NumericValue: &nval, StartDate: now,
		Audit: model.Audit{ImportDate: now, UpdateDate: now},
	}); err != nil {
		t.Fatalf("CreateObservation: %v", err)
	}

	if err := patients.Delete(ctx, num); err != nil {
		t.Fatalf("Delete patient: %v", err)
	}

	remainingVisits, err := visits.FindByPatientNum(ctx, num)
	if err != nil {
		t.Fatalf("FindByPatientNum visits: %v", err)
	}
	if len(remainingVisits) != 0 {
		t.Errorf("expected visits cascaded away, found %d", len(remainingVisits))
	}
	remainingObs, err := obs.FindByPatientNum(ctx, num)
	if err != nil {
		t.Fatalf("FindByPatientNum obs: %v", err)
	}
	if len(remainingObs) != 0 {
		t.Errorf("expected observations cascaded away, found %d", len(remainingObs))
	}
}

func TestUserRepositoryPasswordLifecycle(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()
	users := NewUserRepository(h, nil)
	now := time.Now()

	if _, err := users.CreateUser(ctx, model.User{
		UserCD: "alice", DisplayName: "Alice", ColumnCD: "CLINICIAN",
		Audit: model.Audit{ImportDate: now, UpdateDate: now},
	}, "correct horse battery staple"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	ok, err := users.VerifyPassword(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Errorf("expected password to verify")
	}

	ok, err = users.VerifyPassword(ctx, "alice", "wrong password")
	if err != nil {
		t.Fatalf("VerifyPassword (wrong): %v", err)
	}
	if ok {
		t.Errorf("expected wrong password to fail verification")
	}

	if err := users.ResetPassword(ctx, "alice", "new password entirely"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	ok, err = users.VerifyPassword(ctx, "alice", "new password entirely")
	if err != nil {
		t.Fatalf("VerifyPassword after reset: %v", err)
	}
	if !ok {
		t.Errorf("expected new password to verify after reset")
	}
}

func TestConceptSearchMatchesDisplayNameSubstring(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()
	concepts := NewConceptRepository(h, nil)

	for _, c := range []model.Concept{
		{ConceptCD: "LOINC:8462-4", ConceptPath: `\BEST\VITALS\BP_DIASTOLIC`, DisplayName: "Diastolic blood pressure", ValTypeCD: model.ValueNumeric},
		{ConceptCD: "LOINC:8480-6", ConceptPath: `\BEST\VITALS\BP_SYSTOLIC`, DisplayName: "Systolic blood pressure", ValTypeCD: model.ValueNumeric},
		{ConceptCD: "BEST:UNRELATED", ConceptPath: `\BEST\OTHER`, DisplayName: "blood donor status", ValTypeCD: model.ValueText},
	} {
		if err := concepts.CreateConcept(ctx, c); err != nil {
			t.Fatalf("CreateConcept %s: %v", c.ConceptCD, err)
		}
	}

	results, err := concepts.SearchConcepts(ctx, "blood", 10)
	if err != nil {
		t.Fatalf("SearchConcepts: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(results))
	}
}
