// Package demo deterministically creates synthetic patients, visits, and
// observations for onboarding and testing, plus a symmetric cleanup
// relying on cascade deletion.
//
// The fixed concept palette is drawn from the bundled seed data
// (internal/seed/data/concepts.csv).
package demo

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/repository"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// seed is fixed so Generate is deterministic across runs for the same
// count: the same patient codes, visit counts, and observation values come
// out every time.
const seed = 20240101

// palette is the fixed concept code set observations are drawn from,
// matching the VITALS/LABS concepts bundled by the seed loader.
var palette = []struct {
	code string
	min  float64
	max  float64
}{
	{"LOINC:8462-4", 60, 90},      // diastolic BP
	{"LOINC:8480-6", 100, 140},    // systolic BP
	{"LOINC:8867-4", 55, 100},     // heart rate
	{"LOINC:9279-1", 12, 20},      // respiratory rate
	{"LOINC:8310-5", 36.0, 38.5},  // body temperature
	{"LOINC:2708-6", 94, 100},     // spo2
	{"LOINC:29463-7", 50, 100},    // weight
	{"LOINC:8302-2", 150, 190},    // height
	{"LOINC:2947-0", 135, 145},    // sodium
	{"LOINC:2823-3", 3.5, 5.1},    // potassium
}

// Report summarises what Generate created. BatchID tags the run for log
// correlation; it has no bearing on the generated data, which stays
// deterministic for a given count.
type Report struct {
	BatchID          string
	PatientCount     int
	VisitCount       int
	ObservationCount int
	PatientCodes     []string
}

// Generator creates and tears down synthetic patients via the Repository
// Layer, so every write goes through the same validation and audit path as
// any other caller.
type Generator struct {
	patients *repository.PatientRepository
	visits   *repository.VisitRepository
	obs      *repository.ObservationRepository
	log      *zap.Logger
}

// New builds a Generator over h.
func New(h *storage.Handle, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		patients: repository.NewPatientRepository(h, log),
		visits:   repository.NewVisitRepository(h, log),
		obs:      repository.NewObservationRepository(h, log),
		log:      log,
	}
}

// Generate deterministically creates count patients, each with 2-3 visits,
// each visit carrying 10 observations drawn from the fixed concept
// palette.
func (g *Generator) Generate(ctx context.Context, count int) (Report, error) {
	if count <= 0 {
		return Report{}, model.ValidationFailure("demo", "count must be positive")
	}
	rng := rand.New(rand.NewSource(seed))
	rep := Report{BatchID: uuid.New().String(), PatientCount: count}

	for i := 0; i < count; i++ {
		code := fmt.Sprintf("DEMO_PATIENT_%02d", i+1)
		age := 25 + (i % 50)
		sex := "M"
		if i%2 == 1 {
			sex = "F"
		}
		patientNum, err := g.patients.CreatePatient(ctx, model.Patient{
			PatientCD:  code,
			SexCD:      sex,
			AgeInYears: &age,
			Audit:      model.Audit{SourceSystemCD: "DEMO"},
		})
		if err != nil {
			return Report{}, fmt.Errorf("demo: create patient %s: %w", code, err)
		}
		rep.PatientCodes = append(rep.PatientCodes, code)

		visitCount := 2 + i%2 // alternates 2,3,2,3,...
		for v := 0; v < visitCount; v++ {
			start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, v*30)
			visitNum, err := g.visits.CreateVisit(ctx, model.Visit{
				PatientNum: patientNum,
				StartDate:  start,
				InOutCD:    "O",
				Audit:      model.Audit{SourceSystemCD: "DEMO"},
			})
			if err != nil {
				return Report{}, fmt.Errorf("demo: create visit for %s: %w", code, err)
			}
			rep.VisitCount++

			for _, entry := range palette {
				val := entry.min + rng.Float64()*(entry.max-entry.min)
				if _, err := g.obs.CreateObservation(ctx, model.Observation{
					PatientNum:   patientNum,
					EncounterNum: visitNum,
					ConceptCD:    entry.code,
					ValTypeCD:    model.ValueNumeric,
					NumericValue: &val,
					StartDate:    start,
					Audit:        model.Audit{SourceSystemCD: "DEMO"},
				}); err != nil {
					return Report{}, fmt.Errorf("demo: create observation %s for %s: %w", entry.code, code, err)
				}
				rep.ObservationCount++
			}
		}
	}
	return rep, nil
}

// DeleteDemoPatients removes every patient created under the "DEMO" source
// system tag. Visits, observations, and notes cascade via the migration's
// AFTER DELETE triggers (internal/migrate/migrations.go); this issues one
// delete per patient rather than a bulk DELETE, so each removal goes
// through the same path and audit trail as any other patient deletion.
func (g *Generator) DeleteDemoPatients(ctx context.Context) (int, error) {
	all, err := g.patients.FindBySourceSystem(ctx, "DEMO")
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, p := range all {
		if err := g.patients.Delete(ctx, p.PatientNum); err != nil {
			return deleted, fmt.Errorf("demo: delete patient %s: %w", p.PatientCD, err)
		}
		deleted++
	}
	return deleted, nil
}
