// Package importservice transactionally inserts a canonical
// model.ImportStructure with a per-entity duplicate policy and
// patient/visit ID remapping.
//
// The whole run executes inside one storage.Handle.Transaction, with every
// repository rebound to the transaction's storage.Tx via WithExecutor so
// ordering guarantees (patients -> visits -> observations, each phase's id
// map visible to the next) hold within a single BEGIN/COMMIT.
package importservice

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/conceptcache"
	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/repository"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// DuplicateStrategy controls how Import handles a patient whose PATIENT_CD
// already exists.
type DuplicateStrategy string

const (
	StrategySkip   DuplicateStrategy = "skip"
	StrategyUpdate DuplicateStrategy = "update"
	StrategyError  DuplicateStrategy = "error"
)

// Options configures one Import call.
type Options struct {
	DuplicateStrategy  DuplicateStrategy
	BatchSize          int           // not read by Import; cancellation comes only from ctx and TransactionTimeout
	TransactionTimeout time.Duration // 0 = use the default (30s)

	// DropUnknownConcepts, when true, skips (with a warning diagnostic)
	// observations whose CONCEPT_CD the concept cache cannot resolve,
	// instead of keeping the incoming VALTYPE_CD verbatim.
	DropUnknownConcepts bool
}

const defaultTransactionTimeout = 30 * time.Second

// CategoryReport is the per-entity-category outcome of one Import call.
type CategoryReport struct {
	Imported   int
	Duplicates int
	Errors     []model.ImportDiagnostic
}

// Report is importToDatabase's result.
type Report struct {
	Success      bool
	Patients     CategoryReport
	Visits       CategoryReport
	Observations CategoryReport

	PatientIDMap map[string]int64 // PATIENT_CD -> patient_num
	VisitIDMap   map[string]int64 // ENCOUNTER_NUM (or synthetic visit-index) -> encounter_num
}

// Service wires the three repositories and the concept cache the import
// algorithm needs, all rebound per-call to the transaction in flight.
type Service struct {
	h        *storage.Handle
	patients *repository.PatientRepository
	visits   *repository.VisitRepository
	obs      *repository.ObservationRepository
	cache    *conceptcache.Cache
	log      *zap.Logger
}

// New builds a Service over h. The concept cache is shared (and rebound per
// transaction via WithExecutor) rather than owned, so callers can Refresh it
// independently of imports.
func New(h *storage.Handle, cache *conceptcache.Cache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		h:        h,
		patients: repository.NewPatientRepository(h, log),
		visits:   repository.NewVisitRepository(h, log),
		obs:      repository.NewObservationRepository(h, log),
		cache:    cache,
		log:      log,
	}
}

// Import validates, then inserts patients, visits, and observations in
// that order inside one transaction, applying opts.DuplicateStrategy to
// each entity category.
func (s *Service) Import(ctx context.Context, bundle model.ImportStructure, opts Options) (Report, error) {
	if opts.DuplicateStrategy == "" {
		opts.DuplicateStrategy = StrategySkip
	}
	timeout := opts.TransactionTimeout
	if timeout <= 0 {
		timeout = defaultTransactionTimeout
	}
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if diags := validateStructure(bundle); len(diags) > 0 {
		return Report{Success: false, Patients: CategoryReport{Errors: diags}}, nil
	}

	var report Report
	err := s.h.Transaction(txCtx, func(tx *storage.Tx) error {
		patients := s.patients.WithExecutor(tx)
		visits := s.visits.WithExecutor(tx)
		obs := s.obs.WithExecutor(tx)
		cache := s.cache.WithExecutor(tx)

		patientIDMap, patientReport, err := importPatients(txCtx, patients, bundle.Data.Patients, opts.DuplicateStrategy)
		if err != nil {
			return err
		}
		visitIDMap, visitReport, err := importVisits(txCtx, visits, bundle.Data.Visits, patientIDMap)
		if err != nil {
			return err
		}
		obsReport, err := importObservations(txCtx, obs, visits, cache, bundle.Data.Observations, patientIDMap, visitIDMap, opts)
		if err != nil {
			return err
		}

		report = Report{
			Success:      true,
			Patients:     patientReport,
			Visits:       visitReport,
			Observations: obsReport,
			PatientIDMap: patientIDMap,
			VisitIDMap:   visitIDMap,
		}
		return nil
	})
	if err != nil {
		return Report{Success: false}, err
	}
	return report, nil
}

func validateStructure(bundle model.ImportStructure) []model.ImportDiagnostic {
	var diags []model.ImportDiagnostic
	if bundle.Metadata.Format == "" {
		diags = append(diags, model.ImportDiagnostic{Code: "INVALID_STRUCTURE", Message: "metadata.format is required"})
	}
	if len(bundle.Data.Patients) == 0 {
		diags = append(diags, model.ImportDiagnostic{Code: "NO_PATIENTS", Message: "data.patients must contain at least one patient"})
	}
	for i, p := range bundle.Data.Patients {
		if p.PatientCD == "" {
			diags = append(diags, model.ImportDiagnostic{Code: "MISSING_PATIENT_ID", Message: "patient is missing PATIENT_CD", Index: i})
		}
	}
	return diags
}

// importPatients implements step 2: lookup-or-create per duplicate strategy.
func importPatients(ctx context.Context, repo *repository.PatientRepository, raw []model.RawPatient, strategy DuplicateStrategy) (map[string]int64, CategoryReport, error) {
	idMap := make(map[string]int64, len(raw))
	report := CategoryReport{}

	for i, rp := range raw {
		existing, err := repo.FindByPatientCode(ctx, rp.PatientCD)
		if err == nil {
			switch strategy {
			case StrategySkip:
				idMap[rp.PatientCD] = existing.PatientNum
				report.Duplicates++
			case StrategyUpdate:
				patch := rawPatientToPatch(rp)
				updated, err := repo.UpdatePatient(ctx, existing.PatientNum, patch)
				if err != nil {
					return nil, report, err
				}
				idMap[rp.PatientCD] = updated.PatientNum
				report.Duplicates++
			case StrategyError:
				return nil, report, model.NewError(model.KindDuplicate, "patient_dimension",
					fmt.Sprintf("patient_cd=%s already exists", rp.PatientCD), nil)
			}
			continue
		}
		patient := rawPatientToEntity(rp)
		num, err := repo.CreatePatient(ctx, patient)
		if err != nil {
			report.Errors = append(report.Errors, model.ImportDiagnostic{
				Code: "PATIENT_IMPORT_FAILED", Message: err.Error(), Index: i,
			})
			continue
		}
		idMap[rp.PatientCD] = num
		report.Imported++
	}
	return idMap, report, nil
}

func rawPatientToEntity(rp model.RawPatient) model.Patient {
	p := model.Patient{
		PatientCD:  rp.PatientCD,
		SexCD:      rp.SexCD,
		AgeInYears: rp.AgeInYears,
		LanguageCD: rp.LanguageCD,
		RaceCD:     rp.RaceCD,
		MaritalCD:  rp.MaritalCD,
		ReligionCD: rp.ReligionCD,
	}
	p.BirthDate = parseOptionalDate(rp.BirthDate)
	p.DeathDate = parseOptionalDate(rp.DeathDate)
	p.SourceSystemCD = rp.SourceSystemCD
	return p
}

func rawPatientToPatch(rp model.RawPatient) model.Patient {
	return rawPatientToEntity(rp)
}

// importVisits implements step 3: each visit's PATIENT_CD must already be in
// patientIDMap, else CannotMapVisit. visitIDMap is keyed by the visit's
// original ENCOUNTER_NUM, or a synthetic "idx:<i>" key when none was given.
func importVisits(ctx context.Context, repo *repository.VisitRepository, raw []model.RawVisit, patientIDMap map[string]int64) (map[string]int64, CategoryReport, error) {
	idMap := make(map[string]int64, len(raw))
	report := CategoryReport{}

	for i, rv := range raw {
		patientNum, ok := patientIDMap[rv.PatientCD]
		if !ok {
			report.Errors = append(report.Errors, model.ImportDiagnostic{
				Code: "CANNOT_MAP_VISIT", Message: fmt.Sprintf("visit references unknown patient_cd=%s", rv.PatientCD), Index: i,
			})
			continue
		}
		visit := model.Visit{
			PatientNum:     patientNum,
			StartDate:      parseDateOrNow(rv.StartDate),
			EndDate:        parseOptionalDate(rv.EndDate),
			ActiveStatusCD: rv.ActiveStatusCD,
			InOutCD:        rv.InOutCD,
			LocationCD:     rv.LocationCD,
		}
		visit.SourceSystemCD = rv.SourceSystemCD
		num, err := repo.CreateVisit(ctx, visit)
		if err != nil {
			report.Errors = append(report.Errors, model.ImportDiagnostic{
				Code: "VISIT_IMPORT_FAILED", Message: err.Error(), Index: i,
			})
			continue
		}
		key := rv.EncounterNum
		if key == "" {
			key = syntheticVisitKey(i)
		}
		idMap[key] = num
		report.Imported++
	}
	return idMap, report, nil
}

func syntheticVisitKey(i int) string { return fmt.Sprintf("idx:%d", i) }

// importObservations implements step 4: resolve patient and encounter,
// creating a default visit for orphans, then route the value after letting
// the concept cache override the incoming VALTYPE_CD.
func importObservations(ctx context.Context, obsRepo *repository.ObservationRepository, visitRepo *repository.VisitRepository, cache *conceptcache.Cache,
	raw []model.RawObservation, patientIDMap, visitIDMap map[string]int64, opts Options) (CategoryReport, error) {

	report := CategoryReport{}
	if len(raw) == 0 {
		return report, nil
	}

	codes := make([]string, 0, len(raw))
	for _, ro := range raw {
		codes = append(codes, ro.ConceptCD)
	}
	resolved, err := cache.ResolveBatch(ctx, codes, conceptcache.ResolveOptions{})
	if err != nil {
		return report, err
	}

	// visitIDMap is mutated as we go: an observation that misses its visit
	// gets a synthetic default visit created on demand as part of this
	// phase rather than a separate pre-pass, and later observations for the
	// same patient reuse it.
	for i, ro := range raw {
		patientNum, ok := patientIDMap[ro.PatientCD]
		if !ok {
			report.Errors = append(report.Errors, model.ImportDiagnostic{
				Code: "CANNOT_MAP_PATIENT", Message: fmt.Sprintf("observation references unknown patient_cd=%s", ro.PatientCD), Index: i,
			})
			continue
		}

		encounterNum, err := resolveOrCreateVisit(ctx, visitRepo, ro, patientNum, visitIDMap)
		if err != nil {
			report.Errors = append(report.Errors, model.ImportDiagnostic{
				Code: "VISIT_RESOLUTION_FAILED", Message: err.Error(), Index: i,
			})
			continue
		}

		observation, err := rawObservationToEntity(ro, patientNum, encounterNum, resolved[ro.ConceptCD], opts)
		if err != nil {
			if opts.DropUnknownConcepts && err == errUnknownConceptDropped {
				report.Errors = append(report.Errors, model.ImportDiagnostic{
					Code: "UNKNOWN_CONCEPT_DROPPED", Message: "concept " + ro.ConceptCD + " could not be resolved; observation skipped", Index: i,
				})
				continue
			}
			report.Errors = append(report.Errors, model.ImportDiagnostic{
				Code: "OBSERVATION_IMPORT_FAILED", Message: err.Error(), Index: i,
			})
			continue
		}

		if _, err := obsRepo.CreateObservation(ctx, observation); err != nil {
			report.Errors = append(report.Errors, model.ImportDiagnostic{
				Code: "OBSERVATION_IMPORT_FAILED", Message: err.Error(), Index: i,
			})
			continue
		}
		report.Imported++
	}
	return report, nil
}

// resolveOrCreateVisit looks up ro's ENCOUNTER_NUM in visitIDMap (falling
// back to the patient's already-created default visit); when neither is
// present it creates a default visit for the patient on the observation's
// date and records it under defaultVisitKey for later observations to reuse.
func resolveOrCreateVisit(ctx context.Context, visitRepo *repository.VisitRepository, ro model.RawObservation, patientNum int64, visitIDMap map[string]int64) (int64, error) {
	if ro.EncounterNum != "" {
		if num, ok := visitIDMap[ro.EncounterNum]; ok {
			return num, nil
		}
	}
	key := defaultVisitKey(patientNum)
	if num, ok := visitIDMap[key]; ok {
		return num, nil
	}

	visit := model.Visit{
		PatientNum: patientNum,
		StartDate:  parseDateOrNow(ro.StartDate),
		InOutCD:    "O",
	}
	num, err := visitRepo.CreateVisit(ctx, visit)
	if err != nil {
		return 0, err
	}
	visitIDMap[key] = num
	if ro.EncounterNum != "" {
		visitIDMap[ro.EncounterNum] = num
	}
	return num, nil
}

var errUnknownConceptDropped = fmt.Errorf("unknown concept dropped")

func defaultVisitKey(patientNum int64) string { return fmt.Sprintf("default:%d", patientNum) }

// rawObservationToEntity applies the concept-cache VALTYPE_CD override,
// then routes the raw value into the numeric column (type N) or the text
// column (every other type).
func rawObservationToEntity(ro model.RawObservation, patientNum, encounterNum int64, resolved conceptcache.Resolved, opts Options) (model.Observation, error) {
	valType := model.ValueType(ro.ValTypeCD)
	conceptCD := ro.ConceptCD
	if resolved.Resolved {
		valType = resolved.ValueType
		// Store the canonical concept_cd the cache resolved to, not the
		// alias prefix the source data used (invariant 4 / P7): imports of
		// LID:8462-4 and LOINC:8462-4 land on the same row.
		conceptCD = resolved.Code
	} else if opts.DropUnknownConcepts {
		return model.Observation{}, errUnknownConceptDropped
	}
	if !valType.Valid() {
		valType = model.ValueText
	}

	o := model.Observation{
		PatientNum:   patientNum,
		EncounterNum: encounterNum,
		ConceptCD:    conceptCD,
		ValTypeCD:    valType,
		UnitCD:       ro.UnitCD,
		CategoryCD:   ro.CategoryCD,
		ProviderID:   ro.ProviderID,
		LocationCD:   ro.LocationCD,
		StartDate:    parseDateOrNow(ro.StartDate),
		EndDate:      parseOptionalDate(ro.EndDate),
	}
	o.SourceSystemCD = ro.SourceSystemCD

	if valType == model.ValueNumeric {
		if ro.NValNum != nil {
			o.NumericValue = ro.NValNum
		} else if f, ok := parseFloat(ro.TValChar); ok {
			o.NumericValue = &f
		} else {
			return model.Observation{}, model.ValidationFailure("observation_fact", "valtype_cd=N requires a numeric value")
		}
	} else {
		text := ro.TValChar
		if text == "" && ro.NValNum != nil {
			text = fmt.Sprintf("%v", *ro.NValNum)
		}
		o.TextValue = &text
	}
	return o, nil
}

func parseOptionalDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseDateOrNow(s)
	return &t
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

func parseDateOrNow(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func parseFloat(s string) (float64, bool) {
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
		return 0, false
	}
	return f, true
}
