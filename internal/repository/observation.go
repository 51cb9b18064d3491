package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// ObservationRepository is the typed accessor over OBSERVATION_FACT.
type ObservationRepository struct {
	*BaseRepository[model.Observation]
}

func observationMapper() Mapper[model.Observation] {
	return Mapper[model.Observation]{
		Table:    "observation_fact",
		PKColumn: "instance_num",
		Columns: []string{
			"patient_num", "encounter_num", "concept_cd", "valtype_cd", "nval_num", "tval_char",
			"unit_cd", "category_cd", "provider_id", "location_cd", "start_date", "end_date",
			"blob", "import_date", "update_date", "upload_id", "sourcesystem_cd",
		},
		Values: func(o model.Observation) []any {
			return []any{
				o.PatientNum, o.EncounterNum, o.ConceptCD, string(o.ValTypeCD), o.NumericValue, o.TextValue,
				nullStr(o.UnitCD), nullStr(o.CategoryCD), nullStr(o.ProviderID), nullStr(o.LocationCD),
				formatTime(o.StartDate), formatTimePtr(o.EndDate),
				blobArg(o.Blob), formatTime(o.ImportDate), formatTime(o.UpdateDate), o.UploadID,
				sourceSystemOrDefault(o.SourceSystemCD),
			}
		},
		Scan: func(row storage.Row) (model.Observation, error) {
			start, err := timeOf(row["start_date"])
			if err != nil {
				return model.Observation{}, err
			}
			end, err := timePtrOf(row["end_date"])
			if err != nil {
				return model.Observation{}, err
			}
			imp, err := timeOf(row["import_date"])
			if err != nil {
				return model.Observation{}, err
			}
			upd, err := timeOf(row["update_date"])
			if err != nil {
				return model.Observation{}, err
			}
			return model.Observation{
				InstanceNum:  int64Of(row["instance_num"]),
				PatientNum:   int64Of(row["patient_num"]),
				EncounterNum: int64Of(row["encounter_num"]),
				ConceptCD:    strOf(row["concept_cd"]),
				ValTypeCD:    model.ValueType(strOf(row["valtype_cd"])),
				NumericValue: float64PtrOf(row["nval_num"]),
				TextValue:    strPtrOf(row["tval_char"]),
				UnitCD:       strOf(row["unit_cd"]),
				CategoryCD:   strOf(row["category_cd"]),
				ProviderID:   strOf(row["provider_id"]),
				LocationCD:   strOf(row["location_cd"]),
				StartDate:    start,
				EndDate:      end,
				Blob:         blobOf(row["blob"]),
				Audit: model.Audit{
					ImportDate:     imp,
					UpdateDate:     upd,
					UploadID:       int64Of(row["upload_id"]),
					SourceSystemCD: strOf(row["sourcesystem_cd"]),
				},
			}, nil
		},
	}
}

// NewObservationRepository builds an ObservationRepository over h.
func NewObservationRepository(h *storage.Handle, log *zap.Logger) *ObservationRepository {
	return &ObservationRepository{BaseRepository: NewBaseRepository(h, log, observationMapper())}
}

// WithExecutor rebinds the repository to exec (typically a *storage.Tx), so
// its operations join an in-flight transaction.
func (r *ObservationRepository) WithExecutor(exec storage.Executor) *ObservationRepository {
	return &ObservationRepository{BaseRepository: r.BaseRepository.WithExecutor(exec)}
}

// CreateObservation enforces value-type routing before delegating to
// Create: valtype_cd='N' carries nval_num and no tval_char; every other
// valtype_cd carries tval_char and no nval_num.
func (r *ObservationRepository) CreateObservation(ctx context.Context, o model.Observation) (int64, error) {
	if !o.ValTypeCD.Valid() {
		return 0, model.ValidationFailure("observation_fact", "unknown valtype_cd "+string(o.ValTypeCD))
	}
	if o.ValTypeCD == model.ValueNumeric {
		if o.NumericValue == nil {
			return 0, model.ValidationFailure("observation_fact", "valtype_cd=N requires nval_num")
		}
		o.TextValue = nil
	} else {
		if o.TextValue == nil {
			return 0, model.ValidationFailure("observation_fact", "non-numeric valtype_cd requires tval_char")
		}
		o.NumericValue = nil
	}
	if o.SourceSystemCD == "" {
		o.SourceSystemCD = model.DefaultSourceSystem
	}
	return r.Create(ctx, o)
}

// FindByPatientNum returns every observation for a patient.
func (r *ObservationRepository) FindByPatientNum(ctx context.Context, patientNum int64) ([]model.Observation, error) {
	return r.queryObservations(ctx, `SELECT * FROM observation_fact WHERE patient_num = ? ORDER BY start_date DESC`, patientNum)
}

// FindByVisitNum returns every observation recorded in one visit.
func (r *ObservationRepository) FindByVisitNum(ctx context.Context, encounterNum int64) ([]model.Observation, error) {
	return r.queryObservations(ctx, `SELECT * FROM observation_fact WHERE encounter_num = ? ORDER BY start_date ASC`, encounterNum)
}

// FindByConceptCode returns every observation recorded against a concept.
func (r *ObservationRepository) FindByConceptCode(ctx context.Context, conceptCD string) ([]model.Observation, error) {
	return r.queryObservations(ctx, `SELECT * FROM observation_fact WHERE concept_cd = ? ORDER BY start_date DESC`, conceptCD)
}

// FindByDateRange returns every observation starting within [from, to].
func (r *ObservationRepository) FindByDateRange(ctx context.Context, from, to string) ([]model.Observation, error) {
	return r.queryObservations(ctx,
		`SELECT * FROM observation_fact WHERE start_date >= ? AND start_date <= ? ORDER BY start_date ASC`, from, to)
}

// FindWithBlobData returns every observation carrying a non-empty blob
// (raw/finding/questionnaire payloads).
func (r *ObservationRepository) FindWithBlobData(ctx context.Context) ([]model.Observation, error) {
	return r.queryObservations(ctx, `SELECT * FROM observation_fact WHERE blob IS NOT NULL AND blob != ''`)
}

// FindBySourceSystem returns every observation imported under sourceSystemCD.
func (r *ObservationRepository) FindBySourceSystem(ctx context.Context, sourceSystemCD string) ([]model.Observation, error) {
	return r.queryObservations(ctx, `SELECT * FROM observation_fact WHERE sourcesystem_cd = ?`, sourceSystemCD)
}

// ObservationStatistics summarises the distribution of a concept's recorded
// values across the whole engine.
type ObservationStatistics struct {
	ConceptCD string
	Count     int
	Min       *float64
	Max       *float64
	Avg       *float64
}

// GetObservationStatistics aggregates numeric observations for a concept.
func (r *ObservationRepository) GetObservationStatistics(ctx context.Context, conceptCD string) (ObservationStatistics, error) {
	res, err := r.Handle().ExecuteQuery(ctx,
		`SELECT COUNT(*) AS n, MIN(nval_num) AS mn, MAX(nval_num) AS mx, AVG(nval_num) AS av
		 FROM observation_fact WHERE concept_cd = ? AND valtype_cd = 'N'`, conceptCD)
	if err != nil {
		return ObservationStatistics{}, err
	}
	if len(res.Data) == 0 {
		return ObservationStatistics{ConceptCD: conceptCD}, nil
	}
	row := res.Data[0]
	return ObservationStatistics{
		ConceptCD: conceptCD,
		Count:     toInt(row["n"]),
		Min:       float64PtrOf(row["mn"]),
		Max:       float64PtrOf(row["mx"]),
		Avg:       float64PtrOf(row["av"]),
	}, nil
}

// ResolvedObservation is one row of the patient_observations view: an
// observation joined against its concept's display name, with the value
// column resolved to a single display string regardless of valtype_cd.
type ResolvedObservation struct {
	InstanceNum     int64
	PatientNum      int64
	EncounterNum    int64
	ConceptCD       string
	ConceptNameChar string
	ValTypeCD       string
	TValResolved    string
	UnitCD          string
	CategoryCD      string
	StartDate       string
}

// FindResolvedByPatientNum reads through the patient_observations view so
// callers get display-ready concept names and values without a second
// round trip to the concept cache.
func (r *ObservationRepository) FindResolvedByPatientNum(ctx context.Context, patientNum int64) ([]ResolvedObservation, error) {
	res, err := r.Handle().ExecuteQuery(ctx,
		`SELECT * FROM patient_observations WHERE patient_num = ? ORDER BY start_date DESC`, patientNum)
	if err != nil {
		return nil, err
	}
	out := make([]ResolvedObservation, 0, len(res.Data))
	for _, row := range res.Data {
		out = append(out, ResolvedObservation{
			InstanceNum:     int64Of(row["instance_num"]),
			PatientNum:      int64Of(row["patient_num"]),
			EncounterNum:    int64Of(row["encounter_num"]),
			ConceptCD:       strOf(row["concept_cd"]),
			ConceptNameChar: strOf(row["concept_name_char"]),
			ValTypeCD:       strOf(row["valtype_cd"]),
			TValResolved:    strOf(row["tval_resolved"]),
			UnitCD:          strOf(row["unit_cd"]),
			CategoryCD:      strOf(row["category_cd"]),
			StartDate:       strOf(row["start_date"]),
		})
	}
	return out, nil
}

func (r *ObservationRepository) queryObservations(ctx context.Context, query string, args ...any) ([]model.Observation, error) {
	res, err := r.Handle().ExecuteQuery(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	m := observationMapper()
	out := make([]model.Observation, 0, len(res.Data))
	for _, row := range res.Data {
		o, err := m.Scan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
