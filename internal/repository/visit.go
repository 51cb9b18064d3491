package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// VisitRepository is the typed accessor over VISIT_DIMENSION.
type VisitRepository struct {
	*BaseRepository[model.Visit]
}

func visitMapper() Mapper[model.Visit] {
	return Mapper[model.Visit]{
		Table:    "visit_dimension",
		PKColumn: "encounter_num",
		Columns: []string{
			"patient_num", "start_date", "end_date", "active_status_cd", "inout_cd",
			"location_cd", "blob", "import_date", "update_date", "upload_id", "sourcesystem_cd",
		},
		Values: func(v model.Visit) []any {
			return []any{
				v.PatientNum, formatTime(v.StartDate), formatTimePtr(v.EndDate), nullStr(v.ActiveStatusCD), nullStr(v.InOutCD),
				nullStr(v.LocationCD), blobArg(v.Blob), formatTime(v.ImportDate), formatTime(v.UpdateDate), v.UploadID,
				sourceSystemOrDefault(v.SourceSystemCD),
			}
		},
		Scan: func(row storage.Row) (model.Visit, error) {
			start, err := timeOf(row["start_date"])
			if err != nil {
				return model.Visit{}, err
			}
			end, err := timePtrOf(row["end_date"])
			if err != nil {
				return model.Visit{}, err
			}
			imp, err := timeOf(row["import_date"])
			if err != nil {
				return model.Visit{}, err
			}
			upd, err := timeOf(row["update_date"])
			if err != nil {
				return model.Visit{}, err
			}
			return model.Visit{
				EncounterNum:   int64Of(row["encounter_num"]),
				PatientNum:     int64Of(row["patient_num"]),
				StartDate:      start,
				EndDate:        end,
				ActiveStatusCD: strOf(row["active_status_cd"]),
				InOutCD:        strOf(row["inout_cd"]),
				LocationCD:     strOf(row["location_cd"]),
				Blob:           blobOf(row["blob"]),
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

// NewVisitRepository builds a VisitRepository over h.
func NewVisitRepository(h *storage.Handle, log *zap.Logger) *VisitRepository {
	return &VisitRepository{BaseRepository: NewBaseRepository(h, log, visitMapper())}
}

// WithExecutor rebinds the repository to exec (typically a *storage.Tx), so
// its operations join an in-flight transaction.
func (r *VisitRepository) WithExecutor(exec storage.Executor) *VisitRepository {
	return &VisitRepository{BaseRepository: r.BaseRepository.WithExecutor(exec)}
}

// CreateVisit inserts a visit after enforcing end_date >= start_date
// (mirrors the schema CHECK, surfaced here as a typed error before the
// database ever sees the bad row).
func (r *VisitRepository) CreateVisit(ctx context.Context, v model.Visit) (int64, error) {
	if v.EndDate != nil && v.EndDate.Before(v.StartDate) {
		return 0, model.ValidationFailure("visit_dimension", "end_date must be >= start_date")
	}
	if v.SourceSystemCD == "" {
		v.SourceSystemCD = model.DefaultSourceSystem
	}
	return r.Create(ctx, v)
}

// FindByPatientNum returns every visit for a patient, most recent first.
func (r *VisitRepository) FindByPatientNum(ctx context.Context, patientNum int64) ([]model.Visit, error) {
	return r.queryVisits(ctx, `SELECT * FROM visit_dimension WHERE patient_num = ? ORDER BY start_date DESC`, patientNum)
}

// VisitSummary is one row of getPatientVisitTimeline: a visit plus its
// derived observation count.
type VisitSummary struct {
	model.Visit
	ObservationCount int
}

// GetPatientVisitTimeline returns every visit for a patient along with the
// number of observations recorded in it, ordered oldest-first.
func (r *VisitRepository) GetPatientVisitTimeline(ctx context.Context, patientNum int64) ([]VisitSummary, error) {
	query := `
SELECT v.*, COUNT(o.instance_num) AS observation_count
FROM visit_dimension v
LEFT JOIN observation_fact o ON o.encounter_num = v.encounter_num
WHERE v.patient_num = ?
GROUP BY v.encounter_num
ORDER BY v.start_date ASC`
	res, err := r.Handle().ExecuteQuery(ctx, query, patientNum)
	if err != nil {
		return nil, err
	}
	m := visitMapper()
	out := make([]VisitSummary, 0, len(res.Data))
	for _, row := range res.Data {
		v, err := m.Scan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, VisitSummary{Visit: v, ObservationCount: toInt(row["observation_count"])})
	}
	return out, nil
}

// FindByLocationCode returns every visit at the given location.
func (r *VisitRepository) FindByLocationCode(ctx context.Context, locationCD string) ([]model.Visit, error) {
	return r.queryVisits(ctx, `SELECT * FROM visit_dimension WHERE location_cd = ? ORDER BY start_date DESC`, locationCD)
}

// FindByDateRange returns every visit starting within [from, to].
func (r *VisitRepository) FindByDateRange(ctx context.Context, from, to string) ([]model.Visit, error) {
	return r.queryVisits(ctx,
		`SELECT * FROM visit_dimension WHERE start_date >= ? AND start_date <= ? ORDER BY start_date ASC`, from, to)
}

// FindBySourceSystem returns every visit imported under sourceSystemCD.
func (r *VisitRepository) FindBySourceSystem(ctx context.Context, sourceSystemCD string) ([]model.Visit, error) {
	return r.queryVisits(ctx, `SELECT * FROM visit_dimension WHERE sourcesystem_cd = ?`, sourceSystemCD)
}

func (r *VisitRepository) queryVisits(ctx context.Context, query string, args ...any) ([]model.Visit, error) {
	res, err := r.Handle().ExecuteQuery(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	m := visitMapper()
	out := make([]model.Visit, 0, len(res.Data))
	for _, row := range res.Data {
		v, err := m.Scan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
