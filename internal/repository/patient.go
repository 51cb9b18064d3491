package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// PatientRepository is the typed accessor over PATIENT_DIMENSION.
type PatientRepository struct {
	*BaseRepository[model.Patient]
}

func patientMapper() Mapper[model.Patient] {
	return Mapper[model.Patient]{
		Table:    "patient_dimension",
		PKColumn: "patient_num",
		Columns: []string{
			"patient_cd", "sex_cd", "age_in_years", "birth_date", "death_date",
			"language_cd", "race_cd", "marital_cd", "religion_cd", "blob",
			"import_date", "update_date", "upload_id", "sourcesystem_cd",
		},
		Values: func(p model.Patient) []any {
			return []any{
				p.PatientCD, nullStr(p.SexCD), p.AgeInYears, formatTimePtr(p.BirthDate), formatTimePtr(p.DeathDate),
				nullStr(p.LanguageCD), nullStr(p.RaceCD), nullStr(p.MaritalCD), nullStr(p.ReligionCD), blobArg(p.Blob),
				formatTime(p.ImportDate), formatTime(p.UpdateDate), p.UploadID, sourceSystemOrDefault(p.SourceSystemCD),
			}
		},
		Scan: func(row storage.Row) (model.Patient, error) {
			birth, err := timePtrOf(row["birth_date"])
			if err != nil {
				return model.Patient{}, err
			}
			death, err := timePtrOf(row["death_date"])
			if err != nil {
				return model.Patient{}, err
			}
			imp, err := timeOf(row["import_date"])
			if err != nil {
				return model.Patient{}, err
			}
			upd, err := timeOf(row["update_date"])
			if err != nil {
				return model.Patient{}, err
			}
			return model.Patient{
				PatientNum: int64Of(row["patient_num"]),
				PatientCD:  strOf(row["patient_cd"]),
				SexCD:      strOf(row["sex_cd"]),
				AgeInYears: intPtrOf(row["age_in_years"]),
				BirthDate:  birth,
				DeathDate:  death,
				LanguageCD: strOf(row["language_cd"]),
				RaceCD:     strOf(row["race_cd"]),
				MaritalCD:  strOf(row["marital_cd"]),
				ReligionCD: strOf(row["religion_cd"]),
				Blob:       blobOf(row["blob"]),
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

// NewPatientRepository builds a PatientRepository over h.
func NewPatientRepository(h *storage.Handle, log *zap.Logger) *PatientRepository {
	return &PatientRepository{BaseRepository: NewBaseRepository(h, log, patientMapper())}
}

// WithExecutor rebinds the repository to exec (typically a *storage.Tx), so
// its operations join an in-flight transaction.
func (r *PatientRepository) WithExecutor(exec storage.Executor) *PatientRepository {
	return &PatientRepository{BaseRepository: r.BaseRepository.WithExecutor(exec)}
}

// FindByPatientCode returns the patient with the given PATIENT_CD, or
// model.NotFound if none exists.
func (r *PatientRepository) FindByPatientCode(ctx context.Context, code string) (model.Patient, error) {
	res, err := r.Handle().ExecuteQuery(ctx, `SELECT * FROM patient_dimension WHERE patient_cd = ?`, code)
	if err != nil {
		return model.Patient{}, err
	}
	if len(res.Data) == 0 {
		return model.Patient{}, model.NotFound("patient_dimension", fmt.Sprintf("patient_cd=%s not found", code))
	}
	return patientMapper().Scan(res.Data[0])
}

// FindBySourceSystem returns every patient imported under sourceSystemCD.
func (r *PatientRepository) FindBySourceSystem(ctx context.Context, sourceSystemCD string) ([]model.Patient, error) {
	res, err := r.Handle().ExecuteQuery(ctx, `SELECT * FROM patient_dimension WHERE sourcesystem_cd = ?`, sourceSystemCD)
	if err != nil {
		return nil, err
	}
	m := patientMapper()
	out := make([]model.Patient, 0, len(res.Data))
	for _, row := range res.Data {
		p, err := m.Scan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// PatientCriteria filters FindByCriteria.
type PatientCriteria struct {
	VitalStatusCD string // maps to a code_lookup'd column on blob, core uses death_date presence
	SexCD         string
	MinAge        *int
	MaxAge        *int
}

// FindByCriteria filters patients by sex and/or age range.
func (r *PatientRepository) FindByCriteria(ctx context.Context, c PatientCriteria) ([]model.Patient, error) {
	where := "1=1"
	var args []any
	if c.SexCD != "" {
		where += " AND sex_cd = ?"
		args = append(args, c.SexCD)
	}
	if c.MinAge != nil {
		where += " AND age_in_years >= ?"
		args = append(args, *c.MinAge)
	}
	if c.MaxAge != nil {
		where += " AND age_in_years <= ?"
		args = append(args, *c.MaxAge)
	}
	res, err := r.Handle().ExecuteQuery(ctx, "SELECT * FROM patient_dimension WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	m := patientMapper()
	out := make([]model.Patient, 0, len(res.Data))
	for _, row := range res.Data {
		p, err := m.Scan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CreatePatient inserts a new patient after enforcing PATIENT_CD uniqueness
// (invariant: duplicate codes fail with model.Duplicate unless the caller is
// an import pipeline applying an update/skip policy, which goes through
// UpdatePatient/FindByPatientCode instead of this method).
func (r *PatientRepository) CreatePatient(ctx context.Context, p model.Patient) (int64, error) {
	if p.PatientCD == "" {
		return 0, model.ValidationFailure("patient_dimension", "patient_cd is required")
	}
	if _, err := r.FindByPatientCode(ctx, p.PatientCD); err == nil {
		return 0, model.Duplicate("patient_dimension", fmt.Sprintf("patient_cd=%s already exists", p.PatientCD))
	}
	if p.SourceSystemCD == "" {
		p.SourceSystemCD = model.DefaultSourceSystem
	}
	return r.Create(ctx, p)
}

// UpdatePatient merges patch over the stored patient.
func (r *PatientRepository) UpdatePatient(ctx context.Context, num int64, patch model.Patient) (model.Patient, error) {
	return r.Update(ctx, num, patch)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func sourceSystemOrDefault(s string) string {
	if s == "" {
		return model.DefaultSourceSystem
	}
	return s
}
