// Package search composes multi-repository queries over patients and
// observations, turning structured filters into one parametrised WHERE
// clause and never exposing raw SQL to the caller.
//
// Built on the Repository Layer's own WHERE-clause builders
// (internal/repository/base.go's Count/FindPaginated, and
// PatientRepository.FindByCriteria): search composes one level above a
// single repository, reusing its bind-everything discipline rather than
// issuing SQL of its own.
package search

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/conceptcache"
	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/repository"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// Paging bounds one page of results.
type Paging struct {
	Page     int // 1-indexed; 0 treated as 1
	PageSize int // 0 treated as 50
}

func (p Paging) normalize() (page, size int) {
	page, size = p.Page, p.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	return page, size
}

// PatientFilter narrows SearchPatients.
type PatientFilter struct {
	SexCD       string
	MinAge      *int
	MaxAge      *int
	BirthAfter  string
	BirthBefore string
}

// ObservationFilter narrows SearchObservations.
type ObservationFilter struct {
	ConceptCD   string
	PatientNum  *int64
	StartAfter  string
	StartBefore string
	MinValue    *float64
	MaxValue    *float64
	FreeText    string // matched against the concept's resolved display name
}

// PatientPage is SearchPatients' result.
type PatientPage struct {
	Rows     []model.Patient
	Total    int
	Page     int
	PageSize int
}

// ObservationPage is SearchObservations' result.
type ObservationPage struct {
	Rows     []model.Observation
	Total    int
	Page     int
	PageSize int
}

// Service composes filters into parametrised queries over the Repository
// Layer. It never returns raw SQL; callers only see typed rows.
type Service struct {
	patients *repository.PatientRepository
	obs      *repository.ObservationRepository
	cache    *conceptcache.Cache
	log      *zap.Logger
}

// New builds a Service over h. cache is optional; when nil, FreeText
// filtering on observations is skipped (no concept names to resolve
// against).
func New(h *storage.Handle, cache *conceptcache.Cache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		patients: repository.NewPatientRepository(h, log),
		obs:      repository.NewObservationRepository(h, log),
		cache:    cache,
		log:      log,
	}
}

// SearchPatients composes filter into a WHERE clause over patient_dimension.
func (s *Service) SearchPatients(ctx context.Context, filter PatientFilter, paging Paging) (PatientPage, error) {
	page, size := paging.normalize()
	where, args := patientWhere(filter)

	total, err := s.patients.Count(ctx, where, args...)
	if err != nil {
		return PatientPage{}, err
	}
	rows, err := s.patients.FindPaginated(ctx, page, size, where, args...)
	if err != nil {
		return PatientPage{}, err
	}
	return PatientPage{Rows: rows, Total: total, Page: page, PageSize: size}, nil
}

func patientWhere(f PatientFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.SexCD != "" {
		clauses = append(clauses, "sex_cd = ?")
		args = append(args, f.SexCD)
	}
	if f.MinAge != nil {
		clauses = append(clauses, "age_in_years >= ?")
		args = append(args, *f.MinAge)
	}
	if f.MaxAge != nil {
		clauses = append(clauses, "age_in_years <= ?")
		args = append(args, *f.MaxAge)
	}
	if f.BirthAfter != "" {
		clauses = append(clauses, "birth_date >= ?")
		args = append(args, f.BirthAfter)
	}
	if f.BirthBefore != "" {
		clauses = append(clauses, "birth_date <= ?")
		args = append(args, f.BirthBefore)
	}
	return strings.Join(clauses, " AND "), args
}

// SearchObservations composes filter into a WHERE clause over
// observation_fact. When FreeText is set and no explicit ConceptCD was
// given, it is first resolved against the concept cache's display names and
// folded into ConceptCD.
func (s *Service) SearchObservations(ctx context.Context, filter ObservationFilter, paging Paging) (ObservationPage, error) {
	page, size := paging.normalize()

	if filter.FreeText != "" && filter.ConceptCD == "" && s.cache != nil {
		if code, ok := s.cache.CodeFromLabel(filter.FreeText, ""); ok {
			filter.ConceptCD = code
		} else {
			matches := s.cache.SearchConcepts(filter.FreeText, 1)
			if len(matches) == 0 {
				return ObservationPage{Page: page, PageSize: size}, nil
			}
			filter.ConceptCD = matches[0].ConceptCD
		}
	}

	where, args := observationWhere(filter)
	total, err := s.obs.Count(ctx, where, args...)
	if err != nil {
		return ObservationPage{}, err
	}
	rows, err := s.obs.FindPaginated(ctx, page, size, where, args...)
	if err != nil {
		return ObservationPage{}, err
	}
	return ObservationPage{Rows: rows, Total: total, Page: page, PageSize: size}, nil
}

func observationWhere(f ObservationFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.ConceptCD != "" {
		clauses = append(clauses, "concept_cd = ?")
		args = append(args, f.ConceptCD)
	}
	if f.PatientNum != nil {
		clauses = append(clauses, "patient_num = ?")
		args = append(args, *f.PatientNum)
	}
	if f.StartAfter != "" {
		clauses = append(clauses, "start_date >= ?")
		args = append(args, f.StartAfter)
	}
	if f.StartBefore != "" {
		clauses = append(clauses, "start_date <= ?")
		args = append(args, f.StartBefore)
	}
	if f.MinValue != nil {
		clauses = append(clauses, "nval_num >= ?")
		args = append(args, *f.MinValue)
	}
	if f.MaxValue != nil {
		clauses = append(clauses, "nval_num <= ?")
		args = append(args, *f.MaxValue)
	}
	return strings.Join(clauses, " AND "), args
}
