package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// ConceptRepository is the typed accessor over CONCEPT_DIMENSION. Its
// primary key is a text code rather than an autoincrement integer, so it
// does not embed BaseRepository (whose findById/update take an int64
// surrogate key) and instead implements its own lookups directly.
type ConceptRepository struct {
	h        *storage.Handle
	log      *zap.Logger
	prefixes *model.PrefixMap
}

func conceptMapper() Mapper[model.Concept] {
	return Mapper[model.Concept]{
		Table:    "concept_dimension",
		PKColumn: "concept_cd",
		Columns: []string{
			"concept_path", "display_name", "category_cd", "valtype_cd",
			"unit_cd", "sourcesystem_cd", "related_concept", "blob",
		},
		Values: func(c model.Concept) []any {
			return []any{
				c.ConceptPath, c.DisplayName, nullStr(c.CategoryCD), string(c.ValTypeCD),
				nullStr(c.UnitCD), nullStr(c.SourceSystemCD), nullStr(c.RelatedConcept), blobArg(c.Blob),
			}
		},
		Scan: func(row storage.Row) (model.Concept, error) {
			return model.Concept{
				ConceptCD:      strOf(row["concept_cd"]),
				ConceptPath:    strOf(row["concept_path"]),
				DisplayName:    strOf(row["display_name"]),
				CategoryCD:     strOf(row["category_cd"]),
				ValTypeCD:      model.ValueType(strOf(row["valtype_cd"])),
				UnitCD:         strOf(row["unit_cd"]),
				SourceSystemCD: strOf(row["sourcesystem_cd"]),
				RelatedConcept: strOf(row["related_concept"]),
				Blob:           blobOf(row["blob"]),
			}, nil
		},
	}
}

// NewConceptRepository builds a ConceptRepository over h, normalising code
// lookups and inserts through model.DefaultPrefixMap() (invariant 4 / P7).
func NewConceptRepository(h *storage.Handle, log *zap.Logger) *ConceptRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConceptRepository{h: h, log: log, prefixes: model.DefaultPrefixMap()}
}

// SetPrefixMap overrides the repository's code-normalisation rules.
func (r *ConceptRepository) SetPrefixMap(pm *model.PrefixMap) {
	r.prefixes = pm
}

// FindAll returns every registered concept.
func (r *ConceptRepository) FindAll(ctx context.Context) ([]model.Concept, error) {
	res, err := r.h.ExecuteQuery(ctx, `SELECT * FROM concept_dimension ORDER BY concept_path`)
	if err != nil {
		return nil, err
	}
	m := conceptMapper()
	out := make([]model.Concept, 0, len(res.Data))
	for _, row := range res.Data {
		c, err := m.Scan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// FindByConceptCode returns the concept with the given code, normalising
// recognised alias prefixes first so `LID:8462-4` finds the row stored
// under its canonical `LOINC:8462-4` (invariant 4 / P7).
func (r *ConceptRepository) FindByConceptCode(ctx context.Context, code string) (model.Concept, error) {
	norm := r.normalize(code)
	res, err := r.h.ExecuteQuery(ctx, `SELECT * FROM concept_dimension WHERE concept_cd = ?`, norm)
	if err != nil {
		return model.Concept{}, err
	}
	if len(res.Data) == 0 {
		return model.Concept{}, model.NotFound("concept_dimension", fmt.Sprintf("concept_cd=%s not found", code))
	}
	return conceptMapper().Scan(res.Data[0])
}

func (r *ConceptRepository) normalize(code string) string {
	if r.prefixes == nil {
		return code
	}
	return r.prefixes.Normalize(code)
}

// CreateConcept inserts a concept, validating its path shape first
// (invariant 3: paths start with `\`, never end with `\`, never contain
// `\\`). concept_cd is normalised to its canonical prefix before storage, so
// every concept row is keyed consistently regardless of which alias a
// caller used to register it.
func (r *ConceptRepository) CreateConcept(ctx context.Context, c model.Concept) error {
	if err := model.ValidConceptPath(c.ConceptPath); err != nil {
		return model.ValidationFailure("concept_dimension", err.Error())
	}
	if !c.ValTypeCD.Valid() {
		return model.ValidationFailure("concept_dimension", "unknown valtype_cd "+string(c.ValTypeCD))
	}
	c.ConceptCD = r.normalize(c.ConceptCD)
	m := conceptMapper()
	cols := append([]string{"concept_cd"}, m.Columns...)
	args := append([]any{c.ConceptCD}, m.Values(c)...)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO concept_dimension(%s) VALUES(%s)",
		joinCols(cols), joinCols(placeholders))
	_, err := r.h.ExecuteCommand(ctx, query, args...)
	return err
}

// SearchConcepts returns concepts whose code, path, or display name contain
// term (case-insensitive), ranked so exact code matches and prefix matches
// sort ahead of plain substring matches.
func (r *ConceptRepository) SearchConcepts(ctx context.Context, term string, limit int) ([]model.Concept, error) {
	if limit <= 0 {
		limit = 50
	}
	needle := "%" + term + "%"
	query := `
SELECT *,
	CASE
		WHEN concept_cd = ? THEN 0
		WHEN concept_cd LIKE ? THEN 1
		WHEN display_name LIKE ? THEN 2
		ELSE 3
	END AS rank
FROM concept_dimension
WHERE concept_cd LIKE ? COLLATE NOCASE
   OR concept_path LIKE ? COLLATE NOCASE
   OR display_name LIKE ? COLLATE NOCASE
ORDER BY rank ASC, display_name ASC
LIMIT ?`
	prefixNeedle := term + "%"
	res, err := r.h.ExecuteQuery(ctx, query,
		term, prefixNeedle, prefixNeedle, needle, needle, needle, limit)
	if err != nil {
		return nil, err
	}
	m := conceptMapper()
	out := make([]model.Concept, 0, len(res.Data))
	for _, row := range res.Data {
		c, err := m.Scan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}
