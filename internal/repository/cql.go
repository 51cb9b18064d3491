package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// CqlRepository is the typed accessor over CQL_RULE and CONCEPT_CQL_LOOKUP.
type CqlRepository struct {
	*BaseRepository[model.CqlRule]
}

func cqlMapper() Mapper[model.CqlRule] {
	return Mapper[model.CqlRule]{
		Table:    "cql_rule",
		PKColumn: "cql_id",
		Columns:  []string{"code_cd", "name", "body", "ast", "description"},
		Values: func(c model.CqlRule) []any {
			return []any{c.CodeCD, c.Name, c.Body, blobArg(c.AST), blobArg(c.Description)}
		},
		Scan: func(row storage.Row) (model.CqlRule, error) {
			return model.CqlRule{
				CqlID:       int64Of(row["cql_id"]),
				CodeCD:      strOf(row["code_cd"]),
				Name:        strOf(row["name"]),
				Body:        strOf(row["body"]),
				AST:         blobOf(row["ast"]),
				Description: blobOf(row["description"]),
			}, nil
		},
	}
}

// NewCqlRepository builds a CqlRepository over h.
func NewCqlRepository(h *storage.Handle, log *zap.Logger) *CqlRepository {
	return &CqlRepository{BaseRepository: NewBaseRepository(h, log, cqlMapper())}
}

// FindByConceptCode returns every CQL rule linked to a concept via
// concept_cql_lookup.
func (r *CqlRepository) FindByConceptCode(ctx context.Context, conceptCD string) ([]model.CqlRule, error) {
	res, err := r.Handle().ExecuteQuery(ctx, `
SELECT r.* FROM cql_rule r
JOIN concept_cql_lookup l ON l.cql_id = r.cql_id
WHERE l.concept_cd = ?
ORDER BY r.code_cd`, conceptCD)
	if err != nil {
		return nil, err
	}
	m := cqlMapper()
	out := make([]model.CqlRule, 0, len(res.Data))
	for _, row := range res.Data {
		c, err := m.Scan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// FindByCode returns the rule with the given code_cd.
func (r *CqlRepository) FindByCode(ctx context.Context, codeCD string) (model.CqlRule, error) {
	res, err := r.Handle().ExecuteQuery(ctx, `SELECT * FROM cql_rule WHERE code_cd = ?`, codeCD)
	if err != nil {
		return model.CqlRule{}, err
	}
	if len(res.Data) == 0 {
		return model.CqlRule{}, model.NotFound("cql_rule", "code_cd="+codeCD+" not found")
	}
	return cqlMapper().Scan(res.Data[0])
}
