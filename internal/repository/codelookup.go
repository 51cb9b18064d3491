package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// CodeLookupRepository is the typed accessor over CODE_LOOKUP, keyed by the
// composite (table_cd, column_cd, code_cd) so it does not fit
// BaseRepository's single-surrogate-key contract.
type CodeLookupRepository struct {
	h   *storage.Handle
	log *zap.Logger
}

// NewCodeLookupRepository builds a CodeLookupRepository over h.
func NewCodeLookupRepository(h *storage.Handle, log *zap.Logger) *CodeLookupRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &CodeLookupRepository{h: h, log: log}
}

func scanCodeLookup(row storage.Row) model.CodeLookup {
	return model.CodeLookup{
		TableCD:  strOf(row["table_cd"]),
		ColumnCD: strOf(row["column_cd"]),
		CodeCD:   strOf(row["code_cd"]),
		NameChar: strOf(row["name_char"]),
		Blob:     blobOf(row["blob"]),
	}
}

// FindByTableColumn returns every value set entry for (tableCD, columnCD),
// e.g. every allowed visit_dimension.active_status_cd value.
func (r *CodeLookupRepository) FindByTableColumn(ctx context.Context, tableCD, columnCD string) ([]model.CodeLookup, error) {
	res, err := r.h.ExecuteQuery(ctx,
		`SELECT * FROM code_lookup WHERE table_cd = ? AND column_cd = ? ORDER BY code_cd`, tableCD, columnCD)
	if err != nil {
		return nil, err
	}
	out := make([]model.CodeLookup, 0, len(res.Data))
	for _, row := range res.Data {
		out = append(out, scanCodeLookup(row))
	}
	return out, nil
}

// FindByCode returns every code_lookup entry registered under codeCD across
// tables/columns.
func (r *CodeLookupRepository) FindByCode(ctx context.Context, codeCD string) ([]model.CodeLookup, error) {
	res, err := r.h.ExecuteQuery(ctx, `SELECT * FROM code_lookup WHERE code_cd = ?`, codeCD)
	if err != nil {
		return nil, err
	}
	out := make([]model.CodeLookup, 0, len(res.Data))
	for _, row := range res.Data {
		out = append(out, scanCodeLookup(row))
	}
	return out, nil
}

// Create inserts a new code_lookup entry.
func (r *CodeLookupRepository) Create(ctx context.Context, c model.CodeLookup) error {
	_, err := r.h.ExecuteCommand(ctx,
		`INSERT INTO code_lookup(table_cd, column_cd, code_cd, name_char, blob) VALUES (?,?,?,?,?)`,
		c.TableCD, c.ColumnCD, c.CodeCD, c.NameChar, blobArg(c.Blob))
	return err
}
