// Package repository provides typed accessors over the Storage Adapter
// that enforce per-entity invariants. The patient, visit, observation, note,
// user and CQL rule repositories embed BaseRepository, a generic CRUD
// contract (findById/findAll/create/update/delete/count/findPaginated/
// search) parametrised by entity type; the concept, code lookup and
// provider repositories run their own queries. None of
// the SQL here interpolates caller input, every value travels as a bound
// parameter.
//
// Grounded on the localdb wrapper style elsewhere in the pack of returning
// typed structs out of the raw query layer. The generic update(id, patch)
// merge uses imdario/mergo the way the rest of the pack's service layers
// lean on struct-merge libraries for partial updates.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/imdario/mergo"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// Mapper supplies the type-specific glue BaseRepository needs: how to turn a
// storage.Row into a T, how to turn a T into bound INSERT/UPDATE values, and
// how to read/write its primary key.
type Mapper[T any] struct {
	Table    string
	PKColumn string
	Columns  []string // insert/update columns, PK excluded
	Values   func(T) []any
	Scan     func(storage.Row) (T, error)
	PK       func(T) int64
	SetPK    func(*T, int64)
}

// BaseRepository is the generic CRUD contract every entity repository
// embeds. Callers needing joins or entity-specific invariants add methods on
// the embedding type using Handle() directly.
//
// h is a storage.Executor rather than a concrete *storage.Handle so a
// repository can be re-pointed at a single transaction's storage.Tx (see
// WithExecutor) when a caller — the import service, chiefly — needs several
// repositories to share one BEGIN/COMMIT scope.
type BaseRepository[T any] struct {
	h   storage.Executor
	log *zap.Logger
	m   Mapper[T]
}

// NewBaseRepository builds a BaseRepository for the given mapper.
func NewBaseRepository[T any](h storage.Executor, log *zap.Logger, m Mapper[T]) *BaseRepository[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &BaseRepository[T]{h: h, log: log, m: m}
}

// Handle exposes the repository's storage executor (a *storage.Handle or a
// transaction-scoped *storage.Tx) to embedding repositories.
func (r *BaseRepository[T]) Handle() storage.Executor { return r.h }

// WithExecutor returns a shallow copy of the repository bound to a
// different executor, typically a *storage.Tx so the copy's operations
// join an in-flight transaction instead of opening their own connection.
func (r *BaseRepository[T]) WithExecutor(exec storage.Executor) *BaseRepository[T] {
	clone := *r
	clone.h = exec
	return &clone
}

// FindByID returns the row with the given primary key.
func (r *BaseRepository[T]) FindByID(ctx context.Context, id int64) (T, error) {
	var zero T
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", r.m.Table, r.m.PKColumn)
	res, err := r.h.ExecuteQuery(ctx, query, id)
	if err != nil {
		return zero, err
	}
	if len(res.Data) == 0 {
		return zero, model.NotFound(r.m.Table, fmt.Sprintf("%s=%d not found", r.m.PKColumn, id))
	}
	return r.m.Scan(res.Data[0])
}

// FindAllOptions controls FindAll's ordering and bound.
type FindAllOptions struct {
	OrderBy string // column name, trusted caller-supplied identifier only
	Limit   int    // 0 = no limit
}

// FindAll returns every row, optionally ordered and capped.
func (r *BaseRepository[T]) FindAll(ctx context.Context, opts FindAllOptions) ([]T, error) {
	query := fmt.Sprintf("SELECT * FROM %s", r.m.Table)
	if opts.OrderBy != "" {
		query += " ORDER BY " + opts.OrderBy
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return r.queryAll(ctx, query)
}

// Create inserts e and returns its generated primary key.
func (r *BaseRepository[T]) Create(ctx context.Context, e T) (int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(r.m.Columns)), ",")
	query := fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)",
		r.m.Table, strings.Join(r.m.Columns, ","), placeholders)
	res, err := r.h.ExecuteCommand(ctx, query, r.m.Values(e)...)
	if err != nil {
		return 0, err
	}
	return res.LastID, nil
}

// Update fetches the current row, merges patch's non-zero fields over it
// (mergo.WithOverride: only fields set in patch replace the stored value),
// persists the merged result, and returns it.
func (r *BaseRepository[T]) Update(ctx context.Context, id int64, patch T) (T, error) {
	var zero T
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return zero, err
	}
	merged := current
	if err := mergo.Merge(&merged, patch, mergo.WithOverride); err != nil {
		return zero, model.NewError(model.KindValidationFailure, r.m.Table, "patch merge failed", err)
	}
	setClauses := make([]string, len(r.m.Columns))
	for i, c := range r.m.Columns {
		setClauses[i] = c + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		r.m.Table, strings.Join(setClauses, ", "), r.m.PKColumn)
	args := append(r.m.Values(merged), id)
	if _, err := r.h.ExecuteCommand(ctx, query, args...); err != nil {
		return zero, err
	}
	return merged, nil
}

// Delete removes the row with the given primary key. Returns model.NotFound
// if no row matched.
func (r *BaseRepository[T]) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", r.m.Table, r.m.PKColumn)
	res, err := r.h.ExecuteCommand(ctx, query, id)
	if err != nil {
		return err
	}
	if res.Changes == 0 {
		return model.NotFound(r.m.Table, fmt.Sprintf("%s=%d not found", r.m.PKColumn, id))
	}
	return nil
}

// Count returns the number of rows matching the optional WHERE clause
// (caller-supplied, parametrised via args; pass "" for no filter).
func (r *BaseRepository[T]) Count(ctx context.Context, where string, args ...any) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", r.m.Table)
	if where != "" {
		query += " WHERE " + where
	}
	res, err := r.h.ExecuteQuery(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return toInt(res.Data[0]["n"]), nil
}

// FindPaginated returns page (1-indexed) of pageSize rows matching the
// optional WHERE clause, ordered by the repository's primary key.
func (r *BaseRepository[T]) FindPaginated(ctx context.Context, page, pageSize int, where string, args ...any) ([]T, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	query := fmt.Sprintf("SELECT * FROM %s", r.m.Table)
	if where != "" {
		query += " WHERE " + where
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT %d OFFSET %d", r.m.PKColumn, pageSize, (page-1)*pageSize)
	return r.queryAll(ctx, query, args...)
}

// Search performs a case-insensitive substring match across columns, OR'd
// together, each bound separately (never string-concatenated into the SQL).
func (r *BaseRepository[T]) Search(ctx context.Context, text string, columns []string) ([]T, error) {
	if text == "" || len(columns) == 0 {
		return nil, nil
	}
	clauses := make([]string, len(columns))
	args := make([]any, len(columns))
	needle := "%" + text + "%"
	for i, c := range columns {
		clauses[i] = fmt.Sprintf("%s LIKE ? COLLATE NOCASE", c)
		args[i] = needle
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", r.m.Table, strings.Join(clauses, " OR "))
	return r.queryAll(ctx, query, args...)
}

func (r *BaseRepository[T]) queryAll(ctx context.Context, query string, args ...any) ([]T, error) {
	res, err := r.h.ExecuteQuery(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(res.Data))
	for _, row := range res.Data {
		e, err := r.m.Scan(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
