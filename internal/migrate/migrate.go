// Package migrate applies an ordered, checksummed sequence of schema
// migrations against a tracking table, one transaction per migration, in
// registration order.
//
// Grounded on the pack's BeadsLog sqlite migration runner, which keeps
// migrations as an ordered `[]Migration{Name, Func}` slice applied
// idempotently — adapted here to add checksum tracking and validate/reset
// operations.
package migrate

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// Migration is one registered schema change.
type Migration struct {
	Name        string
	Description string
	SQL         string // one or more statements, executed in order
}

func (m Migration) checksum() uint64 {
	return xxhash.Sum64String(m.Name + "\x00" + m.Description + "\x00" + m.SQL)
}

// Status summarises migrationStatus().
type Status struct {
	Total        int
	Executed     int
	Pending      int
	PendingNames []string
}

// Runtime applies and tracks migrations against a storage.Handle.
type Runtime struct {
	h          *storage.Handle
	log        *zap.Logger
	migrations []Migration
}

// New builds a Runtime with the registered migration list in registration
// order. Callers should pass AllMigrations() unless composing a custom set
// for tests.
func New(h *storage.Handle, log *zap.Logger, migrations []Migration) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{h: h, log: log, migrations: migrations}
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS migrations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	executed_at TEXT NOT NULL,
	checksum INTEGER NOT NULL,
	description TEXT
)`

// Initialize creates the tracking table if absent, then applies every
// registered migration not yet marked applied, in registration order, each
// in its own transaction.
func (r *Runtime) Initialize(ctx context.Context) error {
	if _, err := r.h.DB().ExecContext(ctx, createMigrationsTable); err != nil {
		return model.StorageFailure("migrations", err)
	}
	applied, err := r.appliedNames(ctx)
	if err != nil {
		return err
	}
	for _, m := range r.migrations {
		if applied[m.Name] {
			continue
		}
		if err := r.applyOne(ctx, m); err != nil {
			return model.NewError(model.KindMigrationFailed, m.Name, "migration failed", err)
		}
		r.log.Info("migration applied", zap.String("name", m.Name))
	}
	return nil
}

func (r *Runtime) applyOne(ctx context.Context, m Migration) error {
	return r.h.Transaction(ctx, func(tx *storage.Tx) error {
		if _, err := tx.ExecuteCommand(ctx, m.SQL); err != nil {
			return err
		}
		_, err := tx.ExecuteCommand(ctx,
			`INSERT INTO migrations(name, executed_at, checksum, description) VALUES(?, datetime('now'), ?, ?)`,
			m.Name, m.checksum(), m.Description,
		)
		return err
	})
}

func (r *Runtime) appliedNames(ctx context.Context) (map[string]bool, error) {
	rows, err := r.h.DB().QueryContext(ctx, `SELECT name FROM migrations`)
	if err != nil {
		return nil, model.StorageFailure("migrations", err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, model.StorageFailure("migrations", err)
		}
		out[name] = true
	}
	return out, rows.Err()
}

// MigrationStatus reports total/executed/pending registered migrations.
func (r *Runtime) MigrationStatus(ctx context.Context) (Status, error) {
	applied, err := r.appliedNames(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{Total: len(r.migrations), Executed: len(applied)}
	for _, m := range r.migrations {
		if !applied[m.Name] {
			st.Pending++
			st.PendingNames = append(st.PendingNames, m.Name)
		}
	}
	return st, nil
}

// Validate recomputes every applied migration's checksum and flags
// mismatches (invariant 6: checksums immutable once applied).
func (r *Runtime) Validate(ctx context.Context) error {
	rows, err := r.h.DB().QueryContext(ctx, `SELECT name, checksum FROM migrations`)
	if err != nil {
		return model.StorageFailure("migrations", err)
	}
	defer rows.Close()
	stored := map[string]uint64{}
	for rows.Next() {
		var name string
		var sum uint64
		if err := rows.Scan(&name, &sum); err != nil {
			return model.StorageFailure("migrations", err)
		}
		stored[name] = sum
	}
	if err := rows.Err(); err != nil {
		return model.StorageFailure("migrations", err)
	}
	for _, m := range r.migrations {
		want, ok := stored[m.Name]
		if !ok {
			continue // not yet applied
		}
		if want != m.checksum() {
			return model.NewError(model.KindChecksumMismatch, m.Name,
				fmt.Sprintf("checksum mismatch: stored=%d current=%d", want, m.checksum()), nil)
		}
	}
	return nil
}

// Reset drops every view and every non-migrations table, clears the
// tracking table, and re-applies every registered migration from scratch.
func (r *Runtime) Reset(ctx context.Context) error {
	views, err := r.userTableNames(ctx, "view")
	if err != nil {
		return err
	}
	names, err := r.userTableNames(ctx, "table")
	if err != nil {
		return err
	}
	dropErr := r.h.Transaction(ctx, func(tx *storage.Tx) error {
		for _, v := range views {
			if _, err := tx.ExecuteCommand(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", quoteIdent(v))); err != nil {
				return err
			}
		}
		for _, n := range names {
			if _, err := tx.ExecuteCommand(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(n))); err != nil {
				return err
			}
		}
		if _, err := tx.ExecuteCommand(ctx, `DELETE FROM migrations`); err != nil {
			return err
		}
		return nil
	})
	if dropErr != nil {
		return dropErr
	}
	return r.Initialize(ctx)
}

func (r *Runtime) userTableNames(ctx context.Context, kind string) ([]string, error) {
	rows, err := r.h.DB().QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = ? AND name != 'migrations' AND name NOT LIKE 'sqlite_%'`, kind)
	if err != nil {
		return nil, model.StorageFailure("migrations", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, model.StorageFailure("migrations", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// quoteIdent is only ever applied to identifiers this package itself
// generated (sqlite_master table names), never to external input.
func quoteIdent(name string) string { return `"` + name + `"` }
