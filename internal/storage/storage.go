// Package storage owns the single embedded relational file: it exposes
// parametrised query/command primitives and a transaction scope, and
// serialises writes behind a mutex since the engine is single-writer,
// multi-reader.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/JenAIx/best-sub007/internal/model"
	"go.uber.org/zap"
)

// Handle owns the database connection. Repositories and the seed loader
// borrow it; the migration runtime and import service take an exclusive
// write borrow via Transaction.
type Handle struct {
	db     *sql.DB
	path   string
	log    *zap.Logger
	writeMu sync.Mutex
}

// Row is a single result row as column-name -> value.
type Row = map[string]any

// QueryResult is the result of executeQuery.
type QueryResult struct {
	Success bool
	Data    []Row
}

// CommandResult is the result of executeCommand.
type CommandResult struct {
	Success bool
	LastID  int64
	Changes int64
}

// Connect opens (creating if absent) the embedded relational file at path.
func Connect(path string, log *zap.Logger) (*Handle, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path == "" {
		return nil, model.NewError(model.KindStorageFailure, "storage", "empty db path", nil)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, model.StorageFailure("storage", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, model.StorageFailure("storage", err)
	}
	// Single-writer, multi-reader: one connection keeps sqlite's own
	// locking simple and lets our write mutex be the only serialization
	// point that matters.
	db.SetMaxOpenConns(1)

	h := &Handle{db: db, path: path, log: log}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, model.StorageFailure("storage", fmt.Errorf("pragma %q: %w", p, err))
		}
	}
	log.Debug("storage connected", zap.String("path", path))
	return h, nil
}

// Disconnect closes the underlying handle.
func (h *Handle) Disconnect() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Path returns the database file path.
func (h *Handle) Path() string { return h.path }

// DB exposes the raw *sql.DB for components (migrations, seed) that need
// direct DDL access outside the repository contract.
func (h *Handle) DB() *sql.DB { return h.db }

// Logger returns the handle's logger.
func (h *Handle) Logger() *zap.Logger { return h.log }

// ExecuteQuery runs a parametrised read and materialises every row into a
// column-name-keyed map. Never interpolates params into sql.
func (h *Handle) ExecuteQuery(ctx context.Context, query string, args ...any) (*QueryResult, error) {
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.StorageFailure("storage", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, model.StorageFailure("storage", err)
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, model.StorageFailure("storage", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageFailure("storage", err)
	}
	return &QueryResult{Success: true, Data: out}, nil
}

// ExecuteCommand runs a parametrised write, serialised behind the write
// mutex so concurrent callers cannot interleave statements that should be
// atomic from the caller's point of view.
func (h *Handle) ExecuteCommand(ctx context.Context, cmd string, args ...any) (*CommandResult, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.executeCommandLocked(ctx, h.db, cmd, args...)
}

func (h *Handle) executeCommandLocked(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, cmd string, args ...any) (*CommandResult, error) {
	res, err := execer.ExecContext(ctx, cmd, args...)
	if err != nil {
		return nil, model.StorageFailure("storage", err)
	}
	lastID, _ := res.LastInsertId()
	changes, _ := res.RowsAffected()
	return &CommandResult{Success: true, LastID: lastID, Changes: changes}, nil
}

// Tx is a transaction-scoped handle: the only suspension unit exposed
// outside the adapter, giving callers a sequential-operations scope without
// surfacing the underlying driver transaction type.
type Tx struct {
	tx *sql.Tx
}

// Executor is the read/write surface shared by Handle and Tx, so a
// repository can be pointed at either a standalone handle or a single
// transaction scope without caring which.
type Executor interface {
	ExecuteQuery(ctx context.Context, query string, args ...any) (*QueryResult, error)
	ExecuteCommand(ctx context.Context, cmd string, args ...any) (*CommandResult, error)
}

func (t *Tx) ExecuteQuery(ctx context.Context, query string, args ...any) (*QueryResult, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.StorageFailure("storage", err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, model.StorageFailure("storage", err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, model.StorageFailure("storage", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return &QueryResult{Success: true, Data: out}, rows.Err()
}

func (t *Tx) ExecuteCommand(ctx context.Context, cmd string, args ...any) (*CommandResult, error) {
	res, err := t.tx.ExecContext(ctx, cmd, args...)
	if err != nil {
		return nil, model.StorageFailure("storage", err)
	}
	lastID, _ := res.LastInsertId()
	changes, _ := res.RowsAffected()
	return &CommandResult{Success: true, LastID: lastID, Changes: changes}, nil
}

// Transaction runs fn inside BEGIN/COMMIT; any error returned by fn, or a
// panic recovered here, triggers ROLLBACK. fn's error is returned unchanged
// unless ctx's deadline has passed, in which case it becomes
// TransactionTimeout; a panic becomes StorageFailure.
func (h *Handle) Transaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	sqlTx, beginErr := h.db.BeginTx(ctx, nil)
	if beginErr != nil {
		return model.StorageFailure("storage", beginErr)
	}
	tx := &Tx{tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			err = model.NewError(model.KindStorageFailure, "storage", "panic during transaction", fmt.Errorf("%v", p))
			return
		}
		if err != nil {
			_ = sqlTx.Rollback()
			if ctx.Err() == context.DeadlineExceeded {
				err = model.NewError(model.KindTransactionTimeout, "storage", "transaction timed out", ctx.Err())
			}
			return
		}
		if commitErr := sqlTx.Commit(); commitErr != nil {
			err = model.StorageFailure("storage", commitErr)
		}
	}()

	err = fn(tx)
	return err
}
