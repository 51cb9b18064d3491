package main

import (
	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/storage"
)

// resolveDBPath applies the --db flag, whose default is already the loaded
// config's DBPath (BEST_DB_PATH, or ~/.best/best.sqlite).
func resolveDBPath() (string, error) {
	if dbPathFlag != "" {
		return dbPathFlag, nil
	}
	return "", model.ValidationFailure("cli", "no database path given: pass --db or set BEST_DB_PATH")
}

// openDB resolves the database path and connects, ready for use by a
// subcommand. Callers are responsible for disconnecting.
func openDB(log *zap.Logger) (*storage.Handle, error) {
	path, err := resolveDBPath()
	if err != nil {
		return nil, err
	}
	return storage.Connect(path, log)
}
