// Command best is the CLI entrypoint for the BEST clinical research data
// engine: init, migrate, seed, import, export, demo, reset.
//
// Grounded on spf13/cobra, the pack's own CLI framework choice (tendulkar
// cred-hack25-be, theRebelliousNerd-codenerd), for command parsing and flag
// binding; exit codes are 0 success, 2 validation/structure error, 3
// storage/migration error, 4 duplicate policy error, 5 I/O error.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/pkg/config"
	"github.com/JenAIx/best-sub007/pkg/logger"
)

const (
	exitOK         = 0
	exitValidation = 2
	exitStorage    = 3
	exitDuplicate  = 4
	exitIO         = 5
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		log = logger.Nop()
	}
	defer log.Sync() //nolint:errcheck

	cmd := newRootCmd(log, cfg)
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the CLI's exit-code table. Errors that carry
// no *model.Error kind, cobra's own flag and argument errors included, map
// to exitIO.
func exitCodeFor(err error) int {
	var merr *model.Error
	if errors.As(err, &merr) {
		switch merr.Kind {
		case model.KindValidationFailure, model.KindParseFailure:
			return exitValidation
		case model.KindStorageFailure, model.KindMigrationFailed, model.KindChecksumMismatch, model.KindTransactionTimeout:
			return exitStorage
		case model.KindDuplicate, model.KindCannotMapVisit, model.KindCannotMapPatient, model.KindConstraintViolation:
			return exitDuplicate
		}
	}
	if os.IsNotExist(err) || os.IsPermission(err) {
		return exitIO
	}
	fmt.Fprintln(os.Stderr, "best:", err)
	return exitIO
}
