package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/JenAIx/best-sub007/internal/model"
	"github.com/JenAIx/best-sub007/internal/repository"
	"github.com/JenAIx/best-sub007/internal/storage"
	"github.com/JenAIx/best-sub007/pkg/config"
)

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd(zap.NewNop(), &config.Config{})
	cmd.SetArgs(args)
	cmd.SetOut(os.Stderr)
	cmd.SetErr(os.Stderr)
	return cmd.Execute()
}

func TestExitCodeForValidationFailure(t *testing.T) {
	err := model.ValidationFailure("cli", "bad input")
	if code := exitCodeFor(err); code != exitValidation {
		t.Errorf("exitCodeFor(validation) = %d, want %d", code, exitValidation)
	}
}

func TestExitCodeForDuplicate(t *testing.T) {
	err := model.Duplicate("cli", "already exists")
	if code := exitCodeFor(err); code != exitDuplicate {
		t.Errorf("exitCodeFor(duplicate) = %d, want %d", code, exitDuplicate)
	}
}

func TestExitCodeForStorageFailure(t *testing.T) {
	err := model.StorageFailure("cli", errors.New("disk full"))
	if code := exitCodeFor(err); code != exitStorage {
		t.Errorf("exitCodeFor(storage) = %d, want %d", code, exitStorage)
	}
}

func TestExitCodeForPlainError(t *testing.T) {
	if code := exitCodeFor(errors.New("boom")); code != exitIO {
		t.Errorf("exitCodeFor(plain) = %d, want %d", code, exitIO)
	}
}

func TestInitMigrateSeedDemoExportPipeline(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli_test.sqlite")

	if err := runCLI(t, "init", "--db", dbPath); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := runCLI(t, "seed", "--db", dbPath); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := runCLI(t, "demo", "--db", dbPath, "--count", "2"); err != nil {
		t.Fatalf("demo: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "export.json")
	if err := runCLI(t, "export", "--db", dbPath, "--format", "json", outPath); err != nil {
		t.Fatalf("export: %v", err)
	}
	body, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("expected non-empty export body")
	}
}

func TestExportThenImportRoundTripsCounts(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "roundtrip_src.sqlite")
	if err := runCLI(t, "init", "--db", srcPath); err != nil {
		t.Fatalf("init src: %v", err)
	}
	if err := runCLI(t, "seed", "--db", srcPath); err != nil {
		t.Fatalf("seed src: %v", err)
	}
	if err := runCLI(t, "demo", "--db", srcPath, "--count", "3"); err != nil {
		t.Fatalf("demo src: %v", err)
	}

	bundlePath := filepath.Join(t.TempDir(), "roundtrip.json")
	if err := runCLI(t, "export", "--db", srcPath, "--format", "json", bundlePath); err != nil {
		t.Fatalf("export: %v", err)
	}

	dstPath := filepath.Join(t.TempDir(), "roundtrip_dst.sqlite")
	if err := runCLI(t, "init", "--db", dstPath); err != nil {
		t.Fatalf("init dst: %v", err)
	}
	if err := runCLI(t, "seed", "--db", dstPath); err != nil {
		t.Fatalf("seed dst: %v", err)
	}
	if err := runCLI(t, "import", "--db", dstPath, bundlePath); err != nil {
		t.Fatalf("import into fresh db: %v", err)
	}

	srcHandle, err := storage.Connect(srcPath, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen src: %v", err)
	}
	defer srcHandle.Disconnect() //nolint:errcheck
	dstHandle, err := storage.Connect(dstPath, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen dst: %v", err)
	}
	defer dstHandle.Disconnect() //nolint:errcheck

	srcPatients, err := repository.NewPatientRepository(srcHandle, nil).FindAll(context.Background(), repository.FindAllOptions{})
	if err != nil {
		t.Fatalf("src patients: %v", err)
	}
	dstPatients, err := repository.NewPatientRepository(dstHandle, nil).FindAll(context.Background(), repository.FindAllOptions{})
	if err != nil {
		t.Fatalf("dst patients: %v", err)
	}
	if len(srcPatients) != len(dstPatients) {
		t.Fatalf("patient count mismatch after round trip: src=%d dst=%d", len(srcPatients), len(dstPatients))
	}

	srcObs, err := repository.NewObservationRepository(srcHandle, nil).FindAll(context.Background(), repository.FindAllOptions{})
	if err != nil {
		t.Fatalf("src observations: %v", err)
	}
	dstObs, err := repository.NewObservationRepository(dstHandle, nil).FindAll(context.Background(), repository.FindAllOptions{})
	if err != nil {
		t.Fatalf("dst observations: %v", err)
	}
	if len(srcObs) != len(dstObs) {
		t.Fatalf("observation count mismatch after round trip: src=%d dst=%d", len(srcObs), len(dstObs))
	}
}

func TestImportRejectsUnknownStrategy(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli_test2.sqlite")
	if err := runCLI(t, "init", "--db", dbPath); err != nil {
		t.Fatalf("init: %v", err)
	}

	bundlePath := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(bundlePath, []byte(`{"data":{"patients":[{"PATIENT_CD":"X"}]}}`), 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	err := runCLI(t, "import", "--db", dbPath, "--strategy", "bogus", bundlePath)
	if err == nil {
		t.Fatalf("expected unknown strategy to fail")
	}
	if code := exitCodeFor(err); code != exitValidation {
		t.Errorf("exitCodeFor = %d, want %d", code, exitValidation)
	}
}
