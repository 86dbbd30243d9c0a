package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func buildBinary(t *testing.T) string {
	t.Helper()
	tmpBin := filepath.Join(t.TempDir(), "bankload")
	buildCmd := exec.Command("go", "build", "-o", tmpBin, ".")
	buildCmd.Dir = filepath.Join("..", "..", "cmd", "bankload")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\nOutput: %s", err, output)
	}
	return tmpBin
}

// TestMain_RequiredFlags tests that missing -config flag shows error and usage
func TestMain_RequiredFlags(t *testing.T) {
	tmpBin := buildBinary(t)

	cmd := exec.Command(tmpBin)
	output, err := cmd.CombinedOutput()

	if err == nil {
		t.Fatal("Expected non-zero exit code when -config flag missing")
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("Expected ExitError, got %T", err)
	}
	if exitErr.ExitCode() != 1 {
		t.Errorf("Expected exit code 1, got %d", exitErr.ExitCode())
	}

	outputStr := string(output)
	if !strings.Contains(outputStr, "Error: -config flag is required") {
		t.Errorf("Expected error message about required -config flag, got:\n%s", outputStr)
	}
	if !strings.Contains(outputStr, "Usage:") {
		t.Errorf("Expected usage message, got:\n%s", outputStr)
	}
}

// TestMain_VersionFlag tests that -version prints version and exits 0
func TestMain_VersionFlag(t *testing.T) {
	tmpBin := buildBinary(t)

	cmd := exec.Command(tmpBin, "-version")
	output, err := cmd.CombinedOutput()

	if err != nil {
		t.Fatalf("Expected zero exit code for -version flag, got error: %v\nOutput:\n%s", err, output)
	}

	outputStr := string(output)
	if !strings.Contains(outputStr, "bankload version") {
		t.Errorf("Expected version output, got:\n%s", outputStr)
	}
	if !strings.Contains(outputStr, "0.1.0") {
		t.Errorf("Expected version 0.1.0 in output, got:\n%s", outputStr)
	}
}

// withFlags temporarily sets flag values and restores them after the test.
func withFlags(t *testing.T, config, stageVal string) func() {
	t.Helper()
	origConfig := *configPath
	origStage := *stage

	*configPath = config
	*stage = stageVal

	return func() {
		*configPath = origConfig
		*stage = origStage
	}
}

// TestRun_InvalidConfig tests error handling for bad configuration files
func TestRun_InvalidConfig(t *testing.T) {
	t.Run("non-existent file", func(t *testing.T) {
		defer withFlags(t, "/nonexistent/bankload.yaml", "resolve")()

		err := run()
		if err == nil {
			t.Fatal("Expected error for non-existent config file, got nil")
		}
		if !strings.Contains(err.Error(), "failed to read config file") {
			t.Errorf("Expected error containing 'failed to read config file', got: %v", err)
		}
	})

	t.Run("invalid YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bankload.yaml")
		if err := os.WriteFile(path, []byte("working_folder: [broken"), 0o644); err != nil {
			t.Fatal(err)
		}
		defer withFlags(t, path, "resolve")()

		err := run()
		if err == nil {
			t.Fatal("Expected error for invalid YAML, got nil")
		}
		if !strings.Contains(err.Error(), "failed to parse config file") {
			t.Errorf("Expected error containing 'failed to parse config file', got: %v", err)
		}
	})

	t.Run("missing required fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bankload.yaml")
		if err := os.WriteFile(path, []byte("working_folder: /tmp\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		defer withFlags(t, path, "resolve")()

		err := run()
		if err == nil {
			t.Fatal("Expected error for incomplete config, got nil")
		}
		if !strings.Contains(err.Error(), "invalid config") {
			t.Errorf("Expected error containing 'invalid config', got: %v", err)
		}
	})
}

// TestRun_UnknownStage tests that an unrecognized -stage value is rejected.
func TestRun_UnknownStage(t *testing.T) {
	dir := t.TempDir()
	cfg := `working_folder: ` + dir + `
database: ` + filepath.Join(dir, "bank.db") + `
headers:
  credit: ["Fecha", "Concepto", "Cargo", "Abono"]
  debit: ["Fecha", "Concepto", "Cargo", "Abono", "Saldo"]
accounts:
  - number: "5512"
    type: debit
`
	path := filepath.Join(dir, "bankload.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	defer withFlags(t, path, "bogus")()

	err := run()
	if err == nil {
		t.Fatal("Expected error for unknown stage, got nil")
	}
	if !strings.Contains(err.Error(), "unknown stage") {
		t.Errorf("Expected error containing 'unknown stage', got: %v", err)
	}
}
