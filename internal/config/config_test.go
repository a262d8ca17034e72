package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRequiresModulesAndInputsDir(t *testing.T) {
	if _, err := Load(map[string]any{}); err == nil {
		t.Fatal("Load with no modules-dir/inputs-dir: expected error, got nil")
	}
	if _, err := Load(map[string]any{"modules-dir": "modules"}); err == nil {
		t.Fatal("Load with only modules-dir set: expected error, got nil")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(map[string]any{
		"modules-dir": "modules",
		"inputs-dir":  "inputs",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output != "wadup.db" {
		t.Errorf("Output = %q, want %q", cfg.Output, "wadup.db")
	}
	if cfg.MaxDepth != DefaultMaxDepth {
		t.Errorf("MaxDepth = %d, want %d", cfg.MaxDepth, DefaultMaxDepth)
	}
	if cfg.Fuel != 0 {
		t.Errorf("Fuel = %d, want 0 (unlimited)", cfg.Fuel)
	}
	if cfg.StdoutCap != defaultStreamCap || cfg.StderrCap != defaultStreamCap {
		t.Errorf("stream caps = (%d, %d), want (%d, %d)", cfg.StdoutCap, cfg.StderrCap, defaultStreamCap, defaultStreamCap)
	}
}

func TestLoadFlagOverridesWinOverDefaults(t *testing.T) {
	cfg, err := Load(map[string]any{
		"modules-dir": "modules",
		"inputs-dir":  "inputs",
		"output":      "custom.db",
		"max-depth":   5,
		"workers":     4,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output != "custom.db" {
		t.Errorf("Output = %q, want %q", cfg.Output, "custom.db")
	}
	if cfg.MaxDepth != 5 {
		t.Errorf("MaxDepth = %d, want 5", cfg.MaxDepth)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
}

func TestLoadRejectsNegativeMaxDepth(t *testing.T) {
	if _, err := Load(map[string]any{
		"modules-dir": "modules",
		"inputs-dir":  "inputs",
		"max-depth":   -1,
	}); err == nil {
		t.Fatal("Load with negative max-depth: expected error, got nil")
	}
}

func TestLoadReadsConfigFileFromInputsDir(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "wadup.yaml")
	if err := os.WriteFile(yamlPath, []byte("output: from-file.db\nmax-depth: 7\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(map[string]any{
		"modules-dir": "modules",
		"inputs-dir":  dir,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output != "from-file.db" {
		t.Errorf("Output = %q, want %q (from wadup.yaml)", cfg.Output, "from-file.db")
	}
	if cfg.MaxDepth != 7 {
		t.Errorf("MaxDepth = %d, want 7 (from wadup.yaml)", cfg.MaxDepth)
	}
}

func TestLockTimeoutIsPositive(t *testing.T) {
	if LockTimeout() <= 0 {
		t.Error("LockTimeout() should be a positive duration")
	}
}
