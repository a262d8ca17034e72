package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestInitQuietWritesDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	initCmd.Flags().Set("quiet", "false")
	defer initCmd.Flags().Set("quiet", "false")

	rootCmd.SetArgs([]string{"init", "--quiet"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("init --quiet: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "wadup.yaml"))
	if err != nil {
		t.Fatalf("reading wadup.yaml: %v", err)
	}

	var doc struct {
		ModulesDir string `yaml:"modules-dir"`
		InputsDir  string `yaml:"inputs-dir"`
		Output     string `yaml:"output"`
		MaxDepth   int    `yaml:"max-depth"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing wadup.yaml: %v", err)
	}

	if doc.ModulesDir != "modules" {
		t.Errorf("modules-dir = %q, want %q", doc.ModulesDir, "modules")
	}
	if doc.InputsDir != "inputs" {
		t.Errorf("inputs-dir = %q, want %q", doc.InputsDir, "inputs")
	}
	if doc.Output != "wadup.db" {
		t.Errorf("output = %q, want %q", doc.Output, "wadup.db")
	}
	if doc.MaxDepth != 100 {
		t.Errorf("max-depth = %d, want 100", doc.MaxDepth)
	}
}

func TestInitQuietIsNonInteractiveEvenWithoutATerminal(t *testing.T) {
	// A second run in a fresh directory must not block waiting on stdin:
	// --quiet always skips the huh wizard regardless of term.IsTerminal.
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	initCmd.Flags().Set("quiet", "false")
	defer initCmd.Flags().Set("quiet", "false")

	rootCmd.SetArgs([]string{"init", "--quiet"})
	done := make(chan error, 1)
	go func() { done <- rootCmd.Execute() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("init --quiet: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("init --quiet did not return within 5s; it must not wait on stdin")
	}
}
