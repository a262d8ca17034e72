// Package config loads engine configuration with a layered precedence:
// flags > environment > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the scheduler needs to run the engine once.
type Config struct {
	ModulesDir string
	InputsDir  string
	Output     string

	Workers    int
	Fuel       uint64 // 0 = unlimited
	MemoryCap  uint64 // bytes, 0 = unlimited
	StackCap   uint64 // bytes, 0 = unlimited
	MaxDepth   int
	StdoutCap  int
	StderrCap  int
}

// DefaultMaxDepth is the recursion ceiling applied when max-depth is
// unset.
const DefaultMaxDepth = 100

const defaultStreamCap = 1 << 20 // 1 MiB

// Load builds a Config from viper, honoring WADUP_* environment variables
// and an optional wadup.yaml beside the inputs directory.
//
// Precedence (highest first): explicit flagOverrides, WADUP_* env vars,
// wadup.yaml, built-in defaults.
func Load(flagOverrides map[string]any) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("wadup")

	if cwd, err := os.Getwd(); err == nil {
		v.AddConfigPath(cwd)
	}
	if inputsDir, ok := flagOverrides["inputs-dir"].(string); ok && inputsDir != "" {
		v.AddConfigPath(inputsDir)
		v.AddConfigPath(filepath.Dir(inputsDir))
	}

	v.SetEnvPrefix("WADUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("modules-dir", "")
	v.SetDefault("inputs-dir", "")
	v.SetDefault("output", "wadup.db")
	v.SetDefault("workers", 0) // 0 -> runtime.NumCPU() resolved by caller
	v.SetDefault("fuel", uint64(0))
	v.SetDefault("memory-limit", uint64(0))
	v.SetDefault("stack-limit", uint64(0))
	v.SetDefault("max-depth", DefaultMaxDepth)
	v.SetDefault("stdout-cap", defaultStreamCap)
	v.SetDefault("stderr-cap", defaultStreamCap)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading wadup.yaml: %w", err)
		}
	}

	for k, val := range flagOverrides {
		if val == nil {
			continue
		}
		switch t := val.(type) {
		case string:
			if t == "" {
				continue
			}
		case int:
			if t == 0 {
				continue
			}
		}
		v.Set(k, val)
	}

	cfg := &Config{
		ModulesDir: v.GetString("modules-dir"),
		InputsDir:  v.GetString("inputs-dir"),
		Output:     v.GetString("output"),
		Workers:    v.GetInt("workers"),
		Fuel:       v.GetUint64("fuel"),
		MemoryCap:  v.GetUint64("memory-limit"),
		StackCap:   v.GetUint64("stack-limit"),
		MaxDepth:   v.GetInt("max-depth"),
		StdoutCap:  v.GetInt("stdout-cap"),
		StderrCap:  v.GetInt("stderr-cap"),
	}

	if cfg.ModulesDir == "" {
		return nil, fmt.Errorf("modules-dir is required")
	}
	if cfg.InputsDir == "" {
		return nil, fmt.Errorf("inputs-dir is required")
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("max-depth must be non-negative, got %d", cfg.MaxDepth)
	}

	return cfg, nil
}

// LockTimeout is how long the sink's flock waits for the output file before
// giving up.
func LockTimeout() time.Duration { return 30 * time.Second }
