package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/untoldecay/wadup/internal/config"
	"github.com/untoldecay/wadup/internal/hostbridge"
	"github.com/untoldecay/wadup/internal/loader"
	"github.com/untoldecay/wadup/internal/logging"
	"github.com/untoldecay/wadup/internal/runtime"
	"github.com/untoldecay/wadup/internal/scheduler"
	"github.com/untoldecay/wadup/internal/sink"
	"github.com/untoldecay/wadup/internal/store"
)

const wasmPageSize = 64 * 1024

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "run",
	Short:   "Process every file in the inputs directory through the loaded modules",
	RunE:    runRun,
}

func init() {
	flags := runCmd.Flags()
	flags.String("modules-dir", "", "directory of compiled .wasm modules")
	flags.String("inputs-dir", "", "directory of input files to process")
	flags.String("output", "", "path to the output SQLite database")
	flags.Int("workers", 0, "worker count (0 = number of CPUs)")
	flags.Uint64("fuel", 0, "per-invocation call-count budget (0 = unlimited)")
	flags.Uint64("memory-limit", 0, "per-instance memory ceiling in bytes (0 = unlimited)")
	flags.Uint64("stack-limit", 0, "per-instance stack ceiling in bytes, for reporting only (0 = unlimited)")
	flags.Int("max-depth", 0, "maximum sub-artifact recursion depth")
	flags.String("log-file", "", "rotated log file path (default: <output>.log)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	overrides := map[string]any{}
	for _, name := range []string{"modules-dir", "inputs-dir", "output"} {
		if v, _ := flags.GetString(name); v != "" {
			overrides[name] = v
		}
	}
	if v, _ := flags.GetInt("workers"); v != 0 {
		overrides["workers"] = v
	}
	if v, _ := flags.GetUint64("fuel"); v != 0 {
		overrides["fuel"] = v
	}
	if v, _ := flags.GetUint64("memory-limit"); v != 0 {
		overrides["memory-limit"] = v
	}
	if v, _ := flags.GetUint64("stack-limit"); v != 0 {
		overrides["stack-limit"] = v
	}
	if v, _ := flags.GetInt("max-depth"); v != 0 {
		overrides["max-depth"] = v
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logPath, _ := flags.GetString("log-file")
	if logPath == "" {
		logPath = cfg.Output + ".log"
	}
	logger := logging.New(logging.DefaultOptions(logPath))

	ctx := context.Background()
	start := time.Now()

	sk, err := sink.Open(ctx, cfg.Output, logger)
	if err != nil {
		return fmt.Errorf("opening metadata sink: %w", err)
	}
	defer sk.Close()

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryCap > 0 {
		pages := cfg.MemoryCap / wasmPageSize
		if pages == 0 {
			pages = 1
		}
		rtConfig = rtConfig.WithMemoryLimitPages(uint32(pages))
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	defer rt.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return fmt.Errorf("instantiating WASI: %w", err)
	}
	if _, err := hostbridge.BuildHostModule(rt).Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiating host module: %w", err)
	}

	gr, err := runtime.Load(ctx, rt, cfg.ModulesDir)
	if err != nil {
		return fmt.Errorf("loading modules: %w", err)
	}
	defer gr.Close(ctx)
	if len(gr.Modules()) == 0 {
		return fmt.Errorf("no modules found in %s", cfg.ModulesDir)
	}

	st := store.New()
	roots, err := loader.Roots(cfg.InputsDir, st)
	if err != nil {
		return fmt.Errorf("loading inputs: %w", err)
	}
	if len(roots) == 0 {
		logger.Warn("no input files found", "dir", cfg.InputsDir)
	}

	scratchRoot, err := os.MkdirTemp("", "wadup-scratch-*")
	if err != nil {
		return fmt.Errorf("creating scratch root: %w", err)
	}
	defer os.RemoveAll(scratchRoot)

	sched := scheduler.New(cfg, rt, gr, st, sk, logger, filepath.Clean(scratchRoot))

	logger.Info("run starting",
		"modules", len(gr.Modules()),
		"roots", len(roots),
		"workers", cfg.Workers,
		"output", cfg.Output,
	)

	if err := sched.Run(ctx, roots); err != nil {
		return fmt.Errorf("running scheduler: %w", err)
	}

	printSummary(cfg, len(roots), len(gr.Modules()), time.Since(start))
	return nil
}
