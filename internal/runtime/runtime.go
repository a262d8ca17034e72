// Package runtime scans the modules directory, compiles each guest once
// via wazero, validates the required entry-point shape, and records each
// module's declared reactor/command trait. The scheduler is what actually
// keeps a worker-local cache of reactor instances alive across artifacts;
// this package only supplies the compiled module and the trait it reads.
package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"golang.org/x/crypto/blake2b"
)

// Shape is the detected entry-point convention of a compiled module.
type Shape int

const (
	// ShapeReactorFunc exports a callable "process" function taking no
	// arguments and returning an i32 status; the scheduler reuses the
	// instance across artifacts when the module is also reactor-trait and
	// direct-transport.
	ShapeReactorFunc Shape = iota
	// ShapeCommandStart exposes the sandbox's conventional start symbol
	// (WASI's _start); the host re-instantiates per artifact.
	ShapeCommandStart
)

// ModuleRecord is a compiled, validated module plus the metadata the
// scheduler and host bridge need.
type ModuleRecord struct {
	Name      string
	Path      string
	Compiled  wazero.CompiledModule
	Shape     Shape
	Trait     Trait
	Transport Transport
	Digest    [32]byte // blake2b-256 of the module's .wasm file bytes
}

// GuestRuntime owns the shared wazero.Runtime and every compiled module.
type GuestRuntime struct {
	rt      wazero.Runtime
	modules []*ModuleRecord
}

// Load scans dir for *.wasm files, compiles each once, and validates the
// required entry-point shape. Load fails the run (returns an error) on a
// missing entry point, a compile error, or a duplicate module name.
func Load(ctx context.Context, rt wazero.Runtime, dir string) (*GuestRuntime, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("runtime: reading modules dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wasm") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths) // stable module order across runs

	gr := &GuestRuntime{rt: rt}
	seen := make(map[string]bool)

	for _, path := range paths {
		rec, err := gr.compileOne(ctx, path)
		if err != nil {
			return nil, err
		}
		if seen[rec.Name] {
			return nil, fmt.Errorf("runtime: duplicate module name %q (from %s)", rec.Name, path)
		}
		seen[rec.Name] = true
		gr.modules = append(gr.modules, rec)
	}
	return gr, nil
}

func (gr *GuestRuntime) compileOne(ctx context.Context, path string) (*ModuleRecord, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runtime: reading module %s: %w", path, err)
	}

	compiled, err := gr.rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("runtime: compiling module %s: %w", path, err)
	}

	shape, err := detectShape(compiled)
	if err != nil {
		return nil, fmt.Errorf("runtime: module %s: %w", path, err)
	}

	man, err := loadManifest(path)
	if err != nil {
		return nil, err
	}

	name := man.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".wasm")
	}

	digest := blake2b.Sum256(bin)

	transport := TransportDirect
	if Transport(man.Transport) == TransportVFS {
		transport = TransportVFS
	}

	return &ModuleRecord{
		Name:      name,
		Path:      path,
		Compiled:  compiled,
		Shape:     shape,
		Trait:     man.Trait,
		Transport: transport,
		Digest:    digest,
	}, nil
}

func detectShape(compiled wazero.CompiledModule) (Shape, error) {
	exports := compiled.ExportedFunctions()
	if _, ok := exports["process"]; ok {
		return ShapeReactorFunc, nil
	}
	if _, ok := exports["_start"]; ok {
		return ShapeCommandStart, nil
	}
	return 0, fmt.Errorf("missing required entry point: need an exported %q function or a %q start symbol", "process", "_start")
}

// Modules returns every loaded module, in the stable order the scheduler
// must invoke them in for every artifact.
func (gr *GuestRuntime) Modules() []*ModuleRecord { return gr.modules }

// Close releases the shared wazero runtime, and with it every compiled
// module.
func (gr *GuestRuntime) Close(ctx context.Context) error {
	return gr.rt.Close(ctx)
}
