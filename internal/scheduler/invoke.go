package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/untoldecay/wadup/internal/artifact"
	"github.com/untoldecay/wadup/internal/hostbridge"
	"github.com/untoldecay/wadup/internal/limiter"
	"github.com/untoldecay/wadup/internal/outputcapture"
	"github.com/untoldecay/wadup/internal/runtime"
	"github.com/untoldecay/wadup/internal/sharedbuf"
	"github.com/untoldecay/wadup/internal/sink"
)

// invocationResult is what running one module against one artifact
// produces: either a normal return (rows/emissions to commit) or a
// classified trap (everything buffered is discarded rather than
// committed).
type invocationResult struct {
	Rows      []hostbridge.PendingRow
	Emissions []hostbridge.PendingEmission
	Stdout    []byte
	Stderr    []byte
	StdoutTruncated bool
	StderrTruncated bool
	Trap      limiter.Kind
	TrapErr   error
}

// invoke runs rec's entry point against a's bytes exactly once, choosing
// the host module (interface A) or a scratch-directory virtual filesystem
// (interface B) according to rec.Transport, and enforces lim's fuel budget
// for the duration of the call.
//
// reactorCache is the calling worker's own module-instance cache (never
// shared across workers, so it needs no locking). When rec declares the
// reactor trait, exports "process" (the only shape the reactor contract
// applies to — a WASI _start module runs its entry point during
// instantiation itself, so reusing the instance would silently skip every
// artifact after the first), and uses the direct host-call transport (a VFS
// transport mounts a fresh scratch directory per artifact, which wazero only
// attaches at instantiation time), the instance is created once and kept in
// reactorCache for every later artifact on this worker; its guest-side
// state (globals, linear memory) persists across those calls. Every other
// combination instantiates fresh and closes immediately after the call, as
// the command trait requires.
func invoke(
	ctx context.Context,
	rt wazero.Runtime,
	rec *runtime.ModuleRecord,
	a artifact.Artifact,
	buf sharedbuf.SharedBuffer,
	sourcePath string,
	declareFn func(sink.TableSchema) (sink.TableHandle, error),
	lim *limiter.Meter,
	streams outputcapture.Pair,
	scratchRoot string,
	reactorCache map[string]api.Module,
) (*invocationResult, error) {
	bridge := hostbridge.New(declareFn)
	bridge.Bind(a, buf)

	invCtx := ctx
	if lim != nil {
		invCtx = lim.WithContext(invCtx)
		if l := lim.Listener(); l != nil {
			invCtx = experimental.WithFunctionListenerFactory(invCtx, l)
		}
	}
	invCtx = hostbridge.WithBridge(invCtx, bridge)

	modCfg := wazero.NewModuleConfig().
		WithStdout(streams.Stdout).
		WithStderr(streams.Stderr).
		WithName(fmt.Sprintf("%s-%s", rec.Name, a.ID))

	var session *hostbridge.VFSSession
	if rec.Transport == runtime.TransportVFS {
		root := filepath.Join(scratchRoot, a.ID.String())
		var err error
		session, err = hostbridge.NewVFSSession(root, bridge)
		if err != nil {
			return nil, fmt.Errorf("scheduler: preparing vfs session: %w", err)
		}
		if err := session.PopulateDataBin(buf, sourcePath); err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("scheduler: populating data.bin: %w", err)
		}
		modCfg = modCfg.WithFSConfig(wazero.NewFSConfig().WithDirMount(root, "/"))
	}

	reused := rec.Trait == runtime.TraitReactor &&
		rec.Shape == runtime.ShapeReactorFunc &&
		rec.Transport == runtime.TransportDirect &&
		reactorCache != nil

	var mod api.Module
	var instErr error
	if reused {
		if cached, ok := reactorCache[rec.Name]; ok {
			mod = cached
		} else {
			mod, instErr = rt.InstantiateModule(invCtx, rec.Compiled, modCfg)
			if instErr == nil {
				reactorCache[rec.Name] = mod
			}
		}
	} else {
		mod, instErr = rt.InstantiateModule(invCtx, rec.Compiled, modCfg)
	}

	var callErr error
	if instErr == nil && rec.Shape == runtime.ShapeReactorFunc {
		fn := mod.ExportedFunction("process")
		if fn == nil {
			callErr = fmt.Errorf("scheduler: module %s missing process export at call time", rec.Name)
		} else {
			_, callErr = fn.Call(invCtx)
		}
	}
	if mod != nil && !reused {
		_ = mod.Close(ctx)
	}

	if session != nil {
		if err := session.Close(); err != nil && instErr == nil && callErr == nil {
			callErr = err
		}
	}

	runErr := instErr
	if runErr == nil {
		runErr = callErr
	}

	res := &invocationResult{
		Stdout:          streams.Stdout.Bytes(),
		Stderr:          streams.Stderr.Bytes(),
		StdoutTruncated: streams.Stdout.Truncated(),
		StderrTruncated: streams.Stderr.Truncated(),
	}

	if runErr != nil {
		bridge.Discard()
		res.Trap = limiter.Classify(runErr, lim)
		res.TrapErr = runErr
		return res, nil
	}

	res.Rows, res.Emissions = bridge.Drain()
	res.Trap = limiter.None
	return res, nil
}

// ensureScratchRoot creates the run-wide scratch directory VFS invocations
// nest their per-invocation session under.
func ensureScratchRoot(base string) (string, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("scheduler: creating scratch root %s: %w", base, err)
	}
	return base, nil
}
