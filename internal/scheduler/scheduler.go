// Package scheduler implements a fixed pool of workers, each owning a
// work-stealing deque, driving every loaded module against every artifact
// depth-first while idle workers steal from their neighbors in round-robin
// order.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/untoldecay/wadup/internal/artifact"
	"github.com/untoldecay/wadup/internal/config"
	"github.com/untoldecay/wadup/internal/hostbridge"
	"github.com/untoldecay/wadup/internal/limiter"
	"github.com/untoldecay/wadup/internal/outputcapture"
	"github.com/untoldecay/wadup/internal/runtime"
	"github.com/untoldecay/wadup/internal/sharedbuf"
	"github.com/untoldecay/wadup/internal/sink"
	"github.com/untoldecay/wadup/internal/store"
	"github.com/untoldecay/wadup/internal/workqueue"
)

// Scheduler owns the worker pool and drives artifacts to completion.
type Scheduler struct {
	cfg         *config.Config
	rt          wazero.Runtime
	gr          *runtime.GuestRuntime
	store       *store.ArtifactStore
	sink        *sink.Sink
	logger      *slog.Logger
	scratchRoot string

	numWorkers int
	queues     []*workqueue.Queue[artifact.Artifact]

	// reactorInstances[idx] is worker idx's own cache of live reactor-trait
	// module instances, keyed by module name. Only the owning worker
	// goroutine ever reads or writes its own entry, so no lock guards it.
	reactorInstances []map[string]api.Module

	pending   atomic.Int64
	cancelled atomic.Bool
}

// New builds a Scheduler. scratchRoot is a run-private directory for
// interface (B) virtual filesystem sessions; the caller owns its lifetime.
func New(cfg *config.Config, rt wazero.Runtime, gr *runtime.GuestRuntime, st *store.ArtifactStore, sk *sink.Sink, logger *slog.Logger, scratchRoot string) *Scheduler {
	n := cfg.Workers
	if n <= 0 {
		n = goruntime.NumCPU()
	}
	return &Scheduler{
		cfg:         cfg,
		rt:          rt,
		gr:          gr,
		store:       st,
		sink:        sk,
		logger:      logger,
		scratchRoot: scratchRoot,
		numWorkers:  n,
	}
}

// Cancel requests every worker stop picking up new artifacts once it
// finishes the one it currently holds. Already-queued artifacts are left
// unprocessed.
func (s *Scheduler) Cancel() { s.cancelled.Store(true) }

// Run seeds roots round-robin across the worker pool and blocks until
// every artifact — root and module-emitted descendant alike — has been
// processed, or the run is cancelled.
func (s *Scheduler) Run(ctx context.Context, roots []artifact.Artifact) error {
	if _, err := ensureScratchRoot(s.scratchRoot); err != nil {
		return err
	}

	s.queues = make([]*workqueue.Queue[artifact.Artifact], s.numWorkers)
	s.reactorInstances = make([]map[string]api.Module, s.numWorkers)
	for i := range s.queues {
		s.queues[i] = workqueue.New[artifact.Artifact]()
		s.reactorInstances[i] = make(map[string]api.Module)
	}
	for i, r := range roots {
		s.queues[i%s.numWorkers].PushBottom(r)
		s.pending.Add(1)
	}

	var wg sync.WaitGroup
	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			goruntime.LockOSThread()
			defer goruntime.UnlockOSThread()
			s.workerLoop(ctx, idx)
		}(i)
	}
	wg.Wait()

	s.closeReactorInstances(ctx)
	return nil
}

// closeReactorInstances tears down every reactor-trait module instance
// still cached at the end of the run. They were kept alive across
// artifacts on purpose; nothing closes them earlier.
func (s *Scheduler) closeReactorInstances(ctx context.Context) {
	for _, cache := range s.reactorInstances {
		for name, mod := range cache {
			if err := mod.Close(ctx); err != nil {
				s.logger.Error("closing cached reactor instance", "module", name, "err", err)
			}
		}
	}
}

// workerLoop is depth-first on locally pushed work (PopBottom, LIFO) and
// falls back to stealing the oldest, coarsest work from a neighbor
// (StealTop, FIFO) when its own deque runs dry.
func (s *Scheduler) workerLoop(ctx context.Context, idx int) {
	streams := outputcapture.NewPair(s.cfg.StdoutCap, s.cfg.StderrCap)
	backoff := time.Millisecond

	for {
		if s.cancelled.Load() {
			return
		}

		item, ok := s.queues[idx].PopBottom()
		if !ok {
			item, ok = s.steal(idx)
		}
		if !ok {
			if s.pending.Load() == 0 {
				return
			}
			time.Sleep(backoff)
			backoff = min(backoff*2, 20*time.Millisecond)
			continue
		}

		backoff = time.Millisecond
		s.processArtifact(ctx, idx, item, streams)
		s.pending.Add(-1)
	}
}

func (s *Scheduler) steal(idx int) (artifact.Artifact, bool) {
	for off := 1; off < s.numWorkers; off++ {
		j := (idx + off) % s.numWorkers
		if item, ok := s.queues[j].StealTop(); ok {
			return item, true
		}
	}
	return artifact.Artifact{}, false
}

// enqueue pushes a new artifact onto idx's own deque, depth-first: a
// worker that just produced a child keeps working on it before its
// siblings.
func (s *Scheduler) enqueue(idx int, a artifact.Artifact) {
	s.pending.Add(1)
	s.queues[idx].PushBottom(a)
}

func (s *Scheduler) processArtifact(ctx context.Context, idx int, a artifact.Artifact, streams outputcapture.Pair) {
	if a.Depth > s.cfg.MaxDepth {
		s.logger.Warn("recursion depth exceeded", "artifact", a.ID, "depth", a.Depth, "max_depth", s.cfg.MaxDepth)
		if err := s.sink.RecordArtifact(ctx, a.ID, a.Filename, a.ParentID, sink.StatusFailed, "recursion depth exceeded"); err != nil {
			s.logger.Error("recording artifact", "artifact", a.ID, "err", err)
		}
		s.releaseArtifact(a)
		return
	}

	buf, err := s.store.Resolve(a)
	if err != nil {
		s.logger.Error("resolving artifact bytes", "artifact", a.ID, "err", err)
		if rerr := s.sink.RecordArtifact(ctx, a.ID, a.Filename, a.ParentID, sink.StatusFailed, err.Error()); rerr != nil {
			s.logger.Error("recording artifact", "artifact", a.ID, "err", rerr)
		}
		return
	}

	sourcePath := ""
	if a.Payload.Kind == artifact.Owned {
		sourcePath = s.store.SourcePath(a.ID)
	}

	declareFn := func(schema sink.TableSchema) (sink.TableHandle, error) {
		return s.sink.DeclareTable(ctx, schema)
	}

	anyTrap := false
	failMsg := ""

	for _, rec := range s.gr.Modules() {
		streams.Reset()
		lim := limiter.NewMeter(s.cfg.Fuel)

		result, err := invoke(ctx, s.rt, rec, a, buf, sourcePath, declareFn, lim, streams, s.scratchRoot, s.reactorInstances[idx])
		if err != nil {
			anyTrap = true
			if failMsg == "" {
				failMsg = fmt.Sprintf("%s: %v", rec.Name, err)
			}
			s.logger.Error("invocation failed to start", "module", rec.Name, "artifact", a.ID, "err", err)
			continue
		}

		if rerr := s.sink.RecordModuleOutput(ctx, a.ID, rec.Name, result.Stdout, result.Stderr, result.StdoutTruncated, result.StderrTruncated); rerr != nil {
			s.logger.Error("recording module output", "module", rec.Name, "artifact", a.ID, "err", rerr)
		}

		if result.Trap != limiter.None {
			anyTrap = true
			if failMsg == "" {
				failMsg = fmt.Sprintf("%s: %s", rec.Name, result.Trap.String())
			}
			s.logger.Warn("module trapped", "module", rec.Name, "artifact", a.ID, "kind", result.Trap.String(), "err", result.TrapErr)
			continue
		}

		for _, row := range result.Rows {
			if ierr := s.sink.InsertRow(ctx, row.Handle, a.ID, row.Values); ierr != nil {
				s.logger.Error("inserting row", "module", rec.Name, "table", row.Table, "artifact", a.ID, "err", ierr)
			}
		}

		for _, e := range result.Emissions {
			child, err := s.materializeEmission(a, buf, e)
			if err != nil {
				s.logger.Error("materializing emission", "module", rec.Name, "artifact", a.ID, "filename", e.Filename, "err", err)
				continue
			}
			s.enqueue(idx, child)
		}
	}

	status := sink.StatusSuccess
	if anyTrap {
		status = sink.StatusFailed
	}
	if err := s.sink.RecordArtifact(ctx, a.ID, a.Filename, a.ParentID, status, failMsg); err != nil {
		s.logger.Error("recording artifact", "artifact", a.ID, "err", err)
	}

	s.releaseArtifact(a)
}

// materializeEmission turns one module's emitted sub-artifact into a
// concrete child Artifact plus its registration in the ArtifactStore.
// Owned emissions copy the guest-submitted bytes once into a fresh
// SharedBuffer; Slice emissions never copy — they resolve against the
// currently processing artifact's own resolved buffer and register the
// deepest Owned ancestor as a tracked descendant.
func (s *Scheduler) materializeEmission(parent artifact.Artifact, parentBuf sharedbuf.SharedBuffer, e hostbridge.PendingEmission) (artifact.Artifact, error) {
	if e.IsSlice {
		if _, err := parentBuf.Read(e.Offset, e.Length); err != nil {
			return artifact.Artifact{}, fmt.Errorf("scheduler: slice emission %q out of range: %w", e.Filename, err)
		}
		ownerID, baseOffset := s.store.Owner(parent)
		child := artifact.NewChild(parent, e.Filename, artifact.SlicePayload(ownerID, baseOffset+e.Offset, e.Length))
		s.store.TrackDescendant(ownerID)
		return child, nil
	}

	owned := make([]byte, len(e.Owned))
	copy(owned, e.Owned)
	child := artifact.NewChild(parent, e.Filename, artifact.OwnedPayload(owned))
	s.store.Insert(child.ID, sharedbuf.FromBytes(owned))
	return child, nil
}

func (s *Scheduler) releaseArtifact(a artifact.Artifact) {
	if a.Payload.Kind == artifact.Owned {
		s.store.Release(a.ID)
		return
	}
	ownerID, _ := s.store.Owner(a)
	s.store.ReleaseDescendant(ownerID)
}
