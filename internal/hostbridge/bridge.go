// Package hostbridge implements the host side of the module-to-host
// contract, offered over two equivalent transports a module picks between
// at load time — direct host-imported functions (interface A, direct.go)
// and a virtual filesystem (interface B, vfs.go). Both funnel into the
// same pending-emission buffer so the scheduler treats every module
// identically regardless of transport.
package hostbridge

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/untoldecay/wadup/internal/artifact"
	"github.com/untoldecay/wadup/internal/sharedbuf"
	"github.com/untoldecay/wadup/internal/sink"
)

// PendingRow is one row a guest declared during the current invocation,
// buffered until the invocation returns normally.
type PendingRow struct {
	Table  string
	Handle sink.TableHandle
	Values []sink.Value
}

// PendingEmission is one sub-artifact a guest emitted during the current
// invocation.
type PendingEmission struct {
	Filename string
	Owned    []byte // set when the guest submitted raw bytes
	IsSlice  bool
	Offset   int
	Length   int
}

// Bridge is bound to exactly one (worker, artifact) pair at a time — guest
// memory belongs to one thread for the lifetime of an invocation — and is
// reset before every invocation.
type Bridge struct {
	mu sync.Mutex

	current   artifact.Artifact
	bytes     sharedbuf.SharedBuffer
	declareFn func(sink.TableSchema) (sink.TableHandle, error)
	declared  map[string]sink.TableHandle

	rows      []PendingRow
	emissions []PendingEmission
}

// New returns a Bridge that calls declareFn to resolve/declare tables
// against the run's MetadataSink. declareFn is expected to wrap
// Sink.DeclareTable with the run's context.
func New(declareFn func(sink.TableSchema) (sink.TableHandle, error)) *Bridge {
	b := &Bridge{declareFn: declareFn, declared: make(map[string]sink.TableHandle)}
	return b
}

// rememberTable records the handle declare_table returned for name, so a
// later insert_row call (which the wire format re-identifies by name, not
// handle) can look it up.
func (b *Bridge) rememberTable(name string, handle sink.TableHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared[name] = handle
}

// Bind points the bridge at a new current artifact and clears any state
// left over from the previous invocation. Called once per (worker,
// artifact, module) before the entry point runs.
func (b *Bridge) Bind(a artifact.Artifact, bytes sharedbuf.SharedBuffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = a
	b.bytes = bytes
	b.rows = nil
	b.emissions = nil
}

// Drain returns everything the guest emitted during the just-finished
// invocation and clears the buffer. Called by the scheduler after a normal
// return; never called after a trap, since a trapped guest's buffered
// state is discarded rather than partially committed.
func (b *Bridge) Drain() ([]PendingRow, []PendingEmission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows, emissions := b.rows, b.emissions
	b.rows, b.emissions = nil, nil
	return rows, emissions
}

// Discard drops any buffered rows/emissions without returning them, used
// when the invocation trapped.
func (b *Bridge) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows, b.emissions = nil, nil
}

func (b *Bridge) addRow(table string, handle sink.TableHandle, values []sink.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, PendingRow{Table: table, Handle: handle, Values: values})
}

func (b *Bridge) addEmission(e PendingEmission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emissions = append(b.emissions, e)
}

func (b *Bridge) currentArtifact() (artifact.Artifact, sharedbuf.SharedBuffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.bytes
}

// currentID returns the bound artifact's id as raw bytes, for the direct
// call interface's current_id function.
func (b *Bridge) currentID() uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current.ID
}

// bridgeContextKey is how the singleton "wadup" host module (one instance
// shared by every worker) finds the Bridge for the invocation currently
// running on the calling goroutine — wazero threads
// the context passed to an exported function's Call down to every host
// function it calls, so binding one Bridge per invocation this way needs
// no per-worker host module instance.
type bridgeContextKey struct{}

// WithBridge returns a context carrying b, for passing to a guest entry
// point's Call so the shared host module resolves back to the right
// invocation's state.
func WithBridge(ctx context.Context, b *Bridge) context.Context {
	return context.WithValue(ctx, bridgeContextKey{}, b)
}

func bridgeFromContext(ctx context.Context) *Bridge {
	b, _ := ctx.Value(bridgeContextKey{}).(*Bridge)
	return b
}
