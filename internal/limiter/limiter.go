// Package limiter enforces a per-instance CPU "fuel" budget, memory
// ceiling, and stack ceiling, with exhaustion surfaced as a classified
// error rather than a generic panic.
//
// wazero has no built-in "fuel" counter the way wasmtime does, so fuel is
// metered host-side: a wazero experimental.FunctionListener fires on every
// guest function call/return and decrements a counter; hitting zero cancels
// the invocation's context, which wazero (configured with
// WithCloseOnContextDone) turns into a trapped call the host can tell apart
// from an ordinary guest error. Memory is capped at the wazero.Runtime
// level via WithMemoryLimitPages, since a run's memory ceiling is a single
// CLI-wide setting applied uniformly to every instance. Stack overflow
// relies on wazero's own recursion guard; the configured stack ceiling is
// carried for reporting, since wazero does not expose a separate
// byte-granular stack knob.
package limiter

import (
	"context"
	"errors"
	"strings"

	"github.com/tetratelabs/wazero/experimental"
)

// Kind classifies why an invocation stopped short of a normal return.
type Kind int

const (
	// None is not a failure; the invocation returned normally.
	None Kind = iota
	FuelExhausted
	MemoryLimit
	StackOverflow
	GuestTrap // uncategorized trap
)

func (k Kind) String() string {
	switch k {
	case FuelExhausted:
		return "FuelExhausted"
	case MemoryLimit:
		return "MemoryLimit"
	case StackOverflow:
		return "StackOverflow"
	case GuestTrap:
		return "GuestTrap"
	default:
		return "None"
	}
}

// Limits configures one guest instance's resource budget. Zero means
// unlimited for that dimension.
type Limits struct {
	Fuel      uint64
	MemoryCap uint64 // bytes
	StackCap  uint64 // bytes, carried for reporting (see package doc)
}

// Meter tracks one invocation's remaining fuel and cancels its context when
// exhausted. A Meter is created fresh per invocation (NewMeter), so fuel is
// refilled to the configured amount before each artifact.
type Meter struct {
	budget    uint64
	remaining uint64
	cancel    context.CancelFunc
	exhausted bool
}

// NewMeter refills a Meter to budget fuel units. A budget of 0 means
// unlimited — Listener returns nil in that case.
func NewMeter(budget uint64) *Meter {
	return &Meter{budget: budget, remaining: budget}
}

// WithContext derives a cancelable context for one invocation and returns
// it; the Meter cancels it when fuel runs out. The matching
// experimental.FunctionListenerFactory comes from Listener, which the
// caller installs (for example via
// experimental.WithFunctionListenerFactory(ctx, ...)) before calling the
// guest's entry point.
func (m *Meter) WithContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	return ctx
}

// Listener returns the experimental.FunctionListenerFactory that decrements
// fuel on every guest function call boundary.
func (m *Meter) Listener() experimental.FunctionListenerFactory {
	if m.budget == 0 {
		return nil
	}
	return &fuelListenerFactory{m: m}
}

// Exhausted reports whether this Meter ran out of fuel during its
// invocation.
func (m *Meter) Exhausted() bool { return m.exhausted }

type fuelListenerFactory struct{ m *Meter }

func (f *fuelListenerFactory) NewFunctionListener(fd experimental.FunctionDefinition) experimental.FunctionListener {
	return &fuelListener{m: f.m}
}

type fuelListener struct{ m *Meter }

func (l *fuelListener) Before(ctx context.Context, mod experimental.FunctionInstanceInfo, def experimental.FunctionDefinition, params []uint64, stack experimental.StackIterator) {
	if l.m.remaining == 0 {
		return
	}
	l.m.remaining--
	if l.m.remaining == 0 {
		l.m.exhausted = true
		if l.m.cancel != nil {
			l.m.cancel()
		}
	}
}

func (l *fuelListener) After(ctx context.Context, mod experimental.FunctionInstanceInfo, def experimental.FunctionDefinition, results []uint64) {
}

func (l *fuelListener) Abort(ctx context.Context, mod experimental.FunctionInstanceInfo, def experimental.FunctionDefinition, err error) {
}

// Classify maps an error returned from invoking a guest entry point to a
// Kind, using the Meter that guarded the call plus heuristics over wazero's
// own error text for memory/stack traps it raises natively.
func Classify(err error, m *Meter) Kind {
	if err == nil {
		return None
	}
	if m != nil && m.Exhausted() {
		return FuelExhausted
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FuelExhausted
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "out of memory") || strings.Contains(msg, "memory.grow") || strings.Contains(msg, "failed to grow"):
		return MemoryLimit
	case strings.Contains(msg, "stack overflow") || strings.Contains(msg, "stack limit"):
		return StackOverflow
	default:
		return GuestTrap
	}
}
