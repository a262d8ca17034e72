package limiter

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyNilError(t *testing.T) {
	if got := Classify(nil, nil); got != None {
		t.Errorf("Classify(nil, nil) = %v, want None", got)
	}
}

func TestClassifyExhaustedMeter(t *testing.T) {
	m := NewMeter(1)
	ctx := m.WithContext(context.Background())
	listener := m.Listener().NewFunctionListener(nil)
	listener.Before(ctx, nil, nil, nil, nil)

	if !m.Exhausted() {
		t.Fatal("Meter should be exhausted after its single fuel unit was consumed")
	}
	if got := Classify(errors.New("some trap"), m); got != FuelExhausted {
		t.Errorf("Classify with exhausted meter = %v, want FuelExhausted", got)
	}
}

func TestClassifyContextCanceled(t *testing.T) {
	if got := Classify(context.Canceled, nil); got != FuelExhausted {
		t.Errorf("Classify(context.Canceled) = %v, want FuelExhausted", got)
	}
	if got := Classify(context.DeadlineExceeded, nil); got != FuelExhausted {
		t.Errorf("Classify(context.DeadlineExceeded) = %v, want FuelExhausted", got)
	}
}

func TestClassifyMemoryLimit(t *testing.T) {
	tests := []string{
		"wasm error: out of memory",
		"failed to grow memory",
		"memory.grow returned -1",
	}
	for _, msg := range tests {
		if got := Classify(errors.New(msg), nil); got != MemoryLimit {
			t.Errorf("Classify(%q) = %v, want MemoryLimit", msg, got)
		}
	}
}

func TestClassifyStackOverflow(t *testing.T) {
	tests := []string{"stack overflow", "exceeded stack limit"}
	for _, msg := range tests {
		if got := Classify(errors.New(msg), nil); got != StackOverflow {
			t.Errorf("Classify(%q) = %v, want StackOverflow", msg, got)
		}
	}
}

func TestClassifyUncategorizedTrap(t *testing.T) {
	if got := Classify(errors.New("unreachable executed"), nil); got != GuestTrap {
		t.Errorf("Classify(unrecognized message) = %v, want GuestTrap", got)
	}
}

func TestMeterUnlimitedFuelHasNoListener(t *testing.T) {
	m := NewMeter(0)
	if l := m.Listener(); l != nil {
		t.Errorf("Listener() for unlimited budget = %v, want nil", l)
	}
	if m.Exhausted() {
		t.Error("a fresh unlimited Meter should not report Exhausted")
	}
}

func TestMeterNotExhaustedBeforeBudgetConsumed(t *testing.T) {
	m := NewMeter(3)
	ctx := m.WithContext(context.Background())
	listener := m.Listener().NewFunctionListener(nil)

	listener.Before(ctx, nil, nil, nil, nil)
	listener.Before(ctx, nil, nil, nil, nil)
	if m.Exhausted() {
		t.Fatal("Meter should not be exhausted before its budget is fully consumed")
	}

	listener.Before(ctx, nil, nil, nil, nil)
	if !m.Exhausted() {
		t.Fatal("Meter should be exhausted after its budget is fully consumed")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		k    Kind
		want string
	}{
		{None, "None"},
		{FuelExhausted, "FuelExhausted"},
		{MemoryLimit, "MemoryLimit"},
		{StackOverflow, "StackOverflow"},
		{GuestTrap, "GuestTrap"},
		{Kind(99), "None"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}
