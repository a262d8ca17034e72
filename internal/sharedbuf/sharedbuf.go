// Package sharedbuf implements reference-counted, copy-free byte ranges.
// A SharedBuffer is backed either by a plain heap allocation or by a
// memory-mapped file (github.com/edsrzf/mmap-go); callers never see
// which.
package sharedbuf

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
)

// ErrOutOfRange is returned when a requested range is not a subset of [0, len).
var ErrOutOfRange = errors.New("sharedbuf: range out of bounds")

// backing is the shared, reference-counted storage a SharedBuffer views.
// Multiple SharedBuffer values (a root and its slices) point at the same
// backing; it is released once every view has gone away.
type backing struct {
	data     []byte
	mapped   mmap.MMap // nil for heap-backed buffers
	file     *os.File  // nil for heap-backed buffers
	refCount int32
}

func (b *backing) retain() { atomic.AddInt32(&b.refCount, 1) }

func (b *backing) release() {
	if atomic.AddInt32(&b.refCount, -1) != 0 {
		return
	}
	if b.mapped != nil {
		_ = b.mapped.Unmap()
	}
	if b.file != nil {
		_ = b.file.Close()
	}
}

// SharedBuffer is an immutable view over [off, off+length) of a backing
// store. Slicing never copies; it just narrows the view and retains the
// same backing.
type SharedBuffer struct {
	b      *backing
	off    int
	length int
}

// FromBytes wraps an already-loaded, in-memory buffer. Used for small
// inputs and for guest-emitted sub-artifact bytes (HostBridge interface A
// and B both hand the host a []byte it does not retain beyond this call).
func FromBytes(data []byte) SharedBuffer {
	return SharedBuffer{b: &backing{data: data, refCount: 1}, off: 0, length: len(data)}
}

// FromFile memory-maps path read-only and returns a SharedBuffer over its
// full contents. Used by the loader for root artifacts above a size
// threshold, avoiding a full-file heap copy.
func FromFile(path string) (SharedBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return SharedBuffer{}, fmt.Errorf("sharedbuf: open %s: %w", path, err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return SharedBuffer{}, fmt.Errorf("sharedbuf: mmap %s: %w", path, err)
	}
	return SharedBuffer{
		b:      &backing{data: []byte(m), mapped: m, file: f, refCount: 1},
		off:    0,
		length: len(m),
	}, nil
}

// Len returns the view's length in bytes.
func (s SharedBuffer) Len() int { return s.length }

// Read returns a read-only view of [off, off+length) within this buffer.
// It never copies.
func (s SharedBuffer) Read(off, length int) ([]byte, error) {
	if off < 0 || length < 0 || off+length > s.length {
		return nil, fmt.Errorf("%w: [%d,%d) not within [0,%d)", ErrOutOfRange, off, off+length, s.length)
	}
	start := s.off + off
	return s.b.data[start : start+length : start+length], nil
}

// Slice returns a new SharedBuffer over [off, off+length) of this buffer,
// sharing the same backing store and incrementing its reference count.
func (s SharedBuffer) Slice(off, length int) (SharedBuffer, error) {
	if off < 0 || length < 0 || off+length > s.length {
		return SharedBuffer{}, fmt.Errorf("%w: [%d,%d) not within [0,%d)", ErrOutOfRange, off, off+length, s.length)
	}
	s.b.retain()
	return SharedBuffer{b: s.b, off: s.off + off, length: length}, nil
}

// Release drops this view's hold on the backing store. It must be called
// exactly once per SharedBuffer value obtained from FromBytes, FromFile, or
// Slice.
func (s SharedBuffer) Release() {
	if s.b != nil {
		s.b.release()
	}
}

// Retain duplicates this view's claim on the backing store, for callers
// that hand out a copy of the SharedBuffer value and need each copy
// released independently.
func (s SharedBuffer) Retain() SharedBuffer {
	if s.b != nil {
		s.b.retain()
	}
	return s
}
