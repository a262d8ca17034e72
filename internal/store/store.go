// Package store indexes artifact ids against their resolvable bytes.
// resolve never allocates a copy proportional to an artifact's length —
// Owned artifacts hand back their stored SharedBuffer, Sliced artifacts
// hand back a narrowed view of their ancestor's.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/untoldecay/wadup/internal/artifact"
	"github.com/untoldecay/wadup/internal/sharedbuf"
)

// ErrMissingAncestor indicates a Sliced artifact's parent is absent from
// the store. This is a scheduler bug and fatal to the run.
var ErrMissingAncestor = errors.New("store: missing ancestor")

type entry struct {
	buf         sharedbuf.SharedBuffer
	sourcePath  string // non-empty when buf is backed by an mmap'd file on disk
	outstanding int    // live descendant Slice references, guards release
	released    bool
}

// ArtifactStore indexes root payload bytes by artifact id. It is guarded by
// a plain sync.RWMutex: reads (resolve) vastly outnumber writes (insert on
// root load or sub-artifact emission), a reader-preferring access pattern
// for which no third-party rwmutex variant is warranted here (see
// DESIGN.md).
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
}

// New returns an empty ArtifactStore.
func New() *ArtifactStore {
	return &ArtifactStore{entries: make(map[uuid.UUID]*entry)}
}

// Insert registers the owned bytes for id, typically a root artifact's
// full payload.
func (s *ArtifactStore) Insert(id uuid.UUID, buf sharedbuf.SharedBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry{buf: buf}
}

// InsertFile registers id's bytes along with the host path they were
// mmap'd from, letting the virtual filesystem transport hardlink /data.bin
// into place instead of copying it.
func (s *ArtifactStore) InsertFile(id uuid.UUID, buf sharedbuf.SharedBuffer, sourcePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry{buf: buf, sourcePath: sourcePath}
}

// SourcePath returns the host file id's bytes were mmap'd from, if any.
func (s *ArtifactStore) SourcePath(id uuid.UUID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.sourcePath
	}
	return ""
}

// Resolve returns the effective bytes for a. For an Owned artifact that is
// the stored buffer; for a Sliced artifact it is a zero-copy sub-range view
// of the ancestor named by a.Payload.SliceParent.
func (s *ArtifactStore) Resolve(a artifact.Artifact) (sharedbuf.SharedBuffer, error) {
	switch a.Payload.Kind {
	case artifact.Owned:
		s.mu.RLock()
		e, ok := s.entries[a.ID]
		s.mu.RUnlock()
		if !ok {
			return sharedbuf.SharedBuffer{}, fmt.Errorf("%w: owned artifact %s not registered", ErrMissingAncestor, a.ID)
		}
		return e.buf, nil
	case artifact.Sliced:
		s.mu.RLock()
		parent, ok := s.entries[a.Payload.SliceParent]
		s.mu.RUnlock()
		if !ok {
			return sharedbuf.SharedBuffer{}, fmt.Errorf("%w: %s references absent ancestor %s", ErrMissingAncestor, a.ID, a.Payload.SliceParent)
		}
		view, err := parent.buf.Slice(a.Payload.Offset, a.Payload.Length)
		if err != nil {
			return sharedbuf.SharedBuffer{}, fmt.Errorf("store: resolving slice of %s: %w", a.Payload.SliceParent, err)
		}
		return view, nil
	default:
		return sharedbuf.SharedBuffer{}, fmt.Errorf("store: artifact %s has unknown payload kind", a.ID)
	}
}

// Owner resolves a to the Owned ancestor whose SharedBuffer actually backs
// its storage, plus a's byte offset within that ancestor's bytes. For an
// Owned artifact that is (a.ID, 0); for a Sliced artifact it is the
// recorded ancestor id and offset — slices are always constructed directly
// against an Owned artifact's buffer (the scheduler resolves the deepest
// owner up front), so this is a single lookup, not a chain walk.
func (s *ArtifactStore) Owner(a artifact.Artifact) (uuid.UUID, int) {
	if a.Payload.Kind == artifact.Owned {
		return a.ID, 0
	}
	return a.Payload.SliceParent, a.Payload.Offset
}

// TrackDescendant records that a Sliced child now holds a reference into
// ancestor's bytes, so Release on the ancestor does not tear down storage
// still in use. Call once per accepted Sliced child, grounded on the slice
// resolution itself (the SharedBuffer.Slice call already bumped the
// backing refcount); this just lets the store know when it can forget its
// own map entry.
func (s *ArtifactStore) TrackDescendant(ancestor uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[ancestor]; ok {
		e.outstanding++
	}
}

// Release marks id as no longer needed by the scheduler. The underlying
// SharedBuffer is only actually released (and the map entry dropped) once
// every outstanding Slice descendant tracked via TrackDescendant has itself
// been released.
func (s *ArtifactStore) Release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	e.released = true
	if e.outstanding == 0 {
		e.buf.Release()
		delete(s.entries, id)
	}
}

// ReleaseDescendant signals that a Sliced child previously tracked via
// TrackDescendant is done; if its ancestor was already released and this
// was the last outstanding reference, the ancestor's storage is freed now.
func (s *ArtifactStore) ReleaseDescendant(ancestor uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ancestor]
	if !ok {
		return
	}
	e.outstanding--
	if e.outstanding <= 0 && e.released {
		e.buf.Release()
		delete(s.entries, ancestor)
	}
}
