package scheduler

import (
	"testing"

	"github.com/untoldecay/wadup/internal/artifact"
	"github.com/untoldecay/wadup/internal/hostbridge"
	"github.com/untoldecay/wadup/internal/sharedbuf"
	"github.com/untoldecay/wadup/internal/store"
	"github.com/untoldecay/wadup/internal/workqueue"
)

func newTestScheduler(st *store.ArtifactStore, numWorkers int) *Scheduler {
	s := &Scheduler{store: st, numWorkers: numWorkers}
	s.queues = make([]*workqueue.Queue[artifact.Artifact], numWorkers)
	for i := range s.queues {
		s.queues[i] = workqueue.New[artifact.Artifact]()
	}
	return s
}

func TestMaterializeEmissionOwnedCopiesBytes(t *testing.T) {
	st := store.New()
	s := newTestScheduler(st, 1)

	parent := artifact.NewRoot("in.txt", artifact.OwnedPayload([]byte("parent bytes")))
	parentBuf := sharedbuf.FromBytes([]byte("parent bytes"))
	st.Insert(parent.ID, parentBuf)

	emission := hostbridge.PendingEmission{Filename: "child.txt", Owned: []byte("emitted bytes")}
	child, err := s.materializeEmission(parent, parentBuf, emission)
	if err != nil {
		t.Fatalf("materializeEmission: %v", err)
	}
	if child.Payload.Kind != artifact.Owned {
		t.Fatalf("child.Payload.Kind = %v, want Owned", child.Payload.Kind)
	}
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Errorf("child.ParentID = %v, want %s", child.ParentID, parent.ID)
	}
	if child.Depth != parent.Depth+1 {
		t.Errorf("child.Depth = %d, want %d", child.Depth, parent.Depth+1)
	}

	buf, err := st.Resolve(child)
	if err != nil {
		t.Fatalf("Resolve(child): %v", err)
	}
	got, err := buf.Read(0, buf.Len())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "emitted bytes" {
		t.Errorf("resolved child bytes = %q, want %q", got, "emitted bytes")
	}
}

func TestMaterializeEmissionSliceResolvesAgainstOwner(t *testing.T) {
	st := store.New()
	s := newTestScheduler(st, 1)

	root := artifact.NewRoot("in.txt", artifact.OwnedPayload([]byte("0123456789")))
	rootBuf := sharedbuf.FromBytes([]byte("0123456789"))
	st.Insert(root.ID, rootBuf)

	// A slice-of-a-slice: the module is processing a sliced child of root,
	// and itself emits a further slice relative to its own bytes.
	mid := artifact.NewChild(root, "mid", artifact.SlicePayload(root.ID, 2, 6)) // "234567"
	midBuf, err := st.Resolve(mid)
	if err != nil {
		t.Fatalf("Resolve(mid): %v", err)
	}

	emission := hostbridge.PendingEmission{Filename: "leaf", IsSlice: true, Offset: 1, Length: 3} // "345" within mid
	child, err := s.materializeEmission(mid, midBuf, emission)
	if err != nil {
		t.Fatalf("materializeEmission: %v", err)
	}
	if child.Payload.Kind != artifact.Sliced {
		t.Fatalf("child.Payload.Kind = %v, want Sliced", child.Payload.Kind)
	}
	if child.Payload.SliceParent != root.ID {
		t.Errorf("child.Payload.SliceParent = %s, want root id %s (deepest owner)", child.Payload.SliceParent, root.ID)
	}
	if child.Payload.Offset != 3 {
		t.Errorf("child.Payload.Offset = %d, want 3 (2 + 1)", child.Payload.Offset)
	}

	buf, err := st.Resolve(child)
	if err != nil {
		t.Fatalf("Resolve(child): %v", err)
	}
	got, err := buf.Read(0, buf.Len())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "345" {
		t.Errorf("resolved leaf slice = %q, want %q", got, "345")
	}
}

func TestMaterializeEmissionSliceOutOfRange(t *testing.T) {
	st := store.New()
	s := newTestScheduler(st, 1)

	parent := artifact.NewRoot("in.txt", artifact.OwnedPayload([]byte("abc")))
	buf := sharedbuf.FromBytes([]byte("abc"))
	st.Insert(parent.ID, buf)

	emission := hostbridge.PendingEmission{Filename: "bad", IsSlice: true, Offset: 1, Length: 100}
	if _, err := s.materializeEmission(parent, buf, emission); err == nil {
		t.Fatal("materializeEmission with out-of-range slice: expected error, got nil")
	}
}

func TestReleaseArtifactOwnedReleasesStore(t *testing.T) {
	st := store.New()
	s := newTestScheduler(st, 1)

	root := artifact.NewRoot("in.txt", artifact.OwnedPayload([]byte("x")))
	st.Insert(root.ID, sharedbuf.FromBytes([]byte("x")))

	s.releaseArtifact(root)

	if _, err := st.Resolve(root); err == nil {
		t.Fatal("Resolve after releaseArtifact(owned): expected error, got nil")
	}
}

func TestReleaseArtifactSlicedReleasesDescendant(t *testing.T) {
	st := store.New()
	s := newTestScheduler(st, 1)

	root := artifact.NewRoot("in.txt", artifact.OwnedPayload([]byte("0123456789")))
	st.Insert(root.ID, sharedbuf.FromBytes([]byte("0123456789")))

	rootBuf, err := st.Resolve(root)
	if err != nil {
		t.Fatalf("Resolve(root): %v", err)
	}
	emission := hostbridge.PendingEmission{Filename: "slice", IsSlice: true, Offset: 0, Length: 4}
	child, err := s.materializeEmission(root, rootBuf, emission)
	if err != nil {
		t.Fatalf("materializeEmission: %v", err)
	}

	// The ancestor is released first (scheduler does this when the parent
	// artifact finishes, which may race ahead of its slice children).
	s.releaseArtifact(root)
	if _, err := st.Resolve(root); err != nil {
		t.Fatalf("Resolve(root) before descendant releases: %v", err)
	}

	s.releaseArtifact(child)
	if _, err := st.Resolve(root); err == nil {
		t.Fatal("Resolve(root) after last descendant released: expected error, got nil")
	}
}

func TestEnqueueIncrementsPendingAndPushesLocally(t *testing.T) {
	st := store.New()
	s := newTestScheduler(st, 2)

	a := artifact.NewRoot("a.txt", artifact.OwnedPayload([]byte("x")))
	s.enqueue(0, a)

	if got := s.pending.Load(); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
	item, ok := s.queues[0].PopBottom()
	if !ok || item.ID != a.ID {
		t.Errorf("queues[0].PopBottom() = (%v, %v), want (%v, true)", item, ok, a)
	}
}

func TestStealFindsNeighborWork(t *testing.T) {
	st := store.New()
	s := newTestScheduler(st, 3)

	a := artifact.NewRoot("a.txt", artifact.OwnedPayload([]byte("x")))
	s.queues[2].PushBottom(a)

	item, ok := s.steal(0)
	if !ok || item.ID != a.ID {
		t.Errorf("steal(0) = (%v, %v), want (%v, true)", item, ok, a)
	}
}

func TestStealReturnsFalseWhenAllEmpty(t *testing.T) {
	st := store.New()
	s := newTestScheduler(st, 3)

	if _, ok := s.steal(0); ok {
		t.Error("steal() with every queue empty: ok = true, want false")
	}
}
