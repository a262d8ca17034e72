// Package artifact defines the immutable record the whole engine moves
// around: a root input or a module-emitted sub-artifact, identified by a
// 128-bit id and carrying either owned bytes or a zero-copy slice of an
// ancestor.
package artifact

import "github.com/google/uuid"

// Kind distinguishes how an Artifact's bytes are held.
type Kind int

const (
	// Owned artifacts hold their full byte sequence directly.
	Owned Kind = iota
	// Sliced artifacts are a zero-copy view into an ancestor's bytes.
	Sliced
)

// Payload describes where an Artifact's bytes live. Exactly one of the two
// shapes is meaningful, selected by Kind.
type Payload struct {
	Kind Kind

	// Owned bytes, valid when Kind == Owned. Carried as raw bytes rather
	// than a sharedbuf.SharedBuffer here so this package stays free of a
	// storage dependency; the ArtifactStore is what turns this into a
	// zero-copy view.
	Bytes []byte

	// Slice coordinates, valid when Kind == Sliced.
	SliceParent uuid.UUID
	Offset      int
	Length      int
}

// OwnedPayload wraps bytes the artifact holds directly.
func OwnedPayload(b []byte) Payload { return Payload{Kind: Owned, Bytes: b} }

// SlicePayload describes a zero-copy view into parent's bytes.
func SlicePayload(parent uuid.UUID, offset, length int) Payload {
	return Payload{Kind: Sliced, SliceParent: parent, Offset: offset, Length: length}
}

// Artifact is an immutable processable unit. Once constructed it is never
// mutated.
type Artifact struct {
	ID       uuid.UUID
	Filename string
	ParentID *uuid.UUID // nil for roots
	Depth    int        // 0 for roots, parent.Depth+1 otherwise
	Payload  Payload
}

// NewRoot constructs a depth-0 artifact with no parent.
func NewRoot(filename string, payload Payload) Artifact {
	return Artifact{ID: uuid.New(), Filename: filename, ParentID: nil, Depth: 0, Payload: payload}
}

// NewChild constructs an artifact one level deeper than parent.
func NewChild(parent Artifact, filename string, payload Payload) Artifact {
	pid := parent.ID
	return Artifact{ID: uuid.New(), Filename: filename, ParentID: &pid, Depth: parent.Depth + 1, Payload: payload}
}
