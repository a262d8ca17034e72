// Package loader turns the inputs directory into the run's root
// artifacts, forming one root artifact per file.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/untoldecay/wadup/internal/artifact"
	"github.com/untoldecay/wadup/internal/sharedbuf"
	"github.com/untoldecay/wadup/internal/store"
)

// mmapThreshold is the file size at or above which a root artifact is
// memory-mapped rather than read onto the heap, avoiding a full-file copy
// for large inputs: each root artifact is loaded in full, but "in full"
// means fully addressable, not necessarily heap-resident.
const mmapThreshold = 64 * 1024

// Roots lists dir's regular files (non-recursive — the inputs directory is
// flat; recursion happens through module-emitted sub-artifacts, not nested
// input directories), registers each in st, and returns one root Artifact
// per file in a stable, sorted order.
func Roots(dir string, st *store.ArtifactStore) ([]artifact.Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: reading inputs dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	roots := make([]artifact.Artifact, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("loader: stat %s: %w", path, err)
		}

		var buf sharedbuf.SharedBuffer
		var sourcePath string
		if info.Size() >= mmapThreshold {
			buf, err = sharedbuf.FromFile(path)
			if err != nil {
				return nil, fmt.Errorf("loader: mapping %s: %w", path, err)
			}
			sourcePath = path
		} else {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("loader: reading %s: %w", path, err)
			}
			buf = sharedbuf.FromBytes(data)
		}

		root := artifact.NewRoot(name, artifact.OwnedPayload(nil))
		if sourcePath != "" {
			st.InsertFile(root.ID, buf, sourcePath)
		} else {
			st.Insert(root.ID, buf)
		}
		roots = append(roots, root)
	}
	return roots, nil
}
