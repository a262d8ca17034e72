package hostbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/untoldecay/wadup/internal/sharedbuf"
	"github.com/untoldecay/wadup/internal/sink"
)

// ErrMalformedMetadataFile reports a metadata_N.json/output_N.json file
// that failed to parse.
var ErrMalformedMetadataFile = errors.New("hostbridge: malformed metadata file")

// metadataFileJSON mirrors the /metadata/output_N.json shape.
type metadataFileJSON struct {
	Tables []struct {
		Name    string `json:"name"`
		Columns []struct {
			Name     string `json:"name"`
			DataType string `json:"data_type"`
		} `json:"columns"`
	} `json:"tables"`
	Rows []struct {
		TableName string            `json:"table_name"`
		Values    []json.RawMessage `json:"values"`
	} `json:"rows"`
}

// subArtifactMetadataJSON mirrors /subcontent/metadata_N.json.
type subArtifactMetadataJSON struct {
	Filename string `json:"filename"`
	Offset   *int   `json:"offset,omitempty"`
	Length   *int   `json:"length,omitempty"`
}

// VFSSession backs one invocation's virtual filesystem: a real scratch
// directory mounted into the guest (wazero's WithDirMount, read-write, the
// only publicly supported writable mount), watched with fsnotify so that
// closing a file the guest wrote triggers host-side processing of it.
// /tmp is discarded with the whole scratch directory at the end of the
// invocation.
type VFSSession struct {
	root   string
	bridge *Bridge
	watcher *fsnotify.Watcher
	done    chan struct{}
	firstErr error
}

// NewVFSSession creates the scratch directory tree (tmp/, metadata/,
// subcontent/) under root and starts watching metadata/ and subcontent/ for
// files written by the guest.
func NewVFSSession(root string, bridge *Bridge) (*VFSSession, error) {
	for _, sub := range []string{"tmp", "metadata", "subcontent"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("hostbridge: preparing scratch dir %s: %w", root, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hostbridge: fsnotify: %w", err)
	}
	if err := watcher.Add(filepath.Join(root, "metadata")); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Join(root, "subcontent")); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	s := &VFSSession{root: root, bridge: bridge, watcher: watcher, done: make(chan struct{})}
	go s.watch()
	return s, nil
}

// DataBinPath is where the guest's read view of the current artifact's
// bytes must appear.
func (s *VFSSession) DataBinPath() string { return filepath.Join(s.root, "data.bin") }

// PopulateDataBin makes buf's bytes available at DataBinPath(). When
// sourcePath is non-empty (the artifact is backed by an mmap'd root file),
// it is hardlinked in — genuinely zero-copy, same inode, no bytes
// duplicated. Otherwise (heap-backed owned bytes, or a Slice whose range
// doesn't correspond 1:1 to a whole backing file) the resolved view is
// written once: the zero-copy guarantee holds for the common
// root-from-file case and falls back to a single write for derived
// artifacts.
func (s *VFSSession) PopulateDataBin(buf sharedbuf.SharedBuffer, sourcePath string) error {
	dst := s.DataBinPath()
	if sourcePath != "" {
		if err := os.Link(sourcePath, dst); err == nil {
			return nil
		}
		// Fall through to a copy if the link fails (e.g. cross-device).
	}
	data, err := buf.Read(0, buf.Len())
	if err != nil {
		return fmt.Errorf("hostbridge: reading payload for data.bin: %w", err)
	}
	return os.WriteFile(dst, data, 0o644)
}

func (s *VFSSession) watch() {
	pending := make(map[string]*time.Timer)
	const quiescence = 5 * time.Millisecond

	for {
		select {
		case <-s.done:
			for _, t := range pending {
				t.Stop()
			}
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := ev.Name
			if t, ok := pending[path]; ok {
				t.Stop()
			}
			pending[path] = time.AfterFunc(quiescence, func() {
				s.process(path)
			})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.recordErr(fmt.Errorf("hostbridge: fsnotify: %w", err))
		}
	}
}

func (s *VFSSession) process(path string) {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "output_") && strings.HasSuffix(base, ".json"):
		s.processMetadataFile(path)
	case strings.HasPrefix(base, "metadata_") && strings.HasSuffix(base, ".json"):
		s.processSubArtifactMetadata(path)
	}
}

func (s *VFSSession) processMetadataFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file already consumed/removed by a previous debounce fire
	}
	var doc metadataFileJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		s.recordErr(fmt.Errorf("%w: %s: %v", ErrMalformedMetadataFile, path, err))
		_ = os.Remove(path)
		return
	}

	for _, t := range doc.Tables {
		schema := sink.TableSchema{Name: t.Name}
		for _, c := range t.Columns {
			ct, err := sink.ParseColumnType(c.DataType)
			if err != nil {
				s.recordErr(fmt.Errorf("%w: %s: %v", ErrMalformedMetadataFile, path, err))
				_ = os.Remove(path)
				return
			}
			schema.Columns = append(schema.Columns, sink.Column{Name: c.Name, Type: ct})
		}
		handle, err := s.bridge.declareFn(schema)
		if err != nil {
			s.recordErr(err)
			continue
		}
		s.bridge.rememberTable(schema.Name, handle)
	}

	for _, r := range doc.Rows {
		values, err := decodeJSONValues(r.Values)
		if err != nil {
			s.recordErr(fmt.Errorf("%w: %s: %v", ErrMalformedMetadataFile, path, err))
			continue
		}
		handle, ok := s.bridge.handleForTable(r.TableName)
		if !ok {
			s.recordErr(fmt.Errorf("hostbridge: row for undeclared table %q", r.TableName))
			continue
		}
		s.bridge.addRow(r.TableName, handle, values)
	}

	_ = os.Remove(path)
}

func decodeJSONValues(raw []json.RawMessage) ([]sink.Value, error) {
	values := make([]sink.Value, 0, len(raw))
	for _, r := range raw {
		var tagged map[string]json.RawMessage
		if err := json.Unmarshal(r, &tagged); err != nil {
			return nil, err
		}
		switch {
		case tagged["Int64"] != nil:
			var v int64
			if err := json.Unmarshal(tagged["Int64"], &v); err != nil {
				return nil, err
			}
			values = append(values, sink.IntValue(v))
		case tagged["Float64"] != nil:
			var v float64
			if err := json.Unmarshal(tagged["Float64"], &v); err != nil {
				return nil, err
			}
			values = append(values, sink.FloatValue(v))
		case tagged["String"] != nil:
			var v string
			if err := json.Unmarshal(tagged["String"], &v); err != nil {
				return nil, err
			}
			values = append(values, sink.StringValue(v))
		default:
			return nil, fmt.Errorf("unknown tagged value shape")
		}
	}
	return values, nil
}

func (s *VFSSession) processSubArtifactMetadata(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var doc subArtifactMetadataJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		s.recordErr(fmt.Errorf("%w: %s: %v", ErrMalformedMetadataFile, path, err))
		_ = os.Remove(path)
		return
	}

	if doc.Offset != nil && doc.Length != nil {
		s.bridge.addEmission(PendingEmission{Filename: doc.Filename, IsSlice: true, Offset: *doc.Offset, Length: *doc.Length})
		_ = os.Remove(path)
		return
	}

	base := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "metadata_"), ".json")
	dataPath := filepath.Join(filepath.Dir(path), "data_"+base+".bin")
	bytes, err := os.ReadFile(dataPath)
	if err != nil {
		s.recordErr(fmt.Errorf("%w: missing paired data file for %s: %v", ErrMalformedMetadataFile, path, err))
		_ = os.Remove(path)
		return
	}
	s.bridge.addEmission(PendingEmission{Filename: doc.Filename, Owned: bytes})
	_ = os.Remove(path)
	_ = os.Remove(dataPath)
}

func (s *VFSSession) recordErr(err error) {
	if s.firstErr == nil {
		s.firstErr = err
	}
}

// Close stops the watcher, sweeps any files the debounce timer hadn't
// fired for yet, and removes the scratch directory, discarding /tmp with
// it.
func (s *VFSSession) Close() error {
	close(s.done)
	_ = s.watcher.Close()

	for _, sub := range []string{"metadata", "subcontent"} {
		dir := filepath.Join(s.root, sub)
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			s.process(filepath.Join(dir, e.Name()))
		}
	}

	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("hostbridge: removing scratch dir %s: %w", s.root, err)
	}
	return s.firstErr
}
