// Package sink implements the metadata sink: schema validation, row
// persistence, and the two reserved tables, backed by
// github.com/ncruces/go-sqlite3 (a pure-Go, wazero-hosted SQLite) in WAL
// mode so external readers can query mid-run. All table/row mutations
// funnel through one short-held mutex rather than a dedicated writer
// goroutine.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/untoldecay/wadup/internal/config"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	TableArtifactLedger = "artifact-ledger"
	TableModuleOutput   = "module-output"

	// compressThreshold is the size at or above which a captured stdout/stderr
	// blob is zstd-compressed before insertion; small streams aren't
	// worth the framing overhead.
	compressThreshold = 4096
)

// Status is the artifact ledger's outcome enum.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// TableHandle is a non-negative handle returned by DeclareTable, matching
// the direct-call interface's return convention.
type TableHandle int64

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

func validIdent(s string) bool { return identPattern.MatchString(s) }

type registeredTable struct {
	handle TableHandle
	schema TableSchema
	fp     uint64
}

// Sink is the concurrency-safe home for every reserved and guest-declared
// table in a run.
type Sink struct {
	db   *sql.DB
	lock *flock.Flock

	mu         sync.Mutex
	tables     map[string]*registeredTable
	nextHandle int64

	zEnc *zstd.Encoder
	zDec *zstd.Decoder

	logger *slog.Logger
}

// Open opens the sqlite database at path, creating it if absent (an
// existing database is not truncated: its tables and rows are kept), takes
// an exclusive run lock beside it, enables WAL mode, and creates the
// reserved tables if they do not exist yet.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lk := flock.New(path + ".lock")
	lockCtx, cancelLock := context.WithTimeout(ctx, config.LockTimeout())
	defer cancelLock()
	locked, err := lk.TryLockContext(lockCtx, 200*time.Millisecond)
	if err != nil || !locked {
		return nil, fmt.Errorf("sink: could not acquire run lock on %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		_ = lk.Unlock()
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite tolerates one writer; serialize via mu anyway

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			_ = lk.Unlock()
			return nil, fmt.Errorf("sink: %s: %w", pragma, err)
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		_ = lk.Unlock()
		return nil, fmt.Errorf("sink: zstd writer: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		_ = lk.Unlock()
		return nil, fmt.Errorf("sink: zstd reader: %w", err)
	}

	s := &Sink{
		db:     db,
		lock:   lk,
		tables: make(map[string]*registeredTable),
		zEnc:   enc,
		zDec:   dec,
		logger: logger,
	}

	if err := s.createReservedTables(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) createReservedTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "artifact-ledger" (
			id BLOB PRIMARY KEY,
			filename TEXT NOT NULL,
			parent_id BLOB,
			processed_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS "module-output" (
			artifact_id BLOB NOT NULL,
			module_name TEXT NOT NULL,
			stdout BLOB,
			stderr BLOB,
			stdout_truncated INTEGER NOT NULL,
			stderr_truncated INTEGER NOT NULL,
			PRIMARY KEY (artifact_id, module_name)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sink: creating reserved tables: %w", err)
		}
	}
	s.tables[TableArtifactLedger] = &registeredTable{handle: -1}
	s.tables[TableModuleOutput] = &registeredTable{handle: -2}
	return nil
}

// Close flushes and releases the sink's database handle and run lock.
func (s *Sink) Close() error {
	var firstErr error
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			firstErr = err
		}
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeclareTable registers schema's table name on first sight, or verifies an
// exact structural match against what was previously declared: two
// declare_table calls with an identical column list always succeed; any
// difference fails with ErrSchemaConflict.
func (s *Sink) DeclareTable(ctx context.Context, schema TableSchema) (TableHandle, error) {
	if !validIdent(schema.Name) {
		return 0, fmt.Errorf("sink: invalid table name %q", schema.Name)
	}
	for _, c := range schema.Columns {
		if !validIdent(c.Name) {
			return 0, fmt.Errorf("sink: invalid column name %q", c.Name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tables[schema.Name]; ok {
		newFP := fingerprint(schema)
		if newFP == existing.fp && existing.schema.Equal(schema) {
			return existing.handle, nil
		}
		return 0, &ErrSchemaConflict{Name: schema.Name, Existing: existing.schema, New: schema}
	}

	if err := s.createGuestTable(ctx, schema); err != nil {
		return 0, err
	}

	s.nextHandle++
	handle := TableHandle(s.nextHandle)
	s.tables[schema.Name] = &registeredTable{handle: handle, schema: schema, fp: fingerprint(schema)}
	return handle, nil
}

func (s *Sink) createGuestTable(ctx context.Context, schema TableSchema) error {
	var b strings.Builder
	fmt.Fprintf(&b, `CREATE TABLE IF NOT EXISTS %s (artifact_id BLOB NOT NULL REFERENCES "artifact-ledger"(id)`, quoteIdent(schema.Name))
	for _, c := range schema.Columns {
		b.WriteString(", ")
		b.WriteString(quoteIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(sqlType(c.Type))
	}
	b.WriteString(")")
	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("sink: creating table %q: %w", schema.Name, err)
	}
	return nil
}

func sqlType(t ColumnType) string {
	switch t {
	case Int64:
		return "INTEGER"
	case Float64:
		return "REAL"
	case String:
		return "TEXT"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// resolveHandle finds the registered table a handle refers to. Reserved
// tables use negative sentinel handles and are never resolved here because
// they're only ever written by the sink's own Record* methods.
func (s *Sink) resolveHandle(handle TableHandle) (*registeredTable, error) {
	for _, t := range s.tables {
		if t.handle == handle {
			return t, nil
		}
	}
	return nil, ErrUnknownTable
}

// InsertRow validates values against handle's declared schema and persists
// one row keyed by artifactID. Rows for a given (module, artifact) pair are
// expected to arrive in guest emission order; callers must preserve that
// order across calls.
func (s *Sink) InsertRow(ctx context.Context, handle TableHandle, artifactID uuid.UUID, values []Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.resolveHandle(handle)
	if err != nil {
		return err
	}
	if len(values) != len(t.schema.Columns) {
		return &ErrRowShapeMismatch{Table: t.schema.Name, Reason: fmt.Sprintf("expected %d values, got %d", len(t.schema.Columns), len(values))}
	}
	for i, v := range values {
		if !v.MatchesColumn(t.schema.Columns[i]) {
			return &ErrRowShapeMismatch{Table: t.schema.Name, Reason: fmt.Sprintf("column %q expects %s, got %s", t.schema.Columns[i].Name, t.schema.Columns[i].Type, v.Kind)}
		}
	}

	cols := make([]string, 0, len(values)+1)
	placeholders := make([]string, 0, len(values)+1)
	args := make([]any, 0, len(values)+1)
	cols = append(cols, "artifact_id")
	placeholders = append(placeholders, "?")
	args = append(args, artifactID[:])
	for i, v := range values {
		cols = append(cols, quoteIdent(t.schema.Columns[i].Name))
		placeholders = append(placeholders, "?")
		switch v.Kind {
		case Int64:
			args = append(args, v.Int)
		case Float64:
			args = append(args, v.Float)
		case String:
			args = append(args, v.Str)
		}
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(t.schema.Name), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("sink: inserting row into %q: %w", t.schema.Name, err)
	}
	return nil
}

// RecordArtifact appends one row to the artifact-ledger.
func (s *Sink) RecordArtifact(ctx context.Context, id uuid.UUID, filename string, parentID *uuid.UUID, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parentArg any
	if parentID != nil {
		parentArg = (*parentID)[:]
	}
	var errArg any
	if errMsg != "" {
		errArg = errMsg
	}

	const stmt = `INSERT INTO "artifact-ledger" (id, filename, parent_id, processed_at, status, error_message) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, id[:], filename, parentArg, time.Now().Unix(), string(status), errArg)
	if err != nil {
		return fmt.Errorf("sink: recording artifact %s: %w", id, err)
	}
	return nil
}

// RecordModuleOutput persists one module's captured stdout/stderr for one
// artifact. Streams of compressThreshold bytes or more are zstd-compressed; the
// caller's truncation flags are recorded as given (truncation happens in
// outputcapture, before compression).
func (s *Sink) RecordModuleOutput(ctx context.Context, artifactID uuid.UUID, moduleName string, stdout, stderr []byte, stdoutTruncated, stderrTruncated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const stmt = `INSERT INTO "module-output" (artifact_id, module_name, stdout, stderr, stdout_truncated, stderr_truncated) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, artifactID[:], moduleName, s.maybeCompress(stdout), s.maybeCompress(stderr), boolToInt(stdoutTruncated), boolToInt(stderrTruncated))
	if err != nil {
		return fmt.Errorf("sink: recording module output for %s/%s: %w", artifactID, moduleName, err)
	}
	return nil
}

// zstd frames are self-identifying via their magic number, so a reader
// (internal/ledgerfmt) can tell a compressed blob from a short raw one
// without a side-channel flag.
func (s *Sink) maybeCompress(data []byte) []byte {
	if data == nil {
		return nil
	}
	if len(data) < compressThreshold {
		return data
	}
	return s.zEnc.EncodeAll(data, nil)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
