package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/wadup/internal/sink"
)

func TestLoadLedgerFilesRendersOneJSONBlobPerArtifact(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "run.db")
	seedDatabase(t, dbPath)

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	files, err := loadLedgerFiles(db)
	if err != nil {
		t.Fatalf("loadLedgerFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("loadLedgerFiles returned %d entries, want 1 for a single seeded artifact", len(files))
	}

	var name string
	var content []byte
	for n, c := range files {
		name, content = n, c
	}
	if !strings.HasSuffix(name, ".json") {
		t.Errorf("file name = %q, want a .json suffix", name)
	}
	if !strings.Contains(string(content), "hello.txt") {
		t.Errorf("content for %q = %q, want it to mention hello.txt", name, content)
	}
	if !strings.Contains(string(content), string(sink.StatusSuccess)) {
		t.Errorf("content for %q = %q, want it to mention status %q", name, content, sink.StatusSuccess)
	}
}

func TestLedgerFileReadRespectsOffsetAndLength(t *testing.T) {
	f := &ledgerFile{content: []byte("0123456789")}

	dest := make([]byte, 4)
	res, errno := f.Read(context.Background(), nil, dest, 2)
	if errno != 0 {
		t.Fatalf("Read: errno = %v", errno)
	}
	buf := make([]byte, 4)
	n, status := res.Bytes(buf)
	if status != 0 {
		t.Fatalf("ReadResult.Bytes: status = %v", status)
	}
	if string(n) != "2345" {
		t.Errorf("Read(off=2, len=4) = %q, want %q", string(n), "2345")
	}
}

func TestLedgerFileReadClampsPastEndOfContent(t *testing.T) {
	f := &ledgerFile{content: []byte("abc")}

	dest := make([]byte, 10)
	res, errno := f.Read(context.Background(), nil, dest, 1)
	if errno != 0 {
		t.Fatalf("Read: errno = %v", errno)
	}
	buf := make([]byte, 10)
	n, status := res.Bytes(buf)
	if status != 0 {
		t.Fatalf("ReadResult.Bytes: status = %v", status)
	}
	if string(n) != "bc" {
		t.Errorf("Read(off=1, len=10) on a 3-byte file = %q, want %q", string(n), "bc")
	}
}

func TestLedgerFileGetattrReportsContentSize(t *testing.T) {
	f := &ledgerFile{content: []byte("hello")}
	var out fuse.AttrOut
	errno := f.Getattr(context.Background(), nil, &out)
	if errno != 0 {
		t.Fatalf("Getattr: errno = %v", errno)
	}
	if out.Size != 5 {
		t.Errorf("Getattr Size = %d, want 5", out.Size)
	}
	if out.Mode != 0o444 {
		t.Errorf("Getattr Mode = %o, want 0444", out.Mode)
	}
}
