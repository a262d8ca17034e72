// Package ledgerfmt provides read-side helpers for the reserved ledger and
// module-output tables, shared by the wadup inspect CLI subcommand and the
// FUSE inspection mount.
package ledgerfmt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// DecodeOutputBlob reverses Sink.maybeCompress: if data looks like a zstd
// frame it is decompressed, otherwise it is returned unchanged.
func DecodeOutputBlob(data []byte) ([]byte, error) {
	if len(data) < 4 || !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("ledgerfmt: zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("ledgerfmt: decompressing output blob: %w", err)
	}
	return out, nil
}

// LedgerRow mirrors one row of the artifact-ledger reserved table.
type LedgerRow struct {
	ID           string
	Filename     string
	ParentID     string
	ProcessedAt  time.Time
	Status       string
	ErrorMessage string
}

// Summary formats a LedgerRow for CLI/TUI display.
func (r LedgerRow) Summary() string {
	if r.ParentID == "" {
		return fmt.Sprintf("%s  %-8s  %s  (root)", r.ID, r.Status, r.Filename)
	}
	return fmt.Sprintf("%s  %-8s  %s  (parent %s)", r.ID, r.Status, r.Filename, r.ParentID)
}

// FormatBytes renders a byte count the way the run summary does, via
// dustin/go-humanize.
func FormatBytes(n uint64) string { return humanize.Bytes(n) }
