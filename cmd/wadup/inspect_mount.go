package main

import (
	"context"
	"database/sql"
	"fmt"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/cobra"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/wadup/internal/ledgerfmt"
)

// inspectMountCmd exposes a run's database read-only at a mountpoint, one
// file per ledger row (<id>.json, summarizing status/filename/lineage),
// so the reserved tables can be browsed by any tool that walks a
// filesystem, not just the inspect subcommand.
var inspectMountCmd = &cobra.Command{
	Use:   "mount <database> <mountpoint>",
	Short: "Mount the artifact ledger read-only as one JSON file per artifact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, mountPoint := args[0], args[1]
		db, err := sql.Open("sqlite3", dbPath)
		if err != nil {
			return fmt.Errorf("opening %s: %w", dbPath, err)
		}
		defer db.Close()

		root := &ledgerRoot{db: db}
		server, err := fs.Mount(mountPoint, root, &fs.Options{
			MountOptions: fuse.MountOptions{
				FsName:   "wadup-inspect",
				Name:     "wadup",
				ReadOnly: true,
			},
		})
		if err != nil {
			return fmt.Errorf("mounting at %s: %w", mountPoint, err)
		}
		fmt.Printf("mounted %s at %s (unmount with fusermount -u)\n", dbPath, mountPoint)
		server.Wait()
		return nil
	},
}

// ledgerRoot is the mount's root directory; its children are all created
// from the artifact-ledger table in OnAdd, when the root is mounted.
type ledgerRoot struct {
	fs.Inode
	db *sql.DB
}

var _ fs.NodeOnAdder = (*ledgerRoot)(nil)

func (r *ledgerRoot) OnAdd(ctx context.Context) {
	files, err := loadLedgerFiles(r.db)
	if err != nil {
		return
	}
	for name, content := range files {
		child := r.NewPersistentInode(ctx, &ledgerFile{content: content}, fs.StableAttr{Mode: fuse.S_IFREG})
		r.AddChild(name, child, true)
	}
}

// loadLedgerFiles queries the artifact-ledger table and renders one JSON
// blob per row, keyed by the "<id>.json" filename OnAdd exposes it under.
// Kept independent of the Inode tree so it can be exercised without a live
// FUSE mount.
func loadLedgerFiles(db *sql.DB) (map[string][]byte, error) {
	rows, err := db.Query(`SELECT id, filename, COALESCE(parent_id, ''), processed_at, status, COALESCE(error_message, '') FROM "artifact-ledger"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make(map[string][]byte)
	for rows.Next() {
		var row ledgerfmt.LedgerRow
		var idBytes, parentBytes []byte
		var processedAtUnix int64
		if err := rows.Scan(&idBytes, &row.Filename, &parentBytes, &processedAtUnix, &row.Status, &row.ErrorMessage); err != nil {
			continue
		}
		row.ID = fmt.Sprintf("%x", idBytes)
		row.ProcessedAt = time.Unix(processedAtUnix, 0)
		if len(parentBytes) > 0 {
			row.ParentID = fmt.Sprintf("%x", parentBytes)
		}

		content := []byte(fmt.Sprintf(
			"{\"id\":%q,\"filename\":%q,\"parent_id\":%q,\"processed_at\":%q,\"status\":%q,\"error_message\":%q}\n",
			row.ID, row.Filename, row.ParentID, row.ProcessedAt.Format("2006-01-02T15:04:05Z07:00"), row.Status, row.ErrorMessage,
		))
		files[row.ID+".json"] = content
	}
	return files, rows.Err()
}

// ledgerFile is a fixed, read-only byte blob backing one *.json entry.
type ledgerFile struct {
	fs.Inode
	content []byte
}

var (
	_ fs.NodeOpener  = (*ledgerFile)(nil)
	_ fs.NodeReader  = (*ledgerFile)(nil)
	_ fs.NodeGetattr = (*ledgerFile)(nil)
)

func (f *ledgerFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *ledgerFile) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	end := off + int64(len(dest))
	if end > int64(len(f.content)) {
		end = int64(len(f.content))
	}
	if off > end {
		off = end
	}
	return fuse.ReadResultData(f.content[off:end]), 0
}

func (f *ledgerFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Size = uint64(len(f.content))
	out.Mode = 0o444
	return 0
}
