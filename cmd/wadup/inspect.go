package main

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/wadup/internal/ledgerfmt"
	"github.com/untoldecay/wadup/internal/sink"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect <database>",
	GroupID: "inspect",
	Short:   "Read-only queries against a completed or in-progress run's database",
}

var inspectLedgerCmd = &cobra.Command{
	Use:   "ledger <database>",
	Short: "List artifact-ledger rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		db, err := sql.Open("sqlite3", args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer db.Close()

		query := `SELECT id, filename, COALESCE(parent_id, ''), processed_at, status, COALESCE(error_message, '') FROM "artifact-ledger"`
		var rows *sql.Rows
		if statusFilter != "" {
			query += ` WHERE status = ?`
			rows, err = db.Query(query, statusFilter)
		} else {
			rows, err = db.Query(query)
		}
		if err != nil {
			return fmt.Errorf("querying ledger: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var r ledgerfmt.LedgerRow
			var idBytes, parentBytes []byte
			var processedAtUnix int64
			if err := rows.Scan(&idBytes, &r.Filename, &parentBytes, &processedAtUnix, &r.Status, &r.ErrorMessage); err != nil {
				return fmt.Errorf("scanning ledger row: %w", err)
			}
			r.ID = fmt.Sprintf("%x", idBytes)
			r.ProcessedAt = time.Unix(processedAtUnix, 0)
			if len(parentBytes) > 0 {
				r.ParentID = fmt.Sprintf("%x", parentBytes)
			}
			fmt.Println(r.Summary())
		}
		return rows.Err()
	},
}

var inspectOutputCmd = &cobra.Command{
	Use:   "output <database> <artifact-id>",
	Short: "Dump a module's captured stdout/stderr for one artifact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		artifactID, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("parsing artifact id %q: %w", args[1], err)
		}

		db, err := sql.Open("sqlite3", args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer db.Close()

		rows, err := db.Query(
			`SELECT module_name, stdout, stderr, stdout_truncated, stderr_truncated FROM "module-output" WHERE artifact_id = ?`,
			artifactID,
		)
		if err != nil {
			return fmt.Errorf("querying module output: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var moduleName string
			var stdout, stderr []byte
			var stdoutTrunc, stderrTrunc int
			if err := rows.Scan(&moduleName, &stdout, &stderr, &stdoutTrunc, &stderrTrunc); err != nil {
				return fmt.Errorf("scanning module output row: %w", err)
			}
			outDec, err := ledgerfmt.DecodeOutputBlob(stdout)
			if err != nil {
				return err
			}
			errDec, err := ledgerfmt.DecodeOutputBlob(stderr)
			if err != nil {
				return err
			}
			fmt.Printf("=== %s ===\n--- stdout (truncated=%v) ---\n%s\n--- stderr (truncated=%v) ---\n%s\n",
				moduleName, stdoutTrunc != 0, outDec, stderrTrunc != 0, errDec)
		}
		return rows.Err()
	},
}

func init() {
	inspectLedgerCmd.Flags().String("status", "", fmt.Sprintf("filter by status (%s or %s)", sink.StatusSuccess, sink.StatusFailed))
	inspectCmd.AddCommand(inspectLedgerCmd, inspectOutputCmd, inspectMountCmd)
	rootCmd.AddCommand(inspectCmd)
}
