package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wadup",
	Short: "Run sandboxed modules over a stream of artifacts",
	Long: `wadup applies a set of user-supplied WebAssembly modules to every file
in an inputs directory, recursively following any sub-artifacts a module
emits, and records structured metadata plus captured output in a SQLite
database.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Run:"},
		&cobra.Group{ID: "inspect", Title: "Inspect:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "wadup: "+format+"\n", args...)
	os.Exit(1)
}
