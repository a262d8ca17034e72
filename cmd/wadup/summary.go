package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/untoldecay/wadup/internal/config"
)

var (
	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	summaryLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// printSummary renders a short run report from the engine's own counters.
func printSummary(cfg *config.Config, roots, modules int, elapsed time.Duration) {
	fmt.Fprintln(os.Stderr, summaryTitle.Render("wadup run complete"))
	fmt.Fprintf(os.Stderr, "  %s %d\n", summaryLabel.Render("root artifacts:"), roots)
	fmt.Fprintf(os.Stderr, "  %s %d\n", summaryLabel.Render("modules loaded:"), modules)
	fmt.Fprintf(os.Stderr, "  %s %s\n", summaryLabel.Render("elapsed:"), elapsed.Round(time.Millisecond))
	if info, err := os.Stat(cfg.Output); err == nil {
		fmt.Fprintf(os.Stderr, "  %s %s (%s)\n", summaryLabel.Render("output:"), cfg.Output, humanize.Bytes(uint64(info.Size())))
	} else {
		fmt.Fprintf(os.Stderr, "  %s %s\n", summaryLabel.Render("output:"), cfg.Output)
	}
}
