package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/untoldecay/wadup/internal/config"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Write a wadup.yaml in the current directory",
	Run: func(cmd *cobra.Command, _ []string) {
		quiet, _ := cmd.Flags().GetBool("quiet")

		modulesDir := "modules"
		inputsDir := "inputs"
		output := "wadup.db"
		maxDepth := config.DefaultMaxDepth

		if !quiet && term.IsTerminal(int(os.Stdin.Fd())) {
			var maxDepthStr = fmt.Sprintf("%d", maxDepth)
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewNote().
						Title("wadup Setup").
						Description("Configure where modules and inputs live for this project."),
					huh.NewInput().
						Title("Modules directory").
						Description("Directory of compiled .wasm guest modules.").
						Value(&modulesDir),
					huh.NewInput().
						Title("Inputs directory").
						Description("Directory of files to process.").
						Value(&inputsDir),
					huh.NewInput().
						Title("Output database").
						Description("Path to the SQLite database wadup writes results to.").
						Value(&output),
					huh.NewInput().
						Title("Maximum recursion depth").
						Description("How deep a chain of module-emitted sub-artifacts may go.").
						Value(&maxDepthStr),
				),
			)
			if err := form.Run(); err != nil {
				fatalf("setup cancelled: %v", err)
			}
			fmt.Sscanf(maxDepthStr, "%d", &maxDepth)
		}

		doc := struct {
			ModulesDir string `yaml:"modules-dir"`
			InputsDir  string `yaml:"inputs-dir"`
			Output     string `yaml:"output"`
			MaxDepth   int    `yaml:"max-depth"`
		}{ModulesDir: modulesDir, InputsDir: inputsDir, Output: output, MaxDepth: maxDepth}

		data, err := yaml.Marshal(doc)
		if err != nil {
			fatalf("rendering wadup.yaml: %v", err)
		}
		if err := os.WriteFile("wadup.yaml", data, 0o644); err != nil {
			fatalf("writing wadup.yaml: %v", err)
		}
		if !quiet {
			fmt.Println("wrote wadup.yaml")
		}
	},
}

func init() {
	initCmd.Flags().Bool("quiet", false, "skip the interactive wizard and write defaults")
	rootCmd.AddCommand(initCmd)
}
