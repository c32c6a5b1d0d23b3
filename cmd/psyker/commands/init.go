package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psyker-lang/psyker/internal/scaffold"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new psyker project",
	Long: `Initialize a psyker project in the working directory.

Creates:
  psyker.yml - project configuration
  defs/      - an example task, worker, and agent covering all three dialects

Use --force to reinitialize an existing project (this overwrites the
generated files).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force reinitialization (removes existing psyker.yml and defs/)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !initForce {
		if err := scaffold.CheckExisting(); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(initForce); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()
	return nil
}
