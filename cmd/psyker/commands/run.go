package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/psyker-lang/psyker/internal/printer"
	"github.com/psyker-lang/psyker/pkg/runtime"
)

var (
	runLoadPaths []string
	runTimeout   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <agent> <task>",
	Short: "Run a task through an agent's worker pool",
	Long: `Run sends a loaded task through an agent. The agent picks the next
worker from its pool round-robin, the worker's grants are checked against
every statement, and statements execute inside the sandbox workspace.

Definitions come from --load, so a full invocation looks like:

  psyker run builder deploy --load ./defs`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runLoadPaths, "load", nil, "Definition file or directory to load first (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Abort the run after this duration (e.g. 30s)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := loadPaths(state, runLoadPaths); err != nil {
		return err
	}

	ctx := cmd.Context()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	result, err := state.Run(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	printRunResult(result)
	return nil
}

// printRunResult echoes the run's captured streams and a status line.
// A result only comes back when every statement succeeded, so the
// reported status is always zero; failures surface as diagnostics.
func printRunResult(result *runtime.RunResult) {
	if out := strings.TrimRight(result.Stdout, "\n"); out != "" {
		printer.Println(out)
	}
	if errOut := strings.TrimRight(result.Stderr, "\n"); errOut != "" {
		fmt.Fprintln(os.Stderr, errOut)
	}
	printer.Printf("status=0 agent=%s worker=%s task=%s\n", result.Agent, result.Worker, result.Task)
}
