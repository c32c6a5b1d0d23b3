package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/psyker-lang/psyker/internal/printer"
	"github.com/psyker-lang/psyker/pkg/runtime"
)

var loadCmd = &cobra.Command{
	Use:   "load <path> [path...]",
	Short: "Load and validate definition files",
	Long: `Load parses and validates .psy, .psyw, and .psya files. A directory
argument loads every definition inside it, workers before agents before
tasks so references resolve.

One-shot invocations discard the registry on exit; use 'run --load' to
load and run in one process, or 'psyker shell' for a persistent session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	return loadPaths(state, args)
}

// loadPaths loads each path into the session, descending into directories.
// Loading stops at the first failure; files already loaded stay loaded.
func loadPaths(st *runtime.State, paths []string) error {
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			loaded, err := st.LoadDir(path)
			for _, file := range loaded {
				printer.Println("loaded: " + file)
			}
			if err != nil {
				return err
			}
			continue
		}
		if _, err := st.LoadFile(path); err != nil {
			return err
		}
		printer.Println("loaded: " + path)
	}
	return nil
}
