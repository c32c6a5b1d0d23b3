package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psyker-lang/psyker/internal/printer"
)

var resetClearLogs bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the sandbox workspace and tmp directories",
	Long: `Reset empties the sandbox workspace and tmp directories and recreates
the layout. Logs survive unless --clear-logs is given.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetClearLogs, "clear-logs", false, "Also clear the audit log directory")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := state.Sandbox().Reset(resetClearLogs); err != nil {
		return err
	}
	logger.Debug("sandbox reset", zap.Bool("clear_logs", resetClearLogs))
	if resetClearLogs {
		printer.Println("sandbox reset: workspace, tmp, and logs cleared")
	} else {
		printer.Println("sandbox reset: workspace and tmp cleared")
	}
	return nil
}
