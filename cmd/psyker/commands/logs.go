package commands

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/psyker-lang/psyker/internal/audit"
	"github.com/psyker-lang/psyker/internal/timespec"
)

var (
	logsSince  string
	logsUntil  string
	logsFollow bool
	logsJSON   bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the sandbox audit log",
	Long: `Logs prints the audit records the runtime appends for every executed
statement.

Time bounds take a Go duration meaning "that long ago" ('45m', '1h30m')
or an RFC3339 timestamp. --follow streams new records until interrupted.

Examples:
  # Everything recorded in the last hour
  psyker logs --since 1h

  # Stream records as agents work
  psyker logs --follow

  # Export the full log for processing
  psyker logs --json > audit.jsonl`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Only records at or after this time (duration or RFC3339)")
	logsCmd.Flags().StringVar(&logsUntil, "until", "", "Only records at or before this time (duration or RFC3339)")
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "Stream records as they are written")
	logsCmd.Flags().BoolVar(&logsJSON, "json", false, "Output line-delimited JSON")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	since, until, err := timespec.ParseRange(logsSince, logsUntil)
	if err != nil {
		return err
	}
	logFile := state.Sandbox().LogFile()

	if logsFollow {
		if logsUntil != "" {
			return errors.New("--until cannot be combined with --follow")
		}
		err := audit.Follow(cmd.Context(), logFile, since, func(rec audit.Record) {
			if logsJSON {
				_ = audit.FormatJSONL(os.Stdout, []audit.Record{rec})
			} else {
				audit.FormatRow(os.Stdout, rec)
			}
		})
		// Interrupt is how a follow session ends; not an error.
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	records, err := audit.Read(logFile, since, until)
	if err != nil {
		return err
	}
	if logsJSON {
		return audit.FormatJSONL(os.Stdout, records)
	}
	audit.FormatTable(os.Stdout, records)
	return nil
}
