package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/psyker-lang/psyker/cmd/psyker/commands"
	"github.com/psyker-lang/psyker/internal/printer"
	"github.com/psyker-lang/psyker/pkg/diag"
)

// Version information set by build flags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Ctrl+C cancels the context; running tasks observe it between
	// statements and kill any in-flight subprocess.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("task cancelled")
		} else {
			printer.Diagnostic(diag.DiagnosticOf(err))
		}
		stop()
		os.Exit(diag.ExitCode(err))
	}
}
