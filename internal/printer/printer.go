// Package printer renders CLI output. Commands print through it so color
// handling stays in one place.
package printer

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/psyker-lang/psyker/pkg/diag"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// DisableColor turns off all colored output (the --no-color flag).
func DisableColor() {
	color.NoColor = true
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Success prints a confirmation message in green
func Success(format string, a ...any) {
	green.Printf(format, a...)
}

// Header prints a section header in cyan (used by list and inspect)
func Header(format string, a ...any) {
	cyan.Printf(format, a...)
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Println(a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Diagnostic prints a diagnostic to stderr in the three-line form:
//
//	error[SyntaxError]: Expected ';'
//	  --> tasks/build.psy:4:7
//	  hint: Add ';' at the end of the statement.
func Diagnostic(d diag.Diagnostic) {
	WriteDiagnostic(os.Stderr, d)
}

// WriteDiagnostic renders the three-line diagnostic form to w. The arrow
// line is omitted when the diagnostic carries no position, the hint line
// when there is no hint.
func WriteDiagnostic(w io.Writer, d diag.Diagnostic) {
	red.Fprintf(w, "error[%s]:", d.Kind)
	fmt.Fprintf(w, " %s\n", d.Message)
	if d.Line != 0 || d.Column != 0 || d.File != "" {
		file := d.File
		if file == "" {
			file = "<input>"
		}
		cyan.Fprintf(w, "  --> %s:%d:%d\n", file, d.Line, d.Column)
	}
	if d.Hint != "" {
		yellow.Fprintf(w, "  hint:")
		fmt.Fprintf(w, " %s\n", d.Hint)
	}
}
