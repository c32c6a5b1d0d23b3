// Package diag defines the shared error taxonomy and diagnostic rendering for
// the PSYKER language front-end, sandbox, and runtime. Every failure those
// components surface is a *diag.Error carrying a kind, a source span, and an
// optional fix hint, so that hosts (CLI, editor tooling) can render uniform
// diagnostics and map failure kinds to exit codes without string matching.
package diag

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a diagnostic. The set is closed; kinds are preserved
// end-to-end from the failing stage to the host's exit-code mapping.
type Kind string

const (
	// KindSyntax indicates the token stream does not match the dialect grammar.
	KindSyntax Kind = "SyntaxError"

	// KindDialect indicates a construct that belongs to a different dialect,
	// an unsupported file extension, or a missing dialect-structural header.
	KindDialect Kind = "DialectError"

	// KindReference indicates a name that does not exist in its registry.
	KindReference Kind = "ReferenceError"

	// KindPermission indicates a statement whose required capability is not
	// granted by the selected worker.
	KindPermission Kind = "PermissionError"

	// KindAccess indicates a task whose @access block excludes the chosen
	// agent or worker. It is a specialization of KindPermission and must stay
	// distinguishable in diagnostics.
	KindAccess Kind = "AccessError"

	// KindSandbox indicates a resolved path that escapes the sandbox root.
	KindSandbox Kind = "SandboxError"

	// KindExec indicates a failed subprocess, a missing file for fs.open, or
	// another I/O-classed execution failure.
	KindExec Kind = "ExecError"
)

// Validate returns an error if the kind is not one of the defined values.
func (k Kind) Validate() error {
	switch k {
	case KindSyntax, KindDialect, KindReference, KindPermission, KindAccess, KindSandbox, KindExec:
		return nil
	default:
		return fmt.Errorf("invalid diagnostic kind: %s", string(k))
	}
}

// IsPermission reports whether the kind denies an action. KindAccess is a
// specialization of KindPermission, so both match.
func (k Kind) IsPermission() bool {
	return k == KindPermission || k == KindAccess
}

// SourceSpan locates a diagnostic in source text. Line and Column are
// 1-based; File may be empty when the source is not file-backed.
type SourceSpan struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// IsZero reports whether the span carries no position.
func (s SourceSpan) IsZero() bool {
	return s.File == "" && s.Line == 0 && s.Column == 0
}

func (s SourceSpan) String() string {
	file := s.File
	if file == "" {
		file = "<input>"
	}
	return fmt.Sprintf("%s:%d:%d", file, s.Line, s.Column)
}

// Error is the typed failure produced by every stage that can fail.
// It implements error and unwraps to its cause when one was attached.
type Error struct {
	Kind    Kind
	Message string
	Span    SourceSpan
	Hint    string
	Err     error // wrapped cause, if any
}

// New builds an Error of the given kind at the given span.
func New(kind Kind, span SourceSpan, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Span:    span,
	}
}

// WithHint attaches a one-line fix hint and returns the error.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithCause attaches an underlying cause for errors.Is/As chains.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) Error() string {
	if e.Span.IsZero() {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Span)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Diagnostic flattens the error into the host-facing shape.
func (e *Error) Diagnostic() Diagnostic {
	return Diagnostic{
		Kind:    e.Kind,
		Message: e.Message,
		File:    e.Span.File,
		Line:    e.Span.Line,
		Column:  e.Span.Column,
		Hint:    e.Hint,
	}
}

// Diagnostic is the flattened failure shape consumed by hosts for display.
type Diagnostic struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// Render formats the diagnostic for terminal display:
//
//	error[SyntaxError]: Expected ';'
//	  --> tasks/build.psy:4:7
//	  hint: Add ';' at the end of the statement.
//
// The arrow line is omitted when the diagnostic has no position; the hint
// line is omitted when there is no hint.
func (d Diagnostic) Render() string {
	out := fmt.Sprintf("error[%s]: %s", d.Kind, d.Message)
	if d.Line != 0 || d.Column != 0 || d.File != "" {
		file := d.File
		if file == "" {
			file = "<input>"
		}
		out += fmt.Sprintf("\n  --> %s:%d:%d", file, d.Line, d.Column)
	}
	if d.Hint != "" {
		out += fmt.Sprintf("\n  hint: %s", d.Hint)
	}
	return out
}

// KindOf walks err's wrap chain and returns the kind of the first *Error it
// finds, or the empty kind for nil and foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// KindGeneral labels failures that carry no PSYKER kind of their own. It is
// a rendering fallback, not a member of the kind taxonomy.
const KindGeneral Kind = "GeneralError"

// DiagnosticOf extracts the Diagnostic from err's wrap chain. Foreign errors
// are mapped to a general diagnostic carrying their message, so hosts can
// render any failure through one code path.
func DiagnosticOf(err error) Diagnostic {
	var de *Error
	if errors.As(err, &de) {
		return de.Diagnostic()
	}
	return Diagnostic{Kind: KindGeneral, Message: err.Error()}
}

// Exit codes a host maps run/load failures to. The kind distinction is
// preserved end-to-end; cancellation wins over the kind mapping.
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitSyntax     = 2
	ExitPermission = 3
	ExitSandbox    = 4
	ExitExec       = 5
	ExitCancelled  = 130
)

// ExitCode maps an error to the process exit code a CLI host should return.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	switch KindOf(err) {
	case KindSyntax, KindDialect:
		return ExitSyntax
	case KindAccess, KindPermission:
		return ExitPermission
	case KindSandbox:
		return ExitSandbox
	case KindExec:
		return ExitExec
	default:
		return ExitGeneral
	}
}
