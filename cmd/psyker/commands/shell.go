package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psyker-lang/psyker/internal/printer"
	"github.com/psyker-lang/psyker/pkg/diag"
	"github.com/psyker-lang/psyker/pkg/lang"
	"github.com/psyker-lang/psyker/pkg/runtime"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive session",
	Long: `Shell keeps the definition registry alive across commands, so files
loaded once stay available to every run until the session ends.

Ctrl+C cancels the command in flight, not the session. 'exit' leaves
with status 0; end-of-input leaves with the last command's status.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// shellVerbs drives dispatch and the help output. Order is the order
// help prints.
var shellVerbs = []struct {
	name    string
	usage   string
	summary string
}{
	{"load", "load <path> | load --dir <path>", "Load definitions from a file or directory"},
	{"ls", "ls workers|agents|tasks", "List loaded definitions"},
	{"stx", "stx worker|agent|task <name> [--output table|json]", "Show one loaded definition"},
	{"run", "run <agent> <task>", "Run a task through an agent's worker pool"},
	{"open", "open <path>", "Print a workspace file"},
	{"mkfile", "mkfile <path>", "Create an empty file in the workspace"},
	{"mkdir", "mkdir <path>", "Create a directory in the workspace"},
	{"ps", "ps \"<command>\"", "Run a PowerShell command in the workspace"},
	{"cmd", "cmd \"<command>\"", "Run a platform shell command in the workspace"},
	{"sandbox", "sandbox reset [--logs]", "Reset sandbox contents"},
	{"help", "help [<command>|--cmds|--version|--about]", "Show help"},
	{"exit", "exit", "Leave the session"},
}

func runShell(cmd *cobra.Command, args []string) error {
	printer.Header("psyker %s", version)
	printer.Println("Type 'help' for commands, 'exit' to leave.")

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lastExit := 0
	for {
		fmt.Print("PSYKER> ")
		if !in.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			lastExit = 0
			continue
		}

		words, err := splitLine(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error[CliParse]: %v\n", err)
			lastExit = 1
			continue
		}

		verb := words[0]
		if verb == "exit" || verb == "quit" {
			return nil
		}
		lastExit = dispatchShellVerb(verb, words[1:])
	}

	// End of input carries the last command's status out of the session.
	if lastExit != 0 {
		_ = logger.Sync()
		os.Exit(lastExit)
	}
	return nil
}

func dispatchShellVerb(verb string, args []string) int {
	var err error
	switch verb {
	case "help":
		err = shellHelp(args)
	case "ls":
		err = shellList(args)
	case "stx":
		err = shellInspect(args)
	case "load":
		err = shellLoad(args)
	case "run":
		err = shellRun(args)
	case "open":
		err = shellOpen(args)
	case "mkfile":
		err = shellMkfile(args)
	case "mkdir":
		err = shellMkdir(args)
	case "ps":
		err = shellExec(lang.OpExecPS, args)
	case "cmd":
		err = shellExec(lang.OpExecCmd, args)
	case "sandbox":
		err = shellSandbox(args)
	default:
		fmt.Fprintf(os.Stderr, "error[CliCommand]: unknown command '%s'\n", verb)
		return 1
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			printer.Println("task cancelled")
		} else {
			printer.Diagnostic(diag.DiagnosticOf(err))
		}
		return diag.ExitCode(err)
	}
	return 0
}

// splitLine splits a command line into words, honoring single and double
// quotes so 'ps "echo one; echo two"' keeps the command as one argument.
func splitLine(line string) ([]string, error) {
	var words []string
	var current strings.Builder
	inWord := false
	var quote byte

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				current.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == ' ' || c == '\t':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteByte(c)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, errors.New("No closing quotation")
	}
	if inWord {
		words = append(words, current.String())
	}
	return words, nil
}

func shellHelp(args []string) error {
	if len(args) == 0 {
		printer.Printf("%-12s %s\n", "COMMAND", "DESCRIPTION")
		for _, v := range shellVerbs {
			printer.Printf("%-12s %s\n", v.name, v.summary)
		}
		return nil
	}
	switch args[0] {
	case "--cmds":
		for _, v := range shellVerbs {
			printer.Println(v.name)
		}
		return nil
	case "--version":
		printer.Printf("psyker %s (commit: %s, built: %s)\n", version, commit, date)
		return nil
	case "--about":
		printer.Println("Psyker runs sandboxed automation tasks through capability-checked")
		printer.Println("workers selected round-robin from agent pools.")
		return nil
	default:
		for _, v := range shellVerbs {
			if v.name == args[0] {
				printer.Printf("Usage: %s\n", v.usage)
				printer.Println(v.summary)
				return nil
			}
		}
		return fmt.Errorf("unknown command '%s'", args[0])
	}
}

func shellList(args []string) error {
	if len(args) != 1 {
		return errors.New("Usage: ls workers|agents|tasks")
	}
	switch args[0] {
	case "workers":
		return listWorkers(false)
	case "agents":
		return listAgents(false)
	case "tasks":
		return listTasks(false)
	default:
		return errors.New("Usage: ls workers|agents|tasks")
	}
}

func shellInspect(args []string) error {
	rest, output, err := parseOutputFlag(args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return errors.New("Usage: stx worker|agent|task <name> [--output table|json]")
	}
	kind, name := rest[0], rest[1]
	if kind != "worker" && kind != "agent" && kind != "task" {
		return errors.New("stx target must be one of: worker, agent, task")
	}
	def, err := lookupDefinition(kind, name)
	if err != nil {
		return err
	}
	return renderDefinition(def, output == "json")
}

// parseOutputFlag pulls '--output <value>' out of the argument list.
func parseOutputFlag(args []string) (rest []string, output string, err error) {
	output = "table"
	for i := 0; i < len(args); i++ {
		if args[i] == "--output" {
			if i+1 >= len(args) {
				return nil, "", errors.New("--output requires a value")
			}
			output = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	if output != "table" && output != "json" {
		return nil, "", errors.New("stx output must be one of: table, json")
	}
	return rest, output, nil
}

func shellLoad(args []string) error {
	switch {
	case len(args) == 1 && args[0] != "--dir":
		if _, err := state.LoadFile(args[0]); err != nil {
			return err
		}
		printer.Println("loaded: " + args[0])
		return nil
	case len(args) == 2 && args[0] == "--dir":
		loaded, err := state.LoadDir(args[1])
		for _, file := range loaded {
			printer.Println("loaded: " + file)
		}
		return err
	default:
		return errors.New("Usage: load <path> | load --dir <path>")
	}
}

func shellRun(args []string) error {
	if len(args) != 2 {
		return errors.New("Usage: run <agent> <task>")
	}
	// A fresh signal context per run makes Ctrl+C cancel the task
	// without ending the session.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := state.Run(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	printRunResult(result)
	return nil
}

func shellOpen(args []string) error {
	if len(args) != 1 {
		return errors.New("Usage: open <path>")
	}
	sb := state.Sandbox()
	target, err := sb.ResolveInWorkspace(args[0])
	if err != nil {
		return err
	}
	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		return diag.New(diag.KindExec, diag.SourceSpan{}, "File not found: %s", target)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to read '%s': %v", target, err).WithCause(err)
	}
	printer.Println(strings.TrimRight(string(data), "\n"))
	return nil
}

func shellMkfile(args []string) error {
	if len(args) != 1 {
		return errors.New("Usage: mkfile <path>")
	}
	target, err := workspaceTarget(args[0])
	if err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to create '%s': %v", target, err).WithCause(err)
	}
	if err := f.Close(); err != nil {
		return diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to create '%s': %v", target, err).WithCause(err)
	}
	printer.Println("created file: " + target)
	return nil
}

func shellMkdir(args []string) error {
	if len(args) != 1 {
		return errors.New("Usage: mkdir <path>")
	}
	sb := state.Sandbox()
	if err := sb.EnsureLayout(); err != nil {
		return err
	}
	target, err := sb.ResolveInWorkspace(args[0])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to create '%s': %v", target, err).WithCause(err)
	}
	printer.Println("created dir: " + target)
	return nil
}

// workspaceTarget resolves a path into the workspace and makes sure its
// parent directories exist.
func workspaceTarget(value string) (string, error) {
	sb := state.Sandbox()
	if err := sb.EnsureLayout(); err != nil {
		return "", err
	}
	target, err := sb.ResolveInWorkspace(value)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to create '%s': %v", target, err).WithCause(err)
	}
	return target, nil
}

func shellExec(op lang.Op, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("Usage: %s \"<command>\"", verbFor(op))
	}
	sb := state.Sandbox()
	if err := sb.EnsureLayout(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spec := runtime.CommandSpec{Op: op, Command: args[0], Dir: sb.Workspace()}
	code, stdout, stderr, err := runtime.DefaultRunner().Run(ctx, spec)

	if out := strings.TrimRight(stdout, "\n"); out != "" {
		printer.Println(out)
	}
	if errOut := strings.TrimRight(stderr, "\n"); errOut != "" {
		fmt.Fprintln(os.Stderr, errOut)
	}

	if ctx.Err() != nil {
		return diag.New(diag.KindExec, diag.SourceSpan{}, "task cancelled by user").WithCause(ctx.Err())
	}
	if err != nil && code <= 0 {
		return diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to execute '%s': %v", runtime.ShellName(op), err).WithCause(err)
	}
	if code != 0 {
		return diag.New(diag.KindExec, diag.SourceSpan{}, "Command failed with exit code %d", code)
	}
	return nil
}

func verbFor(op lang.Op) string {
	if op == lang.OpExecPS {
		return "ps"
	}
	return "cmd"
}

func shellSandbox(args []string) error {
	if len(args) == 0 || args[0] != "reset" {
		return errors.New("Usage: sandbox reset [--logs]")
	}
	clearLogs := false
	for _, arg := range args[1:] {
		switch arg {
		case "--logs", "--clear-logs":
			clearLogs = true
		default:
			return errors.New("Usage: sandbox reset [--logs]")
		}
	}
	if err := state.Sandbox().Reset(clearLogs); err != nil {
		return err
	}
	if clearLogs {
		printer.Println("sandbox reset: workspace, tmp, and logs cleared")
	} else {
		printer.Println("sandbox reset: workspace and tmp cleared")
	}
	return nil
}
