package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psyker-lang/psyker/pkg/diag"
	"github.com/psyker-lang/psyker/pkg/lang"
)

// RunResult describes one task run. On failure it is returned alongside the
// error and carries the outcomes completed before the failing statement.
type RunResult struct {
	RunID    string    `json:"run_id"`
	Agent    string    `json:"agent"`
	Worker   string    `json:"worker"`
	Ordinal  int       `json:"ordinal"`
	Task     string    `json:"task"`
	Outcomes []Outcome `json:"outcomes"`
	Stdout   string    `json:"stdout,omitempty"`
	Stderr   string    `json:"stderr,omitempty"`
}

// Outcome records the effect of one executed statement.
type Outcome struct {
	Index    int    `json:"index"`
	Op       string `json:"op"`
	Arg      string `json:"arg"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Run executes the named task as the named agent:
//
//  1. Resolve the task, then the agent.
//  2. Select a worker instance round-robin over the agent's flattened pool.
//     The per-agent cursor advances on every selection, failed runs included.
//  3. Check the task's @access block against the agent and selected worker.
//  4. Execute the statements in order. Each statement is checked against the
//     worker's grants before it is allowed any side effect, and each executed
//     statement appends one sandbox audit record.
//
// Cancellation is honored between statements and while a subprocess runs;
// a cancelled run maps to an error wrapping ctx.Err().
func (s *State) Run(ctx context.Context, agentName, taskName string) (*RunResult, error) {
	s.mu.Lock()
	task, ok := s.tasks[taskName]
	if !ok {
		s.mu.Unlock()
		return nil, diag.New(diag.KindReference, diag.SourceSpan{},
			"Unknown task '%s'", taskName).
			WithHint("Load the task definition first.")
	}
	agent, ok := s.agents[agentName]
	if !ok {
		s.mu.Unlock()
		return nil, diag.New(diag.KindReference, diag.SourceSpan{},
			"Unknown agent '%s'", agentName).
			WithHint("Load the agent definition first.")
	}

	pool := flattenPool(agent)
	if len(pool) == 0 {
		s.mu.Unlock()
		return nil, diag.New(diag.KindReference, agent.Span,
			"Agent '%s' has an empty worker pool", agentName).
			WithHint("Add 'use worker <name> count = <n>;' to the agent.")
	}
	ordinal := s.cursors[agentName] % len(pool)
	s.cursors[agentName]++
	workerName := pool[ordinal]

	worker, ok := s.workers[workerName]
	if !ok {
		s.mu.Unlock()
		return nil, diag.New(diag.KindReference, agent.Span,
			"Agent '%s' references unknown worker '%s'", agentName, workerName).
			WithHint("Load the worker definition before running the agent.")
	}
	wp := s.paths[workerName]
	s.mu.Unlock()

	result := &RunResult{
		RunID:   uuid.NewString(),
		Agent:   agentName,
		Worker:  workerName,
		Ordinal: ordinal,
		Task:    taskName,
	}
	logger := s.logger.With(
		zap.String("run_id", result.RunID),
		zap.String("agent", agentName),
		zap.String("worker", workerName),
		zap.Int("ordinal", ordinal),
		zap.String("task", taskName),
	)

	if err := checkAccess(task, agentName, workerName); err != nil {
		logger.Debug("access denied")
		return nil, err
	}
	logger.Debug("run started", zap.Int("statements", len(task.Statements)))

	for i, stmt := range task.Statements {
		if ctx.Err() != nil {
			logger.Debug("run cancelled", zap.Int("statement", i))
			return result, cancelled(ctx)
		}
		if err := checkCapability(worker, stmt); err != nil {
			logger.Debug("capability denied",
				zap.String("op", string(stmt.Op)),
				zap.String("arg", stmt.Arg))
			return result, err
		}

		outcome, err := s.execStatement(ctx, worker, wp, i, stmt)
		result.Outcomes = append(result.Outcomes, outcome)
		result.Stdout += outcome.Stdout
		result.Stderr += outcome.Stderr

		status := "ok"
		if err != nil {
			status = "error"
		}
		s.sandbox.Log(agentName, workerName, string(stmt.Op), stmt.Arg, status)

		if err != nil {
			if ctx.Err() != nil {
				return result, cancelled(ctx)
			}
			logger.Debug("run failed",
				zap.Int("statement", i),
				zap.String("op", string(stmt.Op)),
				zap.Error(err))
			return result, err
		}
	}
	logger.Debug("run finished", zap.Int("statements", len(result.Outcomes)))
	return result, nil
}

// flattenPool expands the agent's use clauses into one slot per instance,
// in declaration order.
func flattenPool(agent *lang.AgentDef) []string {
	var pool []string
	for _, use := range agent.Uses {
		for i := 0; i < use.Count; i++ {
			pool = append(pool, use.Worker)
		}
	}
	return pool
}

func cancelled(ctx context.Context) error {
	return diag.New(diag.KindExec, diag.SourceSpan{},
		"task cancelled by user").WithCause(ctx.Err())
}

// checkAccess enforces the deny-by-default task allow-list. A task without
// an @access block admits nobody.
func checkAccess(task *lang.TaskDef, agentName, workerName string) error {
	if task.Access == nil {
		return diag.New(diag.KindAccess, task.Span,
			"Task '%s' does not grant access to agent '%s'", task.Name, agentName).
			WithHint("Add an @access block to the task.")
	}
	if !task.Access.PermitsAgent(agentName) {
		return diag.New(diag.KindAccess, task.Access.Span,
			"Task '%s' does not grant access to agent '%s'", task.Name, agentName).
			WithHint(fmt.Sprintf("Add '%s' to the @access agents list.", agentName))
	}
	if !task.Access.PermitsWorker(workerName) {
		return diag.New(diag.KindAccess, task.Access.Span,
			"Task '%s' does not grant access to worker '%s'", task.Name, workerName).
			WithHint(fmt.Sprintf("Add '%s' to the @access workers list.", workerName))
	}
	return nil
}

// checkCapability enforces the worker's grants before a statement may touch
// the sandbox or spawn a process.
func checkCapability(worker *lang.WorkerDef, stmt lang.Statement) error {
	if worker.Permits(stmt.Op, stmt.Arg) {
		return nil
	}
	return diag.New(diag.KindPermission, stmt.Span,
		"Worker '%s' is not allowed to run %s '%s'", worker.Name, stmt.Op, stmt.Arg).
		WithHint(fmt.Sprintf("Add 'allow %s ...;' to the worker.", stmt.Op))
}

func (s *State) execStatement(ctx context.Context, worker *lang.WorkerDef, wp workerPaths, index int, stmt lang.Statement) (Outcome, error) {
	out := Outcome{Index: index, Op: string(stmt.Op), Arg: stmt.Arg}

	var err error
	switch stmt.Op {
	case lang.OpFsOpen:
		err = s.runFsOpen(stmt.Arg, &out)
	case lang.OpFsCreate:
		err = s.runFsCreate(stmt.Arg, &out)
	default:
		err = s.runExec(ctx, stmt.Op, stmt.Arg, wp, &out)
	}
	if err != nil {
		out.Err = err.Error()
	}
	return out, err
}

// runFsOpen reads a workspace file and appends its contents to the run's
// stdout. The target must already exist.
func (s *State) runFsOpen(arg string, out *Outcome) error {
	path, err := s.sandbox.ResolveInWorkspace(arg)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return diag.New(diag.KindExec, diag.SourceSpan{},
			"File not found: %s", path).
			WithHint("Create the file before opening it.")
	}
	if err != nil {
		return diag.New(diag.KindExec, diag.SourceSpan{},
			"Failed to read '%s': %v", path, err).WithCause(err)
	}
	if !info.Mode().IsRegular() {
		return diag.New(diag.KindExec, diag.SourceSpan{},
			"Not a regular file: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return diag.New(diag.KindExec, diag.SourceSpan{},
			"Failed to read '%s': %v", path, err).WithCause(err)
	}
	out.Stdout = string(data)
	return nil
}

// runFsCreate creates a workspace file and any missing parent directories.
// An existing file is left as is.
func (s *State) runFsCreate(arg string, out *Outcome) error {
	path, err := s.sandbox.ResolveInWorkspace(arg)
	if err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return diag.New(diag.KindExec, diag.SourceSpan{},
				"Cannot create file '%s': path is a directory", path)
		}
		return nil
	} else if !os.IsNotExist(err) {
		return diag.New(diag.KindExec, diag.SourceSpan{},
			"Failed to create '%s': %v", path, err).WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return diag.New(diag.KindExec, diag.SourceSpan{},
			"Failed to create '%s': %v", path, err).WithCause(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return diag.New(diag.KindExec, diag.SourceSpan{},
			"Failed to create '%s': %v", path, err).WithCause(err)
	}
	return f.Close()
}

// runExec spawns the statement's shell in the worker's working directory and
// captures its output into the outcome.
func (s *State) runExec(ctx context.Context, op lang.Op, command string, wp workerPaths, out *Outcome) error {
	dir := wp.workDir
	if dir == "" {
		if err := s.sandbox.EnsureLayout(); err != nil {
			return err
		}
		dir = s.sandbox.Workspace()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return diag.New(diag.KindExec, diag.SourceSpan{},
			"Failed to create working directory '%s': %v", dir, err).WithCause(err)
	}

	exitCode, stdout, stderr, err := s.runner.Run(ctx, CommandSpec{
		Op:      op,
		Command: command,
		Dir:     dir,
	})
	out.ExitCode = exitCode
	out.Stdout = stdout
	out.Stderr = stderr
	if err != nil {
		if exitCode > 0 {
			return diag.New(diag.KindExec, diag.SourceSpan{},
				"Command failed with exit code %d", exitCode).WithCause(err)
		}
		return diag.New(diag.KindExec, diag.SourceSpan{},
			"Failed to execute '%s': %v", ShellName(op), err).WithCause(err)
	}
	return nil
}
