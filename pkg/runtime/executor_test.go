package runtime

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyker-lang/psyker/pkg/diag"
)

// stubRunner records exec statements instead of spawning shells.
type stubRunner struct {
	calls  []CommandSpec
	exit   int
	stdout string
	stderr string
	err    error
}

func (r *stubRunner) Run(_ context.Context, spec CommandSpec) (int, string, string, error) {
	r.calls = append(r.calls, spec)
	return r.exit, r.stdout, r.stderr, r.err
}

// loadBasics registers a fully-granted worker w1 and an agent alpha with a
// single-instance pool.
func loadBasics(t *testing.T, s *State) {
	t.Helper()
	loadSource(t, s, "w1.psyw", `
worker w1 {
    allow fs.open;
    allow fs.create;
    allow exec.cmd;
    allow exec.ps;
}
`)
	loadSource(t, s, "alpha.psya", `
agent alpha {
    use worker w1 count = 1;
}
`)
}

// assertSameDir compares two existing directory paths after resolving
// symlinks, so assertions hold when the temp dir sits behind a symlink.
func assertSameDir(t *testing.T, want, got string) {
	t.Helper()
	w, err := filepath.EvalSymlinks(want)
	require.NoError(t, err)
	g, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, w, g)
}

func TestRun_CreateThenOpen(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    fs.create "in.txt";
    fs.open "in.txt";
}
`)

	result, err := s.Run(context.Background(), "alpha", "build")
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "alpha", result.Agent)
	assert.Equal(t, "w1", result.Worker)
	assert.Equal(t, 0, result.Ordinal)
	assert.Equal(t, "build", result.Task)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "fs.create", result.Outcomes[0].Op)
	assert.Equal(t, "fs.open", result.Outcomes[1].Op)

	_, statErr := os.Stat(filepath.Join(s.Sandbox().Workspace(), "in.txt"))
	assert.NoError(t, statErr)
}

func TestRun_FsOpenAppendsContentsToStdout(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "read.psy", `
@access { agents: [alpha], workers: [w1] }
task read {
    fs.open "data.txt";
}
`)
	require.NoError(t, s.Sandbox().EnsureLayout())
	require.NoError(t, os.WriteFile(
		filepath.Join(s.Sandbox().Workspace(), "data.txt"),
		[]byte("hello from the workspace\n"), 0o644))

	result, err := s.Run(context.Background(), "alpha", "read")
	require.NoError(t, err)
	assert.Equal(t, "hello from the workspace\n", result.Stdout)
}

func TestRun_FsOpenMissingFile(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "read.psy", `
@access { agents: [alpha], workers: [w1] }
task read {
    fs.open "absent.txt";
}
`)

	result, err := s.Run(context.Background(), "alpha", "read")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "File not found:")
	assert.Equal(t, diag.KindExec, diag.KindOf(err))
	assert.Equal(t, 5, diag.ExitCode(err))

	require.Len(t, result.Outcomes, 1)
	assert.NotEmpty(t, result.Outcomes[0].Err)
}

func TestRun_FsCreateIsIdempotent(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "touch.psy", `
@access { agents: [alpha], workers: [w1] }
task touch {
    fs.create "keep.txt";
}
`)
	require.NoError(t, s.Sandbox().EnsureLayout())
	target := filepath.Join(s.Sandbox().Workspace(), "keep.txt")
	require.NoError(t, os.WriteFile(target, []byte("existing content"), 0o644))

	_, err := s.Run(context.Background(), "alpha", "touch")
	require.NoError(t, err)

	data, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	assert.Equal(t, "existing content", string(data))
}

func TestRun_FsCreateMakesParentDirectories(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "deep.psy", `
@access { agents: [alpha], workers: [w1] }
task deep {
    fs.create "reports/2026/summary.txt";
}
`)

	_, err := s.Run(context.Background(), "alpha", "deep")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(s.Sandbox().Workspace(), "reports", "2026", "summary.txt"))
	assert.NoError(t, statErr)
}

func TestRun_FsCreateOverDirectory(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "clash.psy", `
@access { agents: [alpha], workers: [w1] }
task clash {
    fs.create "sub";
}
`)
	require.NoError(t, s.Sandbox().EnsureLayout())
	require.NoError(t, os.MkdirAll(filepath.Join(s.Sandbox().Workspace(), "sub"), 0o755))

	_, err := s.Run(context.Background(), "alpha", "clash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is a directory")
	assert.Equal(t, diag.KindExec, diag.KindOf(err))
}

func TestRun_SandboxEscapeIsBlocked(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "escape.psy", `
@access { agents: [alpha], workers: [w1] }
task escape {
    fs.create "../../escape.txt";
}
`)

	result, err := s.Run(context.Background(), "alpha", "escape")
	require.Error(t, err)
	assert.Equal(t, diag.KindSandbox, diag.KindOf(err))
	assert.Equal(t, 4, diag.ExitCode(err))
	require.Len(t, result.Outcomes, 1)
	assert.Contains(t, result.Outcomes[0].Err, "outside sandbox root")
}

func TestRun_UnknownTaskAndAgent(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    fs.create "a.txt";
}
`)

	_, err := s.Run(context.Background(), "alpha", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown task 'ghost'")
	assert.Equal(t, diag.KindReference, diag.KindOf(err))

	_, err = s.Run(context.Background(), "ghost", "build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown agent 'ghost'")
	assert.Equal(t, 1, diag.ExitCode(err))
}

func TestRun_EmptyPool(t *testing.T) {
	s := newTestState(t)
	loadSource(t, s, "hollow.psya", `agent hollow { }`)
	loadSource(t, s, "build.psy", `
@access { agents: [hollow] }
task build {
    fs.create "a.txt";
}
`)

	_, err := s.Run(context.Background(), "hollow", "build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Agent 'hollow' has an empty worker pool")
	assert.Equal(t, diag.KindReference, diag.KindOf(err))
}

func TestRun_RoundRobinAcrossPool(t *testing.T) {
	s := newTestState(t)
	loadSource(t, s, "w1.psyw", `worker w1 { allow fs.create; }`)
	loadSource(t, s, "w2.psyw", `worker w2 { allow fs.create; }`)
	loadSource(t, s, "alpha.psya", `
agent alpha {
    use worker w1 count = 2;
    use worker w2 count = 1;
}
`)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1, w2] }
task build {
    fs.create "a.txt";
}
`)

	expected := []struct {
		worker  string
		ordinal int
	}{
		{"w1", 0},
		{"w1", 1},
		{"w2", 2},
		{"w1", 0},
	}
	for i, want := range expected {
		result, err := s.Run(context.Background(), "alpha", "build")
		require.NoError(t, err, "run %d", i)
		assert.Equal(t, want.worker, result.Worker, "run %d", i)
		assert.Equal(t, want.ordinal, result.Ordinal, "run %d", i)
	}
}

func TestRun_CursorSurvivesAgentReplacement(t *testing.T) {
	s := newTestState(t)
	loadSource(t, s, "w1.psyw", `worker w1 { allow fs.create; }`)
	agentSrc := `
agent alpha {
    use worker w1 count = 3;
}
`
	loadSource(t, s, "alpha.psya", agentSrc)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    fs.create "a.txt";
}
`)

	first, err := s.Run(context.Background(), "alpha", "build")
	require.NoError(t, err)
	assert.Equal(t, 0, first.Ordinal)

	loadSource(t, s, "alpha.psya", agentSrc)

	second, err := s.Run(context.Background(), "alpha", "build")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Ordinal)
}

func TestRun_AccessDenials(t *testing.T) {
	testCases := []struct {
		name    string
		task    string
		message string
	}{
		{
			name: "no access block denies by default",
			task: `
task build {
    fs.create "a.txt";
}
`,
			message: "Task 'build' does not grant access to agent 'alpha'",
		},
		{
			name: "agent not listed",
			task: `
@access { agents: [other], workers: [w1] }
task build {
    fs.create "a.txt";
}
`,
			message: "Task 'build' does not grant access to agent 'alpha'",
		},
		{
			name: "worker not listed",
			task: `
@access { agents: [alpha], workers: [other] }
task build {
    fs.create "a.txt";
}
`,
			message: "Task 'build' does not grant access to worker 'w1'",
		},
		{
			name: "empty agents field denies every agent",
			task: `
@access { agents: [] }
task build {
    fs.create "a.txt";
}
`,
			message: "Task 'build' does not grant access to agent 'alpha'",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestState(t)
			loadBasics(t, s)
			loadSource(t, s, "build.psy", tc.task)

			result, err := s.Run(context.Background(), "alpha", "build")
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Contains(t, err.Error(), tc.message)
			assert.Equal(t, diag.KindAccess, diag.KindOf(err))
			assert.Equal(t, 3, diag.ExitCode(err))
		})
	}
}

func TestRun_AbsentAccessFieldConstrainsNothing(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha] }
task build {
    fs.create "a.txt";
}
`)

	_, err := s.Run(context.Background(), "alpha", "build")
	assert.NoError(t, err)
}

func TestRun_CapabilityDeniedBeforeSideEffects(t *testing.T) {
	s := newTestState(t)
	loadSource(t, s, "w1.psyw", `worker w1 { allow fs.open; }`)
	loadSource(t, s, "alpha.psya", `
agent alpha {
    use worker w1 count = 1;
}
`)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    fs.create "never.txt";
}
`)

	result, err := s.Run(context.Background(), "alpha", "build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Worker 'w1' is not allowed to run fs.create 'never.txt'")
	assert.Contains(t, err.Error(), "Add 'allow fs.create ...;' to the worker.")
	assert.Equal(t, diag.KindPermission, diag.KindOf(err))
	assert.Equal(t, 3, diag.ExitCode(err))

	assert.Empty(t, result.Outcomes)
	_, statErr := os.Stat(filepath.Join(s.Sandbox().Workspace(), "never.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_GrantArgumentMustMatchExactly(t *testing.T) {
	s := newTestState(t)
	loadSource(t, s, "w1.psyw", `
worker w1 {
    allow fs.create "a.txt";
}
`)
	loadSource(t, s, "alpha.psya", `
agent alpha {
    use worker w1 count = 1;
}
`)
	loadSource(t, s, "tasks.psy", `
@access { agents: [alpha], workers: [w1] }
task allowed {
    fs.create "a.txt";
}

@access { agents: [alpha], workers: [w1] }
task denied {
    fs.create "b.txt";
}
`)

	_, err := s.Run(context.Background(), "alpha", "allowed")
	assert.NoError(t, err)

	_, err = s.Run(context.Background(), "alpha", "denied")
	require.Error(t, err)
	assert.Equal(t, diag.KindPermission, diag.KindOf(err))
}

func TestRun_ExecGoesThroughRunnerInWorkspace(t *testing.T) {
	runner := &stubRunner{stdout: "out\n"}
	s := newTestState(t, WithRunner(runner))
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    exec.cmd "echo out";
}
`)

	result, err := s.Run(context.Background(), "alpha", "build")
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "exec.cmd", string(call.Op))
	assert.Equal(t, "echo out", call.Command)
	assertSameDir(t, s.Sandbox().Workspace(), call.Dir)

	info, statErr := os.Stat(call.Dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
	assert.Equal(t, "out\n", result.Stdout)
}

func TestRun_ExecUsesWorkerCwd(t *testing.T) {
	runner := &stubRunner{}
	s := newTestState(t, WithRunner(runner))
	loadSource(t, s, "w1.psyw", `
worker w1 {
    cwd "jobs/build";
    allow exec.cmd;
}
`)
	loadSource(t, s, "alpha.psya", `
agent alpha {
    use worker w1 count = 1;
}
`)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    exec.cmd "make";
}
`)

	_, err := s.Run(context.Background(), "alpha", "build")
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	wantDir := filepath.Join(s.Sandbox().Root(), "jobs", "build")
	assertSameDir(t, wantDir, runner.calls[0].Dir)

	info, statErr := os.Stat(runner.calls[0].Dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestRun_ExecFailureReturnsPartialResult(t *testing.T) {
	runner := &stubRunner{exit: 2, stderr: "boom\n", err: errors.New("exit status 2")}
	s := newTestState(t, WithRunner(runner))
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    fs.create "ok.txt";
    exec.cmd "false";
    fs.create "unreached.txt";
}
`)

	result, err := s.Run(context.Background(), "alpha", "build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Command failed with exit code 2")
	assert.Equal(t, 5, diag.ExitCode(err))

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, 2, result.Outcomes[1].ExitCode)
	assert.Equal(t, "boom\n", result.Outcomes[1].Stderr)
	assert.Equal(t, "boom\n", result.Stderr)

	_, statErr := os.Stat(filepath.Join(s.Sandbox().Workspace(), "ok.txt"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(s.Sandbox().Workspace(), "unreached.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_ExecStartFailure(t *testing.T) {
	runner := &stubRunner{exit: -1, err: errors.New("executable file not found")}
	s := newTestState(t, WithRunner(runner))
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    exec.ps "Get-Date";
}
`)

	_, err := s.Run(context.Background(), "alpha", "build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to execute '")
	assert.Equal(t, diag.KindExec, diag.KindOf(err))
}

func TestRun_RealShellEcho(t *testing.T) {
	if goruntime.GOOS == "windows" {
		t.Skip("POSIX shell expectations")
	}
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    exec.cmd "echo hello";
}
`)

	result, err := s.Run(context.Background(), "alpha", "build")
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, 0, result.Outcomes[0].ExitCode)
	assert.Contains(t, result.Stdout, "hello")
}

func TestRun_RealShellNonZeroExit(t *testing.T) {
	if goruntime.GOOS == "windows" {
		t.Skip("POSIX shell expectations")
	}
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    exec.cmd "exit 7";
}
`)

	result, err := s.Run(context.Background(), "alpha", "build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Command failed with exit code 7")
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, 7, result.Outcomes[0].ExitCode)
}

func TestRun_RealPowerShellEcho(t *testing.T) {
	shell := "pwsh"
	if goruntime.GOOS == "windows" {
		shell = "powershell"
	}
	if _, err := exec.LookPath(shell); err != nil {
		t.Skipf("%s not installed", shell)
	}
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    exec.ps "Write-Output hello-ps";
}
`)

	result, err := s.Run(context.Background(), "alpha", "build")
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, 0, result.Outcomes[0].ExitCode)
	assert.Contains(t, result.Stdout, "hello-ps")
}

func TestRun_CancelledContext(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    fs.create "never.txt";
}
`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.Run(ctx, "alpha", "build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task cancelled by user")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 130, diag.ExitCode(err))

	require.NotNil(t, result)
	assert.Empty(t, result.Outcomes)
	_, statErr := os.Stat(filepath.Join(s.Sandbox().Workspace(), "never.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_AuditLogRecordsEachStatement(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "build.psy", `
@access { agents: [alpha], workers: [w1] }
task build {
    fs.create "in.txt";
    fs.open "in.txt";
}
`)

	_, err := s.Run(context.Background(), "alpha", "build")
	require.NoError(t, err)

	data, readErr := os.ReadFile(s.Sandbox().LogFile())
	require.NoError(t, readErr)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	assert.Contains(t, lines[0], "agent=alpha")
	assert.Contains(t, lines[0], "worker=w1")
	assert.Contains(t, lines[0], "op=fs.create")
	assert.Contains(t, lines[0], "detail=in.txt")
	assert.Contains(t, lines[0], "status=ok")
	assert.Contains(t, lines[1], "op=fs.open")
}

func TestRun_AuditLogRecordsFailures(t *testing.T) {
	s := newTestState(t)
	loadBasics(t, s)
	loadSource(t, s, "read.psy", `
@access { agents: [alpha], workers: [w1] }
task read {
    fs.open "absent.txt";
}
`)

	_, err := s.Run(context.Background(), "alpha", "read")
	require.Error(t, err)

	data, readErr := os.ReadFile(s.Sandbox().LogFile())
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "op=fs.open")
	assert.Contains(t, string(data), "status=error")
}
