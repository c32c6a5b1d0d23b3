package runtime

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"github.com/psyker-lang/psyker/pkg/lang"
)

// maxCaptureBytes caps each captured stream per statement. Output past the
// cap is discarded rather than failing the statement.
const maxCaptureBytes = 1 << 20

// CommandSpec is one shell invocation request.
type CommandSpec struct {
	Op      lang.Op
	Command string
	Dir     string
}

// CommandRunner is the subprocess seam. Run returns
// (exitCode, stdout, stderr, err) where exitCode is the process's exit
// status when it started and exited, or -1 when it could not be started or
// was killed by a signal; err is non-nil for anything but a clean zero exit.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (int, string, string, error)
}

// DefaultRunner returns the os/exec-backed runner a State uses unless
// overridden, for hosts that invoke the platform shell outside a task.
func DefaultRunner() CommandRunner {
	return execRunner{}
}

// execRunner is the default CommandRunner, backed by os/exec with the
// platform shell mapping from shellArgs.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, spec CommandSpec) (int, string, string, error) {
	name, args := shellArgs(spec.Op, spec.Command)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = &limitedWriter{w: &stdout, limit: maxCaptureBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxCaptureBytes}
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return -1, "", "", err
	}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), stdout.String(), stderr.String(), err
		}
		return -1, stdout.String(), stderr.String(), err
	}
	return 0, stdout.String(), stderr.String(), nil
}

// ShellName reports the platform shell an exec verb resolves to. Hosts
// that run shell commands outside a task use it in their error messages.
func ShellName(op lang.Op) string {
	name, _ := shellArgs(op, "")
	return name
}

// limitedWriter passes writes through until limit bytes have been written,
// then silently discards the rest. Write never reports an error, so a noisy
// subprocess is capped instead of broken on a pipe failure.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int64
	n     int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.n
	if remaining > 0 {
		chunk := p
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		lw.w.Write(chunk)
	}
	lw.n += int64(len(p))
	return len(p), nil
}
