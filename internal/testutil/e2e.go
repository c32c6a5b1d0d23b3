//go:build integration
// +build integration

// Package testutil holds helpers for end-to-end CLI tests. The harness
// compiles the psyker binary once per test run and executes it against
// an isolated sandbox root.
package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	buildOnce sync.Once
	buildPath string
	buildErr  error
)

// Env is an isolated E2E test environment: a compiled binary, a sandbox
// root, and a directory for definition files.
type Env struct {
	T       *testing.T
	Binary  string
	Sandbox string
	DefsDir string
}

// SetupEnv compiles the binary (once) and creates per-test directories.
func SetupEnv(t *testing.T) *Env {
	return &Env{
		T:       t,
		Binary:  BuildBinary(t),
		Sandbox: filepath.Join(t.TempDir(), "psyker_sandbox"),
		DefsDir: t.TempDir(),
	}
}

// BuildBinary compiles cmd/psyker into a shared temp location and returns
// the binary path. The build runs once; later calls reuse the result.
func BuildBinary(t *testing.T) string {
	buildOnce.Do(func() {
		root := projectRoot()
		dir, err := os.MkdirTemp("", "psyker-e2e-*")
		if err != nil {
			buildErr = fmt.Errorf("failed to create build dir: %w", err)
			return
		}
		buildPath = filepath.Join(dir, "psyker")
		if runtime.GOOS == "windows" {
			buildPath += ".exe"
		}

		cmd := exec.Command("go", "build", "-o", buildPath, "./cmd/psyker")
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("go build failed: %v\n%s", err, out)
		}
	})
	require.NoError(t, buildErr)
	return buildPath
}

// WriteDef writes one definition file into the environment's defs
// directory and returns its path.
func (e *Env) WriteDef(name, src string) string {
	e.T.Helper()
	path := filepath.Join(e.DefsDir, name)
	require.NoError(e.T, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// Run executes the binary with the environment's sandbox root and returns
// stdout, stderr, and the exit code.
func (e *Env) Run(args ...string) (string, string, int) {
	e.T.Helper()

	cmd := exec.Command(e.Binary, args...)
	cmd.Env = append(os.Environ(),
		"PSYKER_SANDBOX_ROOT="+e.Sandbox,
		"NO_COLOR=1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			require.NoError(e.T, err, "failed to execute %s", e.Binary)
		}
	}
	return stdout.String(), stderr.String(), code
}

// WorkspaceFile returns the path a workspace-relative file resolves to.
func (e *Env) WorkspaceFile(name string) string {
	return filepath.Join(e.Sandbox, "workspace", name)
}

// projectRoot walks up from the working directory until it finds go.mod.
func projectRoot() string {
	root, err := os.Getwd()
	if err != nil {
		return "."
	}

	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			return root
		}
		parent := filepath.Dir(root)
		if parent == root {
			// Reached filesystem root, default to current dir
			return "."
		}
		root = parent
	}
}
