// Package sandbox provides the on-disk root every PSYKER file and process
// operation is confined to. Containment is path discipline, not OS-level
// isolation: every operand is canonicalized (symlinks included) and must
// land under the sandbox root.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/psyker-lang/psyker/pkg/diag"
)

// EnvRoot overrides the default sandbox root location when set.
const EnvRoot = "PSYKER_SANDBOX_ROOT"

// Sandbox is a root directory with the fixed workspace/, logs/ and tmp/
// layout. Directories are created lazily on first use.
type Sandbox struct {
	root string
}

// New returns a sandbox rooted at root. Nothing is created until the first
// operation needs the layout.
func New(root string) *Sandbox {
	return &Sandbox{root: filepath.Clean(root)}
}

// CreateDefault returns a sandbox at the default root with the layout
// already in place.
func CreateDefault() (*Sandbox, error) {
	root, err := DefaultRoot()
	if err != nil {
		return nil, err
	}
	s := New(root)
	if err := s.EnsureLayout(); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultRoot returns the PSYKER_SANDBOX_ROOT environment override or
// ~/psyker_sandbox.
func DefaultRoot() (string, error) {
	if env := os.Getenv(EnvRoot); env != "" {
		return filepath.Abs(expandHome(env))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, "psyker_sandbox"), nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~"+string(os.PathSeparator)) && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

// Workspace is where task file operations and subprocess working
// directories live.
func (s *Sandbox) Workspace() string { return filepath.Join(s.root, "workspace") }

// Logs holds the audit log.
func (s *Sandbox) Logs() string { return filepath.Join(s.root, "logs") }

// Tmp is scratch space inside the root.
func (s *Sandbox) Tmp() string { return filepath.Join(s.root, "tmp") }

// LogFile returns the audit log path.
func (s *Sandbox) LogFile() string { return filepath.Join(s.Logs(), "psyker.log") }

// EnsureLayout creates workspace/, logs/ and tmp/ if missing. Failures are
// I/O errors, not containment violations.
func (s *Sandbox) EnsureLayout() error {
	for _, dir := range []string{s.Workspace(), s.Logs(), s.Tmp()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to create sandbox layout: %v", err).
				WithCause(err)
		}
	}
	return nil
}

// ResolveUnderRoot resolves value against the sandbox root (absolute values
// are taken as-is) and asserts the canonical result stays under the root.
// Used for worker sandbox/cwd declarations.
func (s *Sandbox) ResolveUnderRoot(value string) (string, error) {
	return s.resolve(s.root, value)
}

// ResolveInWorkspace resolves value against workspace/ (absolute values are
// taken as-is) and asserts the canonical result stays under the root, so
// workspace-relative traversal into tmp/ or logs/ is legal while leaving
// the root is not. Used for task statement operands.
func (s *Sandbox) ResolveInWorkspace(value string) (string, error) {
	return s.resolve(s.Workspace(), value)
}

func (s *Sandbox) resolve(base, value string) (string, error) {
	if err := s.EnsureLayout(); err != nil {
		return "", err
	}
	candidate := value
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(base, candidate)
	}
	rootReal, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to resolve sandbox root '%s': %v", s.root, err).
			WithCause(err)
	}
	resolved, err := canonicalize(candidate)
	if err != nil {
		return "", diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to resolve path '%s': %v", value, err).
			WithCause(err)
	}
	if !within(rootReal, resolved) {
		return "", diag.New(diag.KindSandbox, diag.SourceSpan{}, "Path '%s' is outside sandbox root '%s'", resolved, rootReal).
			WithHint("Use a path inside the sandbox.")
	}
	// Re-check the full chain once the target exists; a symlink created
	// after the ancestor walk must not slip through.
	if _, lerr := os.Lstat(resolved); lerr == nil {
		real, rerr := filepath.EvalSymlinks(resolved)
		if rerr == nil && !within(rootReal, real) {
			return "", diag.New(diag.KindSandbox, diag.SourceSpan{}, "Symlink target '%s' escapes sandbox root '%s'", real, rootReal).
				WithHint("Use paths that resolve inside the sandbox root.")
		}
	}
	return resolved, nil
}

// canonicalize resolves symlinks for every existing component of path and
// joins the non-existent remainder lexically, so containment holds for
// paths that are about to be created. Broken symlinks are followed through
// their targets rather than treated as plain names.
func canonicalize(path string) (string, error) {
	probe := filepath.Clean(path)
	remainder := ""
	for depth := 0; depth < 40; depth++ {
		real, err := filepath.EvalSymlinks(probe)
		if err == nil {
			if remainder == "" {
				return real, nil
			}
			return filepath.Clean(filepath.Join(real, remainder)), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if fi, lerr := os.Lstat(probe); lerr == nil && fi.Mode()&os.ModeSymlink != 0 {
			target, rerr := os.Readlink(probe)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(probe), target)
			}
			probe = filepath.Clean(target)
			continue
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return filepath.Clean(filepath.Join(probe, remainder)), nil
		}
		remainder = filepath.Join(filepath.Base(probe), remainder)
		probe = parent
	}
	return "", errors.New("too many levels of symbolic links")
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// Reset removes and recreates workspace/ and tmp/, and logs/ as well when
// clearLogs is set.
func (s *Sandbox) Reset(clearLogs bool) error {
	if err := s.EnsureLayout(); err != nil {
		return err
	}
	dirs := []string{s.Workspace(), s.Tmp()}
	if clearLogs {
		dirs = append(dirs, s.Logs())
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to reset sandbox: %v", err).
				WithCause(err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return diag.New(diag.KindExec, diag.SourceSpan{}, "Failed to reset sandbox: %v", err).
				WithCause(err)
		}
	}
	return nil
}

// Log appends one audit record. Appends are best-effort: an unwritable log
// never fails the operation being recorded.
func (s *Sandbox) Log(agent, worker, op, detail, status string) {
	if err := s.EnsureLayout(); err != nil {
		return
	}
	f, err := os.OpenFile(s.LogFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	ts := time.Now().UTC().Format(time.RFC3339)
	fmt.Fprintf(f, "%s\tagent=%s\tworker=%s\top=%s\tdetail=%s\tstatus=%s\n", ts, agent, worker, op, detail, status)
}
