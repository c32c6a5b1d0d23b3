// Package runtime owns the loaded definition registries and runs tasks
// through agent pools. A State is the live interpreter: load files into it,
// then ask it to run a task as an agent. All mutation is atomic per file;
// a failed load leaves the registries exactly as they were.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/psyker-lang/psyker/pkg/lang"
	"github.com/psyker-lang/psyker/pkg/sandbox"
)

// State holds the three definition registries plus the per-agent round-robin
// cursors. Names are global within a registry; loading a definition with an
// existing name replaces it, and replacement never resets a cursor.
type State struct {
	mu      sync.RWMutex
	workers map[string]*lang.WorkerDef
	agents  map[string]*lang.AgentDef
	tasks   map[string]*lang.TaskDef

	// paths caches each worker's sandbox/cwd declarations resolved against
	// the sandbox root at load time, so a bad declaration fails the load
	// instead of the first run.
	paths   map[string]workerPaths
	cursors map[string]int

	sandbox *sandbox.Sandbox
	logger  *zap.Logger
	runner  CommandRunner
}

type workerPaths struct {
	sandboxDir string
	workDir    string
}

// Option configures a State at construction time.
type Option func(*State)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *State) { s.logger = logger }
}

// WithRunner replaces the subprocess runner. Tests use this to observe exec
// statements without spawning shells.
func WithRunner(runner CommandRunner) Option {
	return func(s *State) { s.runner = runner }
}

// NewState returns an empty interpreter bound to the given sandbox.
func NewState(sb *sandbox.Sandbox, opts ...Option) *State {
	s := &State{
		workers: make(map[string]*lang.WorkerDef),
		agents:  make(map[string]*lang.AgentDef),
		tasks:   make(map[string]*lang.TaskDef),
		paths:   make(map[string]workerPaths),
		cursors: make(map[string]int),
		sandbox: sb,
		logger:  zap.NewNop(),
		runner:  execRunner{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sandbox returns the sandbox this state executes inside.
func (s *State) Sandbox() *sandbox.Sandbox {
	return s.sandbox
}

// LoadFile reads, parses, validates, and registers every definition in the
// file. The stages run in that order and the registries are written only
// after all of them pass, so a failed load is a no-op. A task file registers
// each of its tasks; within one file the last task of a given name wins, the
// same way a later file replaces an earlier one.
func (s *State) LoadFile(path string) (lang.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	doc, err := lang.Parse(path, string(data))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := lang.Validate(doc, registrySnapshot{workers: s.workers}); err != nil {
		return nil, err
	}
	switch d := doc.(type) {
	case *lang.TaskDocument:
		for _, task := range d.Tasks {
			s.tasks[task.Name] = task
		}
		s.logger.Debug("tasks loaded",
			zap.String("path", path),
			zap.Int("count", len(d.Tasks)))
	case *lang.WorkerDocument:
		wp, err := s.resolveWorkerPaths(d.Worker)
		if err != nil {
			return nil, err
		}
		s.workers[d.Worker.Name] = d.Worker
		s.paths[d.Worker.Name] = wp
		s.logger.Debug("worker loaded",
			zap.String("path", path),
			zap.String("worker", d.Worker.Name))
	case *lang.AgentDocument:
		s.agents[d.Agent.Name] = d.Agent
		s.logger.Debug("agent loaded",
			zap.String("path", path),
			zap.String("agent", d.Agent.Name),
			zap.Int("pool_size", d.Agent.PoolSize()))
	}
	return doc, nil
}

// resolveWorkerPaths anchors a worker's sandbox/cwd declarations under the
// sandbox root. Escaping declarations are rejected here, at load time.
func (s *State) resolveWorkerPaths(w *lang.WorkerDef) (workerPaths, error) {
	var wp workerPaths
	if w.Sandbox != "" {
		resolved, err := s.sandbox.ResolveUnderRoot(w.Sandbox)
		if err != nil {
			return workerPaths{}, err
		}
		wp.sandboxDir = resolved
	}
	if w.Cwd != "" {
		resolved, err := s.sandbox.ResolveUnderRoot(w.Cwd)
		if err != nil {
			return workerPaths{}, err
		}
		wp.workDir = resolved
	}
	return wp, nil
}

// extensionRank orders directory loads so definitions land before their
// referents: workers, then agents, then tasks.
var extensionRank = map[string]int{".psyw": 0, ".psya": 1, ".psy": 2}

// LoadDir loads every PSYKER file directly inside dir (not recursively),
// workers first, then agents, then tasks, each group in case-insensitive
// name order. Files with other extensions are ignored. Loading stops at the
// first failure; the returned slice names the files loaded before it.
func (s *State) LoadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("Directory not found: %s", dir)
	}

	type candidate struct {
		name string
		rank int
	}
	var files []candidate
	for _, entry := range entries {
		rank, ok := extensionRank[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, entry.Name()))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, candidate{name: entry.Name(), rank: rank})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].rank != files[j].rank {
			return files[i].rank < files[j].rank
		}
		return strings.ToLower(files[i].name) < strings.ToLower(files[j].name)
	})

	var loaded []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if _, err := s.LoadFile(path); err != nil {
			return loaded, err
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

// Tasks returns the loaded task definitions sorted by name.
func (s *State) Tasks() []*lang.TaskDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*lang.TaskDef, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Workers returns the loaded worker definitions sorted by name.
func (s *State) Workers() []*lang.WorkerDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*lang.WorkerDef, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Agents returns the loaded agent definitions sorted by name.
func (s *State) Agents() []*lang.AgentDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*lang.AgentDef, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Task looks up one task definition by name.
func (s *State) Task(name string) (*lang.TaskDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[name]
	return t, ok
}

// Worker looks up one worker definition by name.
func (s *State) Worker(name string) (*lang.WorkerDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[name]
	return w, ok
}

// Agent looks up one agent definition by name.
func (s *State) Agent(name string) (*lang.AgentDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[name]
	return a, ok
}

// registrySnapshot adapts the live worker registry to the validator's
// read-only view. It is only constructed under the state lock.
type registrySnapshot struct {
	workers map[string]*lang.WorkerDef
}

func (r registrySnapshot) HasWorker(name string) bool {
	_, ok := r.workers[name]
	return ok
}
