package lang

import (
	"fmt"

	"github.com/psyker-lang/psyker/pkg/diag"
)

// Op is one of the fixed operation/capability names. The set is closed:
// task statements are drawn from it and worker grants name members of it.
type Op string

const (
	// OpFsOpen reads an existing file inside the sandbox workspace.
	OpFsOpen Op = "fs.open"

	// OpFsCreate creates a file (and parents) inside the sandbox workspace.
	OpFsCreate Op = "fs.create"

	// OpExecPS runs a command through the PowerShell shell.
	OpExecPS Op = "exec.ps"

	// OpExecCmd runs a command through the cmd/POSIX shell.
	OpExecCmd Op = "exec.cmd"
)

// Ops lists every operation in declaration order.
var Ops = []Op{OpFsOpen, OpFsCreate, OpExecPS, OpExecCmd}

// Validate returns an error if the op is not one of the defined values.
func (o Op) Validate() error {
	switch o {
	case OpFsOpen, OpFsCreate, OpExecPS, OpExecCmd:
		return nil
	default:
		return fmt.Errorf("invalid operation: %s", string(o))
	}
}

// IsExec reports whether the op spawns a subprocess.
func (o Op) IsExec() bool {
	return o == OpExecPS || o == OpExecCmd
}

// Statement is one task operation with its decoded operand.
type Statement struct {
	Op   Op              `json:"op"`
	Arg  string          `json:"arg"`
	Span diag.SourceSpan `json:"span"`
}

// AccessBlock is a task's allow-list header. A nil slice means the field was
// not written and constrains nothing in its category; a non-nil empty slice
// means the field was written empty and denies every name in its category.
type AccessBlock struct {
	Agents  []string        `json:"agents"`
	Workers []string        `json:"workers"`
	Span    diag.SourceSpan `json:"span"`
}

// PermitsAgent reports whether the block's agents field admits name.
func (a *AccessBlock) PermitsAgent(name string) bool {
	if a.Agents == nil {
		return true
	}
	return contains(a.Agents, name)
}

// PermitsWorker reports whether the block's workers field admits name.
func (a *AccessBlock) PermitsWorker(name string) bool {
	if a.Workers == nil {
		return true
	}
	return contains(a.Workers, name)
}

// TaskDef is one task block. A nil Access means the task was written without
// an @access header and denies all agents and workers.
type TaskDef struct {
	Name       string          `json:"name"`
	Access     *AccessBlock    `json:"access,omitempty"`
	Statements []Statement     `json:"statements"`
	Span       diag.SourceSpan `json:"span"`
}

// Grant is one worker capability grant. An empty Arg grants the capability
// for any operand; a non-empty Arg restricts it to that exact operand.
type Grant struct {
	Capability Op              `json:"capability"`
	Arg        string          `json:"arg,omitempty"`
	Span       diag.SourceSpan `json:"span"`
}

// WorkerDef is a capability envelope. Sandbox and Cwd are root-relative
// declarations, validated against the sandbox at load time; empty means
// undeclared.
type WorkerDef struct {
	Name    string          `json:"name"`
	Sandbox string          `json:"sandbox,omitempty"`
	Cwd     string          `json:"cwd,omitempty"`
	Allows  []Grant         `json:"allows"`
	Span    diag.SourceSpan `json:"span"`
}

// Permits reports whether the worker granted op for the given operand.
func (w *WorkerDef) Permits(op Op, arg string) bool {
	for _, grant := range w.Allows {
		if grant.Capability != op {
			continue
		}
		if grant.Arg == "" || grant.Arg == arg {
			return true
		}
	}
	return false
}

// Use is one pool declaration inside an agent.
type Use struct {
	Worker string          `json:"worker"`
	Count  int             `json:"count"`
	Span   diag.SourceSpan `json:"span"`
}

// AgentDef is a pool of worker instances.
type AgentDef struct {
	Name string          `json:"name"`
	Uses []Use           `json:"uses"`
	Span diag.SourceSpan `json:"span"`
}

// PoolSize is the number of instances the agent's pool flattens to.
func (a *AgentDef) PoolSize() int {
	total := 0
	for _, use := range a.Uses {
		total += use.Count
	}
	return total
}

// Document is the tagged union over the three AST families. The families are
// deliberately distinct types: cross-dialect misuse is a parse-time error,
// never a runtime check.
type Document interface {
	document()
}

// TaskDocument is the AST of a .psy file: one or more task blocks.
type TaskDocument struct {
	Tasks []*TaskDef `json:"tasks"`
}

// WorkerDocument is the AST of a .psyw file: exactly one worker definition.
type WorkerDocument struct {
	Worker *WorkerDef `json:"worker"`
}

// AgentDocument is the AST of a .psya file: exactly one agent definition.
type AgentDocument struct {
	Agent *AgentDef `json:"agent"`
}

func (*TaskDocument) document()   {}
func (*WorkerDocument) document() {}
func (*AgentDocument) document()  {}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
