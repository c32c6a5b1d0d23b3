// Package lang implements the PSYKER language front-end: the lexer, the
// three dialect parsers, and semantic validation. Dialects are selected by
// file extension only (.psy tasks, .psya agents, .psyw workers), never by
// content sniffing, and each parser recognizes only its own reserved words;
// a reserved word of a different dialect is a DialectError at that token.
package lang

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/psyker-lang/psyker/pkg/diag"
)

// Dialect identifies one of the three sub-languages.
type Dialect string

const (
	DialectTask   Dialect = "task"
	DialectWorker Dialect = "worker"
	DialectAgent  Dialect = "agent"
)

var dialectByExt = map[string]Dialect{
	".psy":  DialectTask,
	".psyw": DialectWorker,
	".psya": DialectAgent,
}

// DialectForPath selects the dialect from the file extension. Any other
// extension is a DialectError, raised before any lexing.
func DialectForPath(path string) (Dialect, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if dialect, ok := dialectByExt[ext]; ok {
		return dialect, nil
	}
	return "", diag.New(diag.KindDialect, diag.SourceSpan{File: path, Line: 1, Column: 1},
		"Unsupported file extension '%s'", filepath.Ext(path)).
		WithHint("Use .psy, .psyw, or .psya.")
}

// Parse lexes and parses src as the dialect selected by file's extension.
func Parse(file, src string) (Document, error) {
	dialect, err := DialectForPath(file)
	if err != nil {
		return nil, err
	}
	tokens, err := Lex(src, file)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, file: file}
	switch dialect {
	case DialectTask:
		return p.parseTaskFile()
	case DialectWorker:
		return p.parseWorkerFile()
	default:
		return p.parseAgentFile()
	}
}

// Reserved-word sets used for cross-dialect rejection. The four operation
// keywords belong to both the task dialect (statements) and the worker
// dialect (capability names after allow).
var (
	opWords = map[string]string{
		"fs.open": ".psy", "fs.create": ".psy", "exec.ps": ".psy", "exec.cmd": ".psy",
	}
	taskWords   = map[string]string{"task": ".psy", "@access": ".psy", "agents": ".psy", "workers": ".psy"}
	workerWords = map[string]string{"worker": ".psyw", "allow": ".psyw", "sandbox": ".psyw", "cwd": ".psyw"}
	agentWords  = map[string]string{"agent": ".psya", "use": ".psya", "count": ".psya"}

	// Words forbidden at statement positions, per hosting dialect.
	taskForbidden   = union(workerWords, agentWords)
	workerForbidden = union(taskWords, opWords, agentWords)
	agentForbidden  = union(taskWords, opWords, workerWords)
)

func union(sets ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, set := range sets {
		for word, home := range set {
			out[word] = home
		}
	}
	return out
}

type parser struct {
	tokens []Token
	file   string
	index  int
}

func (p *parser) parseTaskFile() (*TaskDocument, error) {
	var tasks []*TaskDef
	for !p.atEnd() {
		if err := p.rejectCrossDialect(taskForbidden, "task files (.psy)"); err != nil {
			return nil, err
		}
		task, err := p.parseTaskDef()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil, diag.New(diag.KindDialect, p.span(p.peek()), "Task file contains no 'task' definition").
			WithHint("Define at least one 'task <name> { ... }' block.")
	}
	return &TaskDocument{Tasks: tasks}, nil
}

func (p *parser) parseWorkerFile() (*WorkerDocument, error) {
	if err := p.rejectCrossDialect(workerForbidden, "worker files (.psyw)"); err != nil {
		return nil, err
	}
	if !p.peek().Is(TokenKeyword, "worker") {
		return nil, diag.New(diag.KindDialect, p.span(p.peek()), "Missing 'worker' definition header").
			WithHint("Begin .psyw files with 'worker <name> { ... }'.")
	}
	worker, err := p.parseWorkerDef()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return &WorkerDocument{Worker: worker}, nil
}

func (p *parser) parseAgentFile() (*AgentDocument, error) {
	if err := p.rejectCrossDialect(agentForbidden, "agent files (.psya)"); err != nil {
		return nil, err
	}
	if !p.peek().Is(TokenKeyword, "agent") {
		return nil, diag.New(diag.KindDialect, p.span(p.peek()), "Missing 'agent' definition header").
			WithHint("Begin .psya files with 'agent <name> { ... }'.")
	}
	agent, err := p.parseAgentDef()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return &AgentDocument{Agent: agent}, nil
}

func (p *parser) parseTaskDef() (*TaskDef, error) {
	var access *AccessBlock
	if tok := p.peek(); tok.Type == TokenAtAccess {
		p.advance()
		block, err := p.parseAccessBlock(tok)
		if err != nil {
			return nil, err
		}
		access = block
	}
	if _, err := p.expectKeyword("task"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	var statements []Statement
	for !p.matchSymbol("}") {
		if err := p.rejectCrossDialect(taskForbidden, "task files (.psy)"); err != nil {
			return nil, err
		}
		stmt, err := p.parseTaskStmt()
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	return &TaskDef{Name: name.Value, Access: access, Statements: statements, Span: p.span(name)}, nil
}

func (p *parser) parseAccessBlock(at Token) (*AccessBlock, error) {
	if _, err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	block := &AccessBlock{Span: p.span(at)}
	if !p.peek().Is(TokenSymbol, "}") {
		first, values, err := p.parseAccessField()
		if err != nil {
			return nil, err
		}
		block.set(first.Value, values)
		if p.matchSymbol(",") {
			second, values, err := p.parseAccessField()
			if err != nil {
				return nil, err
			}
			if second.Value == first.Value {
				return nil, diag.New(diag.KindSyntax, p.span(second), "Duplicate access field '%s'", second.Value).
					WithHint("Provide each access field once.")
			}
			block.set(second.Value, values)
		}
	}
	if _, err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	return block, nil
}

func (p *parser) parseAccessField() (Token, []string, error) {
	field, err := p.expectKeywordAny("agents", "workers")
	if err != nil {
		return Token{}, nil, err
	}
	if _, err := p.expectSymbol(":"); err != nil {
		return Token{}, nil, err
	}
	values, err := p.parseIdentList()
	if err != nil {
		return Token{}, nil, err
	}
	return field, values, nil
}

// set stores a parsed access field. Parsed fields are always non-nil, even
// when empty; unwritten fields stay nil. The distinction is semantic: nil
// constrains nothing, empty denies everyone in the category.
func (b *AccessBlock) set(field string, values []string) {
	if field == "agents" {
		b.Agents = values
	} else {
		b.Workers = values
	}
}

func (p *parser) parseIdentList() ([]string, error) {
	if _, err := p.expectSymbol("["); err != nil {
		return nil, err
	}
	items := []string{}
	if !p.peek().Is(TokenSymbol, "]") {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		items = append(items, name.Value)
		for p.matchSymbol(",") {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			items = append(items, name.Value)
		}
	}
	if _, err := p.expectSymbol("]"); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *parser) parseTaskStmt() (Statement, error) {
	op, err := p.expectOp()
	if err != nil {
		return Statement{}, err
	}
	arg, err := p.expectPathOrString()
	if err != nil {
		return Statement{}, err
	}
	if _, err := p.expectSymbol(";"); err != nil {
		return Statement{}, err
	}
	return Statement{Op: Op(op.Value), Arg: arg.Unquote(), Span: p.span(op)}, nil
}

func (p *parser) parseWorkerDef() (*WorkerDef, error) {
	if _, err := p.expectKeyword("worker"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	worker := &WorkerDef{Name: name.Value, Span: p.span(name)}
	for !p.matchSymbol("}") {
		tok := p.peek()
		if home, foreign := workerForbidden[tok.Value]; foreign {
			return nil, diag.New(diag.KindDialect, p.span(tok), "'%s' is not allowed in worker files (.psyw)", tok.Value).
				WithHint(foreignHint(tok.Value, home))
		}
		switch {
		case p.matchKeyword("sandbox"):
			path, err := p.expectPathOrString()
			if err != nil {
				return nil, err
			}
			worker.Sandbox = path.Unquote()
			if _, err := p.expectSymbol(";"); err != nil {
				return nil, err
			}
		case p.matchKeyword("cwd"):
			path, err := p.expectPathOrString()
			if err != nil {
				return nil, err
			}
			worker.Cwd = path.Unquote()
			if _, err := p.expectSymbol(";"); err != nil {
				return nil, err
			}
		case p.matchKeyword("allow"):
			grant, err := p.parseGrant()
			if err != nil {
				return nil, err
			}
			worker.Allows = append(worker.Allows, grant)
		default:
			return nil, diag.New(diag.KindSyntax, p.span(tok), "Unexpected token '%s' in worker definition", tok.Value).
				WithHint("Expected sandbox, cwd, or allow statement.")
		}
	}
	return worker, nil
}

func (p *parser) parseGrant() (Grant, error) {
	capTok, err := p.expectCapability()
	if err != nil {
		return Grant{}, err
	}
	grant := Grant{Capability: Op(capTok.Value), Span: p.span(capTok)}
	if tok := p.peek(); tok.Type == TokenPath || tok.Type == TokenString || tok.Type == TokenIdent {
		p.advance()
		grant.Arg = tok.Unquote()
	}
	if _, err := p.expectSymbol(";"); err != nil {
		return Grant{}, err
	}
	return grant, nil
}

func (p *parser) parseAgentDef() (*AgentDef, error) {
	if _, err := p.expectKeyword("agent"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	agent := &AgentDef{Name: name.Value, Span: p.span(name)}
	for !p.matchSymbol("}") {
		tok := p.peek()
		if home, foreign := agentForbidden[tok.Value]; foreign {
			return nil, diag.New(diag.KindDialect, p.span(tok), "'%s' is not allowed in agent files (.psya)", tok.Value).
				WithHint(foreignHint(tok.Value, home))
		}
		if _, err := p.expectKeyword("use"); err != nil {
			return nil, err
		}
		if _, err := p.expectKeyword("worker"); err != nil {
			return nil, err
		}
		workerName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKeyword("count"); err != nil {
			return nil, err
		}
		if _, err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		countTok, err := p.expectKind(TokenInt)
		if err != nil {
			return nil, err
		}
		count, err := strconv.Atoi(countTok.Value)
		if err != nil {
			return nil, diag.New(diag.KindSyntax, p.span(countTok), "Worker count '%s' is out of range", countTok.Value).
				WithHint("Use a smaller count.")
		}
		if _, err := p.expectSymbol(";"); err != nil {
			return nil, err
		}
		agent.Uses = append(agent.Uses, Use{Worker: workerName.Value, Count: count, Span: p.span(workerName)})
	}
	return agent, nil
}

// peek returns the next non-comment token without consuming it. Comment
// tokens are consumed permanently on the way.
func (p *parser) peek() Token {
	for p.tokens[p.index].Type == TokenComment {
		p.index++
	}
	return p.tokens[p.index]
}

func (p *parser) advance() Token {
	tok := p.peek()
	p.index++
	return tok
}

func (p *parser) atEnd() bool {
	return p.peek().Type == TokenEOF
}

func (p *parser) matchSymbol(value string) bool {
	if p.peek().Is(TokenSymbol, value) {
		p.index++
		return true
	}
	return false
}

func (p *parser) matchKeyword(value string) bool {
	if p.peek().Is(TokenKeyword, value) {
		p.index++
		return true
	}
	return false
}

func (p *parser) expectKind(kind TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != kind {
		return Token{}, diag.New(diag.KindSyntax, p.span(tok), "Expected token kind '%s', got '%s'", kind, tok.Type).
			WithHint("Check statement syntax.")
	}
	p.index++
	return tok, nil
}

func (p *parser) expectEOF() error {
	_, err := p.expectKind(TokenEOF)
	return err
}

func (p *parser) expectSymbol(value string) (Token, error) {
	tok := p.peek()
	if !tok.Is(TokenSymbol, value) {
		return Token{}, diag.New(diag.KindSyntax, p.span(tok), "Expected '%s', got '%s'", value, tok.Value).
			WithHint("Check punctuation and delimiters.")
	}
	p.index++
	return tok, nil
}

func (p *parser) expectIdent() (Token, error) {
	tok := p.peek()
	if tok.Type != TokenIdent {
		return Token{}, diag.New(diag.KindSyntax, p.span(tok), "Expected identifier, got '%s'", tok.Value).
			WithHint("Use an identifier name.")
	}
	p.index++
	return tok, nil
}

func (p *parser) expectKeyword(value string) (Token, error) {
	tok := p.peek()
	if !tok.Is(TokenKeyword, value) {
		return Token{}, diag.New(diag.KindSyntax, p.span(tok), "Expected keyword '%s', got '%s'", value, tok.Value).
			WithHint("Check dialect grammar.")
	}
	p.index++
	return tok, nil
}

func (p *parser) expectKeywordAny(values ...string) (Token, error) {
	tok := p.peek()
	if tok.Type == TokenKeyword {
		for _, value := range values {
			if tok.Value == value {
				p.index++
				return tok, nil
			}
		}
	}
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return Token{}, diag.New(diag.KindSyntax, p.span(tok), "Expected one of: %s. Got '%s'.", strings.Join(sorted, ", "), tok.Value).
		WithHint("Check the allowed statement keyword.")
}

// expectOp requires one of the four operation keywords at a task statement
// position.
func (p *parser) expectOp() (Token, error) {
	return p.expectKeywordAny("exec.cmd", "exec.ps", "fs.create", "fs.open")
}

// expectCapability accepts an operation keyword or any identifier after
// allow; the identifier case covers misspelled capabilities, reported with a
// capability-specific message.
func (p *parser) expectCapability() (Token, error) {
	tok := p.peek()
	if tok.Type == TokenKeyword && dottedKeywords[tok.Value] {
		p.index++
		return tok, nil
	}
	if tok.Type == TokenIdent {
		return Token{}, diag.New(diag.KindSyntax, p.span(tok), "Unknown capability '%s'", tok.Value).
			WithHint("Use fs.open, fs.create, exec.ps, or exec.cmd.")
	}
	return Token{}, diag.New(diag.KindSyntax, p.span(tok), "Expected one of: exec.cmd, exec.ps, fs.create, fs.open. Got '%s'.", tok.Value).
		WithHint("Check the allowed statement keyword.")
}

func (p *parser) expectPathOrString() (Token, error) {
	tok := p.peek()
	if tok.Type != TokenPath && tok.Type != TokenString {
		return Token{}, diag.New(diag.KindSyntax, p.span(tok), "Expected path or string, got '%s'", tok.Value).
			WithHint("Use a bare path or a quoted string.")
	}
	p.index++
	return tok, nil
}

func (p *parser) rejectCrossDialect(forbidden map[string]string, label string) error {
	tok := p.peek()
	if home, ok := forbidden[tok.Value]; ok {
		return diag.New(diag.KindDialect, p.span(tok), "'%s' is not allowed in %s", tok.Value, label).
			WithHint(foreignHint(tok.Value, home))
	}
	return nil
}

func foreignHint(word, home string) string {
	return "'" + word + "' belongs to " + home + " files."
}

func (p *parser) span(tok Token) diag.SourceSpan {
	return diag.SourceSpan{File: p.file, Line: tok.Line, Column: tok.Column}
}
