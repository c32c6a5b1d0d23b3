package lang

import (
	"unicode"
	"unicode/utf8"

	"github.com/psyker-lang/psyker/pkg/diag"
)

var symbols = map[rune]bool{
	'{': true, '}': true, '[': true, ']': true,
	':': true, ',': true, ';': true, '=': true,
}

var keywords = map[string]bool{
	"task": true, "agent": true, "worker": true,
	"allow": true, "use": true, "count": true,
	"sandbox": true, "cwd": true,
	"agents": true, "workers": true,
}

var dottedKeywords = map[string]bool{
	"fs.open": true, "fs.create": true,
	"exec.ps": true, "exec.cmd": true,
}

// Lexer produces the token stream for one document lazily. The sequence is
// finite and non-restartable: once EOF has been returned, the lexer is
// exhausted (re-lex to restart). All three dialects share the same rules.
type Lexer struct {
	src    string
	file   string
	i      int // byte offset
	line   int
	column int
}

// NewLexer returns a lexer over src. file is used only in diagnostics and
// may be empty for non-file-backed sources.
func NewLexer(src, file string) *Lexer {
	return &Lexer{src: src, file: file, line: 1, column: 1}
}

// Lex tokenizes a whole document, ending with a single EOF token.
func Lex(src, file string) ([]Token, error) {
	lx := NewLexer(src, file)
	var tokens []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

// Next returns the next token. After the EOF token has been produced,
// further calls keep returning it.
func (l *Lexer) Next() (Token, error) {
	for l.i < len(l.src) {
		ch := l.peek()
		switch {
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n':
			l.advance()
		case ch == '#':
			return l.lexComment(), nil
		case symbols[ch]:
			tok := l.token(TokenSymbol, string(ch))
			l.advance()
			return tok, nil
		case ch == '"':
			return l.lexString()
		case ch == '@':
			return l.lexDirective()
		case isIdentStart(ch):
			return l.lexWord()
		case unicode.IsDigit(ch):
			return l.lexInt(), nil
		case isPathRune(ch):
			return l.lexPath(), nil
		default:
			return Token{}, diag.New(diag.KindSyntax, l.span(), "Unexpected character '%s'", string(ch)).
				WithHint("Check token spelling and punctuation.")
		}
	}
	return l.token(TokenEOF, ""), nil
}

func (l *Lexer) lexComment() Token {
	tok := l.token(TokenComment, "")
	start := l.i
	for l.i < len(l.src) && l.peek() != '\n' {
		l.advance()
	}
	tok.Value = l.src[start:l.i]
	return tok
}

func (l *Lexer) lexString() (Token, error) {
	tok := l.token(TokenString, "")
	start := l.i
	l.advance() // opening quote
	escaped := false
	for {
		if l.i >= len(l.src) {
			return Token{}, diag.New(diag.KindSyntax, spanOf(tok, l.file), "Unterminated string literal").
				WithHint("Close the string with a double quote.")
		}
		ch := l.peek()
		if ch == '\n' {
			return Token{}, diag.New(diag.KindSyntax, spanOf(tok, l.file), "Newline in string literal").
				WithHint("Strings cannot contain raw newlines.")
		}
		l.advance()
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			break
		}
	}
	tok.Value = l.src[start:l.i]
	return tok, nil
}

func (l *Lexer) lexDirective() (Token, error) {
	tok := l.token(TokenAtAccess, "")
	start := l.i
	l.advance() // '@'
	for l.i < len(l.src) && isIdentPart(l.peek()) {
		l.advance()
	}
	value := l.src[start:l.i]
	if value == "@access" {
		tok.Value = value
		return tok, nil
	}
	return Token{}, diag.New(diag.KindSyntax, spanOf(tok, l.file), "Unknown directive '%s'", value).
		WithHint("Use @access.")
}

// lexWord reads an identifier and promotes it to a keyword when it matches
// one, including the dotted operation keywords when the prefix is fs/exec.
func (l *Lexer) lexWord() (Token, error) {
	tok := l.token(TokenIdent, "")
	start := l.i
	l.advance()
	for l.i < len(l.src) && isIdentPart(l.peek()) {
		l.advance()
	}
	value := l.src[start:l.i]
	if l.i < len(l.src) && l.peek() == '.' && (value == "fs" || value == "exec") {
		l.advance() // '.'
		if l.i >= len(l.src) || !isIdentStart(l.peek()) {
			return Token{}, diag.New(diag.KindSyntax, spanOf(tok, l.file), "Invalid dotted keyword '%s'", l.src[start:l.i]).
				WithHint("Expected operation name after '.'.")
		}
		for l.i < len(l.src) && isIdentPart(l.peek()) {
			l.advance()
		}
		value = l.src[start:l.i]
		if dottedKeywords[value] {
			tok.Type = TokenKeyword
		}
		tok.Value = value
		return tok, nil
	}
	if keywords[value] {
		tok.Type = TokenKeyword
	}
	tok.Value = value
	return tok, nil
}

func (l *Lexer) lexInt() Token {
	tok := l.token(TokenInt, "")
	start := l.i
	l.advance()
	for l.i < len(l.src) && unicode.IsDigit(l.peek()) {
		l.advance()
	}
	tok.Value = l.src[start:l.i]
	return tok
}

func (l *Lexer) lexPath() Token {
	tok := l.token(TokenPath, "")
	start := l.i
	l.advance()
	for l.i < len(l.src) && isPathRune(l.peek()) {
		l.advance()
	}
	tok.Value = l.src[start:l.i]
	return tok
}

func (l *Lexer) peek() rune {
	r, _ := utf8.DecodeRuneInString(l.src[l.i:])
	return r
}

func (l *Lexer) advance() {
	r, size := utf8.DecodeRuneInString(l.src[l.i:])
	l.i += size
	if r == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
}

func (l *Lexer) token(typ TokenType, value string) Token {
	return Token{Type: typ, Value: value, Line: l.line, Column: l.column, Offset: l.i}
}

func (l *Lexer) span() diag.SourceSpan {
	return diag.SourceSpan{File: l.file, Line: l.line, Column: l.column}
}

func spanOf(tok Token, file string) diag.SourceSpan {
	return diag.SourceSpan{File: file, Line: tok.Line, Column: tok.Column}
}

func isIdentStart(ch rune) bool {
	return unicode.IsLetter(ch)
}

func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '-'
}

func isPathRune(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) ||
		ch == '_' || ch == '-' || ch == '.' || ch == '/' || ch == '\\' || ch == ':'
}
