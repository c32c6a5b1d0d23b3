package lang

import "strings"

// TokenType classifies a lexed token.
type TokenType string

const (
	TokenKeyword  TokenType = "KEYWORD"
	TokenIdent    TokenType = "IDENT"
	TokenInt      TokenType = "INT"
	TokenString   TokenType = "STRING"
	TokenPath     TokenType = "PATH"
	TokenSymbol   TokenType = "SYMBOL"
	TokenAtAccess TokenType = "AT_ACCESS"
	TokenComment  TokenType = "COMMENT"
	TokenEOF      TokenType = "EOF"
)

// Token is one lexeme with its exact source position. Immutable once
// produced. STRING values keep their surrounding quotes and raw escapes;
// use Unquote for the decoded text.
type Token struct {
	Type   TokenType
	Value  string
	Line   int // 1-based
	Column int // 1-based, at the token's first character
	Offset int // 0-based byte offset
}

// Is reports whether the token has the given type and literal value.
func (t Token) Is(typ TokenType, value string) bool {
	return t.Type == typ && t.Value == value
}

// Unquote returns the decoded text of a STRING token: the surrounding quotes
// are stripped and \" and \\ escapes are resolved. Other token types are
// returned unchanged.
func (t Token) Unquote() string {
	if t.Type != TokenString {
		return t.Value
	}
	body := strings.TrimSuffix(strings.TrimPrefix(t.Value, `"`), `"`)
	var b strings.Builder
	b.Grow(len(body))
	escaped := false
	for _, r := range body {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	if escaped {
		b.WriteRune('\\')
	}
	return b.String()
}
