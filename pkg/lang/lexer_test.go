package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyker-lang/psyker/pkg/diag"
)

type tokenPair struct {
	typ   TokenType
	value string
}

func lexPairs(t *testing.T, src string) []tokenPair {
	t.Helper()
	tokens, err := Lex(src, "test.psy")
	require.NoError(t, err)
	pairs := make([]tokenPair, 0, len(tokens))
	for _, tok := range tokens {
		pairs = append(pairs, tokenPair{tok.Type, tok.Value})
	}
	return pairs
}

func TestLex_TaskSource(t *testing.T) {
	src := "# build step\n@access { agents: [a1] }\ntask build {\n  fs.create out/report.txt;\n  exec.cmd \"echo hi\";\n}\n"
	got := lexPairs(t, src)
	want := []tokenPair{
		{TokenComment, "# build step"},
		{TokenAtAccess, "@access"},
		{TokenSymbol, "{"},
		{TokenKeyword, "agents"},
		{TokenSymbol, ":"},
		{TokenSymbol, "["},
		{TokenIdent, "a1"},
		{TokenSymbol, "]"},
		{TokenSymbol, "}"},
		{TokenKeyword, "task"},
		{TokenIdent, "build"},
		{TokenSymbol, "{"},
		{TokenKeyword, "fs.create"},
		{TokenIdent, "out"},
		{TokenPath, "/report.txt"},
		{TokenSymbol, ";"},
		{TokenKeyword, "exec.cmd"},
		{TokenString, `"echo hi"`},
		{TokenSymbol, ";"},
		{TokenSymbol, "}"},
		{TokenEOF, ""},
	}
	assert.Equal(t, want, got)
}

func TestLex_WordClassification(t *testing.T) {
	testCases := []struct {
		name    string
		src     string
		wantTyp TokenType
		wantVal string
	}{
		{name: "plain keyword", src: "task", wantTyp: TokenKeyword, wantVal: "task"},
		{name: "access field keyword", src: "workers", wantTyp: TokenKeyword, wantVal: "workers"},
		{name: "near keyword is ident", src: "tasks", wantTyp: TokenIdent, wantVal: "tasks"},
		{name: "dotted op keyword", src: "fs.open", wantTyp: TokenKeyword, wantVal: "fs.open"},
		{name: "dotted exec keyword", src: "exec.ps", wantTyp: TokenKeyword, wantVal: "exec.ps"},
		{name: "unknown dotted op is ident", src: "fs.delete", wantTyp: TokenIdent, wantVal: "fs.delete"},
		{name: "unknown exec op is ident", src: "exec.spawn", wantTyp: TokenIdent, wantVal: "exec.spawn"},
		{name: "dot only joins fs and exec", src: "http.get", wantTyp: TokenIdent, wantVal: "http"},
		{name: "fs prefix without dot", src: "formats", wantTyp: TokenIdent, wantVal: "formats"},
		{name: "hyphen and digits in ident", src: "w-2_x", wantTyp: TokenIdent, wantVal: "w-2_x"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tokens, err := Lex(tc.src, "test.psy")
			require.NoError(t, err)
			require.NotEmpty(t, tokens)
			assert.Equal(t, tc.wantTyp, tokens[0].Type)
			assert.Equal(t, tc.wantVal, tokens[0].Value)
		})
	}
}

func TestLex_Paths(t *testing.T) {
	// A path token starts at a non-alphanumeric path rune, so a relative
	// path with a leading name splits into an ident and a path.
	got := lexPairs(t, "dir/file.txt /abs/p ./rel 42")
	want := []tokenPair{
		{TokenIdent, "dir"},
		{TokenPath, "/file.txt"},
		{TokenPath, "/abs/p"},
		{TokenPath, "./rel"},
		{TokenInt, "42"},
		{TokenEOF, ""},
	}
	assert.Equal(t, want, got)
}

func TestLex_StringKeepsQuotesAndEscapes(t *testing.T) {
	tokens, err := Lex(`exec.cmd "say \"hi\" \\ done";`, "test.psy")
	require.NoError(t, err)
	require.Len(t, tokens, 4)
	assert.Equal(t, TokenString, tokens[1].Type)
	assert.Equal(t, `"say \"hi\" \\ done"`, tokens[1].Value)
	assert.Equal(t, `say "hi" \ done`, tokens[1].Unquote())
}

func TestLex_StringErrors(t *testing.T) {
	testCases := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{name: "unterminated", src: `task t { exec.cmd "oops`, wantMsg: "Unterminated string literal"},
		{name: "newline inside", src: "exec.cmd \"a\nb\";", wantMsg: "Newline in string literal"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Lex(tc.src, "test.psy")
			require.Error(t, err)
			assert.Equal(t, diag.KindSyntax, diag.KindOf(err))
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestLex_StringErrorPointsAtOpeningQuote(t *testing.T) {
	_, err := Lex("exec.cmd \"a\nb\";", "test.psy")
	require.Error(t, err)
	d := diag.DiagnosticOf(err)
	assert.Equal(t, 1, d.Line)
	assert.Equal(t, 10, d.Column)
}

func TestLex_Directives(t *testing.T) {
	tokens, err := Lex("@access", "test.psy")
	require.NoError(t, err)
	assert.Equal(t, TokenAtAccess, tokens[0].Type)
	assert.Equal(t, "@access", tokens[0].Value)

	_, err = Lex("@allow", "test.psy")
	require.Error(t, err)
	assert.Equal(t, diag.KindSyntax, diag.KindOf(err))
	assert.Contains(t, err.Error(), "Unknown directive '@allow'")
	assert.Equal(t, "Use @access.", diag.DiagnosticOf(err).Hint)
}

func TestLex_InvalidDottedKeyword(t *testing.T) {
	_, err := Lex("task t { fs. }", "test.psy")
	require.Error(t, err)
	assert.Equal(t, diag.KindSyntax, diag.KindOf(err))
	assert.Contains(t, err.Error(), "Invalid dotted keyword 'fs.'")

	_, err = Lex("exec.;", "test.psy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid dotted keyword 'exec.'")
}

func TestLex_UnexpectedCharacter(t *testing.T) {
	_, err := Lex("task %", "test.psy")
	require.Error(t, err)
	assert.Equal(t, diag.KindSyntax, diag.KindOf(err))
	assert.Contains(t, err.Error(), "Unexpected character '%'")
}

func TestLex_Positions(t *testing.T) {
	tokens, err := Lex("task t {\n  cwd /x;\n}", "test.psy")
	require.NoError(t, err)

	byValue := map[string]Token{}
	for _, tok := range tokens {
		byValue[tok.Value] = tok
	}
	assert.Equal(t, 1, byValue["task"].Line)
	assert.Equal(t, 1, byValue["task"].Column)
	assert.Equal(t, 1, byValue["t"].Line)
	assert.Equal(t, 6, byValue["t"].Column)
	assert.Equal(t, 2, byValue["cwd"].Line)
	assert.Equal(t, 3, byValue["cwd"].Column)
	assert.Equal(t, 2, byValue["/x"].Line)
	assert.Equal(t, 7, byValue["/x"].Column)
	assert.Equal(t, 0, byValue["task"].Offset)
	assert.Equal(t, 11, byValue["cwd"].Offset)
}

func TestLex_ColumnsCountRunes(t *testing.T) {
	tokens, err := Lex("exec.cmd \"héllo\"; task", "test.psy")
	require.NoError(t, err)
	// The quoted string is 7 runes wide even though é is 2 bytes.
	last := tokens[len(tokens)-2]
	assert.Equal(t, "task", last.Value)
	assert.Equal(t, 19, last.Column)
	assert.Equal(t, 19, last.Offset)
}

func TestLexer_NextIsLazyAndSticky(t *testing.T) {
	lx := NewLexer("task t", "test.psy")
	first, err := lx.Next()
	require.NoError(t, err)
	assert.Equal(t, "task", first.Value)

	second, err := lx.Next()
	require.NoError(t, err)
	assert.Equal(t, "t", second.Value)

	for i := 0; i < 3; i++ {
		tok, err := lx.Next()
		require.NoError(t, err)
		assert.Equal(t, TokenEOF, tok.Type)
	}
}
