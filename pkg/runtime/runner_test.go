package runtime

import (
	"bytes"
	"context"
	goruntime "runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyker-lang/psyker/pkg/lang"
)

func TestLimitedWriter_CapsOutput(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	n, err := lw.Write([]byte("0123456"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	// Crosses the cap: only the first three bytes land in the buffer.
	n, err = lw.Write([]byte("789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	n, err = lw.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, "0123456789", buf.String())
}

func TestShellArgs(t *testing.T) {
	name, args := shellArgs(lang.OpExecPS, "Get-Date")
	if goruntime.GOOS == "windows" {
		assert.Equal(t, "powershell", name)
	} else {
		assert.Equal(t, "pwsh", name)
	}
	assert.Equal(t, []string{"-NoProfile", "-Command", "Get-Date"}, args)

	name, args = shellArgs(lang.OpExecCmd, "echo hi")
	if goruntime.GOOS == "windows" {
		assert.Equal(t, "cmd", name)
		assert.Equal(t, []string{"/c", "echo hi"}, args)
	} else {
		assert.Equal(t, "/bin/sh", name)
		assert.Equal(t, []string{"-c", "echo hi"}, args)
	}
}

func TestExecRunner_CapturesStreamsSeparately(t *testing.T) {
	if goruntime.GOOS == "windows" {
		t.Skip("POSIX shell expectations")
	}
	exit, stdout, stderr, err := execRunner{}.Run(context.Background(), CommandSpec{
		Op:      lang.OpExecCmd,
		Command: "echo out; echo err 1>&2",
		Dir:     t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, exit)
	assert.Contains(t, stdout, "out")
	assert.Contains(t, stderr, "err")
	assert.False(t, strings.Contains(stdout, "err"))
}
