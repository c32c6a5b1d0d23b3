//go:build windows

package runtime

import (
	"syscall"

	"github.com/psyker-lang/psyker/pkg/lang"
)

// shellArgs maps an exec op to its Windows shell invocation.
func shellArgs(op lang.Op, command string) (string, []string) {
	if op == lang.OpExecPS {
		return "powershell", []string{"-NoProfile", "-Command", command}
	}
	return "cmd", []string{"/c", command}
}

// sysProcAttr keeps the shell from opening a console window.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{HideWindow: true}
}
