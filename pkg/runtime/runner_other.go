//go:build !windows

package runtime

import (
	"syscall"

	"github.com/psyker-lang/psyker/pkg/lang"
)

// shellArgs maps an exec op to its POSIX shell invocation. exec.ps targets
// PowerShell Core, which is spelled pwsh outside Windows.
func shellArgs(op lang.Op, command string) (string, []string) {
	if op == lang.OpExecPS {
		return "pwsh", []string{"-NoProfile", "-Command", command}
	}
	return "/bin/sh", []string{"-c", command}
}

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}
