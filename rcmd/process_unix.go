//go:build !windows

package rcmd

import (
	"os/exec"
	"syscall"
)

// setIsolatedProcessGroup puts the child in its own process group so
// that a Ctrl+C delivered to rv doesn't also reach R directly; only
// killProcessGroup, driven by context cancellation, should kill it.
func setIsolatedProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup signals the whole process group rather than just
// the direct child, since R CMD INSTALL may itself fork a compiler.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
