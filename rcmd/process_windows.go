//go:build windows

package rcmd

import "os/exec"

// setIsolatedProcessGroup is a no-op on Windows; killProcessGroup
// falls back to killing the direct child only.
func setIsolatedProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
