//go:build windows

package executor

import (
	"os/exec"
)

func setupProcessGroup(cmd *exec.Cmd) {}

// terminateProcess has no graceful variant on Windows.
func terminateProcess(cmd *exec.Cmd) {
	killProcess(cmd)
}

func killProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
