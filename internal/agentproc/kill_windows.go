//go:build windows

package agentproc

import (
	"os/exec"
	"strconv"
)

func configureKill(cmd *exec.Cmd) {}

// signalGraceful has no portable soft-termination on Windows; taskkill /T
// takes the whole tree down in one step.
func signalGraceful(cmd *exec.Cmd) {
	signalHard(cmd)
}

func signalHard(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return
	}
	_ = exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
	_ = cmd.Process.Kill()
}
