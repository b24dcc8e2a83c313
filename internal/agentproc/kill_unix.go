//go:build !windows

package agentproc

import (
	"errors"
	"os/exec"
	"syscall"
)

// configureKill puts the child in its own process group so termination
// reaches orphaned subprocesses that keep the stdout pipe open.
func configureKill(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func signalGraceful(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return
	}
	// With Setpgid the group id is the child's pid.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err == nil || errors.Is(err, syscall.ESRCH) {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
}

func signalHard(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil || errors.Is(err, syscall.ESRCH) {
		return
	}
	_ = cmd.Process.Kill()
}
