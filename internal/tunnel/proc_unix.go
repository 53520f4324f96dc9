//go:build !windows

// ABOUTME: Unix process-group handling for tunnel subprocesses
// ABOUTME: Signals reach cloudflared and any children it spawns

package tunnel

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interruptProcess(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGINT)
}

func killProcess(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
