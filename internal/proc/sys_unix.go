//go:build unix

package proc

import (
	"os/exec"
	"syscall"
)

// SetProcessGroup places the child in its own process group so that
// SignalGroup reaches any helpers it forks.
func SetProcessGroup(c *exec.Cmd) {
	if c.SysProcAttr == nil {
		c.SysProcAttr = &syscall.SysProcAttr{}
	}
	c.SysProcAttr.Setpgid = true
}

// SignalGroup delivers sig to the process group led by pid, falling back to
// the process alone when it has no group of its own.
func SignalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}
