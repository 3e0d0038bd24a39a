//go:build !unix

package proc

import (
	"os"
	"os/exec"
	"syscall"
)

func SetProcessGroup(c *exec.Cmd) {}

func SignalGroup(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
