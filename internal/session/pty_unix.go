//go:build unix

package session

import (
	"io"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// startPTY runs the child on a pseudo-terminal in raw mode, so the terminal
// neither echoes input nor turns "\n" into "\r\n".
func (h *Handle) startPTY() (io.Reader, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, err
	}
	defer tty.Close()

	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		ptmx.Close()
		return nil, err
	}

	h.cmd.Stdin = tty
	h.cmd.Stdout = tty
	h.cmd.Stderr = tty
	h.cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := h.cmd.Start(); err != nil {
		ptmx.Close()
		return nil, err
	}

	h.stdin = ptmx
	h.output = ptmx
	return ptmx, nil
}
