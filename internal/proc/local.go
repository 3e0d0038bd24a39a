package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// LocalLauncher runs commands as direct children of the daemon.
type LocalLauncher struct{}

func (LocalLauncher) Launch(ctx context.Context, cmd Command, out io.Writer) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, fmt.Errorf("%w: %s: %v", ErrInterrupted, cmd.Argv[0], context.Cause(ctx))
	}

	c := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdout = out
	c.Stderr = out
	c.WaitDelay = time.Second
	SetProcessGroup(c)

	if err := c.Start(); err != nil {
		return -1, fmt.Errorf("%w: %s: %v", ErrLaunch, cmd.Argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	select {
	case err := <-done:
		return exitStatus(c, err)
	case <-ctx.Done():
		_ = SignalGroup(c.Process.Pid, syscall.SIGKILL)
		<-done
		return -1, fmt.Errorf("%w: %s: %v", ErrInterrupted, cmd.Argv[0], context.Cause(ctx))
	}
}

func exitStatus(c *exec.Cmd, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	// Output pipe held open by an escaped grandchild; the child itself is done.
	if errors.Is(err, exec.ErrWaitDelay) && c.ProcessState != nil {
		return c.ProcessState.ExitCode(), nil
	}
	return -1, fmt.Errorf("%w: wait %s: %v", ErrInterrupted, c.Path, err)
}
