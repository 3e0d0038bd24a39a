// Package proc runs external tools to completion and captures their
// combined output.
package proc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Command describes one process invocation.
type Command struct {
	Argv []string
	Dir  string
	Env  []string // appended to the daemon's environment
}

// Launcher starts a command, streams its merged stdout and stderr into out
// and blocks until it exits. A non-zero exit is not an error.
type Launcher interface {
	Launch(ctx context.Context, cmd Command, out io.Writer) (exitCode int, err error)
}

// Result is the immutable outcome of a process that ran to completion.
type Result struct {
	Output    string
	ExitCode  int
	Truncated bool
	Duration  time.Duration
}

type Options struct {
	// Timeout bounds every run. Zero means no limit beyond the caller's context.
	Timeout time.Duration
	// MaxOutputBytes caps captured output. Zero means unlimited.
	MaxOutputBytes int
}

// Runner executes one-shot commands through a Launcher.
type Runner struct {
	launcher Launcher
	opts     Options
	logger   *slog.Logger
}

func NewRunner(l Launcher, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{launcher: l, opts: opts, logger: logger}
}

// Run spawns cmd and waits for it to exit. Launch failures wrap ErrLaunch;
// cancellation and timeouts wrap ErrInterrupted.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Argv) == 0 || cmd.Argv[0] == "" {
		return nil, fmt.Errorf("%w: empty argv", ErrLaunch)
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.opts.Timeout,
			fmt.Errorf("timed out after %s", r.opts.Timeout))
		defer cancel()
	}

	out := newCappedBuffer(r.opts.MaxOutputBytes)
	start := time.Now()
	exitCode, err := r.launcher.Launch(ctx, cmd, out)
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Debug("process failed", "argv", cmd.Argv, "duration", elapsed, "error", err)
		return nil, err
	}

	r.logger.Debug("process exited", "argv", cmd.Argv, "exit_code", exitCode, "duration", elapsed)
	return &Result{
		Output:    out.String(),
		ExitCode:  exitCode,
		Truncated: out.Truncated(),
		Duration:  elapsed,
	}, nil
}

// cappedBuffer keeps the first max bytes written and silently drops the rest,
// so a chatty child never sees a write error.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if b.max > 0 {
		room := b.max - b.buf.Len()
		if room <= 0 {
			b.truncated = b.truncated || n > 0
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
			b.truncated = true
		}
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
