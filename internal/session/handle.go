package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fantom-ide/rbvmd/internal/proc"
)

type Transport string

const (
	TransportPipe Transport = "pipe"
	TransportPTY  Transport = "pty"
)

const (
	lineBuffer = 256
	drainGrace = 500 * time.Millisecond
)

// Handle is one live interactive process. Output lines are read by a pump
// goroutine into a buffered channel; a waiter goroutine reaps the process and
// fires the exit hook.
//
// Reads and writes must alternate, starting with a read of the banner.
type Handle struct {
	id        string
	argv      []string
	transport Transport
	createdAt time.Time
	logger    *slog.Logger

	cmd    *exec.Cmd
	stdin  io.Writer
	output io.Closer

	lines    chan string
	discard  chan struct{}
	pumpDone chan struct{}
	done     chan struct{}
	ready    chan struct{}
	exitCode int

	sem          chan struct{}
	mu           sync.Mutex
	awaitingRead bool

	lastActivity atomic.Int64
	terminated   atomic.Bool
	expired      atomic.Bool
	onExit       func(*Handle)
	closeInput   func()
}

type spawnOpts struct {
	ID        string
	Argv      []string
	Dir       string
	Env       []string
	Transport Transport
	MaxLine   int
	OnExit    func(*Handle)
	Logger    *slog.Logger
}

// spawn starts the process and returns once it is running. It does not wait
// for any output.
func spawn(opts spawnOpts) (*Handle, error) {
	if len(opts.Argv) == 0 {
		return nil, fmt.Errorf("%w: empty argv", proc.ErrLaunch)
	}
	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	h := &Handle{
		id:           opts.ID,
		argv:         append([]string(nil), opts.Argv...),
		transport:    opts.Transport,
		createdAt:    time.Now().UTC(),
		logger:       opts.Logger,
		cmd:          cmd,
		lines:        make(chan string, lineBuffer),
		discard:      make(chan struct{}),
		pumpDone:     make(chan struct{}),
		done:         make(chan struct{}),
		ready:        make(chan struct{}),
		sem:          make(chan struct{}, 1),
		awaitingRead: true,
		onExit:       opts.OnExit,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.touch()

	var src io.Reader
	var err error
	switch opts.Transport {
	case TransportPTY:
		src, err = h.startPTY()
	default:
		h.transport = TransportPipe
		src, err = h.startPipe()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", proc.ErrLaunch, opts.Argv[0], err)
	}

	maxLine := opts.MaxLine
	if maxLine <= 0 {
		maxLine = 64 * 1024
	}
	go h.pump(src, maxLine)
	go h.wait()
	return h, nil
}

func (h *Handle) startPipe() (io.Reader, error) {
	stdin, err := h.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	h.cmd.Stdout = w
	h.cmd.Stderr = w
	proc.SetProcessGroup(h.cmd)

	if err := h.cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	// The child holds its own copy of the write end.
	w.Close()

	h.stdin = stdin
	h.output = r
	h.closeInput = func() { stdin.Close() }
	return r, nil
}

// pump splits the merged output into lines. Lines longer than maxLine are
// delivered in max-sized pieces.
func (h *Handle) pump(src io.Reader, maxLine int) {
	defer close(h.pumpDone)
	defer close(h.lines)

	r := bufio.NewReaderSize(src, 4096)
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		buf = append(buf, frag...)
		complete := err == nil
		for len(buf) > maxLine && !(complete && len(buf) == maxLine+1) {
			if !h.emit(buf[:maxLine]) {
				return
			}
			buf = append(buf[:0], buf[maxLine:]...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if len(buf) > 0 {
			if !h.emit(buf) {
				return
			}
			buf = buf[:0]
		}
		if err != nil {
			return
		}
	}
}

func (h *Handle) emit(b []byte) bool {
	line := strings.TrimSuffix(string(b), "\n")
	line = strings.TrimSuffix(line, "\r")
	select {
	case h.lines <- line:
		return true
	case <-h.discard:
		return false
	}
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	h.exitCode = code
	close(h.done)

	// Helpers forked by the child may still hold the output open.
	// A full line buffer with no reader also stalls the pump.
	select {
	case <-h.pumpDone:
	case <-time.After(drainGrace):
		h.output.Close()
		close(h.discard)
		<-h.pumpDone
	}
	h.output.Close()

	h.logger.Debug("session process exited", "session_id", h.id, "exit_code", code)
	if h.onExit != nil {
		<-h.ready
		h.onExit(h)
	}
}

// markReady releases the exit hook. The owner calls it once the handle is
// registered, or once it has given up registering it.
func (h *Handle) markReady() {
	close(h.ready)
}

func (h *Handle) ID() string { return h.id }
func (h *Handle) Argv() []string { return append([]string(nil), h.argv...) }
func (h *Handle) Transport() Transport { return h.transport }
func (h *Handle) CreatedAt() time.Time { return h.createdAt }
func (h *Handle) Done() <-chan struct{} { return h.done }
func (h *Handle) Pid() int { return h.cmd.Process.Pid }
func (h *Handle) LastActivity() time.Time { return time.Unix(0, h.lastActivity.Load()) }

// Terminated reports whether the process was stopped through Terminate.
func (h *Handle) Terminated() bool { return h.terminated.Load() }

// ExitCode returns the exit code once the process has exited. A process
// killed by a signal reports -1.
func (h *Handle) ExitCode() (int, bool) {
	select {
	case <-h.done:
		return h.exitCode, true
	default:
		return 0, false
	}
}

func (h *Handle) touch() {
	h.lastActivity.Store(time.Now().UnixNano())
}

// readLine returns the next line of output with its terminator removed.
// The alternation check and its update are separate critical sections, so
// callers must hold the exchange lock (see serialized).
func (h *Handle) readLine(ctx context.Context) (string, error) {
	h.mu.Lock()
	if !h.awaitingRead {
		h.mu.Unlock()
		return "", fmt.Errorf("%w: read while a write is expected", ErrProtocol)
	}
	h.mu.Unlock()

	select {
	case line, ok := <-h.lines:
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrStreamClosed, h.id)
		}
		h.mu.Lock()
		h.awaitingRead = false
		h.mu.Unlock()
		h.touch()
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// writeLine sends line followed by a newline to the process's input. Like
// readLine it must run under the exchange lock.
func (h *Handle) writeLine(ctx context.Context, line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("%w: line contains a line break", ErrProtocol)
	}
	h.mu.Lock()
	if h.awaitingRead {
		h.mu.Unlock()
		return fmt.Errorf("%w: write while a read is expected", ErrProtocol)
	}
	h.mu.Unlock()

	select {
	case <-h.done:
		return fmt.Errorf("%w: %s", ErrStreamClosed, h.id)
	default:
	}

	errc := make(chan error, 1)
	go func() {
		_, err := io.WriteString(h.stdin, line+"\n")
		errc <- err
	}()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStreamClosed, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	h.awaitingRead = true
	h.mu.Unlock()
	h.touch()
	return nil
}

func (h *Handle) lock(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) unlock() {
	<-h.sem
}

// Exchange writes one line and reads one line back. Exchanges on the same
// handle are serialized. With a positive timeout, an exchange that does not
// complete in time terminates the process and fails with ErrTimeout.
func (h *Handle) Exchange(ctx context.Context, line string, timeout time.Duration) (string, error) {
	return h.serialized(ctx, timeout, func(ctx context.Context) (string, error) {
		if err := h.writeLine(ctx, line); err != nil {
			return "", err
		}
		return h.readLine(ctx)
	})
}

// Read returns the next line of output, under the same locking and timeout
// rules as Exchange.
func (h *Handle) Read(ctx context.Context, timeout time.Duration) (string, error) {
	return h.serialized(ctx, timeout, h.readLine)
}

func (h *Handle) serialized(ctx context.Context, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	if err := h.lock(ctx); err != nil {
		return "", err
	}
	defer h.unlock()

	xctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		xctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reply, err := fn(xctx)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// A late reply would be handed to the next caller.
		go h.Terminate(context.Background(), 0)
		if ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, h.id)
		}
	}
	return "", err
}

// Terminate asks the process group to stop, escalating to SIGKILL after
// grace, and returns once the process has been reaped.
func (h *Handle) Terminate(ctx context.Context, grace time.Duration) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	h.terminated.Store(true)
	pid := h.cmd.Process.Pid

	if grace > 0 {
		if h.closeInput != nil {
			h.closeInput()
		}
		_ = proc.SignalGroup(pid, syscall.SIGTERM)
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-h.done:
			return nil
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	_ = proc.SignalGroup(pid, syscall.SIGKILL)
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
