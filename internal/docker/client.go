// Package docker runs toolchain commands inside a long-lived container with
// docker exec. The container must bind-mount the host scratch root.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/fantom-ide/rbvmd/internal/proc"
)

// execAPI is the part of the docker client the launcher needs.
type execAPI interface {
	ContainerExecCreate(ctx context.Context, container string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ContainerInspect(ctx context.Context, container string) (container.InspectResponse, error)
}

// Launcher implements proc.Launcher on top of docker exec.
type Launcher struct {
	api       execAPI
	closer    io.Closer
	container string
	hostRoot  string
	workRoot  string
	logger    *slog.Logger
}

type Options struct {
	Container string
	// HostRoot is the scratch root on the host; WorkRoot is where the
	// container sees it.
	HostRoot string
	WorkRoot string
}

func New(opts Options, logger *slog.Logger) (*Launcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	l := newLauncher(cli, opts, logger)
	l.closer = cli
	return l, nil
}

func newLauncher(api execAPI, opts Options, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		api:       api,
		container: opts.Container,
		hostRoot:  filepath.Clean(opts.HostRoot),
		workRoot:  opts.WorkRoot,
		logger:    logger,
	}
}

func (l *Launcher) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Ping verifies the toolchain container exists and is running.
func (l *Launcher) Ping(ctx context.Context) error {
	info, err := l.api.ContainerInspect(ctx, l.container)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", l.container, err)
	}
	if info.State == nil || !info.State.Running {
		return fmt.Errorf("container %s is not running", l.container)
	}
	return nil
}

// containerDir maps a host directory under the scratch root to the path the
// container sees.
func (l *Launcher) containerDir(dir string) (string, error) {
	if dir == "" {
		return l.workRoot, nil
	}
	rel, err := filepath.Rel(l.hostRoot, filepath.Clean(dir))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the scratch root %s", dir, l.hostRoot)
	}
	return path.Join(l.workRoot, filepath.ToSlash(rel)), nil
}

// Launch runs cmd in the container and copies its demultiplexed output into
// out. On cancellation the attach stream is closed; the process inside the
// container is not signalled.
func (l *Launcher) Launch(ctx context.Context, cmd proc.Command, out io.Writer) (int, error) {
	workdir, err := l.containerDir(cmd.Dir)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", proc.ErrLaunch, err)
	}

	execResp, err := l.api.ContainerExecCreate(ctx, l.container, container.ExecOptions{
		Cmd:          cmd.Argv,
		Env:          cmd.Env,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, fmt.Errorf("%w: exec create: %v", proc.ErrLaunch, err)
	}

	attachResp, err := l.api.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, fmt.Errorf("%w: exec attach: %v", proc.ErrLaunch, err)
	}
	defer attachResp.Close()

	copied := make(chan error, 1)
	go func() {
		// stdout and stderr share one writer, as with a local process
		_, err := stdcopy.StdCopy(out, out, attachResp.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return -1, fmt.Errorf("exec read: %w", err)
		}
	case <-ctx.Done():
		attachResp.Close()
		<-copied
		return -1, fmt.Errorf("%w: %v", proc.ErrInterrupted, context.Cause(ctx))
	}

	inspect, err := l.api.ContainerExecInspect(context.WithoutCancel(ctx), execResp.ID)
	if err != nil {
		return -1, fmt.Errorf("exec inspect: %w", err)
	}
	l.logger.Debug("docker exec finished", "container", l.container, "argv0", cmd.Argv[0], "exit_code", inspect.ExitCode)
	return inspect.ExitCode, nil
}
