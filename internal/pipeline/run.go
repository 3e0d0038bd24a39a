package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/fantom-ide/rbvmd/internal/codec"
	"github.com/fantom-ide/rbvmd/internal/proc"
	"github.com/fantom-ide/rbvmd/internal/session"
	"github.com/fantom-ide/rbvmd/internal/store"
	"github.com/fantom-ide/rbvmd/protocol"
)

// Run executes bytecode on the VM until it exits. Malformed hex fails with
// codec.ErrFormat; a VM that cannot be launched or is interrupted yields a
// response carrying the error.
func (p *Pipeline) Run(ctx context.Context, bytecodeHex string) (*protocol.ExecutionResponse, error) {
	bytecode, err := codec.DecodeHex(bytecodeHex)
	if err != nil {
		return nil, err
	}

	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	dir, err := p.allocate()
	if err != nil {
		return nil, err
	}
	defer p.cleanup(dir)

	jl := newJobLog(dir.ID, store.JobRun)
	defer p.record(jl)

	if err := dir.WriteFile(dir.ID, bytecode); err != nil {
		jl.failed(err)
		return nil, fmt.Errorf("write bytecode: %w", err)
	}
	p.logger.Debug("running bytecode", "job_id", dir.ID, "size", humanize.Bytes(uint64(len(bytecode))))

	res, err := p.runner.Run(ctx, proc.Command{Argv: []string{p.cfg.Toolchain.VM, dir.ID}, Dir: dir.Path})
	if err != nil {
		jl.failed(err)
		return protocol.Failure(err.Error()), nil
	}
	jl.exited(res.ExitCode)
	return protocol.Exited(res.Output, res.ExitCode, res.Truncated), nil
}

// RunMaintained starts the VM as an interactive session named by the job
// id and returns the first line it prints. The job directory lives as long
// as the session.
func (p *Pipeline) RunMaintained(ctx context.Context, bytecodeHex string) (*protocol.MaintainResponse, error) {
	bytecode, err := codec.DecodeHex(bytecodeHex)
	if err != nil {
		return nil, err
	}

	dir, err := p.allocate()
	if err != nil {
		return nil, err
	}
	id := dir.ID

	jl := newJobLog(id, store.JobRunMaintain)
	defer p.record(jl)

	if err := dir.WriteFile(id, bytecode); err != nil {
		p.cleanup(dir)
		jl.failed(err)
		return nil, fmt.Errorf("write bytecode: %w", err)
	}

	argv := append([]string(nil), p.cfg.Toolchain.MaintainPrefix...)
	argv = append(argv, p.cfg.Toolchain.VM, id)
	info, banner, err := p.sessions.Start(ctx, session.StartOpts{ID: id, Argv: argv, Dir: dir.Path})
	if err != nil && info == nil {
		p.cleanup(dir)
		jl.failed(err)
		if errors.Is(err, proc.ErrLaunch) {
			return &protocol.MaintainResponse{ExecutionResponse: protocol.Failure(err.Error())}, nil
		}
		return nil, err
	}
	if err != nil {
		jl.failed(err)
		p.logger.Warn("session produced no banner", "session_id", id, "error", err)
		return &protocol.MaintainResponse{MaintainID: id, ExecutionResponse: protocol.Failure(err.Error())}, nil
	}
	return &protocol.MaintainResponse{MaintainID: id, ExecutionResponse: protocol.Output(banner)}, nil
}
