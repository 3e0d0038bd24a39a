package pipeline

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/fantom-ide/rbvmd/internal/codec"
	"github.com/fantom-ide/rbvmd/internal/proc"
	"github.com/fantom-ide/rbvmd/internal/scratch"
	"github.com/fantom-ide/rbvmd/internal/store"
	"github.com/fantom-ide/rbvmd/protocol"
)

func (p *Pipeline) compiler(format string) (string, error) {
	switch format {
	case protocol.FormatC:
		return p.cfg.Toolchain.CCompiler, nil
	case protocol.FormatCPP:
		return p.cfg.Toolchain.CppCompiler, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Compile writes the source into a fresh job directory and runs the
// compiler, translator and disassembler in order. A stage that cannot be
// launched, is interrupted or exits non-zero stops the stages after it.
// Bytecode is returned whenever the translator succeeded. The job directory
// is removed in every case.
func (p *Pipeline) Compile(ctx context.Context, req protocol.CompileRequest) (*protocol.CompileResponse, error) {
	cc, err := p.compiler(req.Format)
	if err != nil {
		return nil, err
	}
	code := req.Code
	if req.Smart == protocol.SmartContract {
		code += smartLoop
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

	jl := newJobLog(dir.ID, store.JobCompile)
	defer p.record(jl)

	id := dir.ID
	source := id + "." + req.Format
	if err := dir.WriteFile(source, []byte(code)); err != nil {
		jl.failed(err)
		return nil, fmt.Errorf("write source: %w", err)
	}
	p.logger.Debug("compiling", "job_id", id, "format", req.Format, "size", humanize.Bytes(uint64(len(code))))

	resp := &protocol.CompileResponse{}

	argv := append([]string{cc}, p.cfg.Toolchain.CompilerFlags...)
	argv = append(argv, source, "-o", id+".ll")
	var ok bool
	if resp.LlvmExecution, ok = p.stage(ctx, dir, jl, argv); !ok {
		return resp, nil
	}
	if resp.TranslatorExecution, ok = p.stage(ctx, dir, jl, []string{p.cfg.Toolchain.Translator, id + ".ll"}); !ok {
		return resp, nil
	}
	resp.DisassemblerExecution, _ = p.stage(ctx, dir, jl, []string{p.cfg.Toolchain.Disassembler, id + ".rbvm"})

	bytecode, err := dir.ReadFile(id + ".rbvm")
	if err != nil {
		p.logger.Warn("failed to read bytecode", "job_id", id, "error", err)
	} else if bytecode != nil {
		hex := codec.EncodeHex(bytecode)
		resp.Bytecode = &hex
		p.logger.Info("compiled", "job_id", id, "bytecode", humanize.Bytes(uint64(len(bytecode))))
	}
	return resp, nil
}

// stage runs one toolchain step and reports whether the next may run.
func (p *Pipeline) stage(ctx context.Context, dir *scratch.Dir, jl *jobLog, argv []string) (*protocol.ExecutionResponse, bool) {
	res, err := p.runner.Run(ctx, proc.Command{Argv: argv, Dir: dir.Path})
	if err != nil {
		p.logger.Warn("stage failed", "job_id", dir.ID, "argv0", argv[0], "error", err)
		jl.failed(err)
		return protocol.Failure(err.Error()), false
	}
	jl.exited(res.ExitCode)
	return protocol.Exited(res.Output, res.ExitCode, res.Truncated), res.ExitCode == 0
}
