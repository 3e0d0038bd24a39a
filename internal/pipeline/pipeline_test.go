//go:build unix

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fantom-ide/rbvmd/internal/codec"
	"github.com/fantom-ide/rbvmd/internal/config"
	"github.com/fantom-ide/rbvmd/internal/ident"
	"github.com/fantom-ide/rbvmd/internal/pool"
	"github.com/fantom-ide/rbvmd/internal/proc"
	"github.com/fantom-ide/rbvmd/internal/scratch"
	"github.com/fantom-ide/rbvmd/internal/session"
	"github.com/fantom-ide/rbvmd/internal/store"
	"github.com/fantom-ide/rbvmd/internal/testutil"
	"github.com/fantom-ide/rbvmd/protocol"
)

type fixture struct {
	p        *Pipeline
	cfg      *config.Config
	scratch  *scratch.Manager
	store    *store.Store
	sessions *session.Manager
}

// writeTool drops an executable shell script into dir.
func writeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// fakeToolchain installs stand-ins: the compiler copies the source to the
// .ll file, the translator copies that to .rbvm and the disassembler prints it.
func fakeToolchain(t *testing.T, cfg *config.Config) {
	t.Helper()
	bin := t.TempDir()
	cfg.Toolchain.CCompiler = writeTool(t, bin, "cc", `cp "$1" "$3"`)
	cfg.Toolchain.CppCompiler = cfg.Toolchain.CCompiler
	cfg.Toolchain.CompilerFlags = nil
	cfg.Toolchain.Translator = writeTool(t, bin, "translate", `cp "$1" "${1%.ll}.rbvm"`)
	cfg.Toolchain.Disassembler = writeTool(t, bin, "da", `echo "listing of $1"`)
}

func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	fakeToolchain(t, cfg)
	cfg.Toolchain.VM = "sh"
	cfg.Toolchain.MaintainPrefix = nil
	cfg.Session.ExchangeTimeoutMs = 2000
	if mutate != nil {
		mutate(cfg)
	}

	sc, err := scratch.NewManager(t.TempDir())
	require.NoError(t, err)
	st := testutil.NewTestStore(t)

	sessions := session.NewManager(cfg, session.NewRegistry(), st, sc, testutil.DiscardLogger())
	t.Cleanup(func() { sessions.CloseAll(context.Background()) })

	runner := proc.NewRunner(proc.LocalLauncher{}, proc.Options{
		Timeout:        cfg.JobTimeout(),
		MaxOutputBytes: int(cfg.MaxOutputBytes()),
	}, testutil.DiscardLogger())

	p := New(cfg, Deps{
		Runner:   runner,
		Sessions: sessions,
		Scratch:  sc,
		Slots:    pool.New(cfg.MaxConcurrentJobs, testutil.DiscardLogger()),
		Jobs:     st,
		IDs:      ident.New(),
	}, testutil.DiscardLogger())
	return &fixture{p: p, cfg: cfg, scratch: sc, store: st, sessions: sessions}
}

func (f *fixture) assertNoResidue(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCompileAllStages(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.p.Compile(context.Background(), protocol.CompileRequest{Code: "int main(){}", Format: protocol.FormatC})
	require.NoError(t, err)

	require.NotNil(t, resp.Bytecode)
	decoded, err := codec.DecodeHex(*resp.Bytecode)
	require.NoError(t, err)
	assert.Equal(t, "int main(){}", string(decoded))

	require.NotNil(t, resp.LlvmExecution)
	require.NotNil(t, resp.TranslatorExecution)
	require.NotNil(t, resp.DisassemblerExecution)
	assert.Nil(t, resp.LlvmExecution.Error)
	require.NotNil(t, resp.DisassemblerExecution.Output)
	assert.Contains(t, *resp.DisassemblerExecution.Output, ".rbvm")
	assert.Equal(t, 0, *resp.DisassemblerExecution.ExitCode)

	f.assertNoResidue(t)

	jobs, err := f.store.ListJobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.JobCompile, jobs[0].Kind)
	assert.Equal(t, store.JobStatusOK, jobs[0].Status)
	assert.Equal(t, []int{0, 0, 0}, jobs[0].ExitCodes)
}

func TestCompileSmartContractAppendsLoop(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.p.Compile(context.Background(), protocol.CompileRequest{
		Code:   "// contract\n",
		Format: protocol.FormatCPP,
		Smart:  protocol.SmartContract,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Bytecode)

	decoded, err := codec.DecodeHex(*resp.Bytecode)
	require.NoError(t, err)
	assert.Equal(t, "// contract\n"+smartLoop, string(decoded))
	assert.Contains(t, smartLoop, "int main()")
}

func TestCompileUnsupportedFormat(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.p.Compile(context.Background(), protocol.CompileRequest{Code: "x", Format: "rust"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Nil(t, resp)
	f.assertNoResidue(t)
}

func TestCompileFailureSkipsLaterStages(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Toolchain.CCompiler = writeTool(t, t.TempDir(), "cc", `echo "syntax error" >&2; exit 1`)
	})

	resp, err := f.p.Compile(context.Background(), protocol.CompileRequest{Code: "int main(", Format: protocol.FormatC})
	require.NoError(t, err)

	require.NotNil(t, resp.LlvmExecution)
	require.NotNil(t, resp.LlvmExecution.Output)
	assert.Contains(t, *resp.LlvmExecution.Output, "syntax error")
	assert.Equal(t, 1, *resp.LlvmExecution.ExitCode)
	assert.Nil(t, resp.TranslatorExecution)
	assert.Nil(t, resp.DisassemblerExecution)
	assert.Nil(t, resp.Bytecode)
	f.assertNoResidue(t)

	jobs, err := f.store.ListJobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.JobStatusFailed, jobs[0].Status)
}

func TestCompileLaunchFailure(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Toolchain.CCompiler = "/nonexistent/clang-7"
	})

	resp, err := f.p.Compile(context.Background(), protocol.CompileRequest{Code: "int main(){}", Format: protocol.FormatC})
	require.NoError(t, err)

	require.NotNil(t, resp.LlvmExecution)
	assert.Nil(t, resp.LlvmExecution.Output)
	require.NotNil(t, resp.LlvmExecution.Error)
	assert.NotEmpty(t, *resp.LlvmExecution.Error)
	assert.Nil(t, resp.TranslatorExecution)
	assert.Nil(t, resp.Bytecode)
	f.assertNoResidue(t)

	jobs, err := f.store.ListJobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.JobStatusError, jobs[0].Status)
	assert.NotEmpty(t, jobs[0].Error)
}

func TestCompileDisassemblerFailureKeepsBytecode(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Toolchain.Disassembler = writeTool(t, t.TempDir(), "da", `exit 3`)
	})

	resp, err := f.p.Compile(context.Background(), protocol.CompileRequest{Code: "abc", Format: protocol.FormatC})
	require.NoError(t, err)
	require.NotNil(t, resp.Bytecode)
	assert.Equal(t, "0x61 0x62 0x63", *resp.Bytecode)
	assert.Equal(t, 3, *resp.DisassemblerExecution.ExitCode)
}

func TestConcurrentCompilesAreIsolated(t *testing.T) {
	f := newFixture(t, nil)

	const n = 12
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.p.Compile(context.Background(), protocol.CompileRequest{
				Code:   fmt.Sprintf("program %d", i),
				Format: protocol.FormatC,
			})
			if err != nil {
				errs[i] = err
				return
			}
			if resp.Bytecode == nil {
				errs[i] = fmt.Errorf("job %d: no bytecode", i)
				return
			}
			decoded, err := codec.DecodeHex(*resp.Bytecode)
			errs[i] = err
			results[i] = string(decoded)
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("program %d", i), results[i])
	}
	f.assertNoResidue(t)
}

func TestRunExecutesBytecode(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.p.Run(context.Background(), codec.EncodeHex([]byte("echo hello; echo oops >&2")))
	require.NoError(t, err)
	require.NotNil(t, resp.Output)
	assert.Contains(t, *resp.Output, "hello")
	assert.Contains(t, *resp.Output, "oops")
	assert.Nil(t, resp.Error)
	assert.Equal(t, 0, *resp.ExitCode)
	f.assertNoResidue(t)
}

func TestRunSurfacesExitCode(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.p.Run(context.Background(), codec.EncodeHex([]byte("exit 4")))
	require.NoError(t, err)
	assert.Equal(t, 4, *resp.ExitCode)
}

func TestRunRejectsMalformedHex(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.p.Run(context.Background(), "0x6 zz")
	assert.ErrorIs(t, err, codec.ErrFormat)
	assert.Nil(t, resp)
	f.assertNoResidue(t)
}

func TestRunLaunchFailure(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Toolchain.VM = "/nonexistent/rbvm"
	})

	resp, err := f.p.Run(context.Background(), codec.EncodeHex([]byte("x")))
	require.NoError(t, err)
	assert.Nil(t, resp.Output)
	require.NotNil(t, resp.Error)
	f.assertNoResidue(t)
}

func TestRunTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.JobTimeoutMs = 200
	})

	start := time.Now()
	resp, err := f.p.Run(context.Background(), codec.EncodeHex([]byte("sleep 10")))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Less(t, time.Since(start), 5*time.Second)
	f.assertNoResidue(t)
}

func TestRunMaintainedBannerThenExchange(t *testing.T) {
	f := newFixture(t, nil)

	script := `echo ready; while read line; do echo "got $line"; done`
	resp, err := f.p.RunMaintained(context.Background(), codec.EncodeHex([]byte(script)))
	require.NoError(t, err)
	require.NotEmpty(t, resp.MaintainID)
	assert.True(t, ident.Valid(resp.MaintainID))
	require.NotNil(t, resp.ExecutionResponse.Output)
	assert.Equal(t, "ready", *resp.ExecutionResponse.Output)

	// The job directory stays while the session lives.
	exists, err := f.scratch.Exists(resp.MaintainID)
	require.NoError(t, err)
	assert.True(t, exists)

	out, err := f.sessions.Exchange(context.Background(), resp.MaintainID, "ping")
	require.NoError(t, err)
	assert.Equal(t, "got ping", out)

	require.NoError(t, f.sessions.Destroy(context.Background(), resp.MaintainID))
	assert.Eventually(t, func() bool {
		ok, err := f.scratch.Exists(resp.MaintainID)
		return err == nil && !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRunMaintainedLaunchFailure(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Toolchain.VM = "/nonexistent/rbvm"
	})

	resp, err := f.p.RunMaintained(context.Background(), codec.EncodeHex([]byte("x")))
	require.NoError(t, err)
	assert.Empty(t, resp.MaintainID)
	require.NotNil(t, resp.ExecutionResponse.Error)
	f.assertNoResidue(t)
}

func TestRunMaintainedNoBanner(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.p.RunMaintained(context.Background(), codec.EncodeHex([]byte("exit 0")))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.MaintainID)
	assert.Nil(t, resp.ExecutionResponse.Output)
	require.NotNil(t, resp.ExecutionResponse.Error)
}

func TestRunMaintainedBannerFromExitedVM(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.p.RunMaintained(context.Background(), codec.EncodeHex([]byte("echo ready")))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.MaintainID)
	require.NotNil(t, resp.ExecutionResponse.Output)
	assert.Equal(t, "ready", *resp.ExecutionResponse.Output)
	assert.Nil(t, resp.ExecutionResponse.Error)

	assert.Eventually(t, func() bool {
		ok, err := f.scratch.Exists(resp.MaintainID)
		return err == nil && !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAllocateSkipsTakenIDs(t *testing.T) {
	f := newFixture(t, nil)
	f.p.ids = ident.NewSeeded(1, 2)

	first := ident.NewSeeded(1, 2).Next()
	_, err := f.scratch.Create(first)
	require.NoError(t, err)

	dir, err := f.p.allocate()
	require.NoError(t, err)
	assert.NotEqual(t, first, dir.ID)
}
