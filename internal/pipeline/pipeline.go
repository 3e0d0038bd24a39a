// Package pipeline turns requests into toolchain runs: compiling C and C++
// to RBVM bytecode, running bytecode once, and starting interactive VM
// sessions.
package pipeline

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fantom-ide/rbvmd/internal/config"
	"github.com/fantom-ide/rbvmd/internal/ident"
	"github.com/fantom-ide/rbvmd/internal/proc"
	"github.com/fantom-ide/rbvmd/internal/scratch"
	"github.com/fantom-ide/rbvmd/internal/session"
	"github.com/fantom-ide/rbvmd/internal/store"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported source format")
	ErrNoFreeID          = errors.New("no free job id")
)

// maxIDAttempts bounds how often a colliding identifier is redrawn.
const maxIDAttempts = 8

//go:embed assets/smart_loop.cpp
var smartLoop string

type ProcessRunner interface {
	Run(ctx context.Context, cmd proc.Command) (*proc.Result, error)
}

type SessionStarter interface {
	Start(ctx context.Context, opts session.StartOpts) (*session.SessionInfo, string, error)
	Taken(id string) bool
}

type JobSlots interface {
	Acquire(ctx context.Context) (func(), error)
}

type JobRecorder interface {
	RecordJob(job *store.Job) error
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Runner   ProcessRunner
	Sessions SessionStarter
	Scratch  *scratch.Manager
	Slots    JobSlots
	Jobs     JobRecorder
	IDs      *ident.Generator
}

type Pipeline struct {
	cfg      *config.Config
	runner   ProcessRunner
	sessions SessionStarter
	scratch  *scratch.Manager
	slots    JobSlots
	jobs     JobRecorder
	ids      *ident.Generator
	logger   *slog.Logger
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		runner:   deps.Runner,
		sessions: deps.Sessions,
		scratch:  deps.Scratch,
		slots:    deps.Slots,
		jobs:     deps.Jobs,
		ids:      deps.IDs,
		logger:   logger,
	}
}

// allocate draws identifiers until one is free both as a scratch directory
// and as a session name, and creates the directory.
func (p *Pipeline) allocate() (*scratch.Dir, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := p.ids.Next()
		if p.sessions != nil && p.sessions.Taken(id) {
			p.logger.Warn("job id collides with a session, drawing again", "job_id", id)
			continue
		}
		dir, err := p.scratch.Create(id)
		if errors.Is(err, scratch.ErrExists) {
			p.logger.Warn("job id collides with a running job, drawing again", "job_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		return dir, nil
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrNoFreeID, maxIDAttempts)
}

func (p *Pipeline) cleanup(dir *scratch.Dir) {
	if err := p.scratch.Delete(dir.ID); err != nil {
		p.logger.Warn("failed to remove job files", "job_id", dir.ID, "error", err)
	}
}

// acquire takes a job slot. Without a slot pool jobs are unbounded.
func (p *Pipeline) acquire(ctx context.Context) (func(), error) {
	if p.slots == nil {
		return func() {}, nil
	}
	return p.slots.Acquire(ctx)
}

// jobLog accumulates what is recorded about one job.
type jobLog struct {
	job   store.Job
	start time.Time
}

func newJobLog(id, kind string) *jobLog {
	now := time.Now().UTC()
	return &jobLog{job: store.Job{ID: id, Kind: kind, Status: store.JobStatusOK, CreatedAt: now}, start: now}
}

func (l *jobLog) exited(code int) {
	l.job.ExitCodes = append(l.job.ExitCodes, code)
	if code != 0 && l.job.Status == store.JobStatusOK {
		l.job.Status = store.JobStatusFailed
	}
}

func (l *jobLog) failed(err error) {
	l.job.Status = store.JobStatusError
	l.job.Error = err.Error()
}

func (p *Pipeline) record(l *jobLog) {
	l.job.DurationMs = time.Since(l.start).Milliseconds()
	if p.jobs == nil {
		return
	}
	if err := p.jobs.RecordJob(&l.job); err != nil {
		p.logger.Warn("failed to record job", "job_id", l.job.ID, "error", err)
	}
}
