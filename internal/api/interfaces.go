package api

import (
	"context"

	"github.com/fantom-ide/rbvmd/internal/pool"
	"github.com/fantom-ide/rbvmd/internal/session"
	"github.com/fantom-ide/rbvmd/internal/store"
	"github.com/fantom-ide/rbvmd/protocol"
)

// Pipeline runs the toolchain on behalf of the compile and run endpoints.
type Pipeline interface {
	Compile(ctx context.Context, req protocol.CompileRequest) (*protocol.CompileResponse, error)
	Run(ctx context.Context, bytecodeHex string) (*protocol.ExecutionResponse, error)
	RunMaintained(ctx context.Context, bytecodeHex string) (*protocol.MaintainResponse, error)
}

// SessionService abstracts the interactive session operations needed by API handlers.
type SessionService interface {
	Exchange(ctx context.Context, id, line string) (string, error)
	Get(ctx context.Context, id string) (*session.SessionInfo, error)
	List(ctx context.Context) ([]session.SessionInfo, error)
	Destroy(ctx context.Context, id string) error
	Live() int
}

type JobLister interface {
	ListJobs(limit int) ([]*store.Job, error)
}

type SlotReporter interface {
	Stats() pool.Stats
}
