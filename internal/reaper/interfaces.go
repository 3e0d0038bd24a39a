package reaper

import (
	"context"
	"time"

	"github.com/fantom-ide/rbvmd/internal/store"
)

// ReaperStore abstracts store operations needed by the reaper.
type ReaperStore interface {
	ListRunningSessions() ([]*store.Session, error)
	UpdateSessionStatus(id string, status string, exitCode *int) error
	MarkRunningAs(status string) (int64, error)
}

// SessionManager abstracts the live session operations needed by the reaper.
type SessionManager interface {
	Idle(cutoff time.Time) []string
	Expire(ctx context.Context, id string) error
	IsLive(id string) bool
	Live() int
}

// ScratchSweeper removes job directories left behind by a previous run.
type ScratchSweeper interface {
	Sweep(keep func(id string) bool) (int, error)
}
