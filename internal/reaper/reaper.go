package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/fantom-ide/rbvmd/internal/store"
)

type Reaper struct {
	store    ReaperStore
	sessions SessionManager
	scratch  ScratchSweeper
	interval time.Duration
	idleTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func New(st ReaperStore, sm SessionManager, sc ScratchSweeper, interval, idleTTL time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		store:    st,
		sessions: sm,
		scratch:  sc,
		interval: interval,
		idleTTL:  idleTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Run expires idle sessions every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval, "idle_ttl", r.idleTTL)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.reapIdle(ctx)
		}
	}
}

func (r *Reaper) reapIdle(ctx context.Context) {
	if r.idleTTL <= 0 {
		return
	}
	cutoff := r.now().Add(-r.idleTTL)
	idle := r.sessions.Idle(cutoff)

	reaped := 0
	for _, id := range idle {
		r.logger.Info("expiring idle session", "session_id", id, "idle_ttl", r.idleTTL)
		if err := r.sessions.Expire(ctx, id); err != nil {
			r.logger.Error("reaper: expire session", "session_id", id, "error", err)
			continue
		}
		reaped++
	}

	if reaped > 0 {
		r.logger.Info("reaper: expired sessions", "count", reaped)
	}
}

// Reconcile brings the store and the scratch directory in line with the live
// sessions. Sessions recorded as running without a live process are marked
// lost; directories that belong to no live session are removed. Call it
// before serving requests, while no one-shot job can own a directory.
func (r *Reaper) Reconcile(ctx context.Context) {
	r.logger.Info("reconciliation starting")

	if r.sessions.Live() == 0 {
		// Nothing is registered yet, so every running row is an orphan.
		n, err := r.store.MarkRunningAs(store.StatusLost)
		if err != nil {
			r.logger.Error("reconcile: mark running sessions lost", "error", err)
		} else if n > 0 {
			r.logger.Warn("reconcile: marked sessions from a previous run lost", "count", n)
		}
	} else {
		r.markOrphansLost()
	}

	if r.scratch != nil {
		removed, err := r.scratch.Sweep(r.sessions.IsLive)
		if err != nil {
			r.logger.Error("reconcile: sweep scratch", "error", err)
		} else if removed > 0 {
			r.logger.Info("reconcile: removed stale scratch directories", "count", removed)
		}
	}

	r.logger.Info("reconciliation complete")
}

func (r *Reaper) markOrphansLost() {
	running, err := r.store.ListRunningSessions()
	if err != nil {
		r.logger.Error("reconcile: list running sessions", "error", err)
		return
	}
	for _, sess := range running {
		if r.sessions.IsLive(sess.ID) {
			continue
		}
		r.logger.Warn("reconcile: session process not running, marking lost", "session_id", sess.ID)
		if err := r.store.UpdateSessionStatus(sess.ID, store.StatusLost, nil); err != nil {
			r.logger.Error("reconcile: update status", "session_id", sess.ID, "error", err)
		}
	}
}
