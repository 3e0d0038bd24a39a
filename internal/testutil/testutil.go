package testutil

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fantom-ide/rbvmd/internal/config"
	"github.com/fantom-ide/rbvmd/internal/store"
)

// TestConfig returns a Config with sensible test defaults.
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.DBPath = ":memory:"
	cfg.MaxConcurrentJobs = 2
	cfg.JobTimeoutMs = 10000
	cfg.Session.ExchangeTimeoutMs = 5000
	return cfg
}

func TestSession(id string) *store.Session {
	now := time.Now().UTC()
	return &store.Session{
		ID:           id,
		Argv:         []string{"stdbuf", "-oL", "bin/rbvm", id},
		Transport:    "pipe",
		Status:       store.StatusRunning,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// NewTestStore creates an in-memory SQLite store for testing.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", 1)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
