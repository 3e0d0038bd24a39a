package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fantom-ide/rbvmd/internal/config"
	"github.com/fantom-ide/rbvmd/internal/store"
)

type Manager struct {
	cfg      *config.Config
	registry *Registry
	store    SessionStore
	scratch  ScratchCleaner
	logger   *slog.Logger
}

func NewManager(cfg *config.Config, reg *Registry, st SessionStore, sc ScratchCleaner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		registry: reg,
		store:    st,
		scratch:  sc,
		logger:   logger,
	}
}

type StartOpts struct {
	ID   string
	Argv []string
	Dir  string
	Env  []string
}

type SessionInfo struct {
	ID           string     `json:"id"`
	Argv         []string   `json:"argv"`
	Transport    string     `json:"transport"`
	Status       string     `json:"status"`
	Live         bool       `json:"live"`
	Pid          int        `json:"pid,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Start launches an interactive process under opts.ID and reads the first
// line it prints from the spawned handle, so a process that exits right after
// its banner still delivers it. When the process started but no banner could
// be read, the session info is returned together with the error.
func (m *Manager) Start(ctx context.Context, opts StartOpts) (*SessionInfo, string, error) {
	h, err := m.start(ctx, opts)
	if err != nil {
		return nil, "", err
	}
	banner, err := h.Read(ctx, m.cfg.Session.ExchangeTimeout())
	if err != nil {
		return liveInfo(h), "", err
	}
	m.recordActivity(h)
	return liveInfo(h), banner, nil
}

// start launches the process and registers it. No output is consumed.
func (m *Manager) start(ctx context.Context, opts StartOpts) (*Handle, error) {
	if opts.ID == "" {
		return nil, errors.New("session id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := m.registry.Lookup(opts.ID); ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, opts.ID)
	}

	h, err := spawn(spawnOpts{
		ID:        opts.ID,
		Argv:      opts.Argv,
		Dir:       opts.Dir,
		Env:       opts.Env,
		Transport: Transport(m.cfg.Session.Transport),
		MaxLine:   m.cfg.Session.MaxLineBytes(),
		OnExit:    m.handleExit,
		Logger:    m.logger,
	})
	if err != nil {
		return nil, err
	}
	defer h.markReady()

	if err := m.registry.Add(h); err != nil {
		h.Terminate(context.Background(), 0)
		return nil, err
	}

	now := h.createdAt
	if err := m.store.CreateSession(&store.Session{
		ID:           h.id,
		Argv:         h.argv,
		Transport:    string(h.transport),
		Status:       store.StatusRunning,
		CreatedAt:    now,
		LastActivity: now,
	}); err != nil {
		m.registry.removeHandle(h)
		h.Terminate(context.Background(), 0)
		return nil, fmt.Errorf("store session: %w", err)
	}

	m.logger.Info("session started", "session_id", h.id, "pid", h.Pid(), "transport", h.transport)
	return h, nil
}

// handleExit runs once per registered process after it has been reaped.
func (m *Manager) handleExit(h *Handle) {
	if !m.registry.removeHandle(h) {
		return
	}
	code, _ := h.ExitCode()
	status := store.StatusExited
	switch {
	case h.expired.Load():
		status = store.StatusExpired
	case h.Terminated():
		status = store.StatusTerminated
	}
	if err := m.store.UpdateSessionStatus(h.id, status, &code); err != nil {
		m.logger.Warn("failed to record session end", "session_id", h.id, "error", err)
	}
	if m.scratch != nil {
		if err := m.scratch.Delete(h.id); err != nil {
			m.logger.Warn("failed to remove session files", "session_id", h.id, "error", err)
		}
	}
	m.logger.Info("session ended", "session_id", h.id, "status", status, "exit_code", code,
		"lifetime", time.Since(h.createdAt).Round(time.Millisecond))
}

func (m *Manager) lookup(id string) (*Handle, error) {
	h, ok := m.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return h, nil
}

// Exchange sends line to the session and returns the line it answers with.
func (m *Manager) Exchange(ctx context.Context, id, line string) (string, error) {
	h, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	reply, err := h.Exchange(ctx, line, m.cfg.Session.ExchangeTimeout())
	if err != nil {
		return "", err
	}
	m.recordActivity(h)
	return reply, nil
}

func (m *Manager) recordActivity(h *Handle) {
	if err := m.store.UpdateSessionActivity(h.id, h.LastActivity()); err != nil {
		m.logger.Debug("failed to record session activity", "session_id", h.id, "error", err)
	}
}

func (m *Manager) Get(ctx context.Context, id string) (*SessionInfo, error) {
	if h, ok := m.registry.Lookup(id); ok {
		return liveInfo(h), nil
	}
	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return recordedInfo(sess), nil
}

// List returns every recorded session, live ones included.
func (m *Manager) List(ctx context.Context) ([]SessionInfo, error) {
	sessions, err := m.store.ListSessions()
	if err != nil {
		return nil, err
	}

	result := make([]SessionInfo, len(sessions))
	for i, s := range sessions {
		if h, ok := m.registry.Lookup(s.ID); ok {
			result[i] = *liveInfo(h)
			continue
		}
		result[i] = *recordedInfo(s)
	}
	return result, nil
}

// Destroy terminates a live session. Its exit hook deregisters it.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	h, err := m.lookup(id)
	if err != nil {
		return err
	}
	return h.Terminate(ctx, m.cfg.Session.TerminateGrace())
}

// Expire terminates a session that has been idle for too long.
func (m *Manager) Expire(ctx context.Context, id string) error {
	h, err := m.lookup(id)
	if err != nil {
		return err
	}
	h.expired.Store(true)
	return h.Terminate(ctx, m.cfg.Session.TerminateGrace())
}

// Idle returns the live sessions whose last activity is before cutoff.
func (m *Manager) Idle(cutoff time.Time) []string {
	var ids []string
	for _, h := range m.registry.List() {
		if h.LastActivity().Before(cutoff) {
			ids = append(ids, h.id)
		}
	}
	return ids
}

// CloseAll terminates every live session concurrently.
func (m *Manager) CloseAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range m.registry.List() {
		g.Go(func() error {
			return h.Terminate(gctx, m.cfg.Session.TerminateGrace())
		})
	}
	return g.Wait()
}

// Taken reports whether id names a live session or one in the history.
func (m *Manager) Taken(id string) bool {
	if _, ok := m.registry.Lookup(id); ok {
		return true
	}
	sess, err := m.store.GetSession(id)
	return err != nil || sess != nil
}

func (m *Manager) Live() int {
	return m.registry.Len()
}

func liveInfo(h *Handle) *SessionInfo {
	info := &SessionInfo{
		ID:           h.id,
		Argv:         h.Argv(),
		Transport:    string(h.transport),
		Status:       store.StatusRunning,
		Live:         true,
		Pid:          h.Pid(),
		CreatedAt:    h.createdAt,
		LastActivity: h.LastActivity().UTC(),
	}
	if code, ok := h.ExitCode(); ok {
		info.Status = store.StatusExited
		info.ExitCode = &code
		info.Live = false
	}
	return info
}

func recordedInfo(s *store.Session) *SessionInfo {
	return &SessionInfo{
		ID:           s.ID,
		Argv:         s.Argv,
		Transport:    s.Transport,
		Status:       s.Status,
		ExitCode:     s.ExitCode,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		EndedAt:      s.EndedAt,
	}
}

// IsLive reports whether id names a registered process.
func (m *Manager) IsLive(id string) bool {
	_, ok := m.registry.Lookup(id)
	return ok
}
