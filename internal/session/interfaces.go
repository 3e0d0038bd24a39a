package session

import (
	"time"

	"github.com/fantom-ide/rbvmd/internal/store"
)

type SessionStore interface {
	CreateSession(sess *store.Session) error
	GetSession(id string) (*store.Session, error)
	ListSessions() ([]*store.Session, error)
	UpdateSessionActivity(id string, at time.Time) error
	UpdateSessionStatus(id string, status string, exitCode *int) error
}

// ScratchCleaner removes the directory a session's files live in.
type ScratchCleaner interface {
	Delete(id string) error
}
