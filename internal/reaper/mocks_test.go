package reaper

import (
	"context"
	"time"

	"github.com/fantom-ide/rbvmd/internal/store"
	"github.com/stretchr/testify/mock"
)

// MockReaperStore mocks the ReaperStore interface.
type MockReaperStore struct {
	mock.Mock
}

func (m *MockReaperStore) ListRunningSessions() ([]*store.Session, error) {
	args := m.Called()
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReaperStore) UpdateSessionStatus(id string, status string, exitCode *int) error {
	args := m.Called(id, status, exitCode)
	return args.Error(0)
}

func (m *MockReaperStore) MarkRunningAs(status string) (int64, error) {
	args := m.Called(status)
	return args.Get(0).(int64), args.Error(1)
}

// MockSessionManager mocks the SessionManager interface.
type MockSessionManager struct {
	mock.Mock
}

func (m *MockSessionManager) Idle(cutoff time.Time) []string {
	args := m.Called(cutoff)
	if ids := args.Get(0); ids != nil {
		return ids.([]string)
	}
	return nil
}

func (m *MockSessionManager) Expire(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionManager) IsLive(id string) bool {
	args := m.Called(id)
	return args.Bool(0)
}

func (m *MockSessionManager) Live() int {
	args := m.Called()
	return args.Int(0)
}

// MockScratchSweeper mocks the ScratchSweeper interface.
type MockScratchSweeper struct {
	mock.Mock
}

func (m *MockScratchSweeper) Sweep(keep func(id string) bool) (int, error) {
	args := m.Called(keep)
	return args.Int(0), args.Error(1)
}
