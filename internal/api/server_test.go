package api

import (
	"testing"

	"github.com/fantom-ide/rbvmd/internal/testutil"
)

type testDeps struct {
	pipeline *MockPipeline
	sessions *MockSessionService
	jobs     *MockJobLister
	slots    *MockSlotReporter
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		pipeline: &MockPipeline{},
		sessions: &MockSessionService{},
		jobs:     &MockJobLister{},
		slots:    &MockSlotReporter{},
	}
	s := NewServer(testutil.TestConfig(), deps.pipeline, deps.sessions, deps.jobs, deps.slots, testutil.DiscardLogger())
	t.Cleanup(func() {
		deps.pipeline.AssertExpectations(t)
		deps.sessions.AssertExpectations(t)
		deps.jobs.AssertExpectations(t)
		deps.slots.AssertExpectations(t)
	})
	return s, deps
}
