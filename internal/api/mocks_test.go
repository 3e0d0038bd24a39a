package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fantom-ide/rbvmd/internal/pool"
	"github.com/fantom-ide/rbvmd/internal/session"
	"github.com/fantom-ide/rbvmd/internal/store"
	"github.com/fantom-ide/rbvmd/protocol"
)

type MockPipeline struct {
	mock.Mock
}

func (m *MockPipeline) Compile(ctx context.Context, req protocol.CompileRequest) (*protocol.CompileResponse, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*protocol.CompileResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPipeline) Run(ctx context.Context, bytecodeHex string) (*protocol.ExecutionResponse, error) {
	args := m.Called(ctx, bytecodeHex)
	if resp := args.Get(0); resp != nil {
		return resp.(*protocol.ExecutionResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPipeline) RunMaintained(ctx context.Context, bytecodeHex string) (*protocol.MaintainResponse, error) {
	args := m.Called(ctx, bytecodeHex)
	if resp := args.Get(0); resp != nil {
		return resp.(*protocol.MaintainResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Exchange(ctx context.Context, id, line string) (string, error) {
	args := m.Called(ctx, id, line)
	return args.String(0), args.Error(1)
}

func (m *MockSessionService) Get(ctx context.Context, id string) (*session.SessionInfo, error) {
	args := m.Called(ctx, id)
	if info := args.Get(0); info != nil {
		return info.(*session.SessionInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) List(ctx context.Context) ([]session.SessionInfo, error) {
	args := m.Called(ctx)
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]session.SessionInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) Destroy(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionService) Live() int {
	args := m.Called()
	return args.Int(0)
}

type MockJobLister struct {
	mock.Mock
}

func (m *MockJobLister) ListJobs(limit int) ([]*store.Job, error) {
	args := m.Called(limit)
	if jobs := args.Get(0); jobs != nil {
		return jobs.([]*store.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSlotReporter struct {
	mock.Mock
}

func (m *MockSlotReporter) Stats() pool.Stats {
	args := m.Called()
	return args.Get(0).(pool.Stats)
}
