package services

import (
	"context"

	"skillmodel/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) LoadSession(ctx context.Context, sessionID, userID int) (result0 *models.SessionDataset, err error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SessionDataset), args.Error(1)
}

func (m *MockSessionService) MarkSessionAnalysed(ctx context.Context, sessionID int) (result0 bool, err error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSessionService) SaveDiagnostics(ctx context.Context, sessionID int, taxonomyVersion string, diagnostics []models.AttemptDiagnostic) error {
	args := m.Called(ctx, sessionID, taxonomyVersion, diagnostics)
	return args.Error(0)
}

func (m *MockSessionService) ListPendingSessions(ctx context.Context, limit int) (result0 []models.PendingSession, err error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.PendingSession), args.Error(1)
}

func (m *MockSessionService) GetPendingSession(ctx context.Context, sessionID int) (result0 *models.PendingSession, err error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PendingSession), args.Error(1)
}

type MockProficiencyService struct {
	mock.Mock
}

func (m *MockProficiencyService) ApplySessionStats(ctx context.Context, userID, sessionID int, stats models.SurfaceStats) (result0 *models.ProficiencyUpdateResult, err error) {
	args := m.Called(ctx, userID, sessionID, stats)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProficiencyUpdateResult), args.Error(1)
}

func (m *MockProficiencyService) GetUserProficiency(ctx context.Context, userID int) (result0 []models.ProficiencyRecord, err error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ProficiencyRecord), args.Error(1)
}

type MockSignalService struct {
	mock.Mock
}

func (m *MockSignalService) RefreshSignal(ctx context.Context, userID int) (result0 *models.ProficiencySignal, err error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProficiencySignal), args.Error(1)
}

func (m *MockSignalService) GetSignal(ctx context.Context, userID int) (result0 *models.ProficiencySignal, err error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProficiencySignal), args.Error(1)
}

type MockAnnotator struct {
	mock.Mock
}

func (m *MockAnnotator) Annotate(ctx context.Context, req *models.DiagnosticRequest) (result0 []models.AttemptDiagnostic, err error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AttemptDiagnostic), args.Error(1)
}

type MockUserLocker struct {
	mock.Mock
	unlocked int
}

func (m *MockUserLocker) Lock(ctx context.Context, userID int) (func(), error) {
	args := m.Called(ctx, userID)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return func() { m.unlocked++ }, nil
}
