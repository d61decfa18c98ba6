package handlers

import (
	"context"

	"skillmodel/internal/models"
	"skillmodel/internal/worker"

	"github.com/stretchr/testify/mock"
)

type MockAnalysisService struct {
	mock.Mock
}

func (m *MockAnalysisService) AnalyzeSession(ctx context.Context, sessionID, userID int) (*models.AnalysisResult, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AnalysisResult), args.Error(1)
}

type MockProficiencyService struct {
	mock.Mock
}

func (m *MockProficiencyService) ApplySessionStats(ctx context.Context, userID, sessionID int, stats models.SurfaceStats) (*models.ProficiencyUpdateResult, error) {
	args := m.Called(ctx, userID, sessionID, stats)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProficiencyUpdateResult), args.Error(1)
}

func (m *MockProficiencyService) GetUserProficiency(ctx context.Context, userID int) ([]models.ProficiencyRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ProficiencyRecord), args.Error(1)
}

type MockSignalService struct {
	mock.Mock
}

func (m *MockSignalService) RefreshSignal(ctx context.Context, userID int) (*models.ProficiencySignal, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProficiencySignal), args.Error(1)
}

func (m *MockSignalService) GetSignal(ctx context.Context, userID int) (*models.ProficiencySignal, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProficiencySignal), args.Error(1)
}

type MockWorkerService struct {
	mock.Mock
}

func (m *MockWorkerService) GetSetting(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockWorkerService) SetSetting(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockWorkerService) IsGlobalPaused(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockWorkerService) SetGlobalPause(ctx context.Context, paused bool) error {
	args := m.Called(ctx, paused)
	return args.Error(0)
}

func (m *MockWorkerService) IsUserPaused(ctx context.Context, userID int) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockWorkerService) SetUserPause(ctx context.Context, userID int, paused bool) error {
	args := m.Called(ctx, userID, paused)
	return args.Error(0)
}

func (m *MockWorkerService) UpdateWorkerStatus(ctx context.Context, instance string, status *models.WorkerStatus) error {
	args := m.Called(ctx, instance, status)
	return args.Error(0)
}

func (m *MockWorkerService) GetWorkerStatus(ctx context.Context, instance string) (*models.WorkerStatus, error) {
	args := m.Called(ctx, instance)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkerStatus), args.Error(1)
}

func (m *MockWorkerService) GetAllWorkerStatuses(ctx context.Context) ([]models.WorkerStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.WorkerStatus), args.Error(1)
}

func (m *MockWorkerService) UpdateHeartbeat(ctx context.Context, instance string) error {
	args := m.Called(ctx, instance)
	return args.Error(0)
}

func (m *MockWorkerService) IsWorkerHealthy(ctx context.Context, instance string) (bool, error) {
	args := m.Called(ctx, instance)
	return args.Bool(0), args.Error(1)
}

func (m *MockWorkerService) PauseWorker(ctx context.Context, instance string) error {
	args := m.Called(ctx, instance)
	return args.Error(0)
}

func (m *MockWorkerService) ResumeWorker(ctx context.Context, instance string) error {
	args := m.Called(ctx, instance)
	return args.Error(0)
}

func (m *MockWorkerService) GetWorkerHealth(ctx context.Context) (*models.WorkerHealth, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkerHealth), args.Error(1)
}

type MockWorkerController struct {
	mock.Mock
}

func (m *MockWorkerController) GetStatus() worker.Status {
	return m.Called().Get(0).(worker.Status)
}

func (m *MockWorkerController) GetHistory() []worker.RunRecord {
	return m.Called().Get(0).([]worker.RunRecord)
}

func (m *MockWorkerController) GetActivityLogs() []worker.ActivityLog {
	return m.Called().Get(0).([]worker.ActivityLog)
}

func (m *MockWorkerController) GetInstance() string {
	return m.Called().String(0)
}

func (m *MockWorkerController) TriggerManualRun() {
	m.Called()
}

func (m *MockWorkerController) Pause(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockWorkerController) Resume(ctx context.Context) {
	m.Called(ctx)
}
