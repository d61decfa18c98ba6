package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"skillmodel/internal/config"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	"skillmodel/internal/services"
	contextutils "skillmodel/internal/utils"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAnalysis struct {
	mock.Mock
}

func (m *mockAnalysis) AnalyzeSession(ctx context.Context, sessionID, userID int) (*models.AnalysisResult, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AnalysisResult), args.Error(1)
}

// Embedded interfaces satisfy the methods a test never calls
type mockSessions struct {
	services.SessionServiceInterface
	mock.Mock
}

func (m *mockSessions) ListPendingSessions(ctx context.Context, limit int) ([]models.PendingSession, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.PendingSession), args.Error(1)
}

type mockSignals struct {
	services.SignalServiceInterface
	mock.Mock
}

func (m *mockSignals) GetSignal(ctx context.Context, userID int) (*models.ProficiencySignal, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProficiencySignal), args.Error(1)
}

type mockWorkers struct {
	services.WorkerServiceInterface
	mock.Mock
}

func (m *mockWorkers) SetGlobalPause(ctx context.Context, paused bool) error {
	return m.Called(ctx, paused).Error(0)
}

func (m *mockWorkers) SetUserPause(ctx context.Context, userID int, paused bool) error {
	return m.Called(ctx, userID, paused).Error(0)
}

type fakeServices struct {
	analysis *mockAnalysis
	sessions *mockSessions
	signals  *mockSignals
	workers  *mockWorkers
}

func (f *fakeServices) GetAnalysisService() (services.AnalysisServiceInterface, error) {
	return f.analysis, nil
}

func (f *fakeServices) GetSessionService() (services.SessionServiceInterface, error) {
	return f.sessions, nil
}

func (f *fakeServices) GetSignalService() (services.SignalServiceInterface, error) {
	return f.signals, nil
}

func (f *fakeServices) GetWorkerService() (services.WorkerServiceInterface, error) {
	return f.workers, nil
}

func newTestEnv() (*Env, *fakeServices) {
	f := &fakeServices{
		analysis: &mockAnalysis{},
		sessions: &mockSessions{},
		signals:  &mockSignals{},
		workers:  &mockWorkers{},
	}
	env := NewEnv(&config.Config{}, observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false}))
	env.services = f
	return env, f
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyzeCommand_Single(t *testing.T) {
	env, f := newTestEnv()
	f.analysis.On("AnalyzeSession", mock.Anything, 42, 7).Return(&models.AnalysisResult{
		Success: true, Status: models.AnalysisStatusAnalysed, SessionID: 42, UserID: 7, DimensionsApplied: 3,
	}, nil)

	out, err := execute(AnalyzeCommands(env), "--session", "42", "--user", "7")

	require.NoError(t, err)
	assert.Contains(t, out, `"status": "analysed"`)
	assert.Contains(t, out, `"dimensions_applied": 3`)
}

func TestAnalyzeCommand_RequiresIDs(t *testing.T) {
	env, f := newTestEnv()

	_, err := execute(AnalyzeCommands(env), "--session", "42")

	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeInvalidInput, contextutils.GetErrorCode(err))
	f.analysis.AssertNotCalled(t, "AnalyzeSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyzeCommand_Pending(t *testing.T) {
	env, f := newTestEnv()
	f.sessions.On("ListPendingSessions", mock.Anything, 10).Return([]models.PendingSession{
		{SessionID: 1, UserID: 7},
		{SessionID: 2, UserID: 8},
	}, nil)
	f.analysis.On("AnalyzeSession", mock.Anything, 1, 7).Return(&models.AnalysisResult{Status: models.AnalysisStatusAnalysed}, nil)
	f.analysis.On("AnalyzeSession", mock.Anything, 2, 8).Return(nil, contextutils.ErrTransientStore)

	out, err := execute(AnalyzeCommands(env), "--pending", "--limit", "10")

	require.Error(t, err)
	assert.Contains(t, out, "session 1 (user 7): analysed")
	assert.Contains(t, out, "session 2 (user 8): error")
	assert.Contains(t, out, "2 pending, 1 failed")
}

func TestTaxonomyValidateCommand(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte("version: \"v1\"\nmetrics:\n  - id: inference\n    nodes: [draw_conclusion, infer_meaning]\n"), 0o600))
	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("metrics: not-a-list\n"), 0o600))

	env, _ := newTestEnv()

	out, err := execute(TaxonomyCommands(env), "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "valid (version v1, 1 metrics, 2 nodes)")

	_, err = execute(TaxonomyCommands(env), "validate", invalid)
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeTaxonomyInvalid, contextutils.GetErrorCode(err))
}

func TestSignalShowCommand(t *testing.T) {
	env, f := newTestEnv()
	f.signals.On("GetSignal", mock.Anything, 7).Return(&models.ProficiencySignal{
		UserID:         7,
		GenreStrengths: map[string]int{"fiction": 70},
	}, nil)

	out, err := execute(SignalCommands(env), "show", "--user", "7")

	require.NoError(t, err)
	assert.Contains(t, out, `"user_id": 7`)
	assert.Contains(t, out, `"fiction": 70`)
}

func TestWorkerPauseResumeCommands(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		setup func(w *mockWorkers)
		want  string
	}{
		{
			name:  "pause globally",
			args:  []string{"pause"},
			setup: func(w *mockWorkers) { w.On("SetGlobalPause", mock.Anything, true).Return(nil) },
			want:  "worker paused globally",
		},
		{
			name:  "resume globally",
			args:  []string{"resume"},
			setup: func(w *mockWorkers) { w.On("SetGlobalPause", mock.Anything, false).Return(nil) },
			want:  "worker resumed globally",
		},
		{
			name:  "pause one user",
			args:  []string{"pause", "--user", "9"},
			setup: func(w *mockWorkers) { w.On("SetUserPause", mock.Anything, 9, true).Return(nil) },
			want:  "user 9 paused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, f := newTestEnv()
			tt.setup(f.workers)

			out, err := execute(WorkerCommands(env), tt.args...)

			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
			f.workers.AssertExpectations(t)
		})
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://***:***@db:5432/skillmodel", maskDatabaseURL("postgres://user:pw@db:5432/skillmodel"))
	assert.Equal(t, "postgres://localhost/skillmodel", maskDatabaseURL("postgres://localhost/skillmodel"))
}
