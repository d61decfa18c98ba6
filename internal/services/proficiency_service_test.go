package services

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"skillmodel/internal/config"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	contextutils "skillmodel/internal/utils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var proficiencyRowColumns = []string{
	"id", "user_id", "dimension_type", "dimension_key", "proficiency_score", "confidence_score",
	"total_attempts", "correct_attempts", "last_session_id", "trend", "created_at", "updated_at",
}

func newTestProficiencyService(t *testing.T) (*ProficiencyService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	service := NewProficiencyServiceWithLogger(db, nil, logger)

	cleanup := func() {
		mock.ExpectClose()
		require.NoError(t, db.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	}
	return service, mock, cleanup
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(0, 9))
	assert.InDelta(t, 1.0/3.0, Confidence(1, 9), 1e-9)
	assert.Equal(t, 1.0, Confidence(9, 9))
	assert.Equal(t, 1.0, Confidence(10, 9))
	assert.Equal(t, 1.0, Confidence(3, 0))

	prev := 0.0
	for n := 0; n <= 100; n++ {
		c := Confidence(n, config.DefaultConfidenceThreshold)
		assert.GreaterOrEqual(t, c, prev, "confidence must not decrease at n=%d", n)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
		prev = c
	}
}

func TestBlendProficiency_ConvexCombination(t *testing.T) {
	for _, old := range []float64{0, 12, 50, 77, 100} {
		for _, surface := range []int{0, 33, 50, 90, 100} {
			for n := 1; n <= 12; n++ {
				blended := BlendProficiency(old, surface, Confidence(n, 9), 0.2)
				lo := math.Min(old, float64(surface))
				hi := math.Max(old, float64(surface))
				assert.GreaterOrEqual(t, blended, lo-1e-9)
				assert.LessOrEqual(t, blended, hi+1e-9)

				score := ClampScore(blended)
				assert.GreaterOrEqual(t, score, 0)
				assert.LessOrEqual(t, score, 100)
			}
		}
	}
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-4))
	assert.Equal(t, 100, ClampScore(100.4))
	assert.Equal(t, 63, ClampScore(62.5))
	assert.Equal(t, 62, ClampScore(62.49))
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		old     float64
		updated int
		want    models.Trend
	}{
		{50, 60, models.TrendImproving},
		{50, 54, models.TrendImproving},
		{50, 53, models.TrendStagnant},
		{50, 47, models.TrendStagnant},
		{50, 46, models.TrendDeclining},
		{60, 48, models.TrendDeclining},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyTrend(tt.old, tt.updated, 3), "old=%v new=%d", tt.old, tt.updated)
	}
}

func TestComputeProficiencyUpdate_FirstObservation(t *testing.T) {
	key := models.DimensionKey{Type: models.DimensionGenre, Key: "fiction"}
	update := ComputeProficiencyUpdate(nil, key, models.DimensionStat{Attempts: 10, Correct: 10, Score: 100}, DefaultProficiencyParams())

	assert.Equal(t, 50.0, update.OldScore)
	assert.Equal(t, 1.0, update.ConfidenceScore)
	assert.Equal(t, 60, update.ProficiencyScore)
	assert.Equal(t, 10, update.TotalAttempts)
	assert.Equal(t, 10, update.CorrectAttempts)
	assert.Equal(t, models.TrendImproving, update.Trend)
}

func TestComputeProficiencyUpdate_ExistingRecord(t *testing.T) {
	key := models.DimensionKey{Type: models.DimensionGenre, Key: "fiction"}
	existing := &models.ProficiencyRecord{ProficiencyScore: 60, TotalAttempts: 9, CorrectAttempts: 6}
	update := ComputeProficiencyUpdate(existing, key, models.DimensionStat{Attempts: 1, Correct: 0, Score: 0}, DefaultProficiencyParams())

	assert.Equal(t, 60.0, update.OldScore)
	assert.Equal(t, 10, update.TotalAttempts)
	assert.Equal(t, 6, update.CorrectAttempts)
	assert.Equal(t, 1.0, update.ConfidenceScore)
	assert.Equal(t, 48, update.ProficiencyScore)
	assert.Equal(t, models.TrendDeclining, update.Trend)
}

func TestComputeProficiencyUpdate_LowConfidenceDampsChange(t *testing.T) {
	key := models.DimensionKey{Type: models.DimensionQuestionType, Key: "mc"}
	update := ComputeProficiencyUpdate(nil, key, models.DimensionStat{Attempts: 1, Correct: 1, Score: 100}, DefaultProficiencyParams())

	// weight = 0.2 * sqrt(1/9)
	assert.InDelta(t, 1.0/3.0, update.ConfidenceScore, 1e-9)
	assert.Equal(t, 53, update.ProficiencyScore)
	assert.Equal(t, models.TrendStagnant, update.Trend)
}

func TestProficiencyParamsFromConfig(t *testing.T) {
	params := ProficiencyParamsFromConfig(config.AnalysisConfig{ConfidenceThreshold: 4, Alpha: 0.5, TrendDeltaThreshold: 1, DefaultProficiency: 40})
	assert.Equal(t, ProficiencyParams{ConfidenceThreshold: 4, Alpha: 0.5, TrendDeltaThreshold: 1, DefaultProficiency: 40}, params)
}

func expectLockAndLoad(mock sqlmock.Sqlmock, userID int, rows *sqlmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1, $2)")).
		WithArgs(proficiencyLockNamespace, userID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM proficiency WHERE user_id = \\$1").
		WithArgs(userID).
		WillReturnRows(rows)
}

func TestApplySessionStats_NewDimension(t *testing.T) {
	service, mock, cleanup := newTestProficiencyService(t)
	defer cleanup()

	stats := models.SurfaceStats{
		{Type: models.DimensionGenre, Key: "fiction"}: {Attempts: 10, Correct: 10, Accuracy: 1, Score: 100},
	}

	expectLockAndLoad(mock, 3, sqlmock.NewRows(proficiencyRowColumns))
	mock.ExpectExec("^SAVEPOINT dim_0$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO proficiency").
		WithArgs(3, "genre", "fiction", 60, 1.0, 10, 10, 42, "improving").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("^RELEASE SAVEPOINT dim_0$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := service.ApplySessionStats(context.Background(), 3, 42, stats)
	require.NoError(t, err)
	assert.Equal(t, []models.DimensionKey{{Type: models.DimensionGenre, Key: "fiction"}}, result.Applied)
	assert.Empty(t, result.Skipped)
	assert.Empty(t, result.Failed)
}

func TestApplySessionStats_ExistingRecordAndSkip(t *testing.T) {
	service, mock, cleanup := newTestProficiencyService(t)
	defer cleanup()

	now := time.Now()
	stats := models.SurfaceStats{
		{Type: models.DimensionGenre, Key: "fiction"}:          {Attempts: 1, Correct: 0, Score: 0},
		{Type: models.DimensionQuestionType, Key: "main_idea"}: {Attempts: 1, Correct: 1, Score: 100},
	}
	rows := sqlmock.NewRows(proficiencyRowColumns).
		AddRow(1, 3, "genre", "fiction", 60, 1.0, 9, 6, int64(41), "improving", now, now).
		AddRow(2, 3, "question_type", "main_idea", 70, 1.0, 12, 9, int64(42), "stagnant", now, now)

	expectLockAndLoad(mock, 3, rows)
	mock.ExpectExec("^SAVEPOINT dim_0$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO proficiency").
		WithArgs(3, "genre", "fiction", 48, 1.0, 10, 6, 42, "declining").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("^RELEASE SAVEPOINT dim_0$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := service.ApplySessionStats(context.Background(), 3, 42, stats)
	require.NoError(t, err)
	assert.Equal(t, []models.DimensionKey{{Type: models.DimensionGenre, Key: "fiction"}}, result.Applied)
	assert.Equal(t, []models.DimensionKey{{Type: models.DimensionQuestionType, Key: "main_idea"}}, result.Skipped)
}

func TestApplySessionStats_ConditionalUpsertNoop(t *testing.T) {
	service, mock, cleanup := newTestProficiencyService(t)
	defer cleanup()

	stats := models.SurfaceStats{{Type: models.DimensionCoreMetric, Key: "inference"}: {Attempts: 2, Correct: 1, Score: 50}}

	expectLockAndLoad(mock, 5, sqlmock.NewRows(proficiencyRowColumns))
	mock.ExpectExec("^SAVEPOINT dim_0$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO proficiency").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^RELEASE SAVEPOINT dim_0$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := service.ApplySessionStats(context.Background(), 5, 9, stats)
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Len(t, result.Skipped, 1)
}

func TestApplySessionStats_DimensionFailureIsIsolated(t *testing.T) {
	service, mock, cleanup := newTestProficiencyService(t)
	defer cleanup()

	stats := models.SurfaceStats{
		{Type: models.DimensionCoreMetric, Key: "main_idea"}: {Attempts: 1, Correct: 1, Score: 100},
		{Type: models.DimensionGenre, Key: "poetry"}:         {Attempts: 1, Correct: 0, Score: 0},
	}

	expectLockAndLoad(mock, 3, sqlmock.NewRows(proficiencyRowColumns))
	mock.ExpectExec("^SAVEPOINT dim_0$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO proficiency").
		WithArgs(3, "core_metric", "main_idea", sqlmock.AnyArg(), sqlmock.AnyArg(), 1, 1, 7, sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23514", Message: "check violation"})
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT dim_0$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^SAVEPOINT dim_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO proficiency").
		WithArgs(3, "genre", "poetry", sqlmock.AnyArg(), sqlmock.AnyArg(), 1, 0, 7, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("^RELEASE SAVEPOINT dim_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := service.ApplySessionStats(context.Background(), 3, 7, stats)
	require.NoError(t, err)
	assert.Equal(t, []models.DimensionKey{{Type: models.DimensionCoreMetric, Key: "main_idea"}}, result.Failed)
	assert.Equal(t, []models.DimensionKey{{Type: models.DimensionGenre, Key: "poetry"}}, result.Applied)
}

func TestApplySessionStats_EmptyStats(t *testing.T) {
	service, _, cleanup := newTestProficiencyService(t)
	defer cleanup()

	result, err := service.ApplySessionStats(context.Background(), 3, 7, models.SurfaceStats{})
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
}

func TestApplySessionStats_LockFailureRollsBack(t *testing.T) {
	service, mock, cleanup := newTestProficiencyService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()

	_, err := service.ApplySessionStats(context.Background(), 3, 7, models.SurfaceStats{
		{Type: models.DimensionGenre, Key: "fiction"}: {Attempts: 1, Score: 0},
	})
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeTransientStore, contextutils.GetErrorCode(err))
	assert.True(t, contextutils.IsRetryable(err))
}

func TestApplySessionStats_CommitFailure(t *testing.T) {
	service, mock, cleanup := newTestProficiencyService(t)
	defer cleanup()

	expectLockAndLoad(mock, 3, sqlmock.NewRows(proficiencyRowColumns))
	mock.ExpectExec("^SAVEPOINT dim_0$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO proficiency").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("^RELEASE SAVEPOINT dim_0$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	result, err := service.ApplySessionStats(context.Background(), 3, 7, models.SurfaceStats{
		{Type: models.DimensionGenre, Key: "fiction"}: {Attempts: 1, Score: 100},
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, contextutils.IsRetryable(err))
}

func TestApplySessionStats_BeginFailure(t *testing.T) {
	service, mock, cleanup := newTestProficiencyService(t)
	defer cleanup()

	mock.ExpectBegin().WillReturnError(&pq.Error{Code: "53300", Message: "too many connections"})

	_, err := service.ApplySessionStats(context.Background(), 3, 7, models.SurfaceStats{
		{Type: models.DimensionGenre, Key: "fiction"}: {Attempts: 1, Score: 100},
	})
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeTransientStore, contextutils.GetErrorCode(err))
}

func TestGetUserProficiency(t *testing.T) {
	service, mock, cleanup := newTestProficiencyService(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("FROM proficiency WHERE user_id = \\$1").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows(proficiencyRowColumns).
			AddRow(3, 3, "reasoning_step", "summarize", 40, 0.5, 2, 1, nil, "stagnant", now, now).
			AddRow(1, 3, "genre", "fiction", 60, 1.0, 10, 10, int64(5), "improving", now, now).
			AddRow(4, 3, "bogus", "x", 1, 0.1, 1, 0, nil, "stagnant", now, now).
			AddRow(2, 3, "core_metric", "main_idea", 55, 0.8, 6, 4, int64(5), "improving", now, now))

	records, err := service.GetUserProficiency(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, models.DimensionCoreMetric, records[0].DimensionType)
	assert.Equal(t, models.DimensionGenre, records[1].DimensionType)
	assert.Equal(t, models.DimensionReasoningStep, records[2].DimensionType)
	assert.False(t, records[2].LastSessionID.Valid)
	assert.True(t, records[1].AppliedSession(5))
}

func TestGetUserProficiency_Errors(t *testing.T) {
	service, mock, cleanup := newTestProficiencyService(t)
	defer cleanup()

	_, err := service.GetUserProficiency(context.Background(), 0)
	assert.True(t, contextutils.IsError(err, contextutils.ErrInvalidInput))

	mock.ExpectQuery("FROM proficiency").WillReturnError(errors.New("relation does not exist"))
	_, err = service.GetUserProficiency(context.Background(), 3)
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeDatabaseQuery, contextutils.GetErrorCode(err))

	mock.ExpectQuery("FROM proficiency").WillReturnError(sql.ErrConnDone)
	_, err = service.GetUserProficiency(context.Background(), 3)
	require.Error(t, err)
}
