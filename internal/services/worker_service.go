package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"skillmodel/internal/database"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	contextutils "skillmodel/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// ErrSettingNotFound is returned when a setting is not found in the database
var ErrSettingNotFound = errors.New("setting not found")

const (
	globalPauseSetting = "global_pause"
	userPausePrefix    = "user_pause_"

	// heartbeatStaleAfter is how old a heartbeat may be before the instance counts as unhealthy
	heartbeatStaleAfter = 5 * time.Minute
)

// WorkerServiceInterface persists worker settings, status and pause state
type WorkerServiceInterface interface {
	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	IsGlobalPaused(ctx context.Context) (bool, error)
	SetGlobalPause(ctx context.Context, paused bool) error
	IsUserPaused(ctx context.Context, userID int) (bool, error)
	SetUserPause(ctx context.Context, userID int, paused bool) error

	// Status
	UpdateWorkerStatus(ctx context.Context, instance string, status *models.WorkerStatus) error
	GetWorkerStatus(ctx context.Context, instance string) (*models.WorkerStatus, error)
	GetAllWorkerStatuses(ctx context.Context) ([]models.WorkerStatus, error)
	UpdateHeartbeat(ctx context.Context, instance string) error
	IsWorkerHealthy(ctx context.Context, instance string) (bool, error)

	// Control
	PauseWorker(ctx context.Context, instance string) error
	ResumeWorker(ctx context.Context, instance string) error
	GetWorkerHealth(ctx context.Context) (*models.WorkerHealth, error)
}

// WorkerService implements WorkerServiceInterface on Postgres
type WorkerService struct {
	db     *sql.DB
	logger *observability.Logger
	now    func() time.Time
}

// NewWorkerServiceWithLogger creates a new WorkerService instance with logger
func NewWorkerServiceWithLogger(db *sql.DB, logger *observability.Logger) *WorkerService {
	return &WorkerService{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// GetSetting retrieves a setting value by key
func (s *WorkerService) GetSetting(ctx context.Context, key string) (result0 string, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_setting", attribute.String("setting.key", key))
	defer observability.FinishSpan(span, &err)

	if strings.TrimSpace(key) == "" {
		return "", contextutils.WrapError(contextutils.ErrInvalidInput, "setting key cannot be empty")
	}

	var value string
	err = s.db.QueryRowContext(ctx, `
		SELECT setting_value FROM worker_settings WHERE setting_key = $1
	`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug(ctx, "Setting not found", map[string]interface{}{"setting_key": key})
			return "", fmt.Errorf("%s: %w", key, ErrSettingNotFound)
		}
		return "", database.ClassifyStoreError(err, fmt.Sprintf("failed to get setting %s", key))
	}

	return value, nil
}

// SetSetting updates or creates a setting
func (s *WorkerService) SetSetting(ctx context.Context, key, value string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "set_setting", attribute.String("setting.key", key))
	defer observability.FinishSpan(span, &err)

	if strings.TrimSpace(key) == "" {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "setting key cannot be empty")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_settings (setting_key, setting_value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (setting_key) DO UPDATE SET
			setting_value = EXCLUDED.setting_value,
			updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		return database.ClassifyStoreError(err, fmt.Sprintf("failed to set setting %s", key))
	}

	s.logger.Debug(ctx, "Setting updated", map[string]interface{}{"setting_key": key, "setting_value": value})
	return nil
}

func (s *WorkerService) getBoolSetting(ctx context.Context, key string) (bool, error) {
	value, err := s.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

// IsGlobalPaused reports whether every worker instance should stop picking up sessions
func (s *WorkerService) IsGlobalPaused(ctx context.Context) (result0 bool, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "is_global_paused")
	defer observability.FinishSpan(span, &err)

	return s.getBoolSetting(ctx, globalPauseSetting)
}

// SetGlobalPause sets the global pause state
func (s *WorkerService) SetGlobalPause(ctx context.Context, paused bool) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "set_global_pause", attribute.Bool("paused", paused))
	defer observability.FinishSpan(span, &err)

	if err = s.SetSetting(ctx, globalPauseSetting, fmt.Sprintf("%t", paused)); err != nil {
		return err
	}

	s.logger.Info(ctx, "Global pause state updated", map[string]interface{}{"global_paused": paused})
	return nil
}

// IsUserPaused reports whether the worker should leave a user's sessions pending
func (s *WorkerService) IsUserPaused(ctx context.Context, userID int) (result0 bool, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "is_user_paused", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	return s.getBoolSetting(ctx, fmt.Sprintf("%s%d", userPausePrefix, userID))
}

// SetUserPause sets the pause state for a specific user
func (s *WorkerService) SetUserPause(ctx context.Context, userID int, paused bool) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "set_user_pause", observability.AttributeUserID(userID), attribute.Bool("paused", paused))
	defer observability.FinishSpan(span, &err)

	if err = s.SetSetting(ctx, fmt.Sprintf("%s%d", userPausePrefix, userID), fmt.Sprintf("%t", paused)); err != nil {
		return err
	}

	s.logger.Info(ctx, "User pause state updated", map[string]interface{}{"user_id": userID, "user_paused": paused})
	return nil
}

const workerStatusColumns = `id, worker_instance, is_running, is_paused, current_activity,
	last_heartbeat, last_run_start, last_run_finish, last_run_error,
	total_sessions_analysed, total_sessions_failed, total_runs, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkerStatus(row rowScanner) (models.WorkerStatus, error) {
	var status models.WorkerStatus
	err := row.Scan(
		&status.ID, &status.WorkerInstance, &status.IsRunning, &status.IsPaused,
		&status.CurrentActivity, &status.LastHeartbeat, &status.LastRunStart,
		&status.LastRunFinish, &status.LastRunError, &status.TotalSessionsAnalysed,
		&status.TotalSessionsFailed, &status.TotalRuns, &status.CreatedAt, &status.UpdatedAt,
	)
	return status, err
}

// UpdateWorkerStatus upserts the full status row for an instance
func (s *WorkerService) UpdateWorkerStatus(ctx context.Context, instance string, status *models.WorkerStatus) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "update_worker_status",
		attribute.String("worker.instance", instance),
		attribute.Bool("worker.is_running", status.IsRunning),
		attribute.Bool("worker.is_paused", status.IsPaused),
		attribute.String("worker.activity", status.CurrentActivity.String),
	)
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_status (
			worker_instance, is_running, is_paused, current_activity,
			last_heartbeat, last_run_start, last_run_finish, last_run_error,
			total_sessions_analysed, total_sessions_failed, total_runs, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (worker_instance) DO UPDATE SET
			is_running = EXCLUDED.is_running,
			is_paused = EXCLUDED.is_paused,
			current_activity = EXCLUDED.current_activity,
			last_heartbeat = EXCLUDED.last_heartbeat,
			last_run_start = EXCLUDED.last_run_start,
			last_run_finish = EXCLUDED.last_run_finish,
			last_run_error = EXCLUDED.last_run_error,
			total_sessions_analysed = EXCLUDED.total_sessions_analysed,
			total_sessions_failed = EXCLUDED.total_sessions_failed,
			total_runs = EXCLUDED.total_runs,
			updated_at = EXCLUDED.updated_at
	`, instance, status.IsRunning, status.IsPaused, status.CurrentActivity,
		status.LastHeartbeat, status.LastRunStart, status.LastRunFinish,
		status.LastRunError, status.TotalSessionsAnalysed, status.TotalSessionsFailed, status.TotalRuns)
	if err != nil {
		return database.ClassifyStoreError(err, fmt.Sprintf("failed to update worker status for instance %s", instance))
	}

	s.logger.Debug(ctx, "Worker status updated", map[string]interface{}{
		"worker_instance": instance,
		"is_running":      status.IsRunning,
		"is_paused":       status.IsPaused,
		"activity":        status.CurrentActivity.String,
	})
	return nil
}

// GetWorkerStatus retrieves worker status by instance
func (s *WorkerService) GetWorkerStatus(ctx context.Context, instance string) (result0 *models.WorkerStatus, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_worker_status", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	status, err := scanWorkerStatus(s.db.QueryRowContext(ctx,
		`SELECT `+workerStatusColumns+` FROM worker_status WHERE worker_instance = $1`, instance))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "worker status not found for instance %s", instance)
		}
		return nil, database.ClassifyStoreError(err, fmt.Sprintf("failed to get worker status for instance %s", instance))
	}

	return &status, nil
}

// GetAllWorkerStatuses retrieves all worker statuses ordered by instance
func (s *WorkerService) GetAllWorkerStatuses(ctx context.Context) (result0 []models.WorkerStatus, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_all_worker_statuses")
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx, `SELECT `+workerStatusColumns+` FROM worker_status ORDER BY worker_instance`)
	if err != nil {
		return nil, database.ClassifyStoreError(err, "failed to get all worker statuses")
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error(ctx, "Failed to close rows", err, map[string]interface{}{})
		}
	}()

	statuses := []models.WorkerStatus{}
	for rows.Next() {
		status, err := scanWorkerStatus(rows)
		if err != nil {
			return nil, database.ClassifyStoreError(err, "failed to scan worker status row")
		}
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, database.ClassifyStoreError(err, "error iterating worker status rows")
	}

	return statuses, nil
}

// UpdateHeartbeat touches last_heartbeat, creating the row when needed
func (s *WorkerService) UpdateHeartbeat(ctx context.Context, instance string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "update_heartbeat", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_status (worker_instance, last_heartbeat, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (worker_instance) DO UPDATE SET
			last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = EXCLUDED.updated_at
	`, instance)
	if err != nil {
		return database.ClassifyStoreError(err, fmt.Sprintf("failed to update heartbeat for instance %s", instance))
	}
	return nil
}

func (s *WorkerService) heartbeatFresh(lastHeartbeat sql.NullTime) bool {
	return lastHeartbeat.Valid && s.now().Sub(lastHeartbeat.Time) < heartbeatStaleAfter
}

// IsWorkerHealthy reports whether the instance sent a heartbeat recently
func (s *WorkerService) IsWorkerHealthy(ctx context.Context, instance string) (result0 bool, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "is_worker_healthy", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	var lastHeartbeat sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT last_heartbeat FROM worker_status WHERE worker_instance = $1
	`, instance).Scan(&lastHeartbeat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, database.ClassifyStoreError(err, fmt.Sprintf("failed to check worker health for instance %s", instance))
	}

	return s.heartbeatFresh(lastHeartbeat), nil
}

func (s *WorkerService) setInstancePaused(ctx context.Context, instance string, paused bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE worker_status SET is_paused = $2, updated_at = NOW()
		WHERE worker_instance = $1
	`, instance, paused)
	if err != nil {
		return database.ClassifyStoreError(err, fmt.Sprintf("failed to update pause state of worker %s", instance))
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "worker instance %s not registered", instance)
	}
	return nil
}

// PauseWorker pauses a specific worker instance
func (s *WorkerService) PauseWorker(ctx context.Context, instance string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "pause_worker", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	if err = s.setInstancePaused(ctx, instance, true); err != nil {
		return err
	}
	s.logger.Info(ctx, "Worker paused", map[string]interface{}{"worker_instance": instance})
	return nil
}

// ResumeWorker resumes a specific worker instance
func (s *WorkerService) ResumeWorker(ctx context.Context, instance string) (err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "resume_worker", attribute.String("worker.instance", instance))
	defer observability.FinishSpan(span, &err)

	if err = s.setInstancePaused(ctx, instance, false); err != nil {
		return err
	}
	s.logger.Info(ctx, "Worker resumed", map[string]interface{}{"worker_instance": instance})
	return nil
}

// GetWorkerHealth summarises every registered instance
func (s *WorkerService) GetWorkerHealth(ctx context.Context) (result0 *models.WorkerHealth, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "get_worker_health")
	defer observability.FinishSpan(span, &err)

	statuses, err := s.GetAllWorkerStatuses(ctx)
	if err != nil {
		return nil, err
	}

	globalPaused, err := s.IsGlobalPaused(ctx)
	if err != nil {
		s.logger.Error(ctx, "Failed to get global pause state", err, map[string]interface{}{})
		globalPaused = false
	}

	health := &models.WorkerHealth{
		GlobalPaused: globalPaused,
		TotalCount:   len(statuses),
		Instances:    make([]models.WorkerInstanceHealth, 0, len(statuses)),
	}
	for _, status := range statuses {
		healthy := s.heartbeatFresh(status.LastHeartbeat)
		if healthy {
			health.HealthyCount++
		}
		instance := models.WorkerInstanceHealth{
			WorkerInstance:        status.WorkerInstance,
			Healthy:               healthy,
			IsRunning:             status.IsRunning,
			IsPaused:              status.IsPaused,
			LastRunError:          status.LastRunError.String,
			TotalSessionsAnalysed: status.TotalSessionsAnalysed,
			TotalSessionsFailed:   status.TotalSessionsFailed,
			TotalRuns:             status.TotalRuns,
		}
		if status.LastHeartbeat.Valid {
			t := status.LastHeartbeat.Time
			instance.LastHeartbeat = &t
		}
		health.Instances = append(health.Instances, instance)
	}

	span.SetAttributes(
		attribute.Int("worker.count", health.TotalCount),
		attribute.Int("worker.healthy", health.HealthyCount),
	)
	return health, nil
}
