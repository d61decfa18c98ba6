// Package worker contains the background processor that analyses completed
// sessions. It polls for sessions that are completed but not yet analysed,
// wakes early on completion notifications, and reports its health and run
// history through the worker_status table.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"skillmodel/internal/config"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	"skillmodel/internal/services"
	contextutils "skillmodel/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const maxBackoff = time.Hour

// Status represents the current state of the worker
type Status struct {
	IsRunning       bool      `json:"is_running"`
	IsPaused        bool      `json:"is_paused"`
	CurrentActivity string    `json:"current_activity,omitempty"`
	LastRunStart    time.Time `json:"last_run_start"`
	LastRunFinish   time.Time `json:"last_run_finish"`
	LastRunError    string    `json:"last_run_error,omitempty"`
	NextRun         time.Time `json:"next_run"`
}

// RunRecord tracks individual worker runs
type RunRecord struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"` // Success, Failure
	Details   string        `json:"details"`
	Analysed  int           `json:"analysed"`
	Failed    int           `json:"failed"`
}

// ActivityLog represents a single activity log entry
type ActivityLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // INFO, WARN, ERROR
	Message   string    `json:"message"`
	UserID    *int      `json:"user_id,omitempty"`
	SessionID *int      `json:"session_id,omitempty"`
}

// UserFailureInfo tracks failure information for exponential backoff
type UserFailureInfo struct {
	ConsecutiveFailures int
	LastFailureTime     time.Time
	NextRetryTime       time.Time
}

// runOutcome summarises one batch of sessions
type runOutcome struct {
	analysed int
	failed   int
	skipped  int
}

func (o runOutcome) String() string {
	return fmt.Sprintf("analysed %d, failed %d, skipped %d", o.analysed, o.failed, o.skipped)
}

// Worker analyses completed sessions in the background
type Worker struct {
	analysis      services.AnalysisServiceInterface
	sessions      services.SessionServiceInterface
	workerService services.WorkerServiceInterface
	notifier      Notifier
	instance      string
	status        Status
	history       []RunRecord
	activityLogs  []ActivityLog // Circular buffer for recent activity logs
	mu            sync.RWMutex
	manualTrigger chan bool
	cfg           *config.Config
	logger        *observability.Logger

	totalAnalysed int
	totalFailed   int

	// Track failures for exponential backoff
	userFailures map[int]*UserFailureInfo // userID -> failure info
	failureMu    sync.RWMutex

	timeNow func() time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker creates a worker. notifier may be nil, in which case the worker only polls.
func NewWorker(analysis services.AnalysisServiceInterface, sessions services.SessionServiceInterface, workerService services.WorkerServiceInterface, notifier Notifier, instance string, cfg *config.Config, logger *observability.Logger) *Worker {
	if instance == "" {
		instance = cfg.Worker.InstanceID
	}
	if instance == "" {
		instance = "worker-" + uuid.NewString()[:8]
	}

	return &Worker{
		analysis:      analysis,
		sessions:      sessions,
		workerService: workerService,
		notifier:      notifier,
		instance:      instance,
		status:        Status{IsRunning: false, CurrentActivity: "Initialized"},
		history:       make([]RunRecord, 0, cfg.Worker.MaxHistory),
		activityLogs:  make([]ActivityLog, 0, cfg.Worker.MaxActivityLogs),
		manualTrigger: make(chan bool, 1),
		cfg:           cfg,
		logger:        logger,
		userFailures:  make(map[int]*UserFailureInfo),
		timeNow:       time.Now,
		done:          make(chan struct{}),
	}
}

// Start runs the worker loop until ctx is cancelled or Shutdown is called
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.status.IsRunning = true
	w.mu.Unlock()
	defer close(w.done)

	w.updateDatabaseStatus(ctx)
	w.handleStartupPause(ctx)

	go w.heartbeatLoop(ctx)

	ticker := time.NewTicker(w.pollInterval())
	defer ticker.Stop()

	var notifications <-chan int
	if w.notifier != nil {
		notifications = w.notifier.Notifications()
	}

	initialStatus := w.getInitialWorkerStatus(ctx)
	w.logger.Info(ctx, "Worker started", map[string]interface{}{
		"instance":      w.instance,
		"status":        initialStatus,
		"poll_interval": w.pollInterval().String(),
		"concurrency":   w.cfg.Worker.Concurrency,
		"listening":     notifications != nil,
	})
	w.logActivity(ctx, "INFO", fmt.Sprintf("Worker %s started (%s)", w.instance, initialStatus), nil, nil)

	// Drain the backlog left from before startup.
	w.run(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Worker shutting down", map[string]interface{}{
				"instance": w.instance,
			})
			w.logActivity(ctx, "INFO", fmt.Sprintf("Worker %s shutting down", w.instance), nil, nil)
			w.mu.Lock()
			w.status.IsRunning = false
			w.mu.Unlock()
			// The run context is gone; the final status write gets its own.
			stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), config.WorkerShutdownTimeout)
			w.updateDatabaseStatus(stopCtx)
			stopCancel()
			return

		case <-ticker.C:
			w.run(ctx)

		case sessionID, ok := <-notifications:
			if !ok {
				w.logger.Warn(ctx, "Session notifications closed, falling back to polling", map[string]interface{}{
					"instance": w.instance,
				})
				notifications = nil
				continue
			}
			if sessionID == 0 {
				w.run(ctx)
				continue
			}
			w.handleNotification(ctx, sessionID)

		case <-w.manualTrigger:
			w.logger.Info(ctx, "Worker triggered manually", map[string]interface{}{
				"instance": w.instance,
			})
			w.logActivity(ctx, "INFO", fmt.Sprintf("Worker %s triggered manually", w.instance), nil, nil)
			w.run(ctx)
		}
	}
}

func (w *Worker) pollInterval() time.Duration {
	if w.cfg.Worker.PollInterval <= 0 {
		return config.WorkerCheckInterval
	}
	return w.cfg.Worker.PollInterval
}

// handleStartupPause sets global pause if configured
func (w *Worker) handleStartupPause(ctx context.Context) {
	if !w.cfg.Worker.StartPaused {
		return
	}
	w.logger.Info(ctx, "Worker configured to start paused - setting global pause", map[string]interface{}{
		"instance": w.instance,
	})
	if err := w.workerService.SetGlobalPause(ctx, true); err != nil {
		w.logger.Error(ctx, "Failed to set global pause on startup", err, map[string]interface{}{
			"instance": w.instance,
		})
	}
}

// getInitialWorkerStatus determines the initial status string
func (w *Worker) getInitialWorkerStatus(ctx context.Context) string {
	globalPaused, err := w.workerService.IsGlobalPaused(ctx)
	if err != nil {
		w.logger.Error(ctx, "Failed to check global pause status on startup", err, map[string]interface{}{
			"instance": w.instance,
		})
		return "running"
	}
	if globalPaused {
		return "paused (globally)"
	}
	status, err := w.workerService.GetWorkerStatus(ctx, w.instance)
	if err != nil {
		w.logger.Debug(ctx, "Worker status not found on startup (expected for new worker)", map[string]interface{}{
			"instance": w.instance,
		})
		return "running"
	}
	if status != nil && status.IsPaused {
		return "paused (instance)"
	}
	return "running"
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(config.WorkerHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.updateHeartbeat(ctx)
		}
	}
}

// updateHeartbeat updates the heartbeat in the database
func (w *Worker) updateHeartbeat(ctx context.Context) {
	if err := w.workerService.UpdateHeartbeat(ctx, w.instance); err != nil {
		w.logger.Error(ctx, "Failed to update heartbeat for worker", err, map[string]interface{}{
			"instance": w.instance,
		})
	}
}

// run executes a single poll cycle over the pending backlog
func (w *Worker) run(ctx context.Context) {
	ctx, span := observability.TraceWorkerFunction(ctx, "run",
		attribute.String("worker.instance", w.instance),
	)
	defer observability.FinishSpan(span, nil)

	if paused, reason := w.checkPauseStatus(ctx); paused {
		span.SetAttributes(attribute.String("pause_reason", reason))
		w.updateActivity(reason)
		w.updateDatabaseStatus(ctx)
		return
	}

	w.mu.Lock()
	w.status.LastRunStart = w.timeNow()
	w.status.CurrentActivity = "Analysing pending sessions"
	w.mu.Unlock()
	w.updateDatabaseStatus(ctx)

	var outcome runOutcome
	pending, err := w.sessions.ListPendingSessions(ctx, w.cfg.Worker.BatchSize)
	if err == nil {
		outcome = w.processSessions(ctx, pending)
	}

	w.mu.Lock()
	w.status.LastRunFinish = w.timeNow()
	w.status.NextRun = w.status.LastRunFinish.Add(w.pollInterval())
	w.status.CurrentActivity = "Idle"
	if err != nil {
		w.status.LastRunError = err.Error()
	} else {
		w.status.LastRunError = ""
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error(ctx, "Worker run failed", err, map[string]interface{}{
			"instance": w.instance,
		})
	} else if outcome.analysed+outcome.failed > 0 {
		w.logger.Info(ctx, "Worker run completed", map[string]interface{}{
			"instance": w.instance,
			"analysed": outcome.analysed,
			"failed":   outcome.failed,
			"skipped":  outcome.skipped,
		})
	}
	span.SetAttributes(
		attribute.Int("sessions.analysed", outcome.analysed),
		attribute.Int("sessions.failed", outcome.failed),
	)

	w.recordRunHistory(outcome, err)
	w.updateDatabaseStatus(ctx)
}

// handleNotification analyses a single announced session if it is still pending
func (w *Worker) handleNotification(ctx context.Context, sessionID int) {
	ctx, span := observability.TraceWorkerFunction(ctx, "handle_notification",
		attribute.String("worker.instance", w.instance),
		observability.AttributeSessionID(sessionID),
	)
	defer observability.FinishSpan(span, nil)

	if paused, reason := w.checkPauseStatus(ctx); paused {
		w.updateActivity(reason)
		return
	}

	pending, err := w.sessions.GetPendingSession(ctx, sessionID)
	if err != nil {
		w.logger.Error(ctx, "Failed to look up notified session", err, map[string]interface{}{
			"instance":   w.instance,
			"session_id": sessionID,
		})
		return
	}
	if pending == nil {
		w.logger.Debug(ctx, "Notified session is not pending", map[string]interface{}{
			"instance":   w.instance,
			"session_id": sessionID,
		})
		return
	}

	outcome := w.processSessions(ctx, []models.PendingSession{*pending})
	if outcome.analysed+outcome.failed > 0 {
		w.updateDatabaseStatus(ctx)
	}
}

// processSessions analyses sessions with bounded concurrency. Per-session errors are
// recorded and never abort the batch.
func (w *Worker) processSessions(ctx context.Context, pending []models.PendingSession) runOutcome {
	var analysed, failed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, w.cfg.Worker.Concurrency))

	for _, p := range pending {
		if gctx.Err() != nil {
			break
		}
		if !w.shouldRetryUser(p.UserID) {
			skipped.Add(1)
			continue
		}
		if paused, err := w.workerService.IsUserPaused(gctx, p.UserID); err != nil {
			w.logger.Warn(gctx, "Failed to check user pause, skipping session", map[string]interface{}{
				"instance":   w.instance,
				"user_id":    p.UserID,
				"session_id": p.SessionID,
				"error":      err.Error(),
			})
			skipped.Add(1)
			continue
		} else if paused {
			skipped.Add(1)
			continue
		}

		g.Go(func() error {
			if w.analyseSession(gctx, p) {
				analysed.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	outcome := runOutcome{
		analysed: int(analysed.Load()),
		failed:   int(failed.Load()),
		skipped:  int(skipped.Load()),
	}
	w.mu.Lock()
	w.totalAnalysed += outcome.analysed
	w.totalFailed += outcome.failed
	w.mu.Unlock()
	return outcome
}

// analyseSession runs the pipeline for one session and reports whether it succeeded
func (w *Worker) analyseSession(ctx context.Context, p models.PendingSession) bool {
	sessionID, userID := p.SessionID, p.UserID
	result, err := w.analysis.AnalyzeSession(ctx, p.SessionID, p.UserID)
	if err != nil && contextutils.GetErrorCode(err) == contextutils.ErrorCodeDataIntegrity {
		w.quarantineUser(ctx, p, err)
		return false
	}
	if err != nil {
		w.logger.Error(ctx, "Session analysis failed", err, map[string]interface{}{
			"instance":   w.instance,
			"session_id": sessionID,
			"user_id":    userID,
		})
		w.logActivity(ctx, "ERROR", fmt.Sprintf("Session %d failed: %v", sessionID, err), &userID, &sessionID)
		w.recordUserFailure(ctx, userID)
		return false
	}

	w.recordUserSuccess(ctx, userID)
	w.logActivity(ctx, "INFO", fmt.Sprintf("Session %d %s (%d dimensions applied)", sessionID, result.Status, result.DimensionsApplied), &userID, &sessionID)
	return true
}

// quarantineUser pauses a user whose session references missing data. Retrying cannot
// fix it, so the user stays paused until an operator resumes them.
func (w *Worker) quarantineUser(ctx context.Context, p models.PendingSession, cause error) {
	sessionID, userID := p.SessionID, p.UserID
	w.logger.Error(ctx, "Session data integrity violation, pausing user for investigation", cause, map[string]interface{}{
		"instance":   w.instance,
		"session_id": sessionID,
		"user_id":    userID,
		"error_code": string(contextutils.ErrorCodeDataIntegrity),
	})

	if err := w.workerService.SetUserPause(ctx, userID, true); err != nil {
		w.logger.Error(ctx, "Failed to pause user after data integrity violation", err, map[string]interface{}{
			"instance": w.instance,
			"user_id":  userID,
		})
		w.logActivity(ctx, "ERROR", fmt.Sprintf("Session %d has a data integrity violation and user %d could not be paused: %v", sessionID, userID, cause), &userID, &sessionID)
		w.recordUserFailure(ctx, userID)
		return
	}

	w.logActivity(ctx, "ERROR", fmt.Sprintf("Session %d needs manual investigation, user %d paused: %v", sessionID, userID, cause), &userID, &sessionID)
}

// checkPauseStatus checks global and instance pause
func (w *Worker) checkPauseStatus(ctx context.Context) (bool, string) {
	globalPaused, err := w.workerService.IsGlobalPaused(ctx)
	if err != nil {
		w.logger.Error(ctx, "Failed to check global pause status", err, map[string]interface{}{
			"instance": w.instance,
		})
		return true, "Error checking global pause status"
	}
	if globalPaused {
		return true, "Globally paused"
	}
	status, err := w.workerService.GetWorkerStatus(ctx, w.instance)
	if err != nil {
		w.logger.Debug(ctx, "Worker status not found during pause check (assuming not paused)", map[string]interface{}{
			"instance": w.instance,
		})
		return false, ""
	}
	if status != nil && status.IsPaused {
		return true, "Worker instance paused"
	}
	return false, ""
}

// recordRunHistory records the run in history and trims the slice
func (w *Worker) recordRunHistory(outcome runOutcome, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := RunRecord{
		StartTime: w.status.LastRunStart,
		EndTime:   w.status.LastRunFinish,
		Duration:  w.status.LastRunFinish.Sub(w.status.LastRunStart),
		Details:   outcome.String(),
		Analysed:  outcome.analysed,
		Failed:    outcome.failed,
	}
	if err != nil {
		record.Status = "Failure"
		record.Details = err.Error()
	} else {
		record.Status = "Success"
	}
	w.history = append(w.history, record)
	if len(w.history) > w.cfg.Worker.MaxHistory {
		w.history = w.history[len(w.history)-w.cfg.Worker.MaxHistory:]
	}
}

// GetStatus returns the current worker status
func (w *Worker) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// GetHistory returns the worker's run history
func (w *Worker) GetHistory() []RunRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	history := make([]RunRecord, len(w.history))
	copy(history, w.history)
	return history
}

// GetActivityLogs returns recent activity logs
func (w *Worker) GetActivityLogs() []ActivityLog {
	w.mu.RLock()
	defer w.mu.RUnlock()
	logs := make([]ActivityLog, len(w.activityLogs))
	copy(logs, w.activityLogs)
	return logs
}

// GetInstance returns the worker instance name
func (w *Worker) GetInstance() string {
	return w.instance
}

// TriggerManualRun triggers a manual worker run
func (w *Worker) TriggerManualRun() {
	ctx := context.Background()
	select {
	case w.manualTrigger <- true:
		w.logger.Info(ctx, "Manual trigger sent to worker", map[string]interface{}{
			"instance": w.instance,
		})
	default:
		w.logger.Info(ctx, "Manual trigger already pending for worker", map[string]interface{}{
			"instance": w.instance,
		})
	}
}

// Pause pauses the worker
func (w *Worker) Pause(ctx context.Context) {
	if err := w.workerService.PauseWorker(ctx, w.instance); err != nil {
		w.logger.Warn(ctx, "Failed to pause worker in service", map[string]interface{}{
			"instance": w.instance,
			"error":    err.Error(),
		})
	}
	w.logger.Info(ctx, "Worker paused", map[string]interface{}{
		"instance": w.instance,
	})
	w.logActivity(ctx, "INFO", fmt.Sprintf("Worker %s paused", w.instance), nil, nil)
	w.mu.Lock()
	w.status.IsPaused = true
	w.mu.Unlock()
	w.updateDatabaseStatus(ctx)
}

// Resume resumes the worker
func (w *Worker) Resume(ctx context.Context) {
	if err := w.workerService.ResumeWorker(ctx, w.instance); err != nil {
		w.logger.Warn(ctx, "Failed to resume worker in service", map[string]interface{}{
			"instance": w.instance,
			"error":    err.Error(),
		})
		// Do not unpause if resume failed
		w.updateDatabaseStatus(ctx)
		return
	}
	w.logger.Info(ctx, "Worker resumed", map[string]interface{}{
		"instance": w.instance,
	})
	w.logActivity(ctx, "INFO", fmt.Sprintf("Worker %s resumed", w.instance), nil, nil)
	w.mu.Lock()
	w.status.IsPaused = false
	w.mu.Unlock()
	w.updateDatabaseStatus(ctx)
}

// Shutdown stops the loop and waits for the in-flight batch, bounded by ctx
func (w *Worker) Shutdown(ctx context.Context) error {
	w.logger.Info(ctx, "Worker starting shutdown", map[string]interface{}{
		"instance": w.instance,
	})

	w.mu.RLock()
	cancel := w.cancel
	w.mu.RUnlock()
	if cancel == nil {
		// Never started.
		return w.closeNotifier()
	}
	cancel()

	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn(ctx, "Worker shutdown timed out waiting for in-flight sessions", map[string]interface{}{
			"instance": w.instance,
		})
		_ = w.closeNotifier()
		return ctx.Err()
	}

	w.failureMu.Lock()
	w.userFailures = make(map[int]*UserFailureInfo)
	w.failureMu.Unlock()

	w.logger.Info(ctx, "Worker shutdown completed", map[string]interface{}{
		"instance": w.instance,
	})
	return w.closeNotifier()
}

func (w *Worker) closeNotifier() error {
	if w.notifier == nil {
		return nil
	}
	return w.notifier.Close()
}

// updateDatabaseStatus updates the worker status in the database
func (w *Worker) updateDatabaseStatus(ctx context.Context) {
	w.mu.RLock()
	dbStatus := &models.WorkerStatus{
		WorkerInstance:        w.instance,
		IsRunning:             w.status.IsRunning,
		IsPaused:              w.status.IsPaused,
		CurrentActivity:       sql.NullString{String: w.status.CurrentActivity, Valid: w.status.CurrentActivity != ""},
		LastHeartbeat:         sql.NullTime{Time: w.timeNow(), Valid: true},
		LastRunStart:          sql.NullTime{Time: w.status.LastRunStart, Valid: !w.status.LastRunStart.IsZero()},
		LastRunFinish:         sql.NullTime{Time: w.status.LastRunFinish, Valid: !w.status.LastRunFinish.IsZero()},
		LastRunError:          sql.NullString{String: w.status.LastRunError, Valid: w.status.LastRunError != ""},
		TotalSessionsAnalysed: w.totalAnalysed,
		TotalSessionsFailed:   w.totalFailed,
		TotalRuns:             len(w.history),
	}
	w.mu.RUnlock()

	if err := w.workerService.UpdateWorkerStatus(ctx, w.instance, dbStatus); err != nil {
		w.logger.Error(ctx, "Failed to update worker status in database", err, map[string]interface{}{
			"instance": w.instance,
		})
	}
}

func (w *Worker) updateActivity(activity string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.CurrentActivity = activity
}

// logActivity adds an activity log entry
func (w *Worker) logActivity(_ context.Context, level, message string, userID, sessionID *int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.activityLogs = append(w.activityLogs, ActivityLog{
		Timestamp: w.timeNow(),
		Level:     level,
		Message:   message,
		UserID:    userID,
		SessionID: sessionID,
	})
	if len(w.activityLogs) > w.cfg.Worker.MaxActivityLogs {
		w.activityLogs = w.activityLogs[len(w.activityLogs)-w.cfg.Worker.MaxActivityLogs:]
	}
}

// shouldRetryUser checks if enough time has passed since the last failure for exponential backoff
func (w *Worker) shouldRetryUser(userID int) bool {
	w.failureMu.RLock()
	defer w.failureMu.RUnlock()

	failure, exists := w.userFailures[userID]
	if !exists {
		return true
	}
	return w.timeNow().After(failure.NextRetryTime)
}

// recordUserFailure records a failure and calculates the next retry time with exponential backoff
func (w *Worker) recordUserFailure(ctx context.Context, userID int) {
	ctx, span := observability.TraceWorkerFunction(ctx, "record_user_failure",
		observability.AttributeUserID(userID),
		attribute.String("worker.instance", w.instance),
	)
	defer observability.FinishSpan(span, nil)

	w.failureMu.Lock()
	defer w.failureMu.Unlock()

	failure, exists := w.userFailures[userID]
	if !exists {
		failure = &UserFailureInfo{}
		w.userFailures[userID] = failure
	}

	failure.ConsecutiveFailures++
	failure.LastFailureTime = w.timeNow()

	// 2^failures seconds, capped
	backoff := maxBackoff
	if secs := math.Pow(2, float64(failure.ConsecutiveFailures)); secs < maxBackoff.Seconds() {
		backoff = time.Duration(secs) * time.Second
	}
	failure.NextRetryTime = failure.LastFailureTime.Add(backoff)

	span.SetAttributes(
		attribute.Int("failure.count", failure.ConsecutiveFailures),
		attribute.Int("backoff.seconds", int(backoff.Seconds())),
	)
	w.logger.Info(ctx, "Worker recorded user failure", map[string]interface{}{
		"instance":           w.instance,
		"user_id":            userID,
		"failure_count":      failure.ConsecutiveFailures,
		"next_retry_seconds": int(backoff.Seconds()),
	})
}

// recordUserSuccess clears the failure count for a user
func (w *Worker) recordUserSuccess(ctx context.Context, userID int) {
	w.failureMu.Lock()
	defer w.failureMu.Unlock()

	failure, exists := w.userFailures[userID]
	if exists && failure.ConsecutiveFailures > 0 {
		w.logger.Info(ctx, "Worker user success after failures, resetting backoff", map[string]interface{}{
			"instance":          w.instance,
			"user_id":           userID,
			"previous_failures": failure.ConsecutiveFailures,
		})
		delete(w.userFailures, userID)
	}
}
