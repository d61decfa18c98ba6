package handlers

import (
	"context"
	"net/http"

	"skillmodel/internal/config"
	"skillmodel/internal/observability"
	"skillmodel/internal/services"
	contextutils "skillmodel/internal/utils"
	"skillmodel/internal/worker"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// WorkerController is the part of the local worker the admin endpoints drive
type WorkerController interface {
	GetStatus() worker.Status
	GetHistory() []worker.RunRecord
	GetActivityLogs() []worker.ActivityLog
	GetInstance() string
	TriggerManualRun()
	Pause(ctx context.Context)
	Resume(ctx context.Context)
}

// WorkerAdminHandler handles worker administration endpoints
type WorkerAdminHandler struct {
	config        *config.Config
	worker        WorkerController
	workerService services.WorkerServiceInterface
	logger        *observability.Logger
}

// NewWorkerAdminHandlerWithLogger creates a new WorkerAdminHandler. w may be nil when
// no worker runs in this process.
func NewWorkerAdminHandlerWithLogger(
	cfg *config.Config,
	w WorkerController,
	workerService services.WorkerServiceInterface,
	logger *observability.Logger,
) *WorkerAdminHandler {
	return &WorkerAdminHandler{
		config:        cfg,
		worker:        w,
		workerService: workerService,
		logger:        logger,
	}
}

type userPauseRequest struct {
	UserID int `json:"user_id" binding:"required,gt=0"`
}

// GetWorkerDetails returns the local worker status, its run history and the global pause flag
func (h *WorkerAdminHandler) GetWorkerDetails(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_worker_details")
	defer span.End()

	var localStatus worker.Status
	var localHistory []worker.RunRecord
	instance := ""
	if h.worker != nil {
		localStatus = h.worker.GetStatus()
		localHistory = h.worker.GetHistory()
		instance = h.worker.GetInstance()
	}

	globalPaused, err := h.workerService.IsGlobalPaused(ctx)
	if err != nil {
		h.logger.Warn(ctx, "Failed to get global pause status", map[string]interface{}{"error": err.Error()})
		globalPaused = false
	}

	response := gin.H{
		"instance":      instance,
		"status":        localStatus,
		"history":       localHistory,
		"global_paused": globalPaused,
	}

	if instance != "" {
		if dbStatus, err := h.workerService.GetWorkerStatus(ctx, instance); err == nil {
			response["persisted_status"] = dbStatus
		}
	}

	c.JSON(http.StatusOK, response)
}

// GetActivityLogs returns recent activity logs from the worker
func (h *WorkerAdminHandler) GetActivityLogs(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_activity_logs")
	defer span.End()
	if h.worker == nil {
		HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": h.worker.GetActivityLogs()})
}

// PauseWorker pauses the worker globally
func (h *WorkerAdminHandler) PauseWorker(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "pause_worker")
	defer span.End()
	if err := h.workerService.SetGlobalPause(ctx, true); err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to pause worker globally"))
		return
	}

	if h.worker != nil {
		h.worker.Pause(ctx)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Worker paused globally"})
}

// ResumeWorker resumes the worker globally
func (h *WorkerAdminHandler) ResumeWorker(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "resume_worker")
	defer span.End()
	if err := h.workerService.SetGlobalPause(ctx, false); err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to resume worker globally"))
		return
	}

	if h.worker != nil {
		h.worker.Resume(ctx)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Worker resumed globally"})
}

// TriggerWorkerRun triggers a manual worker run
func (h *WorkerAdminHandler) TriggerWorkerRun(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "trigger_worker_run")
	defer span.End()
	if h.worker == nil {
		HandleAppError(c, contextutils.ErrServiceUnavailable)
		return
	}

	h.worker.TriggerManualRun()
	c.JSON(http.StatusAccepted, gin.H{"message": "Worker run triggered"})
}

// PauseWorkerUser stops the worker from analysing sessions of one user
func (h *WorkerAdminHandler) PauseWorkerUser(c *gin.Context) {
	h.setUserPause(c, true)
}

// ResumeWorkerUser lets the worker analyse sessions of one user again
func (h *WorkerAdminHandler) ResumeWorkerUser(c *gin.Context) {
	h.setUserPause(c, false)
}

func (h *WorkerAdminHandler) setUserPause(c *gin.Context, paused bool) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "set_user_pause",
		attribute.Bool("paused", paused),
	)
	defer span.End()

	var req userPauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleAppError(c, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Invalid request",
			"user_id must be a positive integer",
			err,
		))
		return
	}
	span.SetAttributes(observability.AttributeUserID(req.UserID))

	if err := h.workerService.SetUserPause(ctx, req.UserID, paused); err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to update user pause"))
		return
	}

	message := "User resumed successfully"
	if paused {
		message = "User paused successfully"
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "user_id": req.UserID, "paused": paused})
}

// GetSystemHealth returns the health of every known worker instance
func (h *WorkerAdminHandler) GetSystemHealth(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_system_health")
	defer span.End()
	health, err := h.workerService.GetWorkerHealth(ctx)
	if err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to get system health"))
		return
	}

	c.JSON(http.StatusOK, health)
}
