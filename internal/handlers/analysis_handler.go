package handlers

import (
	"net/http"
	"strconv"

	"skillmodel/internal/config"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	"skillmodel/internal/services"
	contextutils "skillmodel/internal/utils"

	"github.com/gin-gonic/gin"
)

// AnalyzeSessionRequest is the body of POST /v1/analysis/sessions/:sessionId
type AnalyzeSessionRequest struct {
	UserID int `json:"user_id" binding:"required,gt=0"`
}

// AnalysisHandler exposes the analysis pipeline and its read models
type AnalysisHandler struct {
	analysis    services.AnalysisServiceInterface
	proficiency services.ProficiencyServiceInterface
	signals     services.SignalServiceInterface
	cfg         *config.Config
	logger      *observability.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler
func NewAnalysisHandler(
	analysis services.AnalysisServiceInterface,
	proficiency services.ProficiencyServiceInterface,
	signals services.SignalServiceInterface,
	cfg *config.Config,
	logger *observability.Logger,
) *AnalysisHandler {
	return &AnalysisHandler{
		analysis:    analysis,
		proficiency: proficiency,
		signals:     signals,
		cfg:         cfg,
		logger:      logger,
	}
}

// AnalyzeSession runs the pipeline for one session synchronously
func (h *AnalysisHandler) AnalyzeSession(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "analyze_session")
	defer span.End()

	sessionID, ok := idParam(c, "sessionId")
	if !ok {
		return
	}

	var req AnalyzeSessionRequest
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
	span.SetAttributes(observability.AttributeSessionID(sessionID), observability.AttributeUserID(req.UserID))

	result, err := h.analysis.AnalyzeSession(ctx, sessionID, req.UserID)
	if err != nil {
		h.logger.Warn(ctx, "Session analysis request failed", map[string]interface{}{
			"session_id": sessionID,
			"user_id":    req.UserID,
			"error":      err.Error(),
		})
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetSignal returns the stored proficiency signal for a user
func (h *AnalysisHandler) GetSignal(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_signal")
	defer span.End()

	userID, ok := idParam(c, "userId")
	if !ok {
		return
	}
	span.SetAttributes(observability.AttributeUserID(userID))

	signal, err := h.signals.GetSignal(ctx, userID)
	if err != nil {
		HandleAppError(c, contextutils.WrapErrorf(err, "no signal for user %d", userID))
		return
	}

	c.JSON(http.StatusOK, signal)
}

// GetProficiency returns every proficiency record for a user
func (h *AnalysisHandler) GetProficiency(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_proficiency")
	defer span.End()

	userID, ok := idParam(c, "userId")
	if !ok {
		return
	}
	span.SetAttributes(observability.AttributeUserID(userID))

	records, err := h.proficiency.GetUserProficiency(ctx, userID)
	if err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to load proficiency"))
		return
	}
	if records == nil {
		records = []models.ProficiencyRecord{}
	}

	if dt := c.Query("dimension_type"); dt != "" {
		filtered := records[:0]
		for _, r := range records {
			if string(r.DimensionType) == dt {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":     userID,
		"proficiency": records,
	})
}

// idParam parses a positive integer path parameter, writing a 400 when it is not one
func idParam(c *gin.Context, name string) (int, bool) {
	raw := c.Param(name)
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		HandleValidationError(c, name, raw, "must be a positive integer")
		return 0, false
	}
	return id, true
}
