package services

import (
	"context"
	"time"

	"skillmodel/internal/config"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	contextutils "skillmodel/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// AnalysisServiceInterface runs the full analysis pipeline for one session
type AnalysisServiceInterface interface {
	AnalyzeSession(ctx context.Context, sessionID, userID int) (*models.AnalysisResult, error)
}

// Taxonomy is the node to metric mapping used for one pipeline run
type Taxonomy interface {
	NodeMetricLookup
	Version() string
}

// AnalysisService sequences loading, aggregation, diagnosis, proficiency updates and
// the signal rollup. The session is marked analysed only after every phase succeeded.
type AnalysisService struct {
	cfg         *config.Config
	sessions    SessionServiceInterface
	proficiency ProficiencyServiceInterface
	signals     SignalServiceInterface
	annotator   Annotator
	locker      UserLocker
	taxonomy    Taxonomy
	metrics     *observability.PipelineMetrics
	logger      *observability.Logger
}

// NewAnalysisServiceWithLogger wires the pipeline. A nil annotator disables diagnostics
// and a nil locker falls back to an in-process lock.
func NewAnalysisServiceWithLogger(
	cfg *config.Config,
	sessions SessionServiceInterface,
	proficiency ProficiencyServiceInterface,
	signals SignalServiceInterface,
	annotator Annotator,
	locker UserLocker,
	taxonomy Taxonomy,
	metrics *observability.PipelineMetrics,
	logger *observability.Logger,
) *AnalysisService {
	if annotator == nil {
		annotator = NoopAnnotator{}
	}
	if locker == nil {
		locker = NewLocalUserLocker()
	}
	return &AnalysisService{
		cfg:         cfg,
		sessions:    sessions,
		proficiency: proficiency,
		signals:     signals,
		annotator:   annotator,
		locker:      locker,
		taxonomy:    taxonomy,
		metrics:     metrics,
		logger:      logger,
	}
}

// AnalyzeSession processes one completed session. Re-running it on an analysed session
// returns already_processed without writing anything. Errors before the final mark leave
// the session pending, so the whole call is safe to retry.
func (s *AnalysisService) AnalyzeSession(ctx context.Context, sessionID, userID int) (result0 *models.AnalysisResult, err error) {
	ctx, span := observability.TraceAnalysisFunction(ctx, "analyze_session",
		observability.AttributeSessionID(sessionID),
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)
	if s.taxonomy != nil {
		span.SetAttributes(observability.AttributeTaxonomyVersion(s.taxonomy.Version()))
	}

	start := time.Now()
	outcome := "error"
	defer func() {
		s.metrics.RecordSession(ctx, outcome, time.Since(start))
	}()

	if sessionID <= 0 || userID <= 0 {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "invalid session %d or user %d", sessionID, userID)
	}

	dataset, err := s.sessions.LoadSession(ctx, sessionID, userID)
	if err != nil {
		s.logger.Warn(ctx, "Failed to load session for analysis", map[string]interface{}{
			"session_id": sessionID,
			"user_id":    userID,
			"error_code": string(contextutils.GetErrorCode(err)),
			"error":      err.Error(),
		})
		return nil, err
	}

	result := &models.AnalysisResult{SessionID: sessionID, UserID: userID}

	if dataset.AlreadyProcessed() {
		outcome = string(models.AnalysisStatusAlreadyProcessed)
		result.Success = true
		result.Status = models.AnalysisStatusAlreadyProcessed
		result.Message = "session already analysed"
		span.SetAttributes(attribute.String("analysis.status", outcome))
		return result, nil
	}

	if dataset.IsEmpty() {
		marked, err := s.sessions.MarkSessionAnalysed(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		result.Success = true
		if !marked {
			result.Status = models.AnalysisStatusAlreadyProcessed
			result.Message = "session already analysed"
		} else {
			result.Status = models.AnalysisStatusEmptySession
			result.Message = "session has no attempts"
		}
		outcome = string(result.Status)
		span.SetAttributes(attribute.String("analysis.status", outcome))
		return result, nil
	}

	stats := AggregateSessionStats(dataset.Attempts, s.taxonomy)
	result.Stats = stats
	span.SetAttributes(attribute.Int("analysis.dimensions", len(stats)))

	result.Diagnostics = s.annotate(ctx, dataset)

	update, err := s.applyUnderLock(ctx, sessionID, userID, stats)
	if err != nil {
		return nil, err
	}
	result.DimensionsApplied = len(update.Applied)
	result.DimensionsSkipped = len(update.Skipped)
	result.DimensionsFailed = len(update.Failed)
	s.metrics.RecordDimensions(ctx, len(update.Applied), len(update.Skipped), len(update.Failed))

	marked, err := s.sessions.MarkSessionAnalysed(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !marked {
		s.logger.Warn(ctx, "Session was marked analysed by a concurrent run", map[string]interface{}{
			"session_id": sessionID,
			"user_id":    userID,
		})
	}

	outcome = string(models.AnalysisStatusAnalysed)
	result.Success = true
	result.Status = models.AnalysisStatusAnalysed
	if len(update.Failed) > 0 {
		result.Message = "some dimensions failed to update"
	}

	span.SetAttributes(
		attribute.String("analysis.status", outcome),
		attribute.Int("analysis.dimensions_failed", len(update.Failed)),
	)
	s.logger.Info(ctx, "Session analysed", map[string]interface{}{
		"session_id":  sessionID,
		"user_id":     userID,
		"attempts":    len(dataset.Attempts),
		"dimensions":  len(stats),
		"applied":     len(update.Applied),
		"skipped":     len(update.Skipped),
		"failed":      len(update.Failed),
		"diagnostics": result.Diagnostics,
		"duration":    time.Since(start).String(),
	})
	return result, nil
}

// applyUnderLock holds the user lock across the proficiency update and the signal rollup
func (s *AnalysisService) applyUnderLock(ctx context.Context, sessionID, userID int, stats models.SurfaceStats) (*models.ProficiencyUpdateResult, error) {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	update, err := s.proficiency.ApplySessionStats(ctx, userID, sessionID, stats)
	if err != nil {
		return nil, err
	}

	if _, err := s.signals.RefreshSignal(ctx, userID); err != nil {
		return nil, err
	}
	return update, nil
}

// annotate asks for failure diagnoses and stores them. It never fails the pipeline.
func (s *AnalysisService) annotate(ctx context.Context, dataset *models.SessionDataset) int {
	incorrect := dataset.IncorrectAttempts()
	if len(incorrect) == 0 {
		return 0
	}

	timeout := config.DiagnosticsTimeout
	if s.cfg != nil && s.cfg.Diagnostics.Timeout > 0 {
		timeout = s.cfg.Diagnostics.Timeout
	}
	diagCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	version := ""
	if s.taxonomy != nil {
		version = s.taxonomy.Version()
	}

	start := time.Now()
	diagnostics, err := s.annotator.Annotate(diagCtx, &models.DiagnosticRequest{
		SessionID:       dataset.Session.ID,
		UserID:          dataset.Session.UserID,
		TaxonomyVersion: version,
		Attempts:        incorrect,
	})
	s.metrics.RecordDiagnostics(ctx, time.Since(start), err == nil)
	if err != nil {
		s.logger.Warn(ctx, "Diagnostics unavailable, continuing without them", map[string]interface{}{
			"session_id": dataset.Session.ID,
			"error":      err.Error(),
		})
		return 0
	}
	if len(diagnostics) == 0 {
		return 0
	}

	if err := s.sessions.SaveDiagnostics(ctx, dataset.Session.ID, version, diagnostics); err != nil {
		s.logger.Error(ctx, "Failed to save diagnostics", err, map[string]interface{}{
			"session_id": dataset.Session.ID,
		})
		return 0
	}
	return len(diagnostics)
}
