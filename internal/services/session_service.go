package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skillmodel/internal/config"
	"skillmodel/internal/database"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	contextutils "skillmodel/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// SessionServiceInterface loads sessions for analysis and records their outcome
type SessionServiceInterface interface {
	LoadSession(ctx context.Context, sessionID, userID int) (*models.SessionDataset, error)
	MarkSessionAnalysed(ctx context.Context, sessionID int) (bool, error)
	SaveDiagnostics(ctx context.Context, sessionID int, taxonomyVersion string, diagnostics []models.AttemptDiagnostic) error
	ListPendingSessions(ctx context.Context, limit int) ([]models.PendingSession, error)
	GetPendingSession(ctx context.Context, sessionID int) (*models.PendingSession, error)
}

// SessionService implements SessionServiceInterface on Postgres
type SessionService struct {
	db     *sql.DB
	cfg    *config.Config
	logger *observability.Logger
}

// NewSessionServiceWithLogger creates a new SessionService with a logger
func NewSessionServiceWithLogger(db *sql.DB, cfg *config.Config, logger *observability.Logger) *SessionService {
	return &SessionService{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}
}

// LoadSession fetches and validates one session and its attempts.
// An already analysed session is returned with IsAnalysed set and no attempts.
func (s *SessionService) LoadSession(ctx context.Context, sessionID, userID int) (result0 *models.SessionDataset, err error) {
	ctx, span := observability.TraceSessionFunction(ctx, "load_session",
		observability.AttributeSessionID(sessionID),
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.UserID != userID {
		s.logger.Warn(ctx, "Session requested for a different user", map[string]interface{}{
			"session_id":    sessionID,
			"user_id":       userID,
			"owner_user_id": session.UserID,
		})
		return nil, contextutils.WrapErrorf(contextutils.ErrSessionNotFound, "session %d not found for user %d", sessionID, userID)
	}

	dataset := &models.SessionDataset{Session: *session}
	if session.IsAnalysed {
		span.SetAttributes(attribute.String("session.load_result", "already_processed"))
		return dataset, nil
	}

	if session.Status != models.SessionStatusCompleted {
		return nil, contextutils.WrapErrorf(contextutils.ErrSessionInvalidState, "session %d has status %s", sessionID, session.Status)
	}

	attempts, err := s.loadAttempts(ctx, session)
	if err != nil {
		return nil, err
	}
	dataset.Attempts = attempts

	span.SetAttributes(
		attribute.String("session.load_result", "loaded"),
		attribute.Int("session.attempts", len(attempts)),
	)
	return dataset, nil
}

func (s *SessionService) getSession(ctx context.Context, sessionID int) (*models.Session, error) {
	var session models.Session
	var status string
	var metadata []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, is_analysed, metadata, completed_at, created_at
		FROM sessions WHERE id = $1
	`, sessionID).Scan(
		&session.ID, &session.UserID, &status, &session.IsAnalysed,
		&metadata, &session.CompletedAt, &session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contextutils.WrapErrorf(contextutils.ErrSessionNotFound, "session %d not found", sessionID)
		}
		return nil, database.ClassifyStoreError(err, fmt.Sprintf("failed to load session %d", sessionID))
	}
	session.Status = models.SessionStatus(status)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
			s.logger.Warn(ctx, "Ignoring unparseable session metadata", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			session.Metadata = nil
		}
	}

	return &session, nil
}

func (s *SessionService) loadAttempts(ctx context.Context, session *models.Session) (result0 []models.Attempt, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.user_id, a.question_id, a.is_correct, a.time_spent_seconds, a.selected_option,
			   q.id, q.question_type, q.tags, q.stem, q.options, q.correct_option,
			   q.passage_id, p.genre
		FROM attempts a
		LEFT JOIN questions q ON q.id = a.question_id
		LEFT JOIN passages p ON p.id = q.passage_id
		WHERE a.session_id = $1
		ORDER BY a.id
	`, session.ID)
	if err != nil {
		return nil, database.ClassifyStoreError(err, fmt.Sprintf("failed to load attempts for session %d", session.ID))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr, map[string]interface{}{"session_id": session.ID})
		}
	}()

	attempts := []models.Attempt{}
	for rows.Next() {
		var (
			a            models.Attempt
			attemptUser  int
			joinedQID    sql.NullInt64
			questionType sql.NullString
			tags         pq.StringArray
			stem         sql.NullString
			options      []byte
		)
		if err := rows.Scan(
			&a.AttemptID, &attemptUser, &a.QuestionID, &a.Correct, &a.TimeSpentSeconds, &a.SelectedOption,
			&joinedQID, &questionType, &tags, &stem, &options, &a.CorrectOption,
			&a.PassageID, &a.Genre,
		); err != nil {
			return nil, database.ClassifyStoreError(err, "failed to scan attempt row")
		}

		if !joinedQID.Valid {
			s.logger.Error(ctx, "Attempt references a missing question", contextutils.ErrDataIntegrity, map[string]interface{}{
				"session_id":  session.ID,
				"attempt_id":  a.AttemptID,
				"question_id": a.QuestionID,
			})
			return nil, contextutils.WrapErrorf(contextutils.ErrDataIntegrity,
				"attempt %d references missing question %d", a.AttemptID, a.QuestionID)
		}
		if attemptUser != session.UserID {
			return nil, contextutils.WrapErrorf(contextutils.ErrDataIntegrity,
				"attempt %d belongs to user %d, session %d belongs to user %d", a.AttemptID, attemptUser, session.ID, session.UserID)
		}

		a.QuestionType = questionType.String
		a.ReasoningNodeIDs = []string(tags)
		if a.ReasoningNodeIDs == nil {
			a.ReasoningNodeIDs = []string{}
		}
		a.Stem = stem.String
		if len(options) > 0 {
			if err := json.Unmarshal(options, &a.Options); err != nil {
				s.logger.Warn(ctx, "Ignoring unparseable question options", map[string]interface{}{
					"question_id": a.QuestionID,
					"error":       err.Error(),
				})
				a.Options = nil
			}
		}

		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, database.ClassifyStoreError(err, "error iterating attempt rows")
	}

	return attempts, nil
}

// MarkSessionAnalysed flips is_analysed. It returns false when another run already did so.
func (s *SessionService) MarkSessionAnalysed(ctx context.Context, sessionID int) (result0 bool, err error) {
	ctx, span := observability.TraceSessionFunction(ctx, "mark_session_analysed",
		observability.AttributeSessionID(sessionID),
	)
	defer observability.FinishSpan(span, &err)

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET is_analysed = TRUE
		WHERE id = $1 AND is_analysed = FALSE
	`, sessionID)
	if err != nil {
		return false, database.ClassifyStoreError(err, fmt.Sprintf("failed to mark session %d analysed", sessionID))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, database.ClassifyStoreError(err, "failed to read rows affected")
	}

	span.SetAttributes(attribute.Bool("session.marked", affected > 0))
	if affected == 0 {
		s.logger.Info(ctx, "Session was already marked analysed", map[string]interface{}{"session_id": sessionID})
		return false, nil
	}
	return true, nil
}

// SaveDiagnostics merges diagnostics into the session's metadata document
func (s *SessionService) SaveDiagnostics(ctx context.Context, sessionID int, taxonomyVersion string, diagnostics []models.AttemptDiagnostic) (err error) {
	ctx, span := observability.TraceSessionFunction(ctx, "save_diagnostics",
		observability.AttributeSessionID(sessionID),
		attribute.Int("diagnostics.count", len(diagnostics)),
	)
	defer observability.FinishSpan(span, &err)

	if diagnostics == nil {
		diagnostics = []models.AttemptDiagnostic{}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"diagnostics":      diagnostics,
		"taxonomy_version": taxonomyVersion,
		"diagnosed_at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return contextutils.WrapError(err, "failed to marshal diagnostics")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb
		WHERE id = $1
	`, sessionID, string(payload))
	if err != nil {
		return database.ClassifyStoreError(err, fmt.Sprintf("failed to save diagnostics for session %d", sessionID))
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return contextutils.WrapErrorf(contextutils.ErrSessionNotFound, "session %d not found", sessionID)
	}

	return nil
}

// ListPendingSessions returns completed, not yet analysed sessions, oldest first
func (s *SessionService) ListPendingSessions(ctx context.Context, limit int) (result0 []models.PendingSession, err error) {
	ctx, span := observability.TraceSessionFunction(ctx, "list_pending_sessions", observability.AttributeLimit(limit))
	defer observability.FinishSpan(span, &err)

	if limit <= 0 {
		limit = config.DefaultWorkerBatchSize
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, completed_at
		FROM sessions
		WHERE status = 'completed' AND is_analysed = FALSE
		ORDER BY completed_at ASC NULLS LAST, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, database.ClassifyStoreError(err, "failed to list pending sessions")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr, map[string]interface{}{})
		}
	}()

	pending := []models.PendingSession{}
	for rows.Next() {
		var p models.PendingSession
		var completedAt sql.NullTime
		if err := rows.Scan(&p.SessionID, &p.UserID, &completedAt); err != nil {
			return nil, database.ClassifyStoreError(err, "failed to scan pending session")
		}
		if completedAt.Valid {
			p.CompletedAt = completedAt.Time
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, database.ClassifyStoreError(err, "error iterating pending sessions")
	}

	span.SetAttributes(attribute.Int("sessions.pending", len(pending)))
	return pending, nil
}

// GetPendingSession resolves a notified session id to its owner if it still needs analysis.
// It returns nil without error when the session is gone, unfinished or already analysed.
func (s *SessionService) GetPendingSession(ctx context.Context, sessionID int) (result0 *models.PendingSession, err error) {
	ctx, span := observability.TraceSessionFunction(ctx, "get_pending_session", observability.AttributeSessionID(sessionID))
	defer observability.FinishSpan(span, &err)

	var p models.PendingSession
	var completedAt sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT id, user_id, completed_at
		FROM sessions
		WHERE id = $1 AND status = 'completed' AND is_analysed = FALSE
	`, sessionID).Scan(&p.SessionID, &p.UserID, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, database.ClassifyStoreError(err, fmt.Sprintf("failed to look up session %d", sessionID))
	}
	if completedAt.Valid {
		p.CompletedAt = completedAt.Time
	}
	return &p, nil
}
