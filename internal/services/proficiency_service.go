package services

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	"skillmodel/internal/config"
	"skillmodel/internal/database"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	contextutils "skillmodel/internal/utils"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// proficiencyLockNamespace is the first key of the two-key advisory lock taken per user
const proficiencyLockNamespace = 0x534b // "SK"

// ProficiencyServiceInterface merges session statistics into the durable skill model
type ProficiencyServiceInterface interface {
	ApplySessionStats(ctx context.Context, userID, sessionID int, stats models.SurfaceStats) (*models.ProficiencyUpdateResult, error)
	GetUserProficiency(ctx context.Context, userID int) ([]models.ProficiencyRecord, error)
}

// ProficiencyParams are the tunables of the confidence-weighted update
type ProficiencyParams struct {
	ConfidenceThreshold float64
	Alpha               float64
	TrendDeltaThreshold float64
	DefaultProficiency  float64
}

// ProficiencyParamsFromConfig reads the update tunables from the analysis config
func ProficiencyParamsFromConfig(cfg config.AnalysisConfig) ProficiencyParams {
	return ProficiencyParams{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Alpha:               cfg.Alpha,
		TrendDeltaThreshold: cfg.TrendDeltaThreshold,
		DefaultProficiency:  cfg.DefaultProficiency,
	}
}

// DefaultProficiencyParams returns the built-in tunables
func DefaultProficiencyParams() ProficiencyParams {
	return ProficiencyParams{
		ConfidenceThreshold: config.DefaultConfidenceThreshold,
		Alpha:               config.DefaultAlpha,
		TrendDeltaThreshold: config.DefaultTrendDeltaThreshold,
		DefaultProficiency:  config.DefaultNeutralProficiency,
	}
}

// Confidence is min(1, sqrt(totalAttempts/threshold)), 0 for no attempts
func Confidence(totalAttempts int, threshold float64) float64 {
	if totalAttempts <= 0 {
		return 0
	}
	if threshold <= 0 {
		return 1
	}
	return math.Min(1.0, math.Sqrt(float64(totalAttempts)/threshold))
}

// BlendProficiency is the unrounded confidence-weighted moving average of old and surface
func BlendProficiency(old float64, surface int, confidence, alpha float64) float64 {
	weight := alpha * confidence
	return old*(1-weight) + float64(surface)*weight
}

// ClampScore rounds a blended proficiency into [0, 100]
func ClampScore(v float64) int {
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

// ClassifyTrend compares the new score with the previous one
func ClassifyTrend(old float64, updated int, threshold float64) models.Trend {
	delta := float64(updated) - old
	switch {
	case delta > threshold:
		return models.TrendImproving
	case delta < -threshold:
		return models.TrendDeclining
	default:
		return models.TrendStagnant
	}
}

// ComputeProficiencyUpdate derives the next record state for one dimension. existing may be nil.
func ComputeProficiencyUpdate(existing *models.ProficiencyRecord, key models.DimensionKey, stat models.DimensionStat, params ProficiencyParams) models.ProficiencyUpdate {
	oldScore := params.DefaultProficiency
	totalAttempts := stat.Attempts
	correctAttempts := stat.Correct
	if existing != nil {
		oldScore = float64(existing.ProficiencyScore)
		totalAttempts += existing.TotalAttempts
		correctAttempts += existing.CorrectAttempts
	}

	confidence := Confidence(totalAttempts, params.ConfidenceThreshold)
	score := ClampScore(BlendProficiency(oldScore, stat.Score, confidence, params.Alpha))

	return models.ProficiencyUpdate{
		Dimension:        key,
		OldScore:         oldScore,
		ProficiencyScore: score,
		ConfidenceScore:  confidence,
		TotalAttempts:    totalAttempts,
		CorrectAttempts:  correctAttempts,
		Trend:            ClassifyTrend(oldScore, score, params.TrendDeltaThreshold),
	}
}

// ProficiencyService implements ProficiencyServiceInterface on Postgres
type ProficiencyService struct {
	db     *sql.DB
	params ProficiencyParams
	logger *observability.Logger
}

// NewProficiencyServiceWithLogger creates a new ProficiencyService with a logger
func NewProficiencyServiceWithLogger(db *sql.DB, cfg *config.Config, logger *observability.Logger) *ProficiencyService {
	params := DefaultProficiencyParams()
	if cfg != nil {
		params = ProficiencyParamsFromConfig(cfg.Analysis)
	}
	return &ProficiencyService{
		db:     db,
		params: params,
		logger: logger,
	}
}

const proficiencyColumns = `id, user_id, dimension_type, dimension_key, proficiency_score, confidence_score,
			   total_attempts, correct_attempts, last_session_id, trend, created_at, updated_at`

const upsertProficiencyQuery = `
		INSERT INTO proficiency (
			user_id, dimension_type, dimension_key, proficiency_score, confidence_score,
			total_attempts, correct_attempts, last_session_id, trend, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (user_id, dimension_type, dimension_key) DO UPDATE SET
			proficiency_score = EXCLUDED.proficiency_score,
			confidence_score = EXCLUDED.confidence_score,
			total_attempts = EXCLUDED.total_attempts,
			correct_attempts = EXCLUDED.correct_attempts,
			last_session_id = EXCLUDED.last_session_id,
			trend = EXCLUDED.trend,
			updated_at = EXCLUDED.updated_at
		WHERE proficiency.last_session_id IS DISTINCT FROM EXCLUDED.last_session_id
	`

// ApplySessionStats folds one session's surface statistics into the user's records.
// All dimensions are written in one transaction under a per-user advisory lock. Each
// dimension runs in its own savepoint so a single failing dimension is rolled back and
// reported in Failed while the others commit.
func (s *ProficiencyService) ApplySessionStats(ctx context.Context, userID, sessionID int, stats models.SurfaceStats) (result0 *models.ProficiencyUpdateResult, err error) {
	ctx, span := observability.TraceProficiencyFunction(ctx, "apply_session_stats",
		observability.AttributeUserID(userID),
		observability.AttributeSessionID(sessionID),
		attribute.Int("dimensions.count", len(stats)),
	)
	defer observability.FinishSpan(span, &err)

	result := &models.ProficiencyUpdateResult{
		Applied: []models.DimensionKey{},
		Skipped: []models.DimensionKey{},
		Failed:  []models.DimensionKey{},
	}
	if len(stats) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, database.ClassifyStoreError(err, "failed to begin proficiency transaction")
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error(ctx, "Failed to roll back proficiency transaction", rbErr, map[string]interface{}{
				"user_id":    userID,
				"session_id": sessionID,
			})
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, proficiencyLockNamespace, userID); err != nil {
		return nil, database.ClassifyStoreError(err, fmt.Sprintf("failed to lock proficiency for user %d", userID))
	}

	existing, err := s.loadRecords(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	for i, key := range stats.Keys() {
		var prior *models.ProficiencyRecord
		if rec, ok := existing[key]; ok {
			if rec.AppliedSession(sessionID) {
				result.Skipped = append(result.Skipped, key)
				continue
			}
			prior = &rec
		}

		update := ComputeProficiencyUpdate(prior, key, stats[key], s.params)
		applied, err := s.applyDimension(ctx, tx, i, userID, sessionID, update)
		if err != nil {
			s.logger.Error(ctx, "Failed to update proficiency dimension, skipping", err, map[string]interface{}{
				"user_id":        userID,
				"session_id":     sessionID,
				"dimension_type": string(key.Type),
				"dimension_key":  key.Key,
			})
			span.AddEvent("dimension_failed", trace.WithAttributes(observability.AttributeDimension(key)...))
			result.Failed = append(result.Failed, key)
			continue
		}
		if !applied {
			result.Skipped = append(result.Skipped, key)
			continue
		}

		s.logger.Debug(ctx, "Proficiency dimension updated", map[string]interface{}{
			"user_id":        userID,
			"dimension_type": string(key.Type),
			"dimension_key":  key.Key,
			"old_score":      update.OldScore,
			"new_score":      update.ProficiencyScore,
			"confidence":     update.ConfidenceScore,
			"trend":          string(update.Trend),
		})
		result.Applied = append(result.Applied, key)
	}

	if err := tx.Commit(); err != nil {
		return nil, database.ClassifyStoreError(err, fmt.Sprintf("failed to commit proficiency for user %d", userID))
	}
	committed = true

	span.SetAttributes(
		attribute.Int("dimensions.applied", len(result.Applied)),
		attribute.Int("dimensions.skipped", len(result.Skipped)),
		attribute.Int("dimensions.failed", len(result.Failed)),
	)
	s.logger.Info(ctx, "Session stats applied to proficiency", map[string]interface{}{
		"user_id":    userID,
		"session_id": sessionID,
		"applied":    len(result.Applied),
		"skipped":    len(result.Skipped),
		"failed":     len(result.Failed),
	})
	return result, nil
}

// applyDimension upserts one dimension inside a savepoint. It returns false when the
// conditional upsert found the session already applied.
func (s *ProficiencyService) applyDimension(ctx context.Context, tx *sql.Tx, index, userID, sessionID int, update models.ProficiencyUpdate) (bool, error) {
	savepoint := fmt.Sprintf("dim_%d", index)
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return false, database.ClassifyStoreError(err, "failed to create savepoint")
	}

	res, err := tx.ExecContext(ctx, upsertProficiencyQuery,
		userID, string(update.Dimension.Type), update.Dimension.Key,
		update.ProficiencyScore, update.ConfidenceScore,
		update.TotalAttempts, update.CorrectAttempts,
		sessionID, string(update.Trend),
	)
	if err == nil {
		var affected int64
		affected, err = res.RowsAffected()
		if err == nil {
			if _, relErr := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); relErr != nil {
				return false, database.ClassifyStoreError(relErr, "failed to release savepoint")
			}
			return affected > 0, nil
		}
	}

	if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
		return false, database.ClassifyStoreError(rbErr, "failed to roll back to savepoint")
	}
	return false, database.ClassifyStoreError(err, fmt.Sprintf("failed to upsert proficiency %s", update.Dimension))
}

type rowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *ProficiencyService) loadRecords(ctx context.Context, q rowQuerier, userID int) (map[models.DimensionKey]models.ProficiencyRecord, error) {
	records, err := s.queryRecords(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[models.DimensionKey]models.ProficiencyRecord, len(records))
	for _, r := range records {
		out[r.Dimension()] = r
	}
	return out, nil
}

func (s *ProficiencyService) queryRecords(ctx context.Context, q rowQuerier, userID int) (result0 []models.ProficiencyRecord, err error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+proficiencyColumns+`
		FROM proficiency WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, database.ClassifyStoreError(err, fmt.Sprintf("failed to load proficiency for user %d", userID))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr, map[string]interface{}{"user_id": userID})
		}
	}()

	records := []models.ProficiencyRecord{}
	for rows.Next() {
		var r models.ProficiencyRecord
		var dimensionType, trend string
		if err := rows.Scan(
			&r.ID, &r.UserID, &dimensionType, &r.DimensionKey, &r.ProficiencyScore, &r.ConfidenceScore,
			&r.TotalAttempts, &r.CorrectAttempts, &r.LastSessionID, &trend, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, database.ClassifyStoreError(err, "failed to scan proficiency row")
		}
		dt, parseErr := models.ParseDimensionType(dimensionType)
		if parseErr != nil {
			s.logger.Warn(ctx, "Ignoring proficiency row with unknown dimension type", map[string]interface{}{
				"user_id":        userID,
				"dimension_type": dimensionType,
			})
			continue
		}
		r.DimensionType = dt
		r.Trend = models.Trend(trend)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, database.ClassifyStoreError(err, "error iterating proficiency rows")
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Dimension().Less(records[j].Dimension()) })
	return records, nil
}

// GetUserProficiency returns every record for the user ordered by dimension type then key
func (s *ProficiencyService) GetUserProficiency(ctx context.Context, userID int) (result0 []models.ProficiencyRecord, err error) {
	ctx, span := observability.TraceProficiencyFunction(ctx, "get_user_proficiency", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	if userID <= 0 {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "invalid user id %d", userID)
	}

	records, err := s.queryRecords(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("proficiency.records", len(records)))
	return records, nil
}
