package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"skillmodel/internal/config"
	"skillmodel/internal/database"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	contextutils "skillmodel/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// SignalServiceInterface maintains the per-user proficiency rollup
type SignalServiceInterface interface {
	RefreshSignal(ctx context.Context, userID int) (*models.ProficiencySignal, error)
	GetSignal(ctx context.Context, userID int) (*models.ProficiencySignal, error)
}

// ProficiencyReader is the slice of the proficiency store the rollup needs
type ProficiencyReader interface {
	GetUserProficiency(ctx context.Context, userID int) ([]models.ProficiencyRecord, error)
}

// SignalParams controls how records are rolled up
type SignalParams struct {
	WeakLimit       int
	HardThreshold   float64
	MediumThreshold float64
	SkillMap        map[string]string
}

// SignalParamsFromConfig extracts the rollup parameters from the analysis config
func SignalParamsFromConfig(cfg config.AnalysisConfig) SignalParams {
	params := DefaultSignalParams()
	if cfg.WeakLimit > 0 {
		params.WeakLimit = cfg.WeakLimit
	}
	if cfg.HardThreshold > 0 {
		params.HardThreshold = cfg.HardThreshold
	}
	if cfg.MediumThreshold > 0 {
		params.MediumThreshold = cfg.MediumThreshold
	}
	if len(cfg.SkillMap) > 0 {
		params.SkillMap = cfg.SkillMap
	}
	return params
}

// DefaultSignalParams returns the built-in rollup parameters
func DefaultSignalParams() SignalParams {
	return SignalParams{
		WeakLimit:       config.DefaultWeakLimit,
		HardThreshold:   config.DefaultHardThreshold,
		MediumThreshold: config.DefaultMediumThreshold,
		SkillMap:        config.DefaultSkillMap(),
	}
}

// RecommendDifficulty maps an overall score onto a difficulty band
func RecommendDifficulty(overall float64, params SignalParams) models.Difficulty {
	switch {
	case overall >= params.HardThreshold:
		return models.DifficultyHard
	case overall >= params.MediumThreshold:
		return models.DifficultyMedium
	default:
		return models.DifficultyEasy
	}
}

// BuildSignal derives a complete signal from every proficiency record of one user.
// It is pure; CalculatedAt is left for the caller to stamp.
func BuildSignal(userID int, records []models.ProficiencyRecord, params SignalParams) *models.ProficiencySignal {
	signal := &models.ProficiencySignal{
		UserID:            userID,
		GenreStrengths:    map[string]int{},
		SkillScores:       map[string]int{},
		WeakTopics:        []string{},
		WeakQuestionTypes: []string{},
	}

	var genres, questionTypes []models.ProficiencyRecord
	skillTotals := map[string][2]int{}
	coreSum, coreCount := 0, 0

	for _, r := range records {
		switch r.DimensionType {
		case models.DimensionGenre:
			signal.GenreStrengths[r.DimensionKey] = r.ProficiencyScore
			genres = append(genres, r)
		case models.DimensionQuestionType:
			questionTypes = append(questionTypes, r)
		case models.DimensionCoreMetric:
			coreSum += r.ProficiencyScore
			coreCount++
			if skill, ok := params.SkillMap[r.DimensionKey]; ok {
				t := skillTotals[skill]
				skillTotals[skill] = [2]int{t[0] + r.ProficiencyScore, t[1] + 1}
			}
		case models.DimensionReasoningStep:
			// not part of the rollup
		}
	}

	// several metrics may feed one skill name
	for skill, t := range skillTotals {
		signal.SkillScores[skill] = ClampScore(float64(t[0]) / float64(t[1]))
	}

	signal.WeakTopics = weakestKeys(genres, params.WeakLimit)
	signal.WeakQuestionTypes = weakestKeys(questionTypes, params.WeakLimit)

	if coreCount > 0 {
		overall := float64(coreSum) / float64(coreCount)
		signal.OverallScore = sql.NullFloat64{Float64: overall, Valid: true}
		signal.RecommendedDifficulty = sql.NullString{String: string(RecommendDifficulty(overall, params)), Valid: true}
	}

	return signal
}

// weakestKeys returns up to limit keys in ascending score order, ties by key
func weakestKeys(records []models.ProficiencyRecord, limit int) []string {
	sorted := make([]models.ProficiencyRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ProficiencyScore != sorted[j].ProficiencyScore {
			return sorted[i].ProficiencyScore < sorted[j].ProficiencyScore
		}
		return sorted[i].DimensionKey < sorted[j].DimensionKey
	})
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	keys := make([]string, 0, len(sorted))
	for _, r := range sorted {
		keys = append(keys, r.DimensionKey)
	}
	return keys
}

// SignalService implements SignalServiceInterface on Postgres
type SignalService struct {
	db          *sql.DB
	cfg         *config.Config
	proficiency ProficiencyReader
	params      SignalParams
	logger      *observability.Logger
	now         func() time.Time
}

// NewSignalServiceWithLogger creates a new SignalService with a logger
func NewSignalServiceWithLogger(db *sql.DB, cfg *config.Config, proficiency ProficiencyReader, logger *observability.Logger) *SignalService {
	params := DefaultSignalParams()
	if cfg != nil {
		params = SignalParamsFromConfig(cfg.Analysis)
	}
	return &SignalService{
		db:          db,
		cfg:         cfg,
		proficiency: proficiency,
		params:      params,
		logger:      logger,
		now:         time.Now,
	}
}

// RefreshSignal rebuilds the user's signal from all of their records and overwrites the stored row
func (s *SignalService) RefreshSignal(ctx context.Context, userID int) (result0 *models.ProficiencySignal, err error) {
	ctx, span := observability.TraceProficiencyFunction(ctx, "refresh_signal", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	records, err := s.proficiency.GetUserProficiency(ctx, userID)
	if err != nil {
		return nil, err
	}

	signal := BuildSignal(userID, records, s.params)
	signal.CalculatedAt = s.now().UTC()

	genreJSON, err := json.Marshal(signal.GenreStrengths)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to marshal genre strengths")
	}
	skillJSON, err := json.Marshal(signal.SkillScores)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to marshal skill scores")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proficiency_signals (
			user_id, genre_strengths, skill_scores, weak_topics, weak_question_types,
			overall_score, recommended_difficulty, calculated_at
		) VALUES ($1, $2::jsonb, $3::jsonb, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			genre_strengths = EXCLUDED.genre_strengths,
			skill_scores = EXCLUDED.skill_scores,
			weak_topics = EXCLUDED.weak_topics,
			weak_question_types = EXCLUDED.weak_question_types,
			overall_score = EXCLUDED.overall_score,
			recommended_difficulty = EXCLUDED.recommended_difficulty,
			calculated_at = EXCLUDED.calculated_at
	`, userID, string(genreJSON), string(skillJSON),
		pq.Array(signal.WeakTopics), pq.Array(signal.WeakQuestionTypes),
		signal.OverallScore, signal.RecommendedDifficulty, signal.CalculatedAt)
	if err != nil {
		return nil, database.ClassifyStoreError(err, fmt.Sprintf("failed to save signal for user %d", userID))
	}

	span.SetAttributes(
		attribute.Int("signal.records", len(records)),
		attribute.String("signal.difficulty", signal.RecommendedDifficulty.String),
	)
	s.logger.Info(ctx, "Proficiency signal refreshed", map[string]interface{}{
		"user_id":             userID,
		"records":             len(records),
		"weak_topics":         signal.WeakTopics,
		"weak_question_types": signal.WeakQuestionTypes,
		"difficulty":          signal.RecommendedDifficulty.String,
	})
	return signal, nil
}

// GetSignal returns the stored signal for the user
func (s *SignalService) GetSignal(ctx context.Context, userID int) (result0 *models.ProficiencySignal, err error) {
	ctx, span := observability.TraceProficiencyFunction(ctx, "get_signal", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	if userID <= 0 {
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "invalid user id %d", userID)
	}

	var (
		signal            models.ProficiencySignal
		genreJSON         []byte
		skillJSON         []byte
		weakTopics        pq.StringArray
		weakQuestionTypes pq.StringArray
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, genre_strengths, skill_scores, weak_topics, weak_question_types,
			   overall_score, recommended_difficulty, calculated_at
		FROM proficiency_signals WHERE user_id = $1
	`, userID).Scan(
		&signal.UserID, &genreJSON, &skillJSON, &weakTopics, &weakQuestionTypes,
		&signal.OverallScore, &signal.RecommendedDifficulty, &signal.CalculatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "no signal for user %d", userID)
		}
		return nil, database.ClassifyStoreError(err, fmt.Sprintf("failed to load signal for user %d", userID))
	}

	signal.GenreStrengths = map[string]int{}
	if err := json.Unmarshal(genreJSON, &signal.GenreStrengths); err != nil {
		return nil, contextutils.WrapError(err, "failed to decode genre strengths")
	}
	signal.SkillScores = map[string]int{}
	if err := json.Unmarshal(skillJSON, &signal.SkillScores); err != nil {
		return nil, contextutils.WrapError(err, "failed to decode skill scores")
	}
	signal.WeakTopics = append([]string{}, weakTopics...)
	signal.WeakQuestionTypes = append([]string{}, weakQuestionTypes...)

	return &signal, nil
}
