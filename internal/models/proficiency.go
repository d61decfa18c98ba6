package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Trend classifies the most recent proficiency change
type Trend string

const (
	// TrendImproving is a rise larger than the trend threshold
	TrendImproving Trend = "improving"
	// TrendDeclining is a fall larger than the trend threshold
	TrendDeclining Trend = "declining"
	// TrendStagnant is any change within the threshold
	TrendStagnant Trend = "stagnant"
)

// Difficulty is the recommended content difficulty on a signal
type Difficulty string

const (
	// DifficultyEasy is recommended below the medium threshold
	DifficultyEasy Difficulty = "easy"
	// DifficultyMedium is recommended between the medium and hard thresholds
	DifficultyMedium Difficulty = "medium"
	// DifficultyHard is recommended at or above the hard threshold
	DifficultyHard Difficulty = "hard"
)

// ProficiencyRecord is the durable per-user, per-dimension skill estimate
type ProficiencyRecord struct {
	ID               int           `json:"id"`
	UserID           int           `json:"user_id"`
	DimensionType    DimensionType `json:"dimension_type"`
	DimensionKey     string        `json:"dimension_key"`
	ProficiencyScore int           `json:"proficiency_score"`
	ConfidenceScore  float64       `json:"confidence_score"`
	TotalAttempts    int           `json:"total_attempts"`
	CorrectAttempts  int           `json:"correct_attempts"`
	LastSessionID    sql.NullInt64 `json:"last_session_id"`
	Trend            Trend         `json:"trend"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Dimension returns the record's dimension key
func (r ProficiencyRecord) Dimension() DimensionKey {
	return DimensionKey{Type: r.DimensionType, Key: r.DimensionKey}
}

// AppliedSession reports whether sessionID was already folded into this record
func (r ProficiencyRecord) AppliedSession(sessionID int) bool {
	return r.LastSessionID.Valid && r.LastSessionID.Int64 == int64(sessionID)
}

// MarshalJSON customizes JSON marshaling for ProficiencyRecord to handle sql.NullInt64 properly
func (r ProficiencyRecord) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID               int           `json:"id"`
		UserID           int           `json:"user_id"`
		DimensionType    DimensionType `json:"dimension_type"`
		DimensionKey     string        `json:"dimension_key"`
		ProficiencyScore int           `json:"proficiency_score"`
		ConfidenceScore  float64       `json:"confidence_score"`
		TotalAttempts    int           `json:"total_attempts"`
		CorrectAttempts  int           `json:"correct_attempts"`
		LastSessionID    *int64        `json:"last_session_id"`
		Trend            Trend         `json:"trend"`
		CreatedAt        time.Time     `json:"created_at"`
		UpdatedAt        time.Time     `json:"updated_at"`
	}{
		ID:               r.ID,
		UserID:           r.UserID,
		DimensionType:    r.DimensionType,
		DimensionKey:     r.DimensionKey,
		ProficiencyScore: r.ProficiencyScore,
		ConfidenceScore:  r.ConfidenceScore,
		TotalAttempts:    r.TotalAttempts,
		CorrectAttempts:  r.CorrectAttempts,
		LastSessionID:    nullInt64ToPointer(r.LastSessionID),
		Trend:            r.Trend,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	})
}

// ProficiencyUpdate is the computed change for one dimension before it is written
type ProficiencyUpdate struct {
	Dimension        DimensionKey
	OldScore         float64
	ProficiencyScore int
	ConfidenceScore  float64
	TotalAttempts    int
	CorrectAttempts  int
	Trend            Trend
}

// ProficiencyUpdateResult summarises one ApplySessionStats call
type ProficiencyUpdateResult struct {
	Applied []DimensionKey `json:"applied"`
	Skipped []DimensionKey `json:"skipped"`
	Failed  []DimensionKey `json:"failed"`
}

// ProficiencySignal is the denormalized per-user rollup of all proficiency records.
// It is fully rewritten on every refresh.
type ProficiencySignal struct {
	UserID                int             `json:"user_id"`
	GenreStrengths        map[string]int  `json:"genre_strengths"`
	SkillScores           map[string]int  `json:"skill_scores"`
	WeakTopics            []string        `json:"weak_topics"`
	WeakQuestionTypes     []string        `json:"weak_question_types"`
	OverallScore          sql.NullFloat64 `json:"overall_score"`
	RecommendedDifficulty sql.NullString  `json:"recommended_difficulty"`
	CalculatedAt          time.Time       `json:"calculated_at"`
}

// MarshalJSON customizes JSON marshaling for ProficiencySignal to handle sql.Null types properly
func (s ProficiencySignal) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		UserID                int            `json:"user_id"`
		GenreStrengths        map[string]int `json:"genre_strengths"`
		SkillScores           map[string]int `json:"skill_scores"`
		WeakTopics            []string       `json:"weak_topics"`
		WeakQuestionTypes     []string       `json:"weak_question_types"`
		OverallScore          *float64       `json:"overall_score"`
		RecommendedDifficulty *string        `json:"recommended_difficulty"`
		CalculatedAt          time.Time      `json:"calculated_at"`
	}{
		UserID:                s.UserID,
		GenreStrengths:        s.GenreStrengths,
		SkillScores:           s.SkillScores,
		WeakTopics:            s.WeakTopics,
		WeakQuestionTypes:     s.WeakQuestionTypes,
		OverallScore:          nullFloat64ToPointer(s.OverallScore),
		RecommendedDifficulty: nullStringToPointer(s.RecommendedDifficulty),
		CalculatedAt:          s.CalculatedAt,
	})
}
