// Package models defines data structures used throughout the skill model pipeline.
package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a practice-test session
type SessionStatus string

const (
	// SessionStatusInProgress is a session the user is still answering
	SessionStatusInProgress SessionStatus = "in_progress"
	// SessionStatusCompleted is a finished session eligible for analysis
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusAbandoned is a session the user left without finishing
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// Session is the externally owned practice-test session. Only IsAnalysed and
// Metadata are ever written by this service.
type Session struct {
	ID          int                    `json:"id"`
	UserID      int                    `json:"user_id"`
	Status      SessionStatus          `json:"status"`
	IsAnalysed  bool                   `json:"is_analysed"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CompletedAt sql.NullTime           `json:"completed_at"`
	CreatedAt   time.Time              `json:"created_at"`
}

// MarshalJSON customizes JSON marshaling for Session to handle sql.NullTime properly
func (s Session) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID          int                    `json:"id"`
		UserID      int                    `json:"user_id"`
		Status      SessionStatus          `json:"status"`
		IsAnalysed  bool                   `json:"is_analysed"`
		Metadata    map[string]interface{} `json:"metadata,omitempty"`
		CompletedAt *time.Time             `json:"completed_at"`
		CreatedAt   time.Time              `json:"created_at"`
	}{
		ID:          s.ID,
		UserID:      s.UserID,
		Status:      s.Status,
		IsAnalysed:  s.IsAnalysed,
		Metadata:    s.Metadata,
		CompletedAt: nullTimeToPointer(s.CompletedAt),
		CreatedAt:   s.CreatedAt,
	})
}

// Attempt is one answered question within a session, joined with its question
// and passage metadata. Immutable once loaded.
type Attempt struct {
	AttemptID        int            `json:"attempt_id"`
	QuestionID       int            `json:"question_id"`
	PassageID        sql.NullInt64  `json:"passage_id"`
	QuestionType     string         `json:"question_type"`
	Genre            sql.NullString `json:"genre"`
	Correct          bool           `json:"correct"`
	TimeSpentSeconds float64        `json:"time_spent_seconds"`
	ReasoningNodeIDs []string       `json:"reasoning_node_ids"`

	// Question context, only consumed by diagnostics
	Stem           string        `json:"stem,omitempty"`
	Options        []string      `json:"options,omitempty"`
	CorrectOption  sql.NullInt32 `json:"correct_option"`
	SelectedOption sql.NullInt32 `json:"selected_option"`
}

// HasGenre reports whether the attempt's passage carries a genre
func (a Attempt) HasGenre() bool {
	return a.Genre.Valid && a.Genre.String != ""
}

// MarshalJSON customizes JSON marshaling for Attempt to handle sql.Null types properly
func (a Attempt) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		AttemptID        int      `json:"attempt_id"`
		QuestionID       int      `json:"question_id"`
		PassageID        *int64   `json:"passage_id"`
		QuestionType     string   `json:"question_type"`
		Genre            *string  `json:"genre"`
		Correct          bool     `json:"correct"`
		TimeSpentSeconds float64  `json:"time_spent_seconds"`
		ReasoningNodeIDs []string `json:"reasoning_node_ids"`
		Stem             string   `json:"stem,omitempty"`
		Options          []string `json:"options,omitempty"`
		CorrectOption    *int32   `json:"correct_option,omitempty"`
		SelectedOption   *int32   `json:"selected_option,omitempty"`
	}{
		AttemptID:        a.AttemptID,
		QuestionID:       a.QuestionID,
		PassageID:        nullInt64ToPointer(a.PassageID),
		QuestionType:     a.QuestionType,
		Genre:            nullStringToPointer(a.Genre),
		Correct:          a.Correct,
		TimeSpentSeconds: a.TimeSpentSeconds,
		ReasoningNodeIDs: a.ReasoningNodeIDs,
		Stem:             a.Stem,
		Options:          a.Options,
		CorrectOption:    nullInt32ToPointer(a.CorrectOption),
		SelectedOption:   nullInt32ToPointer(a.SelectedOption),
	})
}

// SessionDataset is the validated output of loading one session
type SessionDataset struct {
	Session  Session   `json:"session"`
	Attempts []Attempt `json:"attempts"`
}

// AlreadyProcessed reports a session that was analysed by an earlier run
func (d *SessionDataset) AlreadyProcessed() bool {
	return d != nil && d.Session.IsAnalysed
}

// IsEmpty reports a valid session with zero attempts
func (d *SessionDataset) IsEmpty() bool {
	return d == nil || len(d.Attempts) == 0
}

// IncorrectAttempts returns the attempts answered wrongly, in load order
func (d *SessionDataset) IncorrectAttempts() []Attempt {
	if d == nil {
		return nil
	}
	var out []Attempt
	for _, a := range d.Attempts {
		if !a.Correct {
			out = append(out, a)
		}
	}
	return out
}

// PendingSession identifies a completed, not yet analysed session
type PendingSession struct {
	SessionID   int       `json:"session_id"`
	UserID      int       `json:"user_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Helper functions for converting sql.Null types to pointers
func nullStringToPointer(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func nullTimeToPointer(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func nullInt32ToPointer(ni sql.NullInt32) *int32 {
	if ni.Valid {
		return &ni.Int32
	}
	return nil
}

func nullInt64ToPointer(ni sql.NullInt64) *int64 {
	if ni.Valid {
		return &ni.Int64
	}
	return nil
}

func nullFloat64ToPointer(nf sql.NullFloat64) *float64 {
	if nf.Valid {
		return &nf.Float64
	}
	return nil
}

// WorkerSettings represents worker configuration settings stored in database
type WorkerSettings struct {
	ID           int       `json:"id" db:"id"`
	SettingKey   string    `json:"setting_key" db:"setting_key"`
	SettingValue string    `json:"setting_value" db:"setting_value"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// WorkerStatus represents worker health and activity status
type WorkerStatus struct {
	ID                    int            `json:"id" db:"id"`
	WorkerInstance        string         `json:"worker_instance" db:"worker_instance"`
	IsRunning             bool           `json:"is_running" db:"is_running"`
	IsPaused              bool           `json:"is_paused" db:"is_paused"`
	CurrentActivity       sql.NullString `json:"current_activity" db:"current_activity"`
	LastHeartbeat         sql.NullTime   `json:"last_heartbeat" db:"last_heartbeat"`
	LastRunStart          sql.NullTime   `json:"last_run_start" db:"last_run_start"`
	LastRunFinish         sql.NullTime   `json:"last_run_finish" db:"last_run_finish"`
	LastRunError          sql.NullString `json:"last_run_error" db:"last_run_error"`
	TotalSessionsAnalysed int            `json:"total_sessions_analysed" db:"total_sessions_analysed"`
	TotalSessionsFailed   int            `json:"total_sessions_failed" db:"total_sessions_failed"`
	TotalRuns             int            `json:"total_runs" db:"total_runs"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// MarshalJSON customizes JSON marshaling for WorkerStatus to handle sql.NullString and sql.NullTime properly
func (ws WorkerStatus) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID                    int        `json:"id"`
		WorkerInstance        string     `json:"worker_instance"`
		IsRunning             bool       `json:"is_running"`
		IsPaused              bool       `json:"is_paused"`
		CurrentActivity       *string    `json:"current_activity"`
		LastHeartbeat         *time.Time `json:"last_heartbeat"`
		LastRunStart          *time.Time `json:"last_run_start"`
		LastRunFinish         *time.Time `json:"last_run_finish"`
		LastRunError          *string    `json:"last_run_error"`
		TotalSessionsAnalysed int        `json:"total_sessions_analysed"`
		TotalSessionsFailed   int        `json:"total_sessions_failed"`
		TotalRuns             int        `json:"total_runs"`
		CreatedAt             time.Time  `json:"created_at"`
		UpdatedAt             time.Time  `json:"updated_at"`
	}{
		ID:                    ws.ID,
		WorkerInstance:        ws.WorkerInstance,
		IsRunning:             ws.IsRunning,
		IsPaused:              ws.IsPaused,
		CurrentActivity:       nullStringToPointer(ws.CurrentActivity),
		LastHeartbeat:         nullTimeToPointer(ws.LastHeartbeat),
		LastRunStart:          nullTimeToPointer(ws.LastRunStart),
		LastRunFinish:         nullTimeToPointer(ws.LastRunFinish),
		LastRunError:          nullStringToPointer(ws.LastRunError),
		TotalSessionsAnalysed: ws.TotalSessionsAnalysed,
		TotalSessionsFailed:   ws.TotalSessionsFailed,
		TotalRuns:             ws.TotalRuns,
		CreatedAt:             ws.CreatedAt,
		UpdatedAt:             ws.UpdatedAt,
	})
}

// WorkerInstanceHealth is one worker row as reported by the health endpoint
type WorkerInstanceHealth struct {
	WorkerInstance        string     `json:"worker_instance"`
	Healthy               bool       `json:"healthy"`
	IsRunning             bool       `json:"is_running"`
	IsPaused              bool       `json:"is_paused"`
	LastHeartbeat         *time.Time `json:"last_heartbeat"`
	LastRunError          string     `json:"last_run_error,omitempty"`
	TotalSessionsAnalysed int        `json:"total_sessions_analysed"`
	TotalSessionsFailed   int        `json:"total_sessions_failed"`
	TotalRuns             int        `json:"total_runs"`
}

// WorkerHealth summarises every registered worker instance
type WorkerHealth struct {
	GlobalPaused bool                   `json:"global_paused"`
	TotalCount   int                    `json:"total_count"`
	HealthyCount int                    `json:"healthy_count"`
	Instances    []WorkerInstanceHealth `json:"worker_instances"`
}
