package models

// AnalysisStatus is the terminal state of one AnalyzeSession call
type AnalysisStatus string

const (
	// AnalysisStatusAnalysed means the session was processed and marked analysed
	AnalysisStatusAnalysed AnalysisStatus = "analysed"
	// AnalysisStatusAlreadyProcessed means the session had been analysed before; nothing was written
	AnalysisStatusAlreadyProcessed AnalysisStatus = "already_processed"
	// AnalysisStatusEmptySession means the session had no attempts and was only marked analysed
	AnalysisStatusEmptySession AnalysisStatus = "empty_session"
)

// AnalysisResult is returned by AnalyzeSession
type AnalysisResult struct {
	Success           bool           `json:"success"`
	Status            AnalysisStatus `json:"status"`
	SessionID         int            `json:"session_id"`
	UserID            int            `json:"user_id"`
	Stats             SurfaceStats   `json:"stats,omitempty"`
	Diagnostics       int            `json:"diagnostics"`
	DimensionsApplied int            `json:"dimensions_applied"`
	DimensionsSkipped int            `json:"dimensions_skipped"`
	DimensionsFailed  int            `json:"dimensions_failed"`
	Message           string         `json:"message,omitempty"`
}

// AttemptDiagnostic is one failure diagnosis returned by the reasoning service
type AttemptDiagnostic struct {
	AttemptID   int      `json:"attempt_id"`
	FailureTags []string `json:"failure_tags"`
	Description string   `json:"description"`
}

// DiagnosticRequest carries the failed attempts of one session to the annotator
type DiagnosticRequest struct {
	SessionID       int       `json:"session_id"`
	UserID          int       `json:"user_id"`
	TaxonomyVersion string    `json:"taxonomy_version"`
	Attempts        []Attempt `json:"attempts"`
}
