package config

import "time"

// Timeout constants
const (
	WorkerShutdownTimeout = 30 * time.Second
	CLIAnalyzeTimeout     = 5 * time.Minute

	// Diagnostics is the only unbounded dependency of the pipeline
	DiagnosticsTimeout = 20 * time.Second

	// Database timeouts
	DatabaseConnMaxLifetime = 5 * time.Minute

	// Worker timeouts
	WorkerCheckInterval     = 15 * time.Second
	WorkerHeartbeatInterval = 30 * time.Second
	ListenerMinReconnect    = 10 * time.Second
	ListenerMaxReconnect    = time.Minute

	// Per-user lock timeouts
	UserLockTTL           = 2 * time.Minute
	UserLockRetryInterval = 50 * time.Millisecond
)

// Proficiency model constants
const (
	DefaultConfidenceThreshold = 9.0
	DefaultAlpha               = 0.2
	DefaultTrendDeltaThreshold = 3.0
	DefaultNeutralProficiency  = 50.0
	DefaultWeakLimit           = 3
	DefaultHardThreshold       = 75.0
	DefaultMediumThreshold     = 50.0
)

// Service defaults
const (
	DefaultServerPort             = "8081"
	DefaultServiceName            = "skillmodel-worker"
	DefaultTaxonomyPath           = "taxonomy.yaml"
	DefaultDiagnosticsMaxTokens   = 1200
	DefaultDiagnosticsMaxAttempts = 20
	DefaultWorkerConcurrency      = 4
	DefaultWorkerBatchSize        = 50
	DefaultListenChannel          = "session_completed"
	DefaultMaxHistory             = 50
	DefaultMaxActivityLogs        = 200
)

// Lock backends
const (
	LockBackendLocal    = "local"
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

// Security configuration constants
const (
	DefaultCSP = "default-src 'none'; frame-ancestors 'none'"
)

// DefaultSkillMap returns the built-in core_metric to skill name table
func DefaultSkillMap() map[string]string {
	return map[string]string{
		"main_idea":             "main_idea",
		"inference":             "inference",
		"detail_retrieval":      "detail",
		"vocabulary_in_context": "vocabulary",
		"author_purpose":        "author_purpose",
		"argument_structure":    "structure",
	}
}
