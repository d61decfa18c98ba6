//go:build integration

package services

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"skillmodel/internal/config"
	"skillmodel/internal/database"
	"skillmodel/internal/observability"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// SharedTestDBSetup provides a clean, migrated database for each integration test
func SharedTestDBSetup(t *testing.T) *sql.DB {
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	dbManager := database.NewManager(logger)

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Fatal("TEST_DATABASE_URL environment variable must be set for integration tests")
	}

	db, err := dbManager.InitDB(databaseURL)
	require.NoError(t, err)

	CleanupTestDatabase(db, t)
	return db
}

// CleanupTestDatabase truncates every table the pipeline touches
func CleanupTestDatabase(db *sql.DB, t *testing.T) {
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `
		TRUNCATE TABLE attempts, sessions, questions, passages,
			proficiency, proficiency_signals, worker_status, worker_settings
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
}

// insertPassage creates a passage and returns its id
func insertPassage(t *testing.T, db *sql.DB, genre string) int {
	var id int
	var g interface{}
	if genre != "" {
		g = genre
	}
	err := db.QueryRow(`INSERT INTO passages (title, genre, body) VALUES ('p', $1, 'text') RETURNING id`, g).Scan(&id)
	require.NoError(t, err)
	return id
}

// insertQuestion creates a question tagged with reasoning nodes
func insertQuestion(t *testing.T, db *sql.DB, passageID int, questionType string, nodes ...string) int {
	var id int
	err := db.QueryRow(`
		INSERT INTO questions (passage_id, question_type, tags, stem, options, correct_option)
		VALUES ($1, $2, $3, 'stem', '["a","b","c","d"]', 0) RETURNING id
	`, passageID, questionType, pq.Array(nodes)).Scan(&id)
	require.NoError(t, err)
	return id
}

// insertSession creates a session in the given status
func insertSession(t *testing.T, db *sql.DB, userID int, status string) int {
	var id int
	err := db.QueryRow(`
		INSERT INTO sessions (user_id, status, completed_at)
		VALUES ($1, $2, CASE WHEN $2 = 'completed' THEN NOW() END) RETURNING id
	`, userID, status).Scan(&id)
	require.NoError(t, err)
	return id
}

// insertAttempt records one answer
func insertAttempt(t *testing.T, db *sql.DB, sessionID, userID, questionID int, correct bool, seconds float64) int {
	var id int
	err := db.QueryRow(`
		INSERT INTO attempts (session_id, user_id, question_id, is_correct, time_spent_seconds, selected_option)
		VALUES ($1, $2, $3, $4, $5, 1) RETURNING id
	`, sessionID, userID, questionID, correct, seconds).Scan(&id)
	require.NoError(t, err)
	return id
}
