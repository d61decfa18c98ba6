package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"skillmodel/internal/config"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	contextutils "skillmodel/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatCompletionBody(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1234567890,
		"model":   "diag-model",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]interface{}{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]interface{}{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func newTestDiagnosticService(t *testing.T, handler http.HandlerFunc) *DiagnosticService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{Diagnostics: config.DiagnosticsConfig{
		Enabled:     true,
		BaseURL:     server.URL + "/v1",
		Model:       "diag-model",
		APIKey:      "test-key",
		MaxTokens:   256,
		MaxAttempts: 2,
	}}
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	service, err := NewDiagnosticServiceWithLogger(cfg, logger)
	require.NoError(t, err)
	return service
}

func diagnosticRequest() *models.DiagnosticRequest {
	return &models.DiagnosticRequest{
		SessionID:       7,
		UserID:          3,
		TaxonomyVersion: "v1",
		Attempts: []models.Attempt{
			{
				AttemptID: 11, QuestionType: "multiple_choice", ReasoningNodeIDs: []string{"summarize"},
				Stem: "What is the passage mainly about?", Options: []string{"a", "b", "c", "d"},
				CorrectOption: sql.NullInt32{Int32: 1, Valid: true}, SelectedOption: sql.NullInt32{Int32: 2, Valid: true},
				Genre: sql.NullString{String: "fiction", Valid: true},
			},
			{AttemptID: 12, QuestionType: "true_false", ReasoningNodeIDs: []string{"word_meaning"}},
			{AttemptID: 13, QuestionType: "true_false"},
		},
	}
}

func TestDiagnosticService_Annotate_Success(t *testing.T) {
	var captured map[string]interface{}
	service := newTestDiagnosticService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		content := "```json\n" + `{"diagnostics":[
			{"attempt_id":12,"failure_tags":["misread_negation"],"description":" Missed the not. "},
			{"attempt_id":11,"failure_tags":["distractor_similarity"],"description":"Picked a detail."},
			{"attempt_id":11,"failure_tags":["duplicate"]},
			{"attempt_id":99,"failure_tags":["not_requested"]}
		]}` + "\n```"
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(chatCompletionBody(content)))
	})

	diags, err := service.Annotate(context.Background(), diagnosticRequest())
	require.NoError(t, err)
	require.Len(t, diags, 2)
	assert.Equal(t, 11, diags[0].AttemptID)
	assert.Equal(t, []string{"distractor_similarity"}, diags[0].FailureTags)
	assert.Equal(t, 12, diags[1].AttemptID)
	assert.Equal(t, "Missed the not.", diags[1].Description)

	assert.Equal(t, "diag-model", captured["model"])
	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 2)
	userPrompt := messages[1].(map[string]interface{})["content"].(string)
	assert.Contains(t, userPrompt, `"attempt_id": 11`)
	assert.Contains(t, userPrompt, `"attempt_id": 12`)
	assert.NotContains(t, userPrompt, `"attempt_id": 13`, "max_attempts caps the request")
}

func TestDiagnosticService_Annotate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			},
		},
		{
			name: "schema mismatch",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(chatCompletionBody(`{"diagnostics":[{"attempt_id":"eleven"}]}`))
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(chatCompletionBody(`sorry, I cannot help`))
			},
		},
		{
			name: "empty content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(chatCompletionBody(""))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newTestDiagnosticService(t, tt.handler)
			diags, err := service.Annotate(context.Background(), diagnosticRequest())
			require.Error(t, err)
			assert.Nil(t, diags)
			assert.True(t, contextutils.IsError(err, contextutils.ErrDiagnosticService), "got %v", err)
			assert.False(t, contextutils.IsRetryable(err))
		})
	}
}

func TestDiagnosticService_Annotate_Timeout(t *testing.T) {
	service := newTestDiagnosticService(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := service.Annotate(ctx, diagnosticRequest())
	require.Error(t, err)
	assert.True(t, contextutils.IsError(err, contextutils.ErrDiagnosticService))
	assert.Contains(t, err.Error(), "timed out")
}

func TestDiagnosticService_Annotate_NoAttempts(t *testing.T) {
	service := newTestDiagnosticService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	diags, err := service.Annotate(context.Background(), &models.DiagnosticRequest{SessionID: 1})
	assert.NoError(t, err)
	assert.Nil(t, diags)
}

func TestNewAnnotator(t *testing.T) {
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})

	annotator, err := NewAnnotator(&config.Config{}, logger)
	require.NoError(t, err)
	assert.IsType(t, NoopAnnotator{}, annotator)

	_, err = NewAnnotator(&config.Config{Diagnostics: config.DiagnosticsConfig{Enabled: true, Model: "m"}}, logger)
	assert.Error(t, err)

	annotator, err = NewAnnotator(&config.Config{Diagnostics: config.DiagnosticsConfig{Enabled: true, BaseURL: "http://localhost:1/v1", Model: "m"}}, logger)
	require.NoError(t, err)
	assert.IsType(t, &DiagnosticService{}, annotator)
}

func TestDiagnosticClientFields(t *testing.T) {
	fields := diagnosticClientFields(config.DiagnosticsConfig{
		BaseURL: "https://llm.internal/v1/",
		Model:   "diag-model",
		APIKey:  "sk-live-0123456789abcdef",
		Timeout: 20 * time.Second,
	})

	assert.Equal(t, "https://llm.internal/v1", fields["base_url"])
	assert.Equal(t, "diag-model", fields["model"])
	assert.Equal(t, "sk-l****************cdef", fields["api_key"])
	assert.NotContains(t, fields["api_key"], "0123456789")
	assert.Equal(t, "20s", fields["timeout"])

	fields = diagnosticClientFields(config.DiagnosticsConfig{BaseURL: "http://localhost:8080/v1", Model: "m"})
	assert.Equal(t, "[EMPTY]", fields["api_key"])
}

func TestCleanJSONContent(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSONContent("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSONContent("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, cleanJSONContent("  {\"a\":1}  "))
}

func TestBuildDiagnosticPrompt(t *testing.T) {
	prompt, err := buildDiagnosticPrompt("v9", diagnosticRequest().Attempts[:1])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, "Diagnose these incorrect answers:"))
	assert.Contains(t, prompt, `"taxonomy_version": "v9"`)
	assert.Contains(t, prompt, `"genre": "fiction"`)
	assert.Contains(t, prompt, `"selected_option": 2`)
}
