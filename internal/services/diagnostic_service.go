package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"skillmodel/internal/config"
	"skillmodel/internal/models"
	"skillmodel/internal/observability"
	contextutils "skillmodel/internal/utils"

	openai "github.com/sashabaranov/go-openai"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DiagnosticResponseSchema is the JSON document the reasoning service must return
const DiagnosticResponseSchema = `{
	"type": "object",
	"required": ["diagnostics"],
	"properties": {
		"diagnostics": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["attempt_id", "failure_tags"],
				"properties": {
					"attempt_id": {"type": "integer"},
					"failure_tags": {"type": "array", "items": {"type": "string", "minLength": 1}},
					"description": {"type": "string"}
				}
			}
		}
	}
}`

const diagnosticSystemPrompt = `You are a reading-comprehension tutor. For each incorrectly answered question you receive,
identify why the student most likely chose the wrong option. Respond with JSON only, shaped as
{"diagnostics":[{"attempt_id":<int>,"failure_tags":[<short snake_case tags>],"description":<one sentence>}]}.
Use the attempt_id values exactly as given and return at most one entry per attempt.`

// Annotator produces best-effort failure diagnoses for incorrectly answered attempts
type Annotator interface {
	Annotate(ctx context.Context, req *models.DiagnosticRequest) ([]models.AttemptDiagnostic, error)
}

// NoopAnnotator is used when diagnostics are disabled
type NoopAnnotator struct{}

// Annotate returns no diagnostics
func (NoopAnnotator) Annotate(context.Context, *models.DiagnosticRequest) ([]models.AttemptDiagnostic, error) {
	return nil, nil
}

// DiagnosticService asks an OpenAI-compatible chat completion endpoint to diagnose failed attempts
type DiagnosticService struct {
	client *openai.Client
	cfg    config.DiagnosticsConfig
	schema *gojsonschema.Schema
	logger *observability.Logger
}

// NewAnnotator returns the configured annotator, falling back to NoopAnnotator when diagnostics are disabled
func NewAnnotator(cfg *config.Config, logger *observability.Logger) (Annotator, error) {
	if cfg == nil || !cfg.Diagnostics.Enabled {
		return NoopAnnotator{}, nil
	}
	return NewDiagnosticServiceWithLogger(cfg, logger)
}

// NewDiagnosticServiceWithLogger creates a DiagnosticService with an instrumented HTTP client
func NewDiagnosticServiceWithLogger(cfg *config.Config, logger *observability.Logger) (*DiagnosticService, error) {
	if cfg.Diagnostics.BaseURL == "" {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "diagnostics base_url is required when diagnostics are enabled")
	}
	if cfg.Diagnostics.Model == "" {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "diagnostics model is required when diagnostics are enabled")
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(DiagnosticResponseSchema))
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to compile diagnostic response schema")
	}

	clientConfig := openai.DefaultConfig(cfg.Diagnostics.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Diagnostics.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
		),
	}

	if logger != nil {
		logger.Info(context.Background(), "Diagnostic client configured", diagnosticClientFields(cfg.Diagnostics))
	}

	return &DiagnosticService{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg.Diagnostics,
		schema: schema,
		logger: logger,
	}, nil
}

// diagnosticClientFields describes the client for logs. The API key is masked.
func diagnosticClientFields(cfg config.DiagnosticsConfig) map[string]interface{} {
	return map[string]interface{}{
		"base_url": strings.TrimSuffix(cfg.BaseURL, "/"),
		"model":    cfg.Model,
		"api_key":  contextutils.MaskAPIKey(cfg.APIKey),
		"timeout":  cfg.Timeout.String(),
	}
}

type diagnosticPromptAttempt struct {
	AttemptID      int      `json:"attempt_id"`
	QuestionType   string   `json:"question_type"`
	Genre          string   `json:"genre,omitempty"`
	ReasoningNodes []string `json:"reasoning_nodes"`
	Stem           string   `json:"question,omitempty"`
	Options        []string `json:"options,omitempty"`
	CorrectOption  *int32   `json:"correct_option,omitempty"`
	SelectedOption *int32   `json:"selected_option,omitempty"`
}

type diagnosticResponse struct {
	Diagnostics []models.AttemptDiagnostic `json:"diagnostics"`
}

// Annotate sends the failed attempts to the reasoning service. Any failure is returned as
// DIAGNOSTIC_SERVICE_ERROR; callers treat it as soft.
func (s *DiagnosticService) Annotate(ctx context.Context, req *models.DiagnosticRequest) (result0 []models.AttemptDiagnostic, err error) {
	if req == nil || len(req.Attempts) == 0 {
		return nil, nil
	}

	ctx, span := observability.TraceDiagnosticFunction(ctx, "annotate",
		observability.AttributeSessionID(req.SessionID),
		observability.AttributeUserID(req.UserID),
		attribute.String("ai.model", s.cfg.Model),
		attribute.Int("diagnostics.attempts", len(req.Attempts)),
	)
	defer observability.FinishSpan(span, &err)

	attempts := req.Attempts
	if s.cfg.MaxAttempts > 0 && len(attempts) > s.cfg.MaxAttempts {
		attempts = attempts[:s.cfg.MaxAttempts]
	}

	prompt, err := buildDiagnosticPrompt(req.TaxonomyVersion, attempts)
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrDiagnosticService, "failed to build diagnostic prompt")
	}

	chatReq := openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: diagnosticSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: s.cfg.MaxTokens,
		Temperature:         0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, chatReq)
	duration := time.Since(start)
	span.SetAttributes(attribute.String("duration", duration.String()))
	if err != nil {
		s.logger.Warn(ctx, "Diagnostic request failed", map[string]interface{}{
			"session_id": req.SessionID,
			"duration":   duration.String(),
			"error":      err.Error(),
		})
		return nil, mapDiagnosticError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, contextutils.WrapError(contextutils.ErrDiagnosticService, "no choices in diagnostic response")
	}

	content := cleanJSONContent(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, contextutils.WrapError(contextutils.ErrDiagnosticService, "diagnostic response was empty")
	}

	if err := s.validateResponse(content); err != nil {
		return nil, err
	}

	var parsed diagnosticResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDiagnosticService, "failed to parse diagnostic response: %v", err)
	}

	diagnostics := filterDiagnostics(parsed.Diagnostics, attempts)
	s.logger.Info(ctx, "Diagnostics received", map[string]interface{}{
		"session_id":  req.SessionID,
		"requested":   len(attempts),
		"diagnostics": len(diagnostics),
		"duration":    duration.String(),
		"tokens":      resp.Usage.TotalTokens,
	})
	span.SetAttributes(attribute.Int("diagnostics.returned", len(diagnostics)))
	return diagnostics, nil
}

func (s *DiagnosticService) validateResponse(content string) error {
	result, err := s.schema.Validate(gojsonschema.NewStringLoader(content))
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrDiagnosticService, "diagnostic response is not valid JSON: %v", err)
	}
	if !result.Valid() {
		var errorMessages []string
		for _, e := range result.Errors() {
			errorMessages = append(errorMessages, e.String())
		}
		return contextutils.WrapErrorf(contextutils.ErrDiagnosticService,
			"diagnostic response failed schema validation: %s", strings.Join(errorMessages, "; "))
	}
	return nil
}

func buildDiagnosticPrompt(taxonomyVersion string, attempts []models.Attempt) (string, error) {
	items := make([]diagnosticPromptAttempt, 0, len(attempts))
	for _, a := range attempts {
		item := diagnosticPromptAttempt{
			AttemptID:      a.AttemptID,
			QuestionType:   a.QuestionType,
			ReasoningNodes: a.ReasoningNodeIDs,
			Stem:           a.Stem,
			Options:        a.Options,
		}
		if a.HasGenre() {
			item.Genre = a.Genre.String
		}
		if a.CorrectOption.Valid {
			v := a.CorrectOption.Int32
			item.CorrectOption = &v
		}
		if a.SelectedOption.Valid {
			v := a.SelectedOption.Int32
			item.SelectedOption = &v
		}
		items = append(items, item)
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"taxonomy_version": taxonomyVersion,
		"failed_attempts":  items,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return "Diagnose these incorrect answers:\n" + string(payload), nil
}

// filterDiagnostics drops entries for attempts that were not asked about and keeps the first per attempt
func filterDiagnostics(diagnostics []models.AttemptDiagnostic, attempts []models.Attempt) []models.AttemptDiagnostic {
	asked := make(map[int]struct{}, len(attempts))
	for _, a := range attempts {
		asked[a.AttemptID] = struct{}{}
	}

	seen := make(map[int]struct{}, len(diagnostics))
	out := make([]models.AttemptDiagnostic, 0, len(diagnostics))
	for _, d := range diagnostics {
		if _, ok := asked[d.AttemptID]; !ok {
			continue
		}
		if _, dup := seen[d.AttemptID]; dup {
			continue
		}
		seen[d.AttemptID] = struct{}{}
		if d.FailureTags == nil {
			d.FailureTags = []string{}
		}
		d.Description = strings.TrimSpace(d.Description)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptID < out[j].AttemptID })
	return out
}

// cleanJSONContent strips markdown code fences some providers wrap JSON in
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}

func mapDiagnosticError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return contextutils.NewAppErrorWithCause(contextutils.ErrorCodeDiagnosticService, contextutils.SeverityWarn,
			contextutils.ErrDiagnosticService.Message, "diagnostic request timed out", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return contextutils.NewAppErrorWithCause(contextutils.ErrorCodeDiagnosticService, contextutils.SeverityWarn,
			contextutils.ErrDiagnosticService.Message, fmt.Sprintf("reasoning service returned status %d: %s", apiErr.HTTPStatusCode, apiErr.Message), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return contextutils.NewAppErrorWithCause(contextutils.ErrorCodeDiagnosticService, contextutils.SeverityWarn,
			contextutils.ErrDiagnosticService.Message, fmt.Sprintf("reasoning service request failed with status %d", reqErr.HTTPStatusCode), err)
	}

	return contextutils.NewAppErrorWithCause(contextutils.ErrorCodeDiagnosticService, contextutils.SeverityWarn,
		contextutils.ErrDiagnosticService.Message, err.Error(), err)
}
