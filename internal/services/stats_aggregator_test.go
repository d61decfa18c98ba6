package services

import (
	"database/sql"
	"math"
	"testing"

	"skillmodel/internal/models"
	"skillmodel/internal/taxonomy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTaxonomy(t *testing.T) *taxonomy.Map {
	t.Helper()
	m, err := taxonomy.New(taxonomy.Document{
		Version: "test-1",
		Metrics: []taxonomy.MetricDocument{
			{ID: "main_idea", Nodes: []string{"identify_topic", "summarize"}},
			{ID: "inference", Nodes: []string{"draw_conclusion", "summarize"}},
			{ID: "vocabulary_in_context", Nodes: []string{"word_meaning"}},
		},
	})
	require.NoError(t, err)
	return m
}

func attempt(id int, correct bool, qType, genre string, seconds float64, nodes ...string) models.Attempt {
	a := models.Attempt{
		AttemptID:        id,
		QuestionID:       100 + id,
		QuestionType:     qType,
		Correct:          correct,
		TimeSpentSeconds: seconds,
		ReasoningNodeIDs: nodes,
	}
	if genre != "" {
		a.Genre = sql.NullString{String: genre, Valid: true}
	}
	return a
}

func TestAggregateSessionStats_AllDimensions(t *testing.T) {
	attempts := []models.Attempt{
		attempt(1, true, "multiple_choice", "fiction", 30, "identify_topic"),
		attempt(2, false, "multiple_choice", "fiction", 50, "draw_conclusion"),
		attempt(3, true, "true_false", "science", 10, "word_meaning", "unmapped_node"),
	}

	stats := AggregateSessionStats(attempts, testTaxonomy(t))

	fiction := stats[models.DimensionKey{Type: models.DimensionGenre, Key: "fiction"}]
	assert.Equal(t, 2, fiction.Attempts)
	assert.Equal(t, 1, fiction.Correct)
	assert.InDelta(t, 0.5, fiction.Accuracy, 1e-9)
	assert.Equal(t, 50, fiction.Score)
	assert.InDelta(t, 40.0, fiction.AvgTime, 1e-9)

	mc := stats[models.DimensionKey{Type: models.DimensionQuestionType, Key: "multiple_choice"}]
	assert.Equal(t, 2, mc.Attempts)

	vocab := stats[models.DimensionKey{Type: models.DimensionCoreMetric, Key: "vocabulary_in_context"}]
	assert.Equal(t, 1, vocab.Attempts)
	assert.Equal(t, 100, vocab.Score)

	unmapped := stats[models.DimensionKey{Type: models.DimensionReasoningStep, Key: "unmapped_node"}]
	assert.Equal(t, 1, unmapped.Attempts, "reasoning steps bypass the metric mapping")

	_, hasUnmappedMetric := stats[models.DimensionKey{Type: models.DimensionCoreMetric, Key: "unmapped_node"}]
	assert.False(t, hasUnmappedMetric)
}

func TestAggregateSessionStats_OneAttemptTwoMetrics(t *testing.T) {
	stats := AggregateSessionStats([]models.Attempt{
		attempt(1, true, "multiple_choice", "", 12, "identify_topic", "draw_conclusion"),
	}, testTaxonomy(t))

	mainIdea := stats[models.DimensionKey{Type: models.DimensionCoreMetric, Key: "main_idea"}]
	inference := stats[models.DimensionKey{Type: models.DimensionCoreMetric, Key: "inference"}]
	assert.Equal(t, 1, mainIdea.Attempts)
	assert.Equal(t, 1, inference.Attempts)
	assert.Empty(t, stats.OfType(models.DimensionGenre))
}

func TestAggregateSessionStats_SharedNodeCountsMetricOnce(t *testing.T) {
	// summarize and identify_topic both back main_idea
	stats := AggregateSessionStats([]models.Attempt{
		attempt(1, false, "multiple_choice", "", 12, "identify_topic", "summarize", "summarize"),
	}, testTaxonomy(t))

	assert.Equal(t, 1, stats[models.DimensionKey{Type: models.DimensionCoreMetric, Key: "main_idea"}].Attempts)
	assert.Equal(t, 1, stats[models.DimensionKey{Type: models.DimensionCoreMetric, Key: "inference"}].Attempts)
	assert.Equal(t, 1, stats[models.DimensionKey{Type: models.DimensionReasoningStep, Key: "summarize"}].Attempts)
}

func TestAggregateSessionStats_MissingQuestionType(t *testing.T) {
	attempts := []models.Attempt{
		attempt(1, false, "", "", 12, "identify_topic"),
		attempt(2, true, "", "", 8),
	}

	stats := AggregateSessionStats(attempts, testTaxonomy(t))

	unknown, ok := stats[models.DimensionKey{Type: models.DimensionQuestionType, Key: models.UnknownQuestionType}]
	require.True(t, ok)
	assert.Equal(t, 2, unknown.Attempts)
	assert.Equal(t, 1, unknown.Correct)
	assert.Equal(t, 50, unknown.Score)
	assert.NotContains(t, stats, models.DimensionKey{Type: models.DimensionQuestionType, Key: ""})
}

func TestAggregateSessionStats_Empty(t *testing.T) {
	assert.Empty(t, AggregateSessionStats(nil, testTaxonomy(t)))
	assert.Empty(t, AggregateSessionStats([]models.Attempt{}, nil))
}

func TestAggregateSessionStats_NilTaxonomy(t *testing.T) {
	stats := AggregateSessionStats([]models.Attempt{attempt(1, true, "mc", "poetry", 5, "identify_topic")}, nil)
	assert.Empty(t, stats.OfType(models.DimensionCoreMetric))
	assert.Len(t, stats.OfType(models.DimensionReasoningStep), 1)
}

func TestAggregateSessionStats_ScoreProperty(t *testing.T) {
	tax := testTaxonomy(t)
	for n := 1; n <= 12; n++ {
		for correct := 0; correct <= n; correct++ {
			var attempts []models.Attempt
			for i := 0; i < n; i++ {
				attempts = append(attempts, attempt(i, i < correct, "mc", "fiction", 1, "identify_topic"))
			}
			stats := AggregateSessionStats(attempts, tax)
			for key, stat := range stats {
				want := int(math.Round(float64(correct) / float64(n) * 100))
				assert.Equal(t, want, stat.Score, "%s n=%d correct=%d", key, n, correct)
				assert.GreaterOrEqual(t, stat.Score, 0)
				assert.LessOrEqual(t, stat.Score, 100)
			}
		}
	}
}

func TestAggregateSessionStats_Deterministic(t *testing.T) {
	attempts := []models.Attempt{
		attempt(1, true, "mc", "fiction", 3, "identify_topic", "word_meaning"),
		attempt(2, false, "tf", "history", 7, "summarize"),
	}
	tax := testTaxonomy(t)
	first := AggregateSessionStats(attempts, tax)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, AggregateSessionStats(attempts, tax))
		assert.Equal(t, first.Entries(), AggregateSessionStats(attempts, tax).Entries())
	}
}
