package services

import (
	"math"

	"skillmodel/internal/models"
)

// NodeMetricLookup resolves a reasoning node to the metrics it backs
type NodeMetricLookup interface {
	MetricsForNode(node string) []string
}

// AggregateSessionStats folds a session's attempts into per-dimension surface statistics.
// It is pure and deterministic. Within one attempt a metric or node is counted once even
// if several of its reasoning nodes resolve to it.
func AggregateSessionStats(attempts []models.Attempt, taxonomy NodeMetricLookup) models.SurfaceStats {
	stats := make(models.SurfaceStats)

	for _, attempt := range attempts {
		touched := make(map[models.DimensionKey]struct{})

		for _, node := range attempt.ReasoningNodeIDs {
			if node == "" {
				continue
			}
			if taxonomy != nil {
				for _, metric := range taxonomy.MetricsForNode(node) {
					touched[models.DimensionKey{Type: models.DimensionCoreMetric, Key: metric}] = struct{}{}
				}
			}
			touched[models.DimensionKey{Type: models.DimensionReasoningStep, Key: node}] = struct{}{}
		}

		if attempt.HasGenre() {
			touched[models.DimensionKey{Type: models.DimensionGenre, Key: attempt.Genre.String}] = struct{}{}
		}

		questionType := attempt.QuestionType
		if questionType == "" {
			questionType = models.UnknownQuestionType
		}
		touched[models.DimensionKey{Type: models.DimensionQuestionType, Key: questionType}] = struct{}{}

		for key := range touched {
			stat := stats[key]
			stat.Attempts++
			if attempt.Correct {
				stat.Correct++
			}
			stat.TotalTime += attempt.TimeSpentSeconds
			stats[key] = stat
		}
	}

	for key, stat := range stats {
		stats[key] = finalizeStat(stat)
	}

	return stats
}

func finalizeStat(stat models.DimensionStat) models.DimensionStat {
	if stat.Attempts == 0 {
		return stat
	}
	stat.Accuracy = float64(stat.Correct) / float64(stat.Attempts)
	stat.Score = int(math.Round(stat.Accuracy * 100))
	stat.AvgTime = stat.TotalTime / float64(stat.Attempts)
	return stat
}
