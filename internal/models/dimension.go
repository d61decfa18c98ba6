package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DimensionType is one of the four axes along which proficiency is tracked
type DimensionType string

const (
	// DimensionCoreMetric tracks named skill categories backed by reasoning nodes
	DimensionCoreMetric DimensionType = "core_metric"
	// DimensionGenre tracks passage genres
	DimensionGenre DimensionType = "genre"
	// DimensionQuestionType tracks question formats
	DimensionQuestionType DimensionType = "question_type"
	// DimensionReasoningStep tracks individual reasoning nodes directly
	DimensionReasoningStep DimensionType = "reasoning_step"
)

// UnknownQuestionType buckets attempts whose question carries no type
const UnknownQuestionType = "unknown"

// AllDimensionTypes returns the dimension types in canonical order
func AllDimensionTypes() []DimensionType {
	return []DimensionType{DimensionCoreMetric, DimensionGenre, DimensionQuestionType, DimensionReasoningStep}
}

// Valid reports whether t is one of the known dimension types
func (t DimensionType) Valid() bool {
	switch t {
	case DimensionCoreMetric, DimensionGenre, DimensionQuestionType, DimensionReasoningStep:
		return true
	}
	return false
}

// ParseDimensionType converts a stored string into a DimensionType
func ParseDimensionType(s string) (DimensionType, error) {
	t := DimensionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown dimension type %q", s)
	}
	return t, nil
}

// rank orders dimension types canonically for sorting
func (t DimensionType) rank() int {
	switch t {
	case DimensionCoreMetric:
		return 0
	case DimensionGenre:
		return 1
	case DimensionQuestionType:
		return 2
	case DimensionReasoningStep:
		return 3
	}
	return 4
}

// DimensionKey identifies one tracked dimension, e.g. {genre, fiction}
type DimensionKey struct {
	Type DimensionType `json:"dimension_type"`
	Key  string        `json:"dimension_key"`
}

// String renders the key as "type/key"
func (k DimensionKey) String() string {
	return string(k.Type) + "/" + k.Key
}

// Less orders keys by type rank then key
func (k DimensionKey) Less(other DimensionKey) bool {
	if k.Type != other.Type {
		return k.Type.rank() < other.Type.rank()
	}
	return k.Key < other.Key
}

// DimensionStat is the session-local aggregate for one dimension
type DimensionStat struct {
	Attempts  int     `json:"attempts"`
	Correct   int     `json:"correct"`
	TotalTime float64 `json:"-"`
	Accuracy  float64 `json:"accuracy"`
	AvgTime   float64 `json:"avg_time"`
	Score     int     `json:"score"`
}

// SurfaceStats maps every dimension observed in a session to its aggregate
type SurfaceStats map[DimensionKey]DimensionStat

// Keys returns the observed dimensions in deterministic order
func (s SurfaceStats) Keys() []DimensionKey {
	keys := make([]DimensionKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// OfType returns the stats for one dimension type keyed by dimension key
func (s SurfaceStats) OfType(t DimensionType) map[string]DimensionStat {
	out := make(map[string]DimensionStat)
	for k, v := range s {
		if k.Type == t {
			out[k.Key] = v
		}
	}
	return out
}

// DimensionStatEntry is the flattened wire form of one SurfaceStats entry
type DimensionStatEntry struct {
	DimensionType DimensionType `json:"dimension_type"`
	DimensionKey  string        `json:"dimension_key"`
	DimensionStat
}

// Entries flattens the stats into a sorted list
func (s SurfaceStats) Entries() []DimensionStatEntry {
	keys := s.Keys()
	out := make([]DimensionStatEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, DimensionStatEntry{DimensionType: k.Type, DimensionKey: k.Key, DimensionStat: s[k]})
	}
	return out
}

// MarshalJSON serialises SurfaceStats as a sorted list since struct map keys are not valid JSON keys
func (s SurfaceStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Entries())
}
