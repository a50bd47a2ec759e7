package models

import "strings"

// Pipeline stage names, in execution order.
const (
	StageIngestion       = "ingestion"
	StageExtraction      = "extraction"
	StageClassification  = "classification"
	StagePatternAnalysis = "pattern_analysis"
	StageSuggestion      = "suggestion"
	StageSafety          = "safety"
)

var stages = []string{
	StageIngestion,
	StageExtraction,
	StageClassification,
	StagePatternAnalysis,
	StageSuggestion,
	StageSafety,
}

// Stages returns the fixed, ordered stage sequence.
func Stages() []string {
	out := make([]string, len(stages))
	copy(out, stages)
	return out
}

// StageCount returns the number of pipeline stages.
func StageCount() int {
	return len(stages)
}

// StageIndex returns the 1-based position of the named stage, or 0 if unknown.
// Agent names such as "extraction_agent" or "Pattern Analysis" are normalised.
func StageIndex(name string) int {
	normalized := normalizeStage(name)
	for i, s := range stages {
		if s == normalized {
			return i + 1
		}
	}
	return 0
}

func normalizeStage(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	n = strings.ReplaceAll(n, "-", "_")
	n = strings.TrimSuffix(n, "_agent")
	return n
}
