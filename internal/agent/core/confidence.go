package core

import (
	"fmt"
	"math"
)

// NeutralConfidence is the score assigned when no usable confidence signal was
// parsed from agent output.
const NeutralConfidence = 0.5

// ResolveConfidence produces the final confidence score for a result. A parsed
// value inside [0,1] is used as-is; out-of-range values are clamped rather
// than rejected; an absent or non-finite value resolves to neutral. The
// defaulting policy lives here and nowhere else — the resolver intentionally
// does no heuristic blending of evidence counts.
func ResolveConfidence(parsed *float64) float64 {
	if parsed == nil {
		return NeutralConfidence
	}
	v := *parsed
	if math.IsNaN(v) {
		return NeutralConfidence
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// buildAlerts derives the deterministic alert set for a merged result. Rules:
// a high-priority alert when confidence crosses the strong-signal thresholds,
// a medium alert when contradictions outnumber confirmations by the configured
// edge, and a recommendation alert when the synthesis states one.
func buildAlerts(result *PipelineResult, highConfidence, lowConfidence float64, contradictionEdge int) []Alert {
	var alerts []Alert

	switch {
	case result.ConfidenceScore >= highConfidence:
		alerts = append(alerts, Alert{
			Type:     "confidence",
			Message:  fmt.Sprintf("Strong bullish signal: confidence %.2f for %q", result.ConfidenceScore, result.ProcessedHypothesis),
			Priority: "high",
		})
	case result.ConfidenceScore <= lowConfidence:
		alerts = append(alerts, Alert{
			Type:     "confidence",
			Message:  fmt.Sprintf("Strong bearish signal: confidence %.2f for %q", result.ConfidenceScore, result.ProcessedHypothesis),
			Priority: "high",
		})
	}

	if edge := len(result.Contradictions) - len(result.Confirmations); edge >= contradictionEdge {
		alerts = append(alerts, Alert{
			Type:     "risk",
			Message:  fmt.Sprintf("Contested thesis: %d contradictions vs %d confirmations", len(result.Contradictions), len(result.Confirmations)),
			Priority: "medium",
		})
	}

	if rec := extractRecommendation(result.Synthesis); rec != "" {
		alerts = append(alerts, Alert{
			Type:     "recommendation",
			Message:  "Recommendation: " + rec,
			Priority: "medium",
		})
	}

	for i := range alerts {
		alerts[i].Priority = validatePriority(alerts[i].Priority)
	}
	return alerts
}

// validatePriority constrains a priority to the recognized set, defaulting to
// medium.
func validatePriority(p string) string {
	switch p {
	case "high", "medium", "low":
		return p
	}
	return "medium"
}
