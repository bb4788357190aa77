package core

import (
	"math"
	"strings"
	"testing"
)

func TestResolveConfidence(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	nan := math.NaN()

	cases := []struct {
		name   string
		parsed *float64
		want   float64
	}{
		{"absent", nil, NeutralConfidence},
		{"nan", &nan, NeutralConfidence},
		{"in range", f(0.84), 0.84},
		{"zero", f(0), 0},
		{"one", f(1), 1},
		{"below range clamps", f(-0.3), 0},
		{"above range clamps", f(1.7), 1},
	}
	for _, c := range cases {
		if got := ResolveConfidence(c.parsed); got != c.want {
			t.Fatalf("%s: ResolveConfidence = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestBuildAlertsHighConfidence(t *testing.T) {
	result := &PipelineResult{
		ProcessedHypothesis: "Apple (AAPL) will reach $220",
		ConfidenceScore:     0.9,
	}
	alerts := buildAlerts(result, 0.8, 0.2, 2)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Type != "confidence" || alerts[0].Priority != "high" {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}
	if !strings.Contains(alerts[0].Message, "bullish") {
		t.Fatalf("expected bullish message, got %q", alerts[0].Message)
	}
}

func TestBuildAlertsLowConfidence(t *testing.T) {
	result := &PipelineResult{ConfidenceScore: 0.1}
	alerts := buildAlerts(result, 0.8, 0.2, 2)
	if len(alerts) != 1 || !strings.Contains(alerts[0].Message, "bearish") {
		t.Fatalf("expected one bearish alert, got %+v", alerts)
	}
}

func TestBuildAlertsContradictionEdge(t *testing.T) {
	result := &PipelineResult{
		ConfidenceScore: 0.5,
		Contradictions: []EvidenceItem{
			{Quote: "a"}, {Quote: "b"}, {Quote: "c"},
		},
		Confirmations: []EvidenceItem{{Quote: "d"}},
	}
	alerts := buildAlerts(result, 0.8, 0.2, 2)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Type != "risk" || alerts[0].Priority != "medium" {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}
}

func TestBuildAlertsRecommendation(t *testing.T) {
	result := &PipelineResult{
		ConfidenceScore: 0.5,
		Synthesis:       "## Summary\nFine.\nRecommendation: HOLD\n",
	}
	alerts := buildAlerts(result, 0.8, 0.2, 2)
	if len(alerts) != 1 || alerts[0].Type != "recommendation" {
		t.Fatalf("expected recommendation alert, got %+v", alerts)
	}
	if alerts[0].Message != "Recommendation: HOLD" {
		t.Fatalf("unexpected message: %q", alerts[0].Message)
	}
}

func TestBuildAlertsNeutralResultIsQuiet(t *testing.T) {
	result := &PipelineResult{ConfidenceScore: 0.5}
	if alerts := buildAlerts(result, 0.8, 0.2, 2); len(alerts) != 0 {
		t.Fatalf("expected no alerts for a neutral result, got %+v", alerts)
	}
}

func TestValidatePriority(t *testing.T) {
	if got := validatePriority("urgent"); got != "medium" {
		t.Fatalf("expected fallback to medium, got %q", got)
	}
	if got := validatePriority("low"); got != "low" {
		t.Fatalf("expected low, got %q", got)
	}
}
