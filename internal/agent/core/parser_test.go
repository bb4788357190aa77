package core

import (
	"testing"
)

func TestParseWholeArray(t *testing.T) {
	raw := `Here is the bear case:
[
  {"quote": "Rate hikes pressure multiples", "reason": "Discount rates rise", "source": "Fed minutes", "strength": "Strong"},
  {"quote": "Insider selling accelerated", "reason": "Executives reduced positions", "source": "SEC filings", "strength": "Weak"}
]
Overall these risks are material.`

	parsed := NewResponseParser().Parse(raw, PolarityContradiction)
	if len(parsed.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(parsed.Items))
	}
	if parsed.Items[0].Quote != "Rate hikes pressure multiples" {
		t.Fatalf("unexpected first quote: %q", parsed.Items[0].Quote)
	}
	if parsed.Items[0].Strength != StrengthStrong {
		t.Fatalf("expected Strong, got %q", parsed.Items[0].Strength)
	}
	if parsed.Items[1].Strength != StrengthWeak {
		t.Fatalf("expected Weak, got %q", parsed.Items[1].Strength)
	}
}

func TestParseConcatenatedObjects(t *testing.T) {
	// No array wrapper: two objects back to back in prose, as the synthesis
	// model often emits them.
	raw := `## Executive Summary
The thesis holds on balance.

{"quote": "Revenue grew 24% YoY", "reason": "Growth supports the price target", "source": "Q2 earnings"}
{"quote": "Services margin expanded", "reason": "Mix shift is accretive", "source": "Earnings call"}

confidence: 0.84
Recommendation: BULLISH`

	parsed := NewResponseParser().Parse(raw, PolarityConfirmation)
	if len(parsed.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(parsed.Items))
	}
	if parsed.Confidence == nil || *parsed.Confidence != 0.84 {
		t.Fatalf("expected confidence 0.84, got %v", parsed.Confidence)
	}
}

func TestParseMalformedObjectDoesNotDiscardNeighbours(t *testing.T) {
	raw := `{"quote": "Valid item", "reason": "ok"}
{"quote": "broken fragment", "reason": }
{"quote": "Another valid item"}`

	parsed := NewResponseParser().Parse(raw, PolarityConfirmation)
	if len(parsed.Items) != 2 {
		t.Fatalf("expected 2 items from 3 candidates, got %d", len(parsed.Items))
	}
}

func TestParseNoJSON(t *testing.T) {
	parsed := NewResponseParser().Parse("The model declined to answer in the requested format.", PolarityContradiction)
	if len(parsed.Items) != 0 {
		t.Fatalf("expected no items, got %d", len(parsed.Items))
	}
	if parsed.Confidence != nil {
		t.Fatalf("expected nil confidence, got %v", *parsed.Confidence)
	}
}

func TestParseBracesInsideStrings(t *testing.T) {
	raw := `{"quote": "P/E of {trailing} vs forward } mismatch", "reason": "Uses \"adjusted\" figures"}`
	parsed := NewResponseParser().Parse(raw, PolarityConfirmation)
	if len(parsed.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(parsed.Items))
	}
	if parsed.Items[0].Quote != "P/E of {trailing} vs forward } mismatch" {
		t.Fatalf("string braces mangled: %q", parsed.Items[0].Quote)
	}
}

func TestConfidenceLastOccurrenceWins(t *testing.T) {
	raw := `Initial confidence: 0.3 was revised after the contradiction pass.
Final confidence: 0.72`
	parsed := NewResponseParser().Parse(raw, PolarityConfirmation)
	if parsed.Confidence == nil || *parsed.Confidence != 0.72 {
		t.Fatalf("expected last confidence 0.72, got %v", parsed.Confidence)
	}
}

func TestConfidenceInsideEvidenceIgnored(t *testing.T) {
	raw := `Overall confidence: 0.72

{"quote": "Analyst note cited confidence: 0.99 for the bull case", "reason": "Sell-side optimism", "source": "Research desk"}`
	parsed := NewResponseParser().Parse(raw, PolarityConfirmation)
	if len(parsed.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(parsed.Items))
	}
	if parsed.Confidence == nil || *parsed.Confidence != 0.72 {
		t.Fatalf("confidence inside evidence quote overrode the prose marker: %v", parsed.Confidence)
	}
}

func TestParseSynthesisDropsRestatedContradictions(t *testing.T) {
	contradictions := []EvidenceItem{
		NewEvidenceItem("Rate hikes pressure multiples", "", "", "", PolarityContradiction),
	}
	raw := `{"quote": "Rate hikes pressure multiples", "reason": "Restated bear case"}
{"quote": "Revenue grew 24% YoY", "reason": "Fresh confirmation"}
confidence: 0.6`

	confirmations, conf := NewResponseParser().ParseSynthesis(raw, contradictions)
	if len(confirmations) != 1 {
		t.Fatalf("expected restated contradiction dropped, got %d confirmations", len(confirmations))
	}
	if confirmations[0].Quote != "Revenue grew 24% YoY" {
		t.Fatalf("unexpected confirmation: %q", confirmations[0].Quote)
	}
	if conf == nil || *conf != 0.6 {
		t.Fatalf("expected confidence 0.6, got %v", conf)
	}
}

func TestExtractTargetPrice(t *testing.T) {
	cases := []struct {
		thesis string
		want   float64
	}{
		{"Apple (AAPL) will reach $220 by Q4", 220},
		{"Target of $1,234 then $99.50", 1},                   // comma breaks the token; first numeric run wins
		{"Bitcoin to $100000.50 despite $50 fees", 100000.50}, // first match wins
		{"No price mentioned here", 0},
	}
	for _, c := range cases {
		if got := ExtractTargetPrice(c.thesis); got != c.want {
			t.Fatalf("ExtractTargetPrice(%q) = %v, want %v", c.thesis, got, c.want)
		}
	}
}

func TestExtractPrimarySymbol(t *testing.T) {
	cases := []struct {
		hypothesis string
		want       string
	}{
		{"Apple (AAPL) will reach $220 by Q4", "AAPL"},
		{"Bitcoin (BTC-USD) will break $100k", "BTC-USD"},
		{"Berkshire (BRK.B) outperforms", "BRK.B"},
		{"The market will rally into year end", "SPY"},
	}
	for _, c := range cases {
		if got := ExtractPrimarySymbol(c.hypothesis, "SPY"); got != c.want {
			t.Fatalf("ExtractPrimarySymbol(%q) = %q, want %q", c.hypothesis, got, c.want)
		}
	}
}

func TestExtractRecommendation(t *testing.T) {
	raw := "## Summary\nSolid thesis.\n\nRecommendation: BULLISH with a tight stop\n"
	if got := extractRecommendation(raw); got != "BULLISH with a tight stop" {
		t.Fatalf("unexpected recommendation: %q", got)
	}
	if got := extractRecommendation("no rec here"); got != "" {
		t.Fatalf("expected empty recommendation, got %q", got)
	}
}
