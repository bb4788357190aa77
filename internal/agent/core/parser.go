package core

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ResponseParser turns agent free-text into structured evidence plus an
// optional confidence value. Agent output may embed one JSON array, several
// concatenated JSON objects, or no JSON at all; all three shapes must parse.
// The parser never fails: unparseable input yields no items and no confidence.
type ResponseParser struct{}

// ParsedResponse is the outcome of one Parse call. Confidence is nil when the
// text carries no numeric confidence marker; the caller decides the default.
type ParsedResponse struct {
	Items      []EvidenceItem
	Confidence *float64
}

// NewResponseParser creates a parser with the default field bounds.
func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

// confidencePattern matches "confidence: 0.NN" style prose markers. Agents
// sometimes restate the value; the last occurrence wins.
var confidencePattern = regexp.MustCompile(`(?i)\bconfidence\s*[:=]\s*([0-9]+(?:\.[0-9]+)?)`)

// Parse extracts evidence items and an optional confidence from raw agent text.
func (rp *ResponseParser) Parse(raw string, polarity Polarity) ParsedResponse {
	var out ParsedResponse
	for _, obj := range extractJSONObjects(raw) {
		out.Items = append(out.Items, evidenceFromObject(obj, polarity))
	}
	out.Confidence = extractConfidence(raw)
	return out
}

// ParseSynthesis extracts confirmation evidence and the stated confidence
// from a synthesis response. Synthesis prose often restates the bear case it
// was given; items whose quote duplicates a known contradiction are dropped so
// they are not double-counted as confirmations.
func (rp *ResponseParser) ParseSynthesis(raw string, contradictions []EvidenceItem) ([]EvidenceItem, *float64) {
	seen := make(map[string]bool, len(contradictions))
	for _, c := range contradictions {
		seen[c.Quote] = true
	}
	parsed := rp.Parse(raw, PolarityConfirmation)
	var confirmations []EvidenceItem
	for _, item := range parsed.Items {
		if seen[item.Quote] {
			continue
		}
		confirmations = append(confirmations, item)
	}
	return confirmations, parsed.Confidence
}

// extractConfidence returns the last prose confidence marker, or nil. Only
// prose is scanned: embedded JSON is masked first, so a quote that mentions a
// confidence figure cannot override the stated marker.
func extractConfidence(raw string) *float64 {
	matches := confidencePattern.FindAllStringSubmatch(maskJSONRegions(raw), -1)
	if len(matches) == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return nil
	}
	return &v
}

// extractJSONObjects finds embedded JSON in free text. First pass: a balanced
// JSON array of objects. Second pass: every balanced top-level object, parsed
// independently so one malformed fragment does not discard its neighbours.
func extractJSONObjects(raw string) []map[string]interface{} {
	if items := scanArrays(raw); len(items) > 0 {
		return items
	}
	return scanObjects(raw)
}

// scanArrays tries each balanced [...] substring as a JSON array of objects.
func scanArrays(raw string) []map[string]interface{} {
	for _, candidate := range balancedRegions(raw, '[', ']') {
		var rawItems []json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &rawItems); err != nil {
			continue
		}
		var items []map[string]interface{}
		for _, ri := range rawItems {
			var m map[string]interface{}
			if err := json.Unmarshal(ri, &m); err == nil {
				items = append(items, m)
			}
		}
		if len(items) > 0 {
			return items
		}
	}
	return nil
}

// scanObjects collects every independently parseable {...} substring.
func scanObjects(raw string) []map[string]interface{} {
	var items []map[string]interface{}
	for _, candidate := range balancedRegions(raw, '{', '}') {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &m); err == nil {
			items = append(items, m)
		}
	}
	return items
}

// balancedRegions returns every top-level substring delimited by the open and
// close runes, honouring JSON string literals and escapes.
func balancedRegions(raw string, open, close byte) []string {
	spans := balancedSpans(raw, open, close)
	regions := make([]string, 0, len(spans))
	for _, sp := range spans {
		regions = append(regions, raw[sp[0]:sp[1]+1])
	}
	return regions
}

// balancedSpans returns the [start, end] byte offsets of every top-level
// region delimited by the open and close runes.
func balancedSpans(raw string, open, close byte) [][2]int {
	var spans [][2]int
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				spans = append(spans, [2]int{start, i})
				start = -1
			}
		}
	}
	return spans
}

// maskJSONRegions blanks every balanced array or object region so that prose
// scans do not match inside embedded JSON.
func maskJSONRegions(raw string) string {
	b := []byte(raw)
	for _, pair := range [][2]byte{{'[', ']'}, {'{', '}'}} {
		for _, sp := range balancedSpans(raw, pair[0], pair[1]) {
			for i := sp[0]; i <= sp[1]; i++ {
				b[i] = ' '
			}
		}
	}
	return string(b)
}

// evidenceFromObject maps a parsed JSON object onto an EvidenceItem, deferring
// defaulting and truncation to the constructor.
func evidenceFromObject(obj map[string]interface{}, polarity Polarity) EvidenceItem {
	return NewEvidenceItem(
		stringField(obj, "quote"),
		stringField(obj, "reason"),
		stringField(obj, "source"),
		stringField(obj, "strength"),
		polarity,
	)
}

func stringField(obj map[string]interface{}, key string) string {
	if v, ok := obj[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// targetPricePattern matches the first currency-prefixed numeric token.
var targetPricePattern = regexp.MustCompile(`\$(\d+(?:\.\d+)?)`)

// ExtractTargetPrice pulls a target price out of a thesis statement. The first
// $-prefixed number wins; 0 means no price was mentioned.
func ExtractTargetPrice(thesis string) float64 {
	m := targetPricePattern.FindStringSubmatch(thesis)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}

// recommendationPattern matches a "Recommendation: BULLISH" style line.
var recommendationPattern = regexp.MustCompile(`(?im)^\s*recommendation\s*:\s*(.+?)\s*$`)

// extractRecommendation returns the stated recommendation from synthesis
// prose, or "" when none is present.
func extractRecommendation(synthesis string) string {
	if m := recommendationPattern.FindStringSubmatch(synthesis); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// symbolPattern matches a parenthesised ticker in a normalized hypothesis,
// e.g. "Apple (AAPL) will reach $220" or "Bitcoin (BTC-USD)".
var symbolPattern = regexp.MustCompile(`\(([A-Z][A-Z0-9]{0,9}(?:[.\-=][A-Z0-9]{1,6})?)\)`)

// ExtractPrimarySymbol returns the first parenthesised ticker in the
// hypothesis, or the fallback sentinel when none is present.
func ExtractPrimarySymbol(hypothesis, fallback string) string {
	if m := symbolPattern.FindStringSubmatch(hypothesis); m != nil {
		return m[1]
	}
	return fallback
}
