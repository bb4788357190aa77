package core

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// Polarity says whether evidence is parsed as supporting or opposing a thesis.
type Polarity string

const (
	PolarityConfirmation  Polarity = "confirmation"
	PolarityContradiction Polarity = "contradiction"
)

// Recognized evidence strengths.
const (
	StrengthStrong = "Strong"
	StrengthMedium = "Medium"
	StrengthWeak   = "Weak"
)

// MaxEvidenceFieldLen bounds quote/reason/source so the in-memory model always
// fits the persistence schema.
const MaxEvidenceFieldLen = 500

// EvidenceItem is a single confirmation or contradiction record extracted from
// agent output. Immutable once constructed.
type EvidenceItem struct {
	Quote    string `json:"quote"`
	Reason   string `json:"reason"`
	Source   string `json:"source"`
	Strength string `json:"strength"`
}

// NewEvidenceItem builds an EvidenceItem, applying the polarity-specific
// defaults and field bounds in one place.
func NewEvidenceItem(quote, reason, source, strength string, polarity Polarity) EvidenceItem {
	if reason == "" {
		if polarity == PolarityContradiction {
			reason = "Market analysis challenges this thesis"
		} else {
			reason = "Market analysis supports this thesis"
		}
	}
	if source == "" {
		source = "Agent Analysis"
	}
	return EvidenceItem{
		Quote:    truncate(quote, MaxEvidenceFieldLen),
		Reason:   truncate(reason, MaxEvidenceFieldLen),
		Source:   truncate(source, MaxEvidenceFieldLen),
		Strength: normalizeStrength(strength, polarity),
	}
}

// normalizeStrength maps free-form strength text onto the recognized set,
// defaulting by polarity when missing or unrecognized.
func normalizeStrength(raw string, polarity Polarity) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strong":
		return StrengthStrong
	case "medium":
		return StrengthMedium
	case "weak":
		return StrengthWeak
	}
	if polarity == PolarityContradiction {
		return StrengthMedium
	}
	return StrengthStrong
}

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// PricePoint is a single historical price observation.
type PricePoint struct {
	Date   string  `json:"date"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

// Quote is a current market snapshot for an instrument.
type Quote struct {
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"current_price"`
	Change       float64 `json:"change"`
	ChangePct    float64 `json:"change_pct"`
	MarketCap    float64 `json:"market_cap,omitempty"`
	PERatio      float64 `json:"pe_ratio,omitempty"`
	LastUpdated  string  `json:"last_updated"`
	Provider     string  `json:"provider"`
}

// TrendReport carries simple technical indicators for an instrument.
type TrendReport struct {
	Symbol     string  `json:"symbol"`
	MA5        float64 `json:"ma5"`
	MA20       float64 `json:"ma20"`
	Momentum   float64 `json:"momentum_pct"`
	Trend      string  `json:"trend"` // Bullish, Bearish, Neutral
	WindowDays int     `json:"window_days"`
}

// Article is a single retrieved news item.
type Article struct {
	Title     string  `json:"title"`
	Summary   string  `json:"summary"`
	Source    string  `json:"source"`
	URL       string  `json:"url"`
	Published string  `json:"published"`
	Sentiment float64 `json:"sentiment"`
}

// KnowledgeHit is a retrieved fragment of prior analysis.
type KnowledgeHit struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// ToolResult is the uniform envelope for research tool output. Individual tool
// failures degrade into Status "error" rather than aborting the pipeline.
type ToolResult struct {
	Status       string                 `json:"status"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Instrument   string                 `json:"instrument,omitempty"`
	PriceHistory []PricePoint           `json:"price_history,omitempty"`
}

// Alert is a deterministic, rule-derived notification attached to a result.
type Alert struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Priority string `json:"priority"` // high, medium, low
}

// PipelineResult is the merged output of one hypothesis analysis run.
type PipelineResult struct {
	ID                  string                `json:"id"`
	Mode                string                `json:"mode"`
	ProcessedHypothesis string                `json:"processed_hypothesis"`
	ConfidenceScore     float64               `json:"confidence_score"`
	ResearchData        map[string]ToolResult `json:"research_data"`
	Confirmations       []EvidenceItem        `json:"confirmations"`
	Contradictions      []EvidenceItem        `json:"contradictions"`
	Synthesis           string                `json:"synthesis"`
	Alerts              []Alert               `json:"alerts"`
	Status              string                `json:"status"` // success, error
	Error               string                `json:"error,omitempty"`
	TargetPrice         float64               `json:"target_price"`
	Instruments         []string              `json:"instruments"`
	ProcessingTime      time.Duration         `json:"processing_time"`
	TokensUsed          int64                 `json:"tokens_used"`
	CostEstimate        float64               `json:"cost_estimate"`
	CreatedAt           time.Time             `json:"created_at"`
}

// ChatResult is the outcome of a single conversational turn.
type ChatResult struct {
	Status      string                `json:"status"`
	Response    string                `json:"response,omitempty"`
	Error       string                `json:"error,omitempty"`
	SessionID   string                `json:"session_id"`
	ToolResults map[string]ToolResult `json:"tool_results,omitempty"`
}

// HypothesisRequest is the input to ProcessHypothesis.
type HypothesisRequest struct {
	Hypothesis string `json:"hypothesis"`
	Mode       string `json:"mode,omitempty"`
}

// MarketDataProvider supplies quotes, historical prices and trend indicators.
type MarketDataProvider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	PriceHistory(ctx context.Context, symbol string, days int) ([]PricePoint, error)
	Trends(ctx context.Context, symbol string) (TrendReport, error)
}

// NewsProvider supplies recent financial news for a query.
type NewsProvider interface {
	Search(ctx context.Context, query string, days int) ([]Article, error)
}

// KnowledgeRetriever looks up prior analyses related to a hypothesis.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, hypothesis string, instruments []string) ([]KnowledgeHit, error)
}

// LLMProvider interface defines the contract for LLM providers
type LLMProvider interface {
	// Generate generates text using the LLM
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and returns token usage
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// GetAvailableModels returns available models
	GetAvailableModels() []string

	// GetModelInfo returns information about a specific model
	GetModelInfo(model string) (ModelInfo, error)

	// CalculateCost calculates the cost for a given number of tokens
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// ModelInfo contains information about an LLM model
type ModelInfo struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	MaxTokens       int     `json:"max_tokens"`
	CostPer1KInput  float64 `json:"cost_per_1k_input"`
	CostPer1KOutput float64 `json:"cost_per_1k_output"`
	Description     string  `json:"description"`
}
