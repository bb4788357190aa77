package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tradesage-ai/tradesage/config"
	"github.com/tradesage-ai/tradesage/internal/agent/telemetry"
)

// usage carries the token/cost footprint of one agent call up to the pipeline.
type usage struct {
	Tokens int64
	Cost   float64
}

// llmAgent is the shared plumbing under every specialized agent: model
// routing, telemetry and cost accounting around a single Generate call.
type llmAgent struct {
	role      string
	cfg       *config.Config
	llm       LLMProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func newLLMAgent(role string, cfg *config.Config, llm LLMProvider, tele *telemetry.Telemetry) llmAgent {
	return llmAgent{
		role:      role,
		cfg:       cfg,
		llm:       llm,
		telemetry: tele,
		logger:    log.New(log.Writer(), "["+strings.ToUpper(role)+"-AGENT] ", log.LstdFlags),
	}
}

func (a *llmAgent) generate(ctx context.Context, prompt string) (string, usage, error) {
	model := a.cfg.LLM.Routing.ModelFor(a.role)
	if t := a.cfg.Agents.AgentTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	start := time.Now()
	resp, inTok, outTok, err := a.llm.GenerateWithTokens(ctx, prompt, model, nil)

	u := usage{
		Tokens: inTok + outTok,
		Cost:   a.llm.CalculateCost(inTok, outTok, model),
	}
	ev := telemetry.AgentEvent{
		AgentType:  a.role,
		Duration:   time.Since(start),
		Success:    err == nil,
		Cost:       u.Cost,
		TokensUsed: u.Tokens,
		ModelUsed:  model,
	}
	if err != nil {
		ev.Error = err.Error()
		a.telemetry.RecordAgentEvent(ev)
		return "", usage{}, err
	}
	a.telemetry.RecordAgentEvent(ev)
	return resp, u, nil
}

// HypothesisNormalizer rewrites a raw thesis into the canonical
// "[Company] ([Symbol]) will [direction] [target] by [timeframe]" form.
type HypothesisNormalizer struct {
	llmAgent
}

func NewHypothesisNormalizer(cfg *config.Config, llm LLMProvider, tele *telemetry.Telemetry) *HypothesisNormalizer {
	return &HypothesisNormalizer{newLLMAgent("hypothesis", cfg, llm, tele)}
}

// Normalize fails soft: callers fall back to the raw text on error.
func (a *HypothesisNormalizer) Normalize(ctx context.Context, raw string) (string, usage, error) {
	prompt := fmt.Sprintf("%s\n\nINPUT: %q", hypothesisInstruction, raw)
	resp, u, err := a.generate(ctx, prompt)
	if err != nil {
		return "", usage{}, err
	}
	return strings.TrimSpace(resp), u, nil
}

// ContradictionAnalyst produces bearish evidence text for a hypothesis. The
// response embeds a JSON array of contradiction objects per its instruction.
type ContradictionAnalyst struct {
	llmAgent
}

func NewContradictionAnalyst(cfg *config.Config, llm LLMProvider, tele *telemetry.Telemetry) *ContradictionAnalyst {
	return &ContradictionAnalyst{newLLMAgent("contradiction", cfg, llm, tele)}
}

func (a *ContradictionAnalyst) Analyze(ctx context.Context, hypothesis, researchContext string) (string, usage, error) {
	prompt := fmt.Sprintf("%s\n\nHYPOTHESIS: %s\n\nRESEARCH CONTEXT:\n%s", contradictionInstruction, hypothesis, researchContext)
	return a.generate(ctx, prompt)
}

// Synthesizer weighs research and contradictions into a final judgement with
// embedded confirmation JSON and a confidence marker.
type Synthesizer struct {
	llmAgent
}

func NewSynthesizer(cfg *config.Config, llm LLMProvider, tele *telemetry.Telemetry) *Synthesizer {
	return &Synthesizer{newLLMAgent("synthesis", cfg, llm, tele)}
}

func (a *Synthesizer) Synthesize(ctx context.Context, hypothesis, researchContext, contradictions string) (string, usage, error) {
	prompt := fmt.Sprintf("%s\n\nHYPOTHESIS: %s\n\nRESEARCH CONTEXT:\n%s\n\nCONTRADICTIONS:\n%s",
		synthesisInstruction, hypothesis, researchContext, contradictions)
	return a.generate(ctx, prompt)
}

// SentimentAnalyst contrasts retail buzz with institutional flow signals.
type SentimentAnalyst struct {
	llmAgent
}

func NewSentimentAnalyst(cfg *config.Config, llm LLMProvider, tele *telemetry.Telemetry) *SentimentAnalyst {
	return &SentimentAnalyst{newLLMAgent("sentiment", cfg, llm, tele)}
}

func (a *SentimentAnalyst) Analyze(ctx context.Context, symbol, buzzContext string) (string, usage, error) {
	prompt := fmt.Sprintf("%s\n\nINSTRUMENT: %s\n\nPLATFORM BUZZ:\n%s", sentimentInstruction, symbol, buzzContext)
	return a.generate(ctx, prompt)
}

// ChatTurn is one entry of a conversation handed to the chat agent.
type ChatTurn struct {
	Role string `json:"role"` // user, agent
	Text string `json:"text"`
}

// ChatAgent answers conversational questions with the full session history as
// context.
type ChatAgent struct {
	llmAgent
}

func NewChatAgent(cfg *config.Config, llm LLMProvider, tele *telemetry.Telemetry) *ChatAgent {
	return &ChatAgent{newLLMAgent("chat", cfg, llm, tele)}
}

func (a *ChatAgent) Reply(ctx context.Context, history []ChatTurn, marketContext string) (string, usage, error) {
	var b strings.Builder
	b.WriteString(chatInstruction)
	if marketContext != "" {
		b.WriteString("\n\nLIVE MARKET DATA:\n")
		b.WriteString(marketContext)
	}
	b.WriteString("\n\nCONVERSATION:\n")
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
	}
	b.WriteString("agent:")
	resp, u, err := a.generate(ctx, b.String())
	if err != nil {
		return "", usage{}, err
	}
	return strings.TrimSpace(resp), u, nil
}
