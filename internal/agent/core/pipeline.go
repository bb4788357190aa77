package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradesage-ai/tradesage/config"
	"github.com/tradesage-ai/tradesage/internal/agent/telemetry"
	"github.com/tradesage-ai/tradesage/internal/session"
)

// Pipeline coordinates all agents and research tools for one deployment. It is
// safe for concurrent use: per-request state lives on the stack, shared state
// is confined to the session store.
type Pipeline struct {
	config    *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	parser    *ResponseParser

	normalizer    *HypothesisNormalizer
	contradiction *ContradictionAnalyst
	synthesizer   *Synthesizer
	sentiment     *SentimentAnalyst
	chat          *ChatAgent

	llmProvider LLMProvider
	market      MarketDataProvider
	news        NewsProvider
	knowledge   KnowledgeRetriever
	sessions    *session.Store

	// Concurrency control for research tools
	semaphore chan struct{}
}

var pipelineTracer trace.Tracer = otel.Tracer("tradesage/internal/agent/pipeline")

// NewPipeline creates a pipeline instance. Market, news and knowledge
// providers may be nil; the corresponding research tools then report
// themselves unavailable instead of being silently omitted.
func NewPipeline(cfg *config.Config, logger *log.Logger, tele *telemetry.Telemetry, market MarketDataProvider, news NewsProvider, knowledge KnowledgeRetriever) (*Pipeline, error) {
	llmProvider, err := NewLLMProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return NewPipelineWithProvider(cfg, logger, tele, llmProvider, market, news, knowledge), nil
}

// NewPipelineWithProvider builds a pipeline around an existing LLM provider.
func NewPipelineWithProvider(cfg *config.Config, logger *log.Logger, tele *telemetry.Telemetry, llmProvider LLMProvider, market MarketDataProvider, news NewsProvider, knowledge KnowledgeRetriever) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}

	maxTools := cfg.Agents.MaxConcurrentTools
	if maxTools <= 0 {
		maxTools = 1
	}

	return &Pipeline{
		config:        cfg,
		logger:        logger,
		telemetry:     tele,
		parser:        NewResponseParser(),
		normalizer:    NewHypothesisNormalizer(cfg, llmProvider, tele),
		contradiction: NewContradictionAnalyst(cfg, llmProvider, tele),
		synthesizer:   NewSynthesizer(cfg, llmProvider, tele),
		sentiment:     NewSentimentAnalyst(cfg, llmProvider, tele),
		chat:          NewChatAgent(cfg, llmProvider, tele),
		llmProvider:   llmProvider,
		market:        market,
		news:          news,
		knowledge:     knowledge,
		sessions:      session.NewStore(cfg.Sessions.TTL, cfg.Sessions.MaxSessions),
		semaphore:     make(chan struct{}, maxTools),
	}
}

// LLM exposes the pipeline's underlying LLM provider.
func (p *Pipeline) LLM() LLMProvider { return p.llmProvider }

// Sessions exposes the conversation session store.
func (p *Pipeline) Sessions() *session.Store { return p.sessions }

// Parser exposes the response parser for callers that re-parse stored output.
func (p *Pipeline) Parser() *ResponseParser { return p.parser }

// ProcessHypothesis runs the full analysis pipeline for one hypothesis:
// normalize, research concurrently, find contradictions, synthesize, resolve
// confidence, derive alerts. Individual tool failures degrade into error
// entries in ResearchData; only failures of the agents themselves mark the
// whole result as an error. The returned result is always usable.
func (p *Pipeline) ProcessHypothesis(ctx context.Context, req HypothesisRequest) PipelineResult {
	start := time.Now()
	mode := req.Mode
	if mode == "" {
		mode = "analyze"
	}
	result := PipelineResult{
		ID:           uuid.NewString(),
		Mode:         mode,
		Status:       "success",
		ResearchData: make(map[string]ToolResult),
		CreatedAt:    start,
	}

	ctx, span := pipelineTracer.Start(ctx, "pipeline.process_hypothesis",
		trace.WithAttributes(
			attribute.String("hypothesis.id", result.ID),
			attribute.String("hypothesis.mode", mode)))
	defer span.End()

	defer func() {
		result.ProcessingTime = time.Since(start)
		p.telemetry.RecordPipelineEvent(telemetry.PipelineEvent{
			ID:             result.ID,
			Hypothesis:     result.ProcessedHypothesis,
			StartTime:      start,
			EndTime:        time.Now(),
			ProcessingTime: result.ProcessingTime,
			Success:        result.Status == "success",
			Error:          result.Error,
			Cost:           result.CostEstimate,
			TokensUsed:     result.TokensUsed,
			AgentsUsed:     []string{"hypothesis", "contradiction", "synthesis"},
		})
	}()

	raw := strings.TrimSpace(req.Hypothesis)
	if raw == "" {
		result.Status = "error"
		result.Error = "hypothesis is empty"
		span.SetStatus(codes.Error, result.Error)
		return result
	}

	// Normalization failure is soft: the raw hypothesis still carries enough
	// signal for the downstream agents.
	processed, u, err := p.normalizer.Normalize(ctx, raw)
	if err != nil {
		p.logger.Printf("hypothesis normalization failed, using raw input: %v", err)
		processed = raw
	}
	result.ProcessedHypothesis = processed
	result.TokensUsed += u.Tokens
	result.CostEstimate += u.Cost
	result.TargetPrice = ExtractTargetPrice(processed)

	symbol := ExtractPrimarySymbol(processed, p.config.Agents.DefaultSymbol)
	result.Instruments = []string{symbol}
	span.SetAttributes(attribute.String("hypothesis.symbol", symbol))

	research, researchUsage := p.runResearch(ctx, symbol, processed)
	result.ResearchData = research
	result.TokensUsed += researchUsage.Tokens
	result.CostEstimate += researchUsage.Cost

	researchContext := formatResearchContext(symbol, research)

	contradictionRaw, u, err := p.contradiction.Analyze(ctx, processed, researchContext)
	if err != nil {
		result.Status = "error"
		result.Error = fmt.Sprintf("contradiction analysis failed: %v", err)
		result.ConfidenceScore = NeutralConfidence
		span.SetStatus(codes.Error, result.Error)
		return result
	}
	result.TokensUsed += u.Tokens
	result.CostEstimate += u.Cost
	result.Contradictions = p.parser.Parse(contradictionRaw, PolarityContradiction).Items

	synthesisRaw, u, err := p.synthesizer.Synthesize(ctx, processed, researchContext, contradictionRaw)
	if err != nil {
		result.Status = "error"
		result.Error = fmt.Sprintf("synthesis failed: %v", err)
		result.ConfidenceScore = NeutralConfidence
		span.SetStatus(codes.Error, result.Error)
		return result
	}
	result.TokensUsed += u.Tokens
	result.CostEstimate += u.Cost
	result.Synthesis = synthesisRaw

	confirmations, confidence := p.parser.ParseSynthesis(synthesisRaw, result.Contradictions)
	result.Confirmations = confirmations
	result.ConfidenceScore = ResolveConfidence(confidence)

	result.Alerts = buildAlerts(&result,
		p.config.Alerts.HighConfidence,
		p.config.Alerts.LowConfidence,
		p.config.Alerts.ContradictionEdge)

	span.SetAttributes(
		attribute.Float64("hypothesis.confidence", result.ConfidenceScore),
		attribute.Int("hypothesis.confirmations", len(result.Confirmations)),
		attribute.Int("hypothesis.contradictions", len(result.Contradictions)),
	)
	p.logger.Printf("processed hypothesis %s: confidence=%.2f confirmations=%d contradictions=%d alerts=%d",
		result.ID, result.ConfidenceScore, len(result.Confirmations), len(result.Contradictions), len(result.Alerts))

	return result
}

// runResearch executes all research tools concurrently, each under the
// configured tool timeout. A failing tool contributes an error-status entry;
// it never aborts the others.
func (p *Pipeline) runResearch(ctx context.Context, symbol, hypothesis string) (map[string]ToolResult, usage) {
	type namedResult struct {
		name string
		res  ToolResult
		use  usage
	}

	tools := []struct {
		name string
		run  func(ctx context.Context) (ToolResult, usage)
	}{
		{"market_data_search", func(ctx context.Context) (ToolResult, usage) {
			return p.marketDataTool(ctx, symbol), usage{}
		}},
		{"market_trends", func(ctx context.Context) (ToolResult, usage) {
			return p.trendsTool(ctx, symbol), usage{}
		}},
		{"news_search", func(ctx context.Context) (ToolResult, usage) {
			return p.newsTool(ctx, symbol, hypothesis), usage{}
		}},
		{"sentiment_analysis", func(ctx context.Context) (ToolResult, usage) {
			return p.sentimentTool(ctx, symbol)
		}},
		{"hybrid_research", func(ctx context.Context) (ToolResult, usage) {
			return p.knowledgeTool(ctx, symbol, hypothesis), usage{}
		}},
	}

	results := make(chan namedResult, len(tools))
	var wg sync.WaitGroup
	for _, tool := range tools {
		wg.Add(1)
		go func(name string, run func(ctx context.Context) (ToolResult, usage)) {
			defer wg.Done()
			p.semaphore <- struct{}{}
			defer func() { <-p.semaphore }()

			toolCtx, cancel := context.WithTimeout(ctx, p.config.Agents.ToolTimeout)
			defer cancel()

			_, span := pipelineTracer.Start(toolCtx, "pipeline.tool."+name)
			res, use := run(toolCtx)
			if res.Status == "error" {
				span.SetStatus(codes.Error, res.Error)
				p.logger.Printf("research tool %s failed: %s", name, res.Error)
			}
			span.End()
			results <- namedResult{name: name, res: res, use: use}
		}(tool.name, tool.run)
	}
	wg.Wait()
	close(results)

	out := make(map[string]ToolResult, len(tools))
	var total usage
	for nr := range results {
		out[nr.name] = nr.res
		total.Tokens += nr.use.Tokens
		total.Cost += nr.use.Cost
	}
	return out, total
}

func (p *Pipeline) marketDataTool(ctx context.Context, symbol string) ToolResult {
	if p.market == nil {
		return ToolResult{Status: "error", Error: "market data provider not configured", Instrument: symbol}
	}
	quote, err := p.market.Quote(ctx, symbol)
	if err != nil {
		return ToolResult{Status: "error", Error: err.Error(), Instrument: symbol}
	}
	history, err := p.market.PriceHistory(ctx, symbol, 30)
	if err != nil {
		// A quote without history is still useful research input.
		p.logger.Printf("price history unavailable for %s: %v", symbol, err)
	}
	return ToolResult{
		Status:     "success",
		Instrument: symbol,
		Data: map[string]interface{}{
			"symbol":        quote.Symbol,
			"current_price": quote.CurrentPrice,
			"change":        quote.Change,
			"change_pct":    quote.ChangePct,
			"market_cap":    quote.MarketCap,
			"pe_ratio":      quote.PERatio,
			"provider":      quote.Provider,
		},
		PriceHistory: history,
	}
}

func (p *Pipeline) trendsTool(ctx context.Context, symbol string) ToolResult {
	if p.market == nil {
		return ToolResult{Status: "error", Error: "market data provider not configured", Instrument: symbol}
	}
	report, err := p.market.Trends(ctx, symbol)
	if err != nil {
		return ToolResult{Status: "error", Error: err.Error(), Instrument: symbol}
	}
	return ToolResult{
		Status:     "success",
		Instrument: symbol,
		Data: map[string]interface{}{
			"ma5":          report.MA5,
			"ma20":         report.MA20,
			"momentum_pct": report.Momentum,
			"trend":        report.Trend,
			"window_days":  report.WindowDays,
		},
	}
}

func (p *Pipeline) newsTool(ctx context.Context, symbol, hypothesis string) ToolResult {
	if p.news == nil {
		return ToolResult{Status: "error", Error: "news provider not configured", Instrument: symbol}
	}
	articles, err := p.news.Search(ctx, symbol+" "+hypothesis, p.config.Sources.News.DefaultDays)
	if err != nil {
		return ToolResult{Status: "error", Error: err.Error(), Instrument: symbol}
	}
	return ToolResult{
		Status:     "success",
		Instrument: symbol,
		Data: map[string]interface{}{
			"articles": articles,
			"count":    len(articles),
		},
	}
}

// sentimentTool is the one research tool that spends LLM tokens: it feeds
// recent headlines to the sentiment analyst.
func (p *Pipeline) sentimentTool(ctx context.Context, symbol string) (ToolResult, usage) {
	buzz := "No recent headlines available."
	if p.news != nil {
		if articles, err := p.news.Search(ctx, symbol, p.config.Sources.News.DefaultDays); err == nil && len(articles) > 0 {
			var sb strings.Builder
			for _, a := range articles {
				fmt.Fprintf(&sb, "- %s (%s)\n", a.Title, a.Source)
			}
			buzz = sb.String()
		}
	}
	analysis, u, err := p.sentiment.Analyze(ctx, symbol, buzz)
	if err != nil {
		return ToolResult{Status: "error", Error: err.Error(), Instrument: symbol}, u
	}
	return ToolResult{
		Status:     "success",
		Instrument: symbol,
		Data: map[string]interface{}{
			"analysis": analysis,
		},
	}, u
}

func (p *Pipeline) knowledgeTool(ctx context.Context, symbol, hypothesis string) ToolResult {
	if p.knowledge == nil {
		return ToolResult{Status: "error", Error: "knowledge retriever not configured", Instrument: symbol}
	}
	hits, err := p.knowledge.Retrieve(ctx, hypothesis, []string{symbol})
	if err != nil {
		return ToolResult{Status: "error", Error: err.Error(), Instrument: symbol}
	}
	return ToolResult{
		Status:     "success",
		Instrument: symbol,
		Data: map[string]interface{}{
			"hits":  hits,
			"count": len(hits),
		},
	}
}

// formatResearchContext renders tool output as the research block the
// contradiction and synthesis prompts consume. Failed tools are stated as
// unavailable so the agents do not hallucinate missing data.
func formatResearchContext(symbol string, research map[string]ToolResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RESEARCH DATA FOR %s\n", symbol)

	order := []string{"market_data_search", "market_trends", "news_search", "sentiment_analysis", "hybrid_research"}
	for _, name := range order {
		res, ok := research[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "\n[%s]\n", name)
		if res.Status != "success" {
			fmt.Fprintf(&sb, "unavailable: %s\n", res.Error)
			continue
		}
		switch name {
		case "market_data_search":
			fmt.Fprintf(&sb, "current price: %v, change: %v%%\n", res.Data["current_price"], res.Data["change_pct"])
			if n := len(res.PriceHistory); n > 0 {
				first := res.PriceHistory[0]
				last := res.PriceHistory[n-1]
				fmt.Fprintf(&sb, "price history: %d points, %s %.2f -> %s %.2f\n", n, first.Date, first.Price, last.Date, last.Price)
			}
		case "market_trends":
			fmt.Fprintf(&sb, "trend: %v, MA5=%v MA20=%v momentum=%v%%\n", res.Data["trend"], res.Data["ma5"], res.Data["ma20"], res.Data["momentum_pct"])
		case "news_search":
			if articles, ok := res.Data["articles"].([]Article); ok {
				for _, a := range articles {
					fmt.Fprintf(&sb, "- %s: %s\n", a.Title, a.Summary)
				}
			}
		case "sentiment_analysis":
			fmt.Fprintf(&sb, "%v\n", res.Data["analysis"])
		case "hybrid_research":
			if hits, ok := res.Data["hits"].([]KnowledgeHit); ok {
				for _, h := range hits {
					fmt.Fprintf(&sb, "- prior analysis %q: %s\n", h.Title, h.Snippet)
				}
			}
		}
	}
	return sb.String()
}

// Chat runs one conversational turn. The user turn is recorded exactly once
// even when the model call fails; a failed call produces an error result and
// no fabricated reply. Turns within a session never interleave.
func (p *Pipeline) Chat(ctx context.Context, sessionID, message string) ChatResult {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.chat")
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return ChatResult{Status: "error", Error: "message is empty", SessionID: sessionID}
	}

	sess := p.sessions.Ensure(sessionID)

	// Ground the reply in live market data when the message names a ticker.
	var toolResults map[string]ToolResult
	marketContext := ""
	if symbol := ExtractPrimarySymbol(message, ""); symbol != "" && p.market != nil {
		res := p.marketDataTool(ctx, symbol)
		toolResults = map[string]ToolResult{"market_data_search": res}
		if res.Status == "success" {
			marketContext = fmt.Sprintf("Live data for %s: price %v, change %v%%",
				symbol, res.Data["current_price"], res.Data["change_pct"])
		}
	}

	reply, err := sess.Exchange(message, func(history []session.Turn) (string, error) {
		turns := make([]ChatTurn, 0, len(history))
		for _, t := range history {
			turns = append(turns, ChatTurn{Role: t.Role, Text: t.Text})
		}
		resp, _, err := p.chat.Reply(ctx, turns, marketContext)
		return resp, err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ChatResult{Status: "error", Error: err.Error(), SessionID: sess.ID(), ToolResults: toolResults}
	}

	return ChatResult{Status: "success", Response: reply, SessionID: sess.ID(), ToolResults: toolResults}
}
