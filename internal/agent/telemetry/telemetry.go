package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradesage-ai/tradesage/config"
)

// Telemetry provides monitoring and cost tracking for the analysis pipeline.
// Counters are mirrored into a private Prometheus registry so each instance
// stays independently registrable.
type Telemetry struct {
	config   config.TelemetryConfig
	logger   *log.Logger
	registry *prometheus.Registry

	pipelineRuns  *prometheus.CounterVec
	agentRuns     *prometheus.CounterVec
	agentDuration *prometheus.HistogramVec
	tokensUsed    prometheus.Counter
	costUSD       prometheus.Counter

	mu sync.RWMutex
	// Processing metrics
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64

	// Per-agent metrics
	AgentExecutions map[string]int64

	// Cost tracking
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
}

// PipelineEvent represents a single hypothesis processing event
type PipelineEvent struct {
	ID             string
	Hypothesis     string
	StartTime      time.Time
	EndTime        time.Time
	ProcessingTime time.Duration
	Success        bool
	Error          string
	Cost           float64
	TokensUsed     int64
	AgentsUsed     []string
}

// AgentEvent represents an agent execution event
type AgentEvent struct {
	AgentType  string
	Duration   time.Duration
	Success    bool
	Error      string
	Cost       float64
	TokensUsed int64
	ModelUsed  string
}

// NewTelemetry creates a telemetry instance with its own registry.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config:          cfg,
		logger:          log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		registry:        prometheus.NewRegistry(),
		AgentExecutions: make(map[string]int64),
		ModelCosts:      make(map[string]float64),
	}

	t.pipelineRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesage_pipeline_runs_total",
		Help: "Hypothesis pipeline runs by outcome.",
	}, []string{"status"})
	t.agentRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesage_agent_runs_total",
		Help: "Agent executions by type and outcome.",
	}, []string{"agent", "status"})
	t.agentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesage_agent_duration_seconds",
		Help:    "Agent execution latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent"})
	t.tokensUsed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradesage_llm_tokens_total",
		Help: "Total LLM tokens consumed.",
	})
	t.costUSD = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tradesage_llm_cost_usd_total",
		Help: "Estimated cumulative LLM spend in USD.",
	})

	t.registry.MustRegister(t.pipelineRuns, t.agentRuns, t.agentDuration, t.tokensUsed, t.costUSD)
	return t
}

// Registry exposes the Prometheus registry for the metrics endpoint.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// RecordPipelineEvent records the outcome of a full pipeline run.
func (t *Telemetry) RecordPipelineEvent(ev PipelineEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.TotalRequests++
	status := "success"
	if ev.Success {
		t.SuccessfulRequests++
	} else {
		t.FailedRequests++
		status = "error"
	}
	t.pipelineRuns.WithLabelValues(status).Inc()

	if t.config.CostTracking {
		t.TotalCost += ev.Cost
		t.TotalTokens += ev.TokensUsed
		t.tokensUsed.Add(float64(ev.TokensUsed))
		t.costUSD.Add(ev.Cost)
	}

	if ev.Error != "" {
		t.logger.Printf("pipeline %s failed after %v: %s", ev.ID, ev.ProcessingTime, ev.Error)
	}
}

// RecordAgentEvent records a single agent execution.
func (t *Telemetry) RecordAgentEvent(ev AgentEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.AgentExecutions[ev.AgentType]++
	status := "success"
	if !ev.Success {
		status = "error"
	}
	t.agentRuns.WithLabelValues(ev.AgentType, status).Inc()
	t.agentDuration.WithLabelValues(ev.AgentType).Observe(ev.Duration.Seconds())

	if t.config.CostTracking {
		t.ModelCosts[ev.ModelUsed] += ev.Cost
	}
}

// Snapshot returns current aggregate metrics for diagnostics endpoints.
func (t *Telemetry) Snapshot() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	agents := make(map[string]int64, len(t.AgentExecutions))
	for k, v := range t.AgentExecutions {
		agents[k] = v
	}
	return map[string]interface{}{
		"total_requests":      t.TotalRequests,
		"successful_requests": t.SuccessfulRequests,
		"failed_requests":     t.FailedRequests,
		"agent_executions":    agents,
		"total_cost_usd":      t.TotalCost,
		"total_tokens":        t.TotalTokens,
	}
}
