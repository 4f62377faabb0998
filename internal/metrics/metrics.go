// Package metrics is the process-wide Metrics Collector: counters,
// per-model/provider token resources, execution-time timers, and a
// categorical api_call counter, all backed by Prometheus collectors
// registered against a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stepweave/stepweave/internal/reasoningkind"
	"github.com/stepweave/stepweave/internal/stepkind"
)

// Collector is the orchestrator's single metrics sink. All methods are
// nil-receiver safe and concurrency-safe, per the documented recording
// contract — callers never need to guard a Collector reference.
type Collector struct {
	registry *prometheus.Registry

	totalAgentRuns *prometheus.CounterVec
	totalSteps     *prometheus.CounterVec
	totalLLMCalls  *prometheus.CounterVec
	totalToolCalls *prometheus.CounterVec

	inputTokens  *prometheus.CounterVec
	outputTokens *prometheus.CounterVec

	llmCallDuration       *prometheus.HistogramVec
	toolCallDuration      *prometheus.HistogramVec
	reasoningDuration     *prometheus.HistogramVec

	apiCalls *prometheus.CounterVec
}

// New creates a Collector registered against a fresh private registry.
func New(namespace string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.totalAgentRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "total_agent_runs", Help: "Total number of agent runs started.",
	}, []string{"agent_id"})
	c.totalSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "total_steps", Help: "Total number of orchestrator steps executed.",
	}, []string{"agent_id"})
	c.totalLLMCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "total_llm_calls", Help: "Total number of LLM calls made.",
	}, []string{"model", "provider", "success"})
	c.totalToolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "total_tool_calls", Help: "Total number of tool calls made.",
	}, []string{"tool", "success", "kind"})

	c.inputTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "total_input_tokens", Help: "Total input tokens consumed.",
	}, []string{"model", "provider"})
	c.outputTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "total_output_tokens", Help: "Total output tokens generated.",
	}, []string{"model", "provider"})

	c.llmCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "llm_call_execution_time_ms", Help: "LLM call execution time in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(50, 2, 14),
	}, []string{"model", "provider"})
	c.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "tool_call_execution_time_ms", Help: "Tool call execution time in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{"tool"})
	c.reasoningDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "reasoning_execution_time_ms", Help: "Reasoning engine execution time in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(50, 2, 14),
	}, []string{"kind"})

	c.apiCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "api_call_total", Help: "Categorical count of API calls by agent/category/sub.",
	}, []string{"agent_id", "category", "sub"})

	c.registry.MustRegister(
		c.totalAgentRuns, c.totalSteps, c.totalLLMCalls, c.totalToolCalls,
		c.inputTokens, c.outputTokens,
		c.llmCallDuration, c.toolCallDuration, c.reasoningDuration,
		c.apiCalls,
	)
	return c
}

// Registry exposes the underlying Prometheus registry, e.g. for a
// /metrics HTTP handler wired in elsewhere.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler serving this Collector's metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordAgentRun increments total_agent_runs.
func (c *Collector) RecordAgentRun(agentID string) {
	if c == nil {
		return
	}
	c.totalAgentRuns.WithLabelValues(agentID).Inc()
}

// RecordStep increments total_steps.
func (c *Collector) RecordStep(agentID string) {
	if c == nil {
		return
	}
	c.totalSteps.WithLabelValues(agentID).Inc()
}

// RecordLLMCall implements llmcomm.MetricsSink: increments total_llm_calls,
// forwards token resources, and observes llm_call_execution_time.
func (c *Collector) RecordLLMCall(model, provider string, inputTokens, outputTokens int, elapsed time.Duration, success bool) {
	if c == nil {
		return
	}
	c.totalLLMCalls.WithLabelValues(model, provider, boolLabel(success)).Inc()
	if inputTokens > 0 {
		c.inputTokens.WithLabelValues(model, provider).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.outputTokens.WithLabelValues(model, provider).Add(float64(outputTokens))
	}
	c.llmCallDuration.WithLabelValues(model, provider).Observe(float64(elapsed.Milliseconds()))
}

// RecordToolExecution implements toolexec.MetricsSink: increments
// total_tool_calls (tagged with the failure kind) and observes
// tool_call_execution_time.
func (c *Collector) RecordToolExecution(name string, elapsed time.Duration, success bool, kind stepkind.Kind) {
	if c == nil {
		return
	}
	c.totalToolCalls.WithLabelValues(name, boolLabel(success), kind.String()).Inc()
	c.toolCallDuration.WithLabelValues(name).Observe(float64(elapsed.Milliseconds()))
}

// RecordReasoningExecutionTime implements reasoning.MetricsSink.
func (c *Collector) RecordReasoningExecutionTime(_ string, kind reasoningkind.Kind, d time.Duration) {
	if c == nil {
		return
	}
	c.reasoningDuration.WithLabelValues(string(kind)).Observe(float64(d.Milliseconds()))
}

// RecordReasoningConfidence is part of reasoning.MetricsSink; confidence
// isn't one of the documented counters/timers/resources, so it is
// recorded as a categorical api_call under the "reasoning" category.
func (c *Collector) RecordReasoningConfidence(goal string, kind reasoningkind.Kind, mean float64) {
	if c == nil {
		return
	}
	c.RecordAPICall(goal, "reasoning", string(kind))
	_ = mean
}

// RecordAPICall implements the categorical api_call(agent, category, sub) counter.
func (c *Collector) RecordAPICall(agentID, category, sub string) {
	if c == nil {
		return
	}
	c.apiCalls.WithLabelValues(agentID, category, sub).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
