package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	activeRuns     prometheus.Gauge

	nodeAttempts    *prometheus.CounterVec
	nodeAttemptTime *prometheus.HistogramVec
	nodesCompleted  *prometheus.CounterVec

	permitWait      prometheus.Histogram
	limiterCapacity prometheus.Gauge
	limiterInUse    prometheus.Gauge
	limiterWaiting  prometheus.Gauge

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec

	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector registered on reg.
// Pass prometheus.DefaultRegisterer to expose the metrics on the default /metrics handler.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		tasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentgraph_tasks_submitted_total",
				Help: "Total number of task graphs submitted",
			},
			[]string{"status"},
		),
		tasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentgraph_tasks_completed_total",
				Help: "Total number of task runs that reached a terminal status",
			},
			[]string{"status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentgraph_task_duration_seconds",
				Help:    "Task run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentgraph_active_runs",
				Help: "Number of task runs currently executing",
			},
		),
		nodeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentgraph_node_attempts_total",
				Help: "Total number of agent invocation attempts",
			},
			[]string{"agent_type", "outcome"},
		),
		nodeAttemptTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentgraph_node_attempt_duration_seconds",
				Help:    "Agent invocation attempt duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"agent_type"},
		),
		nodesCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentgraph_nodes_completed_total",
				Help: "Total number of nodes that reached a terminal status",
			},
			[]string{"agent_type", "status"},
		),
		permitWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentgraph_permit_wait_seconds",
				Help:    "Time spent waiting for a concurrency permit",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		limiterCapacity: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentgraph_limiter_capacity",
				Help: "Configured maximum number of concurrent agents",
			},
		),
		limiterInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentgraph_limiter_in_use",
				Help: "Number of permits currently held",
			},
		),
		limiterWaiting: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentgraph_limiter_waiting",
				Help: "Number of callers waiting for a permit",
			},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentgraph_tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "failed"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentgraph_tool_duration_seconds",
				Help:    "Tool execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"tool"},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentgraph_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"model"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentgraph_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentgraph_llm_latency_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"model"},
		),
	}
}

// RecordTaskSubmitted counts a submission attempt
func (c *Collector) RecordTaskSubmitted(status string) {
	c.tasksSubmitted.WithLabelValues(status).Inc()
}

// RecordTaskCompleted counts a terminal run and observes its duration
func (c *Collector) RecordTaskCompleted(status string, duration time.Duration) {
	c.tasksCompleted.WithLabelValues(status).Inc()
	c.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetActiveRuns sets the number of executing runs
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// RecordNodeAttempt records one sandbox invocation
func (c *Collector) RecordNodeAttempt(agentType, outcome string, duration time.Duration) {
	c.nodeAttempts.WithLabelValues(agentType, outcome).Inc()
	c.nodeAttemptTime.WithLabelValues(agentType).Observe(duration.Seconds())
}

// RecordNodeCompleted records a node reaching a terminal status
func (c *Collector) RecordNodeCompleted(agentType, status string) {
	c.nodesCompleted.WithLabelValues(agentType, status).Inc()
}

// ObservePermitWait records how long a node waited for a permit
func (c *Collector) ObservePermitWait(duration time.Duration) {
	c.permitWait.Observe(duration.Seconds())
}

// RecordLimiterStatus records limiter utilisation
func (c *Collector) RecordLimiterStatus(capacity, inUse, waiting int) {
	c.limiterCapacity.Set(float64(capacity))
	c.limiterInUse.Set(float64(inUse))
	c.limiterWaiting.Set(float64(waiting))
}

// RecordToolCall records a tool invocation
func (c *Collector) RecordToolCall(tool string, failed bool, duration time.Duration) {
	c.toolCalls.WithLabelValues(tool, strconv.FormatBool(failed)).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordLLMCall records an LLM API call and its token usage
func (c *Collector) RecordLLMCall(model string, inputTokens, outputTokens int, duration time.Duration) {
	c.llmCalls.WithLabelValues(model).Inc()
	c.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	c.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	c.llmLatency.WithLabelValues(model).Observe(duration.Seconds())
}
