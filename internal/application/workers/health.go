package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/ports"
)

// RunSource reports orchestrator activity to the health monitor
type RunSource interface {
	ActiveRuns() int
	Accepting() bool
}

// HealthMonitor monitors limiter utilisation
type HealthMonitor struct {
	limiter  *Limiter
	runs     RunSource
	metrics  ports.MetricsCollector
	interval time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// HealthStatus represents the health status of the orchestrator
type HealthStatus struct {
	Limiter    LimiterStats `json:"limiter"`
	ActiveRuns int          `json:"active_runs"`
	Saturated  bool         `json:"saturated"`
	Healthy    bool         `json:"healthy"`
	Timestamp  time.Time    `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(limiter *Limiter, runs RunSource, metrics ports.MetricsCollector, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		limiter:  limiter,
		runs:     runs,
		metrics:  metrics,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth logs limiter status and records gauges
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Info("orchestrator health check",
		zap.Int("capacity", status.Limiter.Capacity),
		zap.Int("in_use", status.Limiter.InUse),
		zap.Int("waiting", status.Limiter.Waiting),
		zap.Int("active_runs", status.ActiveRuns),
		zap.Bool("healthy", status.Healthy))

	h.metrics.RecordLimiterStatus(status.Limiter.Capacity, status.Limiter.InUse, status.Limiter.Waiting)
	h.metrics.SetActiveRuns(status.ActiveRuns)

	if !status.Healthy {
		h.logger.Warn("orchestrator is not accepting work")
	}

	if status.Saturated {
		h.logger.Warn("all agent permits are in use - consider raising MAX_CONCURRENT_AGENTS",
			zap.Int("capacity", status.Limiter.Capacity),
			zap.Int("waiting", status.Limiter.Waiting))
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	stats := h.limiter.Stats()
	active := 0
	healthy := true
	if h.runs != nil {
		active = h.runs.ActiveRuns()
		healthy = h.runs.Accepting()
	}

	return &HealthStatus{
		Limiter:    stats,
		ActiveRuns: active,
		Saturated:  stats.InUse >= stats.Capacity && stats.Waiting > 0,
		Healthy:    healthy,
		Timestamp:  time.Now(),
	}
}

// IsHealthy returns true if the orchestrator accepts new runs
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
