package workers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aescanero/agentgraph/pkg/ports"
)

// Limiter is the process-wide permit pool bounding concurrent agent
// invocations across every task run.
type Limiter struct {
	capacity int64
	sem      *semaphore.Weighted
	metrics  ports.MetricsCollector

	inUse   atomic.Int64
	waiting atomic.Int64
}

// LimiterStats is a point-in-time view of the permit pool
type LimiterStats struct {
	Capacity int `json:"capacity"`
	InUse    int `json:"in_use"`
	Waiting  int `json:"waiting"`
}

// NewLimiter creates a limiter with the given number of permits
func NewLimiter(capacity int, metrics ports.MetricsCollector) (*Limiter, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("limiter capacity must be at least 1, got %d", capacity)
	}
	return &Limiter{
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
		metrics:  metrics,
	}, nil
}

// Acquire blocks until a permit is free or ctx is done
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	l.waiting.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	if err != nil {
		return err
	}
	l.inUse.Add(1)
	if l.metrics != nil {
		l.metrics.ObservePermitWait(time.Since(start))
	}
	return nil
}

// Release returns a permit. Releasing more permits than were acquired panics.
func (l *Limiter) Release() {
	l.inUse.Add(-1)
	l.sem.Release(1)
}

// Capacity returns the configured number of permits
func (l *Limiter) Capacity() int { return int(l.capacity) }

// Stats returns current utilisation
func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		Capacity: int(l.capacity),
		InUse:    int(l.inUse.Load()),
		Waiting:  int(l.waiting.Load()),
	}
}
