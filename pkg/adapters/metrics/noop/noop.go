// Package noop provides a MetricsCollector that discards everything.
package noop

import "time"

// Collector discards all metrics
type Collector struct{}

// NewCollector returns a no-op collector
func NewCollector() *Collector { return &Collector{} }

func (Collector) RecordTaskSubmitted(string) {}
func (Collector) RecordTaskCompleted(string, time.Duration) {}
func (Collector) SetActiveRuns(int) {}
func (Collector) RecordNodeAttempt(string, string, time.Duration) {}
func (Collector) RecordNodeCompleted(string, string) {}
func (Collector) ObservePermitWait(time.Duration) {}
func (Collector) RecordLimiterStatus(int, int, int) {}
func (Collector) RecordToolCall(string, bool, time.Duration) {}
func (Collector) RecordLLMCall(string, int, int, time.Duration) {}
