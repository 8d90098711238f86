package ports

import "time"

// MetricsCollector records orchestrator metrics
type MetricsCollector interface {
	RecordTaskSubmitted(status string)
	RecordTaskCompleted(status string, duration time.Duration)
	SetActiveRuns(count int)
	RecordNodeAttempt(agentType, outcome string, duration time.Duration)
	RecordNodeCompleted(agentType, status string)
	ObservePermitWait(duration time.Duration)
	RecordLimiterStatus(capacity, inUse, waiting int)
	RecordToolCall(tool string, failed bool, duration time.Duration)
	RecordLLMCall(model string, inputTokens, outputTokens int, duration time.Duration)
}
