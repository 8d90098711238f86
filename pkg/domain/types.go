package domain

import (
	"time"
)

// NodeStatus is the lifecycle status of a single graph node
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusReady     NodeStatus = "ready"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusCancelled NodeStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusSucceeded, NodeStatusFailed, NodeStatusCancelled:
		return true
	default:
		return false
	}
}

// RunStatus is the lifecycle status of a TaskRun
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run has finished
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// FailurePolicy decides how a node failure affects unrelated branches
type FailurePolicy string

const (
	FailFast   FailurePolicy = "fail_fast"
	BestEffort FailurePolicy = "best_effort"
)

// Valid reports whether the policy is one of the known values
func (p FailurePolicy) Valid() bool {
	return p == FailFast || p == BestEffort
}

// NodeSpec declares one unit of work in a graph
type NodeSpec struct {
	ID             string                 `json:"id" yaml:"id"`
	AgentType      string                 `json:"agent_type" yaml:"agent_type"`
	Config         map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Dependencies   []string               `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	MaxAttempts    int                    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// GraphSpec is what a caller submits: the nodes plus run-wide settings
type GraphSpec struct {
	Name           string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Description    string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes          []NodeSpec             `json:"nodes" yaml:"nodes"`
	Input          map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`
	FailurePolicy  FailurePolicy          `json:"failure_policy,omitempty" yaml:"failure_policy,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	RetryAttempts  int                    `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`
}

// AgentResult is the output of a successful agent invocation
type AgentResult struct {
	Output    map[string]interface{} `json:"output,omitempty"`
	Artifacts [][]byte               `json:"artifacts,omitempty"`
}

// Clone returns a deep copy. Nested maps and slices in Output are copied
// so a downstream agent cannot mutate a stored upstream result.
func (r *AgentResult) Clone() *AgentResult {
	if r == nil {
		return nil
	}
	out := &AgentResult{Output: CopyMap(r.Output)}
	if r.Artifacts != nil {
		out.Artifacts = make([][]byte, len(r.Artifacts))
		for i, a := range r.Artifacts {
			out.Artifacts[i] = append([]byte(nil), a...)
		}
	}
	return out
}

// AgentInput is what an agent receives: the run's global payload and the
// results of every direct dependency keyed by node id.
type AgentInput struct {
	TaskID   string                  `json:"task_id"`
	NodeID   string                  `json:"node_id"`
	Global   map[string]interface{}  `json:"global,omitempty"`
	Upstream map[string]*AgentResult `json:"upstream,omitempty"`
}

// AttemptRecord describes a single sandbox invocation
type AttemptRecord struct {
	Attempt   int           `json:"attempt"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
}

// NodeState is the runtime state of one node within a TaskRun
type NodeState struct {
	NodeID       string          `json:"node_id"`
	Status       NodeStatus      `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	Result       *AgentResult    `json:"result,omitempty"`
	Error        *ErrorInfo      `json:"error,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Attempts     []AttemptRecord `json:"attempts,omitempty"`
}

// Clone returns a deep copy of the node state
func (n *NodeState) Clone() *NodeState {
	if n == nil {
		return nil
	}
	out := *n
	out.Result = n.Result.Clone()
	if n.Error != nil {
		e := *n.Error
		out.Error = &e
	}
	if n.StartedAt != nil {
		t := *n.StartedAt
		out.StartedAt = &t
	}
	if n.FinishedAt != nil {
		t := *n.FinishedAt
		out.FinishedAt = &t
	}
	if n.Attempts != nil {
		out.Attempts = append([]AttemptRecord(nil), n.Attempts...)
	}
	return &out
}

// TaskRun is one execution of a graph
type TaskRun struct {
	TaskID          string                 `json:"task_id"`
	Name            string                 `json:"name,omitempty"`
	Description     string                 `json:"description,omitempty"`
	Nodes           []NodeSpec             `json:"nodes"`
	EntryPoints     []string               `json:"entry_points,omitempty"`
	ExitPoints      []string               `json:"exit_points,omitempty"`
	Input           map[string]interface{} `json:"input,omitempty"`
	NodeStates      map[string]*NodeState  `json:"node_states"`
	Status          RunStatus              `json:"status"`
	FailurePolicy   FailurePolicy          `json:"failure_policy"`
	CancelRequested bool                   `json:"cancel_requested,omitempty"`
	Error           string                 `json:"error,omitempty"`
	SubmittedAt     time.Time              `json:"submitted_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`

	// Version is bumped by the state store on every successful write
	Version int64 `json:"version"`
}

// Clone returns a deep copy of the run
func (r *TaskRun) Clone() *TaskRun {
	if r == nil {
		return nil
	}
	out := *r
	out.Nodes = make([]NodeSpec, len(r.Nodes))
	for i, n := range r.Nodes {
		cp := n
		cp.Dependencies = append([]string(nil), n.Dependencies...)
		cp.Config = CopyMap(n.Config)
		out.Nodes[i] = cp
	}
	out.Input = CopyMap(r.Input)
	out.EntryPoints = append([]string(nil), r.EntryPoints...)
	out.ExitPoints = append([]string(nil), r.ExitPoints...)
	out.NodeStates = make(map[string]*NodeState, len(r.NodeStates))
	for id, ns := range r.NodeStates {
		out.NodeStates[id] = ns.Clone()
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// CountByStatus tallies node statuses
func (r *TaskRun) CountByStatus() map[NodeStatus]int {
	counts := make(map[NodeStatus]int)
	for _, ns := range r.NodeStates {
		counts[ns.Status]++
	}
	return counts
}

// RunSummary is the listing view of a TaskRun
type RunSummary struct {
	TaskID      string             `json:"task_id"`
	Name        string             `json:"name,omitempty"`
	Status      RunStatus          `json:"status"`
	SubmittedAt time.Time          `json:"submitted_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	TotalNodes  int                `json:"total_nodes"`
	NodeCounts  map[NodeStatus]int `json:"node_counts"`
	EntryPoints []string           `json:"entry_points,omitempty"`
	ExitPoints  []string           `json:"exit_points,omitempty"`
}

// Summary builds the listing view
func (r *TaskRun) Summary() RunSummary {
	return RunSummary{
		TaskID:      r.TaskID,
		Name:        r.Name,
		Status:      r.Status,
		SubmittedAt: r.SubmittedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		TotalNodes:  len(r.NodeStates),
		NodeCounts:  r.CountByStatus(),
		EntryPoints: r.EntryPoints,
		ExitPoints:  r.ExitPoints,
	}
}

// CopyMap deep-copies a decoded JSON/YAML value tree. Nested
// map[string]interface{} and []interface{} values are copied; other values
// are treated as immutable.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		for i, item := range t {
			out[i] = CopyMap(item)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
