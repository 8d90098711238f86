package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsErrorInfo(t *testing.T) {
	assert.Nil(t, AsErrorInfo(nil))

	wrapped := fmt.Errorf("fetch: %w", Transient("rate limited"))
	info := AsErrorInfo(wrapped)
	assert.Equal(t, KindTransient, info.Kind)
	assert.True(t, info.Retryable)

	info = AsErrorInfo(errors.New("boom"))
	assert.Equal(t, KindFatal, info.Kind)
	assert.False(t, info.Retryable)

	info = AsErrorInfo(context.Canceled)
	assert.Equal(t, KindCancelled, info.Kind)
	assert.False(t, info.Retryable)

	info = AsErrorInfo(fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, info.Kind)
	assert.True(t, info.Retryable)
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("submit: %w", Invalidf(ReasonCycle, "a", "cycle"))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), `node "a"`)
}

func TestTaskRunCloneIsIndependent(t *testing.T) {
	now := time.Now()
	run := &TaskRun{
		TaskID: "t1",
		Nodes:  []NodeSpec{{ID: "a", AgentType: "x", Config: map[string]interface{}{"k": "v"}, Dependencies: []string{}}},
		Input:  map[string]interface{}{"q": 1},
		NodeStates: map[string]*NodeState{
			"a": {
				NodeID:    "a",
				Status:    NodeStatusSucceeded,
				Result:    &AgentResult{Output: map[string]interface{}{"out": "x"}, Artifacts: [][]byte{[]byte("blob")}},
				StartedAt: &now,
				Attempts:  []AttemptRecord{{Attempt: 1, Outcome: "succeeded"}},
			},
		},
		Status:    RunStatusRunning,
		StartedAt: &now,
	}

	cp := run.Clone()
	cp.Nodes[0].Config["k"] = "changed"
	cp.Input["q"] = 2
	cp.NodeStates["a"].Status = NodeStatusFailed
	cp.NodeStates["a"].Result.Output["out"] = "y"
	cp.NodeStates["a"].Result.Artifacts[0][0] = 'X'
	cp.NodeStates["a"].Attempts[0].Outcome = "failed"

	require.Equal(t, "v", run.Nodes[0].Config["k"])
	assert.Equal(t, 1, run.Input["q"])
	assert.Equal(t, NodeStatusSucceeded, run.NodeStates["a"].Status)
	assert.Equal(t, "x", run.NodeStates["a"].Result.Output["out"])
	assert.Equal(t, []byte("blob"), run.NodeStates["a"].Result.Artifacts[0])
	assert.Equal(t, "succeeded", run.NodeStates["a"].Attempts[0].Outcome)
}

func TestSummaryCountsStatuses(t *testing.T) {
	run := &TaskRun{
		TaskID: "t1",
		Status: RunStatusFailed,
		NodeStates: map[string]*NodeState{
			"a": {Status: NodeStatusFailed},
			"b": {Status: NodeStatusCancelled},
			"c": {Status: NodeStatusCancelled},
		},
	}
	run.EntryPoints = []string{"a"}
	run.ExitPoints = []string{"b", "c"}
	s := run.Summary()
	assert.Equal(t, 3, s.TotalNodes)
	assert.Equal(t, 2, s.NodeCounts[NodeStatusCancelled])
	assert.Equal(t, 1, s.NodeCounts[NodeStatusFailed])
	assert.Equal(t, []string{"a"}, s.EntryPoints)
	assert.Equal(t, []string{"b", "c"}, s.ExitPoints)
}

func TestAgentResultCloneCopiesNestedValues(t *testing.T) {
	orig := &AgentResult{Output: map[string]interface{}{
		"stats":  map[string]interface{}{"count": 3},
		"rows":   []interface{}{map[string]interface{}{"v": 1}},
		"labels": []string{"a", "b"},
	}}

	cp := orig.Clone()
	cp.Output["stats"].(map[string]interface{})["count"] = 99
	cp.Output["rows"].([]interface{})[0].(map[string]interface{})["v"] = 2
	cp.Output["labels"].([]string)[0] = "z"

	assert.Equal(t, 3, orig.Output["stats"].(map[string]interface{})["count"])
	assert.Equal(t, 1, orig.Output["rows"].([]interface{})[0].(map[string]interface{})["v"])
	assert.Equal(t, []string{"a", "b"}, orig.Output["labels"])
}

func TestCopyMapNil(t *testing.T) {
	assert.Nil(t, CopyMap(nil))
}
