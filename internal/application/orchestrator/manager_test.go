package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/agentgraph/internal/application/runner"
	"github.com/aescanero/agentgraph/internal/application/workers"
	eventsmemory "github.com/aescanero/agentgraph/pkg/adapters/events/memory"
	"github.com/aescanero/agentgraph/pkg/adapters/metrics/noop"
	"github.com/aescanero/agentgraph/pkg/adapters/sandbox/inprocess"
	storagememory "github.com/aescanero/agentgraph/pkg/adapters/storage/memory"
	"github.com/aescanero/agentgraph/pkg/agents"
	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// funcAgent runs fn for every execution
type funcAgent struct {
	fn func(ctx context.Context, input *domain.AgentInput) (*domain.AgentResult, error)
}

func (a *funcAgent) Initialize(ctx context.Context, config map[string]interface{}) error { return nil }

func (a *funcAgent) Execute(ctx context.Context, input *domain.AgentInput, execCtx *ports.ExecutionContext) (*domain.AgentResult, error) {
	return a.fn(ctx, input)
}

func (a *funcAgent) Shutdown(ctx context.Context) error { return nil }

type interval struct {
	node       string
	start, end time.Time
}

// tracker records every invocation and the peak number running at once
type tracker struct {
	mu        sync.Mutex
	running   int
	peak      int
	calls     map[string]int
	intervals []interval
}

func newTracker() *tracker {
	return &tracker{calls: make(map[string]int)}
}

func (tr *tracker) begin(node string) time.Time {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.running++
	if tr.running > tr.peak {
		tr.peak = tr.running
	}
	tr.calls[node]++
	return time.Now()
}

func (tr *tracker) end(node string, start time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.running--
	tr.intervals = append(tr.intervals, interval{node: node, start: start, end: time.Now()})
}

func (tr *tracker) callCount(node string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.calls[node]
}

func (tr *tracker) peakRunning() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.peak
}

// behaviour of the "test" agent, keyed by node id
type behaviour func(ctx context.Context, input *domain.AgentInput) (*domain.AgentResult, error)

type harness struct {
	manager *Manager
	store   *storagememory.StateStore
	bus     *eventsmemory.EventBus
	limiter *workers.Limiter
	tracker *tracker

	mu        sync.Mutex
	behaviour map[string]behaviour
}

func newHarness(t *testing.T, capacity int, settings Settings) *harness {
	t.Helper()
	return newHarnessWithStore(t, capacity, settings, nil)
}

// newHarnessWithStore lets wrap decorate the state store handed to the manager
func newHarnessWithStore(t *testing.T, capacity int, settings Settings, wrap func(ports.StateStore) ports.StateStore) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))

	h := &harness{
		store:     storagememory.NewStateStore(),
		bus:       eventsmemory.NewEventBus(logger),
		tracker:   newTracker(),
		behaviour: make(map[string]behaviour),
	}

	registry := agents.NewRegistry()
	registry.MustRegister("test", func() ports.Agent {
		return &funcAgent{fn: h.execute}
	})

	limiter, err := workers.NewLimiter(capacity, nil)
	require.NoError(t, err)
	h.limiter = limiter

	metrics := noop.NewCollector()
	sandbox := inprocess.New(registry, nil, 200*time.Millisecond, logger)
	fast := runner.BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
	r := runner.New(sandbox, limiter, fast, metrics, logger)

	if settings.AgentTimeout == 0 {
		settings.AgentTimeout = 5 * time.Second
	}
	var store ports.StateStore = h.store
	if wrap != nil {
		store = wrap(store)
	}
	h.manager = NewManager(store, h.bus, metrics, r, NewValidator(registry), settings, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.manager.Shutdown(ctx)
		_ = h.bus.Close()
	})
	return h
}

func (h *harness) on(node string, b behaviour) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.behaviour[node] = b
}

func (h *harness) execute(ctx context.Context, input *domain.AgentInput) (*domain.AgentResult, error) {
	start := h.tracker.begin(input.NodeID)
	defer h.tracker.end(input.NodeID, start)

	h.mu.Lock()
	b := h.behaviour[input.NodeID]
	h.mu.Unlock()
	if b != nil {
		return b(ctx, input)
	}
	return &domain.AgentResult{Output: map[string]interface{}{"node": input.NodeID}}, nil
}

func (h *harness) submitAndWait(t *testing.T, spec *domain.GraphSpec) *domain.TaskRun {
	t.Helper()
	id, err := h.manager.Submit(context.Background(), spec)
	require.NoError(t, err)
	return h.wait(t, id)
}

func (h *harness) wait(t *testing.T, id string) *domain.TaskRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := h.manager.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

func node(id string, deps ...string) domain.NodeSpec {
	return domain.NodeSpec{ID: id, AgentType: "test", Dependencies: deps}
}

func sleepFor(d time.Duration) behaviour {
	return func(ctx context.Context, input *domain.AgentInput) (*domain.AgentResult, error) {
		select {
		case <-time.After(d):
			return &domain.AgentResult{Output: map[string]interface{}{"node": input.NodeID}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func blockUntilCancelled(started chan<- string) behaviour {
	return func(ctx context.Context, input *domain.AgentInput) (*domain.AgentResult, error) {
		started <- input.NodeID
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func fail(err error) behaviour {
	return func(ctx context.Context, input *domain.AgentInput) (*domain.AgentResult, error) {
		return nil, err
	}
}

func assertAllTerminal(t *testing.T, run *domain.TaskRun) {
	t.Helper()
	assert.True(t, run.Status.IsTerminal(), "run status %s", run.Status)
	for id, ns := range run.NodeStates {
		assert.True(t, ns.Status.IsTerminal(), "node %s left in %s", id, ns.Status)
	}
}

func TestDiamondCompletesInDependencyOrder(t *testing.T) {
	h := newHarness(t, 4, Settings{RetryAttempts: 1})

	var gotUpstream map[string]*domain.AgentResult
	h.on("d", func(ctx context.Context, input *domain.AgentInput) (*domain.AgentResult, error) {
		gotUpstream = input.Upstream
		return &domain.AgentResult{Output: map[string]interface{}{"q": input.Global["q"]}}, nil
	})

	run := h.submitAndWait(t, &domain.GraphSpec{
		Name:  "diamond",
		Nodes: []domain.NodeSpec{node("a"), node("b", "a"), node("c", "a"), node("d", "b", "c")},
		Input: map[string]interface{}{"q": "hello"},
	})

	assertAllTerminal(t, run)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.NotNil(t, run.CompletedAt)
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, domain.NodeStatusSucceeded, run.NodeStates[id].Status)
		assert.Equal(t, 1, run.NodeStates[id].AttemptCount)
	}

	for _, n := range run.Nodes {
		for _, dep := range n.Dependencies {
			started := run.NodeStates[n.ID].StartedAt
			finished := run.NodeStates[dep].FinishedAt
			require.NotNil(t, started)
			require.NotNil(t, finished)
			assert.False(t, started.Before(*finished), "%s started before %s finished", n.ID, dep)
		}
	}

	assert.Equal(t, []string{"a"}, run.EntryPoints)
	assert.Equal(t, []string{"d"}, run.ExitPoints)

	require.Len(t, gotUpstream, 2)
	assert.Equal(t, "b", gotUpstream["b"].Output["node"])
	assert.Equal(t, "c", gotUpstream["c"].Output["node"])
	assert.Equal(t, "hello", run.NodeStates["d"].Result.Output["q"])

	stored, err := h.manager.GetStatus(context.Background(), run.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, stored.Status)
}

func TestSubmitRejectsMalformedGraphs(t *testing.T) {
	h := newHarness(t, 2, Settings{})

	tests := []struct {
		name   string
		spec   *domain.GraphSpec
		reason domain.ValidationReason
	}{
		{"cycle", &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a", "b"), node("b", "a")}}, domain.ReasonCycle},
		{"unknown agent", &domain.GraphSpec{Nodes: []domain.NodeSpec{{ID: "a", AgentType: "nope"}}}, domain.ReasonUnknownAgentType},
		{"bad policy", &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a")}, FailurePolicy: "sometimes"}, domain.ReasonInvalidPolicy},
		{"empty", &domain.GraphSpec{}, domain.ReasonEmptyGraph},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.manager.Submit(context.Background(), tt.spec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}

	assert.Equal(t, 0, h.tracker.callCount("a"))
	runs, err := h.manager.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs, "rejected graphs must not create runs")
}

func TestFailedNodeCancelsDescendants(t *testing.T) {
	h := newHarness(t, 2, Settings{RetryAttempts: 3})
	h.on("a", fail(domain.Fatal("broken input")))

	run := h.submitAndWait(t, &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a"), node("b", "a")}})

	assertAllTerminal(t, run)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, domain.NodeStatusFailed, run.NodeStates["a"].Status)
	assert.Equal(t, domain.KindFatal, run.NodeStates["a"].Error.Kind)
	assert.Equal(t, 1, run.NodeStates["a"].AttemptCount, "fatal errors are not retried")
	assert.Equal(t, domain.NodeStatusCancelled, run.NodeStates["b"].Status)
	assert.Nil(t, run.NodeStates["b"].StartedAt)
	assert.Equal(t, 0, h.tracker.callCount("b"))
	assert.Contains(t, run.Error, `node "a" failed`)
}

func TestRetryBudgetBoundsAttempts(t *testing.T) {
	h := newHarness(t, 2, Settings{RetryAttempts: 3})
	h.on("a", fail(domain.Transient("upstream busy")))

	run := h.submitAndWait(t, &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a")}})

	ns := run.NodeStates["a"]
	assert.Equal(t, domain.NodeStatusFailed, ns.Status)
	assert.Equal(t, domain.KindTransientExhausted, ns.Error.Kind)
	assert.Equal(t, 3, ns.AttemptCount)
	assert.Equal(t, 3, h.tracker.callCount("a"))
	require.Len(t, ns.Attempts, 3)
	for i, rec := range ns.Attempts {
		assert.Equal(t, i+1, rec.Attempt)
		assert.Equal(t, runner.OutcomeTransient, rec.Outcome)
	}
}

func TestNodeOverridesRetryAttempts(t *testing.T) {
	h := newHarness(t, 2, Settings{RetryAttempts: 5})
	h.on("a", fail(domain.Transient("busy")))

	a := node("a")
	a.MaxAttempts = 2
	run := h.submitAndWait(t, &domain.GraphSpec{Nodes: []domain.NodeSpec{a}})
	assert.Equal(t, 2, run.NodeStates["a"].AttemptCount)
}

func TestAgentTimeoutIsRetried(t *testing.T) {
	h := newHarness(t, 2, Settings{RetryAttempts: 2, AgentTimeout: 20 * time.Millisecond})
	h.on("a", sleepFor(time.Second))

	run := h.submitAndWait(t, &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a")}})

	ns := run.NodeStates["a"]
	assert.Equal(t, domain.NodeStatusFailed, ns.Status)
	assert.Equal(t, domain.KindTimedOutExhausted, ns.Error.Kind)
	assert.Equal(t, 2, ns.AttemptCount)
}

func TestIndependentNodesRunInParallel(t *testing.T) {
	h := newHarness(t, 2, Settings{})
	h.on("a", sleepFor(150*time.Millisecond))
	h.on("b", sleepFor(150*time.Millisecond))

	start := time.Now()
	run := h.submitAndWait(t, &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a"), node("b")}})
	elapsed := time.Since(start)

	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Less(t, elapsed, 280*time.Millisecond, "independent nodes should overlap")
	assert.Equal(t, 2, h.tracker.peakRunning())
}

func TestCapacityOneSerialisesNodes(t *testing.T) {
	h := newHarness(t, 1, Settings{})
	h.on("a", sleepFor(40*time.Millisecond))
	h.on("b", sleepFor(40*time.Millisecond))

	run := h.submitAndWait(t, &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a"), node("b")}})
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, h.tracker.peakRunning())

	h.tracker.mu.Lock()
	defer h.tracker.mu.Unlock()
	require.Len(t, h.tracker.intervals, 2)
	first, second := h.tracker.intervals[0], h.tracker.intervals[1]
	assert.False(t, second.start.Before(first.end), "running intervals overlap")
}

func TestLimiterBoundsConcurrencyAcrossRuns(t *testing.T) {
	h := newHarness(t, 2, Settings{})
	for _, id := range []string{"a", "b", "c", "d"} {
		h.on(id, sleepFor(20*time.Millisecond))
	}
	spec := func() *domain.GraphSpec {
		return &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a"), node("b"), node("c"), node("d")}}
	}

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := h.manager.Submit(context.Background(), spec())
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		run := h.wait(t, id)
		assert.Equal(t, domain.RunStatusCompleted, run.Status)
	}
	assert.LessOrEqual(t, h.tracker.peakRunning(), 2)
	assert.Equal(t, 0, h.limiter.Stats().InUse)
}

func TestCancelStopsRunningAndPendingNodes(t *testing.T) {
	h := newHarness(t, 2, Settings{})
	started := make(chan string, 1)
	h.on("a", blockUntilCancelled(started))

	id, err := h.manager.Submit(context.Background(), &domain.GraphSpec{
		Nodes: []domain.NodeSpec{node("a"), node("b", "a")},
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("node a never started")
	}
	require.Eventually(t, func() bool {
		snapshot, err := h.manager.GetStatus(context.Background(), id)
		return err == nil && snapshot.NodeStates["a"].Status == domain.NodeStatusRunning
	}, 5*time.Second, 5*time.Millisecond)
	snapshot, err := h.manager.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusPending, snapshot.NodeStates["b"].Status)

	require.NoError(t, h.manager.Cancel(context.Background(), id))
	run := h.wait(t, id)

	assertAllTerminal(t, run)
	assert.Equal(t, domain.RunStatusCancelled, run.Status)
	assert.True(t, run.CancelRequested)
	assert.Equal(t, ErrCancelRequested.Error(), run.Error)
	assert.Equal(t, domain.NodeStatusCancelled, run.NodeStates["a"].Status)
	assert.Equal(t, domain.NodeStatusCancelled, run.NodeStates["b"].Status)
	assert.Nil(t, run.NodeStates["b"].StartedAt)
	assert.Equal(t, 0, h.tracker.callCount("b"))

	err = h.manager.Cancel(context.Background(), id)
	assert.True(t, errors.Is(err, domain.ErrAlreadyTerminal))
}

func TestCancelUnknownRun(t *testing.T) {
	h := newHarness(t, 1, Settings{})
	err := h.manager.Cancel(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = h.manager.GetStatus(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCancelOrphanedRun(t *testing.T) {
	h := newHarness(t, 1, Settings{})
	orphan := &domain.TaskRun{
		TaskID:      "orphan",
		Nodes:       []domain.NodeSpec{node("a")},
		NodeStates:  map[string]*domain.NodeState{"a": {NodeID: "a", Status: domain.NodeStatusRunning}},
		Status:      domain.RunStatusRunning,
		SubmittedAt: time.Now(),
	}
	require.NoError(t, h.store.Create(context.Background(), orphan))

	require.NoError(t, h.manager.Cancel(context.Background(), "orphan"))
	run, err := h.manager.Wait(context.Background(), "orphan")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, run.Status)
	assert.Equal(t, domain.NodeStatusCancelled, run.NodeStates["a"].Status)
}

func TestFailurePolicies(t *testing.T) {
	tests := []struct {
		policy domain.FailurePolicy
		want   domain.NodeStatus
	}{
		{domain.FailFast, domain.NodeStatusCancelled},
		{domain.BestEffort, domain.NodeStatusSucceeded},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			h := newHarness(t, 4, Settings{})
			h.on("a", func(ctx context.Context, input *domain.AgentInput) (*domain.AgentResult, error) {
				time.Sleep(20 * time.Millisecond)
				return nil, domain.Fatal("bad")
			})
			h.on("x", sleepFor(300*time.Millisecond))

			run := h.submitAndWait(t, &domain.GraphSpec{
				FailurePolicy: tt.policy,
				Nodes:         []domain.NodeSpec{node("a"), node("b", "a"), node("x"), node("y", "x")},
			})

			assertAllTerminal(t, run)
			assert.Equal(t, domain.RunStatusFailed, run.Status)
			assert.Equal(t, tt.policy, run.FailurePolicy)
			assert.Equal(t, domain.NodeStatusCancelled, run.NodeStates["b"].Status)
			assert.Equal(t, tt.want, run.NodeStates["x"].Status)
			assert.Equal(t, tt.want, run.NodeStates["y"].Status)
		})
	}
}

func TestRunTimeoutCancelsRun(t *testing.T) {
	h := newHarness(t, 2, Settings{GraphTimeout: 50 * time.Millisecond})
	started := make(chan string, 1)
	h.on("a", blockUntilCancelled(started))

	run := h.submitAndWait(t, &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a"), node("b", "a")}})

	assertAllTerminal(t, run)
	assert.Equal(t, domain.RunStatusCancelled, run.Status)
	assert.Equal(t, "execution timeout", run.Error)
	assert.False(t, run.CancelRequested)
}

func TestEventsFollowTransitions(t *testing.T) {
	h := newHarness(t, 2, Settings{})

	var mu sync.Mutex
	var types []ports.EventType
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.bus.Subscribe(ctx, ports.TaskEventsTopic, func(ctx context.Context, ev ports.Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, ev.Type)
		return nil
	}))

	run := h.submitAndWait(t, &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a"), node("b", "a")}})
	require.Equal(t, domain.RunStatusCompleted, run.Status)

	want := []ports.EventType{
		ports.EventTaskSubmitted, ports.EventTaskStarted,
		ports.EventNodeReady, ports.EventNodeRunning, ports.EventNodeSucceeded,
		ports.EventNodeReady, ports.EventNodeRunning, ports.EventNodeSucceeded,
		ports.EventTaskCompleted,
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == len(want)
	}, 5*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, types)
}

func TestListAndShutdown(t *testing.T) {
	h := newHarness(t, 2, Settings{})
	started := make(chan string, 1)
	h.on("slow", blockUntilCancelled(started))

	done := h.submitAndWait(t, &domain.GraphSpec{Name: "quick", Nodes: []domain.NodeSpec{node("a")}})
	id, err := h.manager.Submit(context.Background(), &domain.GraphSpec{Name: "slow", Nodes: []domain.NodeSpec{node("slow")}})
	require.NoError(t, err)
	<-started
	assert.Equal(t, 1, h.manager.ActiveRuns())

	runs, err := h.manager.List(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	byID := map[string]domain.RunSummary{}
	for _, r := range runs {
		byID[r.TaskID] = r
	}
	assert.Equal(t, domain.RunStatusCompleted, byID[done.TaskID].Status)
	assert.Equal(t, 1, byID[done.TaskID].NodeCounts[domain.NodeStatusSucceeded])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.manager.Shutdown(ctx))
	assert.False(t, h.manager.Accepting())
	assert.Equal(t, 0, h.manager.ActiveRuns())

	run, err := h.manager.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, run.Status)
	assert.Equal(t, ErrShuttingDown.Error(), run.Error)

	_, err = h.manager.Submit(context.Background(), &domain.GraphSpec{Nodes: []domain.NodeSpec{node("a")}})
	assert.True(t, errors.Is(err, ErrShuttingDown))
}

// runningAudit tracks the number of Running nodes across the latest stored
// snapshot of every run. Writes for runs named slowRun are delayed.
type runningAudit struct {
	ports.StateStore
	slowRun string

	mu      sync.Mutex
	running map[string]int
	peak    int
}

func countRunning(run *domain.TaskRun) int {
	n := 0
	for _, ns := range run.NodeStates {
		if ns.Status == domain.NodeStatusRunning {
			n++
		}
	}
	return n
}

func (a *runningAudit) CompareAndSwap(ctx context.Context, run *domain.TaskRun, expectedVersion int64) error {
	if run.Name == a.slowRun {
		time.Sleep(3 * time.Millisecond)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.StateStore.CompareAndSwap(ctx, run, expectedVersion); err != nil {
		return err
	}
	a.running[run.TaskID] = countRunning(run)
	total := 0
	for _, n := range a.running {
		total += n
	}
	if total > a.peak {
		a.peak = total
	}
	return nil
}

func (a *runningAudit) peakRunning() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

func TestStoredRunningNodesStayWithinCapacityAcrossRuns(t *testing.T) {
	audit := &runningAudit{slowRun: "slow-persist", running: make(map[string]int)}
	h := newHarnessWithStore(t, 1, Settings{RetryAttempts: 1}, func(inner ports.StateStore) ports.StateStore {
		audit.StateStore = inner
		return audit
	})

	wide := func() []domain.NodeSpec {
		var nodes []domain.NodeSpec
		for _, id := range []string{"n1", "n2", "n3", "n4", "n5", "n6", "n7", "n8"} {
			nodes = append(nodes, node(id))
		}
		return nodes
	}
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5", "n6", "n7", "n8"} {
		h.on(id, sleepFor(2*time.Millisecond))
	}

	slow, err := h.manager.Submit(context.Background(), &domain.GraphSpec{Name: "slow-persist", Nodes: wide()})
	require.NoError(t, err)
	fast, err := h.manager.Submit(context.Background(), &domain.GraphSpec{Name: "fast", Nodes: wide()})
	require.NoError(t, err)

	for _, id := range []string{slow, fast} {
		run := h.wait(t, id)
		assert.Equal(t, domain.RunStatusCompleted, run.Status)
	}

	assert.Equal(t, 1, audit.peakRunning(), "stored Running nodes across runs must not exceed the limiter capacity")
	assert.Equal(t, 1, h.tracker.peakRunning())
}

func TestDownstreamCannotMutateStoredUpstreamResult(t *testing.T) {
	h := newHarness(t, 2, Settings{RetryAttempts: 1})
	h.on("a", func(ctx context.Context, input *domain.AgentInput) (*domain.AgentResult, error) {
		return &domain.AgentResult{Output: map[string]interface{}{
			"stats": map[string]interface{}{"count": 1},
		}}, nil
	})
	h.on("b", func(ctx context.Context, input *domain.AgentInput) (*domain.AgentResult, error) {
		input.Upstream["a"].Output["stats"].(map[string]interface{})["count"] = 99
		input.Global["q"] = "changed"
		return &domain.AgentResult{}, nil
	})

	run := h.submitAndWait(t, &domain.GraphSpec{
		Nodes: []domain.NodeSpec{node("a"), node("b", "a")},
		Input: map[string]interface{}{"q": "original"},
	})

	require.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.NodeStates["a"].Result.Output["stats"].(map[string]interface{})["count"])
	assert.Equal(t, "original", run.Input["q"])
}
