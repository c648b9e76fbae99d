// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-corp/endpointd/pkg/agent"
	"github.com/acme-corp/endpointd/pkg/config/configmock"
	"github.com/acme-corp/endpointd/pkg/executor"
	"github.com/acme-corp/endpointd/pkg/log/logmock"
	"github.com/acme-corp/endpointd/pkg/state"
)

type fakeSource struct {
	online bool
	site   string
}

func (f *fakeSource) Online() (bool, error)                { return f.online, nil }
func (f *fakeSource) OnDomain() (bool, error)               { return true, nil }
func (f *fakeSource) OnVPN() (bool, error)                  { return false, nil }
func (f *fakeSource) IdleMachine() (bool, error)            { return false, nil }
func (f *fakeSource) NetworkSite() (string, error)          { return f.site, nil }
func (f *fakeSource) ConsoleUser() (string, error)          { return "alice", nil }
func (f *fakeSource) HardwareIdentifier() (string, error)   { return "HW-1", nil }
func (f *fakeSource) Uptime() (time.Duration, error)        { return time.Hour, nil }
func (f *fakeSource) LastLoginTimes() ([]time.Time, error)  { return nil, nil }

type countingHandler struct {
	mu    sync.Mutex
	calls int
}

func (h *countingHandler) Load() error   { return nil }
func (h *countingHandler) Unload() error { return nil }
func (h *countingHandler) Execute(agent.Trigger, map[string]interface{}) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	return nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type fakePersister struct {
	mu        sync.Mutex
	persisted []string
}

func (p *fakePersister) PersistState(a *agent.Agent) error {
	p.mu.Lock()
	p.persisted = append(p.persisted, a.Identifier)
	p.mu.Unlock()
	return nil
}

func newTestController(t *testing.T, online bool) (*Controller, chan *agent.ExecutionRequest, chan *agent.ExecutionResponse, *clock.Mock) {
	cfg := configmock.New(t)
	probe := state.New(&fakeSource{online: online}, logmock.New(t), time.Minute)
	clk := clock.NewMock()
	reqQ := make(chan *agent.ExecutionRequest, 50)
	respQ := make(chan *agent.ExecutionResponse, 50)
	pool := executor.NewPool(reqQ, respQ, logmock.New(t), clk, nil, time.Minute, time.Millisecond, 100*time.Millisecond)
	c := New(cfg, logmock.New(t), probe, clk, reqQ, respQ, pool, &fakePersister{})
	return c, reqQ, respQ, clk
}

func TestRegisterForcesIdleOnNewAgent(t *testing.T) {
	c, _, _, _ := newTestController(t, true)
	a := agent.New("com.acme.a1", "A1", &countingHandler{})
	a.SetStatus(agent.StatusExecuting)
	c.Register(a)
	assert.Equal(t, agent.StatusIdle, c.Get("com.acme.a1").GetStatus())
}

func TestRegisterMergesPersistedFieldsOnReplace(t *testing.T) {
	c, _, _, clk := newTestController(t, true)
	original := agent.New("com.acme.a1", "A1", &countingHandler{})
	c.Register(original)
	original.RecordExecution(clk.Now(), agent.ExecutionSuccess)

	replacement := agent.New("com.acme.a1", "A1 v2", &countingHandler{})
	c.Register(replacement)

	got := c.Get("com.acme.a1")
	assert.Equal(t, agent.ExecutionSuccess, got.LastExecutionStatus)
	assert.Equal(t, agent.StatusIdle, got.GetStatus())
}

func TestExecuteTriggerQualifiesAndEnqueues(t *testing.T) {
	c, reqQ, _, _ := newTestController(t, true)
	a := agent.New("com.acme.a1", "A1", &countingHandler{})
	a.Triggers = agent.TriggerStartup
	c.Register(a)

	c.ExecuteTrigger(agent.TriggerStartup, nil)

	select {
	case req := <-reqQ:
		assert.Equal(t, "com.acme.a1", req.Agent.Identifier)
	default:
		t.Fatal("expected a request to be enqueued")
	}
}

func TestExecuteTriggerSkipsUnqualifiedAgent(t *testing.T) {
	c, reqQ, _, _ := newTestController(t, true)
	a := agent.New("com.acme.a1", "A1", &countingHandler{})
	a.Triggers = agent.TriggerShutdown // does not include Startup
	c.Register(a)

	c.ExecuteTrigger(agent.TriggerStartup, nil)

	select {
	case <-reqQ:
		t.Fatal("unqualified agent should not have been enqueued")
	default:
	}
}

func TestTryQueueRequestDedupesWithinThreshold(t *testing.T) {
	c, reqQ, _, _ := newTestController(t, true)
	a := agent.New("com.acme.a1", "A1", &countingHandler{})
	a.Triggers = agent.TriggerStartup
	c.Register(a)

	c.tryQueueRequest(a, agent.TriggerStartup, nil)
	c.tryQueueRequest(a, agent.TriggerStartup, nil)

	assert.Len(t, reqQ, 1, "second enqueue within requeue_threshold must be deduped")
}

func TestTryQueueRequestReplacesStaleEntry(t *testing.T) {
	c, reqQ, _, clk := newTestController(t, true)
	a := agent.New("com.acme.a1", "A1", &countingHandler{})
	a.Triggers = agent.TriggerStartup
	c.Register(a)

	c.tryQueueRequest(a, agent.TriggerStartup, nil)
	clk.Add(c.requeueThreshold + time.Second)
	c.tryQueueRequest(a, agent.TriggerStartup, nil)

	assert.Len(t, reqQ, 2, "a stale dedup entry must be replaced, not skipped")
}

func TestDrainResponsesUpdatesCanonicalAgentAndClearsQueue(t *testing.T) {
	c, _, respQ, clk := newTestController(t, true)
	a := agent.New("com.acme.a1", "A1", &countingHandler{})
	a.Triggers = agent.TriggerStartup
	c.Register(a)
	c.tryQueueRequest(a, agent.TriggerStartup, nil)

	queueID := agent.QueueID("com.acme.a1", agent.TriggerStartup)
	snapshot := a.DeepCopy()
	snapshot.RecordExecution(clk.Now(), agent.ExecutionSuccess)
	respQ <- agent.NewExecutionResponse(uuid.New(), queueID, agent.StatusIdle, snapshot)

	c.DrainResponses()

	got := c.Get("com.acme.a1")
	assert.Equal(t, agent.StatusIdle, got.GetStatus())
	assert.Equal(t, agent.ExecutionSuccess, got.LastExecutionStatus)

	c.mu.Lock()
	_, stillQueued := c.agentQueue[queueID]
	c.mu.Unlock()
	assert.False(t, stillQueued, "terminal response must clear the dedup entry")
}

func TestTryQueueRequestFullQueueMarksFatalWithoutStampingLastExecution(t *testing.T) {
	cfg := configmock.New(t)
	probe := state.New(&fakeSource{online: true}, logmock.New(t), time.Minute)
	clk := clock.NewMock()
	reqQ := make(chan *agent.ExecutionRequest, 1)
	respQ := make(chan *agent.ExecutionResponse, 50)
	pool := executor.NewPool(reqQ, respQ, logmock.New(t), clk, nil, time.Minute, time.Millisecond, 100*time.Millisecond)
	c := New(cfg, logmock.New(t), probe, clk, reqQ, respQ, pool, &fakePersister{})

	blocker := agent.New("com.acme.blocker", "Blocker", &countingHandler{})
	blocker.Triggers = agent.TriggerStartup
	c.Register(blocker)
	c.tryQueueRequest(blocker, agent.TriggerStartup, nil) // fills the 1-slot request queue

	a := agent.New("com.acme.a1", "A1", &countingHandler{})
	a.Triggers = agent.TriggerStartup
	a.ExecutionLimits = agent.LimitRunOnce
	c.Register(a)

	c.tryQueueRequest(a, agent.TriggerStartup, nil)

	assert.Equal(t, agent.StatusIdle, a.GetStatus())
	assert.Equal(t, agent.ExecutionFatal, a.LastExecutionStatus)
	assert.Nil(t, a.LastExecution, "a failed enqueue must not look like the agent ran")
}

func TestComputeIdealExecutorsBelowMax(t *testing.T) {
	assert.Equal(t, 0, computeIdealExecutors(0, 16, 0))
	assert.Equal(t, 1, computeIdealExecutors(1, 16, 0))
	assert.Equal(t, 1, computeIdealExecutors(3, 16, 0))
	assert.Equal(t, 2, computeIdealExecutors(4, 16, 0))
}

func TestComputeIdealExecutorsAtOrAboveMax(t *testing.T) {
	assert.Equal(t, 16, computeIdealExecutors(16, 16, 0))
	assert.Equal(t, 16, computeIdealExecutors(30, 16, 0))
}

func TestComputeIdealExecutorsBumpsForOverSLA(t *testing.T) {
	ideal := computeIdealExecutors(4, 16, 3)
	assert.Equal(t, 4, ideal, "2 (ceil(4/3)) + 3 over-SLA = 5, clamped to min(4,16)=4")
}

func TestSweepEnqueuesDueScheduledAgent(t *testing.T) {
	c, reqQ, _, _ := newTestController(t, true)
	a := agent.New("com.acme.sched", "Sched", &countingHandler{})
	a.Triggers = agent.TriggerScheduled
	a.RunFrequency = time.Minute
	c.Register(a)

	c.Sweep()

	require.Len(t, reqQ, 1)
}

func TestSweepSkipsNotYetDueScheduledAgent(t *testing.T) {
	c, reqQ, _, clk := newTestController(t, true)
	a := agent.New("com.acme.sched", "Sched", &countingHandler{})
	a.Triggers = agent.TriggerScheduled
	a.RunFrequency = time.Hour
	c.Register(a)
	a.RecordExecution(clk.Now(), agent.ExecutionSuccess)

	c.Sweep()

	assert.Len(t, reqQ, 0)
}

func TestStatusReportsRegistrySize(t *testing.T) {
	c, _, _, _ := newTestController(t, true)
	c.Register(agent.New("com.acme.a1", "A1", &countingHandler{}))
	c.Register(agent.New("com.acme.a2", "A2", &countingHandler{}))

	snap := c.Status()
	assert.Equal(t, 2, snap.RegisteredAgents)
}
