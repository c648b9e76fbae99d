// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package registry implements the Agent Registry & Controller (spec
// §4.3): it owns the set of loaded Agents, listens to triggers, turns
// qualified work into execution requests, and manages the executor
// pool. All mutation of the registry map and the queue-dedup table is
// guarded by a single lock, per the ownership rule in spec §3.
package registry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/acme-corp/endpointd/pkg/agent"
	"github.com/acme-corp/endpointd/pkg/config"
	"github.com/acme-corp/endpointd/pkg/executor"
	"github.com/acme-corp/endpointd/pkg/log"
	"github.com/acme-corp/endpointd/pkg/qualifier"
	"github.com/acme-corp/endpointd/pkg/state"
)

// queuedEntry tracks one outstanding admission-control record:
// agent_queue_data keyed by QueueID.
type queuedEntry struct {
	request *agent.ExecutionRequest
	created time.Time
}

// StatePersister writes an Agent's persisted (state-set) fields to
// durable storage; it is the seam the Controller calls after applying
// a terminal response, kept narrow so the
// registry package doesn't own a filesystem layout decision.
type StatePersister interface {
	PersistState(a *agent.Agent) error
}

// Controller owns the Agent Registry map and the request/response
// queues that connect it to the Executor Pool.
type Controller struct {
	cfg   config.Component
	log   log.Component
	probe *state.Probe
	clock clock.Clock

	mu         sync.Mutex // guards agents and agentQueue
	agents     map[string]*agent.Agent
	agentQueue map[string]*queuedEntry

	requestQueue  chan *agent.ExecutionRequest
	responseQueue chan *agent.ExecutionResponse

	pool *executor.Pool

	requeueThreshold time.Duration
	executionSLA     time.Duration
	maxExecutors     int
	sweepInterval    time.Duration
	drainBatch       int

	persister StatePersister

	stopCh chan struct{}
	doneCh chan struct{}
	shuttingDown bool
}

// New builds a Controller. requestQueue/responseQueue are shared with
// the executor.Pool the caller constructs alongside it (both must be
// built from the same channel pair).
func New(cfg config.Component, logger log.Component, probe *state.Probe, clk clock.Clock, requestQueue chan *agent.ExecutionRequest, responseQueue chan *agent.ExecutionResponse, pool *executor.Pool, persister StatePersister) *Controller {
	return &Controller{
		cfg:              cfg,
		log:              logger,
		probe:            probe,
		clock:            clk,
		agents:           make(map[string]*agent.Agent),
		agentQueue:       make(map[string]*queuedEntry),
		requestQueue:     requestQueue,
		responseQueue:    responseQueue,
		pool:             pool,
		requeueThreshold: cfg.GetDuration("requeue_threshold"),
		executionSLA:     cfg.GetDuration("execution_sla"),
		maxExecutors:     cfg.GetInt("max_executors"),
		sweepInterval:    cfg.GetDuration("scheduler_sweep_interval"),
		drainBatch:       cfg.GetInt("response_drain_batch"),
		persister:        persister,
	}
}

// Register adds a new Agent or, if one with the same identifier is
// already present, merges the prior's persisted fields onto the
// replacement (the Loader's re-scan contract) and forces status to
// IDLE.
func (c *Controller) Register(a *agent.Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prior, ok := c.agents[a.Identifier]; ok {
		a.MergePersistedFields(prior)
	} else {
		a.SetStatus(agent.StatusIdle)
	}
	c.agents[a.Identifier] = a
}

// Unregister removes identifier from the registry. The caller is
// responsible for having already called the Agent's Unload().
func (c *Controller) Unregister(identifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, identifier)
	delete(c.agentQueue, agent.QueueID(identifier, 0))
}

// Get returns the registered Agent for identifier, or nil.
func (c *Controller) Get(identifier string) *agent.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agents[identifier]
}

// Len returns the number of registered agents.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.agents)
}

// snapshot returns the composite state flags and current network site,
// computed once per call so a sweep or trigger dispatch pays the State
// Probe's cost exactly once regardless of agent count.
func (c *Controller) snapshot() (agent.StateFlag, string) {
	return c.probe.CompositeState(), c.probe.NetworkSite()
}

// ExecuteTrigger is called from outside the core (by the event-proxy
// shim) to fan a trigger out across every registered Agent.
func (c *Controller) ExecuteTrigger(trigger agent.Trigger, data map[string]interface{}) {
	stateFlags, site := c.snapshot()
	now := c.clock.Now()

	c.mu.Lock()
	agents := make([]*agent.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}
	c.mu.Unlock()

	for _, a := range agents {
		result := qualifier.Qualify(a, trigger, data, stateFlags, site, now)
		if !result.Qualified() {
			continue
		}
		c.tryQueueRequest(a, trigger, data)
	}
}

// tryQueueRequest implements the deduplication and requeue rule in
// spec §4.3. It is the only place that adds entries to agentQueue;
// applyResponse and Unregister remove them.
func (c *Controller) tryQueueRequest(a *agent.Agent, trigger agent.Trigger, data map[string]interface{}) {
	queueID := agent.QueueID(a.Identifier, trigger)

	c.mu.Lock()
	prior, exists := c.agentQueue[queueID]
	if exists {
		if c.clock.Now().Sub(prior.created) < c.requeueThreshold {
			c.mu.Unlock()
			c.log.Debugf("registry: %s already queued, skipping", queueID)
			return
		}
		c.log.Warnf("registry: %s queued request is stale (older than %s), replacing", queueID, c.requeueThreshold)
	}

	req := agent.NewExecutionRequest(a, trigger, data)
	c.agentQueue[queueID] = &queuedEntry{request: req, created: c.clock.Now()}
	c.mu.Unlock()

	a.SetStatus(agent.StatusQueued)

	select {
	case c.requestQueue <- req:
	default:
		// Queue genuinely full: treat as a failed enqueue attempt per
		// §4.3 ("any failure leaves status = IDLE and
		// last_execution_status = FATAL").
		c.mu.Lock()
		delete(c.agentQueue, queueID)
		c.mu.Unlock()
		a.SetStatus(agent.StatusIdle)
		a.MarkFatal(agent.ExecutionFatal)
		c.log.Errorf("registry: request queue full, failed to enqueue %s", queueID)
	}
}

// Sweep runs one scheduler pass: for every IDLE agent registering the
// SCHEDULED trigger, qualify it against SCHEDULED and, if it also
// passes QualifiesForScheduledRun, enqueue it. It then resizes the
// executor pool to the ideal computed from current queue depth.
func (c *Controller) Sweep() {
	if c.isShuttingDown() {
		c.pool.Resize(0)
		return
	}

	stateFlags, site := c.snapshot()
	now := c.clock.Now()

	c.mu.Lock()
	candidates := make([]*agent.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		if a.GetStatus() != agent.StatusIdle {
			continue
		}
		if !a.Triggers.Has(agent.TriggerScheduled) {
			continue
		}
		candidates = append(candidates, a)
	}
	c.mu.Unlock()

	for _, a := range candidates {
		result := qualifier.Qualify(a, agent.TriggerScheduled, nil, stateFlags, site, now)
		if !result.Qualified() {
			continue
		}
		if !qualifier.QualifiesForScheduledRun(a, now) {
			continue
		}
		c.tryQueueRequest(a, agent.TriggerScheduled, nil)
	}

	c.DrainResponses()
	c.resizePool()
}

// DrainResponses processes up to drainBatch outstanding
// AgentExecutionResponses, updating canonical Agent state and clearing
// admission-control entries on terminal (IDLE) responses.
func (c *Controller) DrainResponses() {
	for i := 0; i < c.drainBatch; i++ {
		select {
		case resp := <-c.responseQueue:
			c.applyResponse(resp)
		default:
			return
		}
	}
}

func (c *Controller) applyResponse(resp *agent.ExecutionResponse) {
	c.mu.Lock()
	canonical, ok := c.agents[resp.Agent.Identifier]
	c.mu.Unlock()

	if !ok {
		// Responses are matched by agent identifier only; one whose agent
		// is no longer registered is logged and dropped.
		c.log.Warnf("registry: response for queue_id %s names no registered agent, dropped", resp.QueueID)
		return
	}

	canonical.SetStatus(resp.Status)
	if resp.Status == agent.StatusIdle {
		when := c.clock.Now()
		if resp.Agent.LastExecution != nil {
			when = *resp.Agent.LastExecution
		}
		canonical.RecordExecution(when, resp.Agent.LastExecutionStatus)
		c.mu.Lock()
		delete(c.agentQueue, resp.QueueID)
		c.mu.Unlock()
		if c.persister != nil {
			if err := c.persister.PersistState(canonical); err != nil {
				c.log.Errorf("registry: failed to persist state for %s: %v", canonical.Identifier, err)
			}
		}
	}
}

// resizePool computes the ideal executor count per spec §4.3 and asks
// the pool to converge on it.
func (c *Controller) resizePool() {
	c.mu.Lock()
	n := len(c.agentQueue)
	var overSLA int
	now := c.clock.Now()
	for _, e := range c.agentQueue {
		if now.Sub(e.created) > c.executionSLA {
			overSLA++
		}
	}
	c.mu.Unlock()

	ideal := computeIdealExecutors(n, c.maxExecutors, overSLA)
	c.pool.Resize(ideal)
}

// computeIdealExecutors implements the pool-sizing formula of spec
// §4.3 as a pure function so it can be unit tested independent of the
// pool/registry plumbing.
func computeIdealExecutors(queuedAgents, maxExecutors, overSLACount int) int {
	var ideal int
	if queuedAgents < maxExecutors {
		ideal = ceilDiv(queuedAgents, 3)
	} else {
		ideal = queuedAgents
	}
	if overSLACount > 0 {
		ideal += overSLACount
	}
	return clamp(ideal, 0, min(queuedAgents, maxExecutors))
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Start launches the scheduler-sweep loop in its own goroutine, ticking
// at sweepInterval.
func (c *Controller) Start() {
	c.mu.Lock()
	c.shuttingDown = false
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.doneCh)
		for {
			select {
			case <-c.stopCh:
				return
			case <-c.clock.After(c.sweepInterval):
				c.Sweep()
			}
		}
	}()
}

// Stop signals the sweep loop to exit, resizes the pool to zero, and
// waits for the sweep goroutine to return.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.shuttingDown = true
	stopCh := c.stopCh
	c.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
	c.pool.Resize(0)
	c.pool.Stop()
	if c.doneCh != nil {
		<-c.doneCh
	}
}

func (c *Controller) isShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shuttingDown
}

// Snapshot is a point-in-time view of registry size and queue depth,
// used by Status().
type Snapshot struct {
	RegisteredAgents int
	QueuedAgents     int
	Executors        int
}

// Status aggregates registry size, queue depth, and executor count for
// the external IPC status endpoint (spec §7).
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	n := len(c.agents)
	q := len(c.agentQueue)
	c.mu.Unlock()
	return Snapshot{RegisteredAgents: n, QueuedAgents: q, Executors: c.pool.Count()}
}
