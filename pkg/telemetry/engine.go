// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	backoffv4 "github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"

	"github.com/acme-corp/endpointd/pkg/log"
)

// State is the Telemetry Engine's lifecycle state machine.
type State int

const (
	StateUnconfigured State = iota
	StateStopped
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "UNCONFIGURED"
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// RouterBuilder lazily (re)builds a Router, e.g. by refreshing
// credentials and re-resolving the default route. It is called on
// first dispatch-loop tick and again after repeated failures.
type RouterBuilder func() (*Router, error)

// Engine is the durable, credential-gated, in-process telemetry
// pipeline described in spec §4.5.
type Engine struct {
	log   log.Component
	clock clock.Clock

	queue *Queue
	mu    sync.Mutex

	state State

	buildRouter RouterBuilder
	router      *Router

	hasNetworkAccess atomic.Bool
	credentialsLoaded atomic.Bool
	bypassBackoff    atomic.Bool

	numFailedCommits      int
	lastFailedSubmission  time.Time
	backoff               backoffPolicy
	failuresBeforeReload  int

	kickCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	busyBeat time.Duration
	idleBeat time.Duration

	sign            bool
	recordSizeLimit int

	queueStatePath string
}

// Config bundles Engine construction parameters.
type Config struct {
	RetryFrequency              time.Duration
	MaxRetryFrequency           time.Duration
	BackoffBase                 float64
	FailuresBeforeCredentialReload int
	BusyBeat                    time.Duration
	IdleBeat                    time.Duration
	Sign                        bool
	RecordSizeLimit             int
	QueueStatePath              string
}

// NewEngine builds an Engine in the UNCONFIGURED state. Call
// SetRouterBuilder and Start to bring it up.
func NewEngine(logger log.Component, clk clock.Clock, cfg Config) *Engine {
	e := &Engine{
		log:                  logger,
		clock:                clk,
		queue:                NewQueue(logger),
		state:                StateUnconfigured,
		backoff:              newBackoffPolicy(cfg.RetryFrequency, cfg.MaxRetryFrequency, cfg.BackoffBase),
		failuresBeforeReload: cfg.FailuresBeforeCredentialReload,
		busyBeat:             cfg.BusyBeat,
		idleBeat:             cfg.IdleBeat,
		sign:                 cfg.Sign,
		recordSizeLimit:      cfg.RecordSizeLimit,
		queueStatePath:       cfg.QueueStatePath,
	}
	return e
}

// SetRouterBuilder installs the lazy router construction function and
// transitions UNCONFIGURED -> STOPPED.
func (e *Engine) SetRouterBuilder(builder RouterBuilder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buildRouter = builder
	if e.state == StateUnconfigured {
		e.state = StateStopped
	}
}

// NetworkChanged re-evaluates network access and, if we just came
// online with queued items, performs an immediate kick.
func (e *Engine) NetworkChanged(online bool) {
	wasOnline := e.hasNetworkAccess.Swap(online)
	if online && !wasOnline && e.queue.Len() > 0 {
		e.Kick()
	}
}

// online is the derived predicate: has_network_access AND
// credentials_loaded AND default_route_loaded.
func (e *Engine) online() bool {
	e.mu.Lock()
	hasRouter := e.router != nil && e.router.DefaultLoaded()
	e.mu.Unlock()
	return e.hasNetworkAccess.Load() && e.credentialsLoaded.Load() && hasRouter
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// QueueDepth returns the number of events currently buffered.
func (e *Engine) QueueDepth() int {
	return e.queue.Len()
}

// CommitEvent enqueues e for delivery (producer side of the FIFO).
func (e *Engine) CommitEvent(ev *Event) {
	e.queue.Push(ev)
}

// Kick bypasses backoff once, prompting the dispatch loop to attempt a
// send on its very next beat.
func (e *Engine) Kick() {
	e.bypassBackoff.Store(true)
	select {
	case e.kickCh <- struct{}{}:
	default:
	}
}

// Start transitions STOPPED -> RUNNING and launches the dispatch-loop
// goroutine. Loading the persisted queue is the caller's
// responsibility (Queue.Load), done before Start so a restart doesn't
// race delivery against load.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateRunning
	e.kickCh = make(chan struct{}, 1)
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	go e.dispatchLoop()
}

// Stop signals the dispatch loop and returns once it has exited; the
// worker completes its current post and exits on the next beat per
// spec §5.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	close(e.stopCh)
	e.mu.Unlock()

	<-e.doneCh

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
}

// Save persists the current queue contents to the configured state
// path.
func (e *Engine) Save() error {
	return e.queue.Save(e.queueStatePath)
}

// Load restores queue contents from the configured state path.
func (e *Engine) Load() error {
	return e.queue.Load(e.queueStatePath)
}

func (e *Engine) isShuttingDown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateStopping
}

// isQueueProcessTime implements the gating described in §4.5 step 2:
// false when shutting down, offline, or inside a backoff window not
// yet bypassed by a kick. A pending kick is consumed (one-shot) the
// first time it lets a call through, regardless of whether that call
// is still inside the backoff window.
func (e *Engine) isQueueProcessTime() bool {
	if e.isShuttingDown() {
		return false
	}
	if !e.hasNetworkAccess.Load() {
		return false
	}
	if e.bypassBackoff.CompareAndSwap(true, false) {
		return true
	}
	e.mu.Lock()
	failures := e.numFailedCommits
	last := e.lastFailedSubmission
	e.mu.Unlock()
	if failures == 0 {
		return true
	}
	return !e.clock.Now().Before(e.backoff.nextAttempt(failures, last))
}

func (e *Engine) dispatchLoop() {
	defer close(e.doneCh)
	for {
		beat := e.idleBeat
		if e.queue.Len() > 0 {
			beat = e.busyBeat
		}

		select {
		case <-e.stopCh:
			return
		case <-e.kickCh:
		case <-e.clock.After(beat):
		}

		if e.isShuttingDown() {
			return
		}
		if !e.isQueueProcessTime() {
			continue
		}

		if err := e.ensureRouter(); err != nil {
			e.recordFailure(err)
			continue
		}

		e.mu.Lock()
		failures := e.numFailedCommits
		e.mu.Unlock()
		if failures >= e.failuresBeforeReload {
			if err := e.reloadRouterWithRetry(); err != nil {
				e.log.Warnf("telemetry engine: credential reload failed after %d failures: %v", failures, err)
				continue
			}
		}

		ev := e.queue.Pop()
		if ev == nil {
			continue
		}

		e.mu.Lock()
		router := e.router
		e.mu.Unlock()

		if err := router.RouteEvent(ev); err != nil {
			e.recordFailure(err)
			e.queue.PushFront(ev)
			continue
		}
		e.recordSuccess()
	}
}

func (e *Engine) ensureRouter() error {
	e.mu.Lock()
	needsBuild := e.router == nil
	builder := e.buildRouter
	e.mu.Unlock()
	if !needsBuild {
		return nil
	}
	if builder == nil {
		return errNoRouterBuilder
	}
	r, err := builder()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.router = r
	e.mu.Unlock()
	e.credentialsLoaded.Store(true)
	return nil
}

// reloadRouterWithRetry rebuilds the router, retrying the build itself
// a bounded number of times with exponential backoff (not to be
// confused with the outer dispatch-loop backoff, which governs when we
// are even allowed to try).
func (e *Engine) reloadRouterWithRetry() error {
	builder := func() (*Router, error) {
		e.mu.Lock()
		b := e.buildRouter
		e.mu.Unlock()
		if b == nil {
			return nil, errNoRouterBuilder
		}
		return b()
	}

	bo := backoffv4.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second

	var r *Router
	err := backoffv4.Retry(func() error {
		built, buildErr := builder()
		if buildErr != nil {
			return buildErr
		}
		r = built
		return nil
	}, bo)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.router = r
	e.numFailedCommits = 0
	e.mu.Unlock()
	e.credentialsLoaded.Store(true)
	return nil
}

func (e *Engine) recordFailure(err error) {
	e.mu.Lock()
	e.numFailedCommits++
	e.lastFailedSubmission = e.clock.Now()
	n := e.numFailedCommits
	e.mu.Unlock()
	e.log.Warnf("telemetry engine: dispatch failure #%d: %v", n, err)
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	e.numFailedCommits = 0
	e.mu.Unlock()
}

// EmitAgentFatal implements executor.TelemetryEmitter: an Executor
// reports a handler failure as a telemetry event rather than letting
// it escape the pool.
func (e *Engine) EmitAgentFatal(identifier string, cause error) {
	e.CommitEvent(NewEvent("agent.fatal", "agent_execution", identifier, map[string]interface{}{
		"identifier": identifier,
		"error":      cause.Error(),
	}))
}

var errNoRouterBuilder = routerBuilderError{}

type routerBuilderError struct{}

func (routerBuilderError) Error() string { return "telemetry engine: no router builder configured" }
