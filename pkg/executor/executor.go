// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package executor implements the worker loop that drains the shared
// request queue, runs an Agent's handler under its optional per-agent
// mutex, and emits status/result responses. Per DESIGN NOTES, an
// Executor never holds a reference back to its owning pool or
// Controller: it is handed exactly a request channel, a response
// channel, a logger, a clock, and an optional TelemetryEmitter.
package executor

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/acme-corp/endpointd/pkg/agent"
	"github.com/acme-corp/endpointd/pkg/log"
)

// TelemetryEmitter is the narrow seam an Executor uses to forward
// side-effect events (e.g. a handler-raised Fatal) toward the
// Telemetry Engine without importing the telemetry package directly.
type TelemetryEmitter interface {
	EmitAgentFatal(identifier string, err error)
}

// Executor is a single worker loop.
type Executor struct {
	Name string

	requestQueue  <-chan *agent.ExecutionRequest
	responseQueue chan<- *agent.ExecutionResponse
	log           log.Component
	clock         clock.Clock
	telemetry     TelemetryEmitter

	idleTTL      time.Duration
	pollInterval time.Duration

	shouldRun    atomic.Bool
	lastActivity atomic.Int64 // unix nano
	executing    atomic.Bool
	stopped      chan struct{}
}

// New builds an Executor. It does not start running until Run is
// called, typically in its own goroutine.
func New(name string, requestQueue <-chan *agent.ExecutionRequest, responseQueue chan<- *agent.ExecutionResponse, logger log.Component, clk clock.Clock, telemetry TelemetryEmitter, idleTTL, pollInterval time.Duration) *Executor {
	e := &Executor{
		Name:          name,
		requestQueue:  requestQueue,
		responseQueue: responseQueue,
		log:           logger,
		clock:         clk,
		telemetry:     telemetry,
		idleTTL:       idleTTL,
		pollInterval:  pollInterval,
		stopped:       make(chan struct{}),
	}
	e.shouldRun.Store(true)
	e.lastActivity.Store(clk.Now().UnixNano())
	return e
}

// Stop advises the loop to exit on its next iteration. It is advisory:
// an in-flight agent.Execute call is never interrupted.
func (e *Executor) Stop() {
	e.shouldRun.Store(false)
}

// Stopped returns a channel closed once Run has returned.
func (e *Executor) Stopped() <-chan struct{} {
	return e.stopped
}

// IsIdle reports whether the worker is not currently running an
// Agent's handler, used by the pool manager to pick a victim when
// scaling down.
func (e *Executor) IsIdle() bool {
	return !e.executing.Load()
}

// Run is the main loop described in spec §4.4. It blocks until
// should_run is cleared or the idle TTL elapses.
func (e *Executor) Run() {
	defer close(e.stopped)
	for {
		if !e.shouldRun.Load() {
			e.log.Debugf("executor %s: stopping (should_run cleared)", e.Name)
			return
		}
		if e.idleTTL > 0 {
			idleFor := e.clock.Now().Sub(time.Unix(0, e.lastActivity.Load()))
			if idleFor > e.idleTTL {
				e.log.Infof("executor %s: idle for %s, exiting", e.Name, idleFor)
				return
			}
		}

		select {
		case req, ok := <-e.requestQueue:
			if !ok {
				return
			}
			e.handle(req)
		case <-e.clock.After(e.pollInterval):
			// loop back around to re-check should_run/idle TTL
		}
	}
}

func (e *Executor) handle(req *agent.ExecutionRequest) {
	e.lastActivity.Store(e.clock.Now().UnixNano())
	e.executing.Store(true)
	defer e.executing.Store(false)

	a := req.Agent
	a.SetStatus(agent.StatusExecuting)
	e.respond(req, agent.StatusExecuting, a)

	if mtx := a.Mutex(); mtx != nil {
		mtx.Lock()
		defer mtx.Unlock()
	}

	status := e.run(a, req)

	a.RecordExecution(e.clock.Now(), status)
	a.SetStatus(agent.StatusIdle)
	e.lastActivity.Store(e.clock.Now().UnixNano())
	e.respond(req, agent.StatusIdle, a)
}

// run invokes the Agent's handler, recovering a panic into
// ExecutionFatal per "any exception ... is otherwise swallowed".
func (e *Executor) run(a *agent.Agent, req *agent.ExecutionRequest) (status agent.ExecutionStatus) {
	if a.Handler == nil {
		return agent.ExecutionFatal
	}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in agent %s: %v", a.Identifier, r)
			e.log.Errorf("%v", err)
			if e.telemetry != nil {
				e.telemetry.EmitAgentFatal(a.Identifier, err)
			}
			status = agent.ExecutionFatal
		}
	}()

	if err := a.Handler.Execute(req.Trigger, req.Data); err != nil {
		e.log.Warnf("agent %s execution failed: %v", a.Identifier, err)
		if e.telemetry != nil {
			e.telemetry.EmitAgentFatal(a.Identifier, err)
		}
		return agent.ExecutionFatal
	}
	return agent.ExecutionSuccess
}

// respond pushes a started/finished response. It blocks if the
// response queue is full: responses are the only path back to
// canonical Agent state, so dropping one is never preferable to
// backpressure on this worker.
func (e *Executor) respond(req *agent.ExecutionRequest, status agent.Status, a *agent.Agent) {
	resp := agent.NewExecutionResponse(req.RequestUUID, req.QueueID(), status, a)
	e.responseQueue <- resp
}
