// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package executor

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/acme-corp/endpointd/pkg/agent"
	"github.com/acme-corp/endpointd/pkg/log"
)

// Pool owns the set of live Executors and grows/shrinks it toward a
// caller-supplied ideal size every sweep. It never decides the ideal
// size itself (that is the Controller's job, per spec §4.3); it only
// implements naming, spawning, advisory stop, and reaping.
type Pool struct {
	mu            sync.Mutex
	workers       map[string]*Executor
	nextSuffix    int
	requestQueue  chan *agent.ExecutionRequest
	responseQueue chan *agent.ExecutionResponse
	log           log.Component
	clock         clock.Clock
	telemetry     TelemetryEmitter
	idleTTL       time.Duration
	pollInterval  time.Duration
	shutdownWait  time.Duration
}

// NewPool builds an empty Pool sharing the given request/response
// queues across every Executor it spawns.
func NewPool(requestQueue chan *agent.ExecutionRequest, responseQueue chan *agent.ExecutionResponse, logger log.Component, clk clock.Clock, telemetry TelemetryEmitter, idleTTL, pollInterval, shutdownWait time.Duration) *Pool {
	return &Pool{
		workers:       make(map[string]*Executor),
		requestQueue:  requestQueue,
		responseQueue: responseQueue,
		log:           logger,
		clock:         clk,
		telemetry:     telemetry,
		idleTTL:       idleTTL,
		pollInterval:  pollInterval,
		shutdownWait:  shutdownWait,
	}
}

// Count returns the number of live (not yet reaped) workers.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Resize reaps dead workers, then spawns or advisory-stops workers to
// bring the count of workers not already signalled to stop to ideal.
func (p *Pool) Resize(ideal int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reapLocked()

	current := 0
	for _, e := range p.workers {
		if e.shouldRun.Load() {
			current++
		}
	}
	if current < ideal {
		for i := 0; i < ideal-current; i++ {
			p.spawnLocked()
		}
		return
	}
	if current > ideal {
		for i := 0; i < current-ideal; i++ {
			p.stopOneLocked()
		}
	}
}

func (p *Pool) spawnLocked() {
	p.nextSuffix++
	name := "Executor_" + strconv.Itoa(p.nextSuffix)
	e := New(name, p.requestQueue, p.responseQueue, p.log, p.clock, p.telemetry, p.idleTTL, p.pollInterval)
	p.workers[name] = e
	go e.Run()
	p.log.Infof("executor pool: spawned %s", name)
}

// stopOneLocked signals the most-idle (not-currently-executing) worker
// to stop; if none are idle, it picks any non-stopping worker
// (deterministically, the lowest-numbered one, for test stability).
func (p *Pool) stopOneLocked() {
	names := make([]string, 0, len(p.workers))
	for name := range p.workers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := p.workers[name]
		if e.shouldRun.Load() && e.IsIdle() {
			e.Stop()
			p.log.Infof("executor pool: signalled idle worker %s to stop", name)
			return
		}
	}
	for _, name := range names {
		e := p.workers[name]
		if e.shouldRun.Load() {
			e.Stop()
			p.log.Infof("executor pool: signalled busy worker %s to stop", name)
			return
		}
	}
}

// reapLocked removes workers whose Run loop has already exited.
func (p *Pool) reapLocked() {
	for name, e := range p.workers {
		select {
		case <-e.Stopped():
			delete(p.workers, name)
		default:
		}
	}
}

// Stop signals every worker to stop, waits up to the pool's configured
// shutdown window for them to exit, and proceeds regardless (stop is
// advisory, per §5 cancellation model).
func (p *Pool) Stop() {
	p.mu.Lock()
	stopped := make([]<-chan struct{}, 0, len(p.workers))
	for _, e := range p.workers {
		e.Stop()
		stopped = append(stopped, e.Stopped())
	}
	p.mu.Unlock()

	deadline := p.clock.After(p.shutdownWait)
	for _, ch := range stopped {
		select {
		case <-ch:
		case <-deadline:
			p.log.Warnf("executor pool: shutdown wait elapsed with workers still running")
			return
		}
	}
}

// Names returns the current worker names, for status reporting and
// tests, sorted for determinism.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.workers))
	for name := range p.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HighestSuffix returns the highest numeric suffix among live worker
// names, used purely for diagnostics (Resize tracks nextSuffix itself
// so naming stays monotonic even across reaps).
func (p *Pool) HighestSuffix() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	max := 0
	for name := range p.workers {
		parts := strings.SplitN(name, "_", 2)
		if len(parts) != 2 {
			continue
		}
		if n, err := strconv.Atoi(parts[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}
