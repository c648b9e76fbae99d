// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package agent holds the core data model: Agent, its execution
// request/response envelopes, and the descriptor-based serializer that
// round-trips the persistent subset of an Agent's fields to JSON.
package agent

import (
	"math/rand"
	"regexp"
	"sync"
	"time"
)

// Handler is the contract a plugin-provided unit of work must
// implement. Load/Unload bracket the Agent's lifetime in the registry;
// Execute performs the actual work. A panic inside Execute is caught
// by the Executor and mapped to ExecutionFatal, never propagated.
type Handler interface {
	Load() error
	Unload() error
	Execute(trigger Trigger, data map[string]interface{}) error
}

// Agent is a unit of work qualified and dispatched by the Controller.
// Identifier is immutable for the Agent's life (invariant 1); exactly
// one instance per identifier is registered at a time (invariant 2).
type Agent struct {
	// Immutable identity.
	Identifier string
	Name       string
	Version    string

	// Scheduling policy, read-only after construction except where the
	// Qualifier/Controller note otherwise.
	Priority             Priority
	Triggers             Trigger
	Prerequisites        StateFlag
	ExecutionLimits      ExecutionLimit
	RunFrequency         time.Duration
	RunFrequencySkew     time.Duration
	MinRunFrequency      time.Duration
	MaxRunFrequency      time.Duration
	RunProbability       int // 0-1000
	SiteIncludes         []string
	SiteExcludes         []string
	SiteIncludeRegex     *regexp.Regexp
	SiteExcludeRegex     *regexp.Regexp
	MaintenanceWindow    *MaintenanceWindow
	NeedsStateDir        bool
	UseLock              bool

	// Mutable, persisted fields (invariant 4). Guarded by mu so a
	// concurrent Controller read (for a deep copy) never observes a
	// torn update from the owning Executor.
	mu                sync.Mutex
	Status            Status
	RandomSkew        time.Duration
	LastExecution     *time.Time
	LastExecutionStatus ExecutionStatus

	// Handler is the plugin-supplied work function. Deep copies share
	// the same Handler reference: the handler itself is trusted plugin
	// code and is not part of the serialized state.
	Handler Handler

	// mutex is the per-agent execution lock referenced by UseLock. It
	// is allocated once at construction and shared across all copies
	// of the same logical Agent so that concurrent Executors serialize
	// on it regardless of which deep copy they were handed.
	mutex *sync.Mutex
}

// New constructs an Agent with its optional execution mutex allocated
// up front so deep copies can share it.
func New(identifier, name string, handler Handler) *Agent {
	return &Agent{
		Identifier: identifier,
		Name:       name,
		Handler:    handler,
		Status:     StatusIdle,
		mutex:      &sync.Mutex{},
	}
}

// Mutex returns the Agent's execution mutex, or nil if UseLock is
// false.
func (a *Agent) Mutex() *sync.Mutex {
	if !a.UseLock {
		return nil
	}
	return a.mutex
}

// GetStatus reads Status under the internal lock.
func (a *Agent) GetStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Status
}

// SetStatus writes Status under the internal lock.
func (a *Agent) SetStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Status = s
}

// RecordExecution updates the persisted execution-outcome fields and
// re-rolls RandomSkew, as done unconditionally by the Executor after
// every run (step 7 of the executor loop).
func (a *Agent) RecordExecution(when time.Time, status ExecutionStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LastExecution = &when
	a.LastExecutionStatus = status
	a.RandomSkew = rollSkew(a.RunFrequencySkew)
}

// MarkFatal records a failed-to-run outcome (e.g. a queue-admission
// rejection) without touching LastExecution or RandomSkew: the agent
// never actually ran, so none of the run-accounting fields that imply
// it did may change.
func (a *Agent) MarkFatal(status ExecutionStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LastExecutionStatus = status
}

// rollSkew draws a uniform jitter in [-skew/2, +skew/2].
func rollSkew(skew time.Duration) time.Duration {
	if skew <= 0 {
		return 0
	}
	half := float64(skew) / 2
	return time.Duration(-half + rand.Float64()*float64(skew))
}

// DeepCopy returns an isolated copy of the Agent for handing to an
// Executor or embedding in a request/response: mutation downstream
// must never be visible to the canonical registry copy. The Handler and
// mutex are shared by reference (trusted plugin code, and the
// correctness-critical synchronization primitive respectively); every
// other field is copied by value, and slices are cloned.
func (a *Agent) DeepCopy() *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()

	cp := &Agent{
		Identifier:          a.Identifier,
		Name:                a.Name,
		Version:             a.Version,
		Priority:            a.Priority,
		Triggers:            a.Triggers,
		Prerequisites:       a.Prerequisites,
		ExecutionLimits:     a.ExecutionLimits,
		RunFrequency:        a.RunFrequency,
		RunFrequencySkew:    a.RunFrequencySkew,
		MinRunFrequency:     a.MinRunFrequency,
		MaxRunFrequency:     a.MaxRunFrequency,
		RunProbability:      a.RunProbability,
		SiteIncludeRegex:    a.SiteIncludeRegex,
		SiteExcludeRegex:    a.SiteExcludeRegex,
		MaintenanceWindow:   a.MaintenanceWindow,
		NeedsStateDir:       a.NeedsStateDir,
		UseLock:             a.UseLock,
		Status:              a.Status,
		RandomSkew:          a.RandomSkew,
		LastExecutionStatus: a.LastExecutionStatus,
		Handler:             a.Handler,
		mutex:               a.mutex,
	}
	if a.LastExecution != nil {
		t := *a.LastExecution
		cp.LastExecution = &t
	}
	cp.SiteIncludes = append([]string(nil), a.SiteIncludes...)
	cp.SiteExcludes = append([]string(nil), a.SiteExcludes...)
	return cp
}

// MergePersistedFields copies the persisted (state) fields of prior
// onto a, used by the Loader when a re-scanned plugin replaces an
// already-registered Agent: the new instance carries the old one's
// execution history forward. Status is forced to IDLE regardless of
// what prior held, per the load-time invariant.
func (a *Agent) MergePersistedFields(prior *Agent) {
	prior.mu.Lock()
	name := prior.Name
	randomSkew := prior.RandomSkew
	var lastExecution *time.Time
	if prior.LastExecution != nil {
		t := *prior.LastExecution
		lastExecution = &t
	}
	lastStatus := prior.LastExecutionStatus
	prior.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Name = name
	a.RandomSkew = randomSkew
	a.LastExecution = lastExecution
	a.LastExecutionStatus = lastStatus
	a.Status = StatusIdle
}

// MaintenanceWindow describes a recurring blackout period during which
// the Qualifier fails an Agent regardless of other checks.
type MaintenanceWindow struct {
	// Schedule is a standard 5-field cron expression marking the start
	// of each window.
	Schedule string
	Duration time.Duration
}
