// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"fmt"
	"sync"
)

// Delegate is one candidate sink a Dispatcher can hand an Event to,
// e.g. "commit directly to the local Engine's queue" or "push onto the
// IPC event queue toward the Controller process".
type Delegate func(e *Event) error

// Dispatcher is a lightweight fan-out object used by Executors running
// in a separate process to inject events back through an IPC queue
// toward the Controller's Telemetry Engine (spec §4.5 "Dispatcher
// (proxy)"). Dispatch tries the delegates in order and stops at the
// first success; if none succeed the last error is returned.
type Dispatcher struct {
	mu        sync.RWMutex
	delegates []Delegate
}

// NewDispatcher builds an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register appends a delegate.
func (d *Dispatcher) Register(delegate Delegate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delegates = append(d.delegates, delegate)
}

// IsConfigured reports whether at least one delegate is registered.
func (d *Dispatcher) IsConfigured() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.delegates) > 0
}

// Dispatch tries delegates in registration order, returning nil on the
// first success without calling the rest. If none succeed, it returns
// the last error encountered; if none are registered, it returns an
// error saying so.
func (d *Dispatcher) Dispatch(e *Event) error {
	d.mu.RLock()
	delegates := append([]Delegate(nil), d.delegates...)
	d.mu.RUnlock()

	if len(delegates) == 0 {
		return fmt.Errorf("telemetry dispatcher: no delegates registered")
	}

	var lastErr error
	for _, delegate := range delegates {
		if err := delegate(e); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("telemetry dispatcher: all delegates failed: %w", lastErr)
}
