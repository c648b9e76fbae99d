// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/acme-corp/endpointd/pkg/log"
)

// Queue is the Telemetry Engine's in-memory FIFO. It is durable: Save
// serializes every queued event (base64+JSON) to a single file, Load
// reverses it. A corrupt individual record on load is logged and
// skipped, never fatal to the rest of the file (spec §4.5).
type Queue struct {
	mu     sync.Mutex
	items  []*Event
	log    log.Component
}

// NewQueue builds an empty Queue.
func NewQueue(logger log.Component) *Queue {
	return &Queue{log: logger}
}

// Push appends e to the tail.
func (q *Queue) Push(e *Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, e)
}

// PushFront re-inserts e at the head, used when a dispatch fails and
// the event must be retried ahead of newer arrivals (at-least-once).
func (q *Queue) PushFront(e *Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*Event{e}, q.items...)
}

// Pop removes and returns the head event, or nil if empty.
func (q *Queue) Pop() *Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Save drains the queue and writes every event, in order, to path as a
// single base64+JSON document.
func (q *Queue) Save(path string) error {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	records := make([]queuedRecord, 0, len(items))
	for _, e := range items {
		r, err := e.toQueuedRecord()
		if err != nil {
			q.log.Warnf("telemetry queue: dropping unserializable event %s on save: %v", e.UUID, err)
			continue
		}
		records = append(records, r)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal telemetry queue: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write telemetry queue file %s: %w", path, err)
	}
	return nil
}

// Load reads path (if present) and appends every valid record to the
// head of the queue in file order, preserving ordering (§8 round-trip
// law). Missing files are not an error (first boot).
func (q *Queue) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read telemetry queue file %s: %w", path, err)
	}

	var records []queuedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("unmarshal telemetry queue file %s: %w", path, err)
	}

	loaded := make([]*Event, 0, len(records))
	for _, r := range records {
		e, err := eventFromQueuedRecord(r)
		if err != nil {
			q.log.Warnf("telemetry queue: skipping corrupt record on load: %v", err)
			continue
		}
		loaded = append(loaded, e)
	}

	q.mu.Lock()
	q.items = append(loaded, q.items...)
	q.mu.Unlock()
	return nil
}
