// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build test

// Package logmock provides an in-memory log.Component for tests that
// want to assert on emitted messages without standing up seelog.
package logmock

import (
	"fmt"
	"sync"
	"testing"

	"github.com/acme-corp/endpointd/pkg/log"
)

// Mock records every message passed to it, keyed by level.
type Mock struct {
	mu       sync.Mutex
	Messages []Entry
}

// Entry is one recorded log line.
type Entry struct {
	Level   string
	Message string
}

var _ log.Component = (*Mock)(nil)

// New returns a Mock registered for cleanup with t.
func New(t *testing.T) *Mock {
	m := &Mock{}
	t.Cleanup(func() {})
	return m
}

func (m *Mock) record(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, Entry{Level: level, Message: msg})
}

func (m *Mock) Debugf(format string, args ...interface{}) { m.record("debug", fmt.Sprintf(format, args...)) }
func (m *Mock) Infof(format string, args ...interface{})  { m.record("info", fmt.Sprintf(format, args...)) }
func (m *Mock) Warnf(format string, args ...interface{})  { m.record("warn", fmt.Sprintf(format, args...)) }
func (m *Mock) Errorf(format string, args ...interface{}) { m.record("error", fmt.Sprintf(format, args...)) }
func (m *Mock) Debug(args ...interface{})                 { m.record("debug", fmt.Sprint(args...)) }
func (m *Mock) Info(args ...interface{})                  { m.record("info", fmt.Sprint(args...)) }
func (m *Mock) Warn(args ...interface{})                  { m.record("warn", fmt.Sprint(args...)) }
func (m *Mock) Error(args ...interface{})                 { m.record("error", fmt.Sprint(args...)) }
func (m *Mock) Flush()                                    {}

// Count returns the number of recorded entries at the given level.
func (m *Mock) Count(level string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Messages {
		if e.Level == level {
			n++
		}
	}
	return n
}
