// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherIsConfigured(t *testing.T) {
	d := NewDispatcher()
	assert.False(t, d.IsConfigured())
	d.Register(func(*Event) error { return nil })
	assert.True(t, d.IsConfigured())
}

func TestDispatcherFirstSuccessWins(t *testing.T) {
	d := NewDispatcher()
	var calls []int
	d.Register(func(*Event) error { calls = append(calls, 1); return errors.New("down") })
	d.Register(func(*Event) error { calls = append(calls, 2); return nil })
	d.Register(func(*Event) error { calls = append(calls, 3); return nil })

	err := d.Dispatch(NewEvent("t", "s", "host", nil))
	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2}, calls)
}

func TestDispatcherAllFailReturnsLastError(t *testing.T) {
	d := NewDispatcher()
	d.Register(func(*Event) error { return errors.New("first") })
	d.Register(func(*Event) error { return errors.New("second") })

	err := d.Dispatch(NewEvent("t", "s", "host", nil))
	assert.ErrorContains(t, err, "second")
}

func TestDispatcherNoDelegatesIsAnError(t *testing.T) {
	d := NewDispatcher()
	err := d.Dispatch(NewEvent("t", "s", "host", nil))
	assert.Error(t, err)
}
