// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingPublisher struct {
	events []*Event
}

func (r *recordingPublisher) Publish(e *Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestRouterRoutesToRegisteredPublisher(t *testing.T) {
	fallback := &recordingPublisher{}
	specific := &recordingPublisher{}
	r := NewRouter(fallback)
	r.Register("security", "password_rotation", specific)

	e := NewEvent("password_rotation", "security", "host", nil)
	a := assert.New(t)
	a.NoError(r.RouteEvent(e))
	a.Len(specific.events, 1)
	a.Len(fallback.events, 0)
}

func TestRouterFallsBackWhenNoSpecificRoute(t *testing.T) {
	fallback := &recordingPublisher{}
	r := NewRouter(fallback)
	e := NewEvent("heartbeat", "agent_health", "host", nil)
	assert.NoError(t, r.RouteEvent(e))
	assert.Len(t, fallback.events, 1)
}

func TestRouterNoDefaultIsAnError(t *testing.T) {
	r := NewRouter(nil)
	err := r.RouteEvent(NewEvent("t", "s", "host", nil))
	assert.Error(t, err)
}

func TestRouterDefaultLoaded(t *testing.T) {
	r := NewRouter(nil)
	assert.False(t, r.DefaultLoaded())
	r.SetDefault(&recordingPublisher{})
	assert.True(t, r.DefaultLoaded())
}
