// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package agent

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestQueueIDFormat(t *testing.T) {
	assert.Equal(t, "com.acme.a1.startup", QueueID("com.acme.a1", TriggerStartup))
	assert.Equal(t, "com.acme.a1.none", QueueID("com.acme.a1", 0))
}

func TestNewExecutionRequestDeepCopiesAgent(t *testing.T) {
	a := New("com.acme.a1", "A1", nopHandler{})
	req := NewExecutionRequest(a, TriggerStartup, map[string]interface{}{"k": "v"})

	assert.NotSame(t, a, req.Agent)
	assert.Equal(t, a.Identifier, req.Agent.Identifier)
	assert.Equal(t, "com.acme.a1.startup", req.QueueID())
}

func TestNewExecutionResponseDeepCopiesAgent(t *testing.T) {
	a := New("com.acme.a1", "A1", nopHandler{})
	resp := NewExecutionResponse(uuid.New(), "com.acme.a1.startup", StatusIdle, a)

	assert.NotSame(t, a, resp.Agent)
	assert.Equal(t, StatusIdle, resp.Status)
}
