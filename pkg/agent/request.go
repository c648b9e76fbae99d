// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionRequest is created by the Controller when a qualified Agent
// is to be executed. Agent is a deep copy so downstream mutation by an
// Executor never touches the canonical registry entry.
type ExecutionRequest struct {
	RequestUUID uuid.UUID
	Agent       *Agent
	Trigger     Trigger
	Data        map[string]interface{}
	Created     time.Time
}

// QueueID is the deduplication key for admission control:
// "{agent_identifier}.{trigger_kind(s)}".
func (r *ExecutionRequest) QueueID() string {
	return QueueID(r.Agent.Identifier, r.Trigger)
}

// QueueID builds the dedup key for an identifier/trigger pair without
// requiring a constructed request.
func QueueID(identifier string, trigger Trigger) string {
	return fmt.Sprintf("%s.%s", identifier, trigger.String())
}

// NewExecutionRequest builds a request carrying a deep copy of agent.
func NewExecutionRequest(a *Agent, trigger Trigger, data map[string]interface{}) *ExecutionRequest {
	return &ExecutionRequest{
		RequestUUID: uuid.New(),
		Agent:       a.DeepCopy(),
		Trigger:     trigger,
		Data:        data,
		Created:     time.Now(),
	}
}

// ExecutionResponse is emitted by an Executor before and after invoking
// the Agent's handler.
type ExecutionResponse struct {
	RequestUUID uuid.UUID
	QueueID     string
	Status      Status
	Agent       *Agent
	Responded   time.Time
}

// NewExecutionResponse builds a response carrying a deep copy of a.
func NewExecutionResponse(requestUUID uuid.UUID, queueID string, status Status, a *Agent) *ExecutionResponse {
	return &ExecutionResponse{
		RequestUUID: requestUUID,
		QueueID:     queueID,
		Status:      status,
		Agent:       a.DeepCopy(),
		Responded:   time.Now(),
	}
}
