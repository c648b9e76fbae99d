// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventToWireRoundTripsThroughQueuedRecord(t *testing.T) {
	e := NewEvent("heartbeat", "agent_health", "host-1", map[string]interface{}{"ok": true})
	rec, err := e.toQueuedRecord()
	require.NoError(t, err)

	back, err := eventFromQueuedRecord(rec)
	require.NoError(t, err)

	assert.Equal(t, e.UUID, back.UUID)
	assert.Equal(t, e.Type, back.Type)
	assert.Equal(t, e.SubjectArea, back.SubjectArea)
	assert.Equal(t, e.Source, back.Source)
	assert.Equal(t, e.Produced.Unix(), back.Produced.Unix())
	assert.Equal(t, e.Data["ok"], back.Data["ok"])
}

func TestPaginateUnderLimitReturnsSingleEvent(t *testing.T) {
	e := NewEvent("small", "x", "host-1", map[string]interface{}{"a": 1})
	pages, err := Paginate(e, DefaultRecordSizeLimit, time.Now(), false)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Same(t, e, pages[0])
}

func TestPaginateOverLimitSplitsAndSharesParentUUID(t *testing.T) {
	data := map[string]interface{}{}
	for i := 0; i < 50; i++ {
		data[string(rune('a'+i%26))+string(rune('0'+i/26))] = make([]byte, 100)
	}
	e := NewEvent("big", "x", "host-1", data)
	pages, err := Paginate(e, 512, time.Now(), false)
	require.NoError(t, err)
	require.Greater(t, len(pages), 1)
	for i, p := range pages {
		assert.Equal(t, e.UUID, p.UUID)
		assert.Equal(t, i+1, p.CurrentPage)
		assert.Equal(t, len(pages), p.TotalPages)
	}
}

func TestSignRecordDeterministic(t *testing.T) {
	s1 := signRecord("host-1", "heartbeat", 100, "ZGF0YQ==")
	s2 := signRecord("host-1", "heartbeat", 100, "ZGF0YQ==")
	assert.Equal(t, s1, s2)
	s3 := signRecord("host-2", "heartbeat", 100, "ZGF0YQ==")
	assert.NotEqual(t, s1, s3)
}
