// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeedsDefaults(t *testing.T) {
	c := New()
	assert.Equal(t, 500*time.Millisecond, c.GetDuration("scheduler_sweep_interval"))
	assert.Equal(t, 16, c.GetInt("max_executors"))
	assert.Equal(t, "info", c.GetString("log_level"))
}

func TestNewFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpointd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_executors: 4\nlog_level: debug\n"), 0o644))

	c, err := NewFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, c.GetInt("max_executors"))
	assert.Equal(t, "debug", c.GetString("log_level"))
	// Unrelated defaults survive the overlay.
	assert.Equal(t, 25, c.GetInt("response_drain_batch"))
}

func TestNewFromFileMissingFileIsAnError(t *testing.T) {
	_, err := NewFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSetOverridesAtRuntime(t *testing.T) {
	c := New()
	c.Set("max_executors", 1)
	assert.Equal(t, 1, c.GetInt("max_executors"))
}
