// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config wraps viper with the typed-getter surface the rest of
// the core depends on, and seeds the defaults the scheduler, executor
// pool, and telemetry engine rely on when a deployment doesn't override
// them.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Component is the configuration surface every core subsystem takes.
type Component interface {
	GetString(key string) string
	GetInt(key string) int
	GetFloat64(key string) float64
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	GetStringSlice(key string) []string
	Set(key string, value interface{})
}

type viperConfig struct {
	v *viper.Viper
}

var _ Component = (*viperConfig)(nil)

// New returns a Component with every daemon default pre-populated.
// NewFromFile builds the same defaults with a YAML file layered over
// them; Set overrides individual keys at runtime.
func New() Component {
	v := viper.New()
	setDefaults(v)
	return &viperConfig{v: v}
}

// NewFromFile loads path (YAML) over the defaults.
func NewFromFile(path string) (Component, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return &viperConfig{v: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler_sweep_interval", 500*time.Millisecond)
	v.SetDefault("requeue_threshold", 10*time.Minute)
	v.SetDefault("execution_sla", 15*time.Second)
	v.SetDefault("max_executors", 16)
	v.SetDefault("executor_idle_ttl", 60*time.Second)
	v.SetDefault("executor_poll_interval", 500*time.Millisecond)
	v.SetDefault("response_drain_batch", 25)
	v.SetDefault("proxy_drain_batch", 25)
	v.SetDefault("state_probe_cache_ttl", 2*time.Second)

	v.SetDefault("telemetry_retry_frequency", time.Minute)
	v.SetDefault("telemetry_max_retry_frequency", time.Hour)
	v.SetDefault("telemetry_backoff_base", 2.0)
	v.SetDefault("telemetry_failures_before_credential_reload", 10)
	v.SetDefault("telemetry_record_size_limit", 51000)
	v.SetDefault("telemetry_queue_state_path", "/var/lib/endpointd/telemetry_queue.json")
	v.SetDefault("telemetry_dispatch_busy_beat", 200*time.Millisecond)
	v.SetDefault("telemetry_dispatch_idle_beat", time.Second)
	v.SetDefault("telemetry_sign_events", false)

	v.SetDefault("state_dir", "/var/lib/endpointd/state")
	v.SetDefault("manifest_dir", "/etc/endpointd/manifests")
	v.SetDefault("plugin_dir", "/opt/endpointd/plugins")
	v.SetDefault("run_dir", "/var/run/endpointd")

	v.SetDefault("log_level", "info")
}

func (c *viperConfig) GetString(key string) string           { return c.v.GetString(key) }
func (c *viperConfig) GetInt(key string) int                 { return c.v.GetInt(key) }
func (c *viperConfig) GetFloat64(key string) float64         { return c.v.GetFloat64(key) }
func (c *viperConfig) GetBool(key string) bool                { return c.v.GetBool(key) }
func (c *viperConfig) GetDuration(key string) time.Duration  { return c.v.GetDuration(key) }
func (c *viperConfig) GetStringSlice(key string) []string    { return c.v.GetStringSlice(key) }
func (c *viperConfig) Set(key string, value interface{})     { c.v.Set(key, value) }
