// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package plugin discovers Agents from a plugin directory. A real
// daemon's plugins are trusted, signed Go code registered in an
// in-process catalog; this package reads the on-disk manifest that
// accompanies each plugin entry for its identifier, version, and
// entrypoint, and reports per-entry load outcomes so the daemon's
// plugin loader (cmd/endpointd) can emit a PluginLoadEvent.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acme-corp/endpointd/pkg/agent"
)

// AgentManifest is the on-disk descriptor the Loader reads per plugin
// directory entry.
type AgentManifest struct {
	Identifier string `yaml:"identifier"`
	Version    string `yaml:"version"`
	Entrypoint string `yaml:"entrypoint"`
}

// Factory builds the Agent(s) a manifest entry contributes. Real
// plugins register a Factory under their entrypoint name at init time;
// the discovery pass below only resolves manifests against the
// registered catalog and never loads code dynamically (Go has no
// story for that as convenient as the source language's).
type Factory func(m AgentManifest) ([]*agent.Agent, error)

var catalog = map[string]Factory{}

// Register installs a Factory under entrypoint, called from a
// plugin's init().
func Register(entrypoint string, f Factory) {
	catalog[entrypoint] = f
}

// EntryResult is the per-manifest outcome of one discovery pass,
// aggregated by the caller into a PluginLoadEvent.
type EntryResult struct {
	Manifest AgentManifest
	Agents   []*agent.Agent
	Err      error
}

// LoadEvent summarizes one full discovery pass, mirroring the
// PluginLoadEvent described in spec §4.3: identifier list, load
// duration, and success/failure counts.
type LoadEvent struct {
	Identifiers []string
	Duration    time.Duration
	Succeeded   int
	Failed      int
}

// Discover walks dir for `*.yaml` manifests, resolves each against the
// registered Factory catalog, and returns every entry's outcome plus a
// summary LoadEvent. A single bad manifest is logged by the caller and
// does not abort the rest of the walk.
func Discover(dir string) ([]EntryResult, LoadEvent) {
	start := time.Now()
	var results []EntryResult
	event := LoadEvent{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, LoadEvent{Duration: time.Since(start)}
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		m, agents, err := loadOne(path)
		results = append(results, EntryResult{Manifest: m, Agents: agents, Err: err})
		if err != nil {
			event.Failed++
			continue
		}
		event.Succeeded++
		event.Identifiers = append(event.Identifiers, m.Identifier)
	}

	event.Duration = time.Since(start)
	return results, event
}

func loadOne(path string) (AgentManifest, []*agent.Agent, error) {
	var m AgentManifest
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, nil, fmt.Errorf("plugin: parse %s: %w", path, err)
	}
	if m.Identifier == "" {
		return m, nil, fmt.Errorf("plugin: %s missing identifier", path)
	}
	factory, ok := catalog[m.Entrypoint]
	if !ok {
		return m, nil, fmt.Errorf("plugin: %s: no factory registered for entrypoint %q", path, m.Entrypoint)
	}
	agents, err := factory(m)
	if err != nil {
		return m, nil, fmt.Errorf("plugin: %s: factory failed: %w", path, err)
	}
	return m, agents, nil
}
