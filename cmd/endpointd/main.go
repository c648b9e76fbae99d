// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Command endpointd is the daemon entrypoint: it wires config, logging,
// the State Probe, Qualifier-backed Controller, Executor Pool, and
// Telemetry Engine together and runs until asked to stop.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/acme-corp/endpointd/pkg/agent"
	"github.com/acme-corp/endpointd/pkg/config"
	"github.com/acme-corp/endpointd/pkg/executor"
	"github.com/acme-corp/endpointd/pkg/log"
	"github.com/acme-corp/endpointd/pkg/plugin"
	"github.com/acme-corp/endpointd/pkg/registry"
	"github.com/acme-corp/endpointd/pkg/runfile"
	"github.com/acme-corp/endpointd/pkg/state"
	"github.com/acme-corp/endpointd/pkg/telemetry"
)

var (
	flagConfigPath string
	flagForeground bool
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpointd",
		Short: "ACME endpoint management daemon",
		RunE: func(*cobra.Command, []string) error {
			return run()
		},
	}
	cmd.Flags().StringVarP(&flagConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&flagForeground, "foreground", false, "run without detaching (always true in this build)")
	return cmd
}

func run() error {
	cfg, err := loadConfig(flagConfigPath)
	if err != nil {
		return fmt.Errorf("endpointd: config: %w", err)
	}

	logger, err := log.New(os.Stderr, cfg.GetString("log_level"))
	if err != nil {
		// Logging setup failure maps to exit code 10 in the CLI front-end
		// contract (§6); this entrypoint just returns the error.
		return fmt.Errorf("endpointd: logging setup failed: %w", err)
	}
	defer logger.Flush()

	clk := clock.New()

	runPath := filepath.Join(cfg.GetString("run_dir"), "endpointd.run")
	if err := writeRunfile(runPath); err != nil {
		logger.Warnf("endpointd: could not write runfile: %v", err)
	}
	defer func() {
		if err := runfile.Remove(runPath); err != nil {
			logger.Warnf("endpointd: could not remove runfile: %v", err)
		}
	}()

	probe := state.New(noopSource{}, logger, cfg.GetDuration("state_probe_cache_ttl"))

	requestQueue := make(chan *agent.ExecutionRequest, 1000)
	responseQueue := make(chan *agent.ExecutionResponse, 1000)

	engine := telemetry.NewEngine(logger, clk, telemetry.Config{
		RetryFrequency:                 cfg.GetDuration("telemetry_retry_frequency"),
		MaxRetryFrequency:              cfg.GetDuration("telemetry_max_retry_frequency"),
		BackoffBase:                    cfg.GetFloat64("telemetry_backoff_base"),
		FailuresBeforeCredentialReload: cfg.GetInt("telemetry_failures_before_credential_reload"),
		BusyBeat:                       cfg.GetDuration("telemetry_dispatch_busy_beat"),
		IdleBeat:                       cfg.GetDuration("telemetry_dispatch_idle_beat"),
		Sign:                           cfg.GetBool("telemetry_sign_events"),
		RecordSizeLimit:                cfg.GetInt("telemetry_record_size_limit"),
		QueueStatePath:                 cfg.GetString("telemetry_queue_state_path"),
	})
	if err := engine.Load(); err != nil {
		logger.Warnf("endpointd: telemetry queue load failed: %v", err)
	}
	engine.Start()
	defer func() {
		engine.Stop()
		if err := engine.Save(); err != nil {
			logger.Errorf("endpointd: telemetry queue save failed: %v", err)
		}
	}()

	pool := executor.NewPool(requestQueue, responseQueue, logger, clk, engine,
		cfg.GetDuration("executor_idle_ttl"), cfg.GetDuration("executor_poll_interval"), time.Second)

	persister := &filePersister{stateDir: cfg.GetString("state_dir")}
	ctrl := registry.New(cfg, logger, probe, clk, requestQueue, responseQueue, pool, persister)

	loadPlugins(ctrl, logger, engine, cfg.GetString("manifest_dir"))

	ctrl.Start()
	defer ctrl.Stop()

	logger.Infof("endpointd: started, pid=%s", runfile.CurrentPID())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Infof("endpointd: shutdown signal received")
	return nil
}

func loadConfig(path string) (config.Component, error) {
	if path == "" {
		return config.New(), nil
	}
	return config.NewFromFile(path)
}

func writeRunfile(path string) error {
	user, err := runfile.CurrentUser()
	if err != nil {
		user = ""
	}
	return runfile.Write(path, runfile.Descriptor{
		Host: "127.0.0.1",
		Port: 0,
		Type: "unix",
		User: user,
		PID:  os.Getpid(),
	})
}

func loadPlugins(ctrl *registry.Controller, logger log.Component, engine *telemetry.Engine, manifestDir string) {
	results, event := plugin.Discover(manifestDir)
	for _, r := range results {
		if r.Err != nil {
			logger.Errorf("endpointd: plugin %s failed to load: %v", r.Manifest.Identifier, r.Err)
			continue
		}
		for _, a := range r.Agents {
			if err := a.CompileSiteRegexes(); err != nil {
				logger.Errorf("endpointd: agent %s: bad site pattern: %v", a.Identifier, err)
				continue
			}
			ctrl.Register(a)
		}
	}
	logger.Infof("endpointd: plugin load complete: %d succeeded, %d failed, took %s",
		event.Succeeded, event.Failed, event.Duration)

	engine.CommitEvent(telemetry.NewEvent("plugin.load", "plugin_management", "localhost", map[string]interface{}{
		"identifiers": event.Identifiers,
		"succeeded":   event.Succeeded,
		"failed":      event.Failed,
		"duration_ms": event.Duration.Milliseconds(),
	}))
}

// noopSource is the default State Probe backend when no platform
// integration is wired in; every accessor reports unknown, which the
// Probe tolerates by omitting the corresponding flag (spec §4.1).
type noopSource struct{}

func (noopSource) Online() (bool, error)               { return false, fmt.Errorf("not implemented") }
func (noopSource) OnDomain() (bool, error)              { return false, fmt.Errorf("not implemented") }
func (noopSource) OnVPN() (bool, error)                 { return false, fmt.Errorf("not implemented") }
func (noopSource) IdleMachine() (bool, error)           { return false, fmt.Errorf("not implemented") }
func (noopSource) NetworkSite() (string, error)         { return "", fmt.Errorf("not implemented") }
func (noopSource) ConsoleUser() (string, error)         { return "", fmt.Errorf("not implemented") }
func (noopSource) HardwareIdentifier() (string, error)  { return "", fmt.Errorf("not implemented") }
func (noopSource) Uptime() (time.Duration, error)       { return 0, fmt.Errorf("not implemented") }
func (noopSource) LastLoginTimes() ([]time.Time, error) { return nil, fmt.Errorf("not implemented") }

// filePersister writes an Agent's state document to
// <state_dir>/<identifier>.json, per spec §6.
type filePersister struct {
	stateDir string
}

func (p *filePersister) PersistState(a *agent.Agent) error {
	raw, err := agent.ToJSON(a, agent.StateDescriptors())
	if err != nil {
		return fmt.Errorf("persist %s: %w", a.Identifier, err)
	}
	dir := p.stateDir
	path := filepath.Join(dir, a.Identifier+".json")
	if a.NeedsStateDir {
		dir = filepath.Join(p.stateDir, a.Identifier)
		path = filepath.Join(dir, a.Identifier+".json")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist %s: %w", a.Identifier, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("persist %s: %w", a.Identifier, err)
	}
	return nil
}
