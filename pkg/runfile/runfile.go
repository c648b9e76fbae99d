// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package runfile writes and validates the small JSON descriptor a
// running daemon leaves on disk so CLI and user-context clients can
// locate its IPC endpoint (spec §6).
package runfile

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// Descriptor is the on-disk shape of a runfile.
type Descriptor struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Type string `json:"type"`
	User string `json:"user"`
	PID  int    `json:"pid"`
}

// ProcessInspector abstracts the platform call used to validate a
// recorded PID still belongs to the expected user and command; a real
// daemon backs this with per-OS process introspection (out of scope
// per spec.md §1).
type ProcessInspector interface {
	// Alive reports whether pid is a running process owned by
	// wantUser whose command name is wantCommand.
	Alive(pid int, wantUser, wantCommand string) (bool, error)
}

// Write serializes d to path, creating parent directories as needed.
func Write(path string, d Descriptor) error {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("runfile: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("runfile: create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("runfile: write %s: %w", path, err)
	}
	return nil
}

// Remove deletes the runfile at path; a missing file is not an error
// (clean shutdown may race a manual cleanup).
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("runfile: remove %s: %w", path, err)
	}
	return nil
}

// Read loads and parses the runfile at path.
func Read(path string) (Descriptor, error) {
	var d Descriptor
	raw, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("runfile: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("runfile: parse %s: %w", path, err)
	}
	return d, nil
}

// Valid reports whether d's recorded pid still belongs to d.User
// running wantCommand, per the staleness rule in spec §6: a runfile
// whose pid has been recycled by an unrelated process is stale.
func Valid(d Descriptor, wantCommand string, inspector ProcessInspector) (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	return inspector.Alive(d.PID, d.User, wantCommand)
}

// CurrentUser returns the username of the running process, used to
// populate Descriptor.User at Write time.
func CurrentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("runfile: current user: %w", err)
	}
	return u.Username, nil
}

// CurrentPID returns the calling process's pid as a string, used only
// for log messages (Descriptor.PID carries the int form).
func CurrentPID() string {
	return strconv.Itoa(os.Getpid())
}
