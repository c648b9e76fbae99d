// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package state implements the State Probe: a read-only façade over
// current host conditions. Every accessor tolerates failure by
// omitting the corresponding flag rather than lying about it, and
// caches expensive calls so a scheduler sweep over thousands of agents
// never re-invokes the underlying platform call more than once per TTL
// window.
package state

import (
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/acme-corp/endpointd/pkg/agent"
	"github.com/acme-corp/endpointd/pkg/log"
)

// Source is the narrow platform-interrogation seam the probe consumes.
// A real daemon backs this with systemprofile/gopsutil-style platform
// calls; the core only depends on this interface (out of scope per
// spec.md §1).
type Source interface {
	Online() (bool, error)
	OnDomain() (bool, error)
	OnVPN() (bool, error)
	IdleMachine() (bool, error)
	NetworkSite() (string, error)
	ConsoleUser() (string, error)
	HardwareIdentifier() (string, error)
	Uptime() (time.Duration, error)
	LastLoginTimes() ([]time.Time, error)
}

const (
	keyOnline      = "online"
	keyOnDomain    = "on_domain"
	keyOnVPN       = "on_vpn"
	keyIdle        = "idle"
	keySite        = "site"
	keyUser        = "user"
	keyHardwareID  = "hardware_id"
	keyUptime      = "uptime"
	keyLastLogins  = "last_logins"
)

// Probe is the Component every caller (the Controller, primarily)
// depends on.
type Probe struct {
	source Source
	log    log.Component
	cache  *cache.Cache
	mu     sync.Mutex
}

// New builds a Probe backed by source, caching each accessor's result
// for ttl.
func New(source Source, logger log.Component, ttl time.Duration) *Probe {
	return &Probe{
		source: source,
		log:    logger,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// CompositeState snapshots the current composite host-state bitmask.
// Unknown flags (probe failure) are simply omitted; the probe never
// blocks beyond the underlying Source call (which callers are expected
// to keep fast, or which this cache absorbs).
func (p *Probe) CompositeState() agent.StateFlag {
	var flags agent.StateFlag

	if online, ok := p.cachedBool(keyOnline, p.source.Online); ok {
		if online {
			flags |= agent.StateOnline
		} else {
			flags |= agent.StateOffline
		}
	}
	if onDomain, ok := p.cachedBool(keyOnDomain, p.source.OnDomain); ok {
		if onDomain {
			flags |= agent.StateOnDomain
		} else {
			flags |= agent.StateOffDomain
		}
	}
	if onVPN, ok := p.cachedBool(keyOnVPN, p.source.OnVPN); ok {
		if onVPN {
			flags |= agent.StateOnVPN
		} else {
			flags |= agent.StateOffVPN
		}
	}
	if idle, ok := p.cachedBool(keyIdle, p.source.IdleMachine); ok && idle {
		flags |= agent.StateIdleMachine
	}
	return flags
}

// NetworkSite returns the current network-site descriptor, or "" if
// unknown.
func (p *Probe) NetworkSite() string {
	return p.cachedString(keySite, p.source.NetworkSite)
}

// ConsoleUser returns the current console user, or "" if unknown.
func (p *Probe) ConsoleUser() string {
	return p.cachedString(keyUser, p.source.ConsoleUser)
}

// HardwareIdentifier returns the current hardware identifier, or "" if
// unknown.
func (p *Probe) HardwareIdentifier() string {
	return p.cachedString(keyHardwareID, p.source.HardwareIdentifier)
}

// Uptime returns system uptime, or 0 if unknown.
func (p *Probe) Uptime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache.Get(keyUptime); ok {
		return v.(time.Duration)
	}
	d, err := p.source.Uptime()
	if err != nil {
		p.log.Debugf("state probe: uptime unavailable: %v", err)
		return 0
	}
	p.cache.SetDefault(keyUptime, d)
	return d
}

// LastLoginTimes returns the most recent login timestamps, or nil if
// unknown.
func (p *Probe) LastLoginTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache.Get(keyLastLogins); ok {
		return v.([]time.Time)
	}
	logins, err := p.source.LastLoginTimes()
	if err != nil {
		p.log.Debugf("state probe: last login times unavailable: %v", err)
		return nil
	}
	p.cache.SetDefault(keyLastLogins, logins)
	return logins
}

func (p *Probe) cachedBool(key string, fn func() (bool, error)) (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache.Get(key); ok {
		return v.(bool), true
	}
	val, err := fn()
	if err != nil {
		p.log.Debugf("state probe: %s unavailable: %v", key, err)
		return false, false
	}
	p.cache.SetDefault(key, val)
	return val, true
}

func (p *Probe) cachedString(key string, fn func() (string, error)) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache.Get(key); ok {
		return v.(string)
	}
	val, err := fn()
	if err != nil {
		p.log.Debugf("state probe: %s unavailable: %v", key, err)
		return ""
	}
	p.cache.SetDefault(key, val)
	return val
}
