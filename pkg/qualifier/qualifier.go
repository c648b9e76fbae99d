// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package qualifier implements the pure decision function from (Agent,
// context) to a qualification verdict. Nothing here touches I/O, a
// clock other than the one passed in, or global state: every check is
// independently evaluated so a caller can see every reason an Agent
// failed, not just the first.
package qualifier

import (
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/acme-corp/endpointd/pkg/agent"
)

// Result is a bitmask of failure reasons. Zero means QUALIFIED.
type Result uint16

const (
	FailTrigger Result = 1 << iota
	FailPrerequisites
	FailSiteInclude
	FailSiteExclude
	FailProbability
	FailMaxFrequency
	FailExecutionLimits
	FailMaintenanceWindow
)

// Qualified reports whether r represents a fully qualified Agent.
func (r Result) Qualified() bool { return r == 0 }

// Has reports whether r contains every flag in mask.
func (r Result) Has(mask Result) bool { return r&mask == mask }

// diceRoller abstracts the probability draw so tests can inject a
// deterministic source; production code uses math/rand.
type diceRoller func() int

var defaultRoller diceRoller = func() int { return rand.Intn(1000) + 1 }

// Qualify evaluates every ordered check in spec order and returns the
// union of all failures. trigger == 0 means "no trigger check", used
// for scheduled sweeps that qualify on state/probability/limits alone.
func Qualify(a *agent.Agent, trigger agent.Trigger, data map[string]interface{}, state agent.StateFlag, site string, now time.Time) Result {
	return qualify(a, trigger, data, state, site, now, defaultRoller)
}

func qualify(a *agent.Agent, trigger agent.Trigger, _ map[string]interface{}, state agent.StateFlag, site string, now time.Time, roll diceRoller) Result {
	var result Result

	// 1. Trigger match.
	if trigger != 0 && !a.Triggers.Has(trigger) {
		result |= FailTrigger
	}

	// 2. Prerequisites.
	if !state.Has(a.Prerequisites) {
		result |= FailPrerequisites
	}

	// 3. Site include/exclude — exclude wins ties.
	if !siteIncluded(a, site) {
		result |= FailSiteInclude
	}
	if siteExcluded(a, site) {
		result |= FailSiteExclude
	}

	// 4. Probability.
	if a.RunProbability >= 1 && a.RunProbability <= 999 {
		r := roll()
		if a.RunProbability < r {
			result |= FailProbability
		}
	}

	// 5. Max frequency.
	if a.MaxRunFrequency > 0 {
		last := lastExecution(a)
		if last != nil && !now.After(last.Add(a.MaxRunFrequency)) {
			result |= FailMaxFrequency
		}
	}

	// 6. Execution limits.
	if a.ExecutionLimits.Has(agent.LimitRunOnce) && lastExecution(a) != nil {
		result |= FailExecutionLimits
	}
	if a.ExecutionLimits.Has(agent.LimitSucceedOnce) && lastExecutionStatus(a) == agent.ExecutionSuccess {
		result |= FailExecutionLimits
	}

	// [ADDED] Maintenance window.
	if inMaintenanceWindow(a, now) {
		result |= FailMaintenanceWindow
	}

	return result
}

func siteIncluded(a *agent.Agent, site string) bool {
	if len(a.SiteIncludes) == 0 {
		return true
	}
	if site == "" {
		return false
	}
	for _, s := range a.SiteIncludes {
		if s == site {
			return true
		}
	}
	if a.SiteIncludeRegex != nil && a.SiteIncludeRegex.MatchString(site) {
		return true
	}
	return false
}

func siteExcluded(a *agent.Agent, site string) bool {
	if site == "" {
		return false
	}
	for _, s := range a.SiteExcludes {
		if s == site {
			return true
		}
	}
	if a.SiteExcludeRegex != nil && a.SiteExcludeRegex.MatchString(site) {
		return true
	}
	return false
}

func inMaintenanceWindow(a *agent.Agent, now time.Time) bool {
	mw := a.MaintenanceWindow
	if mw == nil || mw.Schedule == "" {
		return false
	}
	schedule, err := cron.ParseStandard(mw.Schedule)
	if err != nil {
		return false
	}
	// Find the most recent scheduled occurrence at or before now by
	// walking forward from a lower bound seven days back (cron only
	// exposes Next); an occurrence older than that is not found.
	probe := now.Add(-7 * 24 * time.Hour)
	var last time.Time
	for {
		next := schedule.Next(probe)
		if next.After(now) {
			break
		}
		last = next
		probe = next
	}
	if last.IsZero() {
		return false
	}
	return now.Before(last.Add(mw.Duration))
}

// QualifiesForScheduledRun reports whether a scheduled sweep should
// enqueue a, independent of Qualify: true when last_execution is unset
// or the elapsed time since reaches run_frequency plus the current
// random skew draw.
func QualifiesForScheduledRun(a *agent.Agent, now time.Time) bool {
	last := lastExecution(a)
	if last == nil {
		return true
	}
	due := last.Add(a.RunFrequency).Add(a.RandomSkew)
	return !now.Before(due)
}

func lastExecution(a *agent.Agent) *time.Time {
	// Agent guards LastExecution with its own internal lock; expose a
	// read through the same snapshot the rest of the package already
	// takes deep copies through. Qualify always receives either the
	// canonical Agent (registry lock held by caller) or a deep copy, so
	// a direct field read here is safe: deep copies are never mutated
	// concurrently with qualification.
	return a.LastExecution
}

func lastExecutionStatus(a *agent.Agent) agent.ExecutionStatus {
	return a.LastExecutionStatus
}
