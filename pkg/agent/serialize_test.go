// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Round-trip law: Agent.to_dict() ∘ Agent.load_dict() is identity on
// the declared key set.
func TestStateDescriptorsRoundTrip(t *testing.T) {
	a := New("com.acme.a1", "A1", nopHandler{})
	when := time.Unix(1700000000, 0).UTC()
	a.RandomSkew = 3 * time.Second
	a.LastExecution = &when
	a.LastExecutionStatus = ExecutionError

	doc := ToDict(a, StateDescriptors())

	loaded := New("", "", nil)
	require.NoError(t, LoadDict(loaded, StateDescriptors(), doc))

	assert.Equal(t, a.Identifier, loaded.Identifier)
	assert.Equal(t, a.Name, loaded.Name)
	assert.Equal(t, a.RandomSkew, loaded.RandomSkew)
	assert.Equal(t, a.LastExecutionStatus, loaded.LastExecutionStatus)
	require.NotNil(t, loaded.LastExecution)
	assert.True(t, a.LastExecution.Equal(*loaded.LastExecution))
}

func TestSettingsDescriptorsRoundTrip(t *testing.T) {
	a := New("com.acme.a1", "A1", nopHandler{})
	a.Priority = PriorityHigh
	a.Triggers = TriggerStartup | TriggerScheduled
	a.Prerequisites = StateOnline
	a.ExecutionLimits = LimitRunOnce
	a.RunFrequency = time.Hour
	a.RunFrequencySkew = time.Minute
	a.RunProbability = 500
	a.SiteIncludes = []string{"NA-*"}
	a.SiteExcludes = []string{"NA-SEA-*"}
	a.UseLock = true
	a.NeedsStateDir = true
	a.Version = "1.2.3"

	doc := ToJSONThenBack(t, a)

	loaded := New("", "", nil)
	require.NoError(t, LoadDict(loaded, SettingsDescriptors(), doc))

	assert.Equal(t, a.Priority, loaded.Priority)
	assert.Equal(t, a.Triggers, loaded.Triggers)
	assert.Equal(t, a.Prerequisites, loaded.Prerequisites)
	assert.Equal(t, a.ExecutionLimits, loaded.ExecutionLimits)
	assert.Equal(t, a.RunFrequency, loaded.RunFrequency)
	assert.Equal(t, a.RunProbability, loaded.RunProbability)
	assert.Equal(t, a.SiteIncludes, loaded.SiteIncludes)
	assert.Equal(t, a.SiteExcludes, loaded.SiteExcludes)
	assert.Equal(t, a.UseLock, loaded.UseLock)
	assert.Equal(t, a.NeedsStateDir, loaded.NeedsStateDir)
	assert.Equal(t, a.Version, loaded.Version)
}

// ToJSONThenBack exercises the full ToJSON/unmarshal path rather than
// just ToDict, so the round trip also covers JSON number decoding
// (float64) through toInt64.
func ToJSONThenBack(t *testing.T, a *Agent) map[string]interface{} {
	t.Helper()
	raw, err := ToJSON(a, SettingsDescriptors())
	require.NoError(t, err)

	loaded := New("", "", nil)
	require.NoError(t, LoadJSON(loaded, SettingsDescriptors(), raw))
	return ToDict(loaded, SettingsDescriptors())
}

func TestCompileSiteRegexesOnlyCompilesWildcardEntries(t *testing.T) {
	a := New("com.acme.a1", "A1", nopHandler{})
	a.SiteIncludes = []string{"NA-IAD-02", "EU-*"}
	a.SiteExcludes = []string{"NA-SEA-*"}

	require.NoError(t, a.CompileSiteRegexes())
	require.NotNil(t, a.SiteIncludeRegex)
	assert.True(t, a.SiteIncludeRegex.MatchString("EU-FRA-01"))
	assert.False(t, a.SiteIncludeRegex.MatchString("NA-IAD-02"), "exact entries are matched by string comparison, not the regex")

	require.NotNil(t, a.SiteExcludeRegex)
	assert.True(t, a.SiteExcludeRegex.MatchString("NA-SEA-14"))
}

func TestCompileSiteRegexesNilWhenNoWildcards(t *testing.T) {
	a := New("com.acme.a1", "A1", nopHandler{})
	a.SiteIncludes = []string{"NA-IAD-02"}
	require.NoError(t, a.CompileSiteRegexes())
	assert.Nil(t, a.SiteIncludeRegex)
}
