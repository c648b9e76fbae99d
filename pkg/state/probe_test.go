// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package state

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/acme-corp/endpointd/pkg/agent"
	"github.com/acme-corp/endpointd/pkg/log/logmock"
)

type fakeSource struct {
	online    bool
	onlineErr error
	calls     int
	site      string
}

func (f *fakeSource) Online() (bool, error) {
	f.calls++
	if f.onlineErr != nil {
		return false, f.onlineErr
	}
	return f.online, nil
}
func (f *fakeSource) OnDomain() (bool, error)   { return true, nil }
func (f *fakeSource) OnVPN() (bool, error)      { return false, nil }
func (f *fakeSource) IdleMachine() (bool, error) { return false, nil }
func (f *fakeSource) NetworkSite() (string, error) { return f.site, nil }
func (f *fakeSource) ConsoleUser() (string, error) { return "alice", nil }
func (f *fakeSource) HardwareIdentifier() (string, error) { return "HW-1", nil }
func (f *fakeSource) Uptime() (time.Duration, error) { return time.Hour, nil }
func (f *fakeSource) LastLoginTimes() ([]time.Time, error) { return nil, nil }

func TestCompositeStateFlags(t *testing.T) {
	src := &fakeSource{online: true}
	p := New(src, logmock.New(t), time.Minute)
	flags := p.CompositeState()
	assert.True(t, flags.Has(agent.StateOnline))
	assert.True(t, flags.Has(agent.StateOnDomain))
	assert.True(t, flags.Has(agent.StateOffVPN))
	assert.False(t, flags.Has(agent.StateIdleMachine))
}

func TestCompositeStateOmitsUnknownOnFailure(t *testing.T) {
	src := &fakeSource{onlineErr: errors.New("boom")}
	p := New(src, logmock.New(t), time.Minute)
	flags := p.CompositeState()
	assert.False(t, flags.Has(agent.StateOnline))
	assert.False(t, flags.Has(agent.StateOffline))
}

func TestProbeCachesUnderlyingCalls(t *testing.T) {
	src := &fakeSource{online: true}
	p := New(src, logmock.New(t), time.Minute)
	p.CompositeState()
	p.CompositeState()
	p.CompositeState()
	assert.Equal(t, 1, src.calls)
}

func TestNetworkSite(t *testing.T) {
	src := &fakeSource{site: "NA-IAD-02"}
	p := New(src, logmock.New(t), time.Minute)
	assert.Equal(t, "NA-IAD-02", p.NetworkSite())
}
