// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build test

// Package configmock mirrors pkg/config/mock: New(t) returns a
// Component seeded with the production defaults that tests can
// override field-by-field with SetInTest.
package configmock

import (
	"testing"

	"github.com/acme-corp/endpointd/pkg/config"
)

// Mock wraps a real config.Component so tests get production defaults
// plus a convenience setter.
type Mock struct {
	config.Component
}

// New returns a Mock seeded with defaults.
func New(_ *testing.T) *Mock {
	return &Mock{Component: config.New()}
}

// SetInTest overrides key for the remainder of the test.
func (m *Mock) SetInTest(key string, value interface{}) {
	m.Component.Set(key, value)
}
