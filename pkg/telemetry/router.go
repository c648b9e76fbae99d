// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import "fmt"

// Publisher delivers a single (possibly paged) Event to a remote sink.
type Publisher interface {
	Publish(e *Event) error
}

// routeKey identifies a (subject_area, event_type) pair.
type routeKey struct {
	subjectArea string
	eventType   string
}

// Router owns a map from (subject_area, event_type) to a Publisher,
// with a default fallback used when no specific route is registered.
type Router struct {
	routes  map[routeKey]Publisher
	fallback Publisher
}

// NewRouter builds a Router with fallback as its default publisher.
// fallback may be nil until a caller registers one with SetDefault.
func NewRouter(fallback Publisher) *Router {
	return &Router{routes: make(map[routeKey]Publisher), fallback: fallback}
}

// SetDefault installs the fallback publisher used when no specific
// route matches.
func (r *Router) SetDefault(p Publisher) {
	r.fallback = p
}

// Register installs p as the publisher for (subjectArea, eventType).
func (r *Router) Register(subjectArea, eventType string, p Publisher) {
	r.routes[routeKey{subjectArea, eventType}] = p
}

// RouteEvent delivers e to its registered publisher, or the fallback.
func (r *Router) RouteEvent(e *Event) error {
	p, ok := r.routes[routeKey{e.SubjectArea, e.Type}]
	if !ok {
		p = r.fallback
	}
	if p == nil {
		return fmt.Errorf("no publisher configured for subject_area=%s type=%s and no default route loaded", e.SubjectArea, e.Type)
	}
	return p.Publish(e)
}

// DefaultLoaded reports whether the fallback route is configured,
// feeding the Engine's online() predicate.
func (r *Router) DefaultLoaded() bool {
	return r.fallback != nil
}
