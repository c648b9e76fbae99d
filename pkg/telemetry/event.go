// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package telemetry implements the durable, credential-gated,
// at-least-once event-streaming pipeline (spec §4.5): Event/page
// splitting, a FIFO queue durable across restarts, a router selecting a
// publisher per (subject_area, event_type), exponential backoff, and a
// first-success dispatcher used by Executors running in a separate process.
package telemetry

import (
	"crypto/md5" //nolint:gosec // parity with the source's MD5 page signature, not a security boundary
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultRecordSizeLimit is the default per-record byte budget (§6).
const DefaultRecordSizeLimit = 51000

// Event is the core telemetry record.
type Event struct {
	UUID         uuid.UUID
	Type         string
	SubjectArea  string
	Source       string
	Data         map[string]interface{}
	Produced     time.Time
	Submitted    time.Time
	Template     string

	CurrentPage int
	TotalPages  int
}

// NewEvent builds an Event with a fresh uuid and Produced stamped now.
func NewEvent(eventType, subjectArea, source string, data map[string]interface{}) *Event {
	return &Event{
		UUID:        uuid.New(),
		Type:        eventType,
		SubjectArea: subjectArea,
		Source:      source,
		Data:        data,
		Produced:    time.Now(),
		CurrentPage: 1,
		TotalPages:  1,
	}
}

// wireRecord is the exact JSON shape described in spec §6.
type wireRecord struct {
	UUID        string  `json:"uuid"`
	Src         string  `json:"src"`
	Type        string  `json:"type"`
	Subject     string  `json:"subject"`
	Template    string  `json:"template,omitempty"`
	Date        int64   `json:"date"`
	SubmitDate  int64   `json:"submit_date"`
	Data        string  `json:"data"`
	Sig         string  `json:"sig,omitempty"`
	CurrentPage int     `json:"current_page"`
	TotalPages  int     `json:"ttl_pages"`
}

// ToWire renders e into the wire JSON shape. submitAt stamps
// submit_date; sign controls whether the MD5 signature field is
// populated.
func (e *Event) ToWire(submitAt time.Time, sign bool) ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	b64 := base64.StdEncoding.EncodeToString(payload)

	rec := wireRecord{
		UUID:        e.UUID.String(),
		Src:         e.Source,
		Type:        e.Type,
		Subject:     e.SubjectArea,
		Template:    e.Template,
		Date:        e.Produced.Unix(),
		SubmitDate:  submitAt.Unix(),
		Data:        b64,
		CurrentPage: e.CurrentPage,
		TotalPages:  e.TotalPages,
	}
	if sign {
		rec.Sig = signRecord(rec.Src, rec.Type, rec.Date, b64)
	}
	return json.Marshal(rec)
}

// signRecord computes MD5("src|type|date|data") per spec §4.5. It uses
// no key material: the signature is an unkeyed digest, and the
// credential layer is responsible for attaching transport-level auth.
func signRecord(src, eventType string, date int64, data string) string {
	h := md5.Sum([]byte(fmt.Sprintf("%s|%s|%d|%s", src, eventType, date, data))) //nolint:gosec
	return fmt.Sprintf("%x", h)
}

// Paginate splits e into N pages by data key, each holding as many keys
// as fit within limit, preserving the parent uuid on every page. An
// event that already fits is returned as a single-element slice
// unchanged. A single data entry whose page alone exceeds limit is
// shipped as its own oversized page, and an oversized event with no
// data keys is returned unsplit.
func Paginate(e *Event, limit int, submitAt time.Time, sign bool) ([]*Event, error) {
	whole, err := e.ToWire(submitAt, sign)
	if err != nil {
		return nil, err
	}
	if len(whole) <= limit || limit <= 0 {
		return []*Event{e}, nil
	}

	// Split the data payload across pages by key count; each page
	// carries a disjoint subset of the original data map plus the
	// shared envelope fields. Re-measure after each split since JSON
	// overhead is not linear in key count.
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		// Nothing to split further; ship the oversized record as-is
		// rather than loop forever.
		return []*Event{e}, nil
	}

	var pages []*Event
	cur := map[string]interface{}{}
	flush := func() {
		if len(cur) == 0 {
			return
		}
		pages = append(pages, &Event{
			UUID: e.UUID, Type: e.Type, SubjectArea: e.SubjectArea, Source: e.Source,
			Data: cur, Produced: e.Produced, Template: e.Template,
		})
		cur = map[string]interface{}{}
	}
	for _, k := range keys {
		trial := map[string]interface{}{}
		for kk, vv := range cur {
			trial[kk] = vv
		}
		trial[k] = e.Data[k]
		probe := &Event{UUID: e.UUID, Type: e.Type, SubjectArea: e.SubjectArea, Source: e.Source, Data: trial, Produced: e.Produced, Template: e.Template}
		wire, err := probe.ToWire(submitAt, sign)
		if err != nil {
			return nil, err
		}
		if len(wire) > limit && len(cur) > 0 {
			flush()
			cur[k] = e.Data[k]
			continue
		}
		cur[k] = e.Data[k]
	}
	flush()

	for i, p := range pages {
		p.CurrentPage = i + 1
		p.TotalPages = len(pages)
	}
	return pages, nil
}

// queuedRecord is the base64+JSON on-disk representation of a queued
// Event, used by Queue.Save/Load.
type queuedRecord struct {
	UUID        string `json:"uuid"`
	Type        string `json:"type"`
	SubjectArea string `json:"subject_area"`
	Source      string `json:"source"`
	Data        string `json:"data"`
	Produced    int64  `json:"produced"`
	Template    string `json:"template,omitempty"`
	CurrentPage int    `json:"current_page"`
	TotalPages  int    `json:"total_pages"`
}

func (e *Event) toQueuedRecord() (queuedRecord, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return queuedRecord{}, err
	}
	return queuedRecord{
		UUID:        e.UUID.String(),
		Type:        e.Type,
		SubjectArea: e.SubjectArea,
		Source:      e.Source,
		Data:        base64.StdEncoding.EncodeToString(payload),
		Produced:    e.Produced.Unix(),
		Template:    e.Template,
		CurrentPage: e.CurrentPage,
		TotalPages:  e.TotalPages,
	}, nil
}

func eventFromQueuedRecord(r queuedRecord) (*Event, error) {
	id, err := uuid.Parse(r.UUID)
	if err != nil {
		return nil, fmt.Errorf("parse uuid: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return &Event{
		UUID:        id,
		Type:        r.Type,
		SubjectArea: r.SubjectArea,
		Source:      r.Source,
		Data:        data,
		Produced:    time.Unix(r.Produced, 0).UTC(),
		Template:    r.Template,
		CurrentPage: r.CurrentPage,
		TotalPages:  r.TotalPages,
	}, nil
}
