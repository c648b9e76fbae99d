// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

// Credentials is the short-lived, partitioned credential set used to
// authenticate against the streaming sink (§6): an access key, secret,
// and session token, refreshed out-of-band by CredentialSource.
type Credentials struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
}

// CredentialSource refreshes Credentials on demand, e.g. backed by a
// signed HTTPS identity-service client (out of scope per spec §1,
// consumed here only through this interface).
type CredentialSource interface {
	Credentials() (Credentials, error)
}

// HTTPPublisher is the default Router fallback: it signs (optionally),
// serializes, and PUTs a single Event to url.
type HTTPPublisher struct {
	URL             string
	Client          *http.Client
	Credentials     CredentialSource
	Sign            bool
	RecordSizeLimit int
}

// NewHTTPPublisher builds an HTTPPublisher with a sane default client
// timeout.
func NewHTTPPublisher(url string, creds CredentialSource, sign bool, recordSizeLimit int) *HTTPPublisher {
	return &HTTPPublisher{
		URL:             url,
		Client:          &http.Client{Timeout: 10 * time.Second},
		Credentials:     creds,
		Sign:            sign,
		RecordSizeLimit: recordSizeLimit,
	}
}

// Publish implements Publisher.
func (h *HTTPPublisher) Publish(e *Event) error {
	limit := h.RecordSizeLimit
	if limit <= 0 {
		limit = DefaultRecordSizeLimit
	}
	pages, err := Paginate(e, limit, time.Now(), h.Sign)
	if err != nil {
		return fmt.Errorf("paginate event %s: %w", e.UUID, err)
	}
	for _, page := range pages {
		if err := h.publishOne(page); err != nil {
			return fmt.Errorf("publish page %d/%d of event %s: %w", page.CurrentPage, page.TotalPages, e.UUID, err)
		}
	}
	return nil
}

func (h *HTTPPublisher) publishOne(e *Event) error {
	body, err := e.ToWire(time.Now(), h.Sign)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if h.Credentials != nil {
		creds, err := h.Credentials.Credentials()
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		req.Header.Set("X-Access-Key", creds.AccessKey)
		req.Header.Set("X-Secret-Key", creds.SecretKey)
		if creds.SessionToken != "" {
			req.Header.Set("X-Session-Token", creds.SessionToken)
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("put request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
