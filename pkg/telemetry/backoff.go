// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"math"
	"time"
)

// backoffPolicy computes the next allowed dispatch attempt per spec
// §4.5: last_failed_submission + min(retry_frequency * base^(failures-1),
// max_retry_frequency). The curve shape mirrors
// github.com/cenkalti/backoff/v4's ExponentialBackOff (multiplier
// applied repeatedly, capped at a max interval), but the exact formula
// is hand-rolled rather than delegated to that library because the
// spec pins retry_frequency/base/max to specific constants and drives
// them off an explicit failure counter rather than backoff.BackOff's
// internal elapsed-time state machine; see DESIGN.md.
type backoffPolicy struct {
	retryFrequency time.Duration
	maxRetryFrequency time.Duration
	base float64
}

func newBackoffPolicy(retryFrequency, maxRetryFrequency time.Duration, base float64) backoffPolicy {
	return backoffPolicy{retryFrequency: retryFrequency, maxRetryFrequency: maxRetryFrequency, base: base}
}

// nextAttempt returns the earliest time a retry may be attempted, given
// the failure count (>=1) and the time of the most recent failure.
func (b backoffPolicy) nextAttempt(failures int, lastFailure time.Time) time.Time {
	if failures <= 0 {
		return lastFailure
	}
	delay := time.Duration(float64(b.retryFrequency) * math.Pow(b.base, float64(failures-1)))
	if delay > b.maxRetryFrequency {
		delay = b.maxRetryFrequency
	}
	return lastFailure.Add(delay)
}
