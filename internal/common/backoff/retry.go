// The MIT License
//
// Copyright (c) 2020 Temporal Technologies Inc.  All rights reserved.
//
// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package backoff implements the exponential backoff retrier used by the
// transaction engine; the step engine computes its own ladder. Time is injected through facebookgo/clock
// so tests can advance it deterministically instead of sleeping for real.
package backoff

import (
	"time"

	"github.com/facebookgo/clock"
)

// done is returned by Retrier.NextBackOff to signal the retry budget (time
// or attempt count) is exhausted.
const done time.Duration = -1

type (
	// RetryPolicy configures one retry ladder.
	RetryPolicy struct {
		InitialInterval    time.Duration
		BackoffCoefficient float64
		MaximumInterval    time.Duration
		MaximumAttempts    int           // 0 means unlimited
		ExpirationInterval time.Duration // 0 means unlimited
	}

	// Retrier computes successive backoff intervals for a RetryPolicy.
	Retrier struct {
		policy          RetryPolicy
		clock           clock.Clock
		startTime       time.Time
		currentInterval time.Duration
		attempt         int
	}
)

// SystemClock is the real wall-clock implementation of clock.Clock.
var SystemClock = clock.New()

// NewRetrier returns a Retrier that starts its clock now.
func NewRetrier(policy RetryPolicy, c clock.Clock) *Retrier {
	if c == nil {
		c = SystemClock
	}
	return &Retrier{
		policy:          policy,
		clock:           c,
		startTime:       c.Now(),
		currentInterval: policy.InitialInterval,
	}
}

// NextBackOff returns the next interval to wait, or done if the policy's
// attempt count or elapsed-time budget is exhausted.
func (r *Retrier) NextBackOff() time.Duration {
	if r.policy.MaximumAttempts > 0 && r.attempt >= r.policy.MaximumAttempts {
		return done
	}
	if r.policy.ExpirationInterval > 0 && r.clock.Now().Sub(r.startTime) >= r.policy.ExpirationInterval {
		return done
	}

	next := r.currentInterval
	r.attempt++

	coeff := r.policy.BackoffCoefficient
	if coeff <= 0 {
		coeff = 1
	}
	r.currentInterval = time.Duration(float64(r.currentInterval) * coeff)
	if r.policy.MaximumInterval > 0 && r.currentInterval > r.policy.MaximumInterval {
		r.currentInterval = r.policy.MaximumInterval
	}
	return next
}

// Reset clears attempt/elapsed state, as if the Retrier were newly created.
func (r *Retrier) Reset() {
	r.attempt = 0
	r.startTime = r.clock.Now()
	r.currentInterval = r.policy.InitialInterval
}

// TransactionRetryPolicy is the retry ladder for SQLSTATE 40001
// serialization failures: 1ms initial, ×1.5, capped at 2s, unbounded
// attempts.
func TransactionRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    time.Millisecond,
		BackoffCoefficient: 1.5,
		MaximumInterval:    2 * time.Second,
	}
}

