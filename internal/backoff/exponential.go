/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package backoff provides the retry delay strategy used between requeue
// attempts. The delay grows as base * 2^attempt, capped at a configured
// maximum, with optional full jitter so a burst of failures against the same
// upstream does not resynchronize into a thundering herd.
package backoff

import (
	"errors"
	"math/rand"
	"time"

	"go.uber.org/multierr"
)

// ExponentialOption configures an Exponential strategy.
type ExponentialOption func(*exponentialOptions)

type exponentialOptions struct {
	base, max time.Duration
	jitter    bool
	rand      *rand.Rand
}

func (o exponentialOptions) validate() (err error) {
	if o.base <= 0 {
		err = multierr.Append(err, errors.New("exponential backoff base must be greater than zero"))
	}
	if o.max < o.base {
		err = multierr.Append(err, errors.New("exponential backoff max must be greater than or equal to base"))
	}
	return err
}

var defaultExponentialOpts = exponentialOptions{
	base: 500 * time.Millisecond,
	max:  30 * time.Second,
}

// Base sets the first-attempt delay.
func Base(d time.Duration) ExponentialOption {
	return func(o *exponentialOptions) {
		o.base = d
	}
}

// Max caps the delay regardless of attempt count.
func Max(d time.Duration) ExponentialOption {
	return func(o *exponentialOptions) {
		o.max = d
	}
}

// FullJitter draws each delay uniformly from [0, computed delay] instead of
// returning the deterministic value.
func FullJitter() ExponentialOption {
	return func(o *exponentialOptions) {
		o.jitter = true
	}
}

// withRand overrides the random source, for deterministic tests.
func withRand(r *rand.Rand) ExponentialOption {
	return func(o *exponentialOptions) {
		o.rand = r
	}
}

// Exponential computes capped exponential retry delays. It is stateless and
// safe for concurrent use, except that the jittered variant must not share a
// rand.Rand across goroutines unless that source is itself synchronized.
type Exponential struct {
	opts exponentialOptions
}

// NewExponential returns a new exponential backoff strategy.
func NewExponential(opts ...ExponentialOption) (*Exponential, error) {
	options := defaultExponentialOpts
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	if options.jitter && options.rand == nil {
		options.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Exponential{opts: options}, nil
}

// Duration returns the delay to wait before retry number attempt (0-based).
func (e *Exponential) Duration(attempt uint) time.Duration {
	delay := e.opts.max
	// Guard the shift: past 62 bits the multiplication overflows, and any
	// realistic attempt count has long since hit the cap anyway.
	if attempt < 63 {
		shifted := e.opts.base.Nanoseconds() << attempt
		if shifted > 0 && shifted < e.opts.max.Nanoseconds() {
			delay = time.Duration(shifted)
		}
	}
	if e.opts.jitter {
		delay = time.Duration(e.opts.rand.Int63n(delay.Nanoseconds() + 1))
	}
	return delay
}
