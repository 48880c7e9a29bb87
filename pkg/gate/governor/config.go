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

package governor

import (
	"errors"

	"go.uber.org/multierr"
)

const (
	// defaultMaxConcurrency is the default ceiling on concurrent queue-path
	// upstream calls, and therefore the natural scheduler worker count.
	defaultMaxConcurrency = 5
	// defaultMaxQueueDepth is the default bound on total queued entries before
	// admission starts rejecting under saturation.
	defaultMaxQueueDepth = 100
	// defaultInstantLimit is the default sub-limit on concurrent instant-path
	// calls. The instant path draws from its own budget so synchronous callers
	// cannot starve the background workers.
	defaultInstantLimit = 20
	// defaultOutcomeWindowSize is the default number of recent upstream
	// outcomes retained for success-rate and processing-time reporting.
	defaultOutcomeWindowSize = 100
)

// Config holds the configuration for the Governor.
type Config struct {
	// MaxConcurrency is the ceiling on concurrent queue-path upstream calls.
	// Optional: Defaults to `defaultMaxConcurrency` (5).
	MaxConcurrency int

	// MaxQueueDepth is the queue depth at which, combined with a saturated
	// concurrency ceiling, new submissions are rejected. This is what keeps
	// memory bounded under flood: overload degrades by rejection, not growth.
	// Optional: Defaults to `defaultMaxQueueDepth` (100).
	MaxQueueDepth int

	// InstantLimit bounds concurrent instant-path calls.
	// Optional: Defaults to `defaultInstantLimit` (20).
	InstantLimit int

	// OutcomeWindowSize is the number of recent outcomes kept in the rolling
	// success/failure window.
	// Optional: Defaults to `defaultOutcomeWindowSize` (100).
	OutcomeWindowSize int
}

// ConfigOption is a functional option for configuring the Governor.
type ConfigOption func(*Config)

// NewConfig creates a new Config with the given options, applying defaults
// and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		MaxConcurrency:    defaultMaxConcurrency,
		MaxQueueDepth:     defaultMaxQueueDepth,
		InstantLimit:      defaultInstantLimit,
		OutcomeWindowSize: defaultOutcomeWindowSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithMaxConcurrency sets the queue-path concurrency ceiling.
func WithMaxConcurrency(n int) ConfigOption {
	return func(c *Config) {
		c.MaxConcurrency = n
	}
}

// WithMaxQueueDepth sets the queue depth bound.
func WithMaxQueueDepth(n int) ConfigOption {
	return func(c *Config) {
		c.MaxQueueDepth = n
	}
}

// WithInstantLimit sets the instant-path concurrency sub-limit.
func WithInstantLimit(n int) ConfigOption {
	return func(c *Config) {
		c.InstantLimit = n
	}
}

// WithOutcomeWindowSize sets the rolling outcome window size.
func WithOutcomeWindowSize(n int) ConfigOption {
	return func(c *Config) {
		c.OutcomeWindowSize = n
	}
}

// validate checks the configuration for validity.
func (c *Config) validate() (err error) {
	if c.MaxConcurrency <= 0 {
		err = multierr.Append(err, errors.New("MaxConcurrency must be positive"))
	}
	if c.MaxQueueDepth <= 0 {
		err = multierr.Append(err, errors.New("MaxQueueDepth must be positive"))
	}
	if c.InstantLimit <= 0 {
		err = multierr.Append(err, errors.New("InstantLimit must be positive"))
	}
	if c.OutcomeWindowSize <= 0 {
		err = multierr.Append(err, errors.New("OutcomeWindowSize must be positive"))
	}
	return err
}
