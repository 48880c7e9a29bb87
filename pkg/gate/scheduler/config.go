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

package scheduler

import (
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/Teamkn2001/promptgate/pkg/gate/upstream"
)

const (
	// defaultWorkers matches the governor's default concurrency ceiling: more
	// workers than ceiling just park, fewer leave the ceiling unreachable.
	defaultWorkers = 5
	// defaultMaxAttempts bounds total tries per request, first attempt
	// included.
	defaultMaxAttempts = 3
	// defaultBackoffBase is the delay before the first retry.
	defaultBackoffBase = 500 * time.Millisecond
	// defaultBackoffMax caps the retry delay.
	defaultBackoffMax = 30 * time.Second
	// defaultIdleWake is the fallback poll interval for workers waiting on an
	// empty queue or saturated governor. Wake signals make this a safety net,
	// not the main wakeup path.
	defaultIdleWake = 250 * time.Millisecond
)

// Config holds the configuration for the Scheduler.
type Config struct {
	// Workers is the fixed worker pool size.
	// Optional: Defaults to `defaultWorkers` (5).
	Workers int

	// MaxAttempts is the total number of tries a request gets before its
	// failure becomes terminal. The record's 0-based attempt counter stays
	// below this value.
	// Optional: Defaults to `defaultMaxAttempts` (3).
	MaxAttempts int

	// BackoffBase and BackoffMax shape the exponential delay
	// (base * 2^attempt, capped) applied before a requeued record becomes
	// eligible again.
	// Optional: Default to `defaultBackoffBase` (500ms) and
	// `defaultBackoffMax` (30s).
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// IdleWake is the fallback poll interval for parked workers.
	// Optional: Defaults to `defaultIdleWake` (250ms).
	IdleWake time.Duration

	// Deadlines are the per-priority upstream call deadlines.
	// Optional: Defaults to `upstream.DefaultDeadlines()`.
	Deadlines upstream.Deadlines
}

// ConfigOption is a functional option for configuring the Scheduler.
type ConfigOption func(*Config)

// NewConfig creates a new Config with the given options, applying defaults
// and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		Workers:     defaultWorkers,
		MaxAttempts: defaultMaxAttempts,
		BackoffBase: defaultBackoffBase,
		BackoffMax:  defaultBackoffMax,
		IdleWake:    defaultIdleWake,
		Deadlines:   upstream.DefaultDeadlines(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithMaxAttempts sets the total tries per request.
func WithMaxAttempts(n int) ConfigOption {
	return func(c *Config) {
		c.MaxAttempts = n
	}
}

// WithBackoff sets the retry delay base and cap.
func WithBackoff(base, max time.Duration) ConfigOption {
	return func(c *Config) {
		c.BackoffBase = base
		c.BackoffMax = max
	}
}

// WithIdleWake sets the parked-worker fallback poll interval.
func WithIdleWake(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.IdleWake = d
	}
}

// WithDeadlines sets the per-priority upstream deadlines.
func WithDeadlines(d upstream.Deadlines) ConfigOption {
	return func(c *Config) {
		c.Deadlines = d
	}
}

// validate checks the configuration for validity.
func (c *Config) validate() (err error) {
	if c.Workers <= 0 {
		err = multierr.Append(err, errors.New("Workers must be positive"))
	}
	if c.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("MaxAttempts must be positive"))
	}
	if c.BackoffBase <= 0 {
		err = multierr.Append(err, errors.New("BackoffBase must be positive"))
	}
	if c.BackoffMax < c.BackoffBase {
		err = multierr.Append(err, errors.New("BackoffMax must be greater than or equal to BackoffBase"))
	}
	if c.IdleWake <= 0 {
		err = multierr.Append(err, errors.New("IdleWake must be positive"))
	}
	return err
}
