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

package store

import (
	"errors"
	"time"

	"go.uber.org/multierr"
)

const (
	// defaultRetentionAge is how long terminal records stay pollable.
	defaultRetentionAge = 5 * time.Minute
	// defaultMaxRecords bounds retained terminal records by count.
	defaultMaxRecords = 1000
	// defaultSweepInterval is the frequency of the age-based eviction sweep.
	defaultSweepInterval = 30 * time.Second
)

// Config holds the configuration for the Store.
type Config struct {
	// RetentionAge is how long a terminal record remains retrievable after
	// completion.
	// Optional: Defaults to `defaultRetentionAge` (5 minutes).
	RetentionAge time.Duration

	// MaxRecords caps retained terminal records; the oldest are evicted first
	// when the cap is exceeded.
	// Optional: Defaults to `defaultMaxRecords` (1000).
	MaxRecords int

	// SweepInterval is how often the retention sweep runs.
	// Optional: Defaults to `defaultSweepInterval` (30 seconds).
	SweepInterval time.Duration
}

// ConfigOption is a functional option for configuring the Store.
type ConfigOption func(*Config)

// NewConfig creates a new Config with the given options, applying defaults
// and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		RetentionAge:  defaultRetentionAge,
		MaxRecords:    defaultMaxRecords,
		SweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithRetentionAge sets the terminal-record retention age.
func WithRetentionAge(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetentionAge = d
	}
}

// WithMaxRecords sets the terminal-record retention count cap.
func WithMaxRecords(n int) ConfigOption {
	return func(c *Config) {
		c.MaxRecords = n
	}
}

// WithSweepInterval sets the retention sweep interval.
func WithSweepInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.SweepInterval = d
	}
}

// validate checks the configuration for validity.
func (c *Config) validate() (err error) {
	if c.RetentionAge <= 0 {
		err = multierr.Append(err, errors.New("RetentionAge must be positive"))
	}
	if c.MaxRecords <= 0 {
		err = multierr.Append(err, errors.New("MaxRecords must be positive"))
	}
	if c.SweepInterval <= 0 {
		err = multierr.Append(err, errors.New("SweepInterval must be positive"))
	}
	return err
}
