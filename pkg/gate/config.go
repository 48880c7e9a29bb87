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

package gate

import (
	"errors"

	"go.uber.org/multierr"

	"github.com/Teamkn2001/promptgate/pkg/gate/governor"
	"github.com/Teamkn2001/promptgate/pkg/gate/instant"
	"github.com/Teamkn2001/promptgate/pkg/gate/scheduler"
	"github.com/Teamkn2001/promptgate/pkg/gate/store"
)

// defaultMaxPromptBytes caps accepted prompt size at the boundary.
const defaultMaxPromptBytes = 32 << 10

// Config holds the configuration for the Service and its owned components.
// Component configs are constructed with their own defaults when left nil.
type Config struct {
	// MaxPromptBytes rejects oversized prompts before admission.
	// Optional: Defaults to `defaultMaxPromptBytes` (32 KiB).
	MaxPromptBytes int

	// Governor, Store, Scheduler and Instant configure the owned components.
	// Optional: each defaults to its package's NewConfig().
	Governor  *governor.Config
	Store     *store.Config
	Scheduler *scheduler.Config
	Instant   *instant.Config
}

// ConfigOption is a functional option for configuring the Service.
type ConfigOption func(*Config)

// NewConfig creates a new Config with the given options, applying defaults
// and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{MaxPromptBytes: defaultMaxPromptBytes}
	for _, opt := range opts {
		opt(c)
	}
	var err error
	if c.Governor == nil {
		var e error
		c.Governor, e = governor.NewConfig()
		err = multierr.Append(err, e)
	}
	if c.Store == nil {
		var e error
		c.Store, e = store.NewConfig()
		err = multierr.Append(err, e)
	}
	if c.Scheduler == nil {
		var e error
		c.Scheduler, e = scheduler.NewConfig(
			scheduler.WithWorkers(c.Governor.MaxConcurrency))
		err = multierr.Append(err, e)
	}
	if c.Instant == nil {
		var e error
		c.Instant, e = instant.NewConfig()
		err = multierr.Append(err, e)
	}
	if c.MaxPromptBytes <= 0 {
		err = multierr.Append(err, errors.New("MaxPromptBytes must be positive"))
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// WithMaxPromptBytes sets the prompt size cap.
func WithMaxPromptBytes(n int) ConfigOption {
	return func(c *Config) {
		c.MaxPromptBytes = n
	}
}

// WithGovernorConfig sets the governor configuration.
func WithGovernorConfig(cfg *governor.Config) ConfigOption {
	return func(c *Config) {
		c.Governor = cfg
	}
}

// WithStoreConfig sets the record store configuration.
func WithStoreConfig(cfg *store.Config) ConfigOption {
	return func(c *Config) {
		c.Store = cfg
	}
}

// WithSchedulerConfig sets the scheduler configuration.
func WithSchedulerConfig(cfg *scheduler.Config) ConfigOption {
	return func(c *Config) {
		c.Scheduler = cfg
	}
}

// WithInstantConfig sets the instant coordinator configuration.
func WithInstantConfig(cfg *instant.Config) ConfigOption {
	return func(c *Config) {
		c.Instant = cfg
	}
}
