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

package instant

import (
	"errors"

	"go.uber.org/multierr"

	"github.com/Teamkn2001/promptgate/pkg/gate/upstream"
)

// defaultMaxBatchSize caps how many prompts one batch call may carry.
const defaultMaxBatchSize = 50

// Config holds the configuration for the Coordinator.
type Config struct {
	// MaxBatchSize caps the number of prompts accepted in one AskBatch call.
	// Optional: Defaults to `defaultMaxBatchSize` (50).
	MaxBatchSize int

	// Deadlines are the per-priority upstream call deadlines.
	// Optional: Defaults to `upstream.DefaultDeadlines()`.
	Deadlines upstream.Deadlines
}

// ConfigOption is a functional option for configuring the Coordinator.
type ConfigOption func(*Config)

// NewConfig creates a new Config with the given options, applying defaults
// and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		MaxBatchSize: defaultMaxBatchSize,
		Deadlines:    upstream.DefaultDeadlines(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithMaxBatchSize sets the batch size cap.
func WithMaxBatchSize(n int) ConfigOption {
	return func(c *Config) {
		c.MaxBatchSize = n
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
	if c.MaxBatchSize <= 0 {
		err = multierr.Append(err, errors.New("MaxBatchSize must be positive"))
	}
	return err
}
