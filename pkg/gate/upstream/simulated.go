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

package upstream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// SimulatedOption configures a SimulatedClient.
type SimulatedOption func(*SimulatedClient)

// WithLatencyRange sets the uniform latency range per call.
func WithLatencyRange(min, max time.Duration) SimulatedOption {
	return func(c *SimulatedClient) {
		c.minLatency, c.maxLatency = min, max
	}
}

// WithFailureRate sets the fraction of calls (0.0 to 1.0) that fail with a
// retryable error.
func WithFailureRate(fraction float64) SimulatedOption {
	return func(c *SimulatedClient) {
		c.failureRate = fraction
	}
}

// WithRateLimit imposes a client-side requests-per-second quota, imitating a
// rate-limited backend. Calls wait for a token and fail with ErrTimeout if
// their context expires first.
func WithRateLimit(rps float64, burst int) SimulatedOption {
	return func(c *SimulatedClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClock overrides the clock, for tests.
func WithClock(clk clock.Clock) SimulatedOption {
	return func(c *SimulatedClient) {
		c.clock = clk
	}
}

// WithSeed makes latency and failure draws deterministic.
func WithSeed(seed int64) SimulatedOption {
	return func(c *SimulatedClient) {
		c.rand = rand.New(rand.NewSource(seed))
	}
}

// SimulatedClient is a stand-in model backend with configurable latency,
// failure rate, and quota. The runner uses it when no real backend is wired,
// and tests use it for fault injection.
type SimulatedClient struct {
	minLatency  time.Duration
	maxLatency  time.Duration
	failureRate float64
	limiter     *rate.Limiter
	clock       clock.Clock

	mu   sync.Mutex
	rand *rand.Rand
}

// NewSimulatedClient creates a SimulatedClient. Without options it completes
// in 50-250ms and never fails.
func NewSimulatedClient(opts ...SimulatedOption) *SimulatedClient {
	c := &SimulatedClient{
		minLatency: 50 * time.Millisecond,
		maxLatency: 250 * time.Millisecond,
		clock:      clock.RealClock{},
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate implements Client.
func (c *SimulatedClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: upstream quota wait: %v", ErrTimeout, err)
		}
	}

	latency, failed := c.draw()
	timer := c.clock.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case <-timer.C():
	}

	if failed {
		return nil, errors.New("simulated upstream error")
	}
	return &GenerateResult{
		Content:    fmt.Sprintf("completion for %q", truncate(req.Prompt, 48)),
		TokensUsed: len(req.Prompt)/4 + 16,
		Model:      "simulated",
	}, nil
}

// draw picks this call's latency and failure outcome under the rand lock.
func (c *SimulatedClient) draw() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	latency := c.minLatency
	if span := c.maxLatency - c.minLatency; span > 0 {
		latency += time.Duration(c.rand.Int63n(int64(span)))
	}
	return latency, c.rand.Float64() < c.failureRate
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
