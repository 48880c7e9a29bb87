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

package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/Teamkn2001/promptgate/pkg/gate/governor"
	"github.com/Teamkn2001/promptgate/pkg/gate/store"
	"github.com/Teamkn2001/promptgate/pkg/gate/types"
	errutil "github.com/Teamkn2001/promptgate/pkg/gate/util/error"
	logutil "github.com/Teamkn2001/promptgate/pkg/gate/util/logging"
)

type harness struct {
	t          *testing.T
	store      *store.Store
	governor   *governor.Governor
	aggregator *Aggregator
	clock      *testingclock.FakeClock
	depth      int
}

func newHarness(t *testing.T, govOpts ...governor.ConfigOption) *harness {
	t.Helper()
	logger := logutil.NewTestLogger()
	clk := testingclock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	govCfg, err := governor.NewConfig(govOpts...)
	require.NoError(t, err)
	storeCfg, err := store.NewConfig()
	require.NoError(t, err)

	h := &harness{t: t, clock: clk}
	h.governor = governor.New(govCfg, func() int { return h.depth }, clk, logger)
	h.store = store.New(storeCfg, clk, logger)
	h.aggregator = New(h.store, h.governor, clk)
	return h
}

func (h *harness) complete(state types.RequestState) {
	h.t.Helper()
	rec := h.store.Create("prompt", types.PriorityNormal)
	switch state {
	case types.StateSucceeded:
		require.NoError(h.t, h.store.MarkRunning(rec.ID))
		require.NoError(h.t, h.store.MarkSucceeded(rec.ID, "ok"))
	case types.StateFailed:
		require.NoError(h.t, h.store.MarkRunning(rec.ID))
		require.NoError(h.t, h.store.MarkFailed(rec.ID, types.ErrorInfo{Code: errutil.UpstreamFailure, Message: "boom"}))
	case types.StateCancelled:
		require.NoError(h.t, h.store.MarkCancelled(rec.ID))
	}
}

func TestAggregator_HealthThresholds(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name   string
		depth  int
		expect LoadStatus
	}{
		{name: "empty queue is healthy", depth: 0, expect: LoadHealthy},
		{name: "below half is healthy", depth: 4, expect: LoadHealthy},
		{name: "at half is busy", depth: 5, expect: LoadBusy},
		{name: "below overload is busy", depth: 7, expect: LoadBusy},
		{name: "at four fifths is overloaded", depth: 8, expect: LoadOverloaded},
		{name: "full queue is overloaded", depth: 10, expect: LoadOverloaded},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, governor.WithMaxQueueDepth(10))
			h.depth = tc.depth
			health := h.aggregator.Health()
			assert.Equal(t, tc.expect, health.Status)
			assert.InDelta(t, float64(tc.depth)/10.0, health.QueueUtilization, 1e-9)
		})
	}
}

func TestAggregator_HealthUptime(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.clock.SetTime(h.clock.Now().Add(90 * time.Second))
	assert.Equal(t, 90*time.Second, h.aggregator.Health().Uptime)
	assert.True(t, h.aggregator.Health().AcceptingTraffic)
}

func TestAggregator_HealthMirrorsAdmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t, governor.WithMaxConcurrency(1), governor.WithMaxQueueDepth(2))

	_, ok := h.governor.AcquireSlot()
	require.True(t, ok)
	h.depth = 2

	health := h.aggregator.Health()
	assert.False(t, health.AcceptingTraffic,
		"health must report not-accepting exactly when admission would reject")
	assert.Equal(t, LoadOverloaded, health.Status)
}

func TestAggregator_Stats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.complete(types.StateSucceeded)
	h.complete(types.StateSucceeded)
	h.complete(types.StateFailed)
	h.complete(types.StateCancelled)
	h.store.Create("still waiting", types.PriorityFast)

	stats := h.aggregator.Stats()
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.ByState[types.StateSucceeded.String()])
	assert.Equal(t, 1, stats.ByState[types.StateFailed.String()])
	assert.Equal(t, 1, stats.ByState[types.StateCancelled.String()])
	assert.Equal(t, 1, stats.ByState[types.StateQueued.String()])
	assert.Equal(t, 4, stats.ByPriority[types.PriorityNormal.String()])
	assert.Equal(t, 1, stats.ByPriority[types.PriorityFast.String()])
}

func TestAggregator_StatsRollingWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ticket, ok := h.governor.AcquireSlot()
	require.True(t, ok)
	h.clock.SetTime(h.clock.Now().Add(100 * time.Millisecond))
	ticket.Release(true)

	ticket, ok = h.governor.AcquireSlot()
	require.True(t, ok)
	h.clock.SetTime(h.clock.Now().Add(300 * time.Millisecond))
	ticket.Release(false)

	stats := h.aggregator.Stats()
	assert.Equal(t, 2, stats.WindowSize)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	assert.Equal(t, 200*time.Millisecond, stats.AvgProcessingTime)
}

func TestAggregator_AnalyticsDayBuckets(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.complete(types.StateSucceeded)
	h.complete(types.StateFailed)

	h.clock.SetTime(h.clock.Now().Add(24 * time.Hour))
	h.complete(types.StateSucceeded)
	h.complete(types.StateSucceeded)
	h.complete(types.StateCancelled)
	h.store.Create("never finished", types.PriorityNormal)

	buckets := h.aggregator.Analytics()
	require.Len(t, buckets, 2, "two distinct UTC days were active")

	assert.Equal(t, "2025-06-01", buckets[0].Day)
	assert.Equal(t, 1, buckets[0].Succeeded)
	assert.Equal(t, 1, buckets[0].Failed)
	assert.Equal(t, 0, buckets[0].Cancelled)

	assert.Equal(t, "2025-06-02", buckets[1].Day)
	assert.Equal(t, 2, buckets[1].Succeeded)
	assert.Equal(t, 0, buckets[1].Failed)
	assert.Equal(t, 1, buckets[1].Cancelled)
}

func TestAggregator_Capacity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, governor.WithMaxConcurrency(3), governor.WithInstantLimit(7))

	_, ok := h.governor.AcquireSlot()
	require.True(t, ok)
	snap := h.aggregator.Capacity()
	assert.Equal(t, 1, snap.InFlight)
	assert.Equal(t, 3, snap.MaxConcurrency)
	assert.Equal(t, 7, snap.InstantLimit)
}
