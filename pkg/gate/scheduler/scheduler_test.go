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
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/Teamkn2001/promptgate/pkg/gate/governor"
	"github.com/Teamkn2001/promptgate/pkg/gate/queue"
	"github.com/Teamkn2001/promptgate/pkg/gate/store"
	"github.com/Teamkn2001/promptgate/pkg/gate/types"
	"github.com/Teamkn2001/promptgate/pkg/gate/upstream"
	errutil "github.com/Teamkn2001/promptgate/pkg/gate/util/error"
	logutil "github.com/Teamkn2001/promptgate/pkg/gate/util/logging"
)

const (
	waitTimeout  = 5 * time.Second
	waitInterval = 5 * time.Millisecond
)

// harness wires a running scheduler against a scripted upstream client.
type harness struct {
	t        *testing.T
	queue    *queue.Queue
	store    *store.Store
	governor *governor.Governor
	sched    *Scheduler
}

func newHarness(t *testing.T, client upstream.Client, govOpts []governor.ConfigOption, opts ...ConfigOption) *harness {
	t.Helper()
	logger := logutil.NewTestLogger()
	clk := clock.RealClock{}

	govCfg, err := governor.NewConfig(govOpts...)
	require.NoError(t, err)
	storeCfg, err := store.NewConfig()
	require.NoError(t, err)

	base := []ConfigOption{
		WithBackoff(time.Millisecond, 10*time.Millisecond),
		WithIdleWake(5 * time.Millisecond),
	}
	config, err := NewConfig(append(base, opts...)...)
	require.NoError(t, err)

	h := &harness{t: t, queue: queue.New()}
	h.governor = governor.New(govCfg, h.queue.Len, clk, logger)
	h.store = store.New(storeCfg, clk, logger)

	h.sched, err = New(config, h.queue, h.store, h.governor, client, clk, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.sched.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(waitTimeout):
			t.Error("scheduler did not drain on shutdown")
		}
	})
	return h
}

func (h *harness) submit(prompt string, priority types.Priority) string {
	h.t.Helper()
	rec := h.store.Create(prompt, priority)
	require.True(h.t, h.queue.Enqueue(rec.ID, priority))
	h.sched.Notify()
	return rec.ID
}

func (h *harness) waitTerminal(id string) *types.RequestRecord {
	h.t.Helper()
	var rec *types.RequestRecord
	require.Eventually(h.t, func() bool {
		got, err := h.store.Get(id)
		if err != nil || !got.State.Terminal() {
			return false
		}
		rec = got
		return true
	}, waitTimeout, waitInterval, "request %s did not reach a terminal state", id)
	return rec
}

func TestScheduler_SuccessfulDispatch(t *testing.T) {
	t.Parallel()
	client := upstream.ClientFunc(func(_ context.Context, req upstream.GenerateRequest) (*upstream.GenerateResult, error) {
		return &upstream.GenerateResult{Content: "echo: " + req.Prompt}, nil
	})
	h := newHarness(t, client, nil)

	id := h.submit("hello", types.PriorityNormal)
	rec := h.waitTerminal(id)

	assert.Equal(t, types.StateSucceeded, rec.State)
	assert.Equal(t, "echo: hello", rec.Result)
	assert.Nil(t, rec.ErrorInfo)
	assert.Equal(t, 0, rec.Attempt)
	assert.False(t, rec.StartedAt.IsZero())
	assert.False(t, rec.CompletedAt.IsZero())
}

func TestScheduler_RetriesTransientFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := upstream.ClientFunc(func(context.Context, upstream.GenerateRequest) (*upstream.GenerateResult, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient upstream hiccup")
		}
		return &upstream.GenerateResult{Content: "finally"}, nil
	})
	h := newHarness(t, client, nil, WithMaxAttempts(3))

	id := h.submit("retry me", types.PriorityNormal)
	rec := h.waitTerminal(id)

	assert.Equal(t, types.StateSucceeded, rec.State)
	assert.Equal(t, "finally", rec.Result)
	assert.Equal(t, 2, rec.Attempt, "two retries should precede the success")
	assert.Equal(t, int32(3), calls.Load())
}

func TestScheduler_ExhaustsAttempts(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := upstream.ClientFunc(func(context.Context, upstream.GenerateRequest) (*upstream.GenerateResult, error) {
		calls.Add(1)
		return nil, errors.New("persistent upstream failure")
	})
	h := newHarness(t, client, nil, WithMaxAttempts(3))

	id := h.submit("doomed", types.PriorityNormal)
	rec := h.waitTerminal(id)

	assert.Equal(t, types.StateFailed, rec.State)
	require.NotNil(t, rec.ErrorInfo)
	assert.Equal(t, errutil.UpstreamFailure, rec.ErrorInfo.Code)
	assert.Empty(t, rec.Result, "a failed record must carry no result")
	assert.Equal(t, int32(3), calls.Load(), "attempts must stop at the configured maximum")
}

func TestScheduler_PermanentErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := upstream.ClientFunc(func(context.Context, upstream.GenerateRequest) (*upstream.GenerateResult, error) {
		calls.Add(1)
		return nil, upstream.Permanent(errors.New("malformed prompt"))
	})
	h := newHarness(t, client, nil, WithMaxAttempts(3))

	id := h.submit("bad input", types.PriorityNormal)
	rec := h.waitTerminal(id)

	assert.Equal(t, types.StateFailed, rec.State)
	require.NotNil(t, rec.ErrorInfo)
	assert.Equal(t, errutil.PermanentInput, rec.ErrorInfo.Code)
	assert.Equal(t, int32(1), calls.Load(), "permanent failures must never be retried")
}

func TestScheduler_TimeoutClassification(t *testing.T) {
	t.Parallel()
	client := upstream.ClientFunc(func(ctx context.Context, _ upstream.GenerateRequest) (*upstream.GenerateResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	deadlines := upstream.Deadlines{Fast: 10 * time.Millisecond, Normal: 10 * time.Millisecond, Low: 10 * time.Millisecond}
	h := newHarness(t, client, nil, WithMaxAttempts(1), WithDeadlines(deadlines))

	id := h.submit("slow", types.PriorityFast)
	rec := h.waitTerminal(id)

	assert.Equal(t, types.StateFailed, rec.State)
	require.NotNil(t, rec.ErrorInfo)
	assert.Equal(t, errutil.UpstreamTimeout, rec.ErrorInfo.Code)
}

func TestScheduler_CapacityRestoredUnderFaultInjection(t *testing.T) {
	t.Parallel()
	// Mixed outcomes: every third call fails once, exercising success,
	// retry and requeue paths together. Whatever the mix, every slot must
	// come back.
	var calls atomic.Int32
	client := upstream.ClientFunc(func(context.Context, upstream.GenerateRequest) (*upstream.GenerateResult, error) {
		if calls.Add(1)%3 == 0 {
			return nil, errors.New("injected fault")
		}
		return &upstream.GenerateResult{Content: "ok"}, nil
	})
	h := newHarness(t, client,
		[]governor.ConfigOption{governor.WithMaxConcurrency(3)},
		WithWorkers(3), WithMaxAttempts(2))

	var ids []string
	for i := 0; i < 30; i++ {
		ids = append(ids, h.submit(fmt.Sprintf("prompt %d", i), types.Priorities[i%len(types.Priorities)]))
	}
	for _, id := range ids {
		rec := h.waitTerminal(id)
		if rec.State == types.StateSucceeded {
			assert.NotEmpty(t, rec.Result)
			assert.Nil(t, rec.ErrorInfo)
		} else {
			assert.Equal(t, types.StateFailed, rec.State)
			assert.NotNil(t, rec.ErrorInfo)
			assert.Empty(t, rec.Result)
		}
	}

	require.Eventually(t, func() bool {
		return h.governor.Snapshot().InFlight == 0
	}, waitTimeout, waitInterval, "all in-flight slots must be released after the burst")
	assert.Equal(t, 0, h.queue.Len(), "queue must drain completely")
}

func TestScheduler_InFlightNeverExceedsCeiling(t *testing.T) {
	t.Parallel()
	const ceiling = 2
	var concurrent, peak atomic.Int32
	client := upstream.ClientFunc(func(context.Context, upstream.GenerateRequest) (*upstream.GenerateResult, error) {
		cur := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return &upstream.GenerateResult{Content: "ok"}, nil
	})
	h := newHarness(t, client,
		[]governor.ConfigOption{governor.WithMaxConcurrency(ceiling)},
		WithWorkers(4))

	var ids []string
	for i := 0; i < 12; i++ {
		ids = append(ids, h.submit(fmt.Sprintf("prompt %d", i), types.PriorityNormal))
	}
	for _, id := range ids {
		h.waitTerminal(id)
	}
	assert.LessOrEqual(t, peak.Load(), int32(ceiling),
		"concurrent upstream calls must never exceed the governor ceiling")
}

func TestScheduler_DropsCancelledEntry(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := upstream.ClientFunc(func(context.Context, upstream.GenerateRequest) (*upstream.GenerateResult, error) {
		calls.Add(1)
		return &upstream.GenerateResult{Content: "ok"}, nil
	})
	h := newHarness(t, client, nil)

	// Cancelled before any worker sees it: the dequeued entry has no
	// dispatchable record and must be dropped without an upstream call.
	rec := h.store.Create("cancel me", types.PriorityNormal)
	require.NoError(t, h.store.MarkCancelled(rec.ID))
	require.True(t, h.queue.Enqueue(rec.ID, types.PriorityNormal))
	h.sched.Notify()

	id := h.submit("real work", types.PriorityNormal)
	h.waitTerminal(id)

	got, err := h.store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, got.State, "a cancelled record must stay cancelled")
	assert.Equal(t, int32(1), calls.Load(), "only the live request may reach the upstream")

	// The dropped entry frees its slot without an outcome: only the live
	// request may appear in the rolling window.
	require.Eventually(t, func() bool {
		return h.governor.Snapshot().WindowSize == 1
	}, waitTimeout, waitInterval, "the live request's outcome should land in the window")
	snap := h.governor.Snapshot()
	assert.Equal(t, 1, snap.WindowSize, "a dropped entry must not enter the outcome window")
	assert.Equal(t, 1.0, snap.SuccessRate, "a dropped entry must not count as a failure")
}
