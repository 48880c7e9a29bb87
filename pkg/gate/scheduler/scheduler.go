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

// Package scheduler implements the worker pool that drains the priority queue
// and drives each request through its lifecycle.
//
// A fixed pool of workers competes for queue entries. A worker that dequeues
// an entry must still win an in-flight slot from the governor before
// dispatching; if the ceiling is saturated it parks the entry back at the
// head of its tier and waits for a capacity-release signal instead of
// spinning. Each dispatch holds a governor Ticket for the duration of the
// upstream call and releases it exactly once on every exit path.
//
// Retryable upstream failures requeue the record with exponential backoff:
// the entry is held out of the queue for the delay, then reinserted with its
// original sequence number so it lands ahead of later submissions in its
// tier. Permanent failures and exhausted attempts transition the record to
// failed with a typed error code.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/Teamkn2001/promptgate/internal/backoff"
	"github.com/Teamkn2001/promptgate/pkg/gate/governor"
	"github.com/Teamkn2001/promptgate/pkg/gate/metrics"
	"github.com/Teamkn2001/promptgate/pkg/gate/queue"
	"github.com/Teamkn2001/promptgate/pkg/gate/store"
	"github.com/Teamkn2001/promptgate/pkg/gate/types"
	"github.com/Teamkn2001/promptgate/pkg/gate/upstream"
	errutil "github.com/Teamkn2001/promptgate/pkg/gate/util/error"
	logutil "github.com/Teamkn2001/promptgate/pkg/gate/util/logging"
)

// Scheduler owns the worker pool. It is constructed once by the gate and
// started with Run; it has no public mutable state.
type Scheduler struct {
	config   Config
	queue    *queue.Queue
	store    *store.Store
	governor *governor.Governor
	client   upstream.Client
	backoff  *backoff.Exponential
	clock    clock.WithTicker
	logger   logr.Logger

	// wakeCh carries a work-arrived hint from the gate's submit path. Size 1:
	// a missed send means a wakeup is already pending.
	wakeCh chan struct{}

	wg sync.WaitGroup
}

// New creates a Scheduler. The queue, store, governor and upstream client are
// owned by the caller and shared with the rest of the gate.
func New(
	config *Config,
	q *queue.Queue,
	s *store.Store,
	g *governor.Governor,
	client upstream.Client,
	clk clock.WithTicker,
	logger logr.Logger,
) (*Scheduler, error) {
	strategy, err := backoff.NewExponential(
		backoff.Base(config.BackoffBase),
		backoff.Max(config.BackoffMax),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid backoff configuration: %w", err)
	}
	return &Scheduler{
		config:   *config,
		queue:    q,
		store:    s,
		governor: g,
		client:   client,
		backoff:  strategy,
		clock:    clk,
		logger:   logger.WithName("scheduler"),
		wakeCh:   make(chan struct{}, 1),
	}, nil
}

// Notify hints the pool that new work was enqueued. Non-blocking.
func (s *Scheduler) Notify() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// workers have drained their current dispatch.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.V(logutil.DEFAULT).Info("Scheduler starting",
		"workers", s.config.Workers, "maxAttempts", s.config.MaxAttempts)
	defer s.logger.V(logutil.DEFAULT).Info("Scheduler stopped")

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	s.wg.Wait()
}

// worker is the per-goroutine loop: dequeue, acquire a slot, dispatch.
// All waiting is signal-driven with a coarse ticker as a safety net.
func (s *Scheduler) worker(ctx context.Context, id int) {
	logger := s.logger.WithValues("worker", id)
	ticker := s.clock.NewTicker(s.config.IdleWake)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		entry, ok := s.queue.DequeueNext()
		if !ok {
			s.wait(ctx, ticker)
			continue
		}
		ticket, ok := s.governor.AcquireSlot()
		if !ok {
			// Ceiling saturated. Park the entry at the head of its tier and
			// wait for a slot to free up.
			s.queue.Requeue(entry)
			s.wait(ctx, ticker)
			continue
		}
		s.dispatch(ctx, logger, entry, ticket)
		s.publishGauges()
	}
}

// wait blocks until new work may be available: an enqueue hint, a freed
// capacity slot, the fallback tick, or shutdown.
func (s *Scheduler) wait(ctx context.Context, ticker clock.Ticker) {
	select {
	case <-ctx.Done():
	case <-s.wakeCh:
	case <-s.governor.ReleaseSignal():
	case <-ticker.C():
	}
}

// dispatch runs one attempt of one request. The ticket is released exactly
// once on every path, including panics in the upstream client. Entries
// dropped before the upstream call free their slot without recording an
// outcome, so the rolling success rate only reflects real upstream calls.
func (s *Scheduler) dispatch(ctx context.Context, logger logr.Logger, entry queue.Entry, ticket *governor.Ticket) {
	success := false
	dispatched := false
	defer func() {
		if !dispatched {
			ticket.ReleaseUnused()
			return
		}
		ticket.Release(success)
	}()

	rec, err := s.store.Get(entry.RequestID)
	if err != nil {
		// Evicted or cancelled between dequeue and dispatch; nothing to run.
		logger.V(logutil.DEBUG).Info("Dropping dequeued entry with no live record", "requestID", entry.RequestID)
		return
	}
	if err := s.store.MarkRunning(rec.ID); err != nil {
		logger.V(logutil.DEBUG).Info("Dropping entry not in a dispatchable state",
			"requestID", rec.ID, "reason", err.Error())
		return
	}
	dispatched = true
	if rec.Attempt == 0 {
		metrics.RecordQueueWait(rec.Priority.String(), s.clock.Now().Sub(rec.SubmittedAt))
	}

	deadline := s.config.Deadlines.For(rec.Priority)
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	start := s.clock.Now()
	result, callErr := s.client.Generate(callCtx, upstream.GenerateRequest{
		Prompt:   rec.Prompt,
		Priority: rec.Priority,
	})
	cancel()
	elapsed := s.clock.Now().Sub(start)

	if callErr == nil {
		success = true
		if err := s.store.MarkSucceeded(rec.ID, result.Content); err != nil {
			logger.Error(err, "Failed to record success", "requestID", rec.ID)
		}
		metrics.RecordUpstreamDuration(rec.Priority.String(), "success", elapsed)
		metrics.RecordRequestOutcome(string(governor.PathQueue), rec.Priority.String(), types.StateSucceeded.String())
		logger.V(logutil.VERBOSE).Info("Request succeeded",
			"requestID", rec.ID, "priority", rec.Priority, "attempt", rec.Attempt, "duration", elapsed)
		return
	}

	metrics.RecordUpstreamDuration(rec.Priority.String(), "error", elapsed)
	switch {
	case upstream.IsPermanent(callErr):
		s.fail(logger, rec, errutil.PermanentInput, callErr)
	case rec.Attempt+1 < s.config.MaxAttempts && ctx.Err() == nil:
		s.retry(ctx, logger, rec, entry, callErr)
	case upstream.IsTimeout(callErr):
		s.fail(logger, rec, errutil.UpstreamTimeout, callErr)
	default:
		s.fail(logger, rec, errutil.UpstreamFailure, callErr)
	}
}

// fail transitions the record to its terminal failed state with a typed code.
func (s *Scheduler) fail(logger logr.Logger, rec *types.RequestRecord, code string, cause error) {
	info := types.ErrorInfo{Code: code, Message: cause.Error()}
	if err := s.store.MarkFailed(rec.ID, info); err != nil {
		logger.Error(err, "Failed to record failure", "requestID", rec.ID)
		return
	}
	metrics.RecordRequestOutcome(string(governor.PathQueue), rec.Priority.String(), types.StateFailed.String())
	logger.V(logutil.DEFAULT).Info("Request failed",
		"requestID", rec.ID, "priority", rec.Priority, "attempt", rec.Attempt, "code", code, "cause", cause.Error())
}

// retry requeues the record after an exponential backoff delay. The entry is
// held out of the queue for the delay so workers never dequeue ineligible
// work, then reinserted with its original sequence number.
func (s *Scheduler) retry(ctx context.Context, logger logr.Logger, rec *types.RequestRecord, entry queue.Entry, cause error) {
	if err := s.store.MarkRequeued(rec.ID); err != nil {
		logger.Error(err, "Failed to requeue record", "requestID", rec.ID)
		return
	}
	delay := s.backoff.Duration(uint(rec.Attempt))
	metrics.RecordRetry(rec.Priority.String())
	logger.V(logutil.VERBOSE).Info("Retrying request after backoff",
		"requestID", rec.ID, "priority", rec.Priority, "attempt", rec.Attempt+1, "delay", delay, "cause", cause.Error())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := s.clock.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			// Shutdown: the record stays queued in the ledger; nothing runs it.
			return
		case <-timer.C():
		}
		s.queue.Requeue(entry)
		s.Notify()
	}()
}

// publishGauges refreshes the capacity and depth gauges from live state.
func (s *Scheduler) publishGauges() {
	snap := s.governor.Snapshot()
	metrics.SetInFlight(string(governor.PathQueue), snap.InFlight)
	metrics.SetInFlight(string(governor.PathInstant), snap.InstantInFlight)
	for priority, depth := range s.queue.DepthByTier() {
		metrics.SetQueueDepth(priority.String(), depth)
	}
}
