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

// Package gate wires the scheduling core together and exposes its boundary
// operations: asynchronous submission with polling, the synchronous instant
// path, batch asks, flood-style load generation, and the read-only health
// and statistics views.
//
// The Service owns every component singleton (queue, ledger, governor,
// scheduler, instant coordinator, aggregator); callers hold only the
// Service. Construction wires, Run starts, context cancellation drains.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/Teamkn2001/promptgate/pkg/gate/analytics"
	"github.com/Teamkn2001/promptgate/pkg/gate/governor"
	"github.com/Teamkn2001/promptgate/pkg/gate/instant"
	"github.com/Teamkn2001/promptgate/pkg/gate/metrics"
	"github.com/Teamkn2001/promptgate/pkg/gate/queue"
	"github.com/Teamkn2001/promptgate/pkg/gate/scheduler"
	"github.com/Teamkn2001/promptgate/pkg/gate/session"
	"github.com/Teamkn2001/promptgate/pkg/gate/store"
	"github.com/Teamkn2001/promptgate/pkg/gate/types"
	"github.com/Teamkn2001/promptgate/pkg/gate/upstream"
	errutil "github.com/Teamkn2001/promptgate/pkg/gate/util/error"
	logutil "github.com/Teamkn2001/promptgate/pkg/gate/util/logging"
)

// defaultWaitEstimate seeds the estimated-wait computation before the rolling
// outcome window has any samples.
const defaultWaitEstimate = 2 * time.Second

// Receipt is the synchronous answer to a Submit: the polling handle plus a
// best-effort position and wait estimate at admission time.
type Receipt struct {
	RequestID string
	Priority  types.Priority

	// QueuePosition is 1-based across all tiers at admission time.
	QueuePosition int
	// EstimatedWait extrapolates from the rolling average processing time;
	// it is an estimate, not a promise.
	EstimatedWait time.Duration
}

// Status is the poll-side view of one request.
type Status struct {
	Record *types.RequestRecord

	// QueuePosition is 1-based while the record is queued, zero otherwise.
	QueuePosition int
	EstimatedWait time.Duration
}

// FloodReport summarizes a burst of submissions through the normal admission
// path.
type FloodReport struct {
	Requested  int
	Accepted   int
	Rejected   int
	RequestIDs []string
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithSessionStore attaches a session store; without it session operations
// return types.ErrSessionsDisabled.
func WithSessionStore(s session.Store) Option {
	return func(svc *Service) {
		svc.sessions = s
	}
}

// Service is the top-level facade over the scheduling core.
type Service struct {
	config Config
	clock  clock.WithTicker
	logger logr.Logger

	queue      *queue.Queue
	store      *store.Store
	governor   *governor.Governor
	scheduler  *scheduler.Scheduler
	instant    *instant.Coordinator
	aggregator *analytics.Aggregator
	sessions   session.Store

	running atomic.Bool
}

// New creates a fully wired Service around the given upstream client.
func New(config *Config, client upstream.Client, logger logr.Logger, opts ...Option) (*Service, error) {
	svc := &Service{
		config: *config,
		clock:  clock.RealClock{},
		logger: logger.WithName("gate"),
	}
	for _, opt := range opts {
		opt(svc)
	}

	svc.queue = queue.New()
	svc.governor = governor.New(config.Governor, svc.queue.Len, svc.clock, svc.logger)
	svc.store = store.New(config.Store, svc.clock, svc.logger)

	sched, err := scheduler.New(config.Scheduler, svc.queue, svc.store, svc.governor, client, svc.clock, svc.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to construct scheduler: %w", err)
	}
	svc.scheduler = sched
	svc.instant = instant.New(config.Instant, svc.governor, client, svc.clock, svc.logger)
	svc.aggregator = analytics.New(svc.store, svc.governor, svc.clock)
	return svc, nil
}

// Run starts the worker pool and the ledger retention sweep, then blocks
// until ctx is cancelled and both have drained.
func (s *Service) Run(ctx context.Context) {
	s.logger.V(logutil.DEFAULT).Info("Gate starting")
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		s.logger.V(logutil.DEFAULT).Info("Gate stopped")
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.store.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.scheduler.Run(ctx)
	}()
	wg.Wait()
}

// Submit validates and admits one prompt onto the queue path. It never
// blocks on capacity: a saturated system returns types.ErrAdmissionRejected
// immediately. Input errors are permanent and reported before admission.
func (s *Service) Submit(prompt string, priority types.Priority) (*Receipt, error) {
	if !s.running.Load() {
		return nil, types.ErrNotRunning
	}
	if err := s.validatePrompt(prompt); err != nil {
		return nil, errutil.Wrap(errutil.PermanentInput, err)
	}
	if reason, err := s.governor.TryAdmit(priority); err != nil {
		metrics.RecordAdmissionRejection(string(governor.PathQueue), string(reason))
		s.logger.V(logutil.DEBUG).Info("Submission rejected", "priority", priority, "reason", reason)
		return nil, errutil.Wrap(errutil.AdmissionRejected, err)
	}

	rec := s.store.Create(prompt, priority)
	s.queue.Enqueue(rec.ID, priority)
	position := s.queue.PositionOf(rec.ID)
	s.scheduler.Notify()
	metrics.SetQueueDepth(priority.String(), s.queue.DepthByTier()[priority])

	s.logger.V(logutil.VERBOSE).Info("Request submitted",
		"requestID", rec.ID, "priority", priority, "queuePosition", position)
	return &Receipt{
		RequestID:     rec.ID,
		Priority:      priority,
		QueuePosition: position,
		EstimatedWait: s.estimateWait(position),
	}, nil
}

// Status returns the current view of one request, including its live queue
// position while it waits. Unknown and evicted ids are indistinguishable.
func (s *Service) Status(id string) (*Status, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return nil, errutil.Wrap(errutil.NotFound, err)
	}
	st := &Status{Record: rec}
	if rec.State == types.StateQueued {
		if pos := s.queue.PositionOf(id); pos > 0 {
			st.QueuePosition = pos
			st.EstimatedWait = s.estimateWait(pos)
		}
	}
	return st, nil
}

// Cancel removes a still-queued request. Cancellation is best-effort: once a
// worker has picked the request up the upstream call is not interrupted and
// types.ErrAlreadyRunning is returned.
func (s *Service) Cancel(id string) error {
	if s.queue.Remove(id) {
		if err := s.store.MarkCancelled(id); err != nil {
			return err
		}
		if rec, err := s.store.Get(id); err == nil {
			metrics.RecordRequestOutcome(string(governor.PathQueue), rec.Priority.String(), types.StateCancelled.String())
		}
		s.logger.V(logutil.VERBOSE).Info("Request cancelled", "requestID", id)
		return nil
	}
	rec, err := s.store.Get(id)
	if err != nil {
		return errutil.Wrap(errutil.NotFound, err)
	}
	switch {
	case rec.State.Terminal():
		return types.ErrAlreadyTerminal
	default:
		// Dequeued or mid-dispatch: past the point of no return.
		return types.ErrAlreadyRunning
	}
}

// Ask runs one prompt on the synchronous instant path.
func (s *Service) Ask(ctx context.Context, prompt string, priority types.Priority) (*instant.Answer, error) {
	if !s.running.Load() {
		return nil, types.ErrNotRunning
	}
	if err := s.validatePrompt(prompt); err != nil {
		return nil, errutil.Wrap(errutil.PermanentInput, err)
	}
	answer, err := s.instant.Ask(ctx, prompt, priority)
	if err != nil {
		return nil, wrapUpstreamErr(err)
	}
	return answer, nil
}

// AskSession is Ask with per-caller session accounting.
func (s *Service) AskSession(ctx context.Context, callerID, prompt string, priority types.Priority) (*instant.Answer, error) {
	if s.sessions != nil && callerID != "" {
		s.sessions.Touch(callerID)
	}
	return s.Ask(ctx, prompt, priority)
}

// AskBatch runs up to the configured batch cap of items concurrently, each
// item under its own priority, and returns order-preserving itemized results.
// Per-item validation failures are itemized too; only an empty or oversized
// batch fails wholesale.
func (s *Service) AskBatch(ctx context.Context, requests []instant.Request) ([]instant.BatchResult, error) {
	if !s.running.Load() {
		return nil, types.ErrNotRunning
	}
	if len(requests) == 0 {
		return nil, errutil.Wrap(errutil.PermanentInput, types.ErrEmptyBatch)
	}
	if len(requests) > s.config.Instant.MaxBatchSize {
		return nil, errutil.Wrap(errutil.PermanentInput, types.ErrBatchTooLarge)
	}

	// Invalid items are settled here; only the valid remainder goes upstream,
	// spliced back into submission order afterwards.
	results := make([]instant.BatchResult, len(requests))
	valid := make([]instant.Request, 0, len(requests))
	slots := make([]int, 0, len(requests))
	for i, req := range requests {
		if err := s.validatePrompt(req.Prompt); err != nil {
			results[i] = instant.BatchResult{
				Prompt:    req.Prompt,
				ErrorInfo: &types.ErrorInfo{Code: errutil.PermanentInput, Message: err.Error()},
			}
			continue
		}
		valid = append(valid, req)
		slots = append(slots, i)
	}
	if len(valid) > 0 {
		subResults, err := s.instant.AskBatch(ctx, valid)
		if err != nil {
			return nil, err
		}
		for k, i := range slots {
			results[i] = subResults[k]
		}
	}
	return results, nil
}

// wrapUpstreamErr attaches the canonical code matching an instant-path
// failure so boundary callers can classify without unwrapping themselves.
func wrapUpstreamErr(err error) error {
	switch {
	case errors.Is(err, types.ErrAdmissionRejected):
		return errutil.Wrap(errutil.AdmissionRejected, err)
	case upstream.IsPermanent(err):
		return errutil.Wrap(errutil.PermanentInput, err)
	case upstream.IsTimeout(err):
		return errutil.Wrap(errutil.UpstreamTimeout, err)
	default:
		return errutil.Wrap(errutil.UpstreamFailure, err)
	}
}

// Flood pushes count submissions through the normal Submit path and reports
// the admission split. There is no privileged path: every flood submission
// competes under the same policy as any other caller.
func (s *Service) Flood(count int, priority types.Priority) (*FloodReport, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: flood count must be positive", types.ErrPermanentInput)
	}
	report := &FloodReport{Requested: count}
	for i := 0; i < count; i++ {
		receipt, err := s.Submit(fmt.Sprintf("flood request %d", i), priority)
		if err != nil {
			report.Rejected++
			continue
		}
		report.Accepted++
		report.RequestIDs = append(report.RequestIDs, receipt.RequestID)
	}
	s.logger.V(logutil.DEFAULT).Info("Flood complete",
		"requested", report.Requested, "accepted", report.Accepted, "rejected", report.Rejected)
	return report, nil
}

// Health reports uptime, admission state and coarse load classification.
func (s *Service) Health() analytics.Health {
	return s.aggregator.Health()
}

// Stats aggregates retained records and the rolling outcome window.
func (s *Service) Stats() analytics.Stats {
	return s.aggregator.Stats()
}

// Analytics buckets terminal records per UTC day.
func (s *Service) Analytics() []analytics.DayBucket {
	return s.aggregator.Analytics()
}

// Capacity exposes the raw governor snapshot.
func (s *Service) Capacity() governor.Snapshot {
	return s.governor.Snapshot()
}

// ResetSession discards a caller's session. Queued and running work is never
// affected. Without a session store this is a typed no-op.
func (s *Service) ResetSession(callerID string) (bool, error) {
	if s.sessions == nil {
		return false, types.ErrSessionsDisabled
	}
	existed := s.sessions.Reset(callerID)
	s.logger.V(logutil.VERBOSE).Info("Session reset", "callerID", callerID, "existed", existed)
	return existed, nil
}

// validatePrompt enforces the boundary input rules: non-empty, within the
// configured byte cap. Violations are permanent; they are never retried.
func (s *Service) validatePrompt(prompt string) error {
	if prompt == "" {
		return fmt.Errorf("%w: prompt is empty", types.ErrPermanentInput)
	}
	if len(prompt) > s.config.MaxPromptBytes {
		return fmt.Errorf("%w: prompt exceeds %d bytes", types.ErrPermanentInput, s.config.MaxPromptBytes)
	}
	return nil
}

// estimateWait extrapolates wait time for a queue position from the rolling
// average processing time spread over the concurrency ceiling.
func (s *Service) estimateWait(position int) time.Duration {
	snap := s.governor.Snapshot()
	avg := snap.AvgProcessingTime
	if avg <= 0 {
		avg = defaultWaitEstimate
	}
	if snap.MaxConcurrency <= 0 {
		return avg * time.Duration(position)
	}
	return avg * time.Duration(position) / time.Duration(snap.MaxConcurrency)
}
