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

// Package instant implements the synchronous low-latency path: the caller
// blocks for the upstream answer instead of polling a queued record.
//
// Instant calls bypass the priority queue but not the governor: each call
// draws from the instant-path concurrency budget, so a burst of synchronous
// callers cannot starve the background workers, and a saturated system
// rejects instantly rather than queueing.
//
// Identical concurrent calls (same prompt, same priority) are coalesced: the
// first caller becomes the leader and runs the upstream call, later callers
// join and share the leader's answer. Only the leader holds a capacity slot.
package instant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/Teamkn2001/promptgate/pkg/gate/governor"
	"github.com/Teamkn2001/promptgate/pkg/gate/metrics"
	"github.com/Teamkn2001/promptgate/pkg/gate/types"
	"github.com/Teamkn2001/promptgate/pkg/gate/upstream"
	errutil "github.com/Teamkn2001/promptgate/pkg/gate/util/error"
	logutil "github.com/Teamkn2001/promptgate/pkg/gate/util/logging"
)

// Answer is the synchronous result of one instant call.
type Answer struct {
	Content    string
	Model      string
	TokensUsed int

	// Elapsed is the wall time this caller waited, leader or joiner.
	Elapsed time.Duration

	// Shared is true when the answer came from a coalesced in-flight call
	// rather than a dedicated upstream request.
	Shared bool
}

// Request is one item of a batch call. Each item carries its own priority,
// so a single batch can mix deadlines.
type Request struct {
	Prompt   string
	Priority types.Priority
}

// BatchResult is the per-item outcome of a batch call. Exactly one of
// Answer and ErrorInfo is set.
type BatchResult struct {
	Prompt    string
	Answer    *Answer
	ErrorInfo *types.ErrorInfo
}

// call is one in-flight upstream request that joiners may attach to.
type call struct {
	done   chan struct{}
	answer *Answer
	err    error
}

// Coordinator serializes instant-path admission and coalescing. It shares the
// governor with the scheduler but owns its own dedup table.
type Coordinator struct {
	config   Config
	governor *governor.Governor
	client   upstream.Client
	clock    clock.Clock
	logger   logr.Logger

	mu       sync.Mutex
	inFlight map[callKey]*call
}

type callKey struct {
	prompt   string
	priority types.Priority
}

// New creates a Coordinator sharing the given governor and upstream client.
func New(config *Config, g *governor.Governor, client upstream.Client, clk clock.Clock, logger logr.Logger) *Coordinator {
	return &Coordinator{
		config:   *config,
		governor: g,
		client:   client,
		clock:    clk,
		logger:   logger.WithName("instant"),
		inFlight: make(map[callKey]*call),
	}
}

// Ask runs one prompt synchronously. It returns types.ErrAdmissionRejected
// (wrapped) when the instant budget or the whole system is saturated, the
// upstream error otherwise. A joiner inherits the leader's outcome.
func (c *Coordinator) Ask(ctx context.Context, prompt string, priority types.Priority) (*Answer, error) {
	start := c.clock.Now()

	key := callKey{prompt: prompt, priority: priority}
	c.mu.Lock()
	if existing, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		return c.join(ctx, existing, start)
	}

	// Leader path. Admission happens under the coordinator lock so two racing
	// identical prompts cannot both become leaders.
	ticket, reason, err := c.governor.AcquireInstant()
	if err != nil {
		c.mu.Unlock()
		metrics.RecordAdmissionRejection(string(governor.PathInstant), string(reason))
		c.logger.V(logutil.DEBUG).Info("Instant call rejected", "priority", priority, "reason", reason)
		return nil, err
	}
	leader := &call{done: make(chan struct{})}
	c.inFlight[key] = leader
	c.mu.Unlock()

	answer, callErr := c.run(ctx, ticket, prompt, priority)

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
	leader.answer, leader.err = answer, callErr
	close(leader.done)

	if callErr != nil {
		return nil, callErr
	}
	// Joiners copy leader.answer once done is closed, so the leader's own
	// elapsed time goes on a private copy; the shared struct is never written
	// again after the close.
	own := *answer
	own.Elapsed = c.clock.Now().Sub(start)
	return &own, nil
}

// join waits for the leader's in-flight call and shares its answer. The
// joiner holds no capacity slot and can still bail out on its own context.
func (c *Coordinator) join(ctx context.Context, leader *call, start time.Time) (*Answer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-leader.done:
	}
	if leader.err != nil {
		return nil, leader.err
	}
	shared := *leader.answer
	shared.Shared = true
	shared.Elapsed = c.clock.Now().Sub(start)
	return &shared, nil
}

// run executes the upstream call under the per-priority deadline and releases
// the ticket exactly once.
func (c *Coordinator) run(ctx context.Context, ticket *governor.Ticket, prompt string, priority types.Priority) (*Answer, error) {
	success := false
	defer func() { ticket.Release(success) }()

	callCtx, cancel := context.WithTimeout(ctx, c.config.Deadlines.For(priority))
	defer cancel()

	start := c.clock.Now()
	result, err := c.client.Generate(callCtx, upstream.GenerateRequest{Prompt: prompt, Priority: priority})
	elapsed := c.clock.Now().Sub(start)
	if err != nil {
		metrics.RecordUpstreamDuration(priority.String(), "error", elapsed)
		metrics.RecordRequestOutcome(string(governor.PathInstant), priority.String(), types.StateFailed.String())
		return nil, err
	}
	success = true
	metrics.RecordUpstreamDuration(priority.String(), "success", elapsed)
	metrics.RecordRequestOutcome(string(governor.PathInstant), priority.String(), types.StateSucceeded.String())
	return &Answer{
		Content:    result.Content,
		Model:      result.Model,
		TokensUsed: result.TokensUsed,
		Elapsed:    elapsed,
	}, nil
}

// AskBatch runs up to MaxBatchSize items concurrently and returns one result
// per item in submission order. Failures are itemized: one rejected or failed
// item never discards the others' answers.
func (c *Coordinator) AskBatch(ctx context.Context, requests []Request) ([]BatchResult, error) {
	if len(requests) == 0 {
		return nil, types.ErrEmptyBatch
	}
	if len(requests) > c.config.MaxBatchSize {
		return nil, types.ErrBatchTooLarge
	}

	results := make([]BatchResult, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			answer, err := c.Ask(ctx, req.Prompt, req.Priority)
			results[i] = BatchResult{Prompt: req.Prompt, Answer: answer}
			if err != nil {
				results[i].ErrorInfo = &types.ErrorInfo{
					Code:    batchErrorCode(err),
					Message: err.Error(),
				}
				results[i].Answer = nil
			}
		}(i, req)
	}
	wg.Wait()
	return results, nil
}

// batchErrorCode maps a per-prompt failure to the typed code surfaced in its
// itemized result.
func batchErrorCode(err error) string {
	switch {
	case errors.Is(err, types.ErrAdmissionRejected):
		return errutil.AdmissionRejected
	case upstream.IsPermanent(err):
		return errutil.PermanentInput
	case upstream.IsTimeout(err):
		return errutil.UpstreamTimeout
	default:
		return errutil.UpstreamFailure
	}
}
