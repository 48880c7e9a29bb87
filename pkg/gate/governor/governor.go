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

// Package governor implements the capacity governor: the single owned
// instance of admission and in-flight accounting shared by the queue and
// instant paths.
//
// Admission policy: a new submission is rejected only when the concurrency
// ceiling is saturated AND the queue has reached its configured depth bound,
// which makes sustained overload degrade by rejection instead of unbounded
// queue growth. The instant path additionally draws from its own concurrency
// sub-limit so synchronous callers cannot starve the background workers.
//
// Every dispatched unit of work holds a Ticket. Ticket.Release is the one
// place in-flight counters decrement and the rolling outcome window updates;
// it is idempotent by construction, so capacity can neither leak nor go
// negative regardless of how the upstream call ends.
package governor

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/Teamkn2001/promptgate/pkg/gate/types"
	errutil "github.com/Teamkn2001/promptgate/pkg/gate/util/error"
)

// Path identifies which request path a ticket belongs to.
type Path string

const (
	// PathQueue is the durable background queue path.
	PathQueue Path = "queue"
	// PathInstant is the synchronous low-latency path.
	PathInstant Path = "instant"
)

// RejectReason explains an admission rejection.
type RejectReason string

const (
	// RejectSaturated means the concurrency ceiling and queue bound are both
	// exhausted.
	RejectSaturated RejectReason = "saturated"
	// RejectInstantLimit means the instant-path sub-limit is exhausted.
	RejectInstantLimit RejectReason = "instant_limit"
)

// DepthReporter reports the current queue depth. The governor reads it under
// its own lock; implementations must not call back into the governor.
type DepthReporter func() int

// Snapshot is a read-only view of the governor's state, safe to retain.
type Snapshot struct {
	InFlight        int
	InstantInFlight int
	MaxConcurrency  int
	InstantLimit    int
	QueueDepth      int
	MaxQueueDepth   int

	// WindowSize is the number of outcomes currently in the rolling window;
	// SuccessRate is meaningless while it is zero.
	WindowSize  int
	SuccessRate float64

	// AvgProcessingTime is the mean upstream call duration over the window.
	AvgProcessingTime time.Duration

	// AcceptingTraffic is false only while the admission policy would reject a
	// queue-path submission.
	AcceptingTraffic bool
}

// Governor tracks in-flight upstream calls and computes admission decisions.
// It is owned by the gate and injected into the scheduler and the instant
// coordinator; there are no ambient singletons.
type Governor struct {
	config Config
	depth  DepthReporter
	clock  clock.PassiveClock
	logger logr.Logger

	mu              sync.Mutex
	inFlight        int
	instantInFlight int

	// Rolling outcome window, a fixed ring. successes counts true entries in
	// the ring so the success rate is O(1) to read.
	outcomes  []outcome
	head      int
	filled    int
	successes int
	totalTime time.Duration

	// releaseCh carries a capacity-freed hint to the scheduler. Size 1: a
	// missed send means a signal is already pending, which is enough.
	releaseCh chan struct{}
}

type outcome struct {
	success  bool
	duration time.Duration
}

// New creates a Governor with the given configuration. depth reports the
// priority queue's current total depth.
func New(config *Config, depth DepthReporter, clk clock.PassiveClock, logger logr.Logger) *Governor {
	return &Governor{
		config:    *config,
		depth:     depth,
		clock:     clk,
		logger:    logger.WithName("governor"),
		outcomes:  make([]outcome, config.OutcomeWindowSize),
		releaseCh: make(chan struct{}, 1),
	}
}

// TryAdmit decides whether a new queue-path submission may enter the queue.
// It reserves nothing; the in-flight slot is taken later, at dispatch, via
// AcquireSlot. Rejection wraps types.ErrAdmissionRejected.
func (g *Governor) TryAdmit(types.Priority) (RejectReason, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saturatedLocked() {
		return RejectSaturated, types.ErrAdmissionRejected
	}
	return "", nil
}

// AcquireSlot reserves a queue-path in-flight slot for a dispatch. It returns
// ok=false when the concurrency ceiling is saturated, in which case the
// worker parks the entry instead of busy-waiting.
func (g *Governor) AcquireSlot() (*Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight >= g.config.MaxConcurrency {
		return nil, false
	}
	g.inFlight++
	return g.newTicketLocked(PathQueue), true
}

// AcquireInstant admits and reserves an instant-path slot in one step. The
// instant path has no queue to wait in, so rejection is immediate and typed:
// the caller distinguishes capacity rejection from upstream failure.
func (g *Governor) AcquireInstant() (*Ticket, RejectReason, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saturatedLocked() {
		return nil, RejectSaturated, types.ErrAdmissionRejected
	}
	if g.instantInFlight >= g.config.InstantLimit {
		return nil, RejectInstantLimit, types.ErrAdmissionRejected
	}
	g.instantInFlight++
	return g.newTicketLocked(PathInstant), "", nil
}

// Snapshot returns a read-only view of the current capacity state. It takes
// the governor lock briefly but never blocks on scheduling or upstream I/O.
func (g *Governor) Snapshot() Snapshot {
	depth := g.depth()
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{
		InFlight:        g.inFlight,
		InstantInFlight: g.instantInFlight,
		MaxConcurrency:  g.config.MaxConcurrency,
		InstantLimit:    g.config.InstantLimit,
		QueueDepth:      depth,
		MaxQueueDepth:   g.config.MaxQueueDepth,
		WindowSize:      g.filled,
	}
	if g.filled > 0 {
		s.SuccessRate = float64(g.successes) / float64(g.filled)
		s.AvgProcessingTime = g.totalTime / time.Duration(g.filled)
	}
	s.AcceptingTraffic = !(g.inFlight >= g.config.MaxConcurrency && depth >= g.config.MaxQueueDepth)
	return s
}

// ReleaseSignal returns a channel that receives a hint whenever capacity is
// freed. The scheduler selects on it to wake parked workers without spinning.
func (g *Governor) ReleaseSignal() <-chan struct{} {
	return g.releaseCh
}

// saturatedLocked is the shared overload predicate: concurrency ceiling
// reached and queue at its depth bound.
func (g *Governor) saturatedLocked() bool {
	return g.inFlight >= g.config.MaxConcurrency && g.depth() >= g.config.MaxQueueDepth
}

func (g *Governor) newTicketLocked(path Path) *Ticket {
	return &Ticket{
		governor: g,
		path:     path,
		issuedAt: g.clock.Now(),
	}
}

// release is called exactly once per ticket, from Ticket.Release or
// Ticket.ReleaseUnused. record is false when the ticket never reached the
// upstream, in which case the slot is freed but the rolling window is left
// alone.
func (g *Governor) release(t *Ticket, success, record bool) {
	duration := g.clock.Now().Sub(t.issuedAt)
	g.mu.Lock()
	switch t.path {
	case PathInstant:
		g.instantInFlight--
	default:
		g.inFlight--
	}

	if record {
		evicted := g.outcomes[g.head]
		if g.filled == len(g.outcomes) {
			// Ring is full: the slot being overwritten leaves the window.
			if evicted.success {
				g.successes--
			}
			g.totalTime -= evicted.duration
		} else {
			g.filled++
		}
		g.outcomes[g.head] = outcome{success: success, duration: duration}
		if success {
			g.successes++
		}
		g.totalTime += duration
		g.head = (g.head + 1) % len(g.outcomes)
	}
	g.mu.Unlock()

	select {
	case g.releaseCh <- struct{}{}:
	default:
	}
}

// Ticket represents one admitted, in-flight unit of work. Release must be
// called exactly once; the sync.Once guard makes a second call harmless, but
// it is still an invariant violation and is logged as such.
type Ticket struct {
	governor *Governor
	path     Path
	issuedAt time.Time

	once     sync.Once
	released bool
}

// Path returns which request path the ticket was issued for.
func (t *Ticket) Path() Path { return t.path }

// Release returns the ticket's slot to the governor and records the outcome
// in the rolling window. It is safe to call from any goroutine, but only the
// first call has effect.
func (t *Ticket) Release(success bool) {
	t.finalize(success, true)
}

// ReleaseUnused returns the ticket's slot without recording an outcome. It is
// for dispatches that never reached the upstream (the queued entry vanished
// before the call was made); counting those as failures would skew the
// rolling success rate.
func (t *Ticket) ReleaseUnused() {
	t.finalize(false, false)
}

func (t *Ticket) finalize(success, record bool) {
	first := false
	t.once.Do(func() {
		first = true
		t.released = true
		t.governor.release(t, success, record)
	})
	if !first {
		t.governor.logger.Error(errutil.Error{Code: errutil.InvariantViolation, Msg: "ticket released more than once"},
			"Invariant violation: ticket released more than once; ignoring", "path", t.path)
	}
}
