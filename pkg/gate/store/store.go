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

// Package store implements the request ledger: the owner of every
// RequestRecord's lifetime. All mutations go through the store, which
// serializes them under one lock and enforces the record state machine, so a
// record can never skip states, regress, or end up with both a result and an
// error.
//
// Terminal records are retained for a bounded window (by age and by count)
// and then evicted oldest-first; queued and running records are never
// evicted.
package store

import (
	"context"
	"time"

	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/Teamkn2001/promptgate/pkg/gate/types"
	logutil "github.com/Teamkn2001/promptgate/pkg/gate/util/logging"
)

// Store is the concurrent-safe ledger of submitted requests.
type Store struct {
	config Config
	clock  clock.WithTicker
	logger logr.Logger

	mu      sync.RWMutex
	records map[string]*types.RequestRecord
	// completedOrder holds ids of terminal records in completion order, oldest
	// first, driving oldest-first eviction.
	completedOrder []string
}

// New creates an empty Store.
func New(config *Config, clk clock.WithTicker, logger logr.Logger) *Store {
	return &Store{
		config:  *config,
		clock:   clk,
		logger:  logger.WithName("store"),
		records: make(map[string]*types.RequestRecord),
	}
}

// Create inserts a new queued record for the given prompt and returns a copy.
// The generated id is the caller's handle for polling and cancellation.
func (s *Store) Create(prompt string, priority types.Priority) *types.RequestRecord {
	rec := &types.RequestRecord{
		ID:          uuid.NewString(),
		Prompt:      prompt,
		Priority:    priority,
		State:       types.StateQueued,
		SubmittedAt: s.clock.Now(),
	}
	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	return rec.Clone()
}

// Get returns a copy of the record, or types.ErrNotFound. An evicted record
// is indistinguishable from one that never existed.
func (s *Store) Get(id string) (*types.RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return rec.Clone(), nil
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns copies of all retained records, for the read-side
// aggregator. Order is unspecified.
func (s *Store) Snapshot() []*types.RequestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.RequestRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// MarkRunning transitions queued -> running. StartedAt is set on the first
// dispatch only; a retried record keeps its original start time.
func (s *Store) MarkRunning(id string) error {
	return s.transition(id, types.StateQueued, func(rec *types.RequestRecord) {
		rec.State = types.StateRunning
		if rec.StartedAt.IsZero() {
			rec.StartedAt = s.clock.Now()
		}
	})
}

// MarkRequeued transitions running -> queued after a retryable failure,
// incrementing the attempt counter.
func (s *Store) MarkRequeued(id string) error {
	return s.transition(id, types.StateRunning, func(rec *types.RequestRecord) {
		rec.State = types.StateQueued
		rec.Attempt++
	})
}

// MarkSucceeded transitions running -> succeeded and sets the result.
func (s *Store) MarkSucceeded(id, result string) error {
	return s.transition(id, types.StateRunning, func(rec *types.RequestRecord) {
		rec.State = types.StateSucceeded
		rec.CompletedAt = s.clock.Now()
		rec.Result = result
	})
}

// MarkFailed transitions running -> failed and sets the error info.
func (s *Store) MarkFailed(id string, info types.ErrorInfo) error {
	return s.transition(id, types.StateRunning, func(rec *types.RequestRecord) {
		rec.State = types.StateFailed
		rec.CompletedAt = s.clock.Now()
		rec.ErrorInfo = &info
	})
}

// MarkCancelled transitions queued -> cancelled. A running record returns
// types.ErrAlreadyRunning (there is no upstream-call interrupt); a terminal
// record returns types.ErrAlreadyTerminal.
func (s *Store) MarkCancelled(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return types.ErrNotFound
	}
	switch {
	case rec.State == types.StateRunning:
		return types.ErrAlreadyRunning
	case rec.State.Terminal():
		return types.ErrAlreadyTerminal
	}
	rec.State = types.StateCancelled
	rec.CompletedAt = s.clock.Now()
	s.recordTerminalLocked(rec)
	return nil
}

// transition applies mutate to the record if it is currently in the expected
// state, and handles retention bookkeeping for terminal transitions.
func (s *Store) transition(id string, from types.RequestState, mutate func(*types.RequestRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return types.ErrNotFound
	}
	if rec.State != from {
		if rec.State.Terminal() {
			return types.ErrAlreadyTerminal
		}
		return types.ErrInvalidTransition
	}
	mutate(rec)
	if rec.State.Terminal() {
		s.recordTerminalLocked(rec)
	}
	return nil
}

func (s *Store) recordTerminalLocked(rec *types.RequestRecord) {
	s.completedOrder = append(s.completedOrder, rec.ID)
	s.evictForCountLocked()
}

// evictForCountLocked drops the oldest terminal records beyond MaxRecords.
func (s *Store) evictForCountLocked() {
	for len(s.completedOrder) > s.config.MaxRecords {
		id := s.completedOrder[0]
		s.completedOrder = s.completedOrder[1:]
		delete(s.records, id)
	}
}

// Run periodically evicts terminal records older than the retention age. It
// blocks until ctx is cancelled; run it as a goroutine.
func (s *Store) Run(ctx context.Context) {
	s.logger.V(logutil.DEFAULT).Info("Ledger retention sweep starting",
		"retentionAge", s.config.RetentionAge.String(), "maxRecords", s.config.MaxRecords)
	defer s.logger.V(logutil.DEFAULT).Info("Ledger retention sweep stopped")

	ticker := s.clock.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			s.sweep(now)
		}
	}
}

// sweep evicts terminal records whose completion time predates the retention
// cutoff. completedOrder is completion-ordered, so the scan stops at the
// first record still inside the window.
func (s *Store) sweep(now time.Time) {
	cutoff := now.Add(-s.config.RetentionAge)
	s.mu.Lock()
	evicted := 0
	for len(s.completedOrder) > 0 {
		rec, ok := s.records[s.completedOrder[0]]
		if ok && rec.CompletedAt.After(cutoff) {
			break
		}
		if ok {
			delete(s.records, rec.ID)
			evicted++
		}
		s.completedOrder = s.completedOrder[1:]
	}
	s.mu.Unlock()
	if evicted > 0 {
		s.logger.V(logutil.DEBUG).Info("Evicted aged-out records", "count", evicted)
	}
}
