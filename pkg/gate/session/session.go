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

// Package session holds per-caller conversational context. It lives outside
// the scheduling core: resetting a session never touches queued or running
// records, and the gate works without a session store at all.
package session

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Session is the per-caller context the upstream may condition on.
type Session struct {
	CallerID  string
	StartedAt time.Time
	// Turns counts completed exchanges attributed to this session.
	Turns int
}

// Store is the session persistence contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// Touch returns the caller's session, creating it on first use, and
	// increments its turn counter.
	Touch(callerID string) Session
	// Get returns the caller's session and whether one exists.
	Get(callerID string) (Session, bool)
	// Reset discards the caller's session. It returns whether a session
	// existed; resetting an unknown caller is not an error.
	Reset(callerID string) bool
	// Len returns the number of live sessions.
	Len() int
}

// memoryStore is the in-memory Store.
type memoryStore struct {
	clock clock.PassiveClock

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore(clk clock.PassiveClock) Store {
	return &memoryStore{
		clock:    clk,
		sessions: make(map[string]*Session),
	}
}

func (m *memoryStore) Touch(callerID string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callerID]
	if !ok {
		s = &Session{CallerID: callerID, StartedAt: m.clock.Now()}
		m.sessions[callerID] = s
	}
	s.Turns++
	return *s
}

func (m *memoryStore) Get(callerID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callerID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (m *memoryStore) Reset(callerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[callerID]
	delete(m.sessions, callerID)
	return ok
}

func (m *memoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
