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

// Package types defines the core data model shared by the gate's components:
// request priorities, the request lifecycle state machine, and the ledger
// record tracked for every submitted prompt.
package types

import (
	"fmt"
	"strconv"
	"time"
)

// Priority determines dequeue precedence. Within one priority tier requests
// are served strictly in submission order.
type Priority int

const (
	// PriorityFast is dequeued before all other tiers.
	PriorityFast Priority = iota
	// PriorityNormal is the default tier for submissions that do not specify one.
	PriorityNormal
	// PriorityLow is dequeued only when the fast and normal tiers are empty.
	PriorityLow
)

// Priorities lists all tiers in dequeue precedence order, highest first.
var Priorities = []Priority{PriorityFast, PriorityNormal, PriorityLow}

// Rank returns the tier's precedence rank; lower ranks dequeue first.
func (p Priority) Rank() int { return int(p) }

// String returns a human-readable string representation of the Priority.
func (p Priority) String() string {
	switch p {
	case PriorityFast:
		return "fast"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "UnknownPriority(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParsePriority parses a priority name. The empty string maps to
// PriorityNormal, matching the submission default.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "fast":
		return PriorityFast, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// RequestState is the lifecycle state of a RequestRecord.
//
// States transition monotonically through queued -> running -> (succeeded |
// failed); cancelled is reachable only from queued. A retryable upstream
// failure with attempts remaining moves a record from running back to queued.
type RequestState int

const (
	// StateQueued means the request is waiting in the priority queue (either
	// freshly submitted or requeued after a retryable failure).
	StateQueued RequestState = iota
	// StateRunning means a worker is executing the upstream call.
	StateRunning
	// StateSucceeded is terminal; Result is set.
	StateSucceeded
	// StateFailed is terminal; ErrorInfo is set.
	StateFailed
	// StateCancelled is terminal; the request was cancelled before dispatch.
	StateCancelled
)

// Terminal reports whether the state admits no further transitions.
func (s RequestState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// String returns a human-readable string representation of the RequestState.
func (s RequestState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "UnknownState(" + strconv.Itoa(int(s)) + ")"
	}
}

// ErrorInfo captures a terminal failure on a record. Code is one of the
// canonical codes from util/error.
type ErrorInfo struct {
	Code    string
	Message string
}

// RequestRecord is the ledger entry for one submitted prompt. ID and Prompt
// are immutable after creation; all other mutations go through the store,
// which serializes them and enforces the state machine.
//
// Exactly one of Result and ErrorInfo is set once State is terminal; neither
// is set before.
type RequestRecord struct {
	ID       string
	Prompt   string
	Priority Priority

	State RequestState

	SubmittedAt time.Time
	// StartedAt and CompletedAt are set exactly once, only forward in time.
	// StartedAt records the first dispatch; it is not reset on retries.
	StartedAt   time.Time
	CompletedAt time.Time

	Result    string
	ErrorInfo *ErrorInfo

	// Attempt is the 0-based retry counter, bounded by the scheduler's
	// configured maximum.
	Attempt int
}

// Clone returns a deep copy of the record, safe to hand outside the store.
func (r *RequestRecord) Clone() *RequestRecord {
	c := *r
	if r.ErrorInfo != nil {
		info := *r.ErrorInfo
		c.ErrorInfo = &info
	}
	return &c
}
