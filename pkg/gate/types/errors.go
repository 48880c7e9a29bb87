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

package types

import "errors"

// --- Boundary outcome errors ---

var (
	// ErrAdmissionRejected is a sentinel error indicating the governor refused a
	// unit of work because capacity and queue limits were met. It is
	// distinguishable from transient upstream failure so callers can choose a
	// different backoff strategy.
	//
	// Callers should use `errors.Is(err, ErrAdmissionRejected)` to check for
	// this class of failure.
	ErrAdmissionRejected = errors.New("admission rejected: at capacity")

	// ErrNotFound indicates an unknown request id.
	ErrNotFound = errors.New("request not found")

	// ErrAlreadyRunning indicates a cancellation arrived after the request was
	// dispatched. Cancellation is best-effort and only effective pre-dispatch.
	ErrAlreadyRunning = errors.New("request already running")

	// ErrAlreadyTerminal indicates an operation targeted a record whose state
	// admits no further transitions.
	ErrAlreadyTerminal = errors.New("request already in a terminal state")

	// ErrPermanentInput indicates malformed input (e.g. an empty prompt).
	// Requests failing with this error are never retried.
	ErrPermanentInput = errors.New("permanent input error")

	// ErrEmptyBatch indicates a batch call carried no prompts.
	ErrEmptyBatch = errors.New("batch contains no prompts")

	// ErrBatchTooLarge indicates a batch call exceeded the configured size cap.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)

// --- Internal errors ---

var (
	// ErrInvalidTransition indicates an attempted record state transition the
	// state machine forbids. Surfacing it means a scheduling bug; the store
	// refuses the mutation so the ledger stays consistent.
	ErrInvalidTransition = errors.New("invalid request state transition")

	// ErrNotRunning indicates an operation was attempted against a gate whose
	// run loop has already stopped or was never started.
	ErrNotRunning = errors.New("gate is not running")

	// ErrSessionsDisabled indicates a session operation on a gate constructed
	// without a session store.
	ErrSessionsDisabled = errors.New("no session store configured")
)
