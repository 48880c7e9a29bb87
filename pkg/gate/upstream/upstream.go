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

// Package upstream defines the contract with the generative-AI backend. The
// real model client lives outside this repository; the gate treats it as an
// opaque call with latency and failure, and only cares about how errors
// classify: timeouts and upstream rejections are retryable, permanent input
// errors are not.
package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/Teamkn2001/promptgate/pkg/gate/types"
)

// GenerateRequest is one prompt handed to the backend.
type GenerateRequest struct {
	Prompt   string
	Priority types.Priority
}

// GenerateResult is a completed generation.
type GenerateResult struct {
	Content    string
	TokensUsed int
	Model      string
}

// Client is the opaque model backend. Generate blocks until completion,
// failure, or ctx expiry; implementations must honor ctx.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

// Generate calls f.
func (f ClientFunc) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return f(ctx, req)
}

// ErrTimeout is a sentinel for an upstream call that exceeded its deadline.
// Client implementations may return it directly; IsTimeout also folds
// context.DeadlineExceeded into it.
var ErrTimeout = errors.New("upstream call timed out")

// permanentError marks an error that must never be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so IsPermanent reports true for it. Nil in, nil out.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is marked permanent, directly or via
// types.ErrPermanentInput.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || errors.Is(err, types.ErrPermanentInput)
}

// IsTimeout reports whether err represents a deadline overrun.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable reports whether the scheduler may retry after err. Everything
// the upstream produces is retryable unless marked permanent.
func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err)
}

// Deadlines carries the per-priority upstream call deadlines. Faster tiers
// get tighter deadlines: a caller on the fast tier would rather retry than
// wait out a slow generation.
type Deadlines struct {
	Fast   time.Duration
	Normal time.Duration
	Low    time.Duration
}

// DefaultDeadlines returns the documented defaults: fast 8s, normal 15s,
// low 25s.
func DefaultDeadlines() Deadlines {
	return Deadlines{
		Fast:   8 * time.Second,
		Normal: 15 * time.Second,
		Low:    25 * time.Second,
	}
}

// For returns the deadline for the given priority tier.
func (d Deadlines) For(p types.Priority) time.Duration {
	switch p {
	case types.PriorityFast:
		return d.Fast
	case types.PriorityLow:
		return d.Low
	default:
		return d.Normal
	}
}
