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

package upstream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Teamkn2001/promptgate/pkg/gate/types"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()
	plain := errors.New("upstream hiccup")
	testCases := []struct {
		name      string
		err       error
		permanent bool
		timeout   bool
		retryable bool
	}{
		{name: "nil error", err: nil},
		{name: "plain error is retryable", err: plain, retryable: true},
		{name: "wrapped permanent", err: Permanent(plain), permanent: true},
		{name: "permanent input sentinel", err: fmt.Errorf("%w: empty prompt", types.ErrPermanentInput), permanent: true},
		{name: "timeout sentinel", err: fmt.Errorf("%w: took too long", ErrTimeout), timeout: true, retryable: true},
		{name: "context deadline", err: context.DeadlineExceeded, timeout: true, retryable: true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.permanent, IsPermanent(tc.err))
			assert.Equal(t, tc.timeout, IsTimeout(tc.err))
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}
}

func TestPermanentUnwraps(t *testing.T) {
	t.Parallel()
	cause := errors.New("the cause")
	wrapped := Permanent(cause)
	assert.ErrorIs(t, wrapped, cause, "the original error must stay reachable")
	assert.Nil(t, Permanent(nil))
}

func TestDeadlines(t *testing.T) {
	t.Parallel()
	d := DefaultDeadlines()
	assert.Equal(t, 8*time.Second, d.For(types.PriorityFast))
	assert.Equal(t, 15*time.Second, d.For(types.PriorityNormal))
	assert.Equal(t, 25*time.Second, d.For(types.PriorityLow))
	assert.Less(t, d.For(types.PriorityFast), d.For(types.PriorityLow),
		"faster tiers must get tighter deadlines")
}

func TestSimulatedClient_Generate(t *testing.T) {
	t.Parallel()
	client := NewSimulatedClient(
		WithLatencyRange(time.Millisecond, 2*time.Millisecond),
		WithSeed(1),
	)
	result, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hello", Priority: types.PriorityNormal})
	require.NoError(t, err)
	assert.Contains(t, result.Content, "hello")
	assert.Equal(t, "simulated", result.Model)
	assert.Positive(t, result.TokensUsed)
}

func TestSimulatedClient_AlwaysFails(t *testing.T) {
	t.Parallel()
	client := NewSimulatedClient(
		WithLatencyRange(time.Millisecond, 2*time.Millisecond),
		WithFailureRate(1.0),
		WithSeed(1),
	)
	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hello"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "simulated failures are transient")
	assert.False(t, IsPermanent(err))
}

func TestSimulatedClient_HonoursContext(t *testing.T) {
	t.Parallel()
	client := NewSimulatedClient(WithLatencyRange(10*time.Second, 10*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, GenerateRequest{Prompt: "slow"})
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "a cut-off call must classify as a timeout")
}
