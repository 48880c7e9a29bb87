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

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		input     string
		expect    Priority
		expectErr bool
	}{
		{input: "fast", expect: PriorityFast},
		{input: "normal", expect: PriorityNormal},
		{input: "low", expect: PriorityLow},
		{input: "", expect: PriorityNormal},
		{input: "urgent", expect: PriorityNormal, expectErr: true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run("input_"+tc.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePriority(tc.input)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, got)
		})
	}
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()
	assert.Less(t, PriorityFast.Rank(), PriorityNormal.Rank())
	assert.Less(t, PriorityNormal.Rank(), PriorityLow.Rank())
	assert.Equal(t, []Priority{PriorityFast, PriorityNormal, PriorityLow}, Priorities)
}

func TestRequestStateTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
}

func TestRequestRecordClone(t *testing.T) {
	t.Parallel()
	original := &RequestRecord{
		ID:        "req-1",
		Prompt:    "hello",
		Priority:  PriorityFast,
		State:     StateFailed,
		ErrorInfo: &ErrorInfo{Code: "UpstreamFailure", Message: "boom"},
		Attempt:   2,
	}
	clone := original.Clone()
	require.Empty(t, cmp.Diff(original, clone), "clone must be value-equal to the original")

	clone.ErrorInfo.Message = "tampered"
	clone.State = StateSucceeded
	assert.Equal(t, "boom", original.ErrorInfo.Message, "clones must not share error info")
	assert.Equal(t, StateFailed, original.State)
}
