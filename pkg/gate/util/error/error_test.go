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

package error

import (
	"errors"
	"fmt"
	"testing"
)

var errSentinel = errors.New("request not found")

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  Error
		want string
	}{
		{
			name: "AdmissionRejected error",
			err: Error{
				Code: AdmissionRejected,
				Msg:  "system saturated",
			},
			want: "promptgate: AdmissionRejected - system saturated",
		},
		{
			name: "NotFound error",
			err: Error{
				Code: NotFound,
				Msg:  "no such request",
			},
			want: "promptgate: NotFound - no such request",
		},
		{
			name: "UpstreamTimeout error",
			err: Error{
				Code: UpstreamTimeout,
				Msg:  "deadline exceeded",
			},
			want: "promptgate: UpstreamTimeout - deadline exceeded",
		},
		{
			name: "PermanentInput error",
			err: Error{
				Code: PermanentInput,
				Msg:  "prompt is empty",
			},
			want: "promptgate: PermanentInput - prompt is empty",
		},
		{
			name: "InvariantViolation error",
			err: Error{
				Code: InvariantViolation,
				Msg:  "ticket released more than once",
			},
			want: "promptgate: InternalInvariantViolation - ticket released more than once",
		},
		{
			name: "Empty message",
			err: Error{
				Code: UpstreamFailure,
				Msg:  "",
			},
			want: "promptgate: UpstreamFailure - ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanonicalCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "Error type with AdmissionRejected code",
			err: Error{
				Code: AdmissionRejected,
				Msg:  "system saturated",
			},
			want: AdmissionRejected,
		},
		{
			name: "Wrapped sentinel keeps its code",
			err:  Wrap(NotFound, errSentinel),
			want: NotFound,
		},
		{
			name: "Error wrapped one level deeper",
			err:  fmt.Errorf("status: %w", Wrap(NotFound, errSentinel)),
			want: NotFound,
		},
		{
			name: "Non-Error type",
			err:  errors.New("standard go error"),
			want: Unknown,
		},
		{
			name: "Nil error",
			err:  nil,
			want: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalCode(tt.err); got != tt.want {
				t.Errorf("CanonicalCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if got := Wrap(NotFound, nil); got != nil {
		t.Errorf("Wrap(code, nil) = %v, want nil", got)
	}

	wrapped := Wrap(NotFound, errSentinel)
	if !errors.Is(wrapped, errSentinel) {
		t.Errorf("errors.Is(Wrap(code, err), err) = false, want true")
	}
	var e Error
	if !errors.As(wrapped, &e) {
		t.Fatalf("errors.As(Wrap(code, err), *Error) = false, want true")
	}
	if e.Msg != errSentinel.Error() {
		t.Errorf("wrapped Msg = %v, want %v", e.Msg, errSentinel.Error())
	}
}
