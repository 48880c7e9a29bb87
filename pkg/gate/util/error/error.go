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
)

// Error is an error struct for errors surfaced at the gate's boundary.
type Error struct {
	Code string
	Msg  string

	cause error
}

const (
	Unknown            = "Unknown"
	AdmissionRejected  = "AdmissionRejected"
	NotFound           = "NotFound"
	UpstreamTimeout    = "UpstreamTimeout"
	UpstreamFailure    = "UpstreamFailure"
	PermanentInput     = "PermanentInput"
	InvariantViolation = "InternalInvariantViolation"
)

// Error returns a string version of the error.
func (e Error) Error() string {
	return fmt.Sprintf("promptgate: %s - %s", e.Code, e.Msg)
}

// Unwrap exposes the wrapped cause so sentinel checks with errors.Is keep
// working on coded errors.
func (e Error) Unwrap() error {
	return e.cause
}

// Wrap attaches a canonical code to err without hiding it from errors.Is and
// errors.As. A nil err returns nil.
func Wrap(code string, err error) error {
	if err == nil {
		return nil
	}
	return Error{Code: code, Msg: err.Error(), cause: err}
}

// CanonicalCode returns the error's code, or Unknown for foreign errors.
// It unwraps, so wrapped Errors keep their code.
func CanonicalCode(err error) string {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
