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

package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels used with logr's V(). Higher values are chattier.
const (
	DEFAULT = 1
	VERBOSE = 2
	DEBUG   = 3
	TRACE   = 4
)

// NewLogger creates a production zap-backed logr.Logger at the given verbosity.
// logr V-levels map to negated zap levels, so verbosity 0 corresponds to
// zap's Info level.
func NewLogger(verbosity int) logr.Logger {
	cfg := uberzap.NewProductionConfig()
	cfg.Level = uberzap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	zapLog, err := cfg.Build(uberzap.AddCaller())
	if err != nil {
		// The production config cannot fail to build with a valid level; treat
		// anything else as a programming error.
		panic(err)
	}
	return zapr.NewLogger(zapLog)
}

// NewTestLogger creates a new Zap logger using the dev mode, at TRACE
// verbosity so tests capture everything.
func NewTestLogger() logr.Logger {
	cfg := uberzap.NewDevelopmentConfig()
	cfg.Level = uberzap.NewAtomicLevelAt(zapcore.Level(-TRACE))
	zapLog, err := cfg.Build(uberzap.AddCaller())
	if err != nil {
		panic(err)
	}
	return zapr.NewLogger(zapLog)
}
