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

// Package runner parses flags and environment overrides, wires the gate
// service around a simulated upstream, and runs it until SIGINT/SIGTERM.
package runner

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Teamkn2001/promptgate/pkg/gate"
	"github.com/Teamkn2001/promptgate/pkg/gate/governor"
	"github.com/Teamkn2001/promptgate/pkg/gate/instant"
	"github.com/Teamkn2001/promptgate/pkg/gate/metrics"
	"github.com/Teamkn2001/promptgate/pkg/gate/scheduler"
	"github.com/Teamkn2001/promptgate/pkg/gate/session"
	"github.com/Teamkn2001/promptgate/pkg/gate/store"
	"github.com/Teamkn2001/promptgate/pkg/gate/upstream"
	"github.com/Teamkn2001/promptgate/pkg/gate/util/env"
	logutil "github.com/Teamkn2001/promptgate/pkg/gate/util/logging"
	"github.com/Teamkn2001/promptgate/version"
	"k8s.io/utils/clock"
)

// Runner owns the process lifecycle of the gate.
type Runner struct{}

// NewRunner creates a Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Run parses configuration, starts the gate and blocks until a termination
// signal arrives.
func (r *Runner) Run() error {
	var (
		verbosity = flag.Int("v", logutil.DEFAULT, "log verbosity level")

		maxConcurrency = flag.Int("max-concurrency", 5, "concurrency ceiling for upstream calls")
		maxQueueDepth  = flag.Int("max-queue-depth", 100, "queue depth bound before admission rejection")
		instantLimit   = flag.Int("instant-limit", 20, "concurrency sub-limit for the instant path")
		workers        = flag.Int("workers", 0, "worker pool size; 0 means max-concurrency")
		maxAttempts    = flag.Int("max-attempts", 3, "total tries per request")
		retention      = flag.Duration("retention", 5*time.Minute, "terminal record retention age")

		latencyMin  = flag.Duration("sim-latency-min", 50*time.Millisecond, "simulated upstream minimum latency")
		latencyMax  = flag.Duration("sim-latency-max", 250*time.Millisecond, "simulated upstream maximum latency")
		failureRate = flag.Float64("sim-failure-rate", 0, "simulated upstream failure probability in [0,1]")
		rateLimit   = flag.Float64("sim-rate-limit", 0, "simulated upstream requests/sec quota; 0 disables")
	)
	flag.Parse()

	logger := logutil.NewLogger(*verbosity)

	// Environment variables override flag defaults, matching containerized
	// deployments where flags are baked into the image.
	govCfg, err := governor.NewConfig(
		governor.WithMaxConcurrency(env.GetEnvInt("PROMPTGATE_MAX_CONCURRENCY", *maxConcurrency, logger)),
		governor.WithMaxQueueDepth(env.GetEnvInt("PROMPTGATE_MAX_QUEUE_DEPTH", *maxQueueDepth, logger)),
		governor.WithInstantLimit(env.GetEnvInt("PROMPTGATE_INSTANT_LIMIT", *instantLimit, logger)),
	)
	if err != nil {
		logger.Error(err, "Invalid governor configuration")
		return err
	}
	storeCfg, err := store.NewConfig(
		store.WithRetentionAge(env.GetEnvDuration("PROMPTGATE_RETENTION", *retention, logger)),
	)
	if err != nil {
		logger.Error(err, "Invalid store configuration")
		return err
	}
	workerCount := env.GetEnvInt("PROMPTGATE_WORKERS", *workers, logger)
	if workerCount <= 0 {
		workerCount = govCfg.MaxConcurrency
	}
	schedCfg, err := scheduler.NewConfig(
		scheduler.WithWorkers(workerCount),
		scheduler.WithMaxAttempts(env.GetEnvInt("PROMPTGATE_MAX_ATTEMPTS", *maxAttempts, logger)),
	)
	if err != nil {
		logger.Error(err, "Invalid scheduler configuration")
		return err
	}
	instCfg, err := instant.NewConfig()
	if err != nil {
		logger.Error(err, "Invalid instant configuration")
		return err
	}
	cfg, err := gate.NewConfig(
		gate.WithGovernorConfig(govCfg),
		gate.WithStoreConfig(storeCfg),
		gate.WithSchedulerConfig(schedCfg),
		gate.WithInstantConfig(instCfg),
	)
	if err != nil {
		logger.Error(err, "Invalid gate configuration")
		return err
	}

	simOpts := []upstream.SimulatedOption{
		upstream.WithLatencyRange(*latencyMin, *latencyMax),
		upstream.WithFailureRate(env.GetEnvFloat("PROMPTGATE_SIM_FAILURE_RATE", *failureRate, logger)),
	}
	if rps := env.GetEnvFloat("PROMPTGATE_SIM_RATE_LIMIT", *rateLimit, logger); rps > 0 {
		simOpts = append(simOpts, upstream.WithRateLimit(rps, int(rps)))
	}
	client := upstream.NewSimulatedClient(simOpts...)

	metrics.Register(prometheus.DefaultRegisterer)

	svc, err := gate.New(cfg, client, logger,
		gate.WithSessionStore(session.NewMemoryStore(clock.RealClock{})))
	if err != nil {
		logger.Error(err, "Failed to construct gate")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting gate",
		"buildRef", version.BuildRef, "commitSHA", version.CommitSHA,
		"maxConcurrency", govCfg.MaxConcurrency, "maxQueueDepth", govCfg.MaxQueueDepth,
		"instantLimit", govCfg.InstantLimit, "workers", workerCount)
	svc.Run(ctx)
	return nil
}
