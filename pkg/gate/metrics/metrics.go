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

// Package metrics holds the gate's prometheus instrumentation. Metrics are
// recorded through package helpers so call sites stay one-liners.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// GateSubsystem is the subsystem label for all gate metrics.
	GateSubsystem = "promptgate"
)

var (
	pathPriorityOutcome = []string{"path", "priority", "outcome"}

	// upstreamLatencyBuckets spans quick simulated calls through slow real
	// generations.
	upstreamLatencyBuckets = []float64{
		0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120,
	}
	// queueWaitBuckets spans instant dispatch through deep-backlog waits.
	queueWaitBuckets = []float64{
		0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
	}
)

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: GateSubsystem,
			Name:      "request_total",
			Help:      "Counter of requests reaching a terminal outcome, by path, priority and outcome.",
		},
		pathPriorityOutcome,
	)

	admissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: GateSubsystem,
			Name:      "admission_rejections_total",
			Help:      "Counter of submissions rejected by the capacity governor, by path and reason.",
		},
		[]string{"path", "reason"},
	)

	retryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: GateSubsystem,
			Name:      "retries_total",
			Help:      "Counter of queue-path requeues after retryable upstream failures, by priority.",
		},
		[]string{"priority"},
	)

	inFlightGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: GateSubsystem,
			Name:      "inflight_requests",
			Help:      "Number of upstream calls currently in flight, by path.",
		},
		[]string{"path"},
	)

	queueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: GateSubsystem,
			Name:      "queue_depth",
			Help:      "Number of entries waiting in the priority queue, by priority.",
		},
		[]string{"priority"},
	)

	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: GateSubsystem,
			Name:      "upstream_duration_seconds",
			Help:      "Histogram of upstream call duration, by priority and outcome.",
			Buckets:   upstreamLatencyBuckets,
		},
		[]string{"priority", "outcome"},
	)

	queueWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: GateSubsystem,
			Name:      "queue_wait_seconds",
			Help:      "Histogram of time between submission and first dispatch, by priority.",
			Buckets:   queueWaitBuckets,
		},
		[]string{"priority"},
	)
)

var registerMetrics sync.Once

// Register registers all gate metrics with the given registerer exactly once.
// Passing nil uses the default registerer.
func Register(r prometheus.Registerer) {
	registerMetrics.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		r.MustRegister(
			requestCounter,
			admissionRejections,
			retryCounter,
			inFlightGauge,
			queueDepthGauge,
			upstreamDuration,
			queueWaitDuration,
		)
	})
}

// RecordRequestOutcome counts one terminal request outcome.
func RecordRequestOutcome(path, priority, outcome string) {
	requestCounter.WithLabelValues(path, priority, outcome).Inc()
}

// RecordAdmissionRejection counts one governor rejection.
func RecordAdmissionRejection(path, reason string) {
	admissionRejections.WithLabelValues(path, reason).Inc()
}

// RecordRetry counts one requeue after a retryable failure.
func RecordRetry(priority string) {
	retryCounter.WithLabelValues(priority).Inc()
}

// SetInFlight sets the in-flight gauge for a path.
func SetInFlight(path string, n int) {
	inFlightGauge.WithLabelValues(path).Set(float64(n))
}

// SetQueueDepth sets the queue depth gauge for a priority tier.
func SetQueueDepth(priority string, n int) {
	queueDepthGauge.WithLabelValues(priority).Set(float64(n))
}

// RecordUpstreamDuration observes one upstream call duration.
func RecordUpstreamDuration(priority, outcome string, d time.Duration) {
	upstreamDuration.WithLabelValues(priority, outcome).Observe(d.Seconds())
}

// RecordQueueWait observes the submission-to-dispatch wait for one request.
func RecordQueueWait(priority string, d time.Duration) {
	queueWaitDuration.WithLabelValues(priority).Observe(d.Seconds())
}
