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

// Package analytics is the pure read side of the gate: health, statistics,
// and per-day aggregates computed from store snapshots and the governor's
// capacity view. Nothing here mutates scheduling state, so every endpoint is
// safe to call at any rate while the system is under load.
package analytics

import (
	"sort"
	"time"

	"k8s.io/utils/clock"

	"github.com/Teamkn2001/promptgate/pkg/gate/governor"
	"github.com/Teamkn2001/promptgate/pkg/gate/store"
	"github.com/Teamkn2001/promptgate/pkg/gate/types"
)

// LoadStatus is the coarse health classification of the system.
type LoadStatus string

const (
	// LoadHealthy means queue utilization is below the busy threshold.
	LoadHealthy LoadStatus = "healthy"
	// LoadBusy means queue utilization is elevated but below overload.
	LoadBusy LoadStatus = "busy"
	// LoadOverloaded means queue utilization is at or past the overload
	// threshold; admission rejections are likely imminent.
	LoadOverloaded LoadStatus = "overloaded"
)

const (
	// busyThreshold and overloadedThreshold classify queue utilization.
	busyThreshold       = 0.5
	overloadedThreshold = 0.8
)

// Health is a point-in-time liveness and load view.
type Health struct {
	Status           LoadStatus
	AcceptingTraffic bool
	Uptime           time.Duration

	// QueueUtilization is queue depth over the depth bound, in [0, 1+].
	QueueUtilization float64
	InFlight         int
	MaxConcurrency   int
	QueueDepth       int
	MaxQueueDepth    int
}

// Stats aggregates the retained record window plus the governor's rolling
// outcome window.
type Stats struct {
	Total      int
	ByState    map[string]int
	ByPriority map[string]int

	// SuccessRate and AvgProcessingTime come from the governor's rolling
	// window; they cover the last WindowSize completed units, not all time.
	SuccessRate       float64
	AvgProcessingTime time.Duration
	WindowSize        int
}

// DayBucket aggregates terminal records completed on one UTC day.
type DayBucket struct {
	// Day is the UTC date in 2006-01-02 form.
	Day       string
	Succeeded int
	Failed    int
	Cancelled int
}

// Aggregator computes read-only views. It is constructed once by the gate;
// its start time anchors the uptime report.
type Aggregator struct {
	store     *store.Store
	governor  *governor.Governor
	clock     clock.PassiveClock
	startedAt time.Time
}

// New creates an Aggregator anchored at the current time.
func New(s *store.Store, g *governor.Governor, clk clock.PassiveClock) *Aggregator {
	return &Aggregator{
		store:     s,
		governor:  g,
		clock:     clk,
		startedAt: clk.Now(),
	}
}

// Health reports uptime, the admission mirror AcceptingTraffic, and a coarse
// load classification from queue utilization.
func (a *Aggregator) Health() Health {
	snap := a.governor.Snapshot()
	utilization := 0.0
	if snap.MaxQueueDepth > 0 {
		utilization = float64(snap.QueueDepth) / float64(snap.MaxQueueDepth)
	}
	status := LoadHealthy
	switch {
	case utilization >= overloadedThreshold:
		status = LoadOverloaded
	case utilization >= busyThreshold:
		status = LoadBusy
	}
	return Health{
		Status:           status,
		AcceptingTraffic: snap.AcceptingTraffic,
		Uptime:           a.clock.Now().Sub(a.startedAt),
		QueueUtilization: utilization,
		InFlight:         snap.InFlight,
		MaxConcurrency:   snap.MaxConcurrency,
		QueueDepth:       snap.QueueDepth,
		MaxQueueDepth:    snap.MaxQueueDepth,
	}
}

// Stats aggregates retained records by state and priority and folds in the
// governor's rolling success rate and processing time.
func (a *Aggregator) Stats() Stats {
	records := a.store.Snapshot()
	stats := Stats{
		Total:      len(records),
		ByState:    make(map[string]int),
		ByPriority: make(map[string]int),
	}
	for _, rec := range records {
		stats.ByState[rec.State.String()]++
		stats.ByPriority[rec.Priority.String()]++
	}
	snap := a.governor.Snapshot()
	stats.SuccessRate = snap.SuccessRate
	stats.AvgProcessingTime = snap.AvgProcessingTime
	stats.WindowSize = snap.WindowSize
	return stats
}

// Analytics buckets terminal retained records by UTC completion day, oldest
// day first. Non-terminal records are excluded; they have no completion time.
func (a *Aggregator) Analytics() []DayBucket {
	buckets := make(map[string]*DayBucket)
	for _, rec := range a.store.Snapshot() {
		if !rec.State.Terminal() {
			continue
		}
		day := rec.CompletedAt.UTC().Format("2006-01-02")
		b, ok := buckets[day]
		if !ok {
			b = &DayBucket{Day: day}
			buckets[day] = b
		}
		switch rec.State {
		case types.StateSucceeded:
			b.Succeeded++
		case types.StateFailed:
			b.Failed++
		case types.StateCancelled:
			b.Cancelled++
		}
	}
	out := make([]DayBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// Capacity exposes the raw governor snapshot.
func (a *Aggregator) Capacity() governor.Snapshot {
	return a.governor.Snapshot()
}
