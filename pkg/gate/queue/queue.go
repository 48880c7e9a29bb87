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

// Package queue provides the concurrent-safe priority queue that orders
// pending work for the scheduler.
//
// Ordering is two-keyed: the primary key is the priority tier rank (fast
// before normal before low) and the secondary key is a monotonically
// increasing enqueue sequence number, giving strict FIFO within a tier. The
// sequence tie-break prevents starvation inside a tier; across tiers a higher
// tier always wins while non-empty.
package queue

import (
	"container/heap"
	"sync"

	"github.com/Teamkn2001/promptgate/pkg/gate/types"
)

// Entry is the transient ordering wrapper around a request id. It is owned by
// the queue while enqueued and by the dequeuing worker afterwards; one record
// never has more than one live Entry.
type Entry struct {
	RequestID string
	Priority  types.Priority

	// seq is the enqueue sequence number. A parked or requeued entry keeps its
	// original sequence, which places it ahead of everything submitted after it
	// within its tier.
	seq uint64
}

// item wraps an Entry with its heap index so removal by id stays O(log n).
type item struct {
	entry Entry
	index int
}

// Queue is a concurrent-safe two-key priority queue. The zero value is not
// usable; use New.
type Queue struct {
	mu      sync.Mutex
	items   []*item
	byID    map[string]*item
	nextSeq uint64
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{byID: make(map[string]*item)}
}

// Enqueue inserts a new entry for the given request id, assigning it the next
// sequence number. It returns false if the id is already enqueued; an entry is
// never duplicated for one record.
func (q *Queue) Enqueue(id string, priority types.Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[id]; ok {
		return false
	}
	it := &item{entry: Entry{RequestID: id, Priority: priority, seq: q.nextSeq}}
	q.nextSeq++
	q.byID[id] = it
	heap.Push(&ordered{q}, it)
	return true
}

// Requeue reinserts a previously dequeued entry with its original sequence
// number, returning it to the head of its tier relative to later submissions.
// This is how a worker parks work it could not dispatch and how the scheduler
// makes a retried request eligible again.
func (q *Queue) Requeue(e Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[e.RequestID]; ok {
		return false
	}
	it := &item{entry: e}
	q.byID[e.RequestID] = it
	heap.Push(&ordered{q}, it)
	return true
}

// DequeueNext removes and returns the highest-priority, earliest-submitted
// entry. An empty queue returns ok=false; it is not an error.
func (q *Queue) DequeueNext() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Entry{}, false
	}
	it := heap.Pop(&ordered{q}).(*item)
	delete(q.byID, it.entry.RequestID)
	return it.entry, true
}

// Remove deletes the entry for the given request id, if still enqueued. It
// returns false when the id is unknown, e.g. already dequeued. This is the
// queue half of best-effort cancellation.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&ordered{q}, it.index)
	delete(q.byID, id)
	return true
}

// Len returns the number of enqueued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DepthByTier returns the number of enqueued entries per priority tier.
func (q *Queue) DepthByTier() map[types.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depths := make(map[types.Priority]int, len(types.Priorities))
	for _, p := range types.Priorities {
		depths[p] = 0
	}
	for _, it := range q.items {
		depths[it.entry.Priority]++
	}
	return depths
}

// PositionOf returns the 1-based dequeue position of the given request id, or
// 0 if it is not enqueued. Used for submit-time position reporting; O(n).
func (q *Queue) PositionOf(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	target, ok := q.byID[id]
	if !ok {
		return 0
	}
	pos := 1
	for _, it := range q.items {
		if it != target && it.entry.less(target.entry) {
			pos++
		}
	}
	return pos
}

func (e Entry) less(other Entry) bool {
	if e.Priority.Rank() != other.Priority.Rank() {
		return e.Priority.Rank() < other.Priority.Rank()
	}
	return e.seq < other.seq
}

// ordered adapts Queue's item slice to heap.Interface. All calls happen with
// q.mu held.
type ordered struct{ q *Queue }

func (o ordered) Len() int { return len(o.q.items) }

func (o ordered) Less(i, j int) bool {
	return o.q.items[i].entry.less(o.q.items[j].entry)
}

func (o ordered) Swap(i, j int) {
	items := o.q.items
	items[i], items[j] = items[j], items[i]
	items[i].index = i
	items[j].index = j
}

func (o ordered) Push(x any) {
	it := x.(*item)
	it.index = len(o.q.items)
	o.q.items = append(o.q.items, it)
}

func (o ordered) Pop() any {
	old := o.q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	o.q.items = old[:n-1]
	return it
}
