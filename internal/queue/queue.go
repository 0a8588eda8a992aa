// Folium - Collaborative Class Notes Server
// Copyright 2026 Folium Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/folium-app/folium-server

// Package queue provides the Core's bounded priority task queue.
//
// Tasks are ordered by (priority, insertion sequence): lower priority values
// dequeue first, and equal priorities dequeue in FIFO order. Capacity equals
// the worker-pool size; the dispatcher drops tasks instead of blocking when
// the queue is full.
package queue

import (
	"sync"

	"github.com/folium-app/folium-server/internal/task"
)

type entry struct {
	t        *task.Task
	priority int
	seq      uint64
}

// less orders the heap by (priority, seq). seq breaks ties FIFO.
func (e *entry) less(other *entry) bool {
	if e.priority != other.priority {
		return e.priority < other.priority
	}
	return e.seq < other.seq
}

// Queue is a bounded min-heap of tasks with a single not-empty condition.
// Pop blocks; Push never does.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	heap     []*entry
	seq      uint64
	capacity int
	shutdown bool
}

// New creates a queue holding at most capacity tasks.
func New(capacity int) *Queue {
	q := &Queue{
		heap:     make([]*entry, 0, capacity),
		capacity: capacity,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// TryPush enqueues t at the priority recomputed from its kind. It returns
// false without enqueueing when the queue is at capacity or shutting down;
// the caller owns the drop.
func (q *Queue) TryPush(t *task.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown || len(q.heap) >= q.capacity {
		return false
	}

	q.seq++
	q.heap = append(q.heap, &entry{t: t, priority: t.Kind.Priority(), seq: q.seq})
	q.bubbleUp(len(q.heap) - 1)

	q.notEmpty.Signal()
	return true
}

// Pop removes and returns the most urgent task, blocking while the queue is
// empty. It returns ok=false once the queue is shut down and drained.
func (q *Queue) Pop() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 && !q.shutdown {
		q.notEmpty.Wait()
	}
	if len(q.heap) == 0 {
		return nil, false
	}

	top := q.heap[0]
	last := len(q.heap) - 1
	q.heap[0] = q.heap[last]
	q.heap[last] = nil
	q.heap = q.heap[:last]
	if len(q.heap) > 0 {
		q.bubbleDown(0)
	}
	return top.t, true
}

// Shutdown wakes all blocked Pop callers. Tasks already enqueued are still
// handed out; once drained, Pop returns ok=false.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.shutdown = true
	q.notEmpty.Broadcast()
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// bubbleUp restores heap order from index i toward the root.
// Must be called with mu held.
func (q *Queue) bubbleUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.heap[i].less(q.heap[parent]) {
			break
		}
		q.heap[i], q.heap[parent] = q.heap[parent], q.heap[i]
		i = parent
	}
}

// bubbleDown restores heap order from index i toward the leaves.
// Must be called with mu held.
func (q *Queue) bubbleDown(i int) {
	n := len(q.heap)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && q.heap[left].less(q.heap[smallest]) {
			smallest = left
		}
		if right < n && q.heap[right].less(q.heap[smallest]) {
			smallest = right
		}
		if smallest == i {
			return
		}
		q.heap[i], q.heap[smallest] = q.heap[smallest], q.heap[i]
		i = smallest
	}
}
