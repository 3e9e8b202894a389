// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"container/heap"
	"time"
)

// item is one queued job ID with its admission priority and enqueue time,
// used to break priority ties FIFO.
type item struct {
	jobID     string
	priority  int
	enqueued  time.Time
	heapIndex int
}

// priorityQueue is a min-heap ordered by (priority, enqueued). No suitable
// third-party priority-queue dependency is wired elsewhere in this module,
// so container/heap is used directly here (see DESIGN.md).
type priorityQueue []*item

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].enqueued.Before(q[j].enqueued)
}

func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *priorityQueue) Push(x any) {
	it := x.(*item)
	it.heapIndex = len(*q)
	*q = append(*q, it)
}

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

var _ = heap.Interface(&priorityQueue{})
