// Package queue provides the bounded FIFO buffer that decouples admission from
// the worker pool.
package queue

import (
	"context"
	"sync/atomic"

	"github.com/queueworks/workd/internal/core"
)

// Queue is a bounded FIFO job buffer. Enqueue never blocks; Dequeue blocks
// until a job is available or the context is cancelled. Capacity is governed
// purely by the jobs physically present in the buffer.
type Queue struct {
	jobs     chan *core.Job
	capacity int

	enqueued  atomic.Int64
	processed atomic.Int64
}

// Metrics is a point-in-time snapshot of queue counters.
type Metrics struct {
	CurrentSize    int   `json:"current_size"`
	MaxSize        int   `json:"max_size"`
	TotalEnqueued  int64 `json:"total_enqueued"`
	TotalProcessed int64 `json:"total_processed"`
}

// New creates a queue with the given capacity. A capacity below 1 defaults to 1.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		jobs:     make(chan *core.Job, capacity),
		capacity: capacity,
	}
}

// Enqueue adds a job without blocking. It returns false when the queue is at
// capacity; this is the async path's backpressure signal.
func (q *Queue) Enqueue(job *core.Job) bool {
	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return true
	default:
		return false
	}
}

// Dequeue removes the oldest job, blocking until one is available. It returns
// the context's error if ctx is cancelled while waiting.
func (q *Queue) Dequeue(ctx context.Context) (*core.Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MarkDone records that a dequeued job finished processing. It feeds the
// processed counter only; capacity accounting happens at dequeue.
func (q *Queue) MarkDone() {
	q.processed.Add(1)
}

// Size returns the number of jobs currently buffered.
func (q *Queue) Size() int {
	return len(q.jobs)
}

// Snapshot returns the queue's observability counters.
func (q *Queue) Snapshot() Metrics {
	return Metrics{
		CurrentSize:    len(q.jobs),
		MaxSize:        q.capacity,
		TotalEnqueued:  q.enqueued.Load(),
		TotalProcessed: q.processed.Load(),
	}
}
