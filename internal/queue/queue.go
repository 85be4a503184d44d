// Package queue is the bounded channel between the indexing stage and the
// committer. A full queue blocks the producer.
package queue

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkiv/checkpoint-committer/internal/model"
)

// Queue carries indexed checkpoints in FIFO order from one logical producer to
// a single consumer.
type Queue struct {
	ch       chan model.IndexedCheckpoint
	inflight prometheus.Gauge

	closeOnce sync.Once
}

// New returns a queue that buffers up to capacity items. inflight may be nil.
func New(capacity int, inflight prometheus.Gauge) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:       make(chan model.IndexedCheckpoint, capacity),
		inflight: inflight,
	}
}

// Send enqueues item, blocking while the buffer is full.
// The gauge is raised before the item becomes visible so a consumer can never
// lower it below zero.
func (q *Queue) Send(ctx context.Context, item model.IndexedCheckpoint) error {
	if q.inflight != nil {
		q.inflight.Inc()
	}
	select {
	case <-ctx.Done():
		q.received()
		return ctx.Err()
	case q.ch <- item:
		return nil
	}
}

// Close marks the end of the stream. Buffered items are still delivered.
// Send must not be called after Close.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Recv blocks for the next item. ok is false once the queue is closed and
// drained.
func (q *Queue) Recv(ctx context.Context) (item model.IndexedCheckpoint, ok bool, err error) {
	select {
	case <-ctx.Done():
		return model.IndexedCheckpoint{}, false, ctx.Err()
	case item, ok = <-q.ch:
		if ok {
			q.received()
		}
		return item, ok, nil
	}
}

// TryRecv returns the next item if one is already buffered.
func (q *Queue) TryRecv() (model.IndexedCheckpoint, bool) {
	select {
	case item, ok := <-q.ch:
		if ok {
			q.received()
		}
		return item, ok
	default:
		return model.IndexedCheckpoint{}, false
	}
}

// Len reports how many items are buffered.
func (q *Queue) Len() int { return len(q.ch) }

// Cap reports the buffer capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

func (q *Queue) received() {
	if q.inflight != nil {
		q.inflight.Dec()
	}
}
