package committer

import (
	"context"

	"github.com/arkiv/checkpoint-committer/internal/model"
	"github.com/arkiv/checkpoint-committer/internal/queue"
)

// DrainReady blocks until one checkpoint is available, then takes whatever
// else is already buffered, up to limit records. It never waits to fill a
// batch. open is false only when the queue is closed and empty.
func DrainReady(ctx context.Context, q *queue.Queue, limit int) (records []model.IndexedCheckpoint, open bool, err error) {
	if limit < 1 {
		limit = 1
	}
	first, ok, err := q.Recv(ctx)
	if err != nil {
		return nil, true, err
	}
	if !ok {
		return nil, false, nil
	}
	records = make([]model.IndexedCheckpoint, 0, limit)
	records = append(records, first)
	for len(records) < limit {
		next, ok := q.TryRecv()
		if !ok {
			break
		}
		records = append(records, next)
	}
	return records, true, nil
}
