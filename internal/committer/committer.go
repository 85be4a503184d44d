// Package committer drains indexed checkpoints from the queue, writes them to
// the store in batches and advances the committed watermark.
package committer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arkiv/checkpoint-committer/internal/metrics"
	"github.com/arkiv/checkpoint-committer/internal/model"
	"github.com/arkiv/checkpoint-committer/internal/queue"
	"github.com/arkiv/checkpoint-committer/internal/watermark"
)

// Committer owns the commit loop. Cycles never overlap.
type Committer struct {
	cfg        Config
	dispatcher *Dispatcher
	publisher  *watermark.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New returns a committer. It takes the only write handle of the watermark.
func New(cfg Config, store Store, publisher *watermark.Publisher, m *metrics.Metrics, logger *slog.Logger) (*Committer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With("component", "committer")
	return &Committer{
		cfg:        cfg,
		dispatcher: NewDispatcher(store, m, logger),
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Run commits batches until q is closed and drained, which returns nil. Any
// persistence or publish failure stops the loop and is returned; the caller
// is expected to restart from the store's latest checkpoint.
func (c *Committer) Run(ctx context.Context, q *queue.Queue) error {
	c.logger.Info("checkpoint commit task started", "batch_size", c.cfg.BatchSize, "skip_commit", c.cfg.SkipCommit)
	for {
		records, open, err := DrainReady(ctx, q, c.cfg.BatchSize)
		if err != nil {
			return err
		}
		if !open {
			c.logger.Info("checkpoint stream closed, commit task exiting")
			return nil
		}
		if len(records) == 0 {
			continue
		}
		c.metrics.BatchSize.Observe(float64(len(records)))
		c.logger.Debug("drained checkpoints", "count", len(records), "backlog", q.Len())

		if c.cfg.SkipCommit {
			c.logger.Info("indexed checkpoints, skipping commit",
				"first", records[0].Checkpoint.SequenceNumber,
				"last", records[len(records)-1].Checkpoint.SequenceNumber,
			)
			c.metrics.SkippedCheckpoints.Add(float64(len(records)))
			continue
		}
		if err := c.Commit(ctx, records); err != nil {
			return err
		}
	}
}

// Commit writes one batch and publishes its last sequence number.
func (c *Committer) Commit(ctx context.Context, records []model.IndexedCheckpoint) error {
	batch := NewCommitBatch(records)
	if batch.Empty() {
		return nil
	}
	first, last := batch.FirstSequence(), batch.LastSequence()
	c.logger.Info("committing checkpoints", "first", first, "last", last, "transactions", len(batch.Transactions))

	start := time.Now()
	if err := c.dispatcher.Persist(ctx, batch); err != nil {
		return err
	}
	elapsed := time.Since(start)
	c.metrics.CommitLatency.Observe(elapsed.Seconds())

	if err := c.publisher.Publish(last); err != nil {
		prev, _ := c.publisher.Latest()
		return fmt.Errorf("publish committed checkpoint %d over %d: %w", last, prev, err)
	}

	c.metrics.ObserveCommitted(metrics.CommitStats{
		LastCheckpoint: last,
		Checkpoints:    len(batch.Checkpoints),
		Transactions:   len(batch.Transactions),
		Epochs:         len(batch.Epochs),
		Elapsed:        elapsed,
	})
	c.logger.Info("checkpoints committed",
		"first", first,
		"last", last,
		"transactions", len(batch.Transactions),
		"elapsed", elapsed.Seconds(),
	)
	return nil
}
