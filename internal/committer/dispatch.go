package committer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arkiv/checkpoint-committer/internal/metrics"
)

// Dispatcher writes a CommitBatch to the store in two phases. Every category
// except checkpoints is written concurrently first; the checkpoint rows are
// written only after all of them succeeded, so a checkpoint row in the store
// implies the rest of that checkpoint is durable.
type Dispatcher struct {
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher returns a dispatcher writing to store.
func NewDispatcher(store Store, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, metrics: m, logger: logger}
}

type categoryWrite struct {
	category Category
	persist  func(context.Context) error
}

// Persist runs both phases. The returned error wraps a *PersistError for
// every failed category.
func (d *Dispatcher) Persist(ctx context.Context, b CommitBatch) error {
	start := time.Now()
	if err := d.persistBulk(ctx, b); err != nil {
		return err
	}
	d.metrics.CommitLatencyStep1.Observe(time.Since(start).Seconds())

	return d.write(ctx, b, categoryWrite{
		category: CategoryCheckpoints,
		persist: func(ctx context.Context) error {
			return d.store.PersistCheckpoints(ctx, b.Checkpoints)
		},
	})
}

// persistBulk waits for every write even after one failed.
func (d *Dispatcher) persistBulk(ctx context.Context, b CommitBatch) error {
	writes := []categoryWrite{
		{CategoryTransactions, func(ctx context.Context) error { return d.store.PersistTransactions(ctx, b.Transactions) }},
		{CategoryTxIndices, func(ctx context.Context) error { return d.store.PersistTxIndices(ctx, b.TxIndices) }},
		{CategoryEvents, func(ctx context.Context) error { return d.store.PersistEvents(ctx, b.Events) }},
		{CategoryDisplays, func(ctx context.Context) error { return d.store.PersistDisplays(ctx, b.Displays) }},
		{CategoryPackages, func(ctx context.Context) error { return d.store.PersistPackages(ctx, b.Packages) }},
		{CategoryObjects, func(ctx context.Context) error { return d.store.PersistObjects(ctx, b.ObjectChanges) }},
		{CategoryEpochs, func(ctx context.Context) error { return d.store.PersistEpochs(ctx, b.Epochs) }},
	}

	errs := make([]error, len(writes))
	var g errgroup.Group
	for i, w := range writes {
		g.Go(func() error {
			errs[i] = d.write(ctx, b, w)
			return errs[i]
		})
	}
	if g.Wait() == nil {
		return nil
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) write(ctx context.Context, b CommitBatch, w categoryWrite) error {
	start := time.Now()
	err := w.persist(ctx)
	d.metrics.ObserveCategory(string(w.category), time.Since(start), err)
	if err == nil {
		return nil
	}
	perr := &PersistError{
		Category: w.category,
		First:    b.FirstSequence(),
		Last:     b.LastSequence(),
		Err:      err,
	}
	d.logger.Error("failed to persist data", "category", w.category, "first", perr.First, "last", perr.Last, "err", err)
	return perr
}
