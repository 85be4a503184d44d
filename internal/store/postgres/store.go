// Package postgres is the Postgres backend of the committer. Every write is
// idempotent: rows keyed by sequence number are inserted with ON CONFLICT DO
// NOTHING and mutable rows only move forward in version.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkiv/checkpoint-committer/internal/model"
	"github.com/arkiv/checkpoint-committer/internal/store"
)

const pingAttempts = 3

// Store writes each category in its own transaction.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Backend = (*Store)(nil)

// Open connects, waits for the database and creates the schema.
func Open(ctx context.Context, connStr string, maxConns int32, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger = logger.With("component", "postgres")
	if err := pingWithRetry(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// pingWithRetry tries up to pingAttempts times, backing off 1s, 2s, 3s.
func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < pingAttempts; attempt++ {
		err := pool.Ping(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("database not reachable", "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	return lastErr
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// LatestCheckpoint returns the highest checkpoint row.
func (s *Store) LatestCheckpoint(ctx context.Context) (uint64, bool, error) {
	var seq *int64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(sequence_number) FROM checkpoints`).Scan(&seq); err != nil {
		return 0, false, fmt.Errorf("query latest checkpoint: %w", err)
	}
	if seq == nil {
		return 0, false, nil
	}
	return uint64(*seq), true, nil
}

// send runs the queued statements in one transaction.
func (s *Store) send(ctx context.Context, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
}

func (s *Store) PersistTransactions(ctx context.Context, txs []model.Transaction) error {
	b := &pgx.Batch{}
	for _, t := range txs {
		b.Queue(`INSERT INTO transactions
			(tx_sequence_number, transaction_digest, checkpoint_sequence_number, timestamp_ms, sender, success, gas_used, raw_transaction)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tx_sequence_number) DO NOTHING`,
			int64(t.SequenceNumber), t.Digest, int64(t.Checkpoint), t.TimestampMs, t.Sender, t.Success, int64(t.GasUsed), t.Raw,
		)
	}
	return s.send(ctx, b)
}

func (s *Store) PersistTxIndices(ctx context.Context, indices []model.TxIndex) error {
	b := &pgx.Batch{}
	for _, i := range indices {
		b.Queue(`INSERT INTO tx_indices
			(tx_sequence_number, transaction_digest, checkpoint_sequence_number, input_objects, changed_objects, senders, recipients, packages)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tx_sequence_number) DO NOTHING`,
			int64(i.TxSequenceNumber), i.Digest, int64(i.Checkpoint),
			store.NonNil(i.InputObjects), store.NonNil(i.ChangedObjects), store.NonNil(i.Senders),
			store.NonNil(i.Recipients), store.NonNil(i.Packages),
		)
	}
	return s.send(ctx, b)
}

func (s *Store) PersistEvents(ctx context.Context, events []model.Event) error {
	b := &pgx.Batch{}
	for _, e := range events {
		b.Queue(`INSERT INTO events
			(tx_sequence_number, event_sequence_number, checkpoint_sequence_number, package, module, event_type, sender, contents)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tx_sequence_number, event_sequence_number) DO NOTHING`,
			int64(e.TxSequenceNumber), int64(e.EventSequenceNumber), int64(e.Checkpoint),
			e.PackageID, e.Module, e.EventType, e.Sender, e.Contents,
		)
	}
	return s.send(ctx, b)
}

func (s *Store) PersistDisplays(ctx context.Context, displays map[string]model.Display) error {
	b := &pgx.Batch{}
	for _, d := range store.SortedDisplays(displays) {
		b.Queue(`INSERT INTO display (object_type, id, version, fields)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (object_type) DO UPDATE
			SET id = EXCLUDED.id, version = EXCLUDED.version, fields = EXCLUDED.fields
			WHERE display.version < EXCLUDED.version`,
			d.ObjectType, d.ID, int64(d.Version), d.Fields,
		)
	}
	return s.send(ctx, b)
}

func (s *Store) PersistPackages(ctx context.Context, packages []model.Package) error {
	b := &pgx.Batch{}
	for _, p := range packages {
		b.Queue(`INSERT INTO packages (package_id, version, checkpoint_sequence_number, module_bytes)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (package_id) DO NOTHING`,
			p.PackageID, int64(p.Version), int64(p.Checkpoint), p.ModuleBytes,
		)
	}
	return s.send(ctx, b)
}

// PersistObjects keeps deleted objects as tombstones so replaying an older
// write cannot resurrect them.
func (s *Store) PersistObjects(ctx context.Context, changes []model.ObjectChange) error {
	b := &pgx.Batch{}
	for _, o := range store.CompactObjectChanges(changes) {
		b.Queue(`INSERT INTO objects
			(object_id, object_version, checkpoint_sequence_number, deleted, object_type, owner, contents)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (object_id) DO UPDATE
			SET object_version = EXCLUDED.object_version,
				checkpoint_sequence_number = EXCLUDED.checkpoint_sequence_number,
				deleted = EXCLUDED.deleted,
				object_type = EXCLUDED.object_type,
				owner = EXCLUDED.owner,
				contents = EXCLUDED.contents
			WHERE objects.object_version < EXCLUDED.object_version`,
			o.ObjectID, int64(o.Version), int64(o.Checkpoint), o.Kind == model.ObjectDeleted,
			o.ObjectType, o.Owner, o.Contents,
		)
	}
	return s.send(ctx, b)
}

// PersistEpochs closes the previous epoch and opens the new one, in order.
func (s *Store) PersistEpochs(ctx context.Context, epochs []model.EpochChange) error {
	b := &pgx.Batch{}
	for _, e := range epochs {
		if p := e.Previous; p != nil {
			b.Queue(`UPDATE epochs
				SET last_checkpoint_id = $2, epoch_end_timestamp = $3, epoch_total_transactions = $4
				WHERE epoch = $1`,
				int64(p.Epoch), int64(p.LastCheckpoint), p.EndTimestampMs, int64(p.TotalTransactions),
			)
		}
		b.Queue(`INSERT INTO epochs
			(epoch, first_checkpoint_id, epoch_start_timestamp, reference_gas_price, protocol_version)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (epoch) DO NOTHING`,
			int64(e.Epoch), int64(e.FirstCheckpoint), e.StartTimestampMs, int64(e.ReferenceGasPrice), int64(e.ProtocolVersion),
		)
	}
	return s.send(ctx, b)
}

func (s *Store) PersistCheckpoints(ctx context.Context, checkpoints []model.Checkpoint) error {
	b := &pgx.Batch{}
	for _, c := range checkpoints {
		b.Queue(`INSERT INTO checkpoints
			(sequence_number, checkpoint_digest, previous_checkpoint_digest, epoch, timestamp_ms, network_total_transactions, end_of_epoch)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (sequence_number) DO NOTHING`,
			int64(c.SequenceNumber), c.Digest, c.PreviousDigest, int64(c.Epoch), c.TimestampMs,
			int64(c.NetworkTotalTransactions), c.EndOfEpoch,
		)
	}
	return s.send(ctx, b)
}
