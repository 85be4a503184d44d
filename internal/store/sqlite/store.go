// Package sqlite is a single-file backend for local runs and tests. It keeps
// the same idempotency rules as the Postgres backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/arkiv/checkpoint-committer/internal/model"
	"github.com/arkiv/checkpoint-committer/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	sequence_number            INTEGER PRIMARY KEY,
	checkpoint_digest          TEXT NOT NULL,
	previous_checkpoint_digest TEXT,
	epoch                      INTEGER NOT NULL,
	timestamp_ms               INTEGER NOT NULL,
	network_total_transactions INTEGER NOT NULL,
	end_of_epoch               INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS transactions (
	tx_sequence_number         INTEGER PRIMARY KEY,
	transaction_digest         TEXT NOT NULL,
	checkpoint_sequence_number INTEGER NOT NULL,
	timestamp_ms               INTEGER NOT NULL,
	sender                     TEXT NOT NULL,
	success                    INTEGER NOT NULL,
	gas_used                   INTEGER NOT NULL,
	raw_transaction            BLOB
);
CREATE TABLE IF NOT EXISTS tx_indices (
	tx_sequence_number         INTEGER PRIMARY KEY,
	transaction_digest         TEXT NOT NULL,
	checkpoint_sequence_number INTEGER NOT NULL,
	input_objects              TEXT NOT NULL,
	changed_objects            TEXT NOT NULL,
	senders                    TEXT NOT NULL,
	recipients                 TEXT NOT NULL,
	packages                   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	tx_sequence_number         INTEGER NOT NULL,
	event_sequence_number      INTEGER NOT NULL,
	checkpoint_sequence_number INTEGER NOT NULL,
	package                    TEXT NOT NULL,
	module                     TEXT NOT NULL,
	event_type                 TEXT NOT NULL,
	sender                     TEXT NOT NULL,
	contents                   BLOB,
	PRIMARY KEY (tx_sequence_number, event_sequence_number)
);
CREATE TABLE IF NOT EXISTS display (
	object_type TEXT PRIMARY KEY,
	id          TEXT NOT NULL,
	version     INTEGER NOT NULL,
	fields      BLOB
);
CREATE TABLE IF NOT EXISTS packages (
	package_id                 TEXT PRIMARY KEY,
	version                    INTEGER NOT NULL,
	checkpoint_sequence_number INTEGER NOT NULL,
	module_bytes               BLOB
);
CREATE TABLE IF NOT EXISTS objects (
	object_id                  TEXT PRIMARY KEY,
	object_version             INTEGER NOT NULL,
	checkpoint_sequence_number INTEGER NOT NULL,
	deleted                    INTEGER NOT NULL,
	object_type                TEXT,
	owner                      TEXT,
	contents                   BLOB
);
CREATE TABLE IF NOT EXISTS epochs (
	epoch                    INTEGER PRIMARY KEY,
	first_checkpoint_id      INTEGER NOT NULL,
	epoch_start_timestamp    INTEGER NOT NULL,
	reference_gas_price      INTEGER NOT NULL,
	protocol_version         INTEGER NOT NULL,
	last_checkpoint_id       INTEGER,
	epoch_end_timestamp      INTEGER,
	epoch_total_transactions INTEGER
);
`

// Store is backed by one database file and a single connection; concurrent
// category writes are serialised by the pool.
type Store struct {
	db *sql.DB
}

var _ store.Backend = (*Store)(nil)

// Open creates the file and schema if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA journal_mode = WAL`, `PRAGMA busy_timeout = 5000`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// LatestCheckpoint returns the highest checkpoint row.
func (s *Store) LatestCheckpoint(ctx context.Context) (uint64, bool, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence_number) FROM checkpoints`).Scan(&seq); err != nil {
		return 0, false, fmt.Errorf("query latest checkpoint: %w", err)
	}
	if !seq.Valid {
		return 0, false, nil
	}
	return uint64(seq.Int64), true, nil
}

// exec runs one statement per row inside a transaction.
func (s *Store) exec(ctx context.Context, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) PersistTransactions(ctx context.Context, txs []model.Transaction) error {
	rows := make([][]any, 0, len(txs))
	for _, t := range txs {
		rows = append(rows, []any{
			int64(t.SequenceNumber), t.Digest, int64(t.Checkpoint), t.TimestampMs, t.Sender, t.Success, int64(t.GasUsed), t.Raw,
		})
	}
	return s.exec(ctx, `INSERT INTO transactions
		(tx_sequence_number, transaction_digest, checkpoint_sequence_number, timestamp_ms, sender, success, gas_used, raw_transaction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_sequence_number) DO NOTHING`, rows)
}

func (s *Store) PersistTxIndices(ctx context.Context, indices []model.TxIndex) error {
	rows := make([][]any, 0, len(indices))
	for _, i := range indices {
		lists, err := encodeLists(i.InputObjects, i.ChangedObjects, i.Senders, i.Recipients, i.Packages)
		if err != nil {
			return fmt.Errorf("encode tx index %d: %w", i.TxSequenceNumber, err)
		}
		rows = append(rows, append([]any{int64(i.TxSequenceNumber), i.Digest, int64(i.Checkpoint)}, lists...))
	}
	return s.exec(ctx, `INSERT INTO tx_indices
		(tx_sequence_number, transaction_digest, checkpoint_sequence_number, input_objects, changed_objects, senders, recipients, packages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_sequence_number) DO NOTHING`, rows)
}

func (s *Store) PersistEvents(ctx context.Context, events []model.Event) error {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{
			int64(e.TxSequenceNumber), int64(e.EventSequenceNumber), int64(e.Checkpoint),
			e.PackageID, e.Module, e.EventType, e.Sender, e.Contents,
		})
	}
	return s.exec(ctx, `INSERT INTO events
		(tx_sequence_number, event_sequence_number, checkpoint_sequence_number, package, module, event_type, sender, contents)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_sequence_number, event_sequence_number) DO NOTHING`, rows)
}

func (s *Store) PersistDisplays(ctx context.Context, displays map[string]model.Display) error {
	sorted := store.SortedDisplays(displays)
	rows := make([][]any, 0, len(sorted))
	for _, d := range sorted {
		rows = append(rows, []any{d.ObjectType, d.ID, int64(d.Version), d.Fields})
	}
	return s.exec(ctx, `INSERT INTO display (object_type, id, version, fields)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (object_type) DO UPDATE
		SET id = excluded.id, version = excluded.version, fields = excluded.fields
		WHERE display.version < excluded.version`, rows)
}

func (s *Store) PersistPackages(ctx context.Context, packages []model.Package) error {
	rows := make([][]any, 0, len(packages))
	for _, p := range packages {
		rows = append(rows, []any{p.PackageID, int64(p.Version), int64(p.Checkpoint), p.ModuleBytes})
	}
	return s.exec(ctx, `INSERT INTO packages (package_id, version, checkpoint_sequence_number, module_bytes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (package_id) DO NOTHING`, rows)
}

func (s *Store) PersistObjects(ctx context.Context, changes []model.ObjectChange) error {
	compacted := store.CompactObjectChanges(changes)
	rows := make([][]any, 0, len(compacted))
	for _, o := range compacted {
		rows = append(rows, []any{
			o.ObjectID, int64(o.Version), int64(o.Checkpoint), o.Kind == model.ObjectDeleted, o.ObjectType, o.Owner, o.Contents,
		})
	}
	return s.exec(ctx, `INSERT INTO objects
		(object_id, object_version, checkpoint_sequence_number, deleted, object_type, owner, contents)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (object_id) DO UPDATE
		SET object_version = excluded.object_version,
			checkpoint_sequence_number = excluded.checkpoint_sequence_number,
			deleted = excluded.deleted,
			object_type = excluded.object_type,
			owner = excluded.owner,
			contents = excluded.contents
		WHERE objects.object_version < excluded.object_version`, rows)
}

func (s *Store) PersistEpochs(ctx context.Context, epochs []model.EpochChange) error {
	if len(epochs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range epochs {
		if p := e.Previous; p != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE epochs
				SET last_checkpoint_id = ?, epoch_end_timestamp = ?, epoch_total_transactions = ?
				WHERE epoch = ?`,
				int64(p.LastCheckpoint), p.EndTimestampMs, int64(p.TotalTransactions), int64(p.Epoch),
			); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO epochs
			(epoch, first_checkpoint_id, epoch_start_timestamp, reference_gas_price, protocol_version)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (epoch) DO NOTHING`,
			int64(e.Epoch), int64(e.FirstCheckpoint), e.StartTimestampMs, int64(e.ReferenceGasPrice), int64(e.ProtocolVersion),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) PersistCheckpoints(ctx context.Context, checkpoints []model.Checkpoint) error {
	rows := make([][]any, 0, len(checkpoints))
	for _, c := range checkpoints {
		rows = append(rows, []any{
			int64(c.SequenceNumber), c.Digest, c.PreviousDigest, int64(c.Epoch), c.TimestampMs,
			int64(c.NetworkTotalTransactions), c.EndOfEpoch,
		})
	}
	return s.exec(ctx, `INSERT INTO checkpoints
		(sequence_number, checkpoint_digest, previous_checkpoint_digest, epoch, timestamp_ms, network_total_transactions, end_of_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sequence_number) DO NOTHING`, rows)
}

func encodeLists(lists ...[]string) ([]any, error) {
	out := make([]any, 0, len(lists))
	for _, l := range lists {
		b, err := json.Marshal(store.NonNil(l))
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}
