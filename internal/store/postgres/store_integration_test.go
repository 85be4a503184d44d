package postgres

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arkiv/checkpoint-committer/internal/committer"
	"github.com/arkiv/checkpoint-committer/internal/model"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker/container runtime unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "committer",
			"POSTGRES_PASSWORD": "committer",
			"POSTGRES_DB":       "committer",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker/container runtime unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://committer:committer@%s:%s/committer?sslmode=disable", host, port.Port())
}

func sampleBatch() committer.CommitBatch {
	records := []model.IndexedCheckpoint{
		{
			Checkpoint:   model.Checkpoint{SequenceNumber: 1, Digest: "d1", Epoch: 0},
			Transactions: []model.Transaction{{SequenceNumber: 10, Digest: "t10", Checkpoint: 1, Sender: "0xa", Success: true}},
			Events:       []model.Event{{TxSequenceNumber: 10, EventSequenceNumber: 0, Checkpoint: 1, PackageID: "0x2", Module: "coin", EventType: "Mint", Sender: "0xa"}},
			TxIndices:    []model.TxIndex{{TxSequenceNumber: 10, Digest: "t10", Checkpoint: 1, Senders: []string{"0xa"}}},
			Displays:     map[string]model.Display{"0x2::coin::Coin": {ObjectType: "0x2::coin::Coin", ID: "disp", Version: 1}},
			ObjectChanges: []model.ObjectChange{
				{ObjectID: "o1", Version: 1, Checkpoint: 1, Owner: "0xa"},
			},
			Packages: []model.Package{{PackageID: "0x2", Version: 1, Checkpoint: 1}},
			Epoch:    &model.EpochChange{Epoch: 0, FirstCheckpoint: 1},
		},
		{
			Checkpoint: model.Checkpoint{SequenceNumber: 2, Digest: "d2", PreviousDigest: "d1", Epoch: 1},
			ObjectChanges: []model.ObjectChange{
				{ObjectID: "o1", Version: 2, Checkpoint: 2, Kind: model.ObjectDeleted},
			},
			Epoch: &model.EpochChange{Epoch: 1, FirstCheckpoint: 2, Previous: &model.EpochEnd{Epoch: 0, LastCheckpoint: 1, TotalTransactions: 1}},
		},
	}
	return committer.NewCommitBatch(records)
}

func persistAll(ctx context.Context, s *Store, b committer.CommitBatch) error {
	for _, fn := range []func() error{
		func() error { return s.PersistTransactions(ctx, b.Transactions) },
		func() error { return s.PersistTxIndices(ctx, b.TxIndices) },
		func() error { return s.PersistEvents(ctx, b.Events) },
		func() error { return s.PersistDisplays(ctx, b.Displays) },
		func() error { return s.PersistPackages(ctx, b.Packages) },
		func() error { return s.PersistObjects(ctx, b.ObjectChanges) },
		func() error { return s.PersistEpochs(ctx, b.Epochs) },
		func() error { return s.PersistCheckpoints(ctx, b.Checkpoints) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func count(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestPostgresReplayIsIdempotent(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	s, err := Open(ctx, dsn, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.LatestCheckpoint(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	b := sampleBatch()
	require.NoError(t, persistAll(ctx, s, b))
	require.NoError(t, persistAll(ctx, s, b))

	require.Equal(t, 2, count(t, s, "checkpoints"))
	require.Equal(t, 1, count(t, s, "transactions"))
	require.Equal(t, 1, count(t, s, "events"))
	require.Equal(t, 1, count(t, s, "tx_indices"))
	require.Equal(t, 1, count(t, s, "display"))
	require.Equal(t, 1, count(t, s, "packages"))
	require.Equal(t, 1, count(t, s, "objects"))
	require.Equal(t, 2, count(t, s, "epochs"))

	var deleted bool
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT deleted FROM objects WHERE object_id = 'o1'`).Scan(&deleted))
	require.True(t, deleted)

	var last *int64
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT last_checkpoint_id FROM epochs WHERE epoch = 0`).Scan(&last))
	require.NotNil(t, last)
	require.Equal(t, int64(1), *last)

	seq, ok, err := s.LatestCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), seq)
}
