package queue

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arkiv/checkpoint-committer/internal/model"
)

func item(seq uint64) model.IndexedCheckpoint {
	return model.IndexedCheckpoint{Checkpoint: model.Checkpoint{SequenceNumber: seq}}
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := New(4, nil)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, q.Send(ctx, item(i)))
	}
	q.Close()

	for want := uint64(1); want <= 3; want++ {
		got, ok, err := q.Recv(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got.Checkpoint.SequenceNumber)
	}
	_, ok, err := q.Recv(ctx)
	require.NoError(t, err)
	require.False(t, ok, "closed and drained queue must report end of stream")
}

func TestQueueBackPressure(t *testing.T) {
	q := New(1, nil)
	require.NoError(t, q.Send(context.Background(), item(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Send(ctx, item(2))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, ok := q.TryRecv()
	require.True(t, ok)
	require.Equal(t, uint64(1), got.Checkpoint.SequenceNumber)
	require.NoError(t, q.Send(context.Background(), item(2)))
}

func TestQueueTryRecvEmpty(t *testing.T) {
	q := New(2, nil)
	_, ok := q.TryRecv()
	require.False(t, ok)
}

func TestQueueCloseIdempotent(t *testing.T) {
	q := New(2, nil)
	q.Close()
	require.NotPanics(t, q.Close)
}

func TestQueueInflightGauge(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_inflight"})
	q := New(4, g)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, item(1)))
	require.NoError(t, q.Send(ctx, item(2)))
	require.Equal(t, 2.0, testutil.ToFloat64(g))

	_, _, err := q.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(g))
}

func TestQueueInflightGaugeCancelledSend(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_inflight"})
	q := New(1, g)
	require.NoError(t, q.Send(context.Background(), item(1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, q.Send(ctx, item(2)), context.Canceled)
	require.Equal(t, 1.0, testutil.ToFloat64(g))
}

func TestQueueInflightGaugeNeverNegative(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_inflight"})
	q := New(1, g)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 200; i++ {
			_ = q.Send(ctx, item(i))
		}
		q.Close()
	}()
	for {
		_, ok, err := q.Recv(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, testutil.ToFloat64(g), 0.0)
		if !ok {
			break
		}
	}
	<-done
	require.Equal(t, 0.0, testutil.ToFloat64(g))
}

func TestQueueLenAndCap(t *testing.T) {
	q := New(3, nil)
	require.Equal(t, 3, q.Cap())
	require.Equal(t, 0, q.Len())

	require.NoError(t, q.Send(context.Background(), item(1)))
	require.NoError(t, q.Send(context.Background(), item(2)))
	require.Equal(t, 2, q.Len())

	_, ok := q.TryRecv()
	require.True(t, ok)
	require.Equal(t, 1, q.Len())
	require.Equal(t, 1, New(0, nil).Cap())
}
