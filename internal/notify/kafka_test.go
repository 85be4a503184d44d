package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/arkiv/checkpoint-committer/internal/watermark"
)

type captureProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
	closed  bool
}

func (c *captureProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out kgo.ProduceResults
	for _, r := range rs {
		if c.err == nil {
			c.records = append(c.records, r)
		}
		out = append(out, kgo.ProduceResult{Record: r, Err: c.err})
	}
	return out
}

func (c *captureProducer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *captureProducer) last() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		return Message{}, false
	}
	var m Message
	if err := json.Unmarshal(c.records[len(c.records)-1].Value, &m); err != nil {
		return Message{}, false
	}
	return m, true
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestForwarderSendsLatestWatermark(t *testing.T) {
	pub, w := watermark.New()
	p := &captureProducer{}
	f := NewForwarder(p, "committed", "1", discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, w.Clone()) }()

	require.NoError(t, pub.Publish(12))
	require.Eventually(t, func() bool {
		m, ok := p.last()
		return ok && m.Checkpoint == 12
	}, time.Second, 5*time.Millisecond)

	m, _ := p.last()
	require.Equal(t, "1", m.ChainID)

	p.mu.Lock()
	rec := p.records[len(p.records)-1]
	p.mu.Unlock()
	require.Equal(t, "committed", rec.Topic)
	require.Equal(t, []byte("1"), rec.Key)
	require.Equal(t, headerRunID, rec.Headers[0].Key)

	cancel()
	require.NoError(t, <-done)
	require.True(t, p.closed)
}

func TestForwarderIgnoresProduceErrors(t *testing.T) {
	pub, w := watermark.New()
	p := &captureProducer{err: errors.New("broker down")}
	f := NewForwarder(p, "committed", "1", discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, w.Clone()) }()

	require.NoError(t, pub.Publish(1))
	require.NoError(t, pub.Publish(2))
	cancel()
	require.NoError(t, <-done)
	_, ok := p.last()
	require.False(t, ok)
}

func TestForwarderReleasesWatcher(t *testing.T) {
	pub, w := watermark.New()
	f := NewForwarder(&captureProducer{}, "committed", "1", discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.Run(ctx, w))
	require.ErrorIs(t, pub.Publish(1), watermark.ErrNoWatchers)
}
