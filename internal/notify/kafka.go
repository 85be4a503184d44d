// Package notify forwards committed watermarks to Kafka so consumers outside
// the process can follow commit progress.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/arkiv/checkpoint-committer/internal/watermark"
)

const headerRunID = "committer-run-id"

// Producer is the part of *kgo.Client the forwarder needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Config configures the Kafka forwarder.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	ChainID  string
}

// Forwarder publishes every watermark it observes. Intermediate values may be
// skipped when commits outpace Kafka; the latest one is always sent.
type Forwarder struct {
	producer Producer
	topic    string
	chainID  string
	runID    string
	logger   *slog.Logger
}

// Message is the record value.
type Message struct {
	ChainID     string    `json:"chain_id"`
	Checkpoint  uint64    `json:"checkpoint"`
	CommittedAt time.Time `json:"committed_at"`
}

// NewKafkaForwarder connects a franz-go client.
func NewKafkaForwarder(cfg Config, logger *slog.Logger) (*Forwarder, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	return NewForwarder(client, cfg.Topic, cfg.ChainID, logger), nil
}

// NewForwarder wraps an existing producer.
func NewForwarder(p Producer, topic, chainID string, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		producer: p,
		topic:    topic,
		chainID:  chainID,
		runID:    uuid.NewString(),
		logger:   logger.With("component", "notify"),
	}
}

// Run forwards watermark updates until ctx is done. It owns w and closes it,
// and closes the producer on return.
func (f *Forwarder) Run(ctx context.Context, w *watermark.Watcher) error {
	defer f.producer.Close()
	defer w.Close()
	for {
		if err := w.Changed(ctx); err != nil {
			return nil
		}
		seq, ok := w.Latest()
		if !ok {
			continue
		}
		if err := f.send(ctx, seq); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Best effort: the store is the source of truth.
			f.logger.Warn("forward watermark failed", "checkpoint", seq, "err", err)
		}
	}
}

func (f *Forwarder) send(ctx context.Context, seq uint64) error {
	value, err := json.Marshal(Message{ChainID: f.chainID, Checkpoint: seq, CommittedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: f.topic,
		Key:   []byte(f.chainID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: headerRunID, Value: []byte(f.runID)},
			{Key: "checkpoint", Value: []byte(strconv.FormatUint(seq, 10))},
		},
	}
	return f.producer.ProduceSync(ctx, rec).FirstErr()
}
