// Package metrics holds the Prometheus instruments of the commit pipeline.
// Recording is best effort and never fails a commit.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	dbCommitLatencyBuckets = []float64{
		0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 100, 200,
	}
	txPerCheckpointBuckets = []float64{
		1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000, 10000,
	}
	batchSizeBuckets = []float64{1, 2, 5, 10, 20, 50, 100, 200}
)

// Metrics is the instrument set of one committer process.
type Metrics struct {
	CommitLatency              prometheus.Histogram
	CommitLatencyStep1         prometheus.Histogram
	CategoryLatency            *prometheus.HistogramVec
	PersistFailures            *prometheus.CounterVec
	LatestCheckpoint           prometheus.Gauge
	CheckpointsCommitted       prometheus.Counter
	TransactionsCommitted      prometheus.Counter
	EpochsCommitted            prometheus.Counter
	TransactionsPerCheckpoint  prometheus.Histogram
	ThousandTxAvgCommitLatency prometheus.Histogram
	BatchSize                  prometheus.Histogram
	SkippedCheckpoints         prometheus.Counter
	QueueInflight              prometheus.Gauge
}

// New builds the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkpoint_db_commit_latency_seconds",
			Help:    "Time spent committing a checkpoint batch to the store",
			Buckets: dbCommitLatencyBuckets,
		}),
		CommitLatencyStep1: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkpoint_db_commit_latency_step_1_seconds",
			Help:    "Time spent persisting every category except checkpoints",
			Buckets: dbCommitLatencyBuckets,
		}),
		CategoryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "persist_category_latency_seconds",
			Help:    "Time spent persisting one category of a batch",
			Buckets: dbCommitLatencyBuckets,
		}, []string{"category"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persist_failures_total",
			Help: "Failed category writes",
		}, []string{"category"}),
		LatestCheckpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "latest_tx_checkpoint_sequence_number",
			Help: "Sequence number of the last committed checkpoint",
		}),
		CheckpointsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "total_tx_checkpoint_committed",
			Help: "Checkpoints committed",
		}),
		TransactionsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "total_transaction_committed",
			Help: "Transactions committed",
		}),
		EpochsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "total_epoch_committed",
			Help: "Epoch changes committed",
		}),
		TransactionsPerCheckpoint: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transaction_per_checkpoint",
			Help:    "Transactions per checkpoint in a committed batch",
			Buckets: txPerCheckpointBuckets,
		}),
		ThousandTxAvgCommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "thousand_transaction_avg_db_commit_latency_seconds",
			Help:    "Commit latency scaled to 1000 transactions",
			Buckets: dbCommitLatencyBuckets,
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkpoint_commit_batch_size",
			Help:    "Checkpoints per drained batch",
			Buckets: batchSizeBuckets,
		}),
		SkippedCheckpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skipped_checkpoints_total",
			Help: "Checkpoints discarded while commits are bypassed",
		}),
		QueueInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_queue_inflight",
			Help: "Indexed checkpoints waiting to be committed",
		}),
	}
	reg.MustRegister(
		m.CommitLatency,
		m.CommitLatencyStep1,
		m.CategoryLatency,
		m.PersistFailures,
		m.LatestCheckpoint,
		m.CheckpointsCommitted,
		m.TransactionsCommitted,
		m.EpochsCommitted,
		m.TransactionsPerCheckpoint,
		m.ThousandTxAvgCommitLatency,
		m.BatchSize,
		m.SkippedCheckpoints,
		m.QueueInflight,
	)
	return m
}

// CommitStats describes one committed batch.
type CommitStats struct {
	LastCheckpoint uint64
	Checkpoints    int
	Transactions   int
	Epochs         int
	Elapsed        time.Duration
}

// ObserveCategory records the latency of one category write.
func (m *Metrics) ObserveCategory(category string, d time.Duration, err error) {
	m.CategoryLatency.WithLabelValues(category).Observe(d.Seconds())
	if err != nil {
		m.PersistFailures.WithLabelValues(category).Inc()
	}
}

// ObserveCommitted records the outcome of a committed batch.
func (m *Metrics) ObserveCommitted(s CommitStats) {
	m.LatestCheckpoint.Set(float64(s.LastCheckpoint))
	m.CheckpointsCommitted.Add(float64(s.Checkpoints))
	m.TransactionsCommitted.Add(float64(s.Transactions))
	m.EpochsCommitted.Add(float64(s.Epochs))

	if s.Checkpoints > 0 {
		m.TransactionsPerCheckpoint.Observe(float64(s.Transactions) / float64(s.Checkpoints))
	}
	// Undefined for an empty batch; skip the observation.
	if s.Transactions > 0 {
		m.ThousandTxAvgCommitLatency.Observe(ThousandTxLatency(s.Elapsed, s.Transactions))
	}
}

// ThousandTxLatency scales elapsed to the time 1000 transactions would take.
// It returns 0 for txCount <= 0.
func ThousandTxLatency(elapsed time.Duration, txCount int) float64 {
	if txCount <= 0 {
		return 0
	}
	return elapsed.Seconds() * 1000 / float64(txCount)
}
