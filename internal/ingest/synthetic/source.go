// Package synthetic generates fake indexed checkpoints for demo, load tests
// and bypass runs. No external RPC calls.
package synthetic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arkiv/checkpoint-committer/internal/model"
	"github.com/arkiv/checkpoint-committer/internal/queue"
)

const (
	epochLength    = 100
	objectPoolSize = 50
	displayEvery   = 10
	packageEvery   = 25
)

// Source produces a gap-free run of checkpoints starting at a sequence number.
// The content of a checkpoint depends only on its sequence number, so a
// restarted source regenerates the same data.
type Source struct {
	chainID string
	next    uint64
	maxTx   int
}

// New returns a source whose first checkpoint is start.
func New(chainID string, start uint64, maxTx int) *Source {
	if maxTx < 0 {
		maxTx = 0
	}
	return &Source{chainID: chainID, next: start, maxTx: maxTx}
}

// Next returns the sequence number FetchNext will produce.
func (s *Source) Next() uint64 { return s.next }

// FetchNext builds the next checkpoint.
func (s *Source) FetchNext(ctx context.Context) (model.IndexedCheckpoint, error) {
	if err := ctx.Err(); err != nil {
		return model.IndexedCheckpoint{}, err
	}
	seq := s.next
	ic, err := s.build(seq)
	if err != nil {
		return model.IndexedCheckpoint{}, err
	}
	s.next++
	return ic, nil
}

func (s *Source) digest(kind string, n uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%s/%d", s.chainID, kind, n)))
	return hex.EncodeToString(sum[:])
}

func (s *Source) build(seq uint64) (model.IndexedCheckpoint, error) {
	ts := int64(seq) * 250
	epoch := seq / epochLength
	txCount := 0
	if s.maxTx > 0 {
		txCount = int(seq % uint64(s.maxTx+1))
	}
	stride := uint64(s.maxTx + 1)

	ic := model.IndexedCheckpoint{
		Checkpoint: model.Checkpoint{
			SequenceNumber:           seq,
			Digest:                   s.digest("checkpoint", seq),
			Epoch:                    epoch,
			TimestampMs:              ts,
			NetworkTotalTransactions: seq*stride + uint64(txCount),
			EndOfEpoch:               (seq+1)%epochLength == 0,
		},
	}
	if seq > 0 {
		ic.Checkpoint.PreviousDigest = s.digest("checkpoint", seq-1)
	}

	for i := 0; i < txCount; i++ {
		txSeq := seq*stride + uint64(i)
		txDigest := s.digest("tx", txSeq)
		sender := fmt.Sprintf("0x%04x", txSeq%97)
		objectID := fmt.Sprintf("0xobj%02d", txSeq%objectPoolSize)
		raw, err := json.Marshal(map[string]interface{}{
			"chain": s.chainID, "checkpoint": seq, "tx": txSeq,
		})
		if err != nil {
			return model.IndexedCheckpoint{}, err
		}

		ic.Transactions = append(ic.Transactions, model.Transaction{
			SequenceNumber: txSeq,
			Digest:         txDigest,
			Checkpoint:     seq,
			TimestampMs:    ts,
			Sender:         sender,
			Success:        txSeq%13 != 0,
			GasUsed:        1000 + txSeq%500,
			Raw:            raw,
		})
		ic.Events = append(ic.Events, model.Event{
			TxSequenceNumber: txSeq,
			Checkpoint:       seq,
			PackageID:        "0x2",
			Module:           "coin",
			EventType:        "0x2::coin::Transfer",
			Sender:           sender,
			Contents:         raw,
		})
		ic.TxIndices = append(ic.TxIndices, model.TxIndex{
			TxSequenceNumber: txSeq,
			Digest:           txDigest,
			Checkpoint:       seq,
			InputObjects:     []string{objectID},
			ChangedObjects:   []string{objectID},
			Senders:          []string{sender},
			Recipients:       []string{fmt.Sprintf("0x%04x", (txSeq+1)%97)},
			Packages:         []string{"0x2"},
		})
		kind := model.ObjectMutated
		if txSeq%31 == 0 {
			kind = model.ObjectDeleted
		}
		ic.ObjectChanges = append(ic.ObjectChanges, model.ObjectChange{
			ObjectID:   objectID,
			Version:    txSeq + 1,
			Checkpoint: seq,
			Kind:       kind,
			ObjectType: "0x2::coin::Coin",
			Owner:      sender,
		})
	}

	if seq%displayEvery == 0 {
		objectType := fmt.Sprintf("0x2::nft::Nft%d", seq%3)
		ic.Displays = map[string]model.Display{
			objectType: {ObjectType: objectType, ID: s.digest("display", seq), Version: seq + 1},
		}
	}
	if seq%packageEvery == 0 {
		ic.Packages = []model.Package{{PackageID: "0x" + s.digest("package", seq)[:16], Version: 1, Checkpoint: seq}}
	}
	if seq%epochLength == 0 {
		change := &model.EpochChange{
			Epoch:             epoch,
			FirstCheckpoint:   seq,
			StartTimestampMs:  ts,
			ReferenceGasPrice: 1000,
			ProtocolVersion:   1,
		}
		if epoch > 0 {
			change.Previous = &model.EpochEnd{
				Epoch:             epoch - 1,
				LastCheckpoint:    seq - 1,
				EndTimestampMs:    ts,
				TotalTransactions: seq * stride,
			}
		}
		ic.Epoch = change
	}
	return ic, nil
}

// Run produces one checkpoint per interval into q until ctx is done, then
// closes q so the consumer can drain and stop.
func Run(ctx context.Context, src *Source, q *queue.Queue, interval time.Duration, log *slog.Logger) error {
	defer q.Close()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("synthetic source stopped", "next", src.Next())
			return nil
		case <-ticker.C:
			ic, err := src.FetchNext(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("fetch checkpoint %d: %w", src.Next(), err)
			}
			if err := q.Send(ctx, ic); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
