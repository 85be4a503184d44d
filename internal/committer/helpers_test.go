package committer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/arkiv/checkpoint-committer/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// indexed builds a checkpoint with txCount transactions, one event and one
// index per transaction.
func indexed(seq uint64, txCount int) model.IndexedCheckpoint {
	ic := model.IndexedCheckpoint{
		Checkpoint: model.Checkpoint{SequenceNumber: seq, Digest: fmt.Sprintf("cp-%d", seq)},
	}
	for i := 0; i < txCount; i++ {
		txSeq := seq*1000 + uint64(i)
		ic.Transactions = append(ic.Transactions, model.Transaction{SequenceNumber: txSeq, Checkpoint: seq})
		ic.Events = append(ic.Events, model.Event{TxSequenceNumber: txSeq, Checkpoint: seq})
		ic.TxIndices = append(ic.TxIndices, model.TxIndex{TxSequenceNumber: txSeq, Checkpoint: seq})
	}
	return ic
}

// fakeStore records every call. fail maps a category to the error its write
// returns.
type fakeStore struct {
	mu    sync.Mutex
	calls []Category
	fail  map[Category]error

	checkpointBatches [][]model.Checkpoint
	transactions      []model.Transaction
	events            []model.Event
	indices           []model.TxIndex
	displays          map[string]model.Display
	objects           []model.ObjectChange
	packages          []model.Package
	epochs            []model.EpochChange
}

func newFakeStore() *fakeStore {
	return &fakeStore{fail: map[Category]error{}, displays: map[string]model.Display{}}
}

func (f *fakeStore) record(c Category, apply func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if err := f.fail[c]; err != nil {
		return err
	}
	apply()
	return nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStore) called(c Category) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.calls {
		if got == c {
			return true
		}
	}
	return false
}

func (f *fakeStore) PersistTransactions(_ context.Context, txs []model.Transaction) error {
	return f.record(CategoryTransactions, func() { f.transactions = append(f.transactions, txs...) })
}

func (f *fakeStore) PersistTxIndices(_ context.Context, indices []model.TxIndex) error {
	return f.record(CategoryTxIndices, func() { f.indices = append(f.indices, indices...) })
}

func (f *fakeStore) PersistEvents(_ context.Context, events []model.Event) error {
	return f.record(CategoryEvents, func() { f.events = append(f.events, events...) })
}

func (f *fakeStore) PersistDisplays(_ context.Context, displays map[string]model.Display) error {
	return f.record(CategoryDisplays, func() {
		for k, v := range displays {
			f.displays[k] = v
		}
	})
}

func (f *fakeStore) PersistPackages(_ context.Context, packages []model.Package) error {
	return f.record(CategoryPackages, func() { f.packages = append(f.packages, packages...) })
}

func (f *fakeStore) PersistObjects(_ context.Context, changes []model.ObjectChange) error {
	return f.record(CategoryObjects, func() { f.objects = append(f.objects, changes...) })
}

func (f *fakeStore) PersistEpochs(_ context.Context, epochs []model.EpochChange) error {
	return f.record(CategoryEpochs, func() { f.epochs = append(f.epochs, epochs...) })
}

func (f *fakeStore) PersistCheckpoints(_ context.Context, checkpoints []model.Checkpoint) error {
	return f.record(CategoryCheckpoints, func() {
		f.checkpointBatches = append(f.checkpointBatches, append([]model.Checkpoint(nil), checkpoints...))
	})
}
