package committer

import "github.com/arkiv/checkpoint-committer/internal/model"

// CommitBatch is the merged content of consecutive indexed checkpoints. Every
// category keeps the order of the checkpoints it came from.
type CommitBatch struct {
	Checkpoints   []model.Checkpoint
	Transactions  []model.Transaction
	Events        []model.Event
	TxIndices     []model.TxIndex
	Displays      map[string]model.Display
	ObjectChanges []model.ObjectChange
	Packages      []model.Package
	Epochs        []model.EpochChange
}

// NewCommitBatch merges records in order. Display updates for the same type
// are last writer wins.
func NewCommitBatch(records []model.IndexedCheckpoint) CommitBatch {
	var b CommitBatch
	var txs, events, indices, objects, packages int
	for i := range records {
		txs += len(records[i].Transactions)
		events += len(records[i].Events)
		indices += len(records[i].TxIndices)
		objects += len(records[i].ObjectChanges)
		packages += len(records[i].Packages)
	}
	b.Checkpoints = make([]model.Checkpoint, 0, len(records))
	b.Transactions = make([]model.Transaction, 0, txs)
	b.Events = make([]model.Event, 0, events)
	b.TxIndices = make([]model.TxIndex, 0, indices)
	b.ObjectChanges = make([]model.ObjectChange, 0, objects)
	b.Packages = make([]model.Package, 0, packages)
	b.Displays = make(map[string]model.Display)

	for _, r := range records {
		b.Checkpoints = append(b.Checkpoints, r.Checkpoint)
		b.Transactions = append(b.Transactions, r.Transactions...)
		b.Events = append(b.Events, r.Events...)
		b.TxIndices = append(b.TxIndices, r.TxIndices...)
		for k, v := range r.Displays {
			b.Displays[k] = v
		}
		b.ObjectChanges = append(b.ObjectChanges, r.ObjectChanges...)
		b.Packages = append(b.Packages, r.Packages...)
		if r.Epoch != nil {
			b.Epochs = append(b.Epochs, *r.Epoch)
		}
	}
	return b
}

// Empty reports whether the batch holds no checkpoint.
func (b CommitBatch) Empty() bool { return len(b.Checkpoints) == 0 }

// FirstSequence is the sequence number of the first checkpoint.
func (b CommitBatch) FirstSequence() uint64 {
	if b.Empty() {
		return 0
	}
	return b.Checkpoints[0].SequenceNumber
}

// LastSequence is the highest sequence number in the batch.
func (b CommitBatch) LastSequence() uint64 {
	var last uint64
	for _, c := range b.Checkpoints {
		if c.SequenceNumber > last {
			last = c.SequenceNumber
		}
	}
	return last
}
