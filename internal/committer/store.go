package committer

import (
	"context"
	"fmt"

	"github.com/arkiv/checkpoint-committer/internal/model"
)

// Category names one kind of data written per checkpoint.
type Category string

const (
	CategoryTransactions Category = "transactions"
	CategoryTxIndices    Category = "tx_indices"
	CategoryEvents       Category = "events"
	CategoryDisplays     Category = "displays"
	CategoryPackages     Category = "packages"
	CategoryObjects      Category = "objects"
	CategoryEpochs       Category = "epochs"
	CategoryCheckpoints  Category = "checkpoints"
)

// Store persists one category per call. Implementations must be idempotent so
// a batch interrupted before its checkpoints were written can be replayed, and
// must not retain the slices or maps they are handed.
type Store interface {
	PersistTransactions(ctx context.Context, txs []model.Transaction) error
	PersistTxIndices(ctx context.Context, indices []model.TxIndex) error
	PersistEvents(ctx context.Context, events []model.Event) error
	PersistDisplays(ctx context.Context, displays map[string]model.Display) error
	PersistPackages(ctx context.Context, packages []model.Package) error
	PersistObjects(ctx context.Context, changes []model.ObjectChange) error
	PersistEpochs(ctx context.Context, epochs []model.EpochChange) error
	PersistCheckpoints(ctx context.Context, checkpoints []model.Checkpoint) error
}

// PersistError is a failed category write. It is fatal to the commit loop.
type PersistError struct {
	Category Category
	First    uint64
	Last     uint64
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s for checkpoints %d-%d: %v", e.Category, e.First, e.Last, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
