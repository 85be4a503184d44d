// Package model holds the per-checkpoint records produced by the indexing
// stage and consumed by the committer.
package model

// Checkpoint is the checkpoint metadata row. Its presence in the store for a
// sequence number marks that checkpoint as fully committed.
type Checkpoint struct {
	SequenceNumber           uint64
	Digest                   string
	PreviousDigest           string
	Epoch                    uint64
	TimestampMs              int64
	NetworkTotalTransactions uint64
	EndOfEpoch               bool
}

// Transaction is a single executed transaction. SequenceNumber is global
// across checkpoints.
type Transaction struct {
	SequenceNumber uint64
	Digest         string
	Checkpoint     uint64
	TimestampMs    int64
	Sender         string
	Success        bool
	GasUsed        uint64
	Raw            []byte
}

// Event is emitted by a transaction.
type Event struct {
	TxSequenceNumber    uint64
	EventSequenceNumber uint64
	Checkpoint          uint64
	PackageID           string
	Module              string
	EventType           string
	Sender              string
	Contents            []byte
}

// TxIndex is the secondary lookup index for one transaction.
type TxIndex struct {
	TxSequenceNumber uint64
	Digest           string
	Checkpoint       uint64
	InputObjects     []string
	ChangedObjects   []string
	Senders          []string
	Recipients       []string
	Packages         []string
}

// Display is the display template for a type. Updates are keyed by ObjectType
// and a later update for the same type replaces an earlier one.
type Display struct {
	ObjectType string
	ID         string
	Version    uint64
	Fields     []byte
}

// ObjectChangeKind tells whether an object was written or removed.
type ObjectChangeKind int

const (
	ObjectMutated ObjectChangeKind = iota
	ObjectDeleted
)

func (k ObjectChangeKind) String() string {
	switch k {
	case ObjectMutated:
		return "mutated"
	case ObjectDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ObjectChange is one object write or deletion at a version.
type ObjectChange struct {
	ObjectID   string
	Version    uint64
	Checkpoint uint64
	Kind       ObjectChangeKind
	ObjectType string
	Owner      string
	Contents   []byte
}

// Package is a published package.
type Package struct {
	PackageID   string
	Version     uint64
	Checkpoint  uint64
	ModuleBytes []byte
}

// EpochEnd closes the previous epoch.
type EpochEnd struct {
	Epoch             uint64
	LastCheckpoint    uint64
	EndTimestampMs    int64
	TotalTransactions uint64
}

// EpochChange starts a new epoch, optionally closing the previous one.
type EpochChange struct {
	Epoch             uint64
	FirstCheckpoint   uint64
	StartTimestampMs  int64
	ReferenceGasPrice uint64
	ProtocolVersion   uint64
	Previous          *EpochEnd
}

// IndexedCheckpoint is everything derived from one checkpoint, ready to be
// committed.
type IndexedCheckpoint struct {
	Checkpoint    Checkpoint
	Transactions  []Transaction
	Events        []Event
	TxIndices     []TxIndex
	Displays      map[string]Display
	ObjectChanges []ObjectChange
	Packages      []Package
	Epoch         *EpochChange
}
