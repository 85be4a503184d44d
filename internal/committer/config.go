package committer

import "fmt"

// DefaultBatchSize is the number of checkpoints committed together when not
// configured.
const DefaultBatchSize = 5

// Config tunes the commit loop. It is read once at startup.
type Config struct {
	// BatchSize caps how many ready checkpoints are committed together.
	BatchSize int
	// SkipCommit discards drained batches without touching the store.
	SkipCommit bool
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{BatchSize: DefaultBatchSize}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("checkpoint commit batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}
