// Package store holds what the storage backends share: the backend contract
// and the normalisation applied before a category is written.
package store

import (
	"context"
	"sort"

	"github.com/arkiv/checkpoint-committer/internal/committer"
	"github.com/arkiv/checkpoint-committer/internal/model"
)

// Backend is a store the committer can write to and resume from.
type Backend interface {
	committer.Store
	// LatestCheckpoint returns the highest committed checkpoint. ok is false
	// for an empty store.
	LatestCheckpoint(ctx context.Context) (seq uint64, ok bool, err error)
	Close() error
}

// ResumeFrom returns the first checkpoint that still has to be committed.
func ResumeFrom(ctx context.Context, b Backend, fallback uint64) (uint64, error) {
	seq, ok, err := b.LatestCheckpoint(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	return seq + 1, nil
}

// CompactObjectChanges keeps the highest version of every object, ordered by
// object id so concurrent writers lock rows in the same order.
func CompactObjectChanges(changes []model.ObjectChange) []model.ObjectChange {
	latest := make(map[string]model.ObjectChange, len(changes))
	for _, c := range changes {
		if prev, ok := latest[c.ObjectID]; ok && prev.Version > c.Version {
			continue
		}
		latest[c.ObjectID] = c
	}
	out := make([]model.ObjectChange, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjectID < out[j].ObjectID })
	return out
}

// SortedDisplays returns the display updates ordered by type.
func SortedDisplays(displays map[string]model.Display) []model.Display {
	out := make([]model.Display, 0, len(displays))
	for _, d := range displays {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjectType < out[j].ObjectType })
	return out
}

// NonNil replaces a nil slice with an empty one; array columns are NOT NULL.
func NonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
