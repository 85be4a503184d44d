// Package watermark holds the highest checkpoint sequence number known to be
// durably committed. There is exactly one writer and any number of readers.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrNoWatchers is returned by Publish once every Watcher has been closed.
	ErrNoWatchers = errors.New("watermark: no live watchers")
	// ErrRegression is returned by Publish when the value would decrease.
	ErrRegression = errors.New("watermark: sequence number regressed")
)

type snapshot struct {
	seq     uint64
	valid   bool
	version uint64
	changed chan struct{}
}

type cell struct {
	current  atomic.Pointer[snapshot]
	watchers atomic.Int64
}

// Publisher is the single write handle of a watermark.
type Publisher struct {
	c *cell
}

// Watcher is a read handle. Reads never block the publisher. A Watcher
// tracks what it has seen and is not for concurrent use; Clone one per reader.
type Watcher struct {
	c      *cell
	seen   uint64
	closed atomic.Bool
}

// New returns the write handle and a first read handle of an empty watermark.
func New() (*Publisher, *Watcher) {
	c := &cell{}
	c.current.Store(&snapshot{changed: make(chan struct{})})
	c.watchers.Store(1)
	return &Publisher{c: c}, &Watcher{c: c}
}

// Publish advances the watermark to seq and wakes every waiting watcher.
func (p *Publisher) Publish(seq uint64) error {
	if p.c.watchers.Load() <= 0 {
		return ErrNoWatchers
	}
	old := p.c.current.Load()
	if old.valid && seq < old.seq {
		return fmt.Errorf("%w: %d < %d", ErrRegression, seq, old.seq)
	}
	next := &snapshot{
		seq:     seq,
		valid:   true,
		version: old.version + 1,
		changed: make(chan struct{}),
	}
	p.c.current.Store(next)
	close(old.changed)
	return nil
}

// Latest returns the last published value, ok is false before the first
// publish.
func (p *Publisher) Latest() (uint64, bool) {
	s := p.c.current.Load()
	return s.seq, s.valid
}

// Latest returns the last published value and marks it seen. ok is false
// before the first publish.
func (w *Watcher) Latest() (uint64, bool) {
	s := w.c.current.Load()
	w.seen = s.version
	return s.seq, s.valid
}

// Changed blocks until a value newer than the last one seen through this
// watcher is published.
func (w *Watcher) Changed(ctx context.Context) error {
	for {
		s := w.c.current.Load()
		if s.version > w.seen {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.changed:
		}
	}
}

// Clone returns an independent watcher on the same watermark.
func (w *Watcher) Clone() *Watcher {
	w.c.watchers.Add(1)
	return &Watcher{c: w.c, seen: w.seen}
}

// Close releases the watcher. Publish fails once all watchers are closed.
func (w *Watcher) Close() {
	if w.closed.CompareAndSwap(false, true) {
		w.c.watchers.Add(-1)
	}
}
