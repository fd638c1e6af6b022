package replication

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/raniellyferreira/kvscript/engine"
)

// Applier writes a replicated batch atomically. storage.Store implements it.
type Applier interface {
	Apply(b *engine.Batch) error
}

// Source provides entries after a sequence number. Log implements it.
type Source interface {
	Since(seq uint64) ([]Entry, error)
}

// Apply verifies e and writes it to dst
func Apply(dst Applier, e *Entry) error {
	if err := e.Verify(); err != nil {
		return err
	}
	if err := dst.Apply(e.Batch()); err != nil {
		return fmt.Errorf("replication: apply seq %d: %w", e.Seq, err)
	}
	return nil
}

// Follower applies entries in order and remembers the last applied one
type Follower struct {
	mu      sync.Mutex
	dst     Applier
	offset  uint64
	logger  *zap.Logger
	onApply func(e *Entry)
}

// NewFollower creates a follower writing to dst
func NewFollower(dst Applier, logger *zap.Logger) *Follower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{dst: dst, logger: logger}
}

// OnApply registers a callback invoked after each applied entry
func (f *Follower) OnApply(fn func(e *Entry)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onApply = fn
}

// Offset returns the sequence number of the last applied entry
func (f *Follower) Offset() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// ApplyEntry applies e if it is the next entry in sequence
func (f *Follower) ApplyEntry(e *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyLocked(e)
}

func (f *Follower) applyLocked(e *Entry) error {
	if e.Seq <= f.offset {
		return nil
	}
	if e.Seq != f.offset+1 {
		return fmt.Errorf("replication: gap in entries, expected seq %d got %d", f.offset+1, e.Seq)
	}
	if err := Apply(f.dst, e); err != nil {
		return err
	}
	f.offset = e.Seq
	if f.onApply != nil {
		f.onApply(e)
	}
	return nil
}

// ApplyEncoded decodes and applies a CBOR encoded entry
func (f *Follower) ApplyEncoded(data []byte) error {
	e, err := UnmarshalEntry(data)
	if err != nil {
		return err
	}
	return f.ApplyEntry(e)
}

// CatchUp applies every entry src holds after the follower offset and
// returns how many were applied
func (f *Follower) CatchUp(src Source) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := src.Since(f.offset)
	if err != nil {
		return 0, err
	}
	for i := range entries {
		if err := f.applyLocked(&entries[i]); err != nil {
			return i, err
		}
	}
	if len(entries) > 0 {
		f.logger.Debug("replica caught up",
			zap.Int("entries", len(entries)),
			zap.Uint64("offset", f.offset))
	}
	return len(entries), nil
}
