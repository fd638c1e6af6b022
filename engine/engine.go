// Package engine abstracts the ordered key/value engine that backs the
// keyspace and the script registry.
//
// Every implementation keeps keys in ascending byte order and applies a
// Batch atomically: either every operation of the batch becomes visible or
// none does.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the key does not exist
	ErrNotFound = errors.New("engine: key not found")

	// ErrClosed is returned when the engine has been closed
	ErrClosed = errors.New("engine: closed")
)

// Kind names a supported engine implementation
type Kind string

const (
	KindMemory  Kind = "memory"
	KindLevelDB Kind = "leveldb"
	KindBadger  Kind = "badger"
)

// KV is an ordered key/value engine
type KV interface {
	// Get returns a copy of the value stored under key, or ErrNotFound
	Get(key []byte) ([]byte, error)

	// Write applies every operation in b atomically
	Write(b *Batch) error

	// Scan calls fn for every key with the given prefix in ascending order.
	// Returning an error from fn stops the scan and is returned by Scan.
	Scan(prefix []byte, fn func(key, value []byte) error) error

	// Close releases the engine
	Close() error
}

// Op is one mutation inside a Batch
type Op struct {
	Key    []byte `cbor:"1,keyasint"`
	Value  []byte `cbor:"2,keyasint,omitempty"`
	Delete bool   `cbor:"3,keyasint,omitempty"`
}

// Batch is an ordered list of mutations applied atomically by KV.Write.
// A Batch is not safe for concurrent use.
type Batch struct {
	ops  []Op
	size int
}

// NewBatch returns an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

// Put queues a write of value under key
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, Op{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})
	b.size += len(key) + len(value)
}

// Delete queues a removal of key
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Key: append([]byte(nil), key...), Delete: true})
	b.size += len(key)
}

// Ops returns the queued operations in insertion order
func (b *Batch) Ops() []Op {
	return b.ops
}

// Len returns the number of queued operations
func (b *Batch) Len() int {
	return len(b.ops)
}

// Size returns the number of key and value bytes queued
func (b *Batch) Size() int {
	return b.size
}

// Reset empties the batch for reuse
func (b *Batch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}

// BatchFromOps rebuilds a batch from a list of operations, e.g. one read
// back from the replication log
func BatchFromOps(ops []Op) *Batch {
	b := NewBatch()
	for _, op := range ops {
		if op.Delete {
			b.Delete(op.Key)
		} else {
			b.Put(op.Key, op.Value)
		}
	}
	return b
}

// Open opens an engine of the given kind. dir is ignored for KindMemory.
func Open(kind Kind, dir string) (KV, error) {
	switch kind {
	case KindMemory, "":
		return OpenMemory()
	case KindLevelDB:
		return OpenLevelDB(dir)
	case KindBadger:
		return OpenBadger(dir)
	default:
		return nil, fmt.Errorf("engine: unknown kind %q", kind)
	}
}
