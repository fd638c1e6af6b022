package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a KV backed by goleveldb
type LevelDB struct {
	db *leveldb.DB

	mu     sync.RWMutex
	closed bool
}

// OpenLevelDB opens (or creates) a LevelDB database in dir
func OpenLevelDB(dir string) (*LevelDB, error) {
	if dir == "" {
		return nil, fmt.Errorf("engine: leveldb requires a data directory")
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: open leveldb %s: %w", dir, err)
	}
	return &LevelDB{db: db}, nil
}

// OpenMemory opens a LevelDB instance whose files live in memory. It is
// the default engine for tests and embedded use.
func OpenMemory() (*LevelDB, error) {
	db, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("engine: open memory leveldb: %w", err)
	}
	return &LevelDB{db: db}, nil
}

// Get implements KV
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Write implements KV
func (l *LevelDB) Write(b *Batch) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	if b.Len() == 0 {
		return nil
	}

	batch := new(leveldb.Batch)
	for _, op := range b.ops {
		if op.Delete {
			batch.Delete(op.Key)
		} else {
			batch.Put(op.Key, op.Value)
		}
	}
	return l.db.Write(batch, nil)
}

// Scan implements KV
func (l *LevelDB) Scan(prefix []byte, fn func(key, value []byte) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close implements KV
func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}
