package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger"
)

// Badger is a KV backed by badger
type Badger struct {
	db   *badger.DB
	once sync.Once
}

// OpenBadger opens (or creates) a badger database in dir
func OpenBadger(dir string) (*Badger, error) {
	if dir == "" {
		return nil, fmt.Errorf("engine: badger requires a data directory")
	}
	opts := badger.DefaultOptions(dir)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("engine: open badger %s: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

// Get implements KV
func (b *Badger) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Write implements KV. The whole batch is applied inside one badger
// transaction.
func (b *Badger) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, op := range batch.ops {
			var err error
			if op.Delete {
				err = txn.Delete(op.Key)
			} else {
				err = txn.Set(op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan implements KV
func (b *Badger) Scan(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opt := badger.DefaultIteratorOptions
		opt.Prefix = prefix
		itr := txn.NewIterator(opt)
		defer itr.Close()

		for itr.Seek(prefix); itr.ValidForPrefix(prefix); itr.Next() {
			item := itr.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements KV
func (b *Badger) Close() error {
	var err error
	b.once.Do(func() {
		err = b.db.Close()
	})
	return err
}
