// Package storage maps the Redis keyspace onto an ordered key/value engine.
//
// Every top-level command runs inside one Txn. A Txn holds the store lock
// for its whole life, sees its own writes, observes a single frozen clock
// and is either committed as one engine batch (and one replication entry)
// or discarded without side effects.
//
// Basic usage:
//
//	kv, _ := engine.OpenMemory()
//	st := storage.New(kv)
//	txn := st.Begin(0)
//	_ = txn.Set("key", []byte("value"), storage.SetOptions{})
//	err := txn.Commit()
//
// Raw layout:
//
//	'u' + fixed8(db) + key   user key
//	's' + sha                stored script body
//	'l' + library            library record
//	'f' + function           function to library mapping
//
// User values are fixed8(type) + fixed64(expire-at ms) + payload.
package storage
