// Package replication keeps the ordered log of committed write batches.
//
// Every committed unit of work (a top-level command, including a whole
// script) becomes exactly one Entry. Entries carry a sequence number, the
// engine operations and an xxhash checksum, and are encoded as canonical
// CBOR so every node produces identical bytes.
//
// Basic usage:
//
//	log, _ := replication.NewLog(1024)
//	st := storage.New(kv, storage.WithAppender(log))
//	...
//	follower := replication.NewFollower(replicaStore)
//	applied, err := follower.CatchUp(log)
//
// Replicas converge by applying entries in sequence order; a replica never
// re-executes scripts.
package replication
