// Package kvscript provides a Redis-compatible key-value server with a Lua
// scripting engine.
//
// Scripts run through EVAL, EVALSHA and their _RO variants, and library
// functions are registered with FUNCTION LOAD and called with FCALL. A
// script sees the keyspace through redis.call and redis.pcall, runs as one
// unit of work, and is replicated as a single entry.
//
// Basic usage:
//
//	inst, err := kvscript.New(
//		kvscript.WithAddr(":6379"),
//		kvscript.WithScriptTimeout(time.Second),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Close()
//
//	if err := inst.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
//	reply := inst.Do(ctx, "EVAL", "return redis.call('INCR', KEYS[1])", "1", "hits")
//	fmt.Println(reply.Int())
//
// A replica follows a primary's replication log:
//
//	replica, err := kvscript.New(
//		kvscript.WithRole(replication.RoleReplica),
//		kvscript.WithReplicationSource(primary.ReplicationLog(), 50*time.Millisecond),
//	)
//
// Storage engines are selected with WithEngine: an in-memory goleveldb
// (default), goleveldb on disk, or badger. Scripts and libraries are stored
// next to the data and come back after a restart.
package kvscript
