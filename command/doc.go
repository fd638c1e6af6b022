// Package command holds the server command table.
//
// Each top-level command runs in one storage.Txn. Commands issued by a
// script through redis.call join the Txn of the EVAL or FCALL that started
// the script, so a script's writes are committed, and replicated, as one
// batch or not at all.
package command
