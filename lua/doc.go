// Package lua provides Redis-compatible Lua script execution.
//
// It implements EVAL, EVALSHA and FCALL semantics on top of gopher-lua:
//
//   - redis.call() and redis.pcall() run server commands through a Caller,
//     inside the unit of work of the command that started the script
//   - KEYS and ARGV are bound for the duration of one call
//   - replies are converted to Lua values and back (see ReplyToLua)
//   - scripts are addressed by the SHA1 of their body; libraries loaded with
//     a "#!lua name=<lib>" header register named functions
//
// Scripts run in a sandbox: io, os, debug and package are never opened,
// functions that load code or touch the collector are removed, globals
// cannot be created and math.random is seeded per call so every node
// produces the same sequence.
//
// An Engine owns one writable interpreter used under a lock. Read-only
// runs get a fresh read-only interpreter that is closed when the run ends.
package lua
