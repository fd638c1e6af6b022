// Package server accepts RESP connections and runs their commands through a
// command.Table.
//
// AUTH, SELECT and QUIT are connection-level and handled here; everything
// else, EVAL and FCALL included, goes to the table under a per-command time
// limit. Replies are written in RESP2.
package server
