// Package protocol reads and writes the Redis Serialization Protocol.
//
// Reader parses RESP2, the RESP3 scalars (null, boolean, double) and inline
// commands. Writer always answers in RESP2 and downgrades RESP3 values.
//
//	reader := protocol.NewReader(conn)
//	writer := protocol.NewWriter(conn)
//	for {
//		v, err := reader.ReadNext()
//		if err != nil {
//			return err
//		}
//		cmd, err := protocol.ParseCommand(v)
//		...
//		writer.WriteValue(reply)
//		writer.Flush()
//	}
//
// Value is a tagged variant; the constructors (Integer, BulkString, Status,
// Error, Null, Array, Boolean, Double) build replies.
package protocol
