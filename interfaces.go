package kvscript

import (
	"time"
)

// MetricsCollector interface for metrics collection
type MetricsCollector interface {
	// RecordCommandProcessed records a processed command with its duration
	RecordCommandProcessed(cmd string, duration time.Duration)

	// RecordError records an error reply by its code, e.g. "ERR" or "NOSCRIPT"
	RecordError(errorType string)

	// RecordReplicationApplied records the offset a replica reached
	RecordReplicationApplied(offset uint64)
}
