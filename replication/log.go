package replication

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/raniellyferreira/kvscript/engine"
)

// ErrBacklogTrimmed is returned by Since when the requested entries have
// already left the backlog
var ErrBacklogTrimmed = errors.New("replication: requested offset is no longer in the backlog")

// DefaultBacklogSize is the number of entries kept when none is configured
const DefaultBacklogSize = 1024

// Stats describes the state of a Log
type Stats struct {
	ReplicationID  string
	Offset         uint64
	FirstSeq       uint64
	BacklogEntries int
	LastAppend     time.Time
}

// Log is a bounded in-memory backlog of committed entries
type Log struct {
	mu         sync.RWMutex
	id         string
	seq        uint64
	backlog    []Entry
	size       int
	lastAppend time.Time
	logger     *zap.Logger
}

// LogOption configures a Log
type LogOption func(*Log)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) LogOption {
	return func(lg *Log) {
		if l != nil {
			lg.logger = l
		}
	}
}

// NewLog creates a log keeping at most size entries
func NewLog(size int, opts ...LogOption) (*Log, error) {
	if size <= 0 {
		size = DefaultBacklogSize
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("replication: generate replication id: %w", err)
	}
	l := &Log{
		id:     id.String(),
		size:   size,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// ID returns the replication id, unique per log instance
func (l *Log) ID() string {
	return l.id
}

// Offset returns the sequence number of the last appended entry
func (l *Log) Offset() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Append records ops as the next entry and returns its sequence number
func (l *Log) Append(ops []engine.Op) (uint64, error) {
	if len(ops) == 0 {
		return 0, fmt.Errorf("replication: empty entry")
	}
	owned := make([]engine.Op, len(ops))
	copy(owned, ops)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := newEntry(l.seq+1, owned)
	if err != nil {
		return 0, err
	}
	l.seq = entry.Seq
	l.lastAppend = time.Now()
	l.backlog = append(l.backlog, entry)
	if over := len(l.backlog) - l.size; over > 0 {
		l.backlog = append(l.backlog[:0:0], l.backlog[over:]...)
	}

	l.logger.Debug("replication entry appended",
		zap.Uint64("seq", entry.Seq),
		zap.Int("ops", len(owned)))
	return entry.Seq, nil
}

// Since returns the entries with a sequence number greater than seq
func (l *Log) Since(seq uint64) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq >= l.seq {
		return nil, nil
	}
	if len(l.backlog) == 0 || seq+1 < l.backlog[0].Seq {
		return nil, ErrBacklogTrimmed
	}
	start := int(seq + 1 - l.backlog[0].Seq)
	out := make([]Entry, len(l.backlog)-start)
	copy(out, l.backlog[start:])
	return out, nil
}

// Stats returns a snapshot of the log state
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Stats{
		ReplicationID:  l.id,
		Offset:         l.seq,
		BacklogEntries: len(l.backlog),
		LastAppend:     l.lastAppend,
	}
	if len(l.backlog) > 0 {
		st.FirstSeq = l.backlog[0].Seq
	}
	return st
}
