package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raniellyferreira/kvscript/engine"
)

var (
	// ErrWrongType is returned when an operation targets a key holding a
	// value of another type
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	// ErrTxnDone is returned when a committed or discarded Txn is used
	ErrTxnDone = errors.New("storage: transaction already finished")

	// ErrInvalidDB is returned when a database index is out of range
	ErrInvalidDB = errors.New("ERR DB index is out of range")
)

// Appender receives the operations of every committed batch, in commit
// order. The replication log implements it.
type Appender interface {
	Append(ops []engine.Op) (uint64, error)
}

// CleanupConfig controls the background removal of expired keys
type CleanupConfig struct {
	// Interval between cleanup cycles; zero disables the background loop
	Interval time.Duration
	// BatchSize is the number of expired keys deleted per round
	BatchSize int
	// MaxRounds bounds the rounds of one cycle. A cycle continues only while
	// a round filled its batch.
	MaxRounds int
}

// CleanupConfigDefault is used unless WithCleanup overrides it
var CleanupConfigDefault = CleanupConfig{
	Interval:  time.Second,
	BatchSize: 64,
	MaxRounds: 4,
}

// Store is the keyspace over an engine.KV
type Store struct {
	kv       engine.KV
	appender Appender
	clock    func() time.Time
	logger   *zap.Logger

	// mu serializes units of work; wmu serializes engine writes and log
	// appends so entries are numbered in write order
	mu  sync.Mutex
	wmu sync.Mutex

	cleanupConfig CleanupConfig
	cleanupStop   chan struct{}
	cleanupDone   chan struct{}
	started       bool
	closeOnce     sync.Once
}

// Option configures a Store
type Option func(*Store)

// WithAppender sets the receiver of committed operations
func WithAppender(a Appender) Option {
	return func(s *Store) {
		s.appender = a
	}
}

// WithClock replaces the wall clock, mostly for tests
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCleanup sets the expired key cleanup configuration
func WithCleanup(cfg CleanupConfig) Option {
	return func(s *Store) {
		s.cleanupConfig = cfg
	}
}

// New creates a store over kv. The store does not own kv.
func New(kv engine.KV, opts ...Option) *Store {
	s := &Store{
		kv:            kv,
		clock:         time.Now,
		logger:        zap.NewNop(),
		cleanupConfig: CleanupConfigDefault,
		cleanupStop:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KV returns the underlying engine
func (s *Store) KV() engine.KV {
	return s.kv
}

// Begin starts a unit of work on db. It blocks until every other Txn has
// finished. The caller must call Commit or Discard.
func (s *Store) Begin(db int) *Txn {
	s.mu.Lock()
	return &Txn{
		store:   s,
		db:      db,
		nowMs:   s.clock().UnixMilli(),
		overlay: make(map[string]*staged),
	}
}

// Commit writes b to the engine and hands its operations to the appender.
// It is used for registry metadata and may be called while a Txn is open.
func (s *Store) Commit(b *engine.Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.kv.Write(b); err != nil {
		return fmt.Errorf("storage: write batch: %w", err)
	}
	if s.appender != nil {
		if _, err := s.appender.Append(b.Ops()); err != nil {
			s.logger.Error("replication append failed",
				zap.Int("ops", b.Len()),
				zap.Error(err))
			return fmt.Errorf("storage: append batch: %w", err)
		}
	}
	return nil
}

// Apply writes a batch received from a primary. It waits for any open Txn
// so replicated writes never interleave with a unit of work.
func (s *Store) Apply(b *engine.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Commit(b)
}

// StartCleanup launches the background expiry loop. It is a no-op when the
// configured interval is zero.
func (s *Store) StartCleanup() {
	if s.cleanupConfig.Interval <= 0 || s.started {
		return
	}
	s.started = true
	go s.cleanupExpiredKeys()
}

// Close stops the background cleanup loop
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)
		if s.started {
			<-s.cleanupDone
		}
	})
	return nil
}

// cleanupExpiredKeys runs in background to clean up expired keys
func (s *Store) cleanupExpiredKeys() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			if _, err := s.PurgeExpired(); err != nil {
				s.logger.Warn("expired key cleanup failed", zap.Error(err))
			}
		}
	}
}

// PurgeExpired deletes expired user keys in rounds of BatchSize and returns
// how many were removed
func (s *Store) PurgeExpired() (int, error) {
	cfg := s.cleanupConfig
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = CleanupConfigDefault.BatchSize
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 1
	}

	total := 0
	for round := 0; round < cfg.MaxRounds; round++ {
		n, err := s.purgeRound(cfg.BatchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < cfg.BatchSize {
			break
		}
	}
	if total > 0 {
		s.logger.Debug("expired keys removed", zap.Int("count", total))
	}
	return total, nil
}

var errBatchFull = errors.New("batch full")

func (s *Store) purgeRound(limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.clock().UnixMilli()
	b := engine.NewBatch()
	err := s.kv.Scan([]byte{PrefixUser}, func(key, value []byte) error {
		r, err := decodeRecord(value)
		if err != nil {
			return err
		}
		if r.expired(nowMs) {
			b.Delete(key)
			if b.Len() >= limit {
				return errBatchFull
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return 0, err
	}
	if err := s.Commit(b); err != nil {
		return 0, err
	}
	return b.Len(), nil
}
