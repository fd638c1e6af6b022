package kvscript

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raniellyferreira/kvscript/command"
	"github.com/raniellyferreira/kvscript/engine"
	"github.com/raniellyferreira/kvscript/lua"
	"github.com/raniellyferreira/kvscript/protocol"
	"github.com/raniellyferreira/kvscript/replication"
	"github.com/raniellyferreira/kvscript/server"
	"github.com/raniellyferreira/kvscript/storage"
)

// Version is the current version of the kvscript library.
const Version = "0.3.0"

// Instance is a key-value server with Lua scripting: storage engine,
// script engine, command table, replication log and optional RESP server.
type Instance struct {
	// Configuration
	config *config
	logger *zap.Logger

	// Components
	kv       engine.KV
	store    *storage.Store
	log      *replication.Log
	scripts  *lua.Engine
	table    *command.Table
	server   *server.Server
	follower *replication.Follower

	// State
	mu      sync.RWMutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// set when an applied entry touched the script registry
	registryDirty atomic.Bool
}

// New creates a new Instance with the given options
//
// The instance is created but not started. Commands can be run with Do
// right away; Start brings up the server and the replication loop.
//
// Example:
//
//	inst, err := kvscript.New(
//		kvscript.WithAddr(":6379"),
//		kvscript.WithEngine(engine.KindLevelDB),
//		kvscript.WithDataDir("/var/lib/kvscript"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Close()
func New(opts ...Option) (*Instance, error) {
	cfg := defaultConfig()

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.engine != engine.KindMemory && cfg.dataDir == "" {
		return nil, ErrInvalidConfig
	}
	logger := cfg.logger

	kv, err := engine.Open(cfg.engine, cfg.dataDir)
	if err != nil {
		return nil, &OpenError{Engine: string(cfg.engine), Dir: cfg.dataDir, Err: err}
	}

	replLog, err := replication.NewLog(cfg.backlogSize, replication.WithLogger(logger.Named("replication")))
	if err != nil {
		kv.Close()
		return nil, err
	}
	store := storage.New(kv,
		storage.WithAppender(replLog),
		storage.WithLogger(logger.Named("storage")),
	)

	scripts, err := lua.NewEngine(
		lua.WithPersister(store),
		lua.WithCacheSize(cfg.cacheSize),
		lua.WithStoreScripts(cfg.storeScripts),
		lua.WithLogger(logger.Named("lua")),
	)
	if err != nil {
		kv.Close()
		return nil, err
	}
	// scripts and libraries written by an earlier run
	if err := scripts.Restore(); err != nil {
		scripts.Close()
		kv.Close()
		return nil, err
	}

	tableOpts := []command.Option{
		command.WithRole(cfg.role, cfg.replicaReadOnly),
		command.WithLogger(logger.Named("command")),
	}
	if cfg.metrics != nil {
		tableOpts = append(tableOpts, command.WithMetrics(cfg.metrics))
	}
	table := command.NewTable(store, scripts, tableOpts...)

	inst := &Instance{
		config:  cfg,
		logger:  logger,
		kv:      kv,
		store:   store,
		log:     replLog,
		scripts: scripts,
		table:   table,
	}

	if cfg.enableServer {
		inst.server = server.NewServer(cfg.addr, table,
			server.WithPassword(cfg.password),
			server.WithMaxClients(cfg.maxClients),
			server.WithRateLimit(cfg.rateLimit, cfg.rateBurst),
			server.WithScriptTimeout(cfg.scriptTimeout),
			server.WithLogger(logger.Named("server")),
		)
	}

	if cfg.role.IsReplica() && cfg.source != nil {
		inst.follower = replication.NewFollower(store, logger.Named("follower"))
		inst.follower.OnApply(func(e *replication.Entry) {
			for _, op := range e.Ops {
				if storage.IsMetaKey(op.Key) {
					inst.registryDirty.Store(true)
					return
				}
			}
		})
	}

	return inst, nil
}

// Start starts the server and, on a replica with a source, the loop that
// pulls entries from it. ctx only bounds the start itself.
//
// Example:
//
//	if err := inst.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrClosed
	}
	if i.started {
		return nil // Already started
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if i.server != nil {
		if err := i.server.Start(); err != nil {
			i.logger.Error("failed to start server", zap.Error(err), zap.String("addr", i.config.addr))
			return err
		}
	}

	// replicas only drop expired keys when the primary's deletes arrive
	if !i.config.role.IsReplica() {
		i.store.StartCleanup()
	}

	// the loop outlives ctx and stops on Close
	loopCtx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	if i.follower != nil {
		i.wg.Add(1)
		go i.follow(loopCtx)
	}

	i.started = true
	i.logger.Info("instance started",
		zap.String("role", string(i.config.role)),
		zap.String("engine", string(i.config.engine)),
		zap.String("addr", i.Addr()))
	return nil
}

// follow polls the replication source until ctx is cancelled
func (i *Instance) follow(ctx context.Context) {
	defer i.wg.Done()

	ticker := time.NewTicker(i.config.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := i.CatchUp(); err != nil {
				i.logger.Error("replication failed", zap.Error(err))
				if i.config.metrics != nil {
					i.config.metrics.RecordError("REPLICATION")
				}
			}
		}
	}
}

// CatchUp applies every entry the replication source holds beyond this
// replica's offset and returns how many were applied. The script registry
// is reloaded when an entry touched it.
func (i *Instance) CatchUp() (int, error) {
	if i.follower == nil {
		return 0, nil
	}

	n, err := i.follower.CatchUp(i.config.source)
	if i.registryDirty.Swap(false) {
		if rerr := i.scripts.Restore(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	if err != nil {
		return n, &ReplicationError{Offset: i.follower.Offset(), Err: err}
	}
	if n > 0 && i.config.metrics != nil {
		i.config.metrics.RecordReplicationApplied(i.follower.Offset())
	}
	return n, nil
}

// Do runs one command in database 0 without going through the network
//
// Example:
//
//	reply := inst.Do(ctx, "EVAL", "return redis.call('INCR', KEYS[1])", "1", "hits")
func (i *Instance) Do(ctx context.Context, args ...string) protocol.Value {
	i.mu.RLock()
	closed := i.closed
	i.mu.RUnlock()
	if closed {
		return protocol.Errorf("ERR %v", ErrClosed)
	}

	if i.config.scriptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.config.scriptTimeout)
		defer cancel()
	}
	argv := make([][]byte, len(args))
	for n, arg := range args {
		argv[n] = []byte(arg)
	}
	return i.table.Exec(ctx, &command.Session{}, argv)
}

// ReplicationLog returns the log of committed entries. A replica created
// with WithReplicationSource can follow it.
func (i *Instance) ReplicationLog() *replication.Log {
	return i.log
}

// Addr returns the server's listening address, or "" without a server
func (i *Instance) Addr() string {
	if i.server == nil {
		return ""
	}
	return i.server.Addr()
}

// Info returns a snapshot of the instance state
func (i *Instance) Info() map[string]interface{} {
	stats := i.log.Stats()
	registry := i.scripts.Registry()

	info := map[string]interface{}{
		"version": Version,
		"role":    string(i.config.role),
		"engine":  string(i.config.engine),
		"replication": map[string]interface{}{
			"replication_id": stats.ReplicationID,
			"offset":         stats.Offset,
			"backlog":        stats.BacklogEntries,
		},
		"scripts":   registry.NumScripts(),
		"libraries": len(registry.Libraries()),
	}
	if i.follower != nil {
		info["applied_offset"] = i.follower.Offset()
	}
	if i.server != nil {
		info["server"] = i.server.Stats()
	}
	return info
}

// Close gracefully shuts down the instance
//
// Example:
//
//	defer inst.Close()
func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true

	// Stop server first
	if i.server != nil && i.started {
		if err := i.server.Stop(); err != nil {
			i.logger.Error("error stopping server", zap.Error(err))
		}
	}
	if i.cancel != nil {
		i.cancel()
	}
	i.wg.Wait()

	var errs []error
	errs = append(errs, i.scripts.Close(), i.store.Close(), i.kv.Close())
	i.logger.Info("instance closed")
	return errors.Join(errs...)
}
