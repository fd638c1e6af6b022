package kvscript

import (
	"time"

	"go.uber.org/zap"

	"github.com/raniellyferreira/kvscript/engine"
	"github.com/raniellyferreira/kvscript/lua"
	"github.com/raniellyferreira/kvscript/replication"
	"github.com/raniellyferreira/kvscript/server"
)

// config holds the configuration for an Instance
type config struct {
	// Server settings
	addr         string
	password     string
	maxClients   int
	rateLimit    float64
	rateBurst    int
	enableServer bool

	// Storage
	engine  engine.Kind
	dataDir string

	// Replication
	role            replication.Role
	replicaReadOnly bool
	backlogSize     int
	source          replication.Source
	pollInterval    time.Duration

	// Scripting
	scriptTimeout time.Duration
	cacheSize     int
	storeScripts  bool

	// Observability
	logger  *zap.Logger
	metrics MetricsCollector
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		addr:            ":6379",
		enableServer:    true,
		engine:          engine.KindMemory,
		role:            replication.RolePrimary,
		replicaReadOnly: true,
		backlogSize:     replication.DefaultBacklogSize,
		pollInterval:    100 * time.Millisecond,
		scriptTimeout:   server.DefaultScriptTimeout,
		cacheSize:       lua.DefaultCacheSize,
		storeScripts:    true,
		logger:          zap.NewNop(),
	}
}

// Option represents a configuration option for an Instance
type Option func(*config) error

// WithAddr sets the listen address of the RESP server
//
// Example:
//
//	WithAddr(":6379")
func WithAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return ErrInvalidConfig
		}
		c.addr = addr
		return nil
	}
}

// WithPassword requires clients to AUTH before running commands
func WithPassword(password string) Option {
	return func(c *config) error {
		c.password = password
		return nil
	}
}

// WithMaxClients limits concurrent client connections; 0 means unlimited
func WithMaxClients(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return ErrInvalidConfig
		}
		c.maxClients = n
		return nil
	}
}

// WithRateLimit limits every client address to perSecond commands with
// bursts of burst; 0 disables the limit
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *config) error {
		if perSecond < 0 || burst < 0 {
			return ErrInvalidConfig
		}
		c.rateLimit = perSecond
		c.rateBurst = burst
		return nil
	}
}

// WithServerEnabled controls whether to start the RESP server
//
// Example:
//
//	WithServerEnabled(false) // embedded use through Do only
func WithServerEnabled(enabled bool) Option {
	return func(c *config) error {
		c.enableServer = enabled
		return nil
	}
}

// WithEngine selects the storage engine: memory, leveldb or badger
func WithEngine(kind engine.Kind) Option {
	return func(c *config) error {
		switch kind {
		case engine.KindMemory, engine.KindLevelDB, engine.KindBadger:
			c.engine = kind
			return nil
		}
		return ErrInvalidConfig
	}
}

// WithDataDir sets the directory of the on-disk engines
func WithDataDir(dir string) Option {
	return func(c *config) error {
		c.dataDir = dir
		return nil
	}
}

// WithRole sets the replication role
func WithRole(role replication.Role) Option {
	return func(c *config) error {
		if role != replication.RolePrimary && role != replication.RoleReplica {
			return ErrInvalidConfig
		}
		c.role = role
		return nil
	}
}

// WithReplicaReadOnly sets whether a replica rejects client writes
// (default: true). Scripts on a read-only replica always run read-only.
func WithReplicaReadOnly(readOnly bool) Option {
	return func(c *config) error {
		c.replicaReadOnly = readOnly
		return nil
	}
}

// WithReplicationSource makes a replica follow src, polling it every
// interval. Another instance's ReplicationLog is a valid source.
//
// Example:
//
//	WithReplicationSource(primary.ReplicationLog(), 50*time.Millisecond)
func WithReplicationSource(src replication.Source, interval time.Duration) Option {
	return func(c *config) error {
		if src == nil || interval <= 0 {
			return ErrInvalidConfig
		}
		c.source = src
		c.pollInterval = interval
		return nil
	}
}

// WithBacklogSize sets how many entries the replication log keeps
func WithBacklogSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.backlogSize = n
		return nil
	}
}

// WithScriptTimeout bounds the run time of one command. Zero disables the
// limit.
//
// Example:
//
//	WithScriptTimeout(500 * time.Millisecond)
func WithScriptTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return ErrInvalidConfig
		}
		c.scriptTimeout = d
		return nil
	}
}

// WithScriptCacheSize sets how many compiled scripts are cached
func WithScriptCacheSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.cacheSize = n
		return nil
	}
}

// WithStoreScripts sets whether EVAL bodies are persisted and replicated
// like SCRIPT LOAD ones (default: true)
func WithStoreScripts(enabled bool) Option {
	return func(c *config) error {
		c.storeScripts = enabled
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}
