// Package config loads kvscript-server settings with viper: defaults, then
// an optional YAML file, then KVSCRIPT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/raniellyferreira/kvscript/engine"
	"github.com/raniellyferreira/kvscript/logger"
	"github.com/raniellyferreira/kvscript/replication"
)

// EnvPrefix prefixes every environment override, e.g. KVSCRIPT_LOG_LEVEL
const EnvPrefix = "KVSCRIPT"

// ErrInvalid is returned for settings that fail validation
var ErrInvalid = errors.New("config: invalid value")

// Config holds the server settings
type Config struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	MaxClients      int           `mapstructure:"max-clients"`
	RateLimit       float64       `mapstructure:"rate-limit"`
	RateBurst       int           `mapstructure:"rate-burst"`
	Engine          string        `mapstructure:"engine"`
	DataDir         string        `mapstructure:"data-dir"`
	Role            string        `mapstructure:"role"`
	ReplicaReadOnly bool          `mapstructure:"replica-read-only"`
	LuaTimeLimit    time.Duration `mapstructure:"lua-time-limit"`
	ScriptCacheSize int           `mapstructure:"script-cache-size"`
	StoreScripts    bool          `mapstructure:"store-scripts"`
	BacklogSize     int           `mapstructure:"backlog-size"`
	Log             LogConfig     `mapstructure:"log"`
}

// LogConfig holds the log output settings
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max-size"`
	MaxAge     int    `mapstructure:"max-age"`
	MaxBackups int    `mapstructure:"max-backups"`
	Compress   bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":6379")
	v.SetDefault("password", "")
	v.SetDefault("max-clients", 10000)
	v.SetDefault("rate-limit", 0)
	v.SetDefault("rate-burst", 100)
	v.SetDefault("engine", string(engine.KindMemory))
	v.SetDefault("data-dir", "./data")
	v.SetDefault("role", string(replication.RolePrimary))
	v.SetDefault("replica-read-only", true)
	v.SetDefault("lua-time-limit", 5*time.Second)
	v.SetDefault("script-cache-size", 512)
	v.SetDefault("store-scripts", true)
	v.SetDefault("backlog-size", replication.DefaultBacklogSize)

	logDefaults := logger.DefaultConfig()
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.file", logDefaults.FileName)
	v.SetDefault("log.max-size", logDefaults.MaxSize)
	v.SetDefault("log.max-age", logDefaults.MaxAge)
	v.SetDefault("log.max-backups", logDefaults.MaxBackups)
	v.SetDefault("log.compress", logDefaults.Compress)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that have a closed set of choices
func (c *Config) Validate() error {
	switch engine.Kind(c.Engine) {
	case engine.KindMemory, engine.KindLevelDB, engine.KindBadger:
	default:
		return fmt.Errorf("%w: engine %q", ErrInvalid, c.Engine)
	}
	if _, err := replication.ParseRole(c.Role); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("%w: max-clients must not be negative", ErrInvalid)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("%w: rate-limit and rate-burst must not be negative", ErrInvalid)
	}
	if c.LuaTimeLimit < 0 {
		return fmt.Errorf("%w: lua-time-limit must not be negative", ErrInvalid)
	}
	if c.ScriptCacheSize <= 0 {
		return fmt.Errorf("%w: script-cache-size must be positive", ErrInvalid)
	}
	if c.BacklogSize <= 0 {
		return fmt.Errorf("%w: backlog-size must be positive", ErrInvalid)
	}
	return nil
}

// Logger converts the log settings for the logger package
func (c *Config) Logger() *logger.Config {
	return &logger.Config{
		Level:      c.Log.Level,
		FileName:   c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxAge:     c.Log.MaxAge,
		MaxBackups: c.Log.MaxBackups,
		Compress:   c.Log.Compress,
	}
}
