package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvscript.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":6379", cfg.Addr)
	assert.Equal(t, "memory", cfg.Engine)
	assert.Equal(t, "primary", cfg.Role)
	assert.True(t, cfg.ReplicaReadOnly)
	assert.Equal(t, 5*time.Second, cfg.LuaTimeLimit)
	assert.Equal(t, 512, cfg.ScriptCacheSize)
	assert.Equal(t, 10000, cfg.MaxClients)
	assert.True(t, cfg.StoreScripts)
	assert.Equal(t, "INFO", cfg.Log.Level)
	assert.Empty(t, cfg.Log.File)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
addr: 127.0.0.1:7000
engine: leveldb
data-dir: /var/lib/kvscript
role: replica
replica-read-only: false
lua-time-limit: 250ms
script-cache-size: 64
log:
  level: debug
  file: /tmp/kvscript.log
  max-backups: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, "leveldb", cfg.Engine)
	assert.Equal(t, "/var/lib/kvscript", cfg.DataDir)
	assert.Equal(t, "replica", cfg.Role)
	assert.False(t, cfg.ReplicaReadOnly)
	assert.Equal(t, 250*time.Millisecond, cfg.LuaTimeLimit)
	assert.Equal(t, 64, cfg.ScriptCacheSize)

	lc := cfg.Logger()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "/tmp/kvscript.log", lc.FileName)
	assert.Equal(t, 3, lc.MaxBackups)
	assert.Equal(t, 500, lc.MaxSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "addr: 127.0.0.1:7000\n")
	t.Setenv("KVSCRIPT_ADDR", "127.0.0.1:7001")
	t.Setenv("KVSCRIPT_LOG_LEVEL", "warn")
	t.Setenv("KVSCRIPT_SCRIPT_CACHE_SIZE", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 8, cfg.ScriptCacheSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"engine", "engine: rocksdb\n"},
		{"role", "role: leader\n"},
		{"cache size", "script-cache-size: 0\n"},
		{"time limit", "lua-time-limit: -1s\n"},
		{"max clients", "max-clients: -1\n"},
		{"rate limit", "rate-limit: -5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
