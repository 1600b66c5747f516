package config_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/ledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat(string(rune(b)), 32)))
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, config.BackendFile, cfg.Journal.Backend)
	assert.True(t, cfg.Journal.Sync)
	assert.Equal(t, filepath.Join(".ledger", "journal.db"), cfg.SQLitePath())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, `
data_dir: /var/lib/ledger
journal:
  backend: sqlite
  sync: true
log:
  level: debug
  format: json
lock:
  enabled: true
  ttl: 10s
`)
	t.Setenv("LEDGER_LOG_LEVEL", "warn")
	t.Setenv("LEDGER_JOURNAL_SQLITE_PATH", "/tmp/override.db")
	t.Setenv("LEDGER_REDIS_DB", "3")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ledger", cfg.DataDir)
	assert.Equal(t, config.BackendSQLite, cfg.Journal.Backend)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "warn", cfg.Log.Level, "env wins over file")
	assert.Equal(t, "/tmp/override.db", cfg.SQLitePath())
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Lock.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr, "unset keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := config.Load(writeFile(t, "journal: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_EncryptionFromEnv(t *testing.T) {
	t.Setenv("LEDGER_ENCRYPTION_KEY", key('a'))
	t.Setenv("LEDGER_ENCRYPTION_FALLBACK_KEYS", key('b')+","+key('c'))

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.True(t, cfg.Encryption.Enabled())

	active, fallback, err := cfg.Encryption.Keys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	require.Len(t, fallback, 2)
	assert.Equal(t, byte('c'), fallback[1][0])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{"defaults", func(*config.Config) {}, true},
		{"memory without dir", func(c *config.Config) { c.Journal.Backend = config.BackendMemory; c.DataDir = "" }, true},
		{"unknown backend", func(c *config.Config) { c.Journal.Backend = "tape" }, false},
		{"file without dir", func(c *config.Config) { c.DataDir = "" }, false},
		{"redis without addr", func(c *config.Config) { c.Journal.Backend = config.BackendRedis; c.Redis.Addr = "" }, false},
		{"lock without redis", func(c *config.Config) { c.Lock.Enabled = true; c.Redis.Addr = "" }, false},
		{"memory lock without redis", func(c *config.Config) {
			c.Lock.Enabled = true
			c.Lock.Backend = config.BackendMemory
			c.Redis.Addr = ""
		}, true},
		{"unknown lock backend", func(c *config.Config) { c.Lock.Enabled = true; c.Lock.Backend = "etcd" }, false},
		{"negative ttl", func(c *config.Config) { c.Lock.TTL = -time.Second }, false},
		{"bad level", func(c *config.Config) { c.Log.Level = "loud" }, false},
		{"bad format", func(c *config.Config) { c.Log.Format = "xml" }, false},
		{"short key", func(c *config.Config) { c.Encryption.Key = base64.StdEncoding.EncodeToString([]byte("short")) }, false},
		{"not base64", func(c *config.Config) { c.Encryption.Key = "%%%" }, false},
		{"fallback only", func(c *config.Config) { c.Encryption.FallbackKeys = []string{key('x')} }, false},
		{"valid key", func(c *config.Config) { c.Encryption.Key = key('k') }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, config.ErrInvalid)
			}
		})
	}
}
