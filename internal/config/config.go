// Package config loads ledger settings from defaults, a YAML file and
// LEDGER_* environment variables, in that order of precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "LEDGER_"

// Journal backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Config is the full set of settings.
type Config struct {
	DataDir    string           `yaml:"data_dir" env:"DATA_DIR"`
	Journal    JournalConfig    `yaml:"journal" envPrefix:"JOURNAL_"`
	Redis      RedisConfig      `yaml:"redis" envPrefix:"REDIS_"`
	Lock       LockConfig       `yaml:"lock" envPrefix:"LOCK_"`
	Encryption EncryptionConfig `yaml:"encryption" envPrefix:"ENCRYPTION_"`
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`
	HTTP       HTTPConfig       `yaml:"http" envPrefix:"HTTP_"`
	Tracing    TracingConfig    `yaml:"tracing" envPrefix:"TRACING_"`
}

// JournalConfig selects the durable log.
type JournalConfig struct {
	Backend    string `yaml:"backend" env:"BACKEND"`
	Sync       bool   `yaml:"sync" env:"SYNC"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

// RedisConfig is shared by the Redis journal and the writer lock.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

// LockConfig enables the single-writer lock.
// Backend is "redis" (cross-process) or "memory" (within this process).
type LockConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Backend string        `yaml:"backend" env:"BACKEND"`
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
}

// EncryptionConfig holds base64 AES-256 keys.
type EncryptionConfig struct {
	Key          string   `yaml:"key" env:"KEY"`
	FallbackKeys []string `yaml:"fallback_keys" env:"FALLBACK_KEYS" envSeparator:","`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// HTTPConfig configures `ledger serve`.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// TracingConfig enables OTLP export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DataDir: ".ledger",
		Journal: JournalConfig{Backend: BackendFile, Sync: true},
		Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "ledger:"},
		Lock:    LockConfig{Backend: BackendRedis, TTL: 30 * time.Second},
		Log:     LogConfig{Level: "info", Format: "text"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Tracing: TracingConfig{ServiceName: "ledger"},
	}
}

// Load builds a Config. An empty path skips the file; a named file must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects unknown backends and malformed keys.
func (c Config) Validate() error {
	switch c.Journal.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis backend needs redis.addr", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown journal backend %q", ErrInvalid, c.Journal.Backend)
	}
	if c.Journal.Backend != BackendMemory && c.Journal.Backend != BackendRedis && c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalid)
	}
	if c.Lock.Enabled {
		switch c.Lock.Backend {
		case BackendRedis:
			if c.Redis.Addr == "" {
				return fmt.Errorf("%w: writer lock needs redis.addr", ErrInvalid)
			}
		case BackendMemory:
		default:
			return fmt.Errorf("%w: unknown lock backend %q", ErrInvalid, c.Lock.Backend)
		}
	}
	if c.Lock.TTL < 0 {
		return fmt.Errorf("%w: negative lock ttl", ErrInvalid)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("%w: log level: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Log.Format)
	}
	if _, _, err := c.Encryption.Keys(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// SQLitePath returns the database file, defaulting to journal.db in DataDir.
func (c Config) SQLitePath() string {
	if c.Journal.SQLitePath != "" {
		return c.Journal.SQLitePath
	}
	return filepath.Join(c.DataDir, "journal.db")
}

// Enabled reports whether an active key is configured.
func (e EncryptionConfig) Enabled() bool {
	return e.Key != ""
}

// Keys decodes the active and fallback keys. Each must be 32 bytes.
func (e EncryptionConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if e.Key == "" {
		if len(e.FallbackKeys) > 0 {
			return nil, nil, errors.New("fallback keys without an active key")
		}
		return nil, nil, nil
	}
	if active, err = decodeKey(e.Key); err != nil {
		return nil, nil, fmt.Errorf("encryption key: %w", err)
	}
	for i, k := range e.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback key %d: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(key))
	}
	return key, nil
}
