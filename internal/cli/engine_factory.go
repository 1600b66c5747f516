package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/ledger"
	"github.com/aretw0/ledger/internal/accounts"
	"github.com/aretw0/ledger/internal/config"
	"github.com/aretw0/ledger/pkg/adapters/file"
	"github.com/aretw0/ledger/pkg/adapters/memory"
	redisadapter "github.com/aretw0/ledger/pkg/adapters/redis"
	"github.com/aretw0/ledger/pkg/adapters/sqlite"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/observability"
	"github.com/aretw0/ledger/pkg/persistence/middleware"
	"github.com/aretw0/ledger/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// processLocker serializes engines built in this process over the same data dir.
var processLocker = memory.NewLocker()

// Engine is a ledger assembled from configuration, with the accounts domain
// registered. Close releases what the factory opened besides the engine.
type Engine struct {
	*ledger.Engine
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	client *redis.Client
}

// Close releases the shared Redis client, if any. Call it after Shutdown.
func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// NewEngine wires cfg into engine options: journal backend, encryption,
// writer lock, metrics and debug hooks. Extra options are applied last.
func NewEngine(cfg config.Config, logger *slog.Logger, extra ...ledger.Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := &Engine{Registry: prometheus.NewRegistry()}
	out.Metrics = observability.NewMetrics(out.Registry)

	redisClient := func() *redis.Client {
		if out.client == nil {
			out.client = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}
		return out.client
	}

	journal, err := newJournal(cfg, logger, redisClient)
	if err != nil {
		return nil, err
	}

	opts := []ledger.Option{
		ledger.WithJournal(journal),
		ledger.WithLogger(logger),
		ledger.WithLifecycleHooks(domain.CombineHooks(out.Metrics.Hooks(), debugHooks(logger))),
	}

	if enc, err := encryption(cfg); err != nil {
		return nil, err
	} else if enc != nil {
		opts = append(opts, ledger.WithMiddleware(enc))
	}

	if cfg.Lock.Enabled {
		var locker ports.DistributedLocker = processLocker
		if cfg.Lock.Backend == config.BackendRedis {
			locker = redisadapter.NewLocker(redisClient(), cfg.Redis.Prefix)
		}
		opts = append(opts, ledger.WithLocker(locker, cfg.Lock.TTL))
	}

	eng, err := ledger.New(cfg.DataDir, append(opts, extra...)...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error initializing engine: %w", err), out.Close())
	}
	if err := accounts.Register(eng); err != nil {
		return nil, errors.Join(err, out.Close())
	}
	out.Engine = eng
	return out, nil
}

// OpenJournal builds the configured journal for offline tools such as inspect.
// Decryption is applied when a key is configured; mws wrap outside it.
// The returned close func releases the Redis client, not the journal.
func OpenJournal(cfg config.Config, logger *slog.Logger, mws ...middleware.Middleware) (ports.Journal, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	var client *redis.Client
	closeFn := func() error {
		if client == nil {
			return nil
		}
		return client.Close()
	}
	j, err := newJournal(cfg, logger, func() *redis.Client {
		if client == nil {
			client = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		}
		return client
	})
	if err != nil {
		return nil, closeFn, err
	}
	enc, err := encryption(cfg)
	if err != nil {
		return nil, closeFn, err
	}
	if enc != nil {
		mws = append(mws, enc)
	}
	return middleware.Chain(j, mws...), closeFn, nil
}

func encryption(cfg config.Config) (middleware.Middleware, error) {
	if !cfg.Encryption.Enabled() {
		return nil, nil
	}
	active, fallback, err := cfg.Encryption.Keys()
	if err != nil {
		return nil, err
	}
	return middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    active,
		FallbackKeys: fallback,
	}), nil
}

func newJournal(cfg config.Config, logger *slog.Logger, client func() *redis.Client) (ports.Journal, error) {
	switch cfg.Journal.Backend {
	case config.BackendFile:
		return file.New(cfg.DataDir, file.WithSync(cfg.Journal.Sync), file.WithLogger(logger)), nil
	case config.BackendSQLite:
		path := cfg.SQLitePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		return sqlite.New(path), nil
	case config.BackendRedis:
		return redisadapter.NewFromClient(client(), redisadapter.WithPrefix(cfg.Redis.Prefix)), nil
	case config.BackendMemory:
		return memory.New(nil), nil
	}
	return nil, fmt.Errorf("%w: unknown journal backend %q", config.ErrInvalid, cfg.Journal.Backend)
}
