package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/ledger/internal/accounts"
	"github.com/aretw0/ledger/internal/config"
	"github.com/aretw0/ledger/internal/logging"
	"github.com/aretw0/ledger/pkg/adapters/file"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/persistence/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAccounts(t *testing.T, cfg config.Config) {
	t.Helper()
	ctx := context.Background()

	eng, err := NewEngine(cfg, logging.NewNop())
	require.NoError(t, err)
	defer eng.Close()

	require.NoError(t, eng.Startup(ctx))
	id, err := accounts.Create(ctx, eng.Engine, "John")
	require.NoError(t, err)
	_, err = accounts.ChangeBalance(ctx, eng.Engine, id, 100)
	require.NoError(t, err)
	require.NoError(t, eng.Shutdown(ctx))

	again, err := NewEngine(cfg, logging.NewNop())
	require.NoError(t, err)
	defer again.Close()
	require.NoError(t, again.Startup(ctx))
	defer again.Shutdown(ctx)

	next, err := accounts.Create(ctx, again.Engine, "Mary")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
	assert.Equal(t, 2.0, testutil.ToFloat64(again.Metrics.Replayed))
}

func TestNewEngine_Backends(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		cfg := config.Default()
		cfg.DataDir = t.TempDir()
		runAccounts(t, cfg)
		_, err := os.Stat(filepath.Join(cfg.DataDir, file.FileName))
		assert.NoError(t, err)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.Default()
		cfg.DataDir = filepath.Join(t.TempDir(), "nested")
		cfg.Journal.Backend = config.BackendSQLite
		runAccounts(t, cfg)
		_, err := os.Stat(cfg.SQLitePath())
		assert.NoError(t, err)
	})

	t.Run("redis with lock", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.Default()
		cfg.Journal.Backend = config.BackendRedis
		cfg.Redis.Addr = mr.Addr()
		cfg.Lock.Enabled = true
		cfg.Lock.TTL = time.Minute
		runAccounts(t, cfg)
		assert.True(t, mr.Exists("ledger:journal"))
	})

	t.Run("file with process lock", func(t *testing.T) {
		cfg := config.Default()
		cfg.DataDir = t.TempDir()
		cfg.Lock.Enabled = true
		cfg.Lock.Backend = config.BackendMemory
		runAccounts(t, cfg)
		assert.Zero(t, processLocker.Held(), "lock released on shutdown")
	})

	t.Run("encrypted file", func(t *testing.T) {
		cfg := config.Default()
		cfg.DataDir = t.TempDir()
		cfg.Encryption.Key = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
		runAccounts(t, cfg)

		raw, err := os.ReadFile(filepath.Join(cfg.DataDir, file.FileName))
		require.NoError(t, err)
		assert.False(t, bytes.Contains(raw, []byte("John")))
	})
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Journal.Backend = "tape"
	_, err := NewEngine(cfg, logging.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestDebugHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, config.LogConfig{Level: "info", Format: "text"}, true)

	cfg := config.Default()
	cfg.Journal.Backend = config.BackendMemory
	eng, err := NewEngine(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, eng.Startup(context.Background()))
	_, err = eng.Execute(context.Background(), accounts.CmdCreate, domain.Args{"name": "John"})
	require.NoError(t, err)
	require.NoError(t, eng.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "Command Applied")
	assert.Contains(t, out, "command=createAccount")
	assert.Contains(t, out, "to=running")
}

func TestPrintSystemMessage(t *testing.T) {
	var buf bytes.Buffer
	PrintSystemMessage(&buf, "created %d", 1)
	assert.Equal(t, ">>> created 1\n", buf.String())
}

func TestOpenJournal_Redacted(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Encryption.Key = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

	eng, err := NewEngine(cfg, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, eng.Startup(ctx))
	_, err = accounts.Create(ctx, eng.Engine, "John")
	require.NoError(t, err)
	require.NoError(t, eng.Shutdown(ctx))

	j, closeFn, err := OpenJournal(cfg, logging.NewNop(), middleware.NewPIIMiddleware([]string{"name"}))
	require.NoError(t, err)
	defer closeFn()
	require.NoError(t, j.Open(ctx))
	defer j.Close()

	var recs []domain.Record
	for rec, err := range j.Replay(ctx) {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.Len(t, recs, 1)
	assert.Equal(t, middleware.Mask, recs[0].Args["name"])
}
