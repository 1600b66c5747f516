package ledger_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/ledger"
	"github.com/aretw0/ledger/internal/accounts"
	"github.com/aretw0/ledger/pkg/adapters/file"
	"github.com/aretw0/ledger/pkg/adapters/memory"
	redisadapter "github.com/aretw0/ledger/pkg/adapters/redis"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/persistence/middleware"
	"github.com/aretw0/ledger/pkg/txn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func clock() time.Time { return fixed }

func newAccounts(t *testing.T, path string, opts ...ledger.Option) *ledger.Engine {
	t.Helper()
	opts = append([]ledger.Option{ledger.WithClock(clock)}, opts...)
	eng, err := ledger.New(path, opts...)
	require.NoError(t, err)
	require.NoError(t, accounts.Register(eng))
	return eng
}

func startAccounts(t *testing.T, path string, opts ...ledger.Option) *ledger.Engine {
	t.Helper()
	eng := newAccounts(t, path, opts...)
	require.NoError(t, eng.Startup(context.Background()))
	return eng
}

func TestEngine_Scenarios(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	eng := startAccounts(t, dir)

	id, err := accounts.Create(ctx, eng, "John")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	view, err := ledger.Find[accounts.AccountView](eng, accounts.ViewAccount, id)
	require.NoError(t, err)
	assert.Equal(t, accounts.AccountView{ID: 1, Name: "John", Balance: 0}, view)

	balance, err := accounts.ChangeBalance(ctx, eng, id, 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)
	require.NoError(t, eng.Shutdown(ctx))

	restarted := startAccounts(t, dir)
	defer restarted.Shutdown(ctx)

	view, err = ledger.Find[accounts.AccountView](restarted, accounts.ViewAccount, id)
	require.NoError(t, err)
	assert.Equal(t, accounts.AccountView{ID: 1, Name: "John", Balance: 10000}, view)

	before := restarted.Status().LastSeq
	_, err = accounts.ChangeBalance(ctx, restarted, 999, 5)
	assert.ErrorIs(t, err, domain.ErrTransactionFailed)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, before, restarted.Status().LastSeq)

	next, err := accounts.Create(ctx, restarted, "Mary")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}

func TestEngine_RestartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	eng := startAccounts(t, dir)
	for i := 0; i < 5; i++ {
		_, err := accounts.Create(ctx, eng, "acc")
		require.NoError(t, err)
	}
	_, err := accounts.ChangeBalance(ctx, eng, 3, 42)
	require.NoError(t, err)
	want := eng.Snapshot()
	require.NoError(t, eng.Shutdown(ctx))

	for i := 0; i < 3; i++ {
		again := startAccounts(t, dir)
		assert.Equal(t, want, again.Snapshot())
		assert.Equal(t, uint64(6), again.Status().LastSeq)
		require.NoError(t, again.Shutdown(ctx))
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	ctx := context.Background()
	var transitions []domain.EngineState
	eng := newAccounts(t, "lifecycle",
		ledger.WithJournal(memory.New(nil)),
		ledger.WithLifecycleHooks(domain.LifecycleHooks{
			OnStateChange: func(_ context.Context, e *domain.StateEvent) {
				transitions = append(transitions, e.To)
			},
		}),
	)
	assert.Equal(t, "lifecycle", eng.Name)
	assert.Equal(t, domain.StateUnstarted, eng.State())

	_, err := eng.Execute(ctx, accounts.CmdCreate, domain.Args{"name": "x"})
	assert.ErrorIs(t, err, domain.ErrNotStarted)
	_, err = eng.Find(accounts.ViewAccount, 1)
	assert.ErrorIs(t, err, domain.ErrNotStarted)

	require.NoError(t, eng.Startup(ctx))
	assert.Equal(t, domain.StateRunning, eng.State())

	err = eng.Transaction("late", func(*txn.Tx) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, domain.ErrRegistryClosed)
	err = eng.ViewMapper(accounts.AccountType, "LateView", func(int64, any) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, domain.ErrRegistryClosed)
	assert.ErrorIs(t, eng.Startup(ctx), domain.ErrEngineClosed)

	_, err = eng.Execute(ctx, "nope", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownCommand)
	_, err = eng.Find("NoSuchView", 1)
	assert.ErrorIs(t, err, domain.ErrUnknownView)

	require.NoError(t, eng.Shutdown(ctx))
	assert.ErrorIs(t, eng.Shutdown(ctx), domain.ErrEngineClosed)
	assert.ErrorIs(t, eng.Startup(ctx), domain.ErrEngineClosed)
	_, err = eng.Execute(ctx, accounts.CmdCreate, domain.Args{"name": "x"})
	assert.ErrorIs(t, err, domain.ErrEngineClosed)
	_, err = eng.Select(accounts.ViewAccount, nil)
	assert.ErrorIs(t, err, domain.ErrEngineClosed)

	assert.Equal(t, []domain.EngineState{
		domain.StateStarting, domain.StateRunning, domain.StateStopped,
	}, transitions)
}

func TestEngine_ShutdownBeforeStartup(t *testing.T) {
	ctx := context.Background()
	eng := newAccounts(t, "", ledger.WithJournal(memory.New(nil)))
	assert.Equal(t, "ledger", eng.Name)

	require.NoError(t, eng.Shutdown(ctx))
	assert.Equal(t, domain.StateStopped, eng.State())
	assert.ErrorIs(t, eng.Startup(ctx), domain.ErrEngineClosed)
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := ledger.New("")
	assert.Error(t, err)
}

func TestEngine_JournalFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewStorage()
	eng := startAccounts(t, "atomic", ledger.WithJournal(memory.New(storage)))
	defer eng.Shutdown(ctx)

	var delivered int
	eng.Subscribe(ledger.AllEvents, func(context.Context, domain.Event) { delivered++ })

	storage.FailNext(1, nil)
	_, err := accounts.Create(ctx, eng, "John")
	assert.ErrorIs(t, err, domain.ErrJournalWrite)
	assert.ErrorIs(t, err, memory.ErrInjected)
	assert.Zero(t, delivered)
	assert.Zero(t, eng.Status().LastSeq)

	all, err := eng.Select(accounts.ViewAccount, nil)
	require.NoError(t, err)
	assert.Empty(t, all)

	id, err := accounts.Create(ctx, eng, "John")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 1, delivered)
}

func TestEngine_ConcurrentCommands(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewStorage()
	eng := startAccounts(t, "concurrent", ledger.WithJournal(memory.New(storage)))

	id, err := accounts.Create(ctx, eng, "John")
	require.NoError(t, err)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := accounts.ChangeBalance(ctx, eng, id, 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	view, err := ledger.Find[accounts.AccountView](eng, accounts.ViewAccount, id)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), view.Balance)
	assert.Equal(t, uint64(workers*perWorker+1), eng.Status().LastSeq)

	want := eng.Snapshot()
	require.NoError(t, eng.Shutdown(ctx))

	replayed := startAccounts(t, "concurrent", ledger.WithJournal(memory.New(storage)))
	defer replayed.Shutdown(ctx)
	assert.Equal(t, want, replayed.Snapshot())
}

func TestEngine_EventsNotDeliveredOnReplay(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewStorage()

	eng := startAccounts(t, "events", ledger.WithJournal(memory.New(storage)))
	var live []domain.Event
	eng.Subscribe(accounts.EventCreated, func(_ context.Context, evt domain.Event) {
		live = append(live, evt)
	})
	_, err := accounts.Create(ctx, eng, "John")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, accounts.CmdCreate, live[0].Command)
	assert.Equal(t, uint64(1), live[0].Seq)
	require.NoError(t, eng.Shutdown(ctx))

	var recovered *domain.RecoveryEvent
	restarted := newAccounts(t, "events",
		ledger.WithJournal(memory.New(storage)),
		ledger.WithLifecycleHooks(domain.LifecycleHooks{
			OnRecovery: func(_ context.Context, e *domain.RecoveryEvent) { recovered = e },
		}),
	)
	var replayed int
	restarted.Subscribe(ledger.AllEvents, func(context.Context, domain.Event) { replayed++ })
	require.NoError(t, restarted.Startup(ctx))
	defer restarted.Shutdown(ctx)

	assert.Zero(t, replayed)
	require.NotNil(t, recovered)
	assert.Equal(t, uint64(1), recovered.Records)
	assert.NoError(t, recovered.Err)
}

func TestEngine_CorruptJournalStopsStartup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	eng := startAccounts(t, dir)
	for _, name := range []string{"a", "b", "c"} {
		_, err := accounts.Create(ctx, eng, name)
		require.NoError(t, err)
	}
	require.NoError(t, eng.Shutdown(ctx))

	path := filepath.Join(dir, file.FileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[12] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	broken := newAccounts(t, dir)
	err = broken.Startup(ctx)
	assert.ErrorIs(t, err, domain.ErrRecovery)
	assert.ErrorIs(t, err, domain.ErrCorruptJournal)
	assert.Equal(t, domain.StateStopped, broken.State())
}

func TestEngine_DamagedLengthKeepsCommittedRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	eng := startAccounts(t, dir)
	id, err := accounts.Create(ctx, eng, "John")
	require.NoError(t, err)
	_, err = accounts.ChangeBalance(ctx, eng, id, 10000)
	require.NoError(t, err)
	_, err = accounts.ChangeBalance(ctx, eng, id, 5)
	require.NoError(t, err)
	require.NoError(t, eng.Shutdown(ctx))

	path := filepath.Join(dir, file.FileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	second := 12 + int(binary.BigEndian.Uint32(raw[0:4]))
	raw[second+1] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	broken := newAccounts(t, dir)
	err = broken.Startup(ctx)
	assert.ErrorIs(t, err, domain.ErrRecovery)
	assert.ErrorIs(t, err, domain.ErrCorruptJournal)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, after, "committed records stay on disk")
}

func TestEngine_RecoveryFailureReleasesJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	eng := startAccounts(t, dir)
	_, err := accounts.Create(ctx, eng, "John")
	require.NoError(t, err)
	require.NoError(t, eng.Shutdown(ctx))

	bare, err := ledger.New(dir)
	require.NoError(t, err)
	err = bare.Startup(ctx)
	var rerr *domain.RecoveryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, uint64(1), rerr.Seq)
	assert.ErrorIs(t, err, domain.ErrUnknownCommand)
	assert.Equal(t, domain.StateStopped, bare.State())

	// The failed engine closed its journal, so the directory can be reopened.
	again := startAccounts(t, dir)
	defer again.Shutdown(ctx)
	assert.Equal(t, uint64(1), again.Status().LastSeq)
}

func TestEngine_WriterLock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := redisadapter.NewLocker(client, "ledger:")

	first := startAccounts(t, "shared",
		ledger.WithJournal(memory.New(nil)),
		ledger.WithLocker(locker, time.Minute),
	)
	assert.True(t, mr.Exists("ledger:lock:shared"))

	second := newAccounts(t, "shared",
		ledger.WithJournal(memory.New(nil)),
		ledger.WithLocker(locker, time.Minute),
	)
	waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	err := second.Startup(waitCtx)
	assert.Error(t, err)
	assert.Equal(t, domain.StateStopped, second.State())

	require.NoError(t, first.Shutdown(ctx))
	assert.False(t, mr.Exists("ledger:lock:shared"))

	third := startAccounts(t, "shared",
		ledger.WithJournal(memory.New(nil)),
		ledger.WithLocker(locker, 0),
	)
	require.NoError(t, third.Shutdown(ctx))
}

func TestEngine_EncryptedJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := bytes.Repeat([]byte{7}, 32)
	sealed := ledger.WithMiddleware(middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))

	eng := startAccounts(t, dir, sealed)
	_, err := accounts.Create(ctx, eng, "Confidential Holder")
	require.NoError(t, err)
	require.NoError(t, eng.Shutdown(ctx))

	raw, err := os.ReadFile(filepath.Join(dir, file.FileName))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Confidential Holder")

	restarted := startAccounts(t, dir, sealed)
	view, err := ledger.Find[accounts.AccountView](restarted, accounts.ViewAccount, 1)
	require.NoError(t, err)
	assert.Equal(t, "Confidential Holder", view.Name)
	require.NoError(t, restarted.Shutdown(ctx))

	plain := newAccounts(t, dir)
	assert.ErrorIs(t, plain.Startup(ctx), domain.ErrRecovery)
}

func TestFind_WrongViewType(t *testing.T) {
	ctx := context.Background()
	eng := startAccounts(t, "typed", ledger.WithJournal(memory.New(nil)))
	defer eng.Shutdown(ctx)

	_, err := accounts.Create(ctx, eng, "John")
	require.NoError(t, err)

	_, err = ledger.Find[accounts.AccountSummary](eng, accounts.ViewAccount, 1)
	assert.ErrorIs(t, err, domain.ErrEntityType)
	_, err = ledger.Execute[string](ctx, eng, accounts.CmdCreate, domain.Args{"name": "Mary"})
	assert.ErrorIs(t, err, domain.ErrEntityType)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	eng := startAccounts(t, "status", ledger.WithJournal(memory.New(nil)))
	defer eng.Shutdown(ctx)

	_, err := accounts.Create(ctx, eng, "John")
	require.NoError(t, err)

	st := eng.Status()
	assert.Equal(t, "status", st.Name)
	assert.Equal(t, domain.StateRunning, st.State)
	assert.Equal(t, uint64(1), st.LastSeq)
	assert.Equal(t, []string{accounts.CmdChangeBalance, accounts.CmdCreate, accounts.CmdDelete}, st.Commands)
	assert.Equal(t, []domain.ViewType{accounts.ViewSummary, accounts.ViewAccount, accounts.ViewChange}, st.Views)
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, ledger.Version)
}
