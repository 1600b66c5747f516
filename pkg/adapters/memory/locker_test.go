package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/ledger/pkg/adapters/memory"
	"github.com/aretw0/ledger/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.DistributedLocker = (*memory.Locker)(nil)

func TestLocker_Contention(t *testing.T) {
	locker := memory.NewLocker()
	ctx := context.Background()

	unlock1, err := locker.Lock(ctx, "shared", time.Second)
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctxTimeout, "shared", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock1(ctx))
	require.NoError(t, unlock1(ctx), "unlock is idempotent")

	unlock2, err := locker.Lock(ctx, "shared", time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestLocker_Serializes(t *testing.T) {
	locker := memory.NewLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "k", time.Second)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			_ = unlock(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocker_NoLeak(t *testing.T) {
	locker := memory.NewLocker()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		unlock, err := locker.Lock(ctx, fmt.Sprintf("journal-%d", i), 0)
		require.NoError(t, err)
		require.NoError(t, unlock(ctx))
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	hold, err := locker.Lock(ctx, "busy", 0)
	require.NoError(t, err)
	_, err = locker.Lock(canceled, "busy", 0)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, hold(ctx))

	assert.Zero(t, locker.Held(), "entries are dropped once released")
}
