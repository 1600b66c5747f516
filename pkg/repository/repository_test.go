package repository_test

import (
	"sync"
	"testing"

	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const account domain.EntityType = "Account"

func TestRepository_StoreGet(t *testing.T) {
	repo := repository.New()

	_, err := repo.Get(account, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	repo.Store(account, 1, "John")
	v, err := repo.Get(account, 1)
	require.NoError(t, err)
	assert.Equal(t, "John", v)
	assert.True(t, repo.Has(account, 1))

	repo.Store(account, 1, "Jane")
	v, _ = repo.Get(account, 1)
	assert.Equal(t, "Jane", v, "store overwrites")

	repo.Remove(account, 1)
	assert.False(t, repo.Has(account, 1))
}

func TestRepository_NextID(t *testing.T) {
	repo := repository.New()
	assert.Equal(t, int64(1), repo.NextID(account))
	assert.Equal(t, int64(2), repo.NextID(account))
	assert.Equal(t, int64(1), repo.NextID("Other"), "counters are per type")

	// An explicitly stored id is never handed out.
	repo.Store(account, 3, "taken")
	assert.Equal(t, int64(4), repo.NextID(account))
	assert.Equal(t, int64(4), repo.Counter(account))
}

func TestRepository_NextID_Concurrent(t *testing.T) {
	repo := repository.New()
	var wg sync.WaitGroup
	ids := make(chan int64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- repo.NextID(account)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}

func TestRepository_IDsSorted(t *testing.T) {
	repo := repository.New()
	repo.Store(account, 5, "e")
	repo.Store(account, 1, "a")
	repo.Store(account, 3, "c")
	assert.Equal(t, []int64{1, 3, 5}, repo.IDs(account))
	assert.Empty(t, repo.IDs("Nothing"))
}

func TestStage_IsolatedUntilCommit(t *testing.T) {
	repo := repository.New()
	repo.Store(account, 1, "before")

	stage := repo.Stage()
	stage.Store(account, 1, "after")
	id := stage.NextID(account)
	stage.Store(account, id, "new")

	// The stage sees its own writes.
	v, err := stage.Get(account, 1)
	require.NoError(t, err)
	assert.Equal(t, "after", v)
	assert.True(t, stage.Has(account, id))
	assert.Equal(t, []int64{1, 2}, stage.IDs(account))

	// Readers of the repository do not.
	v, _ = repo.Get(account, 1)
	assert.Equal(t, "before", v)
	assert.False(t, repo.Has(account, id))
	assert.Equal(t, int64(0), repo.Counter(account))

	assert.Equal(t, []domain.Allocation{{Type: account, ID: 2}}, stage.Allocations())

	stage.Commit()
	v, _ = repo.Get(account, 1)
	assert.Equal(t, "after", v)
	assert.True(t, repo.Has(account, id))
	assert.Equal(t, int64(2), repo.Counter(account))
	assert.False(t, stage.Dirty())
}

func TestStage_Discard(t *testing.T) {
	repo := repository.New()
	repo.Store(account, 1, "keep")
	before := repo.Snapshot()

	stage := repo.Stage()
	stage.Store(account, 1, "lost")
	stage.Remove(account, 1)
	stage.NextID(account)
	assert.False(t, stage.Has(account, 1))
	_, err := stage.Get(account, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stage.Discard()
	assert.Equal(t, before, repo.Snapshot())
}

func TestStage_RemoveCommits(t *testing.T) {
	repo := repository.New()
	repo.Store(account, 1, "gone")
	stage := repo.Stage()
	stage.Remove(account, 1)
	assert.Empty(t, stage.IDs(account))
	stage.Commit()
	assert.False(t, repo.Has(account, 1))
}

func TestRepository_Read(t *testing.T) {
	repo := repository.New()
	repo.Store("Account", 2, "b")
	repo.Store("Account", 1, "a")

	repo.Read(func(r repository.Reader) {
		assert.Equal(t, []int64{1, 2}, r.IDs("Account"))
		assert.True(t, r.Has("Account", 1))
		v, err := r.Get("Account", 2)
		require.NoError(t, err)
		assert.Equal(t, "b", v)
		_, err = r.Get("Account", 3)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
