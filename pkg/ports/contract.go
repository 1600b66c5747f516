package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/ledger/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// JournalOpener returns a new, unopened Journal handle over one storage location.
// Calling it again must address the same storage, which is how the suite
// simulates a process restart.
type JournalOpener func() Journal

// RunJournalContract runs a suite of tests to verify that a Journal implementation
// adheres to the defined interface contract. newStorage is called once per
// subtest and must return an opener over fresh, empty storage.
func RunJournalContract(t *testing.T, newStorage func(t *testing.T) JournalOpener) {
	t.Helper()
	ctx := context.Background()

	open := func(t *testing.T, opener JournalOpener) Journal {
		t.Helper()
		j := opener()
		require.NoError(t, j.Open(ctx), "Open should not return error")
		return j
	}

	t.Run("Empty", func(t *testing.T) {
		j := open(t, newStorage(t))
		defer j.Close()

		assert.Equal(t, uint64(0), j.LastSeq())
		recs, err := collect(ctx, j)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("Append and Replay", func(t *testing.T) {
		j := open(t, newStorage(t))
		defer j.Close()

		want := sampleRecords(3)
		for _, rec := range want {
			require.NoError(t, j.Append(ctx, rec))
		}
		assert.Equal(t, uint64(3), j.LastSeq())

		got, err := collect(ctx, j)
		require.NoError(t, err)
		assertRecords(t, want, got)
	})

	t.Run("Sequence Gap", func(t *testing.T) {
		j := open(t, newStorage(t))
		defer j.Close()

		err := j.Append(ctx, sampleRecords(3)[2])
		assert.ErrorIs(t, err, domain.ErrSequenceGap)

		rec := sampleRecords(1)[0]
		require.NoError(t, j.Append(ctx, rec))
		err = j.Append(ctx, rec)
		assert.ErrorIs(t, err, domain.ErrSequenceGap, "a sequence number cannot be reused")
		assert.Equal(t, uint64(1), j.LastSeq())
	})

	t.Run("Reopen", func(t *testing.T) {
		opener := newStorage(t)
		j := open(t, opener)
		want := sampleRecords(4)
		for _, rec := range want[:3] {
			require.NoError(t, j.Append(ctx, rec))
		}
		require.NoError(t, j.Close())

		j = open(t, opener)
		defer j.Close()
		assert.Equal(t, uint64(3), j.LastSeq())

		require.NoError(t, j.Append(ctx, want[3]), "appending resumes after the last durable record")
		got, err := collect(ctx, j)
		require.NoError(t, err)
		assertRecords(t, want, got)
	})

	t.Run("Early Break", func(t *testing.T) {
		j := open(t, newStorage(t))
		defer j.Close()
		for _, rec := range sampleRecords(3) {
			require.NoError(t, j.Append(ctx, rec))
		}

		seen := 0
		for _, err := range j.Replay(ctx) {
			require.NoError(t, err)
			seen++
			if seen == 2 {
				break
			}
		}
		assert.Equal(t, 2, seen)
	})

	t.Run("Closed", func(t *testing.T) {
		j := open(t, newStorage(t))
		require.NoError(t, j.Close())

		err := j.Append(ctx, sampleRecords(1)[0])
		assert.ErrorIs(t, err, domain.ErrJournalClosed)
	})
}

func collect(ctx context.Context, j Journal) ([]domain.Record, error) {
	var out []domain.Record
	for rec, err := range j.Replay(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func sampleRecords(n int) []domain.Record {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{
			Seq:       uint64(i + 1),
			Command:   "changeBalance",
			Args:      domain.Args{"id": int64(1), "inc": int64((i + 1) * 100), "note": "contract"},
			IDs:       []domain.Allocation{{Type: "EntityChange", ID: int64(i + 1)}},
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func assertRecords(t *testing.T, want, got []domain.Record) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Seq, got[i].Seq)
		assert.Equal(t, want[i].Command, got[i].Command)
		assert.Equal(t, want[i].IDs, got[i].IDs)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp), "timestamp of seq %d", want[i].Seq)

		inc, err := got[i].Args.Int64("inc")
		require.NoError(t, err)
		wantInc, _ := want[i].Args.Int64("inc")
		assert.Equal(t, wantInc, inc)
		note, err := got[i].Args.String("note")
		require.NoError(t, err)
		assert.Equal(t, "contract", note)
	}
}
