package memory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
)

// ErrInjected is the default error returned by Storage.FailNext.
var ErrInjected = errors.New("injected journal failure")

// Storage holds encoded records. It outlives Journal handles, so a test can
// close a journal and open a new one over the same Storage to simulate a restart.
// Safe for concurrent use.
type Storage struct {
	mu      sync.Mutex
	records [][]byte
	fail    []error
}

// NewStorage creates empty storage.
func NewStorage() *Storage {
	return &Storage{}
}

// FailNext makes the next n appends fail with err (ErrInjected when nil).
func (s *Storage) FailNext(n int, err error) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.fail = append(s.fail, err)
	}
}

// Len returns the number of stored records.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Journal implements ports.Journal in memory.
// Records are encoded on append, so readers observe the same values a durable
// journal would return.
type Journal struct {
	storage *Storage
	mu      sync.Mutex
	open    bool
}

// New creates a journal over storage. A nil storage gets a private one.
func New(storage *Storage) *Journal {
	if storage == nil {
		storage = NewStorage()
	}
	return &Journal{storage: storage}
}

// Open marks the journal usable.
func (j *Journal) Open(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.open = true
	return nil
}

// Append stores the encoded record.
func (j *Journal) Append(ctx context.Context, rec domain.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.open {
		return domain.ErrJournalClosed
	}

	s := j.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.fail) > 0 {
		err := s.fail[0]
		s.fail = s.fail[1:]
		return err
	}
	if want := uint64(len(s.records)) + 1; rec.Seq != want {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrSequenceGap, rec.Seq, want)
	}

	data, err := codec.MarshalRecord(rec)
	if err != nil {
		return err
	}
	s.records = append(s.records, data)
	return nil
}

// Replay decodes records in order. It iterates a snapshot taken when the
// sequence starts.
func (j *Journal) Replay(ctx context.Context) iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		j.mu.Lock()
		open := j.open
		j.mu.Unlock()
		if !open {
			yield(domain.Record{}, domain.ErrJournalClosed)
			return
		}

		s := j.storage
		s.mu.Lock()
		snapshot := s.records[:len(s.records):len(s.records)]
		s.mu.Unlock()

		for _, data := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(domain.Record{}, err)
				return
			}
			rec, err := codec.UnmarshalRecord(data)
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// LastSeq returns the number of stored records.
func (j *Journal) LastSeq() uint64 {
	return uint64(j.storage.Len())
}

// Close marks the journal closed. Storage is kept.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.open = false
	return nil
}
