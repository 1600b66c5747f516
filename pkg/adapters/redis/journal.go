// Package redis provides Redis-backed journal and writer lock adapters.
//
// The journal is a Redis Stream whose entry ids are "<seq>-0", so Redis itself
// rejects out-of-order appends. Durability follows the server's persistence
// settings: run Redis with appendfsync always for crash-safe acknowledgments.
//
// A failed XADD does not prove the entry is missing (a timeout can follow a
// write the server applied), so Append reads the entry back before reporting
// failure. When that read fails too, the journal stops accepting appends until
// it is reopened.
package redis

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "ledger:"
	recordField    = "record"
	replayPageSize = 200
)

// Journal implements ports.Journal using a Redis Stream.
type Journal struct {
	client *backend.Client
	owned  bool
	prefix string

	mu      sync.Mutex
	open    bool
	lastSeq uint64
	failed  error
}

// Option configures a Journal.
type Option func(*Journal)

// WithPrefix sets the key prefix. The stream key is prefix + "journal".
func WithPrefix(prefix string) Option {
	return func(j *Journal) {
		j.prefix = prefix
	}
}

// New creates a journal with its own client. Close also closes the client.
func New(address, password string, db int, opts ...Option) *Journal {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	j := NewFromClient(rdb, opts...)
	j.owned = true
	return j
}

// NewFromClient creates a journal from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Journal {
	j := &Journal{
		client: client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Key returns the stream key.
func (j *Journal) Key() string {
	return j.prefix + "journal"
}

// Open checks connectivity and reads the last stream entry.
func (j *Journal) Open(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}

	last, err := j.client.XRevRangeN(ctx, j.Key(), "+", "-", 1).Result()
	if err != nil {
		return fmt.Errorf("failed to read journal tail: %w", err)
	}
	j.lastSeq = 0
	j.failed = nil
	if len(last) == 1 {
		seq, err := parseID(last[0].ID)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrCorruptJournal, err)
		}
		j.lastSeq = seq
	}
	j.open = true
	return nil
}

// Append adds the record under id "<seq>-0".
func (j *Journal) Append(ctx context.Context, rec domain.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.open {
		return domain.ErrJournalClosed
	}
	if j.failed != nil {
		return j.failed
	}
	if rec.Seq != j.lastSeq+1 {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrSequenceGap, rec.Seq, j.lastSeq+1)
	}

	payload, err := codec.MarshalRecord(rec)
	if err != nil {
		return err
	}
	if err := j.client.XAdd(ctx, &backend.XAddArgs{
		Stream: j.Key(),
		ID:     formatID(rec.Seq),
		Values: map[string]any{recordField: payload},
	}).Err(); err != nil {
		landed, verr := j.landed(ctx, rec.Seq, payload)
		switch {
		case verr != nil:
			j.failed = fmt.Errorf("%w: record %d: append: %v; read back: %w",
				domain.ErrJournalIndeterminate, rec.Seq, err, verr)
			return j.failed
		case landed:
			j.lastSeq = rec.Seq
			return nil
		}
		return fmt.Errorf("failed to append to redis: %w", err)
	}

	j.lastSeq = rec.Seq
	return nil
}

// landed reports whether the entry for seq holds payload.
// An entry with different content is corruption.
func (j *Journal) landed(ctx context.Context, seq uint64, payload []byte) (bool, error) {
	msgs, err := j.client.XRangeN(ctx, j.Key(), formatID(seq), formatID(seq), 1).Result()
	if err != nil {
		return false, err
	}
	if len(msgs) == 0 {
		return false, nil
	}
	if raw, _ := msgs[0].Values[recordField].(string); raw != string(payload) {
		return false, fmt.Errorf("%w: entry %s differs from the record appended", domain.ErrCorruptJournal, msgs[0].ID)
	}
	return true, nil
}

// Replay reads the stream in pages with XRANGE.
func (j *Journal) Replay(ctx context.Context) iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		j.mu.Lock()
		open, limit := j.open, j.lastSeq
		j.mu.Unlock()

		if !open {
			yield(domain.Record{}, domain.ErrJournalClosed)
			return
		}

		next := uint64(1)
		for next <= limit {
			msgs, err := j.client.XRangeN(ctx, j.Key(), formatID(next), formatID(limit), replayPageSize).Result()
			if err != nil {
				yield(domain.Record{}, fmt.Errorf("failed to read journal: %w", err))
				return
			}
			if len(msgs) == 0 {
				return
			}
			for _, msg := range msgs {
				rec, err := decodeMessage(msg)
				if !yield(rec, err) || err != nil {
					return
				}
				next = rec.Seq + 1
			}
		}
	}
}

// LastSeq returns the sequence of the last stream entry.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

// Close stops accepting appends and closes an owned client.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.open = false
	if j.owned {
		if err := j.client.Close(); err != nil && !errors.Is(err, backend.ErrClosed) {
			return err
		}
	}
	return nil
}

func decodeMessage(msg backend.XMessage) (domain.Record, error) {
	raw, ok := msg.Values[recordField].(string)
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: entry %s has no %s field", domain.ErrCorruptJournal, msg.ID, recordField)
	}
	rec, err := codec.UnmarshalRecord([]byte(raw))
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: entry %s: %v", domain.ErrCorruptJournal, msg.ID, err)
	}
	if want, err := parseID(msg.ID); err != nil || want != rec.Seq {
		return domain.Record{}, fmt.Errorf("%w: entry %s holds seq %d", domain.ErrCorruptJournal, msg.ID, rec.Seq)
	}
	return rec, nil
}

func formatID(seq uint64) string {
	return strconv.FormatUint(seq, 10) + "-0"
}

func parseID(id string) (uint64, error) {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return 0, fmt.Errorf("malformed stream id %q", id)
	}
	return strconv.ParseUint(ms, 10, 64)
}
