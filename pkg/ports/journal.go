package ports

import (
	"context"
	"iter"

	"github.com/aretw0/ledger/pkg/domain"
)

// Journal is the durable, append-only sequence of committed command records.
// It is the single source of truth for recovery.
type Journal interface {
	// Open acquires the underlying resource and positions the journal after its
	// last intact record. A torn trailing write is discarded, not reported.
	Open(ctx context.Context) error

	// Append durably persists rec before returning.
	// rec.Seq must equal LastSeq()+1, otherwise domain.ErrSequenceGap is returned.
	// Returns domain.ErrJournalClosed if the journal is not open.
	Append(ctx context.Context, rec domain.Record) error

	// Replay yields every record in sequence order. The sequence is single use:
	// callers range over it once per startup.
	Replay(ctx context.Context) iter.Seq2[domain.Record, error]

	// LastSeq returns the sequence number of the last durable record, 0 when empty.
	LastSeq() uint64

	// Close releases the underlying resource. Further appends fail.
	Close() error
}
