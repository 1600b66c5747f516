// Package sqlite provides a SQLite-backed journal.
//
// Records live in one table keyed by sequence number. The database runs in WAL
// mode with synchronous=FULL so a committed append survives power loss.
//
// A commit error does not prove the row is missing, so Append reads it back
// before reporting failure. When that read fails too, the journal stops
// accepting appends until it is reopened.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aretw0/ledger/pkg/adapters/sqlite/migrations"
	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
	_ "modernc.org/sqlite"
)

// replayPageSize bounds how many rows one replay query reads.
const replayPageSize = 200

// Journal implements ports.Journal using SQLite.
type Journal struct {
	path string

	mu      sync.Mutex
	db      *sql.DB
	lastSeq uint64
	failed  error

	commit func(*sql.Tx) error
}

// New creates a journal stored at path. The database is created on Open.
func New(path string) *Journal {
	return &Journal{path: path, commit: (*sql.Tx).Commit}
}

// Open opens the database and applies embedded migrations.
func (j *Journal) Open(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db != nil {
		return fmt.Errorf("sqlite journal %s already open", j.path)
	}
	if strings.TrimSpace(j.path) == "" {
		return fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(j.path) +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return fmt.Errorf("run migrations: %w", err)
	}

	var last sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(seq) FROM journal").Scan(&last); err != nil {
		_ = db.Close()
		return fmt.Errorf("read last sequence: %w", err)
	}

	j.db = db
	j.lastSeq = uint64(last.Int64)
	j.failed = nil
	return nil
}

// Append inserts rec in its own transaction.
func (j *Journal) Append(ctx context.Context, rec domain.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db == nil {
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

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO journal (seq, command, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		int64(rec.Seq), rec.Command, payload, rec.Timestamp.UTC().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert record %d: %w", rec.Seq, err)
	}
	if err := j.commit(tx); err != nil {
		landed, verr := j.landed(ctx, rec.Seq, payload)
		switch {
		case verr != nil:
			j.failed = fmt.Errorf("%w: record %d: commit: %v; read back: %w",
				domain.ErrJournalIndeterminate, rec.Seq, err, verr)
			return j.failed
		case !landed:
			return fmt.Errorf("commit record %d: %w", rec.Seq, err)
		}
	}

	j.lastSeq = rec.Seq
	return nil
}

// landed reports whether the row for seq holds payload.
func (j *Journal) landed(ctx context.Context, seq uint64, payload []byte) (bool, error) {
	var stored []byte
	err := j.db.QueryRowContext(ctx, `SELECT payload FROM journal WHERE seq = ?`, int64(seq)).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	case string(stored) != string(payload):
		return false, fmt.Errorf("%w: row %d differs from the record appended", domain.ErrCorruptJournal, seq)
	}
	return true, nil
}

// Replay reads records in pages ordered by sequence.
func (j *Journal) Replay(ctx context.Context) iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		j.mu.Lock()
		db, limit := j.db, j.lastSeq
		j.mu.Unlock()

		if db == nil {
			yield(domain.Record{}, domain.ErrJournalClosed)
			return
		}

		var after uint64
		for after < limit {
			page, err := readPage(ctx, db, after, limit)
			if err != nil {
				yield(domain.Record{}, err)
				return
			}
			if len(page) == 0 {
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				after = rec.Seq
			}
		}
	}
}

func readPage(ctx context.Context, db *sql.DB, after, limit uint64) ([]domain.Record, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT payload FROM journal WHERE seq > ? AND seq <= ? ORDER BY seq LIMIT ?`,
		int64(after), int64(limit), replayPageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	page := make([]domain.Record, 0, replayPageSize)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		rec, err := codec.UnmarshalRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCorruptJournal, err)
		}
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return page, nil
}

// LastSeq returns the highest stored sequence.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

// Close closes the SQLite handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db == nil {
		return nil
	}
	db := j.db
	j.db = nil
	if err := db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("close sqlite db: %w", err)
	}
	return nil
}
