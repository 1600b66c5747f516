// Package file implements the journal on the local filesystem.
//
// The journal is a single append-only file. Each record is framed as
//
//	length (uint32 BE) | crc32c(length) (uint32 BE) | crc32c(payload) (uint32 BE) | payload
//
// where payload is the codec encoding of the record. Frames are self-delimiting,
// so the file is recovered by one sequential read. The length carries its own
// checksum, so a damaged length is told apart from a frame cut short by a crash.
//
// On open, only these tails are discarded as torn: a partial header, a valid
// header whose payload is short, and a region of zero bytes running to the end
// of the file (a file extended by the filesystem before the data landed).
// Anything else that fails to decode is ErrCorruptJournal and the file is left
// untouched.
package file

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/ledger/internal/logging"
	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
)

const (
	// FileName is the journal file created inside the data directory.
	FileName = "journal.log"

	headerSize = 12

	// MaxRecordSize bounds a single frame payload.
	MaxRecordSize = 64 << 20
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Journal implements ports.Journal over a local file.
type Journal struct {
	dir    string
	sync   bool
	logger *slog.Logger

	mu      sync.Mutex
	f       *os.File
	size    int64
	lastSeq uint64
}

// Option configures a Journal.
type Option func(*Journal)

// WithSync controls fsync after every append. Enabled by default.
// Disabling it trades crash durability for throughput.
func WithSync(enabled bool) Option {
	return func(j *Journal) {
		j.sync = enabled
	}
}

// WithLogger sets the logger used to report recovered torn writes.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// New creates a journal stored in dir.
// If dir is empty, it defaults to ".ledger".
func New(dir string, opts ...Option) *Journal {
	if dir == "" {
		dir = ".ledger"
	}
	j := &Journal{
		dir:    dir,
		sync:   true,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return filepath.Join(j.dir, FileName)
}

// Open creates the directory and file if needed, scans every frame and
// truncates a torn trailing frame.
func (j *Journal) Open(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.f != nil {
		return fmt.Errorf("journal %s already open", j.Path())
	}
	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure journal directory: %w", err)
	}

	f, err := os.OpenFile(j.Path(), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	res, err := scan(f)
	if err != nil {
		_ = f.Close()
		return err
	}

	if res.torn {
		j.logger.Warn("discarding torn journal tail",
			"path", j.Path(), "offset", res.size, "bytes", res.fileSize-res.size)
		if err := f.Truncate(res.size); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to truncate torn journal tail: %w", err)
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to fsync journal: %w", err)
		}
	}
	if _, err := f.Seek(res.size, io.SeekStart); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to seek journal end: %w", err)
	}

	j.f = f
	j.size = res.size
	j.lastSeq = res.lastSeq
	return nil
}

// Append writes one frame and fsyncs it.
// A failed write is rolled back so the file never keeps a partial frame.
func (j *Journal) Append(ctx context.Context, rec domain.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.f == nil {
		return domain.ErrJournalClosed
	}
	if rec.Seq != j.lastSeq+1 {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrSequenceGap, rec.Seq, j.lastSeq+1)
	}

	payload, err := codec.MarshalRecord(rec)
	if err != nil {
		return err
	}
	if len(payload) > MaxRecordSize {
		return fmt.Errorf("record %d is %d bytes, limit is %d", rec.Seq, len(payload), MaxRecordSize)
	}

	frame := make([]byte, headerSize+len(payload))
	putHeader(frame, payload)
	copy(frame[headerSize:], payload)

	if _, err := j.f.Write(frame); err != nil {
		j.rollback()
		return fmt.Errorf("failed to write journal frame: %w", err)
	}
	if j.sync {
		if err := j.f.Sync(); err != nil {
			j.rollback()
			return fmt.Errorf("failed to fsync journal: %w", err)
		}
	}

	j.size += int64(len(frame))
	j.lastSeq = rec.Seq
	return nil
}

func (j *Journal) rollback() {
	if err := j.f.Truncate(j.size); err != nil {
		j.logger.Error("failed to roll back partial journal frame", "path", j.Path(), "error", err)
		return
	}
	_, _ = j.f.Seek(j.size, io.SeekStart)
}

// Replay reads frames through a separate handle, up to the size that was
// durable when iteration began.
func (j *Journal) Replay(ctx context.Context) iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		j.mu.Lock()
		open, limit := j.f != nil, j.size
		j.mu.Unlock()

		if !open {
			yield(domain.Record{}, domain.ErrJournalClosed)
			return
		}

		f, err := os.Open(j.Path())
		if err != nil {
			yield(domain.Record{}, fmt.Errorf("failed to open journal for replay: %w", err))
			return
		}
		defer f.Close()

		r := bufio.NewReader(io.LimitReader(f, limit))
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.Record{}, err)
				return
			}
			payload, err := readFrame(r)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(domain.Record{}, fmt.Errorf("%w: %v", domain.ErrCorruptJournal, err))
				return
			}
			rec, err := codec.UnmarshalRecord(payload)
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// LastSeq returns the sequence of the last durable record.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

// Close syncs and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.f == nil {
		return nil
	}
	f := j.f
	j.f = nil

	syncErr := f.Sync()
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	if syncErr != nil {
		return fmt.Errorf("failed to fsync journal: %w", syncErr)
	}
	return nil
}

var (
	errShortFrame     = errors.New("short frame")
	errHeaderChecksum = errors.New("header checksum mismatch")
	errEmptyFrame     = errors.New("empty frame")
	errChecksum       = errors.New("checksum mismatch")
	errFrameSize      = errors.New("frame exceeds size limit")
)

func putHeader(frame, payload []byte) {
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], crc32.Checksum(frame[0:4], castagnoli))
	binary.BigEndian.PutUint32(frame[8:12], crc32.Checksum(payload, castagnoli))
}

// readFrame returns io.EOF only on a clean frame boundary.
// errShortFrame means the file ended inside the frame; the length was either
// unreadable or verified, never trusted blindly.
func readFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	n, err := io.ReadFull(r, header[:])
	if n == 0 && errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errShortFrame
	}
	if crc32.Checksum(header[0:4], castagnoli) != binary.BigEndian.Uint32(header[4:8]) {
		return nil, errHeaderChecksum
	}

	length := binary.BigEndian.Uint32(header[0:4])
	switch {
	case length == 0:
		return nil, errEmptyFrame
	case length > MaxRecordSize:
		return nil, errFrameSize
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errShortFrame
	}
	if crc32.Checksum(payload, castagnoli) != binary.BigEndian.Uint32(header[8:12]) {
		return nil, errChecksum
	}
	return payload, nil
}

type scanResult struct {
	size     int64
	fileSize int64
	lastSeq  uint64
	torn     bool
}

// scan walks every frame and classifies the first one that fails to decode.
func scan(f *os.File) (scanResult, error) {
	info, err := f.Stat()
	if err != nil {
		return scanResult{}, fmt.Errorf("failed to stat journal: %w", err)
	}
	res := scanResult{fileSize: info.Size()}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return res, fmt.Errorf("failed to seek journal start: %w", err)
	}
	r := bufio.NewReader(f)

	for {
		payload, err := readFrame(r)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			torn, terr := tornTail(f, res.size, res.fileSize, err)
			if terr != nil {
				return res, terr
			}
			if torn {
				res.torn = true
				return res, nil
			}
			return res, fmt.Errorf("%w: offset %d: %v", domain.ErrCorruptJournal, res.size, err)
		}

		rec, err := codec.UnmarshalRecord(payload)
		if err != nil {
			return res, fmt.Errorf("%w: offset %d: %v", domain.ErrCorruptJournal, res.size, err)
		}
		if rec.Seq != res.lastSeq+1 {
			return res, fmt.Errorf("%w: offset %d: %v: got %d, want %d",
				domain.ErrCorruptJournal, res.size, domain.ErrSequenceGap, rec.Seq, res.lastSeq+1)
		}
		res.lastSeq = rec.Seq
		res.size += int64(headerSize + len(payload))
	}
}

// tornTail decides whether the frame at off, which failed with frameErr, is
// the remains of an interrupted append.
func tornTail(f *os.File, off, fileSize int64, frameErr error) (bool, error) {
	switch {
	case errors.Is(frameErr, errShortFrame):
		return true, nil
	case errors.Is(frameErr, errChecksum):
		// header landed, payload blocks did not
		return zeroFrom(f, off+headerSize, fileSize)
	default:
		return zeroFrom(f, off, fileSize)
	}
}

// zeroFrom reports whether every byte from off to the end of the file is zero.
func zeroFrom(f *os.File, off, fileSize int64) (bool, error) {
	buf := make([]byte, 32<<10)
	for off < fileSize {
		n, err := f.ReadAt(buf[:min(int64(len(buf)), fileSize-off)], off)
		for _, b := range buf[:n] {
			if b != 0 {
				return false, nil
			}
		}
		off += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return true, nil
			}
			return false, fmt.Errorf("failed to read journal tail: %w", err)
		}
	}
	return true, nil
}
