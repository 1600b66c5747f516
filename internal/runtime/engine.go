// Package runtime is the command engine.
//
// Live execution and replay share one apply path. The only difference is the
// persist flag: live commands are appended to the journal before their staged
// repository changes are committed, replayed records are verified against the
// id allocations they recorded.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/ledger/internal/logging"
	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/ports"
	"github.com/aretw0/ledger/pkg/registry"
	"github.com/aretw0/ledger/pkg/repository"
	"github.com/aretw0/ledger/pkg/txn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans created by the engine.
const TracerName = "github.com/aretw0/ledger"

// Engine applies commands to the repository and the journal.
// Commands are serialized by a single execution lock.
type Engine struct {
	registry *registry.Registry
	repo     *repository.Repository
	journal  ports.Journal

	hooks  domain.LifecycleHooks
	logger *slog.Logger
	tracer trace.Tracer
	clock  func() time.Time

	mu  sync.Mutex
	seq uint64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithClock sets the source of record timestamps.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine creates an engine over the given registry, repository and journal.
// The journal must be open before Recover or Execute are called.
func NewEngine(reg *registry.Registry, repo *repository.Repository, journal ports.Journal, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: reg,
		repo:     repo,
		journal:  journal,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer(TracerName),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a committed command.
type Result struct {
	Seq    uint64
	Value  any
	Events []domain.Event
}

// Seq returns the sequence of the last applied command.
func (e *Engine) Seq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Execute runs the named command and makes it durable.
// Events published by the handler are returned, not dispatched.
func (e *Engine) Execute(ctx context.Context, name string, args domain.Args) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	def, err := e.registry.Lookup(name)
	if err != nil {
		return Result{}, err
	}
	normalized, err := codec.NormalizeArgs(args)
	if err != nil {
		return Result{}, fmt.Errorf("command %q: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := domain.Record{
		Seq:       e.seq + 1,
		Command:   name,
		Args:      normalized,
		Timestamp: e.clock().UTC(),
	}
	return e.apply(ctx, def, rec, true)
}

// Replay applies a record read from the journal without appending it again.
func (e *Engine) Replay(ctx context.Context, rec domain.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rec.Seq != e.seq+1 {
		return &domain.RecoveryError{
			Seq:     rec.Seq,
			Command: rec.Command,
			Err:     fmt.Errorf("%w: got %d, want %d", domain.ErrSequenceGap, rec.Seq, e.seq+1),
		}
	}
	def, err := e.registry.Lookup(rec.Command)
	if err != nil {
		return &domain.RecoveryError{Seq: rec.Seq, Command: rec.Command, Err: err}
	}
	if _, err := e.apply(ctx, def, rec, false); err != nil {
		return &domain.RecoveryError{Seq: rec.Seq, Command: rec.Command, Err: err}
	}
	return nil
}

// Recover drains the journal through the replay path.
func (e *Engine) Recover(ctx context.Context) (domain.RecoveryEvent, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.recover")
	defer span.End()

	start := time.Now()
	var evt domain.RecoveryEvent

	for rec, err := range e.journal.Replay(ctx) {
		if err != nil {
			evt.Err = &domain.RecoveryError{Seq: e.Seq() + 1, Err: err}
			break
		}
		if err := e.Replay(ctx, rec); err != nil {
			evt.Err = err
			break
		}
		evt.Records++
	}

	if evt.Err == nil {
		if last, applied := e.journal.LastSeq(), e.Seq(); last != applied {
			evt.Err = &domain.RecoveryError{
				Seq: applied + 1,
				Err: fmt.Errorf("%w: journal ends at %d, replayed %d", domain.ErrSequenceGap, last, applied),
			}
		}
	}

	evt.LastSeq = e.Seq()
	evt.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int64("ledger.records", int64(evt.Records)),
		attribute.Int64("ledger.last_seq", int64(evt.LastSeq)),
	)
	if evt.Err != nil {
		span.RecordError(evt.Err)
		span.SetStatus(codes.Error, evt.Err.Error())
	}
	if e.hooks.OnRecovery != nil {
		e.hooks.OnRecovery(ctx, &evt)
	}
	return evt, evt.Err
}

// apply runs one command. Callers hold e.mu.
func (e *Engine) apply(ctx context.Context, def *registry.Definition, rec domain.Record, persist bool) (res Result, err error) {
	spanName := "ledger.execute"
	if !persist {
		spanName = "ledger.replay"
	}
	ctx, span := e.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("ledger.command", rec.Command),
		attribute.Int64("ledger.seq", int64(rec.Seq)),
	))
	start := time.Now()

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if e.hooks.OnCommand != nil {
			e.hooks.OnCommand(ctx, &domain.CommandEvent{
				Command:  rec.Command,
				Seq:      rec.Seq,
				Replay:   !persist,
				Duration: time.Since(start),
				Err:      err,
			})
		}
	}()

	stage := e.repo.Stage()
	tx := txn.New(rec, stage, def.IDPolicy)

	value, err := run(def, tx)
	if err != nil {
		stage.Discard()
		e.logger.Debug("command rejected", "command", rec.Command, "seq", rec.Seq, "error", err)
		return Result{}, &domain.TransactionFailedError{Command: rec.Command, Err: err}
	}

	if persist {
		rec.IDs = stage.Allocations()
		// A canceled caller must not leave a command half applied.
		if err := e.journal.Append(context.WithoutCancel(ctx), rec); err != nil {
			stage.Discard()
			e.logger.Error("journal append failed", "command", rec.Command, "seq", rec.Seq, "error", err)
			return Result{}, &domain.JournalWriteError{Seq: rec.Seq, Err: err}
		}
	} else if got := stage.Allocations(); !sameAllocations(got, rec.IDs) {
		stage.Discard()
		return Result{}, fmt.Errorf("id allocations diverged: recorded %v, replayed %v", rec.IDs, got)
	}

	stage.Commit()
	e.seq = rec.Seq
	return Result{Seq: rec.Seq, Value: value, Events: tx.Events()}, nil
}

// run evaluates the guard and the handler, turning panics into errors.
func run(def *registry.Definition, tx *txn.Tx) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if def.Condition != nil && !def.Condition(tx) {
		return nil, domain.ErrConditionFailed
	}
	return def.Handler(tx)
}

func sameAllocations(a, b []domain.Allocation) bool {
	return slices.Equal(a, b)
}
