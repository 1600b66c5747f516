package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/aretw0/ledger/internal/logging"
	"github.com/aretw0/ledger/internal/runtime"
	"github.com/aretw0/ledger/pkg/adapters/file"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/persistence/middleware"
	"github.com/aretw0/ledger/pkg/ports"
	"github.com/aretw0/ledger/pkg/registry"
	"github.com/aretw0/ledger/pkg/repository"
	"github.com/aretw0/ledger/pkg/txn"
	"github.com/aretw0/ledger/pkg/view"
	"go.opentelemetry.io/otel/trace"
)

// DefaultLockTTL is the writer lock lease used when WithLocker gets no TTL.
const DefaultLockTTL = 30 * time.Second

// AllEvents subscribes to every event type.
const AllEvents = runtime.AllEvents

// Subscriber receives committed events.
type Subscriber = runtime.Subscriber

// Engine is the high-level entry point of the ledger.
// It owns the registry, the repository, the journal and the lifecycle.
type Engine struct {
	Name string

	journal     ports.Journal
	middlewares []middleware.Middleware
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	unlock      ports.UnlockFunc

	registry  *registry.Registry
	projector *view.Projector
	repo      *repository.Repository
	bus       *runtime.Bus
	runtime   *runtime.Engine

	hooks  domain.LifecycleHooks
	logger *slog.Logger
	clock  func() time.Time
	tracer trace.Tracer

	mu    sync.RWMutex
	state domain.EngineState
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithJournal injects a journal, bypassing the default file journal.
func WithJournal(j ports.Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithMiddleware wraps the journal. The first middleware is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) {
		e.middlewares = append(e.middlewares, mws...)
	}
}

// WithLocker takes a writer lock named after the engine for its whole lifetime.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = locker
		e.lockTTL = ttl
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock sets the source of command timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithTracer sets the tracer used for command spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithName overrides the engine name, which also keys the writer lock.
func WithName(name string) Option {
	return func(e *Engine) {
		e.Name = name
	}
}

// New creates an engine. By default it journals to a file inside path.
// If WithJournal is provided, path can be empty and only names the engine.
func New(path string, opts ...Option) (*Engine, error) {
	eng := &Engine{
		registry:  registry.NewRegistry(),
		projector: view.NewProjector(),
		repo:      repository.New(),
		state:     domain.StateUnstarted,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}

	if eng.journal == nil {
		if path == "" {
			return nil, fmt.Errorf("path is required when no custom journal is provided")
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		eng.journal = file.New(absPath, file.WithLogger(eng.logger))
		if eng.Name == "" {
			eng.Name = filepath.Base(absPath)
		}
	} else if eng.Name == "" && path != "" {
		eng.Name = filepath.Base(path)
	}
	if eng.Name == "" {
		eng.Name = "ledger"
	}
	eng.logger = eng.logger.With("ledger", eng.Name)

	eng.journal = middleware.Chain(eng.journal, eng.middlewares...)
	eng.bus = runtime.NewBus(eng.logger)
	eng.runtime = runtime.NewEngine(eng.registry, eng.repo, eng.journal,
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithClock(eng.clock),
		runtime.WithTracer(eng.tracer),
	)
	return eng, nil
}

// Transaction registers the handler for a command. Only allowed before Startup.
func (e *Engine) Transaction(name string, handler txn.Handler, opts ...registry.Option) error {
	return e.registry.Register(name, handler, opts...)
}

// ViewMapper binds viewType to entityType. Only allowed before Startup.
func (e *Engine) ViewMapper(entityType domain.EntityType, viewType domain.ViewType, fn view.Projection) error {
	return e.projector.RegisterProjection(entityType, viewType, fn)
}

// Subscribe registers fn for committed events of eventType ("*" for all).
// Subscribers run on the executing goroutine after the command is durable.
func (e *Engine) Subscribe(eventType string, fn Subscriber) func() {
	return e.bus.Subscribe(eventType, fn)
}

// State returns the lifecycle state.
func (e *Engine) State() domain.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// setState records a transition. Callers hold e.mu.
func (e *Engine) setState(ctx context.Context, to domain.EngineState) {
	from := e.state
	e.state = to
	if e.hooks.OnStateChange != nil {
		e.hooks.OnStateChange(ctx, &domain.StateEvent{From: from, To: to})
	}
}

// Startup opens the journal and replays it. On failure the engine is Stopped
// and every acquired resource is released.
func (e *Engine) Startup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != domain.StateUnstarted {
		return fmt.Errorf("startup in state %s: %w", e.state, domain.ErrEngineClosed)
	}
	e.setState(ctx, domain.StateStarting)
	e.registry.Close()
	e.projector.Close()

	if err := e.start(ctx); err != nil {
		e.setState(ctx, domain.StateStopped)
		e.logger.Error("startup failed", "error", err)
		return err
	}

	e.setState(ctx, domain.StateRunning)
	return nil
}

func (e *Engine) start(ctx context.Context) error {
	if e.locker != nil {
		ttl := e.lockTTL
		if ttl <= 0 {
			ttl = DefaultLockTTL
		}
		unlock, err := e.locker.Lock(ctx, e.Name, ttl)
		if err != nil {
			return fmt.Errorf("acquire writer lock: %w", err)
		}
		e.unlock = unlock
	}

	if err := e.journal.Open(ctx); err != nil {
		e.release(ctx)
		if errors.Is(err, domain.ErrCorruptJournal) {
			return &domain.RecoveryError{Err: err}
		}
		return fmt.Errorf("open journal: %w", err)
	}

	evt, err := e.runtime.Recover(ctx)
	if err != nil {
		if cerr := e.journal.Close(); cerr != nil {
			e.logger.Warn("failed to close journal after recovery error", "error", cerr)
		}
		e.release(ctx)
		return err
	}

	e.logger.Info("ledger started",
		"records", evt.Records, "last_seq", evt.LastSeq, "duration", evt.Duration)
	return nil
}

func (e *Engine) release(ctx context.Context) {
	if e.unlock == nil {
		return
	}
	if err := e.unlock(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("failed to release writer lock", "error", err)
	}
	e.unlock = nil
}

// Shutdown waits for in-flight commands, then closes the journal.
// Stopped is terminal.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case domain.StateStopped:
		return domain.ErrEngineClosed
	case domain.StateUnstarted:
		e.registry.Close()
		e.projector.Close()
		e.setState(ctx, domain.StateStopped)
		return nil
	}

	err := e.journal.Close()
	e.release(ctx)
	e.setState(ctx, domain.StateStopped)
	if err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	e.logger.Info("ledger stopped", "last_seq", e.runtime.Seq())
	return nil
}

// usable returns nil when commands and queries are accepted. Callers hold e.mu.
func (e *Engine) usable() error {
	switch e.state {
	case domain.StateRunning:
		return nil
	case domain.StateStopped:
		return domain.ErrEngineClosed
	default:
		return domain.ErrNotStarted
	}
}

// Execute runs a command and returns the handler result once the command is durable.
func (e *Engine) Execute(ctx context.Context, name string, args domain.Args) (any, error) {
	e.mu.RLock()
	if err := e.usable(); err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	res, err := e.runtime.Execute(ctx, name, args)
	e.mu.RUnlock()

	if err != nil {
		return nil, err
	}
	e.bus.Publish(ctx, res.Events)
	return res.Value, nil
}

// Find projects the entity with the given id through viewType.
func (e *Engine) Find(viewType domain.ViewType, id int64) (any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(); err != nil {
		return nil, err
	}

	var (
		v   any
		err error
	)
	e.repo.Read(func(r repository.Reader) {
		v, err = e.projector.Find(r, viewType, id)
	})
	return v, err
}

// Select returns every view of viewType accepted by pred, ordered by id.
func (e *Engine) Select(viewType domain.ViewType, pred view.Predicate) ([]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usable(); err != nil {
		return nil, err
	}

	var (
		out []any
		err error
	)
	e.repo.Read(func(r repository.Reader) {
		out, err = e.projector.Select(r, viewType, pred)
	})
	return out, err
}

// Status describes the engine for operators.
type Status struct {
	Name     string             `json:"name"`
	State    domain.EngineState `json:"state"`
	LastSeq  uint64             `json:"last_seq"`
	Commands []string           `json:"commands"`
	Views    []domain.ViewType  `json:"views"`
}

// Status returns a point-in-time description of the engine.
func (e *Engine) Status() Status {
	return Status{
		Name:     e.Name,
		State:    e.State(),
		LastSeq:  e.runtime.Seq(),
		Commands: e.registry.Names(),
		Views:    e.projector.Views(),
	}
}

// Snapshot copies the committed repository state.
func (e *Engine) Snapshot() repository.Snapshot {
	return e.repo.Snapshot()
}

// Execute runs a command and asserts its result to R.
func Execute[R any](ctx context.Context, e *Engine, name string, args domain.Args) (R, error) {
	var zero R
	v, err := e.Execute(ctx, name, args)
	if err != nil {
		return zero, err
	}
	out, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("%w: command %q returned %T, want %T", domain.ErrEntityType, name, v, zero)
	}
	return out, nil
}

// Find projects an entity and asserts the view to V.
func Find[V any](e *Engine, viewType domain.ViewType, id int64) (V, error) {
	var zero V
	v, err := e.Find(viewType, id)
	if err != nil {
		return zero, err
	}
	out, ok := v.(V)
	if !ok {
		return zero, fmt.Errorf("%w: view %s is %T, want %T", domain.ErrEntityType, viewType, v, zero)
	}
	return out, nil
}
