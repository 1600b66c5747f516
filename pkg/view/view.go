// Package view projects entities into read-only views.
//
// A projection is a pure function of (id, entity). Views are never stored: they
// are recomputed on every query from the committed repository state.
package view

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/repository"
)

// Projection maps an entity to its view.
type Projection func(id int64, entity any) (any, error)

// Predicate filters views in Select.
type Predicate func(view any) bool

type binding struct {
	entity  domain.EntityType
	project Projection
}

// Projector holds the view bindings. Each view type projects exactly one
// entity type; an entity type may back any number of view types.
type Projector struct {
	mu       sync.RWMutex
	bindings map[domain.ViewType]binding
	closed   bool
}

// NewProjector creates a projector with no bindings.
func NewProjector() *Projector {
	return &Projector{bindings: make(map[domain.ViewType]binding)}
}

// RegisterProjection binds viewType to entityType through fn.
func (p *Projector) RegisterProjection(entityType domain.EntityType, viewType domain.ViewType, fn Projection) error {
	if fn == nil {
		return fmt.Errorf("register view %q: nil projection", viewType)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%w: view %s", domain.ErrRegistryClosed, viewType)
	}
	if b, ok := p.bindings[viewType]; ok {
		return fmt.Errorf("%w: %s already projects %s", domain.ErrDuplicateProjection, viewType, b.entity)
	}
	p.bindings[viewType] = binding{entity: entityType, project: fn}
	return nil
}

// Close rejects further registrations.
func (p *Projector) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// EntityType returns the entity type behind viewType.
func (p *Projector) EntityType(viewType domain.ViewType) (domain.EntityType, error) {
	b, err := p.lookup(viewType)
	return b.entity, err
}

// Views returns the registered view types in lexical order.
func (p *Projector) Views() []domain.ViewType {
	p.mu.RLock()
	out := make([]domain.ViewType, 0, len(p.bindings))
	for vt := range p.bindings {
		out = append(out, vt)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Projector) lookup(viewType domain.ViewType) (binding, error) {
	p.mu.RLock()
	b, ok := p.bindings[viewType]
	p.mu.RUnlock()
	if !ok {
		return binding{}, fmt.Errorf("%w: %s", domain.ErrUnknownView, viewType)
	}
	return b, nil
}

// Find projects the entity with the given id.
func (p *Projector) Find(src repository.Reader, viewType domain.ViewType, id int64) (any, error) {
	b, err := p.lookup(viewType)
	if err != nil {
		return nil, err
	}
	entity, err := src.Get(b.entity, id)
	if err != nil {
		return nil, err
	}
	return project(b, viewType, id, entity)
}

// Select projects every entity behind viewType, ordered by id.
// A nil predicate keeps every view.
func (p *Projector) Select(src repository.Reader, viewType domain.ViewType, pred Predicate) ([]any, error) {
	b, err := p.lookup(viewType)
	if err != nil {
		return nil, err
	}

	ids := src.IDs(b.entity)
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		entity, err := src.Get(b.entity, id)
		if err != nil {
			return nil, err
		}
		v, err := project(b, viewType, id, entity)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func project(b binding, viewType domain.ViewType, id int64, entity any) (any, error) {
	v, err := b.project(id, entity)
	if err != nil {
		return nil, fmt.Errorf("project %s %d: %w", viewType, id, err)
	}
	return v, nil
}

// Typed adapts a strongly typed projection. An entity of another Go type
// fails with domain.ErrEntityType.
func Typed[E, V any](fn func(id int64, entity E) V) Projection {
	return func(id int64, entity any) (any, error) {
		e, ok := entity.(E)
		if !ok {
			var want E
			return nil, fmt.Errorf("%w: id %d holds %T, want %T", domain.ErrEntityType, id, entity, want)
		}
		return fn(id, e), nil
	}
}
