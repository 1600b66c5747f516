// Package registry maps command names to transaction handlers.
//
// A Registry is filled during configuration and closed when the engine starts.
// After Close it only serves lookups.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/txn"
)

// Definition is everything the engine needs to apply a command.
type Definition struct {
	Name      string
	Handler   txn.Handler
	IDPolicy  []domain.EntityType
	Condition txn.Condition
}

// Option configures a Definition at registration time.
type Option func(*Definition)

// UniqueIDFor reserves one id per listed entity type before the handler runs.
// The handler reads them back with tx.ID.
func UniqueIDFor(types ...domain.EntityType) Option {
	return func(d *Definition) {
		d.IDPolicy = append(d.IDPolicy, types...)
	}
}

// When makes the command conditional. A false guard fails the command with
// domain.ErrConditionFailed before the handler is invoked.
func When(cond txn.Condition) Option {
	return func(d *Definition) {
		d.Condition = cond
	}
}

// Registry manages the available commands.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	closed bool
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Register binds a handler to a command name.
func (r *Registry) Register(name string, handler txn.Handler, opts ...Option) error {
	if name == "" {
		return fmt.Errorf("register: empty command name")
	}
	if handler == nil {
		return fmt.Errorf("register %q: nil handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("%w: %s", domain.ErrRegistryClosed, name)
	}
	if _, ok := r.defs[name]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateCommand, name)
	}

	def := &Definition{Name: name, Handler: handler}
	for _, opt := range opts {
		opt(def)
	}
	r.defs[name] = def
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCommand, name)
	}
	return def, nil
}

// Close rejects any further registration.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Closed reports whether Close was called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Names returns the registered command names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
