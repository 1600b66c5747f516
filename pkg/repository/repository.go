// Package repository holds the in-memory entity state of the engine.
//
// The Repository maps (entity type, id) to the current value and keeps a
// monotonically increasing id counter per type. Transactions never write to it
// directly: they work on a Stage, which buffers writes and id allocations and
// is committed in one step once the command is durable.
package repository

import (
	"slices"
	"sync"

	"github.com/aretw0/ledger/pkg/domain"
)

// Repository is the committed entity state. Safe for concurrent use.
type Repository struct {
	mu       sync.RWMutex
	entities map[domain.EntityType]map[int64]any
	counters map[domain.EntityType]int64
}

// New creates an empty repository.
func New() *Repository {
	return &Repository{
		entities: make(map[domain.EntityType]map[int64]any),
		counters: make(map[domain.EntityType]int64),
	}
}

// Get returns the current value at (typ, id).
func (r *Repository) Get(typ domain.EntityType, id int64) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(typ, id)
}

func (r *Repository) get(typ domain.EntityType, id int64) (any, error) {
	if v, ok := r.entities[typ][id]; ok {
		return v, nil
	}
	return nil, &domain.NotFoundError{Type: typ, ID: id}
}

// Has reports whether (typ, id) holds a value.
func (r *Repository) Has(typ domain.EntityType, id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entities[typ][id]
	return ok
}

// Store inserts or overwrites the value at (typ, id).
func (r *Repository) Store(typ domain.EntityType, id int64, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store(typ, id, value)
}

func (r *Repository) store(typ domain.EntityType, id int64, value any) {
	byID, ok := r.entities[typ]
	if !ok {
		byID = make(map[int64]any)
		r.entities[typ] = byID
	}
	byID[id] = value
}

// Remove deletes the value at (typ, id). Removing a missing entity is a no-op.
func (r *Repository) Remove(typ domain.EntityType, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities[typ], id)
}

// NextID advances the counter for typ and returns an id not currently in use.
func (r *Repository) NextID(typ domain.EntityType) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextFree(typ, r.counters[typ])
	r.counters[typ] = id
	return id
}

// nextFree skips ids that were stored explicitly, so allocated ids never collide.
// Callers hold r.mu.
func (r *Repository) nextFree(typ domain.EntityType, after int64) int64 {
	id := after + 1
	for {
		if _, used := r.entities[typ][id]; !used {
			return id
		}
		id++
	}
}

// Counter returns the last id allocated for typ (0 if none).
func (r *Repository) Counter(typ domain.EntityType) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[typ]
}

// IDs returns the ids stored for typ in ascending order.
func (r *Repository) IDs(typ domain.EntityType) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.entities[typ]))
	for id := range r.entities[typ] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Snapshot is a point-in-time copy of the repository, used to compare states.
type Snapshot struct {
	Entities map[domain.EntityType]map[int64]any
	Counters map[domain.EntityType]int64
}

// Snapshot copies the maps (not the values, which are immutable by contract).
func (r *Repository) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		Entities: make(map[domain.EntityType]map[int64]any, len(r.entities)),
		Counters: make(map[domain.EntityType]int64, len(r.counters)),
	}
	for typ, byID := range r.entities {
		if len(byID) == 0 {
			continue
		}
		cp := make(map[int64]any, len(byID))
		for id, v := range byID {
			cp[id] = v
		}
		snap.Entities[typ] = cp
	}
	for typ, n := range r.counters {
		snap.Counters[typ] = n
	}
	return snap
}

// Stage opens a write buffer over the repository.
func (r *Repository) Stage() *Stage {
	return &Stage{
		base:     r,
		writes:   make(map[key]write),
		counters: make(map[domain.EntityType]int64),
	}
}

// Reader is a read-only view of entity state.
type Reader interface {
	Get(typ domain.EntityType, id int64) (any, error)
	Has(typ domain.EntityType, id int64) bool
	IDs(typ domain.EntityType) []int64
}

var _ Reader = (*Repository)(nil)

// Read runs fn against a view that no commit can change while fn runs.
// fn must not call back into the Repository.
func (r *Repository) Read(fn func(Reader)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(lockedView{r})
}

// lockedView reads without locking; the caller holds r.mu.
type lockedView struct{ r *Repository }

func (v lockedView) Get(typ domain.EntityType, id int64) (any, error) { return v.r.get(typ, id) }

func (v lockedView) Has(typ domain.EntityType, id int64) bool {
	_, ok := v.r.entities[typ][id]
	return ok
}

func (v lockedView) IDs(typ domain.EntityType) []int64 {
	ids := make([]int64, 0, len(v.r.entities[typ]))
	for id := range v.r.entities[typ] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
