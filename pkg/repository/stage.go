package repository

import (
	"slices"

	"github.com/aretw0/ledger/pkg/domain"
)

type key struct {
	typ domain.EntityType
	id  int64
}

type write struct {
	value   any
	removed bool
}

// Stage buffers the mutations of one transaction.
// Reads see the stage's own writes first, then the committed repository.
// A Stage is used by a single goroutine and must be committed or discarded.
type Stage struct {
	base        *Repository
	writes      map[key]write
	counters    map[domain.EntityType]int64
	allocations []domain.Allocation
}

// Get returns the value at (typ, id) as seen by this transaction.
func (s *Stage) Get(typ domain.EntityType, id int64) (any, error) {
	if w, ok := s.writes[key{typ, id}]; ok {
		if w.removed {
			return nil, &domain.NotFoundError{Type: typ, ID: id}
		}
		return w.value, nil
	}
	return s.base.Get(typ, id)
}

// Has reports whether (typ, id) holds a value for this transaction.
func (s *Stage) Has(typ domain.EntityType, id int64) bool {
	if w, ok := s.writes[key{typ, id}]; ok {
		return !w.removed
	}
	return s.base.Has(typ, id)
}

// Store buffers a write of value at (typ, id).
func (s *Stage) Store(typ domain.EntityType, id int64, value any) {
	s.writes[key{typ, id}] = write{value: value}
}

// Remove buffers a deletion of (typ, id).
func (s *Stage) Remove(typ domain.EntityType, id int64) {
	s.writes[key{typ, id}] = write{removed: true}
}

// NextID allocates an id for typ. The allocation only becomes permanent on Commit.
func (s *Stage) NextID(typ domain.EntityType) int64 {
	last, ok := s.counters[typ]
	if !ok {
		last = s.base.Counter(typ)
	}
	id := last + 1
	for s.Has(typ, id) {
		id++
	}
	s.counters[typ] = id
	s.allocations = append(s.allocations, domain.Allocation{Type: typ, ID: id})
	return id
}

// Allocations lists the ids handed out so far, in order.
func (s *Stage) Allocations() []domain.Allocation {
	return slices.Clone(s.allocations)
}

// IDs returns the ids visible to this transaction for typ, ascending.
func (s *Stage) IDs(typ domain.EntityType) []int64 {
	seen := make(map[int64]bool)
	for _, id := range s.base.IDs(typ) {
		seen[id] = true
	}
	for k, w := range s.writes {
		if k.typ == typ {
			seen[k.id] = !w.removed
		}
	}
	ids := make([]int64, 0, len(seen))
	for id, present := range seen {
		if present {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Dirty reports whether the stage holds any write or allocation.
func (s *Stage) Dirty() bool {
	return len(s.writes) > 0 || len(s.counters) > 0
}

// Commit applies every buffered change atomically with respect to readers.
func (s *Stage) Commit() {
	s.base.mu.Lock()
	defer s.base.mu.Unlock()
	for k, w := range s.writes {
		if w.removed {
			delete(s.base.entities[k.typ], k.id)
			continue
		}
		s.base.store(k.typ, k.id, w.value)
	}
	for typ, n := range s.counters {
		if n > s.base.counters[typ] {
			s.base.counters[typ] = n
		}
	}
	s.Discard()
}

// Discard drops every buffered change.
func (s *Stage) Discard() {
	clear(s.writes)
	clear(s.counters)
	s.allocations = nil
}
