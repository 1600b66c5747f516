// Package txn defines the transaction context handed to command handlers.
//
// A Tx lives for exactly one command application. It exposes the argument bag,
// the ids allocated for the command's id policy, and a repository view scoped
// to the command. Handlers must not keep a Tx or anything read through it past
// their return.
package txn

import (
	"fmt"
	"time"

	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/repository"
)

// Repo is the repository view available to a handler.
type Repo interface {
	Get(typ domain.EntityType, id int64) (any, error)
	Has(typ domain.EntityType, id int64) bool
	Store(typ domain.EntityType, id int64, value any)
	Remove(typ domain.EntityType, id int64)
	NextID(typ domain.EntityType) int64
	IDs(typ domain.EntityType) []int64
}

var _ Repo = (*repository.Stage)(nil)

// Tx is the transaction context of one command.
type Tx struct {
	command string
	seq     uint64
	args    domain.Args
	now     time.Time
	stage   *repository.Stage
	ids     map[domain.EntityType]int64
	events  []domain.Event
}

// New builds the context for rec over stage and allocates one id for each
// type in policy, in order.
func New(rec domain.Record, stage *repository.Stage, policy []domain.EntityType) *Tx {
	tx := &Tx{
		command: rec.Command,
		seq:     rec.Seq,
		args:    rec.Args,
		now:     rec.Timestamp,
		stage:   stage,
		ids:     make(map[domain.EntityType]int64, len(policy)),
	}
	if tx.args == nil {
		tx.args = domain.Args{}
	}
	for _, typ := range policy {
		if _, done := tx.ids[typ]; done {
			continue
		}
		tx.ids[typ] = stage.NextID(typ)
	}
	return tx
}

// Command returns the command name.
func (tx *Tx) Command() string { return tx.command }

// Seq returns the journal sequence this command is recorded under.
func (tx *Tx) Seq() uint64 { return tx.seq }

// Args returns the argument bag.
func (tx *Tx) Args() domain.Args { return tx.args }

// Now returns the command timestamp. It is identical on replay.
func (tx *Tx) Now() time.Time { return tx.now }

// ID returns the id reserved for typ by the command's id policy.
func (tx *Tx) ID(typ domain.EntityType) (int64, error) {
	id, ok := tx.ids[typ]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrNoIDPolicy, typ)
	}
	return id, nil
}

// NextID allocates an extra id for typ.
func (tx *Tx) NextID(typ domain.EntityType) int64 {
	return tx.stage.NextID(typ)
}

// Repo returns the repository view scoped to this command.
func (tx *Tx) Repo() Repo { return tx.stage }

// Get is shorthand for Repo().Get.
func (tx *Tx) Get(typ domain.EntityType, id int64) (any, error) {
	return tx.stage.Get(typ, id)
}

// Store is shorthand for Repo().Store.
func (tx *Tx) Store(typ domain.EntityType, id int64, value any) {
	tx.stage.Store(typ, id, value)
}

// Publish queues an event. It is delivered only if the command commits.
func (tx *Tx) Publish(eventType string, payload any) {
	tx.events = append(tx.events, domain.Event{
		Type:      eventType,
		Command:   tx.command,
		Seq:       tx.seq,
		Payload:   payload,
		Timestamp: tx.now,
	})
}

// Events returns the queued events.
func (tx *Tx) Events() []domain.Event { return tx.events }

// Get reads (typ, id) and asserts it to T.
func Get[T any](tx *Tx, typ domain.EntityType, id int64) (T, error) {
	var zero T
	v, err := tx.Get(typ, id)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s %d holds %T, want %T", domain.ErrEntityType, typ, id, v, zero)
	}
	return out, nil
}

// Remap replaces the value at (typ, id) with fn applied to it.
func Remap[T any](tx *Tx, typ domain.EntityType, id int64, fn func(T) (T, error)) (T, error) {
	cur, err := Get[T](tx, typ, id)
	if err != nil {
		return cur, err
	}
	next, err := fn(cur)
	if err != nil {
		return cur, err
	}
	tx.Store(typ, id, next)
	return next, nil
}

// Handler is the logic bound to a command name. It runs against the
// transaction's repository view and returns the command result.
type Handler func(tx *Tx) (any, error)

// Condition guards a command. Returning false rejects it without effect.
type Condition func(tx *Tx) bool
