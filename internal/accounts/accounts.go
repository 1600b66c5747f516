// Package accounts is the demo domain: versioned bank accounts with an audit
// trail of changes.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/ledger"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/registry"
	"github.com/aretw0/ledger/pkg/txn"
	"github.com/aretw0/ledger/pkg/view"
	"github.com/google/uuid"
)

// Entity types.
const (
	AccountType domain.EntityType = "Account"
	ChangeType  domain.EntityType = "EntityChange"
)

// View types.
const (
	ViewAccount domain.ViewType = "AccountView"
	ViewSummary domain.ViewType = "AccountSummary"
	ViewChange  domain.ViewType = "ChangeView"
)

// Commands.
const (
	CmdCreate        = "createAccount"
	CmdChangeBalance = "changeBalance"
	CmdDelete        = "deleteAccount"
)

// Events.
const (
	EventCreated = "account.created"
	EventChanged = "account.changed"
	EventDeleted = "account.deleted"
)

// Change kinds.
const (
	KindCreate = "create"
	KindUpdate = "update"
	KindDelete = "delete"
)

var (
	// ErrAccountDeleted is returned when changing a deleted account.
	ErrAccountDeleted = errors.New("account is deleted")

	// ErrInvalidName is returned when creating an account without a name.
	ErrInvalidName = errors.New("account name is required")
)

// namespace seeds account identifiers. Identifiers are derived, never random,
// so replay reproduces them.
var namespace = uuid.MustParse("6f0b8f52-3a2d-4c1e-9a57-2d1f0c4e8b13")

// Identifier returns the stable external identifier of account id.
func Identifier(id int64) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(string(AccountType)+":"+strconv.FormatInt(id, 10)))
}

// Account is the entity. Values are replaced, never mutated in place.
type Account struct {
	Identifier uuid.UUID
	Name       string
	Balance    int64
	Version    int64
	Deleted    bool
}

// EntityChange records one account mutation.
type EntityChange struct {
	AccountID     int64
	Identifier    uuid.UUID
	Kind          string
	Amount        int64
	BeforeVersion int64
	AfterVersion  int64
	At            time.Time
}

// AccountView is the public projection of an account.
type AccountView struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
	Deleted bool   `json:"deleted,omitempty"`
}

// AccountSummary adds versioning details.
type AccountSummary struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Balance    int64  `json:"balance"`
	Version    int64  `json:"version"`
	Deleted    bool   `json:"deleted"`
}

// ChangeView projects an audit entry.
type ChangeView struct {
	ID            int64     `json:"id"`
	AccountID     int64     `json:"account_id"`
	Identifier    string    `json:"identifier"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	BeforeVersion int64     `json:"before_version"`
	AfterVersion  int64     `json:"after_version"`
	At            time.Time `json:"at"`
}

type createArgs struct {
	Name string `mapstructure:"name"`
}

type changeArgs struct {
	ID  int64 `mapstructure:"id"`
	Inc int64 `mapstructure:"inc"`
}

type deleteArgs struct {
	ID int64 `mapstructure:"id"`
}

// Register installs the account commands and views on e.
func Register(e *ledger.Engine) error {
	if err := e.Transaction(CmdCreate, create, registry.UniqueIDFor(AccountType, ChangeType)); err != nil {
		return err
	}
	if err := e.Transaction(CmdChangeBalance, changeBalance, registry.UniqueIDFor(ChangeType)); err != nil {
		return err
	}
	if err := e.Transaction(CmdDelete, remove,
		registry.UniqueIDFor(ChangeType),
		registry.When(func(tx *txn.Tx) bool {
			id, err := tx.Args().Int64("id")
			return err == nil && tx.Repo().Has(AccountType, id)
		}),
	); err != nil {
		return err
	}

	if err := e.ViewMapper(AccountType, ViewAccount, view.Typed(func(id int64, a Account) AccountView {
		return AccountView{ID: id, Name: a.Name, Balance: a.Balance, Deleted: a.Deleted}
	})); err != nil {
		return err
	}
	if err := e.ViewMapper(AccountType, ViewSummary, view.Typed(func(id int64, a Account) AccountSummary {
		return AccountSummary{
			ID:         id,
			Identifier: a.Identifier.String(),
			Name:       a.Name,
			Balance:    a.Balance,
			Version:    a.Version,
			Deleted:    a.Deleted,
		}
	})); err != nil {
		return err
	}
	return e.ViewMapper(ChangeType, ViewChange, view.Typed(func(id int64, c EntityChange) ChangeView {
		return ChangeView{
			ID:            id,
			AccountID:     c.AccountID,
			Identifier:    c.Identifier.String(),
			Kind:          c.Kind,
			Amount:        c.Amount,
			BeforeVersion: c.BeforeVersion,
			AfterVersion:  c.AfterVersion,
			At:            c.At,
		}
	}))
}

func create(tx *txn.Tx) (any, error) {
	var args createArgs
	if err := tx.Args().Decode(&args); err != nil {
		return nil, err
	}
	args.Name = strings.TrimSpace(args.Name)
	if args.Name == "" {
		return nil, ErrInvalidName
	}

	id, err := tx.ID(AccountType)
	if err != nil {
		return nil, err
	}
	acc := Account{Identifier: Identifier(id), Name: args.Name}
	tx.Store(AccountType, id, acc)

	if err := audit(tx, id, acc, KindCreate, 0, 0); err != nil {
		return nil, err
	}
	tx.Publish(EventCreated, id)
	return id, nil
}

func changeBalance(tx *txn.Tx) (any, error) {
	var args changeArgs
	if err := tx.Args().Decode(&args); err != nil {
		return nil, err
	}

	var before int64
	acc, err := txn.Remap(tx, AccountType, args.ID, func(a Account) (Account, error) {
		if a.Deleted {
			return a, fmt.Errorf("account %d: %w", args.ID, ErrAccountDeleted)
		}
		before = a.Version
		a.Balance += args.Inc
		a.Version++
		return a, nil
	})
	if err != nil {
		return nil, err
	}

	if err := audit(tx, args.ID, acc, KindUpdate, args.Inc, before); err != nil {
		return nil, err
	}
	tx.Publish(EventChanged, args.ID)
	return acc.Balance, nil
}

func remove(tx *txn.Tx) (any, error) {
	var args deleteArgs
	if err := tx.Args().Decode(&args); err != nil {
		return nil, err
	}

	var before int64
	acc, err := txn.Remap(tx, AccountType, args.ID, func(a Account) (Account, error) {
		if a.Deleted {
			return a, fmt.Errorf("account %d: %w", args.ID, ErrAccountDeleted)
		}
		before = a.Version
		a.Deleted = true
		a.Version++
		return a, nil
	})
	if err != nil {
		return nil, err
	}

	if err := audit(tx, args.ID, acc, KindDelete, 0, before); err != nil {
		return nil, err
	}
	tx.Publish(EventDeleted, args.ID)
	return nil, nil
}

// audit stores the change entry under the id reserved by the command policy.
func audit(tx *txn.Tx, accountID int64, acc Account, kind string, amount, before int64) error {
	id, err := tx.ID(ChangeType)
	if err != nil {
		return err
	}
	tx.Store(ChangeType, id, EntityChange{
		AccountID:     accountID,
		Identifier:    acc.Identifier,
		Kind:          kind,
		Amount:        amount,
		BeforeVersion: before,
		AfterVersion:  acc.Version,
		At:            tx.Now(),
	})
	return nil
}

// Create opens an account and returns its id.
func Create(ctx context.Context, e *ledger.Engine, name string) (int64, error) {
	return ledger.Execute[int64](ctx, e, CmdCreate, domain.Args{"name": name})
}

// ChangeBalance adds inc to the balance and returns the new balance.
func ChangeBalance(ctx context.Context, e *ledger.Engine, id, inc int64) (int64, error) {
	return ledger.Execute[int64](ctx, e, CmdChangeBalance, domain.Args{"id": id, "inc": inc})
}

// Delete marks the account deleted.
func Delete(ctx context.Context, e *ledger.Engine, id int64) error {
	_, err := e.Execute(ctx, CmdDelete, domain.Args{"id": id})
	return err
}
