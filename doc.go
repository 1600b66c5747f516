/*
Package ledger is an embeddable, event-sourced transaction engine.

Every state change is a command. A command is looked up in the registry, run
by its handler against a staged copy of the repository, written to the journal
and only then committed. On restart the journal is replayed through the same
handlers, so the in-memory state is rebuilt exactly.

# Concept

The engine keeps three things apart:

  - Commands and their handlers, registered with Transaction before Startup.
  - Entities, held in the repository under (type, id) and only changed by handlers.
  - Views, pure projections of entities registered with ViewMapper.

Events published by handlers reach subscribers after the command is durable.
They are never delivered while the journal is replayed.

# Usage

	eng, err := ledger.New("./data")
	if err != nil {
		log.Fatal(err)
	}

	_ = eng.Transaction("createAccount", func(tx *txn.Tx) (any, error) {
		id, err := tx.ID("Account")
		if err != nil {
			return nil, err
		}
		name, err := tx.Args().String("name")
		if err != nil {
			return nil, err
		}
		tx.Store("Account", id, Account{Name: name})
		return id, nil
	}, registry.UniqueIDFor("Account"))

	_ = eng.ViewMapper("Account", "AccountView", view.Typed(func(id int64, a Account) AccountView {
		return AccountView{ID: id, Name: a.Name}
	}))

	if err := eng.Startup(ctx); err != nil {
		log.Fatal(err)
	}
	defer eng.Shutdown(ctx)

	id, err := ledger.Execute[int64](ctx, eng, "createAccount", domain.Args{"name": "John"})

# Durability

The default journal is an append-only file with checksummed frames, fsynced on
every append. A torn final frame left by a crash is truncated on open. Any
other damage stops Startup with a RecoveryError. SQLite, Redis and in-memory
journals implement the same ports.Journal contract, and middleware can wrap any
of them, for example to encrypt command arguments at rest.
*/
package ledger
