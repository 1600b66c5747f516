package ledger_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/ledger"
	"github.com/aretw0/ledger/pkg/adapters/memory"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/registry"
	"github.com/aretw0/ledger/pkg/txn"
	"github.com/aretw0/ledger/pkg/view"
)

type Counter struct {
	Label string
	Value int64
}

type CounterView struct {
	ID    int64
	Label string
	Value int64
}

func Example() {
	ctx := context.Background()
	storage := memory.NewStorage()

	build := func() *ledger.Engine {
		eng, err := ledger.New("counters", ledger.WithJournal(memory.New(storage)))
		if err != nil {
			log.Fatal(err)
		}
		_ = eng.Transaction("newCounter", func(tx *txn.Tx) (any, error) {
			id, err := tx.ID("Counter")
			if err != nil {
				return nil, err
			}
			label, err := tx.Args().String("label")
			if err != nil {
				return nil, err
			}
			tx.Store("Counter", id, Counter{Label: label})
			return id, nil
		}, registry.UniqueIDFor("Counter"))
		_ = eng.Transaction("increment", func(tx *txn.Tx) (any, error) {
			id, err := tx.Args().Int64("id")
			if err != nil {
				return nil, err
			}
			c, err := txn.Remap(tx, "Counter", id, func(c Counter) (Counter, error) {
				c.Value++
				return c, nil
			})
			return c.Value, err
		})
		_ = eng.ViewMapper("Counter", "CounterView", view.Typed(func(id int64, c Counter) CounterView {
			return CounterView{ID: id, Label: c.Label, Value: c.Value}
		}))
		if err := eng.Startup(ctx); err != nil {
			log.Fatal(err)
		}
		return eng
	}

	eng := build()
	id, _ := ledger.Execute[int64](ctx, eng, "newCounter", domain.Args{"label": "visits"})
	for i := 0; i < 3; i++ {
		_, _ = eng.Execute(ctx, "increment", domain.Args{"id": id})
	}
	_ = eng.Shutdown(ctx)

	// A new engine over the same journal replays every command.
	restarted := build()
	defer restarted.Shutdown(ctx)

	v, _ := ledger.Find[CounterView](restarted, "CounterView", id)
	fmt.Printf("%s=%d (seq %d)\n", v.Label, v.Value, restarted.Status().LastSeq)
	// Output: visits=3 (seq 4)
}
