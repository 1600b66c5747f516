package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/ledger"
	"github.com/aretw0/ledger/internal/accounts"
	"github.com/aretw0/ledger/internal/cli"
	"github.com/aretw0/ledger/internal/config"
	"github.com/aretw0/ledger/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the accounts walkthrough against the configured journal",
	Long: `Creates an account, credits it, restarts the engine from the journal and
shows that a command on a missing account leaves no trace.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Journal.Backend == config.BackendMemory {
			return errors.New("demo restarts the engine; use a durable backend")
		}
		ctx := cmd.Context()
		p := tui.NewPrinter(cmd.OutOrStdout())
		p.Banner()

		start := func() (*cli.Engine, error) {
			eng, err := cli.NewEngine(cfg, logger)
			if err != nil {
				return nil, err
			}
			if err := eng.Startup(ctx); err != nil {
				eng.Close()
				return nil, err
			}
			return eng, nil
		}
		stop := func(eng *cli.Engine) error {
			defer eng.Close()
			return eng.Shutdown(ctx)
		}

		eng, err := start()
		if err != nil {
			return err
		}
		p.Header(fmt.Sprintf("%s (replayed up to seq %d)", eng.Name, eng.Status().LastSeq))

		p.Step(1, `createAccount {"name":"John"}`)
		id, err := accounts.Create(ctx, eng.Engine, "John")
		if err != nil {
			stop(eng)
			return err
		}
		view, err := ledger.Find[accounts.AccountView](eng.Engine, accounts.ViewAccount, id)
		if err != nil {
			stop(eng)
			return err
		}
		p.Value("AccountView", view)

		p.Step(2, fmt.Sprintf(`changeBalance {"id":%d,"inc":10000}`, id))
		if _, err := accounts.ChangeBalance(ctx, eng.Engine, id, 10000); err != nil {
			stop(eng)
			return err
		}
		if err := stop(eng); err != nil {
			return err
		}

		p.Step(3, "restart and replay")
		eng, err = start()
		if err != nil {
			return err
		}
		defer stop(eng)
		view, err = ledger.Find[accounts.AccountView](eng.Engine, accounts.ViewAccount, id)
		if err != nil {
			return err
		}
		p.Value("AccountView", view)

		p.Step(4, `changeBalance {"id":999,"inc":5}`)
		before := eng.Status().LastSeq
		if _, err := accounts.ChangeBalance(ctx, eng.Engine, 999, 5); err != nil {
			p.Error(err)
		}
		p.Value("journal unchanged", eng.Status().LastSeq == before)

		summary, err := ledger.Find[accounts.AccountSummary](eng.Engine, accounts.ViewSummary, id)
		if err != nil {
			return err
		}
		p.Value("AccountSummary", summary)
		changes, err := eng.Select(accounts.ViewChange, func(v any) bool {
			return v.(accounts.ChangeView).AccountID == id
		})
		if err != nil {
			return err
		}
		p.Value("changes", len(changes))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
