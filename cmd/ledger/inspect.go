package main

import (
	"fmt"

	"github.com/aretw0/ledger/internal/cli"
	"github.com/aretw0/ledger/internal/presentation/tui"
	"github.com/aretw0/ledger/pkg/persistence/middleware"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the journal record by record",
	Long: `Reads the journal without starting an engine and prints every record.
With --redact, argument values whose keys match a pattern are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var mws []middleware.Middleware
		if redact, _ := cmd.Flags().GetBool("redact"); redact {
			patterns, _ := cmd.Flags().GetStringSlice("pattern")
			mws = append(mws, middleware.NewPIIMiddleware(patterns))
		}

		journal, closeFn, err := cli.OpenJournal(cfg, logger, mws...)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := cmd.Context()
		if err := journal.Open(ctx); err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()

		p := tui.NewPrinter(cmd.OutOrStdout())
		p.Header(fmt.Sprintf("journal (%s)", cfg.Journal.Backend))
		var n int
		for rec, err := range journal.Replay(ctx) {
			if err != nil {
				return err
			}
			p.Record(rec)
			n++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d records, last seq %d\n", n, journal.LastSeq())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().Bool("redact", false, "Mask sensitive argument values")
	inspectCmd.Flags().StringSlice("pattern", []string{"(?i)name", "(?i)email", "(?i)password"}, "Argument key patterns to mask with --redact")
}
