package main

import (
	"fmt"
	"strconv"

	"github.com/aretw0/ledger/internal/cli"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/spf13/cobra"
)

var findCmd = &cobra.Command{
	Use:   "find <view> [id]",
	Short: "Print one view, or every view of a type",
	Example: `  ledger find AccountView 1
  ledger find ChangeView`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		viewType := domain.ViewType(args[0])
		return withEngine(cmd, func(eng *cli.Engine) error {
			if len(args) == 1 {
				views, err := eng.Select(viewType, nil)
				if err != nil {
					return err
				}
				return printJSON(cmd, views)
			}

			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[1], err)
			}
			v, err := eng.Find(viewType, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		})
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
}
