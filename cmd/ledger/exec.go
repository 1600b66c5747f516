package main

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/ledger/internal/cli"
	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <command> [json-args]",
	Short: "Execute one command and print its result",
	Example: `  ledger exec createAccount '{"name":"John"}'
  ledger exec changeBalance '{"id":1,"inc":10000}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmdArgs := domain.Args{}
		if len(args) == 2 {
			parsed, err := codec.UnmarshalArgs([]byte(args[1]))
			if err != nil {
				return fmt.Errorf("invalid json args: %w", err)
			}
			if parsed != nil {
				if cmdArgs, err = codec.SanitizeArgs(parsed); err != nil {
					return err
				}
			}
		}

		return withEngine(cmd, func(eng *cli.Engine) error {
			result, err := eng.Execute(cmd.Context(), args[0], cmdArgs)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"command": args[0],
				"seq":     eng.Status().LastSeq,
				"result":  result,
			})
		})
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(execCmd)
}
