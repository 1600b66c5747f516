package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/ledger"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of ledger",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ledger version %s\n", strings.TrimSpace(ledger.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
