package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/ledger/internal/cli"
	"github.com/aretw0/ledger/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Ledger is an event-sourced transaction engine",
	Long: `Ledger journals every command before applying it, and rebuilds its state
by replaying the journal on startup. This CLI drives the bundled accounts domain.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("backend", "", "Journal backend: file, sqlite, redis or memory (overrides config)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// loadConfig resolves the config file, then applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.DataDir = dir
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Journal.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	debug, _ := cmd.Flags().GetBool("debug")
	return cfg, cli.NewLoggerTo(cmd.ErrOrStderr(), cfg.Log, debug), nil
}

// withEngine starts an engine from the command's config, runs fn and shuts it down.
func withEngine(cmd *cobra.Command, fn func(eng *cli.Engine) error) (err error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	eng, err := cli.NewEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Startup(cmd.Context()); err != nil {
		return err
	}
	defer func() {
		if serr := eng.Shutdown(cmd.Context()); serr != nil && err == nil {
			err = serr
		}
	}()
	return fn(eng)
}
