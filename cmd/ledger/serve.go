package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/ledger/internal/cli"
	httpAdapter "github.com/aretw0/ledger/pkg/adapters/http"
	"github.com/aretw0/ledger/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the engine and exposes commands, views, status, an SSE event stream
and Prometheus metrics over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		shutdownTracing, err := observability.SetupTracing(sc, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		defer shutdownTracing(context.WithoutCancel(sc))

		eng, err := cli.NewEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()
		if err := eng.Startup(sc); err != nil {
			return err
		}

		api := httpAdapter.NewServer(eng.Engine,
			httpAdapter.WithLogger(logger),
			httpAdapter.WithMetrics(promhttp.HandlerFor(eng.Registry, promhttp.HandlerOpts{})),
		)
		defer api.Close()

		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting Ledger Server", "addr", srv.Addr, "backend", cfg.Journal.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		var serveErr error
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				serveErr = fmt.Errorf("server error: %w", err)
			}
		case <-sc.Done():
			logger.Info("Start shutdown...", "signal", sc.Signal())

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "error", err)
				_ = srv.Close()
			}
		}

		if err := eng.Shutdown(context.Background()); err != nil && serveErr == nil {
			serveErr = err
		}
		logger.Info("Ledger Server stopped")
		return serveErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
}
