package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/http"
	"github.com/fyrsmithlabs/screenpilot/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var (
		host     string
		port     int
		watchDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API (POST /ask, /ingest, /upload and friends).

Examples:
  # Defaults: 0.0.0.0:8000, in-memory chromem store
  screenpilot serve

  # Keep a notes directory in sync while serving
  screenpilot serve --watch ~/notes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{monitor: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return serve(ctx, a, watchDir)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "override server.host")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	cmd.Flags().StringVar(&watchDir, "watch", "", "directory whose text files are ingested as they change")
	return cmd
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down
// within the configured timeout.
func serve(ctx context.Context, a *app, watchDir string) error {
	srv, err := http.NewServer(a.registry, a.logger.Named("http"), &http.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if watchDir != "" {
		w, err := watcher.New(watchDir, a.pipeline, watcher.Options{}, a.logger.Underlying().Named("watcher"))
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "shutdown signal received",
		zap.Duration("timeout", a.cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
