package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/spf13/cobra"

	"github.com/transcriptformer/tfserve/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions and dataset provisioning over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", ":8080", "listen address")
	flags.String("model-path", "", "model package directory written by `tfserve package`")
	flags.String("pretrained-embedding", "", "embedding to bind at load time, overriding the packaged one")
	flags.Int("max-concurrent", 1, "predictions executed at once")
	flags.Int("queue-size", 16, "predictions allowed to wait for a worker")
	flags.Duration("predict-timeout", 0, "per-request prediction timeout; 0 disables it")
	flags.Duration("shutdown-timeout", 5*time.Second, "grace period for in-flight requests on shutdown")
	flags.String("statsd-addr", "", "DogStatsD address, e.g. 127.0.0.1:8125; empty disables telemetry")
	addDatasetFlags(cmd)
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	adapter, err := a.loadAdapter()
	if err != nil {
		return err
	}
	catalog, provider, err := a.datasetStack()
	if err != nil {
		return err
	}

	var hooks service.TelemetryHooks = service.NopTelemetryHooks{}
	if a.cfg.StatsdAddr != "" {
		statsdHooks, err := service.NewStatsdHooks(
			a.cfg.StatsdAddr,
			a.logger,
			statsd.WithTags([]string{"variant:" + adapter.Profile().Variant}),
		)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := statsdHooks.Close(); closeErr != nil {
				a.logger.Warn().Err(closeErr).Msg("statsd_close_failed")
			}
		}()
		hooks = statsdHooks
	}

	httpService, err := service.NewHTTPService(adapter, service.HTTPServiceConfig{
		MaxConcurrent:  a.cfg.MaxConcurrent,
		QueueSize:      a.cfg.QueueSize,
		PredictTimeout: a.cfg.PredictTimeout,
		Catalog:        catalog,
		Datasets:       provider,
		Logger:         a.logger,
		Hooks:          hooks,
	})
	if err != nil {
		return fmt.Errorf("create http service: %w", err)
	}
	defer func() {
		if closeErr := httpService.Close(); closeErr != nil {
			a.logger.Warn().Err(closeErr).Msg("service_shutdown_failed")
		}
	}()

	mux := http.NewServeMux()
	httpService.RegisterRoutes(mux)
	handler := service.Chain(mux,
		service.RequestIDMiddleware,
		service.RecoveryMiddleware(a.logger),
		service.LoggingMiddleware(a.logger),
	)
	server := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", a.cfg.Addr).
			Str("model", adapter.Name()).
			Str("variant", adapter.Profile().Variant).
			Int("max_concurrent", a.cfg.MaxConcurrent).
			Int("queue_size", a.cfg.QueueSize).
			Dur("predict_timeout", a.cfg.PredictTimeout).
			Strs("datasets", catalog.Names()).
			Bool("statsd", a.cfg.StatsdAddr != "").
			Msg("server_start")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info().Dur("timeout", a.cfg.ShutdownTimeout).Msg("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
