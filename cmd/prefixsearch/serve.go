package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/remiges-tech/prefixsearch/internal/api"
	"github.com/remiges-tech/prefixsearch/internal/events"
	"github.com/remiges-tech/prefixsearch/internal/health"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server, and the product event consumer when Kafka is enabled.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. YAML file given with --config
  3. .env file (--env-file, or .env in the current directory)
  4. PREFIXSEARCH_* environment variables
  5. Command line flags`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags, host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on")

	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, host string, port int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, flags, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Error("failed to release resources", "error", err)
		}
	}()

	cfg := a.cfg
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	checker := health.NewChecker(cfg.Server.RequestTimeout, a.logger)
	checker.Register("index", health.PingCheck(a.engine, false))
	if p, ok := a.catalog.(health.Pinger); ok {
		checker.Register("catalog", health.PingCheck(p, true))
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	server := api.NewServer(cfg.Server, metricsPath, api.Deps{
		Engine:  a.engine,
		Catalog: a.catalog,
		Health:  checker,
		Metrics: a.metrics,
		Logger:  a.logger,
	})

	a.logger.Info("starting prefixsearch",
		"version", version,
		"provider", cfg.Provider,
		"namespace", cfg.Search.Namespace,
		"kafka", cfg.Kafka.Enabled,
		"catalog", a.catalog != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	if cfg.Kafka.Enabled {
		applier := events.NewApplier(a.engine, a.metrics, a.logger)
		if inv, ok := a.catalog.(events.Invalidator); ok {
			applier.WithCache(inv)
		}
		consumer := events.NewConsumer(cfg.Kafka, applier.HandleMessage, a.logger)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("prefixsearch stopped")
	return nil
}
