package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"github.com/remiges-tech/prefixsearch"
	"github.com/remiges-tech/prefixsearch/internal/catalog"
	"github.com/remiges-tech/prefixsearch/internal/config"
	"github.com/remiges-tech/prefixsearch/internal/logger"
	"github.com/remiges-tech/prefixsearch/internal/metrics"
	"github.com/remiges-tech/prefixsearch/internal/resilience"
	"github.com/remiges-tech/prefixsearch/providers/elasticsearch"
	"github.com/remiges-tech/prefixsearch/providers/memory"
	"github.com/remiges-tech/prefixsearch/providers/redis"
)

// app holds everything built from the configuration. Close releases it.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	engine  prefixsearch.AutoComplete
	catalog catalog.Source

	closers []func() error
}

func loadApp(ctx context.Context, flags *globalFlags, withCatalog bool) (*app, error) {
	cfg, err := config.Load(flags.configFile, flags.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger.Setup(cfg.Logging.Level, cfg.Logging.Format),
		metrics: metrics.New(),
	}

	if err := a.buildEngine(); err != nil {
		return nil, err
	}
	if withCatalog {
		if err := a.buildCatalog(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) providerConfig() (interface{}, error) {
	switch strings.ToLower(a.cfg.Provider) {
	case "memory":
		return memory.Config{}, nil
	case "redis":
		r := a.cfg.Redis
		return redis.Config{
			Addr:        r.Addr,
			Password:    r.Password, // pragma: allowlist secret
			DB:          r.DB,
			PoolSize:    r.PoolSize,
			BatchSize:   r.BatchSize,
			RetireAfter: a.cfg.Search.RetireAfter,
			Logger:      logger.WithComponent(a.logger, "redis"),
		}, nil
	case "elasticsearch":
		es := a.cfg.Elasticsearch
		return elasticsearch.Config{
			URLs:          es.Addresses,
			Index:         es.Index,
			Username:      es.Username,
			Password:      es.Password, // pragma: allowlist secret
			APIKey:        es.APIKey,
			RefreshPolicy: es.RefreshPolicy,
			RetireAfter:   a.cfg.Search.RetireAfter,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", prefixsearch.ErrProviderNotFound, a.cfg.Provider)
	}
}

func (a *app) buildEngine() error {
	providerConfig, err := a.providerConfig()
	if err != nil {
		return err
	}
	provider, err := prefixsearch.NewProvider(a.cfg.Provider, providerConfig)
	if err != nil {
		return fmt.Errorf("create %s provider: %w", a.cfg.Provider, err)
	}

	if b := a.cfg.Breaker; b.Enabled {
		breaker := resilience.NewBreaker(a.cfg.Provider, resilience.Config{
			FailureThreshold: b.FailureThreshold,
			ResetTimeout:     b.ResetTimeout,
			Logger:           a.logger,
			OnStateChange: func(name string, to resilience.State) {
				a.metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		a.metrics.BreakerState.WithLabelValues(a.cfg.Provider).Set(float64(breaker.State()))
		provider = resilience.GuardProvider(provider, breaker)
	}

	s := a.cfg.Search
	a.engine = prefixsearch.NewWithProvider(provider, prefixsearch.Options{
		DefaultLimit:    s.DefaultLimit,
		MaxLimit:        s.MaxLimit,
		MinPrefixLength: s.MinPrefixLength,
		Namespace:       s.Namespace,
		WindowTimeout:   s.WindowTimeout,
		Logger:          logger.WithComponent(a.logger, "search"),
	})
	a.closers = append(a.closers, a.engine.Close)
	return nil
}

// buildCatalog leaves a.catalog nil when no database is configured.
func (a *app) buildCatalog(ctx context.Context) error {
	c := a.cfg.Catalog
	if !c.Postgres.Enabled() {
		return nil
	}

	pg, err := catalog.OpenPostgres(ctx, c, a.logger)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	a.catalog = pg

	if c.Cache {
		client := goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password, // pragma: allowlist secret
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		a.catalog = catalog.NewCached(pg, client, c.CacheTTL, a.metrics, a.logger)
	}
	return nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
