package main

import (
	"context"
	"fmt"
	"time"

	"eve-arbitrage/internal/cache"
	"eve-arbitrage/internal/config"
	"eve-arbitrage/internal/db"
	"eve-arbitrage/internal/engine"
	"eve-arbitrage/internal/esi"
	"eve-arbitrage/internal/logger"
	"eve-arbitrage/internal/metrics"
	"eve-arbitrage/internal/sde"
)

// app is the wired process: one cache shared by every component.
type app struct {
	cfg       *config.Config
	db        *db.DB
	store     *cache.Store
	esi       *esi.Client
	universe  *sde.Provider
	adjacency *engine.AdjacencyResolver
	scanner   *engine.Scanner
	metrics   *metrics.Collector
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var opts []cache.Option
	if cfg.MetricsEnabled {
		a.metrics = metrics.New()
		opts = append(opts, cache.WithObserver(a.metrics))
	}
	if cfg.DBPath != "" {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = database
		opts = append(opts, cache.WithBackend(database))
	}
	a.store = cache.New(opts...)

	esiOpts := esi.OptionsFromConfig(cfg)
	if a.metrics != nil {
		esiOpts.Observer = a.metrics
	}
	a.esi = esi.NewClient(esiOpts)
	gateway := esi.NewGateway(a.esi, a.store, cfg.OrderTTL, cfg.TaxonomyTTL)

	a.universe = sde.NewProvider(a.store, cfg.UniverseTTL, cfg.DataDir)
	a.adjacency = engine.NewAdjacencyResolver(a.store, a.universe, cfg.AdjacencyHops, cfg.UniverseTTL)

	scanOpts := engine.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		MinutesPerJump: cfg.MinutesPerJump,
		Adjacency:      a.adjacency,
	}
	if a.metrics != nil {
		scanOpts.Observer = a.metrics
	}
	a.scanner = engine.NewScanner(gateway, a.universe, scanOpts)

	logger.Section("Configuration")
	logger.Stats("ESI", cfg.ESIBaseURL)
	logger.Stats("Max concurrency", cfg.MaxConcurrency)
	logger.Stats("Order TTL", cfg.OrderTTL)
	logger.Stats("Adjacency hops", cfg.AdjacencyHops)
	if a.db != nil {
		logger.Stats("L2 cache", cfg.DBPath)
	}
	return a, nil
}

// cleanupLoop drops expired L2 entries until ctx is done.
func (a *app) cleanupLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.db.CleanupExpired(ctx, time.Now(), time.Hour)
			if err != nil {
				logger.Warn("DB", fmt.Sprintf("Cache cleanup failed: %v", err))
				continue
			}
			if n > 0 {
				logger.Info("DB", fmt.Sprintf("Removed %d expired cache entries", n))
			}
		}
	}
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
