package sde

import (
	"context"
	"time"

	"eve-arbitrage/internal/cache"
	"eve-arbitrage/internal/graph"
)

// UniverseKey is the cache key of the universe graph.
const UniverseKey = "universe:graph"

// Source produces a universe graph.
type Source func(ctx context.Context) (*graph.Universe, error)

// Provider serves the universe graph through the shared cache.
type Provider struct {
	store  *cache.Store
	ttl    time.Duration
	source Source
}

// NewProvider loads the graph from the SDE under dataDir.
func NewProvider(store *cache.Store, ttl time.Duration, dataDir string) *Provider {
	return NewSourceProvider(store, ttl, func(context.Context) (*graph.Universe, error) {
		return Load(dataDir)
	})
}

// NewSourceProvider serves whatever src returns.
func NewSourceProvider(store *cache.Store, ttl time.Duration, src Source) *Provider {
	return &Provider{store: store, ttl: ttl, source: src}
}

// NewStaticProvider always serves u.
func NewStaticProvider(store *cache.Store, u *graph.Universe) *Provider {
	return NewSourceProvider(store, 24*time.Hour, func(context.Context) (*graph.Universe, error) {
		return u, nil
	})
}

// Universe returns the cached graph, loading it on first use.
func (p *Provider) Universe(ctx context.Context) (*graph.Universe, error) {
	r, err := cache.GetOrFetch[*graph.Universe](ctx, p.store, UniverseKey, cache.Policy{TTL: p.ttl}, p.source)
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}

// Ready reports whether a graph has been loaded.
func (p *Provider) Ready() bool {
	_, ok := cache.Get[*graph.Universe](p.store, UniverseKey)
	return ok
}
