package engine

import (
	"context"
	"fmt"
	"time"

	"eve-arbitrage/internal/cache"
	"eve-arbitrage/internal/graph"
)

// UniverseSource serves the universe graph.
type UniverseSource interface {
	Universe(ctx context.Context) (*graph.Universe, error)
}

// AdjacencyResolver lists regions reachable from a region within Hops jumps.
type AdjacencyResolver struct {
	store    *cache.Store
	universe UniverseSource
	hops     int
	ttl      time.Duration
}

// NewAdjacencyResolver caches results in store for ttl.
func NewAdjacencyResolver(store *cache.Store, universe UniverseSource, hops int, ttl time.Duration) *AdjacencyResolver {
	if hops < 1 {
		hops = 1
	}
	return &AdjacencyResolver{store: store, universe: universe, hops: hops, ttl: ttl}
}

// Hops is the configured hop budget.
func (a *AdjacencyResolver) Hops() int { return a.hops }

// AdjacencyKey is the cache key of a region's neighbor set.
func AdjacencyKey(regionID int32, hops int) string {
	return fmt.Sprintf("adjacency:%d:%d", regionID, hops)
}

// Adjacent returns the regions other than regionID touched by walking at
// most Hops gates out of it, ascending.
func (a *AdjacencyResolver) Adjacent(ctx context.Context, regionID int32) ([]int32, error) {
	u, err := a.universe.Universe(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUniverseUnavailable, err)
	}
	if regionID <= 0 || !u.HasRegion(regionID) {
		return nil, invalid("region_id", "unknown region %d", regionID)
	}
	r, err := cache.GetOrFetch(ctx, a.store, AdjacencyKey(regionID, a.hops), cache.Policy{TTL: a.ttl}, func(context.Context) ([]int32, error) {
		return u.RegionsWithinHops(regionID, a.hops), nil
	})
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}
