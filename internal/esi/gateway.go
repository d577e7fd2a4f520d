package esi

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"eve-arbitrage/internal/cache"
)

// groupFetchConcurrency bounds the market-group fan-out.
const groupFetchConcurrency = 20

// OrderBook is every order for one type in one region, as of FetchedAt.
type OrderBook struct {
	RegionID  int32
	TypeID    int32
	Orders    []MarketOrder
	FetchedAt time.Time
	Stale     bool
}

// Gateway is the cached view of ESI market data.
type Gateway struct {
	client      *Client
	store       *cache.Store
	orderTTL    time.Duration
	taxonomyTTL time.Duration
}

// NewGateway wires a client to the shared cache.
func NewGateway(client *Client, store *cache.Store, orderTTL, taxonomyTTL time.Duration) *Gateway {
	return &Gateway{client: client, store: store, orderTTL: orderTTL, taxonomyTTL: taxonomyTTL}
}

// OrdersKey is the cache key of a (region, type) order book.
func OrdersKey(regionID, typeID int32) string {
	return fmt.Sprintf("orders:%d:%d", regionID, typeID)
}

func (g *Gateway) ordersFetch(regionID, typeID int32) func(context.Context) ([]MarketOrder, error) {
	return func(ctx context.Context) ([]MarketOrder, error) {
		return g.client.FetchRegionOrdersByType(ctx, regionID, typeID)
	}
}

func toBook(regionID, typeID int32, r cache.Result[[]MarketOrder]) OrderBook {
	return OrderBook{RegionID: regionID, TypeID: typeID, Orders: r.Value, FetchedAt: r.FetchedAt, Stale: r.Stale}
}

// Orders returns the order book for a type in a region, served from cache
// while fresh.
func (g *Gateway) Orders(ctx context.Context, regionID, typeID int32) (OrderBook, error) {
	r, err := cache.GetOrFetch(ctx, g.store, OrdersKey(regionID, typeID), cache.Policy{TTL: g.orderTTL}, g.ordersFetch(regionID, typeID))
	if err != nil {
		return OrderBook{}, err
	}
	if r.Stale {
		log.Printf("[ESI] stale orders region=%d type=%d (fetched %s)", regionID, typeID, r.FetchedAt.Format("15:04:05"))
	}
	return toBook(regionID, typeID, r), nil
}

// RefreshOrders re-fetches the order book regardless of freshness.
func (g *Gateway) RefreshOrders(ctx context.Context, regionID, typeID int32) (OrderBook, error) {
	r, err := cache.ForceRefresh(ctx, g.store, OrdersKey(regionID, typeID), cache.Policy{TTL: g.orderTTL}, g.ordersFetch(regionID, typeID))
	if err != nil {
		return OrderBook{}, fmt.Errorf("refresh orders region=%d type=%d: %w", regionID, typeID, err)
	}
	return toBook(regionID, typeID, r), nil
}

// RegionTypes lists type IDs with active orders in a region.
func (g *Gateway) RegionTypes(ctx context.Context, regionID int32) ([]int32, error) {
	key := fmt.Sprintf("region-types:%d", regionID)
	r, err := cache.GetOrFetch(ctx, g.store, key, cache.Policy{TTL: g.orderTTL}, func(ctx context.Context) ([]int32, error) {
		return g.client.FetchRegionTypes(ctx, regionID)
	})
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}

// MarketGroups returns the whole market group tree keyed by group ID.
func (g *Gateway) MarketGroups(ctx context.Context) (map[int32]MarketGroup, error) {
	r, err := cache.GetOrFetch(ctx, g.store, "taxonomy:groups", cache.Policy{TTL: g.taxonomyTTL, Persist: true}, g.fetchAllGroups)
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}

func (g *Gateway) fetchAllGroups(ctx context.Context) (map[int32]MarketGroup, error) {
	ids, err := g.client.FetchMarketGroupIDs(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]MarketGroup, len(ids))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(groupFetchConcurrency)
	for i, id := range ids {
		eg.Go(func() error {
			mg, err := g.client.FetchMarketGroup(ectx, id)
			if err != nil {
				return fmt.Errorf("market group %d: %w", id, err)
			}
			groups[i] = mg
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[int32]MarketGroup, len(groups))
	for _, mg := range groups {
		out[mg.MarketGroupID] = mg
	}
	log.Printf("[ESI] loaded %d market groups", len(out))
	return out, nil
}

// GroupTypes returns every type ID under groupID and its descendant groups,
// sorted ascending.
func (g *Gateway) GroupTypes(ctx context.Context, groupID int32) ([]int32, error) {
	groups, err := g.MarketGroups(ctx)
	if err != nil {
		return nil, err
	}
	return DescendantTypes(groups, groupID)
}

// DescendantTypes walks the group tree below root iteratively.
func DescendantTypes(groups map[int32]MarketGroup, root int32) ([]int32, error) {
	if _, ok := groups[root]; !ok {
		return nil, fmt.Errorf("market group %d: %w", root, ErrUnknownMarketGroup)
	}
	children := make(map[int32][]int32)
	for id, mg := range groups {
		if mg.ParentGroupID != 0 {
			children[mg.ParentGroupID] = append(children[mg.ParentGroupID], id)
		}
	}

	visited := map[int32]bool{root: true}
	seen := make(map[int32]bool)
	var types []int32
	stack := []int32{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, t := range groups[id].Types {
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
		for _, child := range children[id] {
			if !visited[child] {
				visited[child] = true
				stack = append(stack, child)
			}
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types, nil
}

// TypeInfo returns name and volume for a type.
func (g *Gateway) TypeInfo(ctx context.Context, typeID int32) (TypeInfo, error) {
	key := fmt.Sprintf("taxonomy:type:%d", typeID)
	r, err := cache.GetOrFetch(ctx, g.store, key, cache.Policy{TTL: g.taxonomyTTL, Persist: true}, func(ctx context.Context) (TypeInfo, error) {
		return g.client.FetchTypeInfo(ctx, typeID)
	})
	if err != nil {
		return TypeInfo{}, err
	}
	return r.Value, nil
}
