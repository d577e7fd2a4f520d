package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"eve-arbitrage/internal/esi"
	"eve-arbitrage/internal/graph"
)

// DefaultMaxConcurrency bounds concurrent book fetches per scan.
const DefaultMaxConcurrency = 16

// MarketData is the cached market view the scanner reads.
type MarketData interface {
	Orders(ctx context.Context, regionID, typeID int32) (esi.OrderBook, error)
	RefreshOrders(ctx context.Context, regionID, typeID int32) (esi.OrderBook, error)
	RegionTypes(ctx context.Context, regionID int32) ([]int32, error)
	GroupTypes(ctx context.Context, groupID int32) ([]int32, error)
	TypeInfo(ctx context.Context, typeID int32) (esi.TypeInfo, error)
}

// ScanObserver receives one measurement per finished scan.
type ScanObserver interface {
	ObserveScan(mode string, elapsed time.Duration, deals, failedFetches int)
}

// Options tunes a Scanner.
type Options struct {
	MaxConcurrency int
	MinutesPerJump float64
	Adjacency      *AdjacencyResolver
	Observer       ScanObserver
}

// Scanner finds arbitrage deals across regions and system pairs.
type Scanner struct {
	market         MarketData
	universe       UniverseSource
	adjacency      *AdjacencyResolver
	routes         RouteResolver
	maxConcurrency int
	observer       ScanObserver
}

// NewScanner creates a scanner over market and universe.
func NewScanner(market MarketData, universe UniverseSource, opts Options) *Scanner {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.MinutesPerJump <= 0 {
		opts.MinutesPerJump = DefaultMinutesPerJump
	}
	return &Scanner{
		market:         market,
		universe:       universe,
		adjacency:      opts.Adjacency,
		routes:         RouteResolver{MinutesPerJump: opts.MinutesPerJump},
		maxConcurrency: opts.MaxConcurrency,
		observer:       opts.Observer,
	}
}

type bookKey struct {
	regionID int32
	typeID   int32
}

// snapshot holds every book and type fetched for one scan.
type snapshot struct {
	books  map[bookKey]esi.OrderBook
	info   map[int32]esi.TypeInfo
	failed int
	// stale counts books served past their TTL because the refetch failed.
	stale  int
}

// ScanRegion evaluates every type under the group across the region and
// any additional regions. Each ordered (sell orders, buy orders) region
// pairing is tried and the most profitable one per type is kept.
func (s *Scanner) ScanRegion(ctx context.Context, p RegionScanParams) (ScanResult, error) {
	start := time.Now()
	scanID := uuid.NewString()

	if p.RegionID <= 0 {
		return ScanResult{}, invalid("region_id", "required")
	}
	if p.GroupID <= 0 {
		return ScanResult{}, invalid("group_id", "required")
	}
	for _, id := range p.AdditionalRegions {
		if id <= 0 {
			return ScanResult{}, invalid("additional_regions", "region id %d", id)
		}
	}
	if err := p.Thresholds.Validate(); err != nil {
		return ScanResult{}, err
	}

	u, err := s.loadUniverse(ctx)
	if err != nil {
		return ScanResult{}, err
	}
	if !u.HasRegion(p.RegionID) {
		return ScanResult{}, invalid("region_id", "unknown region %d", p.RegionID)
	}
	for _, id := range p.AdditionalRegions {
		if !u.HasRegion(id) {
			return ScanResult{}, invalid("additional_regions", "unknown region %d", id)
		}
	}
	regions := uniqueIDs(append([]int32{p.RegionID}, p.AdditionalRegions...))
	if p.IncludeAdjacent && s.adjacency != nil {
		adj, err := s.adjacency.Adjacent(ctx, p.RegionID)
		if err != nil {
			return ScanResult{}, err
		}
		regions = uniqueIDs(append(regions, adj...))
	}

	typeIDs, err := s.groupTypes(ctx, p.GroupID)
	if err != nil {
		return ScanResult{}, err
	}
	if sets, err := s.regionTypeSets(ctx, regions); err != nil {
		if ctx.Err() != nil {
			return ScanResult{}, ctx.Err()
		}
		log.Printf("[DEBUG] scan %s: region type lists unavailable, scanning whole group: %v", scanID, err)
	} else {
		typeIDs = filterTypes(typeIDs, func(id int32) bool {
			for _, set := range sets {
				if set[id] {
					return true
				}
			}
			return false
		})
	}
	typeIDs = tradableTypes(typeIDs)
	log.Printf("[DEBUG] scan %s: region %d, %d regions, %d types", scanID, p.RegionID, len(regions), len(typeIDs))

	snap, err := s.fetchAll(ctx, scanID, typeIDs, regions)
	if err != nil {
		return ScanResult{}, err
	}

	var deals []Deal
	for _, typeID := range typeIDs {
		info, ok := snap.info[typeID]
		if !ok {
			continue
		}
		var best *Deal
		for _, src := range regions {
			askBook, ok := snap.books[bookKey{src, typeID}]
			if !ok {
				continue
			}
			asks := Asks(nil, askBook)
			if len(asks) == 0 {
				continue
			}
			for _, dst := range regions {
				bidBook, ok := snap.books[bookKey{dst, typeID}]
				if !ok {
					continue
				}
				d, err := s.evaluate(u, info, asks, Bids(nil, bidBook), p.Thresholds)
				if err != nil {
					log.Printf("[DEBUG] scan %s: type %d %d->%d skipped: %v", scanID, typeID, src, dst, err)
					continue
				}
				if d != nil && (best == nil || d.ProfitISK > best.ProfitISK) {
					best = d
				}
			}
		}
		if best != nil {
			deals = append(deals, *best)
		}
	}
	return s.finish("region", start, scanID, len(typeIDs), deals, snap, p.Thresholds), nil
}

// ScanPair buys in FromSystemID and sells in ToSystemID.
func (s *Scanner) ScanPair(ctx context.Context, p PairScanParams) (ScanResult, error) {
	start := time.Now()
	scanID := uuid.NewString()

	if p.FromSystemID <= 0 {
		return ScanResult{}, invalid("from_system_id", "required")
	}
	if p.ToSystemID <= 0 {
		return ScanResult{}, invalid("to_system_id", "required")
	}
	if p.GroupID < 0 {
		return ScanResult{}, invalid("group_id", "must be positive")
	}
	if err := p.Thresholds.Validate(); err != nil {
		return ScanResult{}, err
	}

	u, err := s.loadUniverse(ctx)
	if err != nil {
		return ScanResult{}, err
	}
	fromRegion, ok := u.RegionOf(p.FromSystemID)
	if !ok {
		return ScanResult{}, invalid("from_system_id", "unknown system %d", p.FromSystemID)
	}
	toRegion, ok := u.RegionOf(p.ToSystemID)
	if !ok {
		return ScanResult{}, invalid("to_system_id", "unknown system %d", p.ToSystemID)
	}
	regions := uniqueIDs([]int32{fromRegion, toRegion})

	var typeIDs []int32
	sets, setsErr := s.regionTypeSets(ctx, regions)
	if setsErr != nil && ctx.Err() != nil {
		return ScanResult{}, ctx.Err()
	}
	inAll := func(id int32) bool {
		for _, set := range sets {
			if !set[id] {
				return false
			}
		}
		return true
	}
	if p.GroupID > 0 {
		if typeIDs, err = s.groupTypes(ctx, p.GroupID); err != nil {
			return ScanResult{}, err
		}
		if setsErr == nil {
			typeIDs = filterTypes(typeIDs, inAll)
		}
	} else {
		if setsErr != nil {
			return ScanResult{}, fmt.Errorf("list region types: %w", setsErr)
		}
		for id := range sets[0] {
			if inAll(id) {
				typeIDs = append(typeIDs, id)
			}
		}
		sort.Slice(typeIDs, func(i, j int) bool { return typeIDs[i] < typeIDs[j] })
	}
	typeIDs = tradableTypes(typeIDs)
	log.Printf("[DEBUG] scan %s: pair %d -> %d, %d types", scanID, p.FromSystemID, p.ToSystemID, len(typeIDs))

	snap, err := s.fetchAll(ctx, scanID, typeIDs, regions)
	if err != nil {
		return ScanResult{}, err
	}

	var deals []Deal
	for _, typeID := range typeIDs {
		info, ok := snap.info[typeID]
		if !ok {
			continue
		}
		askBook, okA := snap.books[bookKey{fromRegion, typeID}]
		bidBook, okB := snap.books[bookKey{toRegion, typeID}]
		if !okA || !okB {
			continue
		}
		d, err := s.evaluate(u, info, Asks(InSystem(p.FromSystemID), askBook), Bids(InSystem(p.ToSystemID), bidBook), p.Thresholds)
		if err != nil {
			log.Printf("[DEBUG] scan %s: type %d skipped: %v", scanID, typeID, err)
			continue
		}
		if d != nil {
			deals = append(deals, *d)
		}
	}
	return s.finish("pair", start, scanID, len(typeIDs), deals, snap, p.Thresholds), nil
}

// RefreshDeal force-refreshes the two books behind a deal and re-evaluates
// it. A nil deal means the opportunity no longer qualifies. Upstream
// failures are returned, never degraded to cached data.
func (s *Scanner) RefreshDeal(ctx context.Context, p RefreshParams) (*Deal, error) {
	start := time.Now()
	if p.TypeID <= 0 {
		return nil, invalid("type_id", "required")
	}
	if p.BuyRegionID <= 0 {
		return nil, invalid("buy_region_id", "required")
	}
	if p.SellRegionID <= 0 {
		return nil, invalid("sell_region_id", "required")
	}
	if err := p.Thresholds.Validate(); err != nil {
		return nil, err
	}

	u, err := s.loadUniverse(ctx)
	if err != nil {
		return nil, err
	}
	if !u.HasRegion(p.BuyRegionID) {
		return nil, invalid("buy_region_id", "unknown region %d", p.BuyRegionID)
	}
	if !u.HasRegion(p.SellRegionID) {
		return nil, invalid("sell_region_id", "unknown region %d", p.SellRegionID)
	}

	var bidBook, askBook esi.OrderBook
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.market.RefreshOrders(gctx, p.SellRegionID, p.TypeID)
		askBook = b
		return err
	})
	if p.BuyRegionID != p.SellRegionID {
		g.Go(func() error {
			b, err := s.market.RefreshOrders(gctx, p.BuyRegionID, p.TypeID)
			bidBook = b
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if p.BuyRegionID == p.SellRegionID {
		bidBook = askBook
	}

	info, err := s.market.TypeInfo(ctx, p.TypeID)
	if err != nil {
		return nil, fmt.Errorf("type %d: %w", p.TypeID, err)
	}
	d, err := s.evaluate(u, info, Asks(nil, askBook), Bids(nil, bidBook), p.Thresholds)
	if errors.Is(err, ErrNoRoute) {
		d, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.observer != nil {
		n := 0
		if d != nil {
			n = 1
		}
		s.observer.ObserveScan("refresh", time.Since(start), n, 0)
	}
	return d, nil
}

func (s *Scanner) loadUniverse(ctx context.Context) (*graph.Universe, error) {
	u, err := s.universe.Universe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUniverseUnavailable, err)
	}
	return u, nil
}

func (s *Scanner) groupTypes(ctx context.Context, groupID int32) ([]int32, error) {
	ids, err := s.market.GroupTypes(ctx, groupID)
	if errors.Is(err, esi.ErrUnknownMarketGroup) {
		return nil, invalid("group_id", "unknown market group %d", groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("market group %d: %w", groupID, err)
	}
	return ids, nil
}

// regionTypeSets loads the types with active orders in each region.
func (s *Scanner) regionTypeSets(ctx context.Context, regions []int32) ([]map[int32]bool, error) {
	sets := make([]map[int32]bool, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	for i, regionID := range regions {
		g.Go(func() error {
			ids, err := s.market.RegionTypes(gctx, regionID)
			if err != nil {
				return fmt.Errorf("region %d types: %w", regionID, err)
			}
			set := make(map[int32]bool, len(ids))
			for _, id := range ids {
				set[id] = true
			}
			sets[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sets, nil
}

// fetchAll loads type info and every (type, region) book with bounded
// parallelism. Individual failures are counted and skipped; only caller
// cancellation aborts.
func (s *Scanner) fetchAll(ctx context.Context, scanID string, typeIDs, regions []int32) (*snapshot, error) {
	snap := &snapshot{
		books: make(map[bookKey]esi.OrderBook, len(typeIDs)*len(regions)),
		info:  make(map[int32]esi.TypeInfo, len(typeIDs)),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)

	fail := func(what string, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mu.Lock()
		snap.failed++
		mu.Unlock()
		log.Printf("[DEBUG] scan %s: %s failed: %v", scanID, what, err)
		return nil
	}

	for _, typeID := range typeIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := s.market.TypeInfo(gctx, typeID)
			if err != nil {
				return fail(fmt.Sprintf("type %d info", typeID), err)
			}
			mu.Lock()
			snap.info[typeID] = info
			mu.Unlock()
			return nil
		})
		for _, regionID := range regions {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				book, err := s.market.Orders(gctx, regionID, typeID)
				if err != nil {
					return fail(fmt.Sprintf("orders region=%d type=%d", regionID, typeID), err)
				}
				mu.Lock()
				snap.books[bookKey{regionID, typeID}] = book
				if book.Stale {
					snap.stale++
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// evaluate builds a deal from one ask/bid pairing. It returns nil when
// the pairing does not qualify and ErrNoRoute when the two ends are not
// connected.
func (s *Scanner) evaluate(u *graph.Universe, info esi.TypeInfo, asks, bids Ladder, th Thresholds) (*Deal, error) {
	t, ok := Evaluate(asks, bids, info.ItemVolume(), th)
	if !ok {
		return nil, nil
	}
	route, err := s.routes.Resolve(u, t.BuySystemID, t.SellSystemID)
	if err != nil {
		return nil, err
	}
	return &Deal{
		TypeID:               info.TypeID,
		TypeName:             info.Name,
		BuyPrice:             t.BuyPrice,
		SellPrice:            t.SellPrice,
		TradableVolume:       t.Quantity,
		TotalBuyCost:         t.TotalBuyCost,
		TotalSellRevenue:     t.TotalSellRevenue,
		ProfitISK:            t.Profit,
		ProfitPercent:        t.ProfitPercent,
		ItemVolume:           t.UnitVolume,
		TotalTransportVolume: t.TransportVolume,
		BuyOrderCount:        t.BidOrders,
		SellOrderCount:       t.AskOrders,
		Jumps:                route.Jumps,
		EstimatedTimeMinutes: route.EstimatedMinutes,
		RouteDetails:         route.Hops,
		BuyRegionID:          t.BuyRegionID,
		SellRegionID:         t.SellRegionID,
		BuySystemID:          t.BuySystemID,
		SellSystemID:         t.SellSystemID,
	}, nil
}

func (s *Scanner) finish(mode string, start time.Time, scanID string, totalTypes int, deals []Deal, snap *snapshot, th Thresholds) ScanResult {
	if deals == nil {
		deals = []Deal{}
	}
	sort.Slice(deals, func(i, j int) bool { return deals[i].TypeID < deals[j].TypeID })
	var total float64
	for _, d := range deals {
		total += d.ProfitISK
	}
	elapsed := time.Since(start)
	log.Printf("[DEBUG] scan %s: %s done in %v: %d deals, %d failed fetches, %d stale books",
		scanID, mode, elapsed.Round(time.Millisecond), len(deals), snap.failed, snap.stale)
	if s.observer != nil {
		s.observer.ObserveScan(mode, elapsed, len(deals), snap.failed)
	}
	return ScanResult{
		ScanID:             scanID,
		Deals:              deals,
		TotalTypes:         totalTypes,
		TotalProfitISK:     total,
		MinProfitISK:       th.MinProfitISK,
		MaxTransportVolume: th.MaxTransportVolume,
		MaxBuyCost:         th.MaxBuyCost,
		Partial:            snap.failed > 0 || snap.stale > 0,
		FailedFetches:      snap.failed,
		StaleBooks:         snap.stale,
	}
}

func uniqueIDs(ids []int32) []int32 {
	seen := make(map[int32]bool, len(ids))
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func filterTypes(ids []int32, keep func(int32) bool) []int32 {
	out := ids[:0:0]
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}
