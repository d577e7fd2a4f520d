package engine

// Deal is one executable arbitrage opportunity.
//
// Location fields follow the side of the book they were taken from:
// SellRegionID/SellSystemID locate the sell orders the haul is bought from,
// BuyRegionID/BuySystemID locate the buy orders it is sold into. BuyPrice is
// what the trader pays per unit and SellPrice what they receive, so
// ProfitISK is (SellPrice - BuyPrice) * TradableVolume.
//
// RouteDetails starts at BuySystemID and ends at SellSystemID, so it lists
// the haul backwards: from the buy-order system to the sell-order system.
type Deal struct {
	TypeID               int32      `json:"type_id"`
	TypeName             string     `json:"type_name"`
	BuyPrice             float64    `json:"buy_price"`
	SellPrice            float64    `json:"sell_price"`
	TradableVolume       int64      `json:"tradable_volume"`
	TotalBuyCost         float64    `json:"total_buy_cost"`
	TotalSellRevenue     float64    `json:"total_sell_revenue"`
	ProfitISK            float64    `json:"profit_isk"`
	ProfitPercent        float64    `json:"profit_percent"`
	ItemVolume           float64    `json:"item_volume"`
	TotalTransportVolume float64    `json:"total_transport_volume"`
	BuyOrderCount        int        `json:"buy_order_count"`
	SellOrderCount       int        `json:"sell_order_count"`
	Jumps                int        `json:"jumps"`
	EstimatedTimeMinutes float64    `json:"estimated_time_minutes"`
	RouteDetails         []RouteHop `json:"route_details"`
	BuyRegionID          int32      `json:"buy_region_id"`
	SellRegionID         int32      `json:"sell_region_id"`
	BuySystemID          int32      `json:"buy_system_id"`
	SellSystemID         int32      `json:"sell_system_id"`
}

// RouteHop is one system on a deal's route.
type RouteHop struct {
	SystemID       int32   `json:"system_id"`
	Name           string  `json:"name"`
	SecurityStatus float64 `json:"security_status"`
	SecurityClass  string  `json:"security_class"`
}

// Thresholds filter and cap deals. Nil caps are unlimited.
type Thresholds struct {
	MinProfitISK       float64
	MaxTransportVolume *float64
	MaxBuyCost         *float64
}

// RegionScanParams selects a region scan.
type RegionScanParams struct {
	RegionID          int32
	GroupID           int32
	AdditionalRegions []int32
	// IncludeAdjacent adds every region within the configured hop budget.
	IncludeAdjacent bool
	Thresholds
}

// PairScanParams selects a fixed system-to-system scan. GroupID 0 scans
// every type with orders on both sides.
type PairScanParams struct {
	FromSystemID int32
	ToSystemID   int32
	GroupID      int32
	Thresholds
}

// RefreshParams re-evaluates one deal against freshly fetched books.
type RefreshParams struct {
	TypeID       int32
	BuyRegionID  int32
	SellRegionID int32
	Thresholds
}

// ScanResult is the response of a region or pair scan.
type ScanResult struct {
	ScanID             string   `json:"scan_id"`
	Deals              []Deal   `json:"deals"`
	TotalTypes         int      `json:"total_types"`
	TotalProfitISK     float64  `json:"total_profit_isk"`
	MinProfitISK       float64  `json:"min_profit_isk"`
	MaxTransportVolume *float64 `json:"max_transport_volume,omitempty"`
	MaxBuyCost         *float64 `json:"max_buy_cost,omitempty"`
	Partial            bool     `json:"partial"`
	FailedFetches      int      `json:"failed_fetches"`
	StaleBooks         int      `json:"stale_books"`
}
