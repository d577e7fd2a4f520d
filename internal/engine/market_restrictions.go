package engine

import "eve-arbitrage/internal/esi"

// MPTCTypeID is the Multiple Pilot Training Certificate.
const MPTCTypeID int32 = 34133

// marketDisabledTypeIDs lists item types that may appear in ESI market data
// but are not practically tradable via normal sell-side execution.
// Keep this list conservative: only hard-verified market-disabled types.
var marketDisabledTypeIDs = map[int32]struct{}{
	MPTCTypeID: {},
}

func isMarketDisabledType(typeID int32) bool {
	_, blocked := marketDisabledTypeIDs[typeID]
	return blocked
}

// tradableTypes drops market-disabled types, keeping order.
func tradableTypes(typeIDs []int32) []int32 {
	out := make([]int32, 0, len(typeIDs))
	for _, id := range typeIDs {
		if !isMarketDisabledType(id) {
			out = append(out, id)
		}
	}
	return out
}

// OrderFilter reports whether an order may take part in matching.
type OrderFilter func(esi.MarketOrder) bool

// InSystem keeps orders located in systemID.
func InSystem(systemID int32) OrderFilter {
	return func(o esi.MarketOrder) bool { return o.SystemID == systemID }
}
