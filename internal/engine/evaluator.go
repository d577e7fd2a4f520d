package engine

import "math"

// Trade is a fill with its money and volume totals.
type Trade struct {
	Fill
	UnitVolume       float64
	TotalBuyCost     float64
	TotalSellRevenue float64
	Profit           float64
	ProfitPercent    float64
	TransportVolume  float64
}

// Validate rejects negative or non-finite thresholds.
func (t Thresholds) Validate() error {
	if t.MinProfitISK < 0 || math.IsNaN(t.MinProfitISK) || math.IsInf(t.MinProfitISK, 0) {
		return invalid("min_profit_isk", "must be a non-negative number")
	}
	if v := t.MaxTransportVolume; v != nil && (*v < 0 || math.IsNaN(*v)) {
		return invalid("max_transport_volume", "must be a non-negative number")
	}
	if v := t.MaxBuyCost; v != nil && (*v < 0 || math.IsNaN(*v)) {
		return invalid("max_buy_cost", "must be a non-negative number")
	}
	return nil
}

// unitCap is the largest n with n*unit <= limit.
func unitCap(limit, unit float64) int64 {
	q := math.Floor(limit / unit)
	if q >= float64(NoLimit) {
		return NoLimit
	}
	n := int64(q)
	for n > 0 && float64(n)*unit > limit {
		n--
	}
	return n
}

// Evaluate matches asks against bids, applies the volume cap then the
// budget cap, and reports whether the result clears MinProfitISK.
func Evaluate(asks, bids Ladder, unitVolume float64, th Thresholds) (Trade, bool) {
	fill := Match(asks, bids, NoLimit)
	if fill.Quantity == 0 {
		return Trade{}, false
	}

	if th.MaxTransportVolume != nil && unitVolume > 0 {
		limit := unitCap(*th.MaxTransportVolume, unitVolume)
		if limit <= 0 {
			return Trade{}, false
		}
		if limit < fill.Quantity {
			fill = Match(asks, bids, limit)
		}
	}
	if th.MaxBuyCost != nil {
		limit := unitCap(*th.MaxBuyCost, fill.BuyPrice)
		if limit <= 0 {
			return Trade{}, false
		}
		if limit < fill.Quantity {
			fill = Match(asks, bids, limit)
		}
	}

	qty := float64(fill.Quantity)
	t := Trade{
		Fill:             fill,
		UnitVolume:       unitVolume,
		TotalBuyCost:     fill.BuyPrice * qty,
		TotalSellRevenue: fill.SellPrice * qty,
		Profit:           (fill.SellPrice - fill.BuyPrice) * qty,
		TransportVolume:  unitVolume * qty,
	}
	if t.TotalBuyCost > 0 {
		t.ProfitPercent = t.Profit / t.TotalBuyCost * 100
	}
	if t.Profit < 0 || t.Profit < th.MinProfitISK {
		return Trade{}, false
	}
	return t, true
}
