package engine

import (
	"math"
	"sort"

	"eve-arbitrage/internal/esi"
)

// NoLimit leaves a match uncapped.
const NoLimit int64 = math.MaxInt64

// Level is one order on a merged ladder. Cumulative is the quantity
// available at this level and every better one.
type Level struct {
	OrderID    int64
	Price      float64
	Quantity   int64
	Cumulative int64
	SystemID   int32
	RegionID   int32
}

// Ladder is one side of a merged book, best price first.
type Ladder []Level

// Available is the total quantity on the ladder.
func (l Ladder) Available() int64 {
	if len(l) == 0 {
		return 0
	}
	return l[len(l)-1].Cumulative
}

// Asks merges the sell orders of books into one ladder, cheapest first.
func Asks(filter OrderFilter, books ...esi.OrderBook) Ladder {
	return mergeSide(books, false, filter)
}

// Bids merges the buy orders of books into one ladder, highest first.
func Bids(filter OrderFilter, books ...esi.OrderBook) Ladder {
	return mergeSide(books, true, filter)
}

func mergeSide(books []esi.OrderBook, buy bool, filter OrderFilter) Ladder {
	var out Ladder
	for _, b := range books {
		for _, o := range b.Orders {
			if o.IsBuyOrder != buy || o.VolumeRemain <= 0 || isMarketDisabledType(o.TypeID) {
				continue
			}
			if filter != nil && !filter(o) {
				continue
			}
			region := o.RegionID
			if region == 0 {
				region = b.RegionID
			}
			out = append(out, Level{
				OrderID:  o.OrderID,
				Price:    o.Price,
				Quantity: int64(o.VolumeRemain),
				SystemID: o.SystemID,
				RegionID: region,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			if buy {
				return out[i].Price > out[j].Price
			}
			return out[i].Price < out[j].Price
		}
		return out[i].OrderID < out[j].OrderID
	})
	var cum int64
	for i := range out {
		cum += out[i].Quantity
		out[i].Cumulative = cum
	}
	return out
}

// Fill is the result of matching an ask ladder against a bid ladder.
type Fill struct {
	Quantity int64
	// BuyPrice is the marginal ask and SellPrice the marginal bid.
	BuyPrice  float64
	SellPrice float64
	AskOrders int
	BidOrders int
	// Location of the best ask and best bid.
	SellSystemID int32
	SellRegionID int32
	BuySystemID  int32
	BuyRegionID  int32
}

// Match walks asks upward and bids downward while the bid beats the ask,
// filling at most maxUnits.
func Match(asks, bids Ladder, maxUnits int64) Fill {
	var f Fill
	if len(asks) == 0 || len(bids) == 0 || maxUnits <= 0 {
		return f
	}
	i, j := 0, 0
	remA, remB := asks[0].Quantity, bids[0].Quantity
	for i < len(asks) && j < len(bids) && f.Quantity < maxUnits {
		a, b := asks[i], bids[j]
		if b.Price <= a.Price {
			break
		}
		n := min(remA, remB, maxUnits-f.Quantity)
		f.Quantity += n
		f.BuyPrice, f.SellPrice = a.Price, b.Price
		f.AskOrders, f.BidOrders = i+1, j+1
		remA -= n
		remB -= n
		if remA == 0 {
			if i++; i < len(asks) {
				remA = asks[i].Quantity
			}
		}
		if remB == 0 {
			if j++; j < len(bids) {
				remB = bids[j].Quantity
			}
		}
	}
	if f.Quantity > 0 {
		f.SellSystemID, f.SellRegionID = asks[0].SystemID, asks[0].RegionID
		f.BuySystemID, f.BuyRegionID = bids[0].SystemID, bids[0].RegionID
	}
	return f
}
