package engine

import (
	"testing"

	"eve-arbitrage/internal/esi"
)

func ask(id int64, system int32, price float64, qty int32) esi.MarketOrder {
	return esi.MarketOrder{OrderID: id, TypeID: 34, LocationID: 60000000 + int64(system%1000), SystemID: system, Price: price, VolumeRemain: qty}
}

func bid(id int64, system int32, price float64, qty int32) esi.MarketOrder {
	o := ask(id, system, price, qty)
	o.IsBuyOrder = true
	return o
}

func book(region int32, orders ...esi.MarketOrder) esi.OrderBook {
	return esi.OrderBook{RegionID: region, TypeID: 34, Orders: orders}
}

func ladder(side func(OrderFilter, ...esi.OrderBook) Ladder, orders ...esi.MarketOrder) Ladder {
	return side(nil, book(1, orders...))
}

func TestAsks_MergedCheapestFirst(t *testing.T) {
	a := book(1, ask(5, 100, 110, 10), ask(3, 100, 100, 5), bid(9, 100, 300, 1))
	b := book(2, ask(2, 200, 100, 7), ask(1, 200, 90, 0))
	got := Asks(nil, a, b)

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (bid and empty order dropped)", len(got))
	}
	wantIDs := []int64{2, 3, 5}
	wantCum := []int64{7, 12, 22}
	for i, lv := range got {
		if lv.OrderID != wantIDs[i] || lv.Cumulative != wantCum[i] {
			t.Errorf("level %d = id %d cum %d, want id %d cum %d", i, lv.OrderID, lv.Cumulative, wantIDs[i], wantCum[i])
		}
	}
	if got[0].RegionID != 2 || got[1].RegionID != 1 {
		t.Errorf("regions = %d,%d, want 2,1", got[0].RegionID, got[1].RegionID)
	}
	if got.Available() != 22 {
		t.Errorf("Available = %d, want 22", got.Available())
	}
}

func TestBids_HighestFirstWithFilter(t *testing.T) {
	b := book(1, bid(1, 100, 120, 5), bid(2, 200, 150, 5), bid(3, 100, 130, 5), ask(4, 100, 10, 5))
	got := Bids(InSystem(100), b)
	if len(got) != 2 || got[0].OrderID != 3 || got[1].OrderID != 1 {
		t.Fatalf("bids = %+v, want orders 3 then 1", got)
	}
}

func TestAsks_DropsMarketDisabledTypes(t *testing.T) {
	o := ask(1, 100, 10, 5)
	o.TypeID = MPTCTypeID
	if got := Asks(nil, book(1, o)); len(got) != 0 {
		t.Fatalf("disabled type kept: %+v", got)
	}
}

func TestLadder_EmptyAvailable(t *testing.T) {
	if (Ladder{}).Available() != 0 {
		t.Error("empty ladder should have nothing available")
	}
}

func TestMatch(t *testing.T) {
	asks := ladder(Asks, ask(1, 100, 100, 10), ask(2, 101, 110, 10), ask(3, 102, 130, 10))
	bids := ladder(Bids, bid(4, 200, 150, 15), bid(5, 201, 120, 10), bid(6, 202, 105, 5))

	tests := []struct {
		name      string
		max       int64
		qty       int64
		buy, sell float64
		asksN     int
		bidsN     int
	}{
		{"uncapped stops at crossed tier", NoLimit, 20, 110, 120, 2, 2},
		{"capped", 12, 12, 110, 150, 2, 1},
		{"cap inside first order", 4, 4, 100, 150, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Match(asks, bids, tt.max)
			if f.Quantity != tt.qty || f.BuyPrice != tt.buy || f.SellPrice != tt.sell {
				t.Fatalf("fill = qty %d buy %v sell %v, want %d %v %v", f.Quantity, f.BuyPrice, f.SellPrice, tt.qty, tt.buy, tt.sell)
			}
			if f.AskOrders != tt.asksN || f.BidOrders != tt.bidsN {
				t.Errorf("orders touched = %d/%d, want %d/%d", f.AskOrders, f.BidOrders, tt.asksN, tt.bidsN)
			}
			if f.SellSystemID != 100 || f.BuySystemID != 200 {
				t.Errorf("systems = sell %d buy %d, want 100 200", f.SellSystemID, f.BuySystemID)
			}
		})
	}
}

func TestMatch_NoDeal(t *testing.T) {
	asks := ladder(Asks, ask(1, 100, 100, 10))
	bids := ladder(Bids, bid(2, 100, 100, 10))
	if f := Match(asks, bids, NoLimit); f.Quantity != 0 {
		t.Errorf("equal prices matched %d units", f.Quantity)
	}
	if f := Match(nil, bids, NoLimit); f.Quantity != 0 {
		t.Errorf("no asks matched %d units", f.Quantity)
	}
	if f := Match(asks, nil, NoLimit); f.Quantity != 0 {
		t.Errorf("no bids matched %d units", f.Quantity)
	}
}

func TestMatch_QuantityBoundedByBothSides(t *testing.T) {
	asks := ladder(Asks, ask(1, 100, 1, 7), ask(2, 100, 2, 3))
	bids := ladder(Bids, bid(3, 100, 100, 50))
	f := Match(asks, bids, NoLimit)
	if f.Quantity != min(asks.Available(), bids.Available()) {
		t.Fatalf("quantity %d, want %d", f.Quantity, min(asks.Available(), bids.Available()))
	}
}
