package esi

import (
	"context"
	"fmt"
	"math"
)

// MarketOrder mirrors the ESI market order response.
type MarketOrder struct {
	OrderID      int64   `json:"order_id"`
	TypeID       int32   `json:"type_id"`
	LocationID   int64   `json:"location_id"`
	SystemID     int32   `json:"system_id"`
	Price        float64 `json:"price"`
	VolumeRemain int32   `json:"volume_remain"`
	IsBuyOrder   bool    `json:"is_buy_order"`
	Range        string  `json:"range,omitempty"`
	RegionID     int32   `json:"region_id,omitempty"` // set by us
}

// Validate rejects orders the engine cannot use safely.
func (o *MarketOrder) Validate() error {
	switch {
	case o.OrderID <= 0:
		return fmt.Errorf("order_id %d", o.OrderID)
	case o.TypeID <= 0:
		return fmt.Errorf("order %d: type_id %d", o.OrderID, o.TypeID)
	case o.SystemID <= 0:
		return fmt.Errorf("order %d: system_id %d", o.OrderID, o.SystemID)
	case o.Price <= 0 || math.IsNaN(o.Price) || math.IsInf(o.Price, 0):
		return fmt.Errorf("order %d: price %v", o.OrderID, o.Price)
	case o.VolumeRemain < 0:
		return fmt.Errorf("order %d: volume_remain %d", o.OrderID, o.VolumeRemain)
	}
	return nil
}

// FetchRegionOrdersByType fetches all market orders (both sides) for a
// specific type in a region.
func (c *Client) FetchRegionOrdersByType(ctx context.Context, regionID, typeID int32) ([]MarketOrder, error) {
	path := fmt.Sprintf("/markets/%d/orders/?order_type=all&type_id=%d", regionID, typeID)
	orders, err := getPages[MarketOrder](ctx, c, path)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if err := orders[i].Validate(); err != nil {
			return nil, &ParseError{Endpoint: endpointLabel(path), Reason: "invalid order", Err: err}
		}
		if orders[i].TypeID != typeID {
			return nil, &ParseError{Endpoint: endpointLabel(path), Reason: fmt.Sprintf("order %d has type %d, want %d", orders[i].OrderID, orders[i].TypeID, typeID)}
		}
		orders[i].RegionID = regionID
	}
	return orders, nil
}

// FetchRegionTypes lists the type IDs with at least one active order in a region.
func (c *Client) FetchRegionTypes(ctx context.Context, regionID int32) ([]int32, error) {
	path := fmt.Sprintf("/markets/%d/types/", regionID)
	ids, err := getPages[int32](ctx, c, path)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id <= 0 {
			return nil, &ParseError{Endpoint: endpointLabel(path), Reason: fmt.Sprintf("type id %d", id)}
		}
	}
	return ids, nil
}
