package esi

import (
	"context"
	"fmt"
	"math"
)

// MarketGroup is one node of the market category tree.
type MarketGroup struct {
	MarketGroupID int32   `json:"market_group_id"`
	Name          string  `json:"name"`
	ParentGroupID int32   `json:"parent_group_id,omitempty"` // 0 for roots
	Types         []int32 `json:"types"`
}

// TypeInfo is the subset of /universe/types/{id}/ the engine uses.
type TypeInfo struct {
	TypeID         int32   `json:"type_id"`
	Name           string  `json:"name"`
	Volume         float64 `json:"volume"`
	PackagedVolume float64 `json:"packaged_volume,omitempty"`
	MarketGroupID  int32   `json:"market_group_id,omitempty"`
	Published      bool    `json:"published"`
}

// ItemVolume is the volume that counts for hauling: packaged if known.
func (t TypeInfo) ItemVolume() float64 {
	if t.PackagedVolume > 0 {
		return t.PackagedVolume
	}
	return t.Volume
}

// FetchMarketGroupIDs lists every market group ID.
func (c *Client) FetchMarketGroupIDs(ctx context.Context) ([]int32, error) {
	var ids []int32
	if err := c.GetJSON(ctx, "/markets/groups/", &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// FetchMarketGroup fetches one market group.
func (c *Client) FetchMarketGroup(ctx context.Context, groupID int32) (MarketGroup, error) {
	path := fmt.Sprintf("/markets/groups/%d/", groupID)
	var g MarketGroup
	if err := c.GetJSON(ctx, path, &g); err != nil {
		return MarketGroup{}, err
	}
	if g.MarketGroupID != groupID {
		return MarketGroup{}, &ParseError{Endpoint: endpointLabel(path), Reason: fmt.Sprintf("market_group_id %d, want %d", g.MarketGroupID, groupID)}
	}
	return g, nil
}

// FetchTypeInfo fetches name and volume for a type.
func (c *Client) FetchTypeInfo(ctx context.Context, typeID int32) (TypeInfo, error) {
	path := fmt.Sprintf("/universe/types/%d/", typeID)
	var t TypeInfo
	if err := c.GetJSON(ctx, path, &t); err != nil {
		return TypeInfo{}, err
	}
	switch {
	case t.TypeID != typeID:
		return TypeInfo{}, &ParseError{Endpoint: endpointLabel(path), Reason: fmt.Sprintf("type_id %d, want %d", t.TypeID, typeID)}
	case t.Name == "":
		return TypeInfo{}, &ParseError{Endpoint: endpointLabel(path), Reason: "empty name"}
	case t.Volume < 0 || math.IsNaN(t.Volume) || t.PackagedVolume < 0:
		return TypeInfo{}, &ParseError{Endpoint: endpointLabel(path), Reason: fmt.Sprintf("volume %v", t.Volume)}
	}
	return t, nil
}
