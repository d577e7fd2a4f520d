package api

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"eve-arbitrage/internal/engine"
)

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("query"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}()

type thresholdQuery struct {
	MinProfitISK       *float64 `query:"min_profit_isk" validate:"omitempty,gte=0"`
	MaxTransportVolume *float64 `query:"max_transport_volume" validate:"omitempty,gte=0"`
	MaxBuyCost         *float64 `query:"max_buy_cost" validate:"omitempty,gte=0"`
}

func (t thresholdQuery) thresholds(defaultMinProfit float64) engine.Thresholds {
	th := engine.Thresholds{
		MinProfitISK:       defaultMinProfit,
		MaxTransportVolume: t.MaxTransportVolume,
		MaxBuyCost:         t.MaxBuyCost,
	}
	if t.MinProfitISK != nil {
		th.MinProfitISK = *t.MinProfitISK
	}
	return th
}

type regionRequest struct {
	RegionID          int32   `query:"region_id" validate:"required,gt=0"`
	GroupID           int32   `query:"group_id" validate:"required,gt=0"`
	AdditionalRegions []int32 `query:"additional_regions" validate:"omitempty,dive,gt=0"`
	IncludeAdjacent   bool    `query:"include_adjacent"`
	thresholdQuery
}

type pairRequest struct {
	FromSystemID int32 `query:"from_system_id" validate:"required,gt=0"`
	ToSystemID   int32 `query:"to_system_id" validate:"required,gt=0"`
	GroupID      int32 `query:"group_id" validate:"gte=0"`
	thresholdQuery
}

type refreshRequest struct {
	TypeID       int32 `query:"type_id" validate:"required,gt=0"`
	BuyRegionID  int32 `query:"buy_region_id" validate:"required,gt=0"`
	SellRegionID int32 `query:"sell_region_id" validate:"required,gt=0"`
	thresholdQuery
}

type adjacentRequest struct {
	RegionID int32 `query:"region_id" validate:"required,gt=0"`
}

// queryParser reads typed values and keeps the first error.
type queryParser struct {
	q   url.Values
	err error
}

func (p *queryParser) fail(name, raw string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %q", name, raw)
	}
}

func (p *queryParser) int32(name string) int32 {
	raw := strings.TrimSpace(p.q.Get(name))
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		p.fail(name, raw)
		return 0
	}
	return int32(v)
}

func (p *queryParser) int32List(name string) []int32 {
	raw := strings.TrimSpace(p.q.Get(name))
	if raw == "" {
		return nil
	}
	var out []int32
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			p.fail(name, raw)
			return nil
		}
		out = append(out, int32(v))
	}
	return out
}

func (p *queryParser) float(name string) *float64 {
	raw := strings.TrimSpace(p.q.Get(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(name, raw)
		return nil
	}
	return &v
}

func (p *queryParser) bool(name string) bool {
	raw := strings.TrimSpace(p.q.Get(name))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(name, raw)
	}
	return v
}

func (p *queryParser) thresholds() thresholdQuery {
	return thresholdQuery{
		MinProfitISK:       p.float("min_profit_isk"),
		MaxTransportVolume: p.float("max_transport_volume"),
		MaxBuyCost:         p.float("max_buy_cost"),
	}
}

// check validates a parsed request and reports the first failing field.
func check(p *queryParser, req any) error {
	if p.err != nil {
		return p.err
	}
	err := validate.Struct(req)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return fmt.Errorf("%s is required", fe.Field())
		}
		return fmt.Errorf("invalid %s: must be %s %s", fe.Field(), fe.Tag(), fe.Param())
	}
	return err
}

func parseRegionRequest(q url.Values) (regionRequest, error) {
	p := &queryParser{q: q}
	req := regionRequest{
		RegionID:          p.int32("region_id"),
		GroupID:           p.int32("group_id"),
		AdditionalRegions: p.int32List("additional_regions"),
		IncludeAdjacent:   p.bool("include_adjacent"),
		thresholdQuery:    p.thresholds(),
	}
	return req, check(p, req)
}

func parsePairRequest(q url.Values) (pairRequest, error) {
	p := &queryParser{q: q}
	req := pairRequest{
		FromSystemID:   p.int32("from_system_id"),
		ToSystemID:     p.int32("to_system_id"),
		GroupID:        p.int32("group_id"),
		thresholdQuery: p.thresholds(),
	}
	return req, check(p, req)
}

func parseRefreshRequest(q url.Values) (refreshRequest, error) {
	p := &queryParser{q: q}
	req := refreshRequest{
		TypeID:         p.int32("type_id"),
		BuyRegionID:    p.int32("buy_region_id"),
		SellRegionID:   p.int32("sell_region_id"),
		thresholdQuery: p.thresholds(),
	}
	return req, check(p, req)
}

func parseAdjacentRequest(q url.Values) (adjacentRequest, error) {
	p := &queryParser{q: q}
	req := adjacentRequest{RegionID: p.int32("region_id")}
	return req, check(p, req)
}
