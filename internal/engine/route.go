package engine

import (
	"errors"
	"fmt"

	"eve-arbitrage/internal/graph"
)

// ErrNoRoute means two systems are not connected by gates.
var ErrNoRoute = errors.New("no route")

// DefaultMinutesPerJump is the travel estimate per gate jump.
const DefaultMinutesPerJump = 1.5

// Route is a resolved shortest path.
type Route struct {
	Jumps            int
	Hops             []RouteHop
	EstimatedMinutes float64
}

// RouteResolver turns system pairs into annotated routes.
type RouteResolver struct {
	MinutesPerJump float64
}

// Resolve returns the shortest gate path from origin to dest, both ends
// included.
func (r RouteResolver) Resolve(u *graph.Universe, origin, dest int32) (Route, error) {
	path, ok := u.ShortestRoute(origin, dest)
	if !ok {
		return Route{}, fmt.Errorf("%d -> %d: %w", origin, dest, ErrNoRoute)
	}
	hops := make([]RouteHop, len(path))
	for i, id := range path {
		sys, _ := u.System(id)
		hops[i] = RouteHop{
			SystemID:       id,
			Name:           sys.Name,
			SecurityStatus: graph.DisplaySecurity(sys.Security),
			SecurityClass:  graph.SecurityClass(sys.Security),
		}
	}
	jumps := len(path) - 1
	return Route{Jumps: jumps, Hops: hops, EstimatedMinutes: float64(jumps) * r.MinutesPerJump}, nil
}
