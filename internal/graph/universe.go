package graph

import (
	"math"
	"sort"
)

// Universe holds the adjacency list of solar systems connected by stargates,
// plus the system -> constellation -> region hierarchy, security and names.
// The graph is cyclic; every traversal keeps a visited set.
type Universe struct {
	// Adj maps systemID -> list of neighboring systemIDs
	Adj map[int32][]int32
	// SystemRegion maps systemID -> regionID
	SystemRegion map[int32]int32
	// SystemConstellation maps systemID -> constellationID
	SystemConstellation map[int32]int32
	// ConstellationRegion maps constellationID -> regionID
	ConstellationRegion map[int32]int32
	// SystemSecurity maps systemID -> security (-1.0 to 1.0); highsec >= 0.45
	SystemSecurity map[int32]float64
	SystemNames    map[int32]string
	RegionNames    map[int32]string
}

// System is a read-only view of one solar system.
type System struct {
	ID              int32
	Name            string
	ConstellationID int32
	RegionID        int32
	Security        float64
}

// NewUniverse creates an empty Universe with initialized maps.
func NewUniverse() *Universe {
	return &Universe{
		Adj:                 make(map[int32][]int32),
		SystemRegion:        make(map[int32]int32),
		SystemConstellation: make(map[int32]int32),
		ConstellationRegion: make(map[int32]int32),
		SystemSecurity:      make(map[int32]float64),
		SystemNames:         make(map[int32]string),
		RegionNames:         make(map[int32]string),
	}
}

// AddGate adds a directed stargate edge. The SDE lists every gate from both
// ends, so loading all gates yields an undirected graph.
func (u *Universe) AddGate(fromSystem, toSystem int32) {
	for _, n := range u.Adj[fromSystem] {
		if n == toSystem {
			return
		}
	}
	u.Adj[fromSystem] = append(u.Adj[fromSystem], toSystem)
}

// Connect adds a gate in both directions.
func (u *Universe) Connect(a, b int32) {
	u.AddGate(a, b)
	u.AddGate(b, a)
}

// SetRegion associates a system with a region.
func (u *Universe) SetRegion(systemID, regionID int32) {
	u.SystemRegion[systemID] = regionID
}

// SetConstellation places a system in a constellation. When the
// constellation's region is known the system's region follows it.
func (u *Universe) SetConstellation(systemID, constellationID int32) {
	u.SystemConstellation[systemID] = constellationID
	if r, ok := u.ConstellationRegion[constellationID]; ok {
		u.SystemRegion[systemID] = r
	}
}

// SetConstellationRegion associates a constellation with a region.
func (u *Universe) SetConstellationRegion(constellationID, regionID int32) {
	u.ConstellationRegion[constellationID] = regionID
}

// SetSecurity sets the security level for a system.
func (u *Universe) SetSecurity(systemID int32, security float64) {
	u.SystemSecurity[systemID] = security
}

// SetSystemName records a system's display name.
func (u *Universe) SetSystemName(systemID int32, name string) {
	u.SystemNames[systemID] = name
}

// SetRegionName records a region's display name.
func (u *Universe) SetRegionName(regionID int32, name string) {
	u.RegionNames[regionID] = name
}

// System returns the system with id, or false if it is unknown.
func (u *Universe) System(id int32) (System, bool) {
	regionID, ok := u.SystemRegion[id]
	if !ok {
		return System{}, false
	}
	return System{
		ID:              id,
		Name:            u.SystemNames[id],
		ConstellationID: u.SystemConstellation[id],
		RegionID:        regionID,
		Security:        u.SystemSecurity[id],
	}, true
}

// Neighbors returns the systems one gate away from id.
func (u *Universe) Neighbors(id int32) []int32 {
	return u.Adj[id]
}

// RegionOf returns the region of a system.
func (u *Universe) RegionOf(systemID int32) (int32, bool) {
	r, ok := u.SystemRegion[systemID]
	return r, ok
}

// HasSystem reports whether the system is known.
func (u *Universe) HasSystem(id int32) bool {
	_, ok := u.SystemRegion[id]
	return ok
}

// HasRegion reports whether the region is named or has at least one system.
func (u *Universe) HasRegion(id int32) bool {
	if _, ok := u.RegionNames[id]; ok {
		return true
	}
	for _, r := range u.SystemRegion {
		if r == id {
			return true
		}
	}
	return false
}

// SystemsInRegion returns the member systems of a region in ascending order.
func (u *Universe) SystemsInRegion(regionID int32) []int32 {
	var out []int32
	for sysID, r := range u.SystemRegion {
		if r == regionID {
			out = append(out, sysID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Security classes.
const (
	HighSec = "highsec"
	LowSec  = "lowsec"
	NullSec = "nullsec"
)

// SecurityClass classifies a true security value the way the game does:
// highsec from 0.45 (displayed 0.5), lowsec above 0.0, nullsec otherwise.
func SecurityClass(sec float64) string {
	switch {
	case sec >= 0.45:
		return HighSec
	case sec > 0:
		return LowSec
	default:
		return NullSec
	}
}

// DisplaySecurity rounds a true security value to one decimal. Values just
// above zero show as 0.1 in game, never 0.0.
func DisplaySecurity(sec float64) float64 {
	if sec > 0 && sec < 0.05 {
		return 0.1
	}
	return math.Round(sec*10) / 10
}
