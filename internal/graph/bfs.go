package graph

import "sort"

// ShortestRoute returns the systems on a shortest path from origin to dest,
// both endpoints included. Returns false if dest is unreachable.
func (u *Universe) ShortestRoute(origin, dest int32) ([]int32, bool) {
	if origin == dest {
		return []int32{origin}, true
	}

	prev := map[int32]int32{origin: origin}
	queue := []int32{origin}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, neighbor := range u.Neighbors(current) {
			if _, visited := prev[neighbor]; visited {
				continue
			}
			prev[neighbor] = current
			if neighbor == dest {
				return walkBack(prev, origin, dest), true
			}
			queue = append(queue, neighbor)
		}
	}
	return nil, false
}

func walkBack(prev map[int32]int32, origin, dest int32) []int32 {
	var path []int32
	for at := dest; ; at = prev[at] {
		path = append(path, at)
		if at == origin {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// RegionsWithinHops returns the distinct regions, other than regionID, that
// contain a system within hops gate jumps of any system in regionID. The
// result is sorted ascending.
func (u *Universe) RegionsWithinHops(regionID int32, hops int) []int32 {
	members := u.SystemsInRegion(regionID)
	dist := make(map[int32]int, len(members))
	queue := make([]int32, 0, len(members))
	for _, s := range members {
		dist[s] = 0
		queue = append(queue, s)
	}

	found := make(map[int32]bool)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		d := dist[current]
		if d >= hops {
			continue
		}
		for _, neighbor := range u.Neighbors(current) {
			if _, visited := dist[neighbor]; visited {
				continue
			}
			dist[neighbor] = d + 1
			if r, ok := u.SystemRegion[neighbor]; ok && r != regionID {
				found[r] = true
			}
			queue = append(queue, neighbor)
		}
	}

	out := make([]int32, 0, len(found))
	for r := range found {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
