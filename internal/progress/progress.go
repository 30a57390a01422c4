package progress

import (
	"fmt"

	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// Graph is the read-only topology a progress query runs against.
// *railgraph.Graph satisfies it.
type Graph interface {
	NodeLookup
	Edge(u, v railgraph.NodeID) (railgraph.Edge, bool)
}

// Pather fills gaps between non-adjacent waypoints. Both *railgraph.Graph and
// *pathcache.Cache satisfy it.
type Pather interface {
	ShortestPath(from, to railgraph.NodeID) (railgraph.Path, error)
}

// PathProgress is the literal node/edge sequence from the vehicle to its target.
// len(Nodes) == len(Edges)+1.
type PathProgress struct {
	RouteID     string
	TargetIndex int
	Nodes       []railgraph.NodeID
	Edges       []railgraph.Edge
	Length      float64
}

func (p PathProgress) RemainingEdgeCount() int { return len(p.Edges) }

func (p PathProgress) Target() railgraph.NodeID {
	if len(p.Nodes) == 0 {
		return ""
	}
	return p.Nodes[len(p.Nodes)-1]
}

// Window returns the first maxEdges edges of the progress (all of them when maxEdges <= 0).
func (p PathProgress) Window(maxEdges int) PathProgress {
	if maxEdges <= 0 || maxEdges >= len(p.Edges) {
		return p
	}
	w := p
	w.Edges = p.Edges[:maxEdges]
	w.Nodes = p.Nodes[:maxEdges+1]
	w.Length = 0
	for _, e := range w.Edges {
		w.Length += e.Length
	}
	return w
}

// Query describes one remaining-path request.
type Query struct {
	Route        Route
	CurrentIndex int
	Target       Target
	// LastPassed, when set and found in the expanded sequence, truncates the path
	// so it starts at that node.
	LastPassed railgraph.NodeID
}

// Remaining resolves q.Target and expands the route towards it.
func Remaining(g Graph, paths Pather, q Query) (PathProgress, error) {
	if q.CurrentIndex < 0 || q.CurrentIndex >= len(q.Route.Waypoints) {
		return PathProgress{}, fmt.Errorf("%w: %d of %d", ErrBadIndex, q.CurrentIndex, len(q.Route.Waypoints))
	}
	target := q.Target
	if target == nil {
		target = NextStop{}
	}
	idx, ok := target.Resolve(q.Route, q.CurrentIndex, g)
	if !ok {
		return PathProgress{}, fmt.Errorf("%w: %s on route %s", ErrTargetNotFound, target, q.Route.ID)
	}
	return expand(g, paths, q.Route, q.CurrentIndex, idx, q.LastPassed)
}

// RemainingToNode expands the route from currentIndex to the first later waypoint equal to target.
// Direct edges between consecutive waypoints are used when they exist; otherwise
// the shortest path is spliced in.
func RemainingToNode(g Graph, paths Pather, route Route, currentIndex int, target, lastPassed railgraph.NodeID) (PathProgress, error) {
	return Remaining(g, paths, Query{
		Route:        route,
		CurrentIndex: currentIndex,
		Target:       Node{ID: target},
		LastPassed:   lastPassed,
	})
}

func expand(g Graph, paths Pather, route Route, from, to int, lastPassed railgraph.NodeID) (PathProgress, error) {
	out := PathProgress{
		RouteID:     route.ID,
		TargetIndex: to,
		Nodes:       []railgraph.NodeID{route.Waypoints[from]},
	}
	for i := from; i < to; i++ {
		u, v := route.Waypoints[i], route.Waypoints[i+1]
		if u == v {
			continue
		}
		if e, ok := g.Edge(u, v); ok && !e.Blocked {
			out.Nodes = append(out.Nodes, v)
			out.Edges = append(out.Edges, e)
			out.Length += e.Length
			continue
		}
		if paths == nil {
			return PathProgress{}, fmt.Errorf("%w: %s -> %s", ErrNoPath, u, v)
		}
		seg, err := paths.ShortestPath(u, v)
		if err != nil {
			return PathProgress{}, fmt.Errorf("%w: %s -> %s: %v", ErrNoPath, u, v, err)
		}
		out.Nodes = append(out.Nodes, seg.Nodes[1:]...)
		out.Edges = append(out.Edges, seg.Edges...)
		out.Length += seg.Length
	}

	if lastPassed != "" {
		for k, n := range out.Nodes {
			if n == lastPassed {
				for _, e := range out.Edges[:k] {
					out.Length -= e.Length
				}
				out.Nodes = out.Nodes[k:]
				out.Edges = out.Edges[k:]
				break
			}
		}
	}
	return out, nil
}

// ExpandNodes resolves node ids against the graph. Unknown ids become bare nodes.
func ExpandNodes(g NodeLookup, ids []railgraph.NodeID) []railgraph.Node {
	out := make([]railgraph.Node, len(ids))
	for i, id := range ids {
		n, ok := g.Node(id)
		if !ok {
			n = railgraph.Node{ID: id, Kind: railgraph.KindMain}
		}
		out[i] = n
	}
	return out
}

// PathResources lists the resources a vehicle must hold to run along the path,
// in travel order: each node with its conflict groups, then the edge leaving it.
// Conflict groups appear once, at their first node.
func PathResources(g NodeLookup, nodes []railgraph.NodeID, edges []railgraph.Edge) []occupancy.Resource {
	out := make([]occupancy.Resource, 0, 2*len(nodes)+len(edges))
	seen := make(map[string]bool)
	add := func(r occupancy.Resource) {
		if k := r.Key(); !seen[k] {
			seen[k] = true
			out = append(out, r)
		}
	}
	for i, id := range nodes {
		add(occupancy.NodeResource(id))
		if n, ok := g.Node(id); ok {
			for _, c := range n.Conflicts {
				add(occupancy.ConflictResource(c))
			}
		}
		if i < len(edges) {
			add(occupancy.EdgeResource(edges[i].ID()))
		}
	}
	return out
}
