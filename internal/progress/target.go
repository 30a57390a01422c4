package progress

import "github.com/mini-rodalies-3d/dispatch/internal/railgraph"

// NodeLookup is the part of the graph a Target needs to resolve itself.
type NodeLookup interface {
	Node(id railgraph.NodeID) (railgraph.Node, bool)
}

// Target selects the waypoint a progress query runs to. The variants are
// NextStop, Station and Node.
type Target interface {
	// Resolve returns the waypoint index after currentIndex this target names.
	Resolve(route Route, currentIndex int, g NodeLookup) (int, bool)
	String() string
}

// NextStop targets the next station or depot waypoint after the current one.
type NextStop struct{}

func (NextStop) Resolve(route Route, currentIndex int, g NodeLookup) (int, bool) {
	for i := max(currentIndex+1, 0); i < len(route.Waypoints); i++ {
		n, ok := g.Node(route.Waypoints[i])
		if ok && (n.Kind == railgraph.KindStation || n.Kind == railgraph.KindDepot) {
			return i, true
		}
	}
	return 0, false
}

func (NextStop) String() string { return "next-stop" }

// Station targets the first waypoint after the current one that belongs to the named station.
type Station struct {
	Name string
}

func (s Station) Resolve(route Route, currentIndex int, g NodeLookup) (int, bool) {
	for i := max(currentIndex+1, 0); i < len(route.Waypoints); i++ {
		n, ok := g.Node(route.Waypoints[i])
		if ok && n.Station == s.Name {
			return i, true
		}
	}
	return 0, false
}

func (s Station) String() string { return "station:" + s.Name }

// Node targets an explicit waypoint.
type Node struct {
	ID railgraph.NodeID
}

func (n Node) Resolve(route Route, currentIndex int, _ NodeLookup) (int, bool) {
	return route.IndexAfter(currentIndex, n.ID)
}

func (n Node) String() string { return "node:" + string(n.ID) }
