// Package railgraph holds the read-only track topology snapshot used by the
// dispatch core: nodes, undirected pair-keyed edges, and shortest-path search.
package railgraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// NodeID and EdgeID are opaque string identifiers.
type (
	NodeID string
	EdgeID string
)

// NodeKind classifies a node in the network.
type NodeKind string

const (
	KindMain    NodeKind = "main"
	KindStation NodeKind = "station"
	KindDepot   NodeKind = "depot"
	KindSwitch  NodeKind = "switch"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrNoPath      = errors.New("no path")
)

// Node is a point in the track graph.
type Node struct {
	ID       NodeID   `json:"node_id"`
	Kind     NodeKind `json:"kind"`
	Station  string   `json:"station,omitempty"`  // station name for station/depot nodes
	Platform string   `json:"platform,omitempty"` // platform label inside the station
	// Conflicts lists the conflict groups this node belongs to,
	// e.g. "switcher:J12" for a switch throat or "single:A-B" for a single-track corridor.
	Conflicts []string `json:"conflicts,omitempty"`
}

// Edge connects two nodes. Identity is order independent: EdgeKey(A,B) == EdgeKey(B,A).
// SpeedLimit is optional (m/s); nil means the edge imposes no limit of its own.
type Edge struct {
	A             NodeID   `json:"a"`
	B             NodeID   `json:"b"`
	Length        float64  `json:"length"` // metres
	SpeedLimit    *float64 `json:"speed_limit,omitempty"`
	Blocked       bool     `json:"blocked,omitempty"`
	Bidirectional bool     `json:"bidirectional"`
}

// ID returns the pair-keyed identifier of the edge.
func (e Edge) ID() EdgeID { return EdgeKey(e.A, e.B) }

// Other returns the endpoint opposite to n.
func (e Edge) Other(n NodeID) NodeID {
	if e.A == n {
		return e.B
	}
	return e.A
}

// edgeSeparator joins the two node ids of an edge key. NewGraph rejects node ids
// containing it so every key names exactly one pair.
const edgeSeparator = "~"

// EdgeKey returns the canonical identifier for the undirected pair (a, b).
func EdgeKey(a, b NodeID) EdgeID {
	if b < a {
		a, b = b, a
	}
	return EdgeID(string(a) + edgeSeparator + string(b))
}

// GraphData is the serialisable input representation of a graph snapshot.
type GraphData struct {
	World string `json:"world"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Graph is an immutable track graph. It is safe for concurrent readers once built.
type Graph struct {
	world    string
	nodes    map[NodeID]Node
	edges    map[EdgeID]Edge
	incident map[NodeID][]EdgeID
}

// NewGraph builds a Graph, returning an error if any node or edge reference is invalid.
func NewGraph(data GraphData) (*Graph, error) {
	g := &Graph{
		world:    data.World,
		nodes:    make(map[NodeID]Node, len(data.Nodes)),
		edges:    make(map[EdgeID]Edge, len(data.Edges)),
		incident: make(map[NodeID][]EdgeID, len(data.Nodes)),
	}
	for _, n := range data.Nodes {
		if n.ID == "" || strings.Contains(string(n.ID), edgeSeparator) {
			return nil, fmt.Errorf("node %q: id must be non-empty and must not contain %q", n.ID, edgeSeparator)
		}
		if _, exists := g.nodes[n.ID]; exists {
			return nil, fmt.Errorf("node %q already exists", n.ID)
		}
		g.nodes[n.ID] = n
	}
	for _, e := range data.Edges {
		if e.A == e.B {
			return nil, fmt.Errorf("edge %q: self loop", e.ID())
		}
		if _, ok := g.nodes[e.A]; !ok {
			return nil, fmt.Errorf("edge %q: %w %q", e.ID(), ErrUnknownNode, e.A)
		}
		if _, ok := g.nodes[e.B]; !ok {
			return nil, fmt.Errorf("edge %q: %w %q", e.ID(), ErrUnknownNode, e.B)
		}
		if e.Length < 0 {
			return nil, fmt.Errorf("edge %q: negative length %.1f", e.ID(), e.Length)
		}
		id := e.ID()
		if _, exists := g.edges[id]; exists {
			return nil, fmt.Errorf("edge %q already exists", id)
		}
		g.edges[id] = e
		g.incident[e.A] = append(g.incident[e.A], id)
		g.incident[e.B] = append(g.incident[e.B], id)
	}
	// Deterministic neighbour order keeps path search stable between runs.
	for n := range g.incident {
		sort.Slice(g.incident[n], func(i, j int) bool { return g.incident[n][i] < g.incident[n][j] })
	}
	return g, nil
}

// World returns the world/region identifier of the snapshot.
func (g *Graph) World() string { return g.world }

// Node looks up a node by id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// EdgeByID looks up an edge by its pair key.
func (g *Graph) EdgeByID(id EdgeID) (Edge, bool) {
	e, ok := g.edges[id]
	return e, ok
}

// Edge returns the edge traversable from u to v. One-way edges only connect A→B.
func (g *Graph) Edge(u, v NodeID) (Edge, bool) {
	e, ok := g.edges[EdgeKey(u, v)]
	if !ok {
		return Edge{}, false
	}
	if !e.Bidirectional && e.A != u {
		return Edge{}, false
	}
	return e, true
}

// IncidentEdges returns every edge touching id, regardless of direction.
func (g *Graph) IncidentEdges(id NodeID) []Edge {
	ids := g.incident[id]
	out := make([]Edge, 0, len(ids))
	for _, eid := range ids {
		out = append(out, g.edges[eid])
	}
	return out
}

// NodesAtStation returns the nodes whose Station field equals name, sorted by id.
func (g *Graph) NodesAtStation(name string) []Node {
	var out []Node
	for _, n := range g.nodes {
		if n.Station == name {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Stations returns the distinct station names in the graph, sorted.
func (g *Graph) Stations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range g.nodes {
		if n.Station != "" && !seen[n.Station] {
			seen[n.Station] = true
			out = append(out, n.Station)
		}
	}
	sort.Strings(out)
	return out
}
