package railgraph

import (
	"errors"
	"testing"
)

func speed(v float64) *float64 { return &v }

func lineGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph(GraphData{
		World: "overworld",
		Nodes: []Node{
			{ID: "A", Kind: KindStation, Station: "Alpha"},
			{ID: "B", Kind: KindSwitch, Conflicts: []string{"switcher:B"}},
			{ID: "C", Kind: KindStation, Station: "Gamma"},
			{ID: "D", Kind: KindMain},
		},
		Edges: []Edge{
			{A: "A", B: "B", Length: 5, SpeedLimit: speed(10), Bidirectional: true},
			{A: "B", B: "C", Length: 7, Bidirectional: true},
			{A: "A", B: "D", Length: 1, Bidirectional: true},
			{A: "D", B: "C", Length: 1, Blocked: true, Bidirectional: true},
		},
	})
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	return g
}

func TestEdgeKeyIsOrderIndependent(t *testing.T) {
	if EdgeKey("A", "B") != EdgeKey("B", "A") {
		t.Errorf("EdgeKey(A,B)=%q differs from EdgeKey(B,A)=%q", EdgeKey("A", "B"), EdgeKey("B", "A"))
	}
	e := Edge{A: "Z", B: "Y"}
	if e.ID() != EdgeKey("Y", "Z") {
		t.Errorf("edge id %q, want %q", e.ID(), EdgeKey("Y", "Z"))
	}
}

func TestNewGraphRejectsBadReferences(t *testing.T) {
	tests := []struct {
		name string
		data GraphData
	}{
		{"duplicate node", GraphData{Nodes: []Node{{ID: "A"}, {ID: "A"}}}},
		{"missing endpoint", GraphData{Nodes: []Node{{ID: "A"}}, Edges: []Edge{{A: "A", B: "B", Length: 1}}}},
		{"self loop", GraphData{Nodes: []Node{{ID: "A"}}, Edges: []Edge{{A: "A", B: "A", Length: 1}}}},
		{"duplicate edge", GraphData{
			Nodes: []Node{{ID: "A"}, {ID: "B"}},
			Edges: []Edge{{A: "A", B: "B", Length: 1}, {A: "B", B: "A", Length: 2}},
		}},
		{"empty node id", GraphData{Nodes: []Node{{ID: ""}}}},
		// ("a~b","c") and ("a","b~c") would share one edge key.
		{"separator in node id", GraphData{
			Nodes: []Node{{ID: "a"}, {ID: "a~b"}, {ID: "b~c"}, {ID: "c"}},
			Edges: []Edge{{A: "a~b", B: "c", Length: 1}, {A: "a", B: "b~c", Length: 1}},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewGraph(tc.data); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

func TestShortestPathSkipsBlockedEdges(t *testing.T) {
	g := lineGraph(t)

	path, err := g.ShortestPath("A", "C")
	if err != nil {
		t.Fatalf("ShortestPath failed: %v", err)
	}
	want := []NodeID{"A", "B", "C"}
	if len(path.Nodes) != len(want) {
		t.Fatalf("got nodes %v, want %v", path.Nodes, want)
	}
	for i := range want {
		if path.Nodes[i] != want[i] {
			t.Fatalf("got nodes %v, want %v", path.Nodes, want)
		}
	}
	if len(path.Edges) != len(path.Nodes)-1 {
		t.Errorf("got %d edges for %d nodes", len(path.Edges), len(path.Nodes))
	}
	if path.Length != 12 {
		t.Errorf("length = %.1f, want 12", path.Length)
	}
}

func TestShortestPathHonoursOneWayEdges(t *testing.T) {
	g, err := NewGraph(GraphData{
		Nodes: []Node{{ID: "A"}, {ID: "B"}},
		Edges: []Edge{{A: "A", B: "B", Length: 3}},
	})
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	if _, err := g.ShortestPath("A", "B"); err != nil {
		t.Errorf("A->B should be traversable: %v", err)
	}
	if _, err := g.ShortestPath("B", "A"); !errors.Is(err, ErrNoPath) {
		t.Errorf("B->A error = %v, want ErrNoPath", err)
	}
	if _, ok := g.Edge("B", "A"); ok {
		t.Error("Edge(B,A) should not be traversable on a one-way edge")
	}
}

func TestShortestPathUnknownNode(t *testing.T) {
	g := lineGraph(t)
	if _, err := g.ShortestPath("A", "nope"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("error = %v, want ErrUnknownNode", err)
	}
}

func TestNodesAtStation(t *testing.T) {
	g := lineGraph(t)
	nodes := g.NodesAtStation("Gamma")
	if len(nodes) != 1 || nodes[0].ID != "C" {
		t.Errorf("NodesAtStation(Gamma) = %v, want [C]", nodes)
	}
	if len(g.IncidentEdges("A")) != 2 {
		t.Errorf("IncidentEdges(A) = %d, want 2", len(g.IncidentEdges("A")))
	}
	if got := g.Stations(); len(got) != 2 || got[0] != "Alpha" || got[1] != "Gamma" {
		t.Errorf("Stations() = %v, want [Alpha Gamma]", got)
	}
}
