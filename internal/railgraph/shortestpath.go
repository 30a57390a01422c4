package railgraph

import (
	"container/heap"
	"fmt"
)

// Path is an ordered node sequence with the edges joining consecutive nodes.
// len(Nodes) == len(Edges)+1 for any non-empty path.
type Path struct {
	Nodes  []NodeID
	Edges  []Edge
	Length float64 // metres
}

// ShortestPath runs Dijkstra from start to end over traversable, unblocked edges.
func (g *Graph) ShortestPath(start, end NodeID) (Path, error) {
	if _, ok := g.nodes[start]; !ok {
		return Path{}, fmt.Errorf("%w %q", ErrUnknownNode, start)
	}
	if _, ok := g.nodes[end]; !ok {
		return Path{}, fmt.Errorf("%w %q", ErrUnknownNode, end)
	}
	if start == end {
		return Path{Nodes: []NodeID{start}}, nil
	}

	dist := map[NodeID]float64{start: 0}
	cameFrom := make(map[NodeID]NodeID)
	closed := make(map[NodeID]bool)

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{node: start, priority: 0})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		current := item.node
		if current == end {
			return g.buildPath(cameFrom, start, end, dist[end]), nil
		}
		if closed[current] {
			continue
		}
		closed[current] = true

		for _, eid := range g.incident[current] {
			e := g.edges[eid]
			if e.Blocked {
				continue
			}
			if !e.Bidirectional && e.A != current {
				continue
			}
			neighbor := e.Other(current)
			tentative := dist[current] + e.Length
			if old, ok := dist[neighbor]; !ok || tentative < old {
				dist[neighbor] = tentative
				cameFrom[neighbor] = current
				heap.Push(pq, &pqItem{node: neighbor, priority: tentative})
			}
		}
	}

	return Path{}, fmt.Errorf("%w from %q to %q", ErrNoPath, start, end)
}

func (g *Graph) buildPath(cameFrom map[NodeID]NodeID, start, end NodeID, length float64) Path {
	nodes := []NodeID{end}
	for cur := end; cur != start; {
		cur = cameFrom[cur]
		nodes = append(nodes, cur)
	}
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	edges := make([]Edge, 0, len(nodes)-1)
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, g.edges[EdgeKey(nodes[i-1], nodes[i])])
	}
	return Path{Nodes: nodes, Edges: edges, Length: length}
}

type pqItem struct {
	node     NodeID
	priority float64
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].priority < pq[j].priority }
func (pq priorityQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) {
	*pq = append(*pq, x.(*pqItem))
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}
