package db

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/mini-rodalies-3d/dispatch/internal/eta"
	"github.com/mini-rodalies-3d/dispatch/internal/progress"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// NetworkLoader supplies the static network. Both the SQLite store and the
// Postgres repository implement it.
type NetworkLoader interface {
	LoadGraph(ctx context.Context, world string) (*railgraph.Graph, error)
	LoadRoutes(ctx context.Context) ([]progress.Route, error)
}

type codes struct {
	operator, line, service string
}

type network struct {
	graphs  map[string]*railgraph.Graph
	routes  map[string]progress.Route
	byCodes map[codes]string
	loaded  time.Time
}

type realtime struct {
	vehicles map[string]eta.VehicleSnapshot
	order    []eta.VehicleSnapshot
	tickets  map[string]eta.Ticket
	pending  []eta.Ticket
	layovers map[string][]eta.LayoverCandidate
}

// Snapshots serves immutable in-memory views of the network and the runtime
// tables. Readers never block on a refresh; each refresh swaps a whole view.
type Snapshots struct {
	network NetworkLoader
	store   *DB
	worlds  []string

	net atomic.Pointer[network]
	rt  atomic.Pointer[realtime]
}

// NewSnapshots creates empty snapshots. loader may be the store itself.
func NewSnapshots(loader NetworkLoader, store *DB, worlds ...string) *Snapshots {
	s := &Snapshots{network: loader, store: store, worlds: worlds}
	s.net.Store(&network{graphs: map[string]*railgraph.Graph{}, routes: map[string]progress.Route{}, byCodes: map[codes]string{}})
	s.rt.Store(&realtime{vehicles: map[string]eta.VehicleSnapshot{}, tickets: map[string]eta.Ticket{}, layovers: map[string][]eta.LayoverCandidate{}})
	return s
}

// RefreshNetwork reloads graphs and routes. A world that fails to load keeps
// its previous graph.
func (s *Snapshots) RefreshNetwork(ctx context.Context) error {
	prev := s.net.Load()
	next := &network{
		graphs:  make(map[string]*railgraph.Graph, len(s.worlds)),
		routes:  map[string]progress.Route{},
		byCodes: map[codes]string{},
		loaded:  time.Now(),
	}

	for _, world := range s.worlds {
		g, err := s.network.LoadGraph(ctx, world)
		if err != nil {
			log.Printf("DB: failed to load graph for world %s: %v", world, err)
			if old, ok := prev.graphs[world]; ok {
				next.graphs[world] = old
			}
			continue
		}
		next.graphs[world] = g
	}

	routes, err := s.network.LoadRoutes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			log.Printf("DB: skipping route %s: %v", r.ID, err)
			continue
		}
		next.routes[r.ID] = r
		if r.Meta.Operator != "" || r.Meta.Line != "" || r.Meta.Service != "" {
			next.byCodes[codes{r.Meta.Operator, r.Meta.Line, r.Meta.Service}] = r.ID
		}
	}

	s.net.Store(next)
	log.Printf("DB: network snapshot has %d graphs, %d routes", len(next.graphs), len(next.routes))
	return nil
}

// RefreshRealtime reloads vehicles, pending tickets and layovers from the store.
func (s *Snapshots) RefreshRealtime(ctx context.Context) error {
	vehicles, err := s.store.ListVehicles(ctx)
	if err != nil {
		return err
	}
	tickets, err := s.store.ListPendingTickets(ctx)
	if err != nil {
		return err
	}
	layovers, err := s.store.ListLayovers(ctx)
	if err != nil {
		return err
	}

	next := &realtime{
		vehicles: make(map[string]eta.VehicleSnapshot, len(vehicles)),
		order:    vehicles,
		tickets:  make(map[string]eta.Ticket, len(tickets)),
		pending:  tickets,
		layovers: map[string][]eta.LayoverCandidate{},
	}
	for _, v := range vehicles {
		next.vehicles[v.ID] = v
	}
	for _, t := range tickets {
		next.tickets[t.ID] = t
	}
	for _, c := range layovers {
		next.layovers[c.Origin] = append(next.layovers[c.Origin], c)
	}
	s.rt.Store(next)
	return nil
}

// Refresh reloads the network and the runtime tables.
func (s *Snapshots) Refresh(ctx context.Context) error {
	if err := s.RefreshNetwork(ctx); err != nil {
		return err
	}
	return s.RefreshRealtime(ctx)
}

// NetworkLoadedAt reports when the network snapshot was last replaced.
func (s *Snapshots) NetworkLoadedAt() time.Time {
	return s.net.Load().loaded
}

func (s *Snapshots) Graph(world string) (*railgraph.Graph, bool) {
	g, ok := s.net.Load().graphs[world]
	return g, ok && g != nil
}

func (s *Snapshots) Route(id string) (progress.Route, bool) {
	r, ok := s.net.Load().routes[id]
	return r, ok
}

func (s *Snapshots) RouteByCodes(operator, line, service string) (progress.Route, bool) {
	n := s.net.Load()
	id, ok := n.byCodes[codes{operator, line, service}]
	if !ok {
		return progress.Route{}, false
	}
	r, ok := n.routes[id]
	return r, ok
}

func (s *Snapshots) Vehicle(id string) (eta.VehicleSnapshot, bool) {
	v, ok := s.rt.Load().vehicles[id]
	return v, ok
}

// Vehicles returns the snapshot ordered by vehicle id. Callers must not modify it.
func (s *Snapshots) Vehicles() []eta.VehicleSnapshot {
	return s.rt.Load().order
}

func (s *Snapshots) Ticket(id string) (eta.Ticket, bool) {
	t, ok := s.rt.Load().tickets[id]
	return t, ok
}

// PendingTickets returns pending tickets ordered by due time. Callers must not modify it.
func (s *Snapshots) PendingTickets() []eta.Ticket {
	return s.rt.Load().pending
}

func (s *Snapshots) Candidates(origin string) []eta.LayoverCandidate {
	return s.rt.Load().layovers[origin]
}

// Stations lists the station names of every loaded world.
func (s *Snapshots) Stations() []string {
	n := s.net.Load()
	seen := make(map[string]bool)
	var out []string
	for _, world := range s.worlds {
		g, ok := n.graphs[world]
		if !ok {
			continue
		}
		for _, name := range g.Stations() {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// WorldSearcher runs shortest path queries against the current graph of one world.
type WorldSearcher struct {
	snapshots *Snapshots
	world     string
}

// Searcher returns a path searcher that always uses the latest graph of world.
func (s *Snapshots) Searcher(world string) WorldSearcher {
	return WorldSearcher{snapshots: s, world: world}
}

func (w WorldSearcher) ShortestPath(from, to railgraph.NodeID) (railgraph.Path, error) {
	g, ok := w.snapshots.Graph(w.world)
	if !ok {
		return railgraph.Path{}, fmt.Errorf("%w: world %s not loaded", railgraph.ErrNoPath, w.world)
	}
	return g.ShortestPath(from, to)
}
