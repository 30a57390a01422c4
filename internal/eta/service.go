package eta

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mini-rodalies-3d/dispatch/internal/aspect"
	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
	"github.com/mini-rodalies-3d/dispatch/internal/progress"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
	"github.com/mini-rodalies-3d/dispatch/internal/traveltime"
	"github.com/mini-rodalies-3d/dispatch/internal/ttlcache"
)

// Config tunes the estimator.
type Config struct {
	World          string
	LookaheadEdges int
	Headway        occupancy.HeadwayRule
	SwitchPenalty  time.Duration

	VehicleTTL time.Duration
	TicketTTL  time.Duration
	BoardTTL   time.Duration

	// DefaultHorizon applies to board queries that do not give one.
	DefaultHorizon time.Duration
}

// Deps are the collaborators the service reads from. Tickets, Layovers, Ledger
// and Paths are optional.
type Deps struct {
	Graphs   GraphSource
	Routes   RouteRegistry
	Vehicles VehicleSource
	Tickets  TicketSource
	Layovers LayoverRegistry
	Ledger   Ledger
	Paths    progress.Pather
	Model    traveltime.EdgeTimeModel
	Now      func() time.Time
}

// Service computes ETAs. It is safe for concurrent use and never mutates the ledger.
type Service struct {
	cfg  Config
	deps Deps

	vehicles *ttlcache.Cache[string, Result]
	tickets  *ttlcache.Cache[string, Result]
	boards   *ttlcache.Cache[string, BoardResult]
}

func NewService(cfg Config, deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.DefaultHorizon <= 0 {
		cfg.DefaultHorizon = 30 * time.Minute
	}
	return &Service{
		cfg:      cfg,
		deps:     deps,
		vehicles: ttlcache.New[string, Result](cfg.VehicleTTL, deps.Now),
		tickets:  ttlcache.New[string, Result](cfg.TicketTTL, deps.Now),
		boards:   ttlcache.New[string, BoardResult](cfg.BoardTTL, deps.Now),
	}
}

// ForVehicle returns the ETA of an in-service vehicle at target (next stop when nil).
func (s *Service) ForVehicle(vehicleID string, target progress.Target) Result {
	if target == nil {
		target = progress.NextStop{}
	}
	key := vehicleID + "|" + target.String()
	return s.vehicles.GetOrCompute(key, func() Result {
		now := s.deps.Now()
		v, ok := s.deps.Vehicles.Vehicle(vehicleID)
		if !ok {
			return Unavailable(ReasonNoVehicle)
		}
		r, _ := s.vehicleETA(v, target, now)
		return r
	})
}

// ForTicket returns the ETA at target of a service that has not departed yet.
func (s *Service) ForTicket(ticketID string, target progress.Target) Result {
	if target == nil {
		target = progress.NextStop{}
	}
	key := ticketID + "|" + target.String()
	return s.tickets.GetOrCompute(key, func() Result {
		if s.deps.Tickets == nil {
			return Unavailable(ReasonNoTicket)
		}
		t, ok := s.deps.Tickets.Ticket(ticketID)
		if !ok {
			return Unavailable(ReasonNoTicket)
		}
		r, _ := s.ticketETA(t, target, s.deps.Now())
		return r
	})
}

// plan is the shared part of a vehicle or ticket estimate.
type plan struct {
	route    progress.Route
	graph    *railgraph.Graph
	progress progress.PathProgress
}

func (s *Service) resolve(routeID string, q progress.Query) (plan, Reason, bool) {
	route, ok := s.deps.Routes.Route(routeID)
	if !ok {
		return plan{}, ReasonNoRoute, false
	}
	g, ok := s.deps.Graphs.Graph(s.cfg.World)
	if !ok || g == nil {
		return plan{}, ReasonNoGraph, false
	}
	q.Route = route
	var paths progress.Pather = g
	if s.deps.Paths != nil {
		paths = s.deps.Paths
	}
	p, err := progress.Remaining(g, paths, q)
	switch {
	case errors.Is(err, progress.ErrNoPath):
		return plan{}, ReasonNoPath, false
	case err != nil:
		return plan{}, ReasonNoTarget, false
	}
	return plan{route: route, graph: g, progress: p}, "", true
}

func (s *Service) travel(edges []railgraph.Edge, v0 float64) (float64, bool) {
	if s.deps.Model == nil {
		return 0, false
	}
	sec, err := traveltime.Estimate(s.deps.Model, edges, v0)
	if err != nil {
		return 0, false
	}
	return sec, true
}

// contention previews the ledger over the first LookaheadEdges of the path.
func (s *Service) contention(holder string, pl plan, now time.Time) (occupancy.Decision, float64) {
	w := pl.progress.Window(s.cfg.LookaheadEdges)
	path := progress.PathResources(pl.graph, w.Nodes, w.Edges)
	d := s.preview(holder, path, now)
	if d.Allowed || len(d.Blockers) == 0 {
		return d, 0
	}
	res := claimResource(d.Blockers[0])
	var headway time.Duration
	if s.cfg.Headway != nil {
		headway = s.cfg.Headway.HeadwayFor(res)
	}
	wait := Wait(WaitInput{
		Decision:      d,
		QueuePosition: s.queuePosition(res, holder),
		Headway:       headway,
		SwitchPenalty: s.cfg.SwitchPenalty,
		Now:           now,
	})
	return d, wait
}

// preview runs a side-effect-free decision. A fault inside the ledger is logged
// and treated as fully permissive so estimates never stall anything.
func (s *Service) preview(holder string, path []occupancy.Resource, now time.Time) (d occupancy.Decision) {
	if s.deps.Ledger == nil || len(path) == 0 {
		return occupancy.Permissive(now)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ETA: preview fault for %s: %v", holder, r)
			d = occupancy.Permissive(now)
		}
	}()
	return s.deps.Ledger.Decide(holder, path, now)
}

// queuePosition is the number of waiters ahead of holder, or the whole queue
// when holder is not queued yet.
func (s *Service) queuePosition(r occupancy.Resource, holder string) int {
	q := s.deps.Ledger.Queue(r)
	for i, e := range q {
		if e.Holder == holder {
			return i
		}
	}
	return len(q)
}

func claimResource(c occupancy.Claim) occupancy.Resource {
	if c.Resource.ID != "" {
		return c.Resource
	}
	r, err := occupancy.ParseKey(c.Key)
	if err != nil {
		return occupancy.Resource{Kind: occupancy.KindConflict, ID: c.Key}
	}
	return r
}

func (s *Service) vehicleETA(v VehicleSnapshot, target progress.Target, now time.Time) (Result, plan) {
	pl, reason, ok := s.resolve(v.RouteID, progress.Query{
		CurrentIndex: v.WaypointIndex,
		Target:       target,
		LastPassed:   v.LastPassed,
	})
	if !ok {
		return Unavailable(reason), plan{}
	}
	travel, ok := s.travel(pl.progress.Edges, v.Speed)
	if !ok {
		return Unavailable(ReasonNoSpeed), plan{}
	}

	var reasons []Reason
	dwell, dwelling := Dwell(v.DwellRemaining)
	if dwelling && dwell > 0 {
		reasons = append(reasons, ReasonDwell)
	}

	d, wait := s.contention(v.ID, pl, now)
	if !d.Allowed {
		reasons = append(reasons, Clearance(d.Blockers)...)
	}

	hardStopped := (!d.Allowed && d.Signal == aspect.Stop) || (v.Aspect == aspect.Stop && v.Speed <= 0 && !dwelling)
	arriving, conf := Arriving(pl.progress.RemainingEdgeCount(), hardStopped)

	current := v.Aspect
	if !d.Allowed {
		current = aspect.MostSevere(current, d.Signal)
	}

	eta := now.Add(seconds(travel + dwell + wait))
	minutes := minutesUntil(eta, now)
	return Result{
		Arriving:       arriving,
		Status:         statusText(arriving, minutes, hardStopped),
		EtaEpochMillis: eta.UnixMilli(),
		Minutes:        minutes,
		TravelSec:      travel,
		DwellSec:       dwell,
		WaitSec:        wait,
		Reasons:        nonNil(reasons),
		Confidence:     conf,
		Aspect:         current,
		RouteID:        pl.route.ID,
		Target:         pl.progress.Target(),
		RemainingEdges: pl.progress.RemainingEdgeCount(),
	}, pl
}

// departAt is the earliest time a ticket can leave: not before now, its due time,
// its not-before time, or the earliest layover vehicle at its origin.
func (s *Service) departAt(t Ticket, now time.Time) (time.Time, bool) {
	at := now
	for _, c := range []time.Time{t.DueAt, t.NotBefore} {
		if c.After(at) {
			at = c
		}
	}
	if s.deps.Layovers == nil || t.Origin == "" {
		return at, false
	}
	var ready time.Time
	for _, c := range s.deps.Layovers.Candidates(t.Origin) {
		if ready.IsZero() || c.ReadyAt.Before(ready) {
			ready = c.ReadyAt
		}
	}
	if ready.After(at) {
		return ready, true
	}
	return at, false
}

func (s *Service) ticketETA(t Ticket, target progress.Target, now time.Time) (Result, plan) {
	pl, reason, ok := s.resolve(t.RouteID, progress.Query{Target: target})
	if !ok {
		return Unavailable(reason), plan{}
	}
	travel, ok := s.travel(pl.progress.Edges, 0)
	if !ok {
		return Unavailable(ReasonNoSpeed), plan{}
	}

	depart, layover := s.departAt(t, now)
	var reasons []Reason
	if layover {
		reasons = append(reasons, ReasonLayover)
	}

	// Contention only matters for a service that is due to leave now.
	var wait float64
	current := aspect.Proceed
	if !depart.After(now) {
		var d occupancy.Decision
		d, wait = s.contention(fmt.Sprintf("ticket:%s", t.ID), pl, now)
		if !d.Allowed {
			reasons = append(reasons, Clearance(d.Blockers)...)
			current = d.Signal
		}
	}

	conf := ConfidenceMedium
	if t.Forecast {
		conf = ConfidenceLow
	}
	eta := depart.Add(seconds(travel + wait))
	minutes := minutesUntil(eta, now)
	return Result{
		Status:         statusText(false, minutes, false),
		EtaEpochMillis: eta.UnixMilli(),
		Minutes:        minutes,
		TravelSec:      travel,
		WaitSec:        wait + depart.Sub(now).Seconds(),
		Reasons:        nonNil(reasons),
		Confidence:     conf,
		Aspect:         current,
		RouteID:        pl.route.ID,
		Target:         pl.progress.Target(),
		RemainingEdges: pl.progress.RemainingEdgeCount(),
	}, pl
}

// Invalidate drops every cached result.
func (s *Service) Invalidate() {
	s.vehicles.Clear()
	s.tickets.Clear()
	s.boards.Clear()
}

// Prune drops expired cache entries.
func (s *Service) Prune() int {
	return s.vehicles.Prune() + s.tickets.Prune() + s.boards.Prune()
}

func seconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func nonNil(rs []Reason) []Reason {
	if rs == nil {
		return []Reason{}
	}
	return rs
}
