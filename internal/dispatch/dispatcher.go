// Package dispatch runs the scheduling tick: it claims track ahead of every vehicle,
// converts the result into an aspect and an authorised speed, and hands the
// commands to an actuator.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/mini-rodalies-3d/dispatch/internal/aspect"
	"github.com/mini-rodalies-3d/dispatch/internal/eta"
	"github.com/mini-rodalies-3d/dispatch/internal/metrics"
	"github.com/mini-rodalies-3d/dispatch/internal/motion"
	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
	"github.com/mini-rodalies-3d/dispatch/internal/progress"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
	"github.com/mini-rodalies-3d/dispatch/internal/signal"
)

var ErrNoGraph = errors.New("no graph snapshot")

// Command is the per-vehicle output of a tick.
type Command struct {
	VehicleID   string        `json:"vehicleId"`
	TargetSpeed float64       `json:"targetSpeed"`
	NextSpeed   float64       `json:"nextSpeed"`
	Aspect      aspect.Aspect `json:"aspect"`
	// Hold keeps a stationary vehicle from launching.
	Hold       bool      `json:"hold"`
	Restricted bool      `json:"restricted"`
	Reason     string    `json:"reason,omitempty"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// Actuator applies commands to vehicles.
type Actuator interface {
	Apply(ctx context.Context, cmds []Command) error
}

// Predictor supplies the ETA used for accuracy tracking. *eta.Service satisfies it.
type Predictor interface {
	ForVehicle(vehicleID string, target progress.Target) eta.Result
}

type Config struct {
	World          string
	LookaheadEdges int
	StopMargin     float64
	CautionMargin  float64
	NominalSpeed   float64
	Model          motion.MotionModel
	Approach       signal.ApproachFunc
	TickInterval   time.Duration
	SweepInterval  time.Duration
}

// Deps are the collaborators of the dispatcher. Paths, Predictor and Accuracy are optional.
type Deps struct {
	Graphs    eta.GraphSource
	Routes    eta.RouteRegistry
	Vehicles  eta.VehicleSource
	Ledger    *occupancy.Engine
	Paths     progress.Pather
	Actuator  Actuator
	Predictor Predictor
	Accuracy  *metrics.AccuracyLearner
}

// TickStats summarises one tick.
type TickStats struct {
	Vehicles int
	Granted  int
	Denied   int
	Held     int
	Expired  int
	Orphaned int
	Arrivals int
}

type outcome int

const (
	outcomeHeld outcome = iota
	outcomeGranted
	outcomeDenied
)

// leg remembers the first ETA predicted for a vehicle heading to a stop.
type leg struct {
	routeID   string
	target    railgraph.NodeID
	predicted time.Time
}

// Dispatcher is driven by a single goroutine; Tick must not be called concurrently.
type Dispatcher struct {
	cfg  Config
	deps Deps

	lastSweep time.Time
	legs      map[string]leg
}

func New(cfg Config, deps Deps) *Dispatcher {
	return &Dispatcher{cfg: cfg, deps: deps, legs: make(map[string]leg)}
}

// Tick runs one scheduling pass at now.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (TickStats, error) {
	var stats TickStats

	g, ok := d.deps.Graphs.Graph(d.cfg.World)
	if !ok || g == nil {
		return stats, fmt.Errorf("%w for world %q", ErrNoGraph, d.cfg.World)
	}

	vehicles := append([]eta.VehicleSnapshot(nil), d.deps.Vehicles.Vehicles()...)
	sort.Slice(vehicles, func(i, j int) bool { return vehicles[i].ID < vehicles[j].ID })
	stats.Vehicles = len(vehicles)

	cmds := make([]Command, 0, len(vehicles))
	for _, v := range vehicles {
		cmd, res := d.step(g, v, now)
		switch res {
		case outcomeGranted:
			stats.Granted++
		case outcomeDenied:
			stats.Denied++
		}
		if cmd.Hold {
			stats.Held++
		}
		cmds = append(cmds, cmd)

		if d.observeArrival(ctx, v, now) {
			stats.Arrivals++
		}
	}

	// Sweep stale claims
	if d.cfg.SweepInterval > 0 && now.Sub(d.lastSweep) >= d.cfg.SweepInterval {
		stats.Expired, stats.Orphaned = d.sweep(vehicles, now)
		d.lastSweep = now
	}

	if d.deps.Actuator != nil && len(cmds) > 0 {
		if err := d.deps.Actuator.Apply(ctx, cmds); err != nil {
			return stats, fmt.Errorf("failed to apply commands: %w", err)
		}
	}
	return stats, nil
}

func (d *Dispatcher) sweep(vehicles []eta.VehicleSnapshot, now time.Time) (int, int) {
	live := make(map[string]bool, len(vehicles))
	for _, v := range vehicles {
		live[v.ID] = true
	}
	expired := d.deps.Ledger.SweepExpired(now)
	orphans := d.deps.Ledger.SweepOrphans(func(id occupancy.VehicleID) bool { return live[id] }, now)
	for id := range d.legs {
		if !live[id] {
			delete(d.legs, id)
		}
	}
	if len(expired) > 0 || len(orphans) > 0 {
		log.Printf("Dispatch: swept %d expired claims, released %d orphaned vehicles", len(expired), len(orphans))
	}
	return len(expired), len(orphans)
}

// hold keeps a vehicle where it is, holding only the node it stands on.
func (d *Dispatcher) hold(v eta.VehicleSnapshot, now time.Time, a aspect.Aspect, reason string) Command {
	if v.CurrentNode != "" {
		here := []occupancy.Resource{occupancy.NodeResource(v.CurrentNode)}
		if dec := d.deps.Ledger.Acquire(v.ID, here, now); !dec.Allowed && len(dec.Blockers) > 0 {
			log.Printf("Dispatch: %s stands on %s held by %s", v.ID, v.CurrentNode, dec.Blockers[0].Holder)
		}
		d.deps.Ledger.Retain(v.ID, here, now)
	}
	return Command{
		VehicleID: v.ID,
		Aspect:    a,
		Hold:      true,
		Reason:    reason,
		IssuedAt:  now,
	}
}

func (d *Dispatcher) step(g *railgraph.Graph, v eta.VehicleSnapshot, now time.Time) (Command, outcome) {
	if v.DwellRemaining != nil && *v.DwellRemaining > 0 {
		return d.hold(v, now, v.Aspect, "dwell"), outcomeHeld
	}
	route, ok := d.deps.Routes.Route(v.RouteID)
	if !ok {
		return d.hold(v, now, aspect.Stop, "no route"), outcomeHeld
	}

	var paths progress.Pather = g
	if d.deps.Paths != nil {
		paths = d.deps.Paths
	}
	p, err := progress.Remaining(g, paths, progress.Query{
		Route:        route,
		CurrentIndex: v.WaypointIndex,
		Target:       progress.NextStop{},
		LastPassed:   v.LastPassed,
	})
	if err != nil {
		return d.hold(v, now, aspect.Stop, "end of route"), outcomeHeld
	}

	// Claim the window ahead, starting with the node under the vehicle. A denied
	// request still keeps the resources in front of the blocker.
	window := p.Window(d.cfg.LookaheadEdges)
	resources := withCurrentNode(v.CurrentNode, progress.PathResources(g, window.Nodes, window.Edges))
	decision := d.deps.Ledger.Acquire(v.ID, resources, now)
	kept := heldPrefix(resources, decision)
	if !decision.Allowed && len(kept) == 0 && len(decision.Blockers) > 0 {
		log.Printf("Dispatch: %s stands on %s held by %s", v.ID, decision.Blockers[0].Key, decision.Blockers[0].Holder)
	}
	d.deps.Ledger.Retain(v.ID, kept, now)

	la := signal.Compute(signal.LookaheadInput{
		Decision: decision,
		Nodes:    progress.ExpandNodes(g, window.Nodes),
		Edges:    window.Edges,
		Current:  aspect.Proceed,
		Approach: d.cfg.Approach,
		Cruise:   d.cfg.NominalSpeed,
	})
	stopAt, hasStop := la.MinStopConstraintDistance()
	if !hasStop {
		stopAt = math.Inf(1)
	}
	auth := signal.Evaluate(signal.AuthorityInput{
		Requested:     la.Aspect,
		Speed:         v.Speed,
		Decel:         d.cfg.Model.Decel(),
		Distance:      stopAt,
		StopMargin:    d.cfg.StopMargin,
		CautionMargin: d.cfg.CautionMargin,
	})

	constraints := []motion.Constraint{{Distance: p.Length, TargetSpeed: 0}}
	if hasStop {
		constraints = append(constraints, motion.Constraint{Distance: auth.AuthorityDistance, TargetSpeed: 0})
	}
	if la.DistanceToApproach != nil {
		constraints = append(constraints, motion.Constraint{Distance: *la.DistanceToApproach, TargetSpeed: la.ApproachSpeed})
	}
	for _, r := range la.Restrictions {
		constraints = append(constraints, motion.Constraint{Distance: r.Distance, TargetSpeed: r.Speed})
	}

	nominal := math.Min(d.nominalSpeed(window), auth.RecommendedMaxSpeed)
	if auth.Aspect == aspect.Stop {
		nominal = 0
	}
	plan := motion.Plan(motion.PlanInput{
		Speed:       v.Speed,
		Nominal:     nominal,
		Model:       d.cfg.Model,
		Dt:          d.cfg.TickInterval.Seconds(),
		Constraints: constraints,
	})

	cmd := Command{
		VehicleID:   v.ID,
		TargetSpeed: plan.Recommended,
		NextSpeed:   plan.Next,
		Aspect:      auth.Aspect,
		Hold:        v.Speed <= 0 && plan.Recommended <= 0,
		Restricted:  auth.Restricted || plan.Limited,
		IssuedAt:    now,
	}
	if decision.Allowed {
		return cmd, outcomeGranted
	}
	if len(decision.Blockers) > 0 {
		cmd.Reason = "blocked by " + decision.Blockers[0].Holder + " at " + decision.Blockers[0].Key
	}
	return cmd, outcomeDenied
}

// nominalSpeed is the configured cruising speed capped by the first edge's limit.
func (d *Dispatcher) nominalSpeed(w progress.PathProgress) float64 {
	v := d.cfg.NominalSpeed
	if len(w.Edges) > 0 && w.Edges[0].SpeedLimit != nil && *w.Edges[0].SpeedLimit < v {
		v = *w.Edges[0].SpeedLimit
	}
	return v
}

// withCurrentNode puts the node under the vehicle at the head of resources when
// the route window does not already include it.
func withCurrentNode(current railgraph.NodeID, resources []occupancy.Resource) []occupancy.Resource {
	if current == "" {
		return resources
	}
	here := occupancy.NodeResource(current)
	for _, r := range resources {
		if r == here {
			return resources
		}
	}
	return append([]occupancy.Resource{here}, resources...)
}

// heldPrefix is what a vehicle keeps after a request: everything on success,
// otherwise the resources in front of the first blocker, which Acquire renewed.
func heldPrefix(resources []occupancy.Resource, decision occupancy.Decision) []occupancy.Resource {
	if decision.Allowed || len(decision.Blockers) == 0 {
		return resources
	}
	blocked := decision.Blockers[0].Key
	for i, r := range resources {
		if r.Key() == blocked {
			return resources[:i]
		}
	}
	return resources
}

// observeArrival tracks the first ETA of each leg and, once the vehicle reaches
// that stop, feeds the error into the accuracy learner.
func (d *Dispatcher) observeArrival(ctx context.Context, v eta.VehicleSnapshot, now time.Time) bool {
	if d.deps.Predictor == nil {
		return false
	}
	arrived := false
	if l, ok := d.legs[v.ID]; ok {
		if l.routeID != v.RouteID {
			delete(d.legs, v.ID)
		} else if v.CurrentNode == l.target {
			delete(d.legs, v.ID)
			arrived = true
			if d.deps.Accuracy != nil {
				if _, err := d.deps.Accuracy.Observe(ctx, l.routeID, l.predicted, now); err != nil {
					log.Printf("Dispatch: failed to record ETA accuracy for %s: %v", v.ID, err)
				}
			}
		}
	}
	if _, ok := d.legs[v.ID]; !ok {
		r := d.deps.Predictor.ForVehicle(v.ID, progress.NextStop{})
		if r.Available() && r.Target != "" && r.Target != v.CurrentNode {
			d.legs[v.ID] = leg{routeID: v.RouteID, target: r.Target, predicted: r.At()}
		}
	}
	return arrived
}
