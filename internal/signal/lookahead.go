package signal

import (
	"math"

	"github.com/mini-rodalies-3d/dispatch/internal/aspect"
	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// ApproachFunc reports whether a node starts a reduced-speed approach zone and,
// if so, the target speed for it.
type ApproachFunc func(n railgraph.Node) (speed float64, ok bool)

// ApproachPolicy is the configurable approach predicate: stations and depots
// carry their own approach speeds. A non-positive speed disables that kind.
type ApproachPolicy struct {
	StationSpeed float64
	DepotSpeed   float64
}

// Approach implements ApproachFunc.
func (p ApproachPolicy) Approach(n railgraph.Node) (float64, bool) {
	switch n.Kind {
	case railgraph.KindStation:
		return p.StationSpeed, p.StationSpeed > 0
	case railgraph.KindDepot:
		return p.DepotSpeed, p.DepotSpeed > 0
	}
	return 0, false
}

// LookaheadInput describes the path ahead of a vehicle. Nodes[0] is the node the
// vehicle is at or last passed; len(Nodes) == len(Edges)+1.
type LookaheadInput struct {
	Decision occupancy.Decision
	Nodes    []railgraph.Node
	Edges    []railgraph.Edge
	Current  aspect.Aspect
	Approach ApproachFunc
	// Cruise is the speed the vehicle would run at without restrictions. Edge
	// limits at or above it are ignored; zero or less keeps every limited edge.
	Cruise float64
}

// Restriction is a lower line speed starting Distance metres ahead.
type Restriction struct {
	Distance float64
	Speed    float64
}

// Lookahead holds the distances (metres from Nodes[0]) to the nearest constraints.
// A nil distance means no such constraint on the path.
type Lookahead struct {
	DistanceToBlocker  *float64
	DistanceToCaution  *float64
	DistanceToApproach *float64
	ApproachSpeed      float64
	ApproachNode       railgraph.NodeID
	// Restrictions are the speed-restricted zones ahead, nearest first, each
	// slower than every one before it.
	Restrictions []Restriction
	Aspect       aspect.Aspect
}

// NearestRestriction returns the first speed-restricted zone ahead.
func (l Lookahead) NearestRestriction() (Restriction, bool) {
	if len(l.Restrictions) == 0 {
		return Restriction{}, false
	}
	return l.Restrictions[0], true
}

// MinStopConstraintDistance returns the nearest blocker or caution distance.
// Approach and restriction distances are excluded: a lower limit is not a full stop.
func (l Lookahead) MinStopConstraintDistance() (float64, bool) {
	d := math.Inf(1)
	if l.DistanceToBlocker != nil {
		d = math.Min(d, *l.DistanceToBlocker)
	}
	if l.DistanceToCaution != nil {
		d = math.Min(d, *l.DistanceToCaution)
	}
	return d, !math.IsInf(d, 1)
}

// Compute walks the path once, building cumulative distances and a resource-key
// index, then locates blockers, caution points, speed restrictions and the first
// approach node.
func Compute(in LookaheadInput) Lookahead {
	n := len(in.Nodes)
	cumulative := make([]float64, n)
	index := make(map[string]float64, 2*n)
	mark := func(key string, d float64) {
		if _, seen := index[key]; !seen {
			index[key] = d
		}
	}

	limit := math.Inf(1)
	if in.Cruise > 0 {
		limit = in.Cruise
	}

	var out Lookahead
	for i, node := range in.Nodes {
		if i > 0 && i-1 < len(in.Edges) {
			cumulative[i] = cumulative[i-1] + in.Edges[i-1].Length
		}
		d := cumulative[i]
		mark(occupancy.NodeResource(node.ID).Key(), d)
		for _, name := range node.Conflicts {
			mark(occupancy.ConflictResource(name).Key(), d)
		}
		if i < len(in.Edges) {
			e := in.Edges[i]
			mark(occupancy.EdgeResource(e.ID()).Key(), d)
			if e.Blocked {
				out.DistanceToBlocker = minPtr(out.DistanceToBlocker, d)
			}
			if e.SpeedLimit != nil && *e.SpeedLimit < limit {
				limit = *e.SpeedLimit
				out.Restrictions = append(out.Restrictions, Restriction{Distance: d, Speed: limit})
			}
		}
		if i > 0 && out.DistanceToApproach == nil && in.Approach != nil {
			if speed, ok := in.Approach(node); ok {
				out.DistanceToApproach = ptr(d)
				out.ApproachSpeed = speed
				out.ApproachNode = node.ID
			}
		}
	}

	mapped := false
	for _, c := range in.Decision.Blockers {
		d, ok := index[c.Key]
		if !ok {
			continue
		}
		mapped = true
		if in.Decision.Signal == aspect.Caution {
			out.DistanceToCaution = minPtr(out.DistanceToCaution, d)
		} else {
			out.DistanceToBlocker = minPtr(out.DistanceToBlocker, d)
		}
	}

	derived := aspect.Proceed
	switch {
	case out.DistanceToBlocker != nil || out.DistanceToCaution != nil:
		derived = aspect.Caution
	case !in.Decision.Allowed && !mapped && len(in.Decision.Blockers) > 0:
		derived = in.Decision.Signal
	case out.DistanceToApproach != nil:
		derived = aspect.ProceedWithCaution
	}
	out.Aspect = aspect.MostSevere(in.Current, derived)
	return out
}

func ptr(v float64) *float64 { return &v }

func minPtr(cur *float64, v float64) *float64 {
	if cur == nil || v < *cur {
		return ptr(v)
	}
	return cur
}
