// Package traveltime estimates run times over a sequence of edges from a
// pluggable per-edge time model.
package traveltime

import (
	"errors"
	"fmt"
	"math"

	"github.com/mini-rodalies-3d/dispatch/internal/motion"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

var ErrNoSpeed = errors.New("no resolvable speed")

// EdgeTimeModel turns one edge into seconds. v0 and vEnd are the speeds on entry
// and exit; models that ignore acceleration may ignore them.
type EdgeTimeModel interface {
	// LineSpeed is the cruising speed the model allows on e.
	LineSpeed(e railgraph.Edge) (float64, bool)
	Seconds(e railgraph.Edge, v0, vEnd float64) (float64, bool)
}

// lineSpeed applies an edge's own limit on top of the model default.
func lineSpeed(e railgraph.Edge, def float64) (float64, bool) {
	v := def
	if e.SpeedLimit != nil && *e.SpeedLimit > 0 && (v <= 0 || *e.SpeedLimit < v) {
		v = *e.SpeedLimit
	}
	return v, v > 0
}

// Constant runs every edge at the lower of Speed and the edge limit.
type Constant struct {
	Speed float64
}

func (c Constant) LineSpeed(e railgraph.Edge) (float64, bool) { return lineSpeed(e, c.Speed) }

func (c Constant) Seconds(e railgraph.Edge, _, _ float64) (float64, bool) {
	v, ok := c.LineSpeed(e)
	if !ok {
		return 0, false
	}
	return e.Length / v, true
}

// Kinematic runs a trapezoidal accelerate, cruise, brake profile over each edge.
type Kinematic struct {
	Model motion.MotionModel
}

func (k Kinematic) LineSpeed(e railgraph.Edge) (float64, bool) { return lineSpeed(e, k.Model.VMax()) }

func (k Kinematic) Seconds(e railgraph.Edge, v0, vEnd float64) (float64, bool) {
	vLine, ok := k.LineSpeed(e)
	if !ok {
		return 0, false
	}
	d := math.Max(0, e.Length)
	if d == 0 {
		return 0, true
	}
	a, b := k.Model.Accel(), k.Model.Decel()
	if a <= 0 || b <= 0 {
		return d / vLine, true
	}
	v0 = math.Min(math.Max(0, v0), vLine)
	vEnd = math.Min(math.Max(0, vEnd), vLine)

	peak := math.Min(motion.MaxReachableSpeed(v0, vEnd, d, a, b), vLine)
	if peak < v0 {
		// Too short to slow to vEnd: brake over the whole edge.
		out := math.Sqrt(math.Max(0, v0*v0-2*b*d))
		return 2 * d / (v0 + out), true
	}
	if peak <= 0 {
		return 0, false
	}
	dAcc := motion.DistanceForSpeedChange(v0, peak, a)
	dDec := 0.0
	if vEnd < peak {
		dDec = motion.DistanceForSpeedChange(peak, vEnd, b)
	}
	cruise := math.Max(0, d-dAcc-dDec)
	return (peak-v0)/a + cruise/peak + math.Max(0, peak-vEnd)/b, true
}

// Estimate sums edge times along edges starting at speed v0 and stopping at the end.
// Boundary speeds between edges are the lower line speed of the two neighbours.
func Estimate(model EdgeTimeModel, edges []railgraph.Edge, v0 float64) (float64, error) {
	lines := make([]float64, len(edges))
	for i, e := range edges {
		v, ok := model.LineSpeed(e)
		if !ok {
			return 0, fmt.Errorf("%w on edge %s", ErrNoSpeed, e.ID())
		}
		lines[i] = v
	}

	total := 0.0
	entry := v0
	for i, e := range edges {
		exit := 0.0
		if i+1 < len(edges) {
			exit = math.Min(lines[i], lines[i+1])
		}
		s, ok := model.Seconds(e, entry, exit)
		if !ok {
			return 0, fmt.Errorf("%w on edge %s", ErrNoSpeed, e.ID())
		}
		total += s
		entry = exit
	}
	return total, nil
}
