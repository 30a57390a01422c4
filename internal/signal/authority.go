// Package signal converts distances to track constraints into signal aspects and
// authorised speeds: the movement authority service and the signal lookahead.
package signal

import (
	"math"

	"github.com/mini-rodalies-3d/dispatch/internal/aspect"
)

// AuthorityInput carries everything Evaluate needs. Distances are metres, speeds m/s,
// deceleration m/s². Distance may be +Inf when nothing constrains the vehicle.
type AuthorityInput struct {
	Requested     aspect.Aspect
	Speed         float64
	Decel         float64
	Distance      float64
	StopMargin    float64
	CautionMargin float64
}

// Authority is the outcome of a movement authority evaluation.
// AuthorityDistance and RecommendedMaxSpeed are +Inf when nothing constrains the vehicle.
type Authority struct {
	Aspect              aspect.Aspect
	AuthorityDistance   float64
	RecommendedMaxSpeed float64
	Restricted          bool
}

// BrakingDistance returns v²/(2·decel), or +Inf when the vehicle cannot brake.
func BrakingDistance(v, decel float64) float64 {
	if v <= 0 {
		return 0
	}
	if decel <= 0 {
		return math.Inf(1)
	}
	return v * v / (2 * decel)
}

// Evaluate degrades the requested aspect according to braking margin.
//
// Braking distance plus StopMargin beyond the available distance forces Stop.
// Braking distance plus CautionMargin beyond it degrades the requested aspect by
// exactly one step. The returned aspect is never less severe than requested.
func Evaluate(in AuthorityInput) Authority {
	available := math.Max(0, in.Distance)
	braking := BrakingDistance(in.Speed, in.Decel)

	effective := in.Requested
	switch {
	case available < braking+in.StopMargin:
		effective = aspect.Stop
	case available < braking+in.CautionMargin:
		effective = in.Requested.Degrade()
	}
	effective = aspect.MostSevere(effective, in.Requested)

	authority := math.Max(0, available-in.StopMargin)
	maxSpeed := math.Inf(1)
	if !math.IsInf(available, 1) {
		maxSpeed = 0
		if in.Decel > 0 {
			maxSpeed = math.Sqrt(2 * in.Decel * authority)
		}
	}

	return Authority{
		Aspect:              effective,
		AuthorityDistance:   authority,
		RecommendedMaxSpeed: maxSpeed,
		Restricted:          effective.MoreSevereThan(in.Requested),
	}
}
