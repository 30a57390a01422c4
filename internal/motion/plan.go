package motion

import "math"

// Constraint is a point ahead at which the vehicle must be at or below TargetSpeed.
// A full stop has TargetSpeed 0.
type Constraint struct {
	Distance    float64
	TargetSpeed float64
}

// SafeSpeed is the highest speed from which the vehicle can still meet c braking at decel.
func (c Constraint) SafeSpeed(decel float64) float64 {
	if decel <= 0 {
		return c.TargetSpeed
	}
	d := math.Max(0, c.Distance)
	return math.Sqrt(c.TargetSpeed*c.TargetSpeed + 2*decel*d)
}

type PlanInput struct {
	Speed       float64
	Nominal     float64
	Model       MotionModel
	Dt          float64
	Constraints []Constraint
}

type PlanResult struct {
	// Recommended is the speed the vehicle should aim for.
	Recommended float64
	// Next is the speed after one tick of smooth transition toward Recommended.
	Next float64
	// Limited is set when a constraint rather than the nominal speed decided Recommended.
	Limited bool
}

// Plan combines the nominal target speed with every distance-limited constraint.
// It also refuses to accelerate for a tick when doing so would leave the vehicle
// unable to meet a constraint at the model's braking rate.
func Plan(in PlanInput) PlanResult {
	recommended := in.Nominal
	if vmax := in.Model.VMax(); vmax > 0 {
		recommended = math.Min(recommended, vmax)
	}
	recommended = math.Max(0, recommended)

	limited := false
	decel := in.Model.Decel()
	for _, c := range in.Constraints {
		if safe := c.SafeSpeed(decel); safe < recommended {
			recommended = safe
			limited = true
		}
	}

	if recommended > in.Speed && in.Dt > 0 {
		dist, v := in.Model.AccelerateStep(in.Speed, recommended, in.Dt)
		for _, c := range in.Constraints {
			if in.Model.BrakingDistanceTo(v, c.TargetSpeed) > c.Distance-dist {
				recommended = in.Speed
				limited = true
				break
			}
		}
	}

	rate := in.Model.Accel()
	if recommended < in.Speed {
		rate = decel
	}
	next := recommended
	if in.Dt > 0 {
		next = SmoothTransition(in.Speed, recommended, rate, in.Dt)
	}
	return PlanResult{Recommended: recommended, Next: next, Limited: limited}
}
