// Package motion holds the traction and braking physics used by the dispatcher and
// the travel-time estimator. All distances are metres, speeds m/s, time seconds.
package motion

import "math"

// MotionModel is the physics contract every vehicle profile satisfies.
type MotionModel interface {
	// VMax returns the vehicle's maximum permissible speed.
	VMax() float64

	// Accel and Decel return the traction and service braking rates (both positive).
	Accel() float64
	Decel() float64

	// BrakingDistanceTo returns the distance needed to slow from v to targetV.
	// Returns 0 if v ≤ targetV.
	BrakingDistanceTo(v, targetV float64) float64

	// AccelerateStep advances toward targetV over dt seconds, cruising once it is reached.
	// Returns (distance travelled, new velocity).
	AccelerateStep(v, targetV, dt float64) (dist, newV float64)
}

// ConstantAcceleration implements MotionModel with fixed rates.
type ConstantAcceleration struct {
	AAcc    float64 `json:"a_acc"`
	ADcc    float64 `json:"a_dcc"`
	VMaxVal float64 `json:"v_max"`
}

func (c ConstantAcceleration) VMax() float64  { return c.VMaxVal }
func (c ConstantAcceleration) Accel() float64 { return c.AAcc }
func (c ConstantAcceleration) Decel() float64 { return c.ADcc }

func (c ConstantAcceleration) BrakingDistanceTo(v, targetV float64) float64 {
	if v <= targetV {
		return 0
	}
	if c.ADcc <= 0 {
		return math.Inf(1)
	}
	return DistanceForSpeedChange(v, targetV, c.ADcc)
}

func (c ConstantAcceleration) AccelerateStep(v, targetV, dt float64) (float64, float64) {
	if c.AAcc <= 0 || v >= targetV {
		return v * dt, v
	}
	tToTarget := (targetV - v) / c.AAcc
	if tToTarget <= dt {
		// Reaches targetV mid-step, then cruises.
		s1 := v*tToTarget + 0.5*c.AAcc*tToTarget*tToTarget
		return s1 + targetV*(dt-tToTarget), targetV
	}
	return v*dt + 0.5*c.AAcc*dt*dt, v + c.AAcc*dt
}

// DistanceForSpeedChange is |v1²−v0²| / (2·rate). A non-positive rate yields +Inf
// unless no change is needed.
func DistanceForSpeedChange(v0, v1, rate float64) float64 {
	if v0 == v1 {
		return 0
	}
	if rate <= 0 {
		return math.Inf(1)
	}
	return math.Abs(v1*v1-v0*v0) / (2 * rate)
}

// MaxReachableSpeed returns the peak of a trapezoidal profile that starts at v0,
// accelerates at a, then brakes at b to finish at vEnd after exactly d metres:
//
//	vPeak² = (2·a·b·d + b·v0² + a·vEnd²) / (a+b)
//
// Callers clamp the result to the line speed.
func MaxReachableSpeed(v0, vEnd, d, a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return math.Max(v0, vEnd)
	}
	d = math.Max(0, d)
	sq := (2*a*b*d + b*v0*v0 + a*vEnd*vEnd) / (a + b)
	return math.Sqrt(math.Max(0, sq))
}

// SmoothTransition moves current toward target by at most rate·dt, never overshooting.
func SmoothTransition(current, target, rate, dt float64) float64 {
	step := math.Max(0, rate*dt)
	switch {
	case current < target:
		return math.Min(target, current+step)
	case current > target:
		return math.Max(target, current-step)
	}
	return current
}
