package eta

import (
	"math"
	"strings"
	"time"

	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
)

// Dwell passes through a non-negative remaining dwell.
func Dwell(remaining *float64) (float64, bool) {
	if remaining == nil || *remaining < 0 {
		return 0, false
	}
	return *remaining, true
}

// WaitInput is what the wait estimator needs from a preview decision.
type WaitInput struct {
	Decision      occupancy.Decision
	QueuePosition int
	Headway       time.Duration
	SwitchPenalty time.Duration
	Now           time.Time
}

// Wait returns the expected hold in seconds. The estimate is queue position times
// headway plus the switch penalty when anyone is ahead; the blocker's earliest time
// only ever raises it.
func Wait(in WaitInput) float64 {
	if in.Decision.Allowed {
		return 0
	}
	pos := max(in.QueuePosition, 0)
	wait := float64(pos) * in.Headway.Seconds()
	if pos > 0 {
		wait += in.SwitchPenalty.Seconds()
	}
	floor := math.Max(0, in.Decision.EarliestTime.Sub(in.Now).Seconds())
	return math.Max(wait, floor)
}

// Clearance maps blocking claims to reason codes, one per distinct reason in blocker order.
func Clearance(blockers []occupancy.Claim) []Reason {
	var out []Reason
	seen := make(map[Reason]bool)
	for _, c := range blockers {
		r := clearanceReason(c)
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func clearanceReason(c occupancy.Claim) Reason {
	res := c.Resource
	if res.ID == "" {
		if parsed, err := occupancy.ParseKey(c.Key); err == nil {
			res = parsed
		}
	}
	switch {
	case res.Kind == occupancy.KindNode:
		return ReasonPlatformOccupied
	case res.Kind == occupancy.KindConflict && strings.HasPrefix(res.ID, "switcher:"):
		return ReasonThroatConflict
	case res.Kind == occupancy.KindConflict && strings.HasPrefix(res.ID, "single:"):
		return ReasonSingleTrackConflict
	}
	return ReasonWait
}

// Arriving reports whether a vehicle should be shown as arriving.
func Arriving(remainingEdges int, hardStopped bool) (bool, Confidence) {
	if hardStopped {
		return false, ConfidenceMedium
	}
	if remainingEdges <= 2 {
		return true, ConfidenceHigh
	}
	return false, ConfidenceMedium
}
