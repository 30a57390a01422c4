// Package eta answers "when will it get there" for vehicles in service, pending
// tickets and station boards. Every query is read-only with respect to the
// occupancy ledger.
package eta

import (
	"math"
	"strconv"
	"time"

	"github.com/mini-rodalies-3d/dispatch/internal/aspect"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// Reason codes attached to results.
type Reason string

const (
	ReasonPlatformOccupied    Reason = "PLATFORM_OCCUPIED"
	ReasonThroatConflict      Reason = "THROAT_CONFLICT"
	ReasonSingleTrackConflict Reason = "SINGLE_TRACK_CONFLICT"
	ReasonWait                Reason = "WAIT"
	ReasonDwell               Reason = "DWELL"
	ReasonLayover             Reason = "LAYOVER"

	ReasonNoVehicle Reason = "NO_VEHICLE"
	ReasonNoTicket  Reason = "NO_TICKET"
	ReasonNoRoute   Reason = "NO_ROUTE"
	ReasonNoGraph   Reason = "NO_GRAPH"
	ReasonNoTarget  Reason = "NO_TARGET"
	ReasonNoPath    Reason = "NO_PATH"
	ReasonNoSpeed   Reason = "NO_SPEED"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Result is a single ETA. EtaEpochMillis <= 0 means unavailable; Minutes is then -1.
type Result struct {
	Arriving       bool             `json:"arriving"`
	Status         string           `json:"status"`
	EtaEpochMillis int64            `json:"etaEpochMillis"`
	Minutes        int              `json:"minutes"`
	TravelSec      float64          `json:"travelSec"`
	DwellSec       float64          `json:"dwellSec"`
	WaitSec        float64          `json:"waitSec"`
	Reasons        []Reason         `json:"reasons"`
	Confidence     Confidence       `json:"confidence"`
	Aspect         aspect.Aspect    `json:"aspect"`
	RouteID        string           `json:"routeId,omitempty"`
	Target         railgraph.NodeID `json:"target,omitempty"`
	RemainingEdges int              `json:"remainingEdges"`
}

// Available reports whether the result carries a usable ETA.
func (r Result) Available() bool { return r.EtaEpochMillis > 0 }

// At returns the ETA as a time.
func (r Result) At() time.Time { return time.UnixMilli(r.EtaEpochMillis) }

// Unavailable builds the typed "no answer" result for reason.
func Unavailable(reason Reason) Result {
	return Result{
		Status:         "unavailable",
		EtaEpochMillis: 0,
		Minutes:        -1,
		Reasons:        []Reason{reason},
		Confidence:     ConfidenceLow,
	}
}

func minutesUntil(eta, now time.Time) int {
	m := int(math.Round(eta.Sub(now).Minutes()))
	if m < 0 {
		return 0
	}
	return m
}

func statusText(arriving bool, minutes int, held bool) string {
	switch {
	case arriving:
		return "Arriving"
	case held:
		return "Held"
	case minutes <= 0:
		return "Due"
	}
	return strconv.Itoa(minutes) + " min"
}
