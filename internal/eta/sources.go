package eta

import (
	"time"

	"github.com/mini-rodalies-3d/dispatch/internal/aspect"
	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
	"github.com/mini-rodalies-3d/dispatch/internal/progress"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// GraphSource serves the current graph snapshot for a world.
type GraphSource interface {
	Graph(world string) (*railgraph.Graph, bool)
}

// RouteRegistry looks routes up by id or by service code triple.
type RouteRegistry interface {
	Route(id string) (progress.Route, bool)
	RouteByCodes(operator, line, service string) (progress.Route, bool)
}

// VehicleSnapshot is the runtime state of one vehicle as of the last tick.
type VehicleSnapshot struct {
	ID            string           `json:"vehicleId"`
	RouteID       string           `json:"routeId"`
	WaypointIndex int              `json:"waypointIndex"`
	CurrentNode   railgraph.NodeID `json:"currentNode"`
	LastPassed    railgraph.NodeID `json:"lastPassed,omitempty"`
	Speed         float64          `json:"speed"`
	// DwellRemaining is the seconds left at the current stop, nil when not dwelling.
	DwellRemaining *float64      `json:"dwellRemaining,omitempty"`
	Aspect         aspect.Aspect `json:"aspect"`
	// DepartAt is the scheduled departure of the service the vehicle runs, if any.
	DepartAt  time.Time `json:"departAt"`
	TicketID  string    `json:"ticketId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type VehicleSource interface {
	Vehicle(id string) (VehicleSnapshot, bool)
	Vehicles() []VehicleSnapshot
}

// Ticket is a service that has not been dispatched yet. Forecast tickets are
// projected from the timetable and may later be replaced by a real ticket for
// the same route and departure.
type Ticket struct {
	ID        string    `json:"ticketId"`
	RouteID   string    `json:"routeId"`
	Origin    string    `json:"origin"`
	DueAt     time.Time `json:"dueAt"`
	NotBefore time.Time `json:"notBefore"`
	Forecast  bool      `json:"forecast"`
}

type TicketSource interface {
	Ticket(id string) (Ticket, bool)
	PendingTickets() []Ticket
}

// LayoverCandidate is a vehicle resting at an origin, ready to take a service at ReadyAt.
type LayoverCandidate struct {
	VehicleID string    `json:"vehicleId"`
	Origin    string    `json:"origin"`
	ReadyAt   time.Time `json:"readyAt"`
}

type LayoverRegistry interface {
	Candidates(origin string) []LayoverCandidate
}

// Ledger is the read side of the occupancy engine.
type Ledger interface {
	Decide(holder occupancy.VehicleID, path []occupancy.Resource, now time.Time) occupancy.Decision
	Queue(r occupancy.Resource) []occupancy.QueueEntry
}
