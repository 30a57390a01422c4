// Package occupancy implements the resource-claim ledger and the occupancy
// decision engine: mutual exclusion over track resources with FIFO wait queues.
package occupancy

import (
	"time"

	"github.com/google/uuid"

	"github.com/mini-rodalies-3d/dispatch/internal/aspect"
)

// VehicleID identifies a claim holder.
type VehicleID = string

// Claim is an exclusive grant of a resource to one vehicle.
// A zero ExpiresAt means the claim never expires.
type Claim struct {
	Resource   Resource  `json:"-"`
	Key        string    `json:"resource"`
	Holder     VehicleID `json:"holder"`
	LeaseID    uuid.UUID `json:"leaseId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	RenewedAt  time.Time `json:"renewedAt"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
}

// Renewed reports whether the holder has extended the claim since granting it.
func (c Claim) Renewed() bool {
	return c.RenewedAt.After(c.AcquiredAt)
}

// Expired reports whether the claim has lapsed at now.
func (c Claim) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// QueueEntry is a waiting requester for a resource. FirstSeenAt is set once and
// never overwritten while the holder keeps waiting.
type QueueEntry struct {
	Resource    Resource  `json:"-"`
	Holder      VehicleID `json:"holder"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
}

// Decision is the outcome of an occupancy request.
type Decision struct {
	Allowed      bool          `json:"allowed"`
	EarliestTime time.Time     `json:"earliestTime"`
	Signal       aspect.Aspect `json:"signal"`
	Blockers     []Claim       `json:"blockers,omitempty"`
}

// Permissive is the decision used when nothing needs protecting.
func Permissive(now time.Time) Decision {
	return Decision{Allowed: true, EarliestTime: now, Signal: aspect.Proceed}
}

// EventKind labels journal events.
type EventKind string

const (
	EventGranted  EventKind = "granted"
	EventReleased EventKind = "released"
	EventExpired  EventKind = "expired"
	EventOrphaned EventKind = "orphaned"
	EventQueued   EventKind = "queued"
)

// Event is reported to a Journal on every ledger mutation.
type Event struct {
	Kind     EventKind
	Resource Resource
	Holder   VehicleID
	LeaseID  uuid.UUID
	At       time.Time
}

// Journal receives ledger events. Implementations must not call back into the engine.
type Journal interface {
	Record(events []Event)
}
