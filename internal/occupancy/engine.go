package occupancy

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mini-rodalies-3d/dispatch/internal/aspect"
)

// Config tunes the decision engine.
type Config struct {
	// StopWindow is how many resources from the head of a request map a conflict to
	// Stop; conflicts further out map to Caution. Zero or less means every conflict is Stop.
	StopWindow int
	// ClaimTTL sets the expiry of granted claims. Zero means claims never expire.
	ClaimTTL time.Duration
}

// Engine holds the occupancy ledger. Decide is read-only; Acquire, Release,
// Retain and the sweeps mutate it. All methods are safe for concurrent use, but
// mutation is expected from a single scheduling tick.
type Engine struct {
	cfg     Config
	journal Journal

	mu      sync.RWMutex
	claims  map[string]Claim
	queues  map[string][]QueueEntry
	held    map[VehicleID]map[string]struct{}
	waiting map[VehicleID]map[string]struct{}
}

// NewEngine creates an empty ledger. journal may be nil.
func NewEngine(cfg Config, journal Journal) *Engine {
	return &Engine{
		cfg:     cfg,
		journal: journal,
		claims:  make(map[string]Claim),
		queues:  make(map[string][]QueueEntry),
		held:    make(map[VehicleID]map[string]struct{}),
		waiting: make(map[VehicleID]map[string]struct{}),
	}
}

// Decide previews a request for path on behalf of holder without changing the
// ledger. An empty path, or resources nobody holds, yield Allowed=true.
// An empty holder conflicts with every live claim.
func (e *Engine) Decide(holder VehicleID, path []Resource, now time.Time) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, _ := e.evaluate(holder, path, now)
	return d
}

// evaluate walks path in order and stops at the first resource held by another
// vehicle. It returns the index of that resource, or -1 when allowed.
func (e *Engine) evaluate(holder VehicleID, path []Resource, now time.Time) (Decision, int) {
	for i, r := range path {
		c, ok := e.claims[r.Key()]
		if !ok || c.Expired(now) || (holder != "" && c.Holder == holder) {
			continue
		}
		signal := aspect.Stop
		if e.cfg.StopWindow > 0 && i >= e.cfg.StopWindow {
			signal = aspect.Caution
		}
		// A renewed claim is being kept alive by a live holder, so its expiry
		// says nothing about when the resource frees up.
		earliest := now
		if c.ExpiresAt.After(now) && !c.Renewed() {
			earliest = c.ExpiresAt
		}
		return Decision{
			Allowed:      false,
			EarliestTime: earliest,
			Signal:       signal,
			Blockers:     []Claim{c},
		}, i
	}
	return Permissive(now), -1
}

// Acquire requests every resource in path for holder. On success all resources
// are claimed as one unit and holder leaves every wait queue. On failure the
// resources in front of the blocker are claimed or renewed, so a waiting vehicle
// keeps the track it stands on, and holder is queued on the blocking resource
// keeping its original FirstSeenAt.
func (e *Engine) Acquire(holder VehicleID, path []Resource, now time.Time) Decision {
	e.mu.Lock()
	d, idx := e.evaluate(holder, path, now)
	var events []Event
	if d.Allowed {
		events = e.grant(holder, path, now)
		e.dequeueAll(holder)
	} else {
		if holder != "" {
			events = e.grant(holder, path[:idx], now)
		}
		if ev, queued := e.enqueue(path[idx], holder, now); queued {
			events = append(events, ev)
		}
	}
	e.mu.Unlock()

	e.record(events)
	return d
}

func (e *Engine) grant(holder VehicleID, path []Resource, now time.Time) []Event {
	var events []Event
	var expires time.Time
	if e.cfg.ClaimTTL > 0 {
		expires = now.Add(e.cfg.ClaimTTL)
	}
	for _, r := range path {
		k := r.Key()
		if c, ok := e.claims[k]; ok {
			if c.Holder == holder && !c.Expired(now) {
				c.ExpiresAt = expires
				c.RenewedAt = now
				e.claims[k] = c
				continue
			}
			// Lapsed claim of another holder, or our own expired one.
			e.dropClaim(c)
			events = append(events, Event{Kind: EventExpired, Resource: c.Resource, Holder: c.Holder, LeaseID: c.LeaseID, At: now})
		}
		c := Claim{
			Resource:   r,
			Key:        k,
			Holder:     holder,
			LeaseID:    uuid.New(),
			AcquiredAt: now,
			RenewedAt:  now,
			ExpiresAt:  expires,
		}
		e.claims[k] = c
		if e.held[holder] == nil {
			e.held[holder] = make(map[string]struct{})
		}
		e.held[holder][k] = struct{}{}
		events = append(events, Event{Kind: EventGranted, Resource: r, Holder: holder, LeaseID: c.LeaseID, At: now})
	}
	return events
}

func (e *Engine) enqueue(r Resource, holder VehicleID, now time.Time) (Event, bool) {
	if holder == "" {
		return Event{}, false
	}
	k := r.Key()
	for _, q := range e.queues[k] {
		if q.Holder == holder {
			return Event{}, false
		}
	}
	e.queues[k] = append(e.queues[k], QueueEntry{Resource: r, Holder: holder, FirstSeenAt: now})
	if e.waiting[holder] == nil {
		e.waiting[holder] = make(map[string]struct{})
	}
	e.waiting[holder][k] = struct{}{}
	return Event{Kind: EventQueued, Resource: r, Holder: holder, At: now}, true
}

// dequeueAll removes holder from every wait queue. Queue removal is not journaled.
func (e *Engine) dequeueAll(holder VehicleID) {
	for k := range e.waiting[holder] {
		q := e.queues[k]
		for i, entry := range q {
			if entry.Holder == holder {
				q = append(q[:i:i], q[i+1:]...)
				break
			}
		}
		if len(q) == 0 {
			delete(e.queues, k)
		} else {
			e.queues[k] = q
		}
	}
	delete(e.waiting, holder)
}

func (e *Engine) dropClaim(c Claim) {
	delete(e.claims, c.Key)
	if keys := e.held[c.Holder]; keys != nil {
		delete(keys, c.Key)
		if len(keys) == 0 {
			delete(e.held, c.Holder)
		}
	}
}

// Release removes every claim and queue entry owned by holder. It is idempotent.
func (e *Engine) Release(holder VehicleID, now time.Time) int {
	e.mu.Lock()
	events := e.releaseLocked(holder, EventReleased, now)
	e.mu.Unlock()
	e.record(events)
	return len(events)
}

func (e *Engine) releaseLocked(holder VehicleID, kind EventKind, now time.Time) []Event {
	var events []Event
	for k := range e.held[holder] {
		c := e.claims[k]
		delete(e.claims, k)
		events = append(events, Event{Kind: kind, Resource: c.Resource, Holder: holder, LeaseID: c.LeaseID, At: now})
	}
	delete(e.held, holder)
	e.dequeueAll(holder)
	return events
}

// Retain releases holder's claims that are not in keep. Queue entries are untouched.
func (e *Engine) Retain(holder VehicleID, keep []Resource, now time.Time) int {
	want := make(map[string]struct{}, len(keep))
	for _, r := range keep {
		want[r.Key()] = struct{}{}
	}

	e.mu.Lock()
	var events []Event
	for k := range e.held[holder] {
		if _, ok := want[k]; ok {
			continue
		}
		c := e.claims[k]
		e.dropClaim(c)
		events = append(events, Event{Kind: EventReleased, Resource: c.Resource, Holder: holder, LeaseID: c.LeaseID, At: now})
	}
	e.mu.Unlock()

	e.record(events)
	return len(events)
}

// SweepExpired removes every claim that has lapsed at now and returns them.
func (e *Engine) SweepExpired(now time.Time) []Claim {
	e.mu.Lock()
	var removed []Claim
	var events []Event
	for _, c := range e.claims {
		if c.Expired(now) {
			removed = append(removed, c)
			events = append(events, Event{Kind: EventExpired, Resource: c.Resource, Holder: c.Holder, LeaseID: c.LeaseID, At: now})
		}
	}
	for _, c := range removed {
		e.dropClaim(c)
	}
	e.mu.Unlock()

	e.record(events)
	sortClaims(removed)
	return removed
}

// SweepOrphans releases claims and queue entries of holders for which live returns false.
// It returns the holders that were removed.
func (e *Engine) SweepOrphans(live func(VehicleID) bool, now time.Time) []VehicleID {
	e.mu.Lock()
	seen := make(map[VehicleID]struct{})
	for h := range e.held {
		seen[h] = struct{}{}
	}
	for h := range e.waiting {
		seen[h] = struct{}{}
	}
	var orphans []VehicleID
	var events []Event
	for h := range seen {
		if live(h) {
			continue
		}
		orphans = append(orphans, h)
		events = append(events, e.releaseLocked(h, EventOrphaned, now)...)
	}
	e.mu.Unlock()

	e.record(events)
	sort.Strings(orphans)
	return orphans
}

// QueuePosition returns holder's zero-based position in the wait queue of r.
func (e *Engine) QueuePosition(r Resource, holder VehicleID) (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, q := range e.queues[r.Key()] {
		if q.Holder == holder {
			return i, true
		}
	}
	return 0, false
}

// Queue returns a copy of the wait queue of r in FIFO order.
func (e *Engine) Queue(r Resource) []QueueEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q := e.queues[r.Key()]
	out := make([]QueueEntry, len(q))
	copy(out, q)
	return out
}

// Holder returns the live claim on r at now, if any.
func (e *Engine) Holder(r Resource, now time.Time) (Claim, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.claims[r.Key()]
	if !ok || c.Expired(now) {
		return Claim{}, false
	}
	return c, true
}

// HeldBy returns holder's claims sorted by resource key.
func (e *Engine) HeldBy(holder VehicleID) []Claim {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Claim, 0, len(e.held[holder]))
	for k := range e.held[holder] {
		out = append(out, e.claims[k])
	}
	sortClaims(out)
	return out
}

// Claims returns every claim in the ledger sorted by resource key.
func (e *Engine) Claims() []Claim {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Claim, 0, len(e.claims))
	for _, c := range e.claims {
		out = append(out, c)
	}
	sortClaims(out)
	return out
}

func (e *Engine) record(events []Event) {
	if e.journal != nil && len(events) > 0 {
		e.journal.Record(events)
	}
}

func sortClaims(cs []Claim) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Key < cs[j].Key })
}
