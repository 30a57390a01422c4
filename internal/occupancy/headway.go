package occupancy

import (
	"strings"
	"time"
)

// HeadwayRule returns the minimum time between successive occupants of a resource.
// It is consulted by the wait estimator, never by the decision engine.
type HeadwayRule interface {
	HeadwayFor(r Resource) time.Duration
}

// HeadwayFunc adapts a function to HeadwayRule.
type HeadwayFunc func(r Resource) time.Duration

func (f HeadwayFunc) HeadwayFor(r Resource) time.Duration { return f(r) }

// FixedHeadway applies one duration per resource kind, with optional overrides.
// Overrides are matched first by full resource key, then by conflict group
// prefix (the part of a conflict name before ':', e.g. "switcher" or "single").
type FixedHeadway struct {
	Node      time.Duration
	Edge      time.Duration
	Conflict  time.Duration
	Overrides map[string]time.Duration
}

func (h FixedHeadway) HeadwayFor(r Resource) time.Duration {
	if d, ok := h.Overrides[r.Key()]; ok {
		return d
	}
	switch r.Kind {
	case KindNode:
		return h.Node
	case KindEdge:
		return h.Edge
	case KindConflict:
		if prefix, _, ok := strings.Cut(r.ID, ":"); ok {
			if d, ok := h.Overrides[prefix]; ok {
				return d
			}
		}
		return h.Conflict
	}
	return 0
}
