// Package progress models where a vehicle is along its route and expands the
// remaining waypoints into literal graph paths.
package progress

import (
	"errors"
	"fmt"

	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

var (
	ErrTargetNotFound = errors.New("target not found on route")
	ErrNoPath         = errors.New("no path between waypoints")
	ErrBadIndex       = errors.New("waypoint index out of range")
)

// RouteMeta carries the service codes used to look a route up and label it.
type RouteMeta struct {
	Operator    string `json:"operator"`
	Line        string `json:"line"`
	Service     string `json:"service"`
	DisplayName string `json:"display_name"`
}

// Route is an ordered waypoint list. Consecutive waypoints need not be adjacent
// in the graph.
type Route struct {
	ID        string             `json:"route_id"`
	Waypoints []railgraph.NodeID `json:"waypoints"`
	Meta      RouteMeta          `json:"meta"`
}

// Validate checks the route has at least two waypoints.
func (r Route) Validate() error {
	if r.ID == "" {
		return errors.New("route without id")
	}
	if len(r.Waypoints) < 2 {
		return fmt.Errorf("route %s: need at least 2 waypoints, got %d", r.ID, len(r.Waypoints))
	}
	return nil
}

// Destination returns the last waypoint.
func (r Route) Destination() railgraph.NodeID {
	if len(r.Waypoints) == 0 {
		return ""
	}
	return r.Waypoints[len(r.Waypoints)-1]
}

// IndexAfter finds id in the waypoints strictly after currentIndex.
func (r Route) IndexAfter(currentIndex int, id railgraph.NodeID) (int, bool) {
	for i := max(currentIndex+1, 0); i < len(r.Waypoints); i++ {
		if r.Waypoints[i] == id {
			return i, true
		}
	}
	return 0, false
}
