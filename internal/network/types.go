// Package network reads network bundles: a zip holding nodes.csv, edges.csv
// and routes.csv for one or more worlds.
package network

import (
	"github.com/mini-rodalies-3d/dispatch/internal/progress"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// Bundle is the parsed content of a network zip.
type Bundle struct {
	Worlds map[string]*railgraph.GraphData
	Routes []progress.Route
}

// WorldNames returns the worlds present in the bundle.
func (b *Bundle) WorldNames() []string {
	names := make([]string, 0, len(b.Worlds))
	for name := range b.Worlds {
		names = append(names, name)
	}
	return names
}

func (b *Bundle) world(name string) *railgraph.GraphData {
	if name == "" {
		name = DefaultWorld
	}
	w, ok := b.Worlds[name]
	if !ok {
		w = &railgraph.GraphData{World: name}
		b.Worlds[name] = w
	}
	return w
}

// DefaultWorld is used for rows without a world column.
const DefaultWorld = "default"

// listSeparator splits multi-valued cells such as conflicts and waypoints.
const listSeparator = ";"
