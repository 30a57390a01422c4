package occupancy

import (
	"fmt"
	"strings"

	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// Kind is the discriminator of a Resource.
type Kind int

const (
	KindNode Kind = iota
	KindEdge
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	case KindConflict:
		return "conflict"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Resource is a claimable unit of track: a node, an edge, or a named conflict group.
// Two resources with the same kind and id are equal; Key is unique per resource.
type Resource struct {
	Kind Kind
	ID   string
}

// NodeResource returns the resource protecting a graph node.
func NodeResource(id railgraph.NodeID) Resource { return Resource{Kind: KindNode, ID: string(id)} }

// EdgeResource returns the resource protecting a graph edge.
func EdgeResource(id railgraph.EdgeID) Resource { return Resource{Kind: KindEdge, ID: string(id)} }

// ConflictResource returns the resource for a named conflict group such as "switcher:J1".
func ConflictResource(name string) Resource { return Resource{Kind: KindConflict, ID: name} }

// Key is the stable map key for the resource.
func (r Resource) Key() string { return r.Kind.String() + ":" + r.ID }

func (r Resource) String() string { return r.Key() }

// ParseKey converts a key produced by Key back into a Resource.
func ParseKey(key string) (Resource, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || id == "" {
		return Resource{}, fmt.Errorf("invalid resource key %q", key)
	}
	switch kind {
	case "node":
		return Resource{Kind: KindNode, ID: id}, nil
	case "edge":
		return Resource{Kind: KindEdge, ID: id}, nil
	case "conflict":
		return Resource{Kind: KindConflict, ID: id}, nil
	}
	return Resource{}, fmt.Errorf("invalid resource kind in key %q", key)
}
