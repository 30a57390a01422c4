package network

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/mini-rodalies-3d/dispatch/internal/progress"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

var ErrMissingFile = errors.New("bundle file missing")

// Parse reads a network zip file.
func Parse(zipPath string) (*Bundle, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()
	return parseFiles(r.File)
}

// ParseBytes reads a network zip held in memory.
func ParseBytes(b []byte) (*Bundle, error) {
	r, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	return parseFiles(r.File)
}

func parseFiles(zf []*zip.File) (*Bundle, error) {
	files := make(map[string]*zip.File)
	for _, f := range zf {
		// Bundles zipped from a directory carry a prefix.
		name := f.Name
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		files[name] = f
	}

	bundle := &Bundle{Worlds: make(map[string]*railgraph.GraphData)}

	for _, name := range []string{"nodes.csv", "edges.csv"} {
		if _, ok := files[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, name)
		}
	}
	if err := parseNodes(files["nodes.csv"], bundle); err != nil {
		return nil, fmt.Errorf("failed to parse nodes.csv: %w", err)
	}
	if err := parseEdges(files["edges.csv"], bundle); err != nil {
		return nil, fmt.Errorf("failed to parse edges.csv: %w", err)
	}

	if f, ok := files["routes.csv"]; ok {
		routes, err := parseRoutes(f)
		if err != nil {
			log.Printf("Warning: failed to parse routes.csv: %v", err)
		} else {
			bundle.Routes = routes
		}
	}

	nodes, edges := 0, 0
	for _, w := range bundle.Worlds {
		nodes += len(w.Nodes)
		edges += len(w.Edges)
	}
	log.Printf("Network parsed: %d worlds, %d nodes, %d edges, %d routes",
		len(bundle.Worlds), nodes, edges, len(bundle.Routes))

	return bundle, nil
}

// Validate builds every world's graph and checks that each route only visits
// nodes of some world.
func (b *Bundle) Validate() error {
	known := make(map[railgraph.NodeID]bool)
	for name, data := range b.Worlds {
		if _, err := railgraph.NewGraph(*data); err != nil {
			return fmt.Errorf("world %s: %w", name, err)
		}
		for _, n := range data.Nodes {
			known[n.ID] = true
		}
	}
	for _, r := range b.Routes {
		if err := r.Validate(); err != nil {
			return err
		}
		for _, wp := range r.Waypoints {
			if !known[wp] {
				return fmt.Errorf("route %s: %w %q", r.ID, railgraph.ErrUnknownNode, wp)
			}
		}
	}
	return nil
}

func readCSV(f *zip.File, fn func(record []string, idx map[string]int) error) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return err
	}

	idx := makeIndex(header)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			log.Printf("Warning: %s line %d: %v", f.Name, line, err)
			continue
		}
		if err := fn(record, idx); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

func parseNodes(f *zip.File, b *Bundle) error {
	return readCSV(f, func(record []string, idx map[string]int) error {
		id := getField(record, idx, "node_id")
		if id == "" {
			return errors.New("node_id is empty")
		}
		kind := railgraph.NodeKind(getField(record, idx, "kind"))
		if kind == "" {
			kind = railgraph.KindMain
		}
		w := b.world(getField(record, idx, "world"))
		w.Nodes = append(w.Nodes, railgraph.Node{
			ID:        railgraph.NodeID(id),
			Kind:      kind,
			Station:   getField(record, idx, "station"),
			Platform:  getField(record, idx, "platform"),
			Conflicts: splitList(getField(record, idx, "conflicts")),
		})
		return nil
	})
}

func parseEdges(f *zip.File, bundle *Bundle) error {
	return readCSV(f, func(record []string, idx map[string]int) error {
		a, b := getField(record, idx, "node_a"), getField(record, idx, "node_b")
		if a == "" || b == "" {
			return errors.New("edge endpoint is empty")
		}
		length, err := strconv.ParseFloat(getField(record, idx, "length_m"), 64)
		if err != nil {
			return fmt.Errorf("edge %s-%s: bad length: %w", a, b, err)
		}
		e := railgraph.Edge{
			A:             railgraph.NodeID(a),
			B:             railgraph.NodeID(b),
			Length:        length,
			Blocked:       parseBool(getField(record, idx, "blocked"), false),
			Bidirectional: parseBool(getField(record, idx, "bidirectional"), true),
		}
		if s := getField(record, idx, "speed_limit"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("edge %s-%s: bad speed limit: %w", a, b, err)
			}
			e.SpeedLimit = &v
		}
		w := bundle.world(getField(record, idx, "world"))
		w.Edges = append(w.Edges, e)
		return nil
	})
}

func parseRoutes(f *zip.File) ([]progress.Route, error) {
	var routes []progress.Route
	err := readCSV(f, func(record []string, idx map[string]int) error {
		r := progress.Route{
			ID: getField(record, idx, "route_id"),
			Meta: progress.RouteMeta{
				Operator:    getField(record, idx, "operator"),
				Line:        getField(record, idx, "line"),
				Service:     getField(record, idx, "service"),
				DisplayName: getField(record, idx, "display_name"),
			},
		}
		for _, wp := range splitList(getField(record, idx, "waypoints")) {
			r.Waypoints = append(r.Waypoints, railgraph.NodeID(wp))
		}
		routes = append(routes, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return routes, nil
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range header {
		// Spreadsheet exports prefix the first header with a BOM.
		idx[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	return idx
}

func getField(record []string, idx map[string]int, field string) string {
	if i, ok := idx[field]; ok && i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, listSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}
