package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mini-rodalies-3d/dispatch/internal/progress"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// SaveNetwork replaces the nodes and edges of data.World and upserts routes.
func (db *DB) SaveNetwork(ctx context.Context, data railgraph.GraphData, routes []progress.Route) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"net_nodes", "net_edges"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE world = ?", data.World); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO net_nodes (world, node_id, kind, station, platform, conflicts)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare node statement: %w", err)
	}
	defer nodeStmt.Close()

	for _, n := range data.Nodes {
		var conflicts *string
		if len(n.Conflicts) > 0 {
			b, err := json.Marshal(n.Conflicts)
			if err != nil {
				return fmt.Errorf("failed to encode conflicts of %s: %w", n.ID, err)
			}
			s := string(b)
			conflicts = &s
		}
		if _, err := nodeStmt.ExecContext(ctx, data.World, string(n.ID), string(n.Kind), n.Station, n.Platform, conflicts); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO net_edges (world, node_a, node_b, length_m, speed_limit, blocked, bidirectional)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge statement: %w", err)
	}
	defer edgeStmt.Close()

	for _, e := range data.Edges {
		if _, err := edgeStmt.ExecContext(ctx, data.World, string(e.A), string(e.B), e.Length, e.SpeedLimit,
			boolInt(e.Blocked), boolInt(e.Bidirectional)); err != nil {
			return fmt.Errorf("failed to insert edge %s: %w", e.ID(), err)
		}
	}

	for _, r := range routes {
		if err := saveRoute(ctx, tx, r); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func saveRoute(ctx context.Context, tx *sql.Tx, r progress.Route) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO net_routes (route_id, operator, line, service, display_name)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (route_id) DO UPDATE SET
			operator = excluded.operator,
			line = excluded.line,
			service = excluded.service,
			display_name = excluded.display_name
	`, r.ID, r.Meta.Operator, r.Meta.Line, r.Meta.Service, r.Meta.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to upsert route %s: %w", r.ID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM net_route_waypoints WHERE route_id = ?", r.ID); err != nil {
		return fmt.Errorf("failed to clear waypoints of %s: %w", r.ID, err)
	}
	for i, wp := range r.Waypoints {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO net_route_waypoints (route_id, seq, node_id) VALUES (?, ?, ?)",
			r.ID, i, string(wp)); err != nil {
			return fmt.Errorf("failed to insert waypoint %d of %s: %w", i, r.ID, err)
		}
	}
	return nil
}

// LoadGraph builds the graph snapshot of world.
func (db *DB) LoadGraph(ctx context.Context, world string) (*railgraph.Graph, error) {
	data := railgraph.GraphData{World: world}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT node_id, kind, COALESCE(station, ''), COALESCE(platform, ''), conflicts
		FROM net_nodes WHERE world = ? ORDER BY node_id
	`, world)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	for rows.Next() {
		var n railgraph.Node
		var id, kind string
		var conflicts sql.NullString
		if err := rows.Scan(&id, &kind, &n.Station, &n.Platform, &conflicts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.ID = railgraph.NodeID(id)
		n.Kind = railgraph.NodeKind(kind)
		if conflicts.Valid && conflicts.String != "" {
			if err := json.Unmarshal([]byte(conflicts.String), &n.Conflicts); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to decode conflicts of %s: %w", id, err)
			}
		}
		data.Nodes = append(data.Nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.conn.QueryContext(ctx, `
		SELECT node_a, node_b, length_m, speed_limit, blocked, bidirectional
		FROM net_edges WHERE world = ? ORDER BY node_a, node_b
	`, world)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e railgraph.Edge
		var a, b string
		var limit sql.NullFloat64
		var blocked, bidi int
		if err := rows.Scan(&a, &b, &e.Length, &limit, &blocked, &bidi); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.A, e.B = railgraph.NodeID(a), railgraph.NodeID(b)
		if limit.Valid {
			v := limit.Float64
			e.SpeedLimit = &v
		}
		e.Blocked = blocked != 0
		e.Bidirectional = bidi != 0
		data.Edges = append(data.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(data.Nodes) == 0 {
		return nil, fmt.Errorf("world %q has no nodes", world)
	}
	return railgraph.NewGraph(data)
}

// LoadRoutes returns every route with its waypoints in order.
func (db *DB) LoadRoutes(ctx context.Context) ([]progress.Route, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT r.route_id, COALESCE(r.operator, ''), COALESCE(r.line, ''), COALESCE(r.service, ''),
			COALESCE(r.display_name, ''), w.node_id
		FROM net_routes r
		JOIN net_route_waypoints w ON w.route_id = r.route_id
		ORDER BY r.route_id, w.seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []progress.Route
	for rows.Next() {
		var r progress.Route
		var node string
		if err := rows.Scan(&r.ID, &r.Meta.Operator, &r.Meta.Line, &r.Meta.Service, &r.Meta.DisplayName, &node); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		if n := len(routes); n > 0 && routes[n-1].ID == r.ID {
			routes[n-1].Waypoints = append(routes[n-1].Waypoints, railgraph.NodeID(node))
			continue
		}
		r.Waypoints = []railgraph.NodeID{railgraph.NodeID(node)}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}
