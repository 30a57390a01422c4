// Package repository reads the static network from a shared Postgres database.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mini-rodalies-3d/dispatch/internal/progress"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

type NetworkRepository struct {
	pool *pgxpool.Pool
}

func NewNetworkRepository(databaseURL string) (*NetworkRepository, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &NetworkRepository{pool: pool}, nil
}

func (r *NetworkRepository) Close() {
	r.pool.Close()
}

// LoadGraph builds the graph snapshot of world from net_nodes and net_edges.
func (r *NetworkRepository) LoadGraph(ctx context.Context, world string) (*railgraph.Graph, error) {
	data := railgraph.GraphData{World: world}

	rows, err := r.pool.Query(ctx, `
		SELECT node_id, kind, COALESCE(station, ''), COALESCE(platform, ''), COALESCE(conflicts, '{}')
		FROM net_nodes
		WHERE world = $1
		ORDER BY node_id
	`, world)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	for rows.Next() {
		var n railgraph.Node
		var id, kind string
		if err := rows.Scan(&id, &kind, &n.Station, &n.Platform, &n.Conflicts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		n.ID = railgraph.NodeID(id)
		n.Kind = railgraph.NodeKind(kind)
		if len(n.Conflicts) == 0 {
			n.Conflicts = nil
		}
		data.Nodes = append(data.Nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node rows: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT node_a, node_b, length_m, speed_limit, blocked, bidirectional
		FROM net_edges
		WHERE world = $1
		ORDER BY node_a, node_b
	`, world)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e railgraph.Edge
		var a, b string
		if err := rows.Scan(&a, &b, &e.Length, &e.SpeedLimit, &e.Blocked, &e.Bidirectional); err != nil {
			return nil, fmt.Errorf("failed to scan edge row: %w", err)
		}
		e.A, e.B = railgraph.NodeID(a), railgraph.NodeID(b)
		data.Edges = append(data.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edge rows: %w", err)
	}

	if len(data.Nodes) == 0 {
		return nil, fmt.Errorf("world %q has no nodes", world)
	}
	return railgraph.NewGraph(data)
}

// LoadRoutes returns every route with its waypoints in order.
func (r *NetworkRepository) LoadRoutes(ctx context.Context) ([]progress.Route, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			r.route_id,
			COALESCE(r.operator, ''),
			COALESCE(r.line, ''),
			COALESCE(r.service, ''),
			COALESCE(r.display_name, ''),
			ARRAY(
				SELECT w.node_id FROM net_route_waypoints w
				WHERE w.route_id = r.route_id
				ORDER BY w.seq
			)
		FROM net_routes r
		ORDER BY r.route_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []progress.Route
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating route rows: %w", err)
	}
	return routes, nil
}

// GetRoute loads a single route by id.
func (r *NetworkRepository) GetRoute(ctx context.Context, routeID string) (*progress.Route, error) {
	if routeID == "" {
		return nil, errors.New("route_id cannot be empty")
	}

	row := r.pool.QueryRow(ctx, `
		SELECT
			r.route_id,
			COALESCE(r.operator, ''),
			COALESCE(r.line, ''),
			COALESCE(r.service, ''),
			COALESCE(r.display_name, ''),
			ARRAY(
				SELECT w.node_id FROM net_route_waypoints w
				WHERE w.route_id = r.route_id
				ORDER BY w.seq
			)
		FROM net_routes r
		WHERE r.route_id = $1
	`, routeID)

	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("route not found: %s", routeID)
		}
		return nil, err
	}
	return &route, nil
}

func scanRoute(row pgx.Row) (progress.Route, error) {
	var route progress.Route
	var waypoints []string
	err := row.Scan(
		&route.ID,
		&route.Meta.Operator,
		&route.Meta.Line,
		&route.Meta.Service,
		&route.Meta.DisplayName,
		&waypoints,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return progress.Route{}, err
		}
		return progress.Route{}, fmt.Errorf("failed to scan route row: %w", err)
	}
	route.Waypoints = make([]railgraph.NodeID, len(waypoints))
	for i, w := range waypoints {
		route.Waypoints[i] = railgraph.NodeID(w)
	}
	return route, nil
}
