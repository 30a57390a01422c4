package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mini-rodalies-3d/dispatch/internal/aspect"
	"github.com/mini-rodalies-3d/dispatch/internal/eta"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// UpsertVehicles writes the latest runtime snapshot of each vehicle.
func (db *DB) UpsertVehicles(ctx context.Context, vehicles []eta.VehicleSnapshot) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rt_vehicle_current (
			vehicle_id, route_id, waypoint_index, current_node, last_passed, speed,
			dwell_remaining, aspect, depart_at_utc, ticket_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			route_id = excluded.route_id,
			waypoint_index = excluded.waypoint_index,
			current_node = excluded.current_node,
			last_passed = excluded.last_passed,
			speed = excluded.speed,
			dwell_remaining = excluded.dwell_remaining,
			aspect = excluded.aspect,
			depart_at_utc = excluded.depart_at_utc,
			ticket_id = excluded.ticket_id,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare vehicle statement: %w", err)
	}
	defer stmt.Close()

	for _, v := range vehicles {
		updated := v.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		var ticket *string
		if v.TicketID != "" {
			ticket = &v.TicketID
		}
		_, err := stmt.ExecContext(ctx,
			v.ID, v.RouteID, v.WaypointIndex, string(v.CurrentNode), string(v.LastPassed), v.Speed,
			v.DwellRemaining, v.Aspect.String(), formatOptionalTime(v.DepartAt), ticket, formatTime(updated),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert vehicle %s: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteVehicle removes a vehicle that left service.
func (db *DB) DeleteVehicle(ctx context.Context, vehicleID string) error {
	db.LockWrite()
	defer db.UnlockWrite()
	_, err := db.conn.ExecContext(ctx, "DELETE FROM rt_vehicle_current WHERE vehicle_id = ?", vehicleID)
	return err
}

// ListVehicles returns every vehicle snapshot ordered by id.
func (db *DB) ListVehicles(ctx context.Context) ([]eta.VehicleSnapshot, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT vehicle_id, route_id, waypoint_index, COALESCE(current_node, ''), COALESCE(last_passed, ''),
			speed, dwell_remaining, aspect, depart_at_utc, COALESCE(ticket_id, ''), updated_at
		FROM rt_vehicle_current
		ORDER BY vehicle_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var out []eta.VehicleSnapshot
	for rows.Next() {
		var v eta.VehicleSnapshot
		var current, passed, aspectName, updated string
		var dwell sql.NullFloat64
		var departAt sql.NullString
		if err := rows.Scan(&v.ID, &v.RouteID, &v.WaypointIndex, &current, &passed, &v.Speed,
			&dwell, &aspectName, &departAt, &v.TicketID, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		v.CurrentNode = railgraph.NodeID(current)
		v.LastPassed = railgraph.NodeID(passed)
		if dwell.Valid {
			d := dwell.Float64
			v.DwellRemaining = &d
		}
		if v.Aspect, err = aspect.Parse(aspectName); err != nil {
			return nil, fmt.Errorf("vehicle %s: %w", v.ID, err)
		}
		if v.DepartAt, err = parseOptionalTime(departAt); err != nil {
			return nil, err
		}
		if v.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpsertTickets writes pending services.
func (db *DB) UpsertTickets(ctx context.Context, tickets []eta.Ticket) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for _, t := range tickets {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rt_tickets (ticket_id, route_id, origin, due_at_utc, not_before_utc, forecast, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)
			ON CONFLICT (ticket_id) DO UPDATE SET
				route_id = excluded.route_id,
				origin = excluded.origin,
				due_at_utc = excluded.due_at_utc,
				not_before_utc = excluded.not_before_utc,
				forecast = excluded.forecast,
				updated_at = excluded.updated_at
		`, t.ID, t.RouteID, t.Origin, formatTime(t.DueAt), formatOptionalTime(t.NotBefore), boolInt(t.Forecast), now)
		if err != nil {
			return fmt.Errorf("failed to upsert ticket %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// MarkTicketDispatched removes a ticket from the pending set.
func (db *DB) MarkTicketDispatched(ctx context.Context, ticketID string) error {
	db.LockWrite()
	defer db.UnlockWrite()
	_, err := db.conn.ExecContext(ctx,
		"UPDATE rt_tickets SET status = 'dispatched', updated_at = ? WHERE ticket_id = ?",
		formatTime(time.Now()), ticketID)
	if err != nil {
		return fmt.Errorf("failed to mark ticket %s: %w", ticketID, err)
	}
	return nil
}

// SettleTickets marks every pending ticket that a vehicle has taken as dispatched.
func (db *DB) SettleTickets(ctx context.Context) (int, error) {
	db.LockWrite()
	defer db.UnlockWrite()
	result, err := db.conn.ExecContext(ctx, `
		UPDATE rt_tickets SET status = 'dispatched', updated_at = ?
		WHERE status = 'pending'
		AND ticket_id IN (SELECT ticket_id FROM rt_vehicle_current WHERE ticket_id IS NOT NULL)
	`, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to settle tickets: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// ListPendingTickets returns pending tickets ordered by due time.
func (db *DB) ListPendingTickets(ctx context.Context) ([]eta.Ticket, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT ticket_id, route_id, COALESCE(origin, ''), due_at_utc, not_before_utc, forecast
		FROM rt_tickets
		WHERE status = 'pending'
		ORDER BY due_at_utc, ticket_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var out []eta.Ticket
	for rows.Next() {
		var t eta.Ticket
		var due string
		var notBefore sql.NullString
		var forecast int
		if err := rows.Scan(&t.ID, &t.RouteID, &t.Origin, &due, &notBefore, &forecast); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		if t.DueAt, err = parseTime(due); err != nil {
			return nil, err
		}
		if t.NotBefore, err = parseOptionalTime(notBefore); err != nil {
			return nil, err
		}
		t.Forecast = forecast != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertLayover records a vehicle resting at origin until readyAt.
func (db *DB) UpsertLayover(ctx context.Context, c eta.LayoverCandidate) error {
	db.LockWrite()
	defer db.UnlockWrite()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO rt_layovers (vehicle_id, origin, ready_at_utc) VALUES (?, ?, ?)
		ON CONFLICT (vehicle_id) DO UPDATE SET origin = excluded.origin, ready_at_utc = excluded.ready_at_utc
	`, c.VehicleID, c.Origin, formatTime(c.ReadyAt))
	if err != nil {
		return fmt.Errorf("failed to upsert layover %s: %w", c.VehicleID, err)
	}
	return nil
}

// ListLayovers returns every layover candidate ordered by ready time.
func (db *DB) ListLayovers(ctx context.Context) ([]eta.LayoverCandidate, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT vehicle_id, origin, ready_at_utc FROM rt_layovers ORDER BY ready_at_utc, vehicle_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query layovers: %w", err)
	}
	defer rows.Close()

	var out []eta.LayoverCandidate
	for rows.Next() {
		var c eta.LayoverCandidate
		var ready string
		if err := rows.Scan(&c.VehicleID, &c.Origin, &ready); err != nil {
			return nil, fmt.Errorf("failed to scan layover: %w", err)
		}
		if c.ReadyAt, err = parseTime(ready); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
