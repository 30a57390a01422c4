package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mini-rodalies-3d/dispatch/internal/dispatch"
	"github.com/mini-rodalies-3d/dispatch/internal/metrics"
	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
)

// Apply implements dispatch.Actuator: it upserts the current command of every
// vehicle and appends the batch to the command history.
func (db *DB) Apply(ctx context.Context, cmds []dispatch.Command) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	currentStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rt_vehicle_commands (
			vehicle_id, target_speed, next_speed, aspect, hold, restricted, reason, issued_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			target_speed = excluded.target_speed,
			next_speed = excluded.next_speed,
			aspect = excluded.aspect,
			hold = excluded.hold,
			restricted = excluded.restricted,
			reason = excluded.reason,
			issued_at_utc = excluded.issued_at_utc
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare command statement: %w", err)
	}
	defer currentStmt.Close()

	historyStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rt_vehicle_command_history (vehicle_id, target_speed, aspect, hold, reason, issued_at_utc)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history statement: %w", err)
	}
	defer historyStmt.Close()

	for _, c := range cmds {
		issued := formatTime(c.IssuedAt)
		if _, err := currentStmt.ExecContext(ctx, c.VehicleID, c.TargetSpeed, c.NextSpeed, c.Aspect.String(),
			boolInt(c.Hold), boolInt(c.Restricted), c.Reason, issued); err != nil {
			return fmt.Errorf("failed to write command for %s: %w", c.VehicleID, err)
		}
		if _, err := historyStmt.ExecContext(ctx, c.VehicleID, c.TargetSpeed, c.Aspect.String(),
			boolInt(c.Hold), c.Reason, issued); err != nil {
			return fmt.Errorf("failed to write command history for %s: %w", c.VehicleID, err)
		}
	}
	return tx.Commit()
}

// Command returns the latest command issued to a vehicle.
func (db *DB) Command(ctx context.Context, vehicleID string) (dispatch.Command, bool, error) {
	var c dispatch.Command
	var aspectName, issued string
	var hold, restricted int
	err := db.conn.QueryRowContext(ctx, `
		SELECT vehicle_id, target_speed, next_speed, aspect, hold, restricted, COALESCE(reason, ''), issued_at_utc
		FROM rt_vehicle_commands WHERE vehicle_id = ?
	`, vehicleID).Scan(&c.VehicleID, &c.TargetSpeed, &c.NextSpeed, &aspectName, &hold, &restricted, &c.Reason, &issued)
	if err == sql.ErrNoRows {
		return dispatch.Command{}, false, nil
	}
	if err != nil {
		return dispatch.Command{}, false, fmt.Errorf("failed to load command for %s: %w", vehicleID, err)
	}
	if err := c.Aspect.UnmarshalText([]byte(aspectName)); err != nil {
		return dispatch.Command{}, false, err
	}
	c.Hold = hold != 0
	c.Restricted = restricted != 0
	if c.IssuedAt, err = parseTime(issued); err != nil {
		return dispatch.Command{}, false, err
	}
	return c, true, nil
}

// Record implements occupancy.Journal. Ledger events arrive from the tick with no
// context, so writes use their own timeout and failures are only logged.
func (db *DB) Record(events []occupancy.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.writeJournal(ctx, events); err != nil {
		log.Printf("DB: failed to journal %d ledger events: %v", len(events), err)
	}
}

func (db *DB) writeJournal(ctx context.Context, events []occupancy.Event) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rt_claim_journal (event_id, kind, resource_key, holder, lease_id, at_utc)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare journal statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var lease *string
		if e.LeaseID != uuid.Nil {
			s := e.LeaseID.String()
			lease = &s
		}
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), string(e.Kind), e.Resource.Key(), e.Holder, lease, formatTime(e.At)); err != nil {
			return fmt.Errorf("failed to journal %s %s: %w", e.Kind, e.Resource.Key(), err)
		}
	}
	return tx.Commit()
}

// JournalEntry is one row of the claim journal.
type JournalEntry struct {
	EventID     string    `json:"eventId"`
	Kind        string    `json:"kind"`
	ResourceKey string    `json:"resource"`
	Holder      string    `json:"holder"`
	LeaseID     string    `json:"leaseId,omitempty"`
	At          time.Time `json:"at"`
}

// JournalFor returns the journal of a holder in time order.
func (db *DB) JournalFor(ctx context.Context, holder string) ([]JournalEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT event_id, kind, resource_key, holder, COALESCE(lease_id, ''), at_utc
		FROM rt_claim_journal WHERE holder = ?
		ORDER BY at_utc, rowid
	`, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var at string
		if err := rows.Scan(&e.EventID, &e.Kind, &e.ResourceKey, &e.Holder, &e.LeaseID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetAccuracy implements metrics.AccuracyStore.
func (db *DB) GetAccuracy(ctx context.Context, routeID string, hour int) (*metrics.AccuracyStats, error) {
	var s metrics.AccuracyStats
	err := db.conn.QueryRowContext(ctx, `
		SELECT route_id, hour_of_day, mean_error_sec, stddev_sec, sample_count
		FROM eta_accuracy WHERE route_id = ? AND hour_of_day = ?
	`, routeID, hour).Scan(&s.RouteID, &s.HourOfDay, &s.MeanErrorSec, &s.StdDevSec, &s.SampleCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveAccuracy implements metrics.AccuracyStore.
func (db *DB) SaveAccuracy(ctx context.Context, s metrics.AccuracyStats) error {
	db.LockWrite()
	defer db.UnlockWrite()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO eta_accuracy (route_id, hour_of_day, mean_error_sec, stddev_sec, sample_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (route_id, hour_of_day) DO UPDATE SET
			mean_error_sec = excluded.mean_error_sec,
			stddev_sec = excluded.stddev_sec,
			sample_count = excluded.sample_count,
			updated_at = excluded.updated_at
	`, s.RouteID, s.HourOfDay, s.MeanErrorSec, s.StdDevSec, s.SampleCount, formatTime(time.Now()))
	return err
}

// ListAccuracy returns every accuracy bucket ordered by route and hour.
func (db *DB) ListAccuracy(ctx context.Context) ([]metrics.AccuracyStats, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT route_id, hour_of_day, mean_error_sec, stddev_sec, sample_count
		FROM eta_accuracy ORDER BY route_id, hour_of_day
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accuracy: %w", err)
	}
	defer rows.Close()

	var out []metrics.AccuracyStats
	for rows.Next() {
		var s metrics.AccuracyStats
		if err := rows.Scan(&s.RouteID, &s.HourOfDay, &s.MeanErrorSec, &s.StdDevSec, &s.SampleCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
