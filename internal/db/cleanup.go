package db

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Cleanup deletes history older than the specified retention duration
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) error {
	hours := int(retention.Hours())
	if hours < 1 {
		hours = 1
	}

	db.LockWrite()
	defer db.UnlockWrite()

	queries := []struct {
		name  string
		query string
	}{
		{
			name:  "command_history",
			query: fmt.Sprintf("DELETE FROM rt_vehicle_command_history WHERE datetime(issued_at_utc) < datetime('now', '-%d hours')", hours),
		},
		{
			name:  "claim_journal",
			query: fmt.Sprintf("DELETE FROM rt_claim_journal WHERE datetime(at_utc) < datetime('now', '-%d hours')", hours),
		},
		{
			name:  "dispatched_tickets",
			query: fmt.Sprintf("DELETE FROM rt_tickets WHERE status = 'dispatched' AND datetime(updated_at) < datetime('now', '-%d hours')", hours),
		},
	}

	totalDeleted := 0
	for _, q := range queries {
		result, err := db.conn.ExecContext(ctx, q.query)
		if err != nil {
			return fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		rows, _ := result.RowsAffected()
		totalDeleted += int(rows)
	}

	if totalDeleted > 0 {
		log.Printf("Cleanup: deleted %d records older than %d hours", totalDeleted, hours)
	}

	return nil
}
