package handlers

import (
	"context"
	"net/http"
	"time"
)

// StoreChecker checks database connectivity.
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// SnapshotChecker reports the age of the in-memory network.
type SnapshotChecker interface {
	NetworkLoadedAt() time.Time
}

type HealthHandler struct {
	store     StoreChecker
	snapshots SnapshotChecker
}

func NewHealthHandler(store StoreChecker, snapshots SnapshotChecker) *HealthHandler {
	return &HealthHandler{store: store, snapshots: snapshots}
}

// GetHealth handles GET /health
// Returns 503 when the database is unreachable or no network has been loaded.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, "", map[string]interface{}{
			"status":    "error",
			"database":  "disconnected",
			"timestamp": time.Now().UTC(),
			"error":     err.Error(),
		})
		return
	}

	loadedAt := h.snapshots.NetworkLoadedAt()
	if loadedAt.IsZero() {
		writeJSON(w, http.StatusServiceUnavailable, "", map[string]interface{}{
			"status":    "starting",
			"database":  "connected",
			"network":   "not loaded",
			"timestamp": time.Now().UTC(),
		})
		return
	}

	writeJSON(w, http.StatusOK, "", map[string]interface{}{
		"status":          "ok",
		"database":        "connected",
		"networkLoadedAt": loadedAt.UTC(),
		"timestamp":       time.Now().UTC(),
	})
}
