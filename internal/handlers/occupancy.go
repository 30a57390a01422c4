package handlers

import (
	"net/http"
	"time"

	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
)

// Ledger is the read side of the occupancy engine used for diagnostics.
type Ledger interface {
	Claims() []occupancy.Claim
	HeldBy(holder occupancy.VehicleID) []occupancy.Claim
	Queue(r occupancy.Resource) []occupancy.QueueEntry
}

type OccupancyHandler struct {
	ledger Ledger
}

func NewOccupancyHandler(ledger Ledger) *OccupancyHandler {
	return &OccupancyHandler{ledger: ledger}
}

// ClaimsResponse is the JSON response structure for GET /api/occupancy/claims
type ClaimsResponse struct {
	Claims      []occupancy.Claim      `json:"claims"`
	Queue       []occupancy.QueueEntry `json:"queue,omitempty"`
	Count       int                    `json:"count"`
	GeneratedAt time.Time              `json:"generatedAt"`
}

// GetClaims handles GET /api/occupancy/claims
// ?holder= limits the claims to one vehicle; ?resource=node:A adds that resource's wait queue.
func (h *OccupancyHandler) GetClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var claims []occupancy.Claim
	if holder := q.Get("holder"); holder != "" {
		claims = h.ledger.HeldBy(holder)
	} else {
		claims = h.ledger.Claims()
	}
	if claims == nil {
		claims = []occupancy.Claim{}
	}

	response := ClaimsResponse{
		Claims:      claims,
		Count:       len(claims),
		GeneratedAt: time.Now().UTC(),
	}

	if key := q.Get("resource"); key != "" {
		res, err := occupancy.ParseKey(key)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid resource", map[string]interface{}{
				"resource": key,
				"internal": err.Error(),
			})
			return
		}
		response.Queue = h.ledger.Queue(res)
	}

	writeJSON(w, http.StatusOK, "no-store", response)
}
