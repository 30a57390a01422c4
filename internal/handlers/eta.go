package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mini-rodalies-3d/dispatch/internal/eta"
	"github.com/mini-rodalies-3d/dispatch/internal/feed"
	"github.com/mini-rodalies-3d/dispatch/internal/progress"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

// ETAService answers ETA and board queries. *eta.Service implements it.
type ETAService interface {
	ForVehicle(vehicleID string, target progress.Target) eta.Result
	ForTicket(ticketID string, target progress.Target) eta.Result
	Board(station, line string, horizon time.Duration) eta.BoardResult
}

// StationDirectory lists the stations boards can be built for.
type StationDirectory interface {
	Stations() []string
}

// ETAHandler serves the read-only ETA surface. None of its routes acquire
// occupancy.
type ETAHandler struct {
	svc      ETAService
	stations StationDirectory
	now      func() time.Time
}

func NewETAHandler(svc ETAService, stations StationDirectory) *ETAHandler {
	return &ETAHandler{svc: svc, stations: stations, now: time.Now}
}

// parseTarget reads ?station= or ?node=. Neither means the next stop.
func parseTarget(r *http.Request) progress.Target {
	q := r.URL.Query()
	if station := q.Get("station"); station != "" {
		return progress.Station{Name: station}
	}
	if node := q.Get("node"); node != "" {
		return progress.Node{ID: railgraph.NodeID(node)}
	}
	return nil
}

func notFoundReason(res eta.Result) bool {
	for _, reason := range res.Reasons {
		if reason == eta.ReasonNoVehicle || reason == eta.ReasonNoTicket {
			return true
		}
	}
	return false
}

// GetVehicleETA handles GET /api/vehicles/{vehicleID}/eta
func (h *ETAHandler) GetVehicleETA(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicleID parameter is required", nil)
		return
	}

	res := h.svc.ForVehicle(vehicleID, parseTarget(r))
	if notFoundReason(res) {
		writeError(w, http.StatusNotFound, "Vehicle not found", map[string]interface{}{
			"vehicleId": vehicleID,
		})
		return
	}
	writeJSON(w, http.StatusOK, "public, max-age=2", res)
}

// GetTicketETA handles GET /api/tickets/{ticketID}/eta
func (h *ETAHandler) GetTicketETA(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	if ticketID == "" {
		writeError(w, http.StatusBadRequest, "ticketID parameter is required", nil)
		return
	}

	res := h.svc.ForTicket(ticketID, parseTarget(r))
	if notFoundReason(res) {
		writeError(w, http.StatusNotFound, "Ticket not found", map[string]interface{}{
			"ticketId": ticketID,
		})
		return
	}
	writeJSON(w, http.StatusOK, "public, max-age=2", res)
}

// maxHorizon caps board horizons.
const maxHorizon = 24 * time.Hour

// parseHorizon accepts whole seconds or a Go duration ("45m"). Empty means the
// service default. Longer horizons are clamped to maxHorizon.
func parseHorizon(s string) (time.Duration, bool) {
	if s == "" {
		return 0, true
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec <= 0 {
			return 0, false
		}
		if sec >= int64(maxHorizon/time.Second) {
			return maxHorizon, true
		}
		return time.Duration(sec) * time.Second, true
	} else if errors.Is(err, strconv.ErrRange) {
		return maxHorizon, !strings.HasPrefix(s, "-")
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return min(d, maxHorizon), true
}

// GetStationBoard handles GET /api/stations/{station}/board
func (h *ETAHandler) GetStationBoard(w http.ResponseWriter, r *http.Request) {
	station := chi.URLParam(r, "station")
	if station == "" {
		writeError(w, http.StatusBadRequest, "station parameter is required", nil)
		return
	}
	horizon, ok := parseHorizon(r.URL.Query().Get("horizon"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid horizon", map[string]interface{}{
			"horizon": r.URL.Query().Get("horizon"),
		})
		return
	}

	board := h.svc.Board(station, r.URL.Query().Get("line"), horizon)
	writeJSON(w, http.StatusOK, "public, max-age=5, stale-while-revalidate=5", board)
}

// GetTripUpdates handles GET /api/feed/trip-updates
// Returns a GTFS-Realtime protobuf of the boards of every station, or of ?station=.
func (h *ETAHandler) GetTripUpdates(w http.ResponseWriter, r *http.Request) {
	var stations []string
	if s := r.URL.Query().Get("station"); s != "" {
		stations = strings.Split(s, ",")
	} else if h.stations != nil {
		stations = h.stations.Stations()
	}

	boards := make([]eta.BoardResult, 0, len(stations))
	for _, station := range stations {
		boards = append(boards, h.svc.Board(station, "", 0))
	}

	body, err := feed.Marshal(feed.TripUpdates(boards, h.now()))
	if err != nil {
		log.Printf("Feed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to encode feed", nil)
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Cache-Control", "public, max-age=5")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
