package handlers

import (
	"log"

	"github.com/go-chi/chi/v5"
)

// Register mounts every route on r.
func Register(r chi.Router, etaHandler *ETAHandler, occupancyHandler *OccupancyHandler, healthHandler *HealthHandler) {
	r.Get("/health", healthHandler.GetHealth)

	r.Get("/api/vehicles/{vehicleID}/eta", etaHandler.GetVehicleETA)
	r.Get("/api/tickets/{ticketID}/eta", etaHandler.GetTicketETA)
	r.Get("/api/stations/{station}/board", etaHandler.GetStationBoard)
	r.Get("/api/feed/trip-updates", etaHandler.GetTripUpdates)

	r.Get("/api/occupancy/claims", occupancyHandler.GetClaims)
}

// LogRoutes prints the route table at startup.
func LogRoutes() {
	log.Println("ETA endpoints:")
	log.Println("  GET /api/vehicles/{vehicleID}/eta?station=&node=")
	log.Println("  GET /api/tickets/{ticketID}/eta?station=")
	log.Println("  GET /api/stations/{station}/board?line=&horizon=")
	log.Println("  GET /api/feed/trip-updates?station=")
	log.Println("Occupancy endpoints:")
	log.Println("  GET /api/occupancy/claims?holder=&resource=")
	log.Println("Health:")
	log.Println("  GET /health (with database check)")
}
