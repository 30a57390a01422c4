package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the dispatcher service
type Config struct {
	// Database
	DatabasePath string
	DatabaseURL  string // optional Postgres network registry

	// Network
	World             string
	PathRefreshPeriod time.Duration

	// Scheduling
	TickInterval      time.Duration
	SweepInterval     time.Duration
	RetentionDuration time.Duration

	// Occupancy
	ClaimTTL   time.Duration
	StopWindow int

	// Movement authority and motion
	LookaheadEdges int
	StopMargin     float64 // metres
	CautionMargin  float64 // metres
	DefaultDecel   float64 // m/s²
	DefaultAccel   float64 // m/s²
	DefaultSpeed   float64 // m/s

	// Approach speeds (m/s) at stations and depots
	ApproachStationSpeed float64
	ApproachDepotSpeed   float64

	// Wait estimation
	HeadwayNode     time.Duration
	HeadwayEdge     time.Duration
	HeadwayConflict time.Duration
	SwitchPenalty   time.Duration

	// Timetable feed (optional GTFS-RT TripUpdates projected as forecast tickets)
	TimetableFeedURL  string
	TimetableInterval time.Duration

	// ETA caches
	VehicleETATTL time.Duration
	TicketETATTL  time.Duration
	BoardTTL      time.Duration

	// HTTP
	Port           string
	AllowedOrigins []string
}

// LoadEnvFiles loads .env then .env.local from dir. Missing files are ignored;
// .env.local overrides values already set.
func LoadEnvFiles(dir string) {
	_ = godotenv.Load(dir + "/.env")
	_ = godotenv.Overload(dir + "/.env.local")
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// Database
		DatabasePath: getEnv("SQLITE_DATABASE", "/data/dispatch.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		// Network
		World:             getEnv("WORLD_ID", "default"),
		PathRefreshPeriod: time.Duration(getEnvInt("PATH_REFRESH_SEC", 30)) * time.Second,

		// Scheduling
		TickInterval:      time.Duration(getEnvInt("TICK_INTERVAL_MS", 500)) * time.Millisecond,
		SweepInterval:     time.Duration(getEnvInt("SWEEP_INTERVAL_SEC", 5)) * time.Second,
		RetentionDuration: time.Duration(getEnvInt("RETENTION_HOURS", 24)) * time.Hour,

		// Occupancy
		ClaimTTL:   time.Duration(getEnvInt("CLAIM_TTL_SEC", 30)) * time.Second,
		StopWindow: getEnvInt("STOP_WINDOW", 2),

		// Movement authority and motion
		LookaheadEdges: getEnvInt("LOOKAHEAD_EDGES", 6),
		StopMargin:     getEnvFloat("STOP_MARGIN_M", 10),
		CautionMargin:  getEnvFloat("CAUTION_MARGIN_M", 60),
		DefaultDecel:   getEnvFloat("DEFAULT_DECEL", 0.8),
		DefaultAccel:   getEnvFloat("DEFAULT_ACCEL", 0.6),
		DefaultSpeed:   getEnvFloat("DEFAULT_SPEED", 25),

		ApproachStationSpeed: getEnvFloat("APPROACH_STATION_SPEED", 8),
		ApproachDepotSpeed:   getEnvFloat("APPROACH_DEPOT_SPEED", 4),

		// Wait estimation
		HeadwayNode:     time.Duration(getEnvInt("HEADWAY_NODE_SEC", 90)) * time.Second,
		HeadwayEdge:     time.Duration(getEnvInt("HEADWAY_EDGE_SEC", 60)) * time.Second,
		HeadwayConflict: time.Duration(getEnvInt("HEADWAY_CONFLICT_SEC", 120)) * time.Second,
		SwitchPenalty:   time.Duration(getEnvInt("SWITCH_PENALTY_SEC", 15)) * time.Second,

		// Timetable feed
		TimetableFeedURL:  getEnv("TIMETABLE_FEED_URL", ""),
		TimetableInterval: time.Duration(getEnvInt("TIMETABLE_POLL_SEC", 60)) * time.Second,

		// ETA caches
		VehicleETATTL: getEnvDuration("ETA_VEHICLE_TTL_MS", 1000*time.Millisecond),
		TicketETATTL:  getEnvDuration("ETA_TICKET_TTL_MS", 2000*time.Millisecond),
		BoardTTL:      getEnvDuration("ETA_BOARD_TTL_MS", 2000*time.Millisecond),

		// HTTP
		Port:           getEnv("PORT", "8082"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
