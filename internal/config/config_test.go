package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"WORLD_ID", "TICK_INTERVAL_MS", "STOP_WINDOW", "ETA_BOARD_TTL_MS", "ALLOWED_ORIGINS", "TIMETABLE_FEED_URL", "TIMETABLE_POLL_SEC"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.World != "default" {
		t.Errorf("World = %q", cfg.World)
	}
	if cfg.TickInterval != 500*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.TickInterval)
	}
	if cfg.StopWindow != 2 {
		t.Errorf("StopWindow = %d", cfg.StopWindow)
	}
	if cfg.BoardTTL != 2*time.Second {
		t.Errorf("BoardTTL = %v", cfg.BoardTTL)
	}
	if len(cfg.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.TimetableFeedURL != "" || cfg.TimetableInterval != time.Minute {
		t.Errorf("timetable = %q every %v", cfg.TimetableFeedURL, cfg.TimetableInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORLD_ID", "overworld")
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("STOP_MARGIN_M", "12.5")
	t.Setenv("ETA_VEHICLE_TTL_MS", "0")
	t.Setenv("HEADWAY_CONFLICT_SEC", "45")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("LOOKAHEAD_EDGES", "not-a-number")

	cfg := Load()
	if cfg.World != "overworld" || cfg.TickInterval != 250*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.StopMargin != 12.5 {
		t.Errorf("StopMargin = %v", cfg.StopMargin)
	}
	if cfg.VehicleETATTL != 0 {
		t.Errorf("VehicleETATTL = %v, want 0 (cache disabled)", cfg.VehicleETATTL)
	}
	if cfg.HeadwayConflict != 45*time.Second {
		t.Errorf("HeadwayConflict = %v", cfg.HeadwayConflict)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.LookaheadEdges != 6 {
		t.Errorf("LookaheadEdges = %d, want default on parse error", cfg.LookaheadEdges)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WORLD_ID=from-env\nPORT=9000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env.local"), []byte("WORLD_ID=from-local\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// Register the keys so t.Setenv restores them after the test.
	t.Setenv("WORLD_ID", "")
	t.Setenv("PORT", "")
	os.Unsetenv("WORLD_ID")
	os.Unsetenv("PORT")

	LoadEnvFiles(dir)
	cfg := Load()
	if cfg.World != "from-local" {
		t.Errorf("World = %q, want .env.local override", cfg.World)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q", cfg.Port)
	}
}
