package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mini-rodalies-3d/dispatch/internal/aspect"
	"github.com/mini-rodalies-3d/dispatch/internal/dispatch"
	"github.com/mini-rodalies-3d/dispatch/internal/eta"
	"github.com/mini-rodalies-3d/dispatch/internal/metrics"
	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
	"github.com/mini-rodalies-3d/dispatch/internal/progress"
	"github.com/mini-rodalies-3d/dispatch/internal/railgraph"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Connect(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return db
}

func f(v float64) *float64 { return &v }

func testNetwork() (railgraph.GraphData, []progress.Route) {
	data := railgraph.GraphData{
		World: "w1",
		Nodes: []railgraph.Node{
			{ID: "A", Kind: railgraph.KindStation, Station: "Alpha", Platform: "1"},
			{ID: "J", Kind: railgraph.KindSwitch, Conflicts: []string{"switcher:J"}},
			{ID: "B", Kind: railgraph.KindStation, Station: "Beta", Platform: "2"},
		},
		Edges: []railgraph.Edge{
			{A: "A", B: "J", Length: 100, SpeedLimit: f(20), Bidirectional: true},
			{A: "J", B: "B", Length: 250, Bidirectional: false},
		},
	}
	routes := []progress.Route{{
		ID:        "R1-north",
		Waypoints: []railgraph.NodeID{"A", "J", "B"},
		Meta:      progress.RouteMeta{Operator: "rodalies", Line: "R1", Service: "north", DisplayName: "Beta"},
	}}
	return data, routes
}

func TestNetworkRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	data, routes := testNetwork()

	if err := db.SaveNetwork(ctx, data, routes); err != nil {
		t.Fatalf("SaveNetwork: %v", err)
	}
	// Saving twice replaces rather than duplicates.
	if err := db.SaveNetwork(ctx, data, routes); err != nil {
		t.Fatalf("SaveNetwork again: %v", err)
	}

	g, err := db.LoadGraph(ctx, "w1")
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if g.NodeCount() != 3 || g.EdgeCount() != 2 {
		t.Fatalf("got %d nodes, %d edges", g.NodeCount(), g.EdgeCount())
	}
	j, _ := g.Node("J")
	if len(j.Conflicts) != 1 || j.Conflicts[0] != "switcher:J" {
		t.Errorf("conflicts = %v", j.Conflicts)
	}
	e, ok := g.Edge("A", "J")
	if !ok || e.SpeedLimit == nil || *e.SpeedLimit != 20 {
		t.Errorf("edge A-J = %+v", e)
	}
	if e, ok := g.Edge("J", "B"); !ok || e.SpeedLimit != nil || e.Bidirectional {
		t.Errorf("edge J-B = %+v", e)
	}

	got, err := db.LoadRoutes(ctx)
	if err != nil {
		t.Fatalf("LoadRoutes: %v", err)
	}
	if len(got) != 1 || len(got[0].Waypoints) != 3 || got[0].Waypoints[2] != "B" {
		t.Fatalf("routes = %+v", got)
	}
	if got[0].Meta != routes[0].Meta {
		t.Errorf("meta = %+v", got[0].Meta)
	}

	if _, err := db.LoadGraph(ctx, "missing"); err == nil {
		t.Error("expected error for unknown world")
	}
}

func TestSnapshotsServeSources(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	data, routes := testNetwork()
	if err := db.SaveNetwork(ctx, data, routes); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	dwell := 12.0
	vehicles := []eta.VehicleSnapshot{
		{ID: "v2", RouteID: "R1-north", WaypointIndex: 1, CurrentNode: "J", LastPassed: "A", Speed: 8, Aspect: aspect.Caution, UpdatedAt: now},
		{ID: "v1", RouteID: "R1-north", CurrentNode: "A", DwellRemaining: &dwell, DepartAt: now.Add(time.Minute), TicketID: "T1", UpdatedAt: now},
	}
	if err := db.UpsertVehicles(ctx, vehicles); err != nil {
		t.Fatalf("UpsertVehicles: %v", err)
	}
	tickets := []eta.Ticket{
		{ID: "T2", RouteID: "R1-north", Origin: "Alpha", DueAt: now.Add(10 * time.Minute), Forecast: true},
		{ID: "T1", RouteID: "R1-north", Origin: "Alpha", DueAt: now.Add(time.Minute), NotBefore: now.Add(2 * time.Minute)},
		{ID: "T3", RouteID: "R1-north", Origin: "Alpha", DueAt: now.Add(20 * time.Minute)},
	}
	if err := db.UpsertTickets(ctx, tickets); err != nil {
		t.Fatalf("UpsertTickets: %v", err)
	}
	if err := db.MarkTicketDispatched(ctx, "T3"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertLayover(ctx, eta.LayoverCandidate{VehicleID: "v9", Origin: "Alpha", ReadyAt: now.Add(5 * time.Minute)}); err != nil {
		t.Fatal(err)
	}

	s := NewSnapshots(db, db, "w1")
	if _, ok := s.Graph("w1"); ok {
		t.Fatal("graph served before refresh")
	}
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, ok := s.Graph("w1"); !ok {
		t.Error("graph w1 missing")
	}
	if r, ok := s.RouteByCodes("rodalies", "R1", "north"); !ok || r.ID != "R1-north" {
		t.Errorf("RouteByCodes = %+v, %v", r, ok)
	}
	if _, ok := s.Route("nope"); ok {
		t.Error("unexpected route")
	}

	vs := s.Vehicles()
	if len(vs) != 2 || vs[0].ID != "v1" {
		t.Fatalf("vehicles = %+v", vs)
	}
	v1, _ := s.Vehicle("v1")
	if v1.DwellRemaining == nil || *v1.DwellRemaining != 12 || v1.TicketID != "T1" || !v1.DepartAt.Equal(now.Add(time.Minute)) {
		t.Errorf("v1 = %+v", v1)
	}
	v2, _ := s.Vehicle("v2")
	if v2.Aspect != aspect.Caution || v2.LastPassed != "A" || v2.DwellRemaining != nil {
		t.Errorf("v2 = %+v", v2)
	}

	pending := s.PendingTickets()
	if len(pending) != 2 || pending[0].ID != "T1" || pending[1].ID != "T2" {
		t.Fatalf("pending = %+v", pending)
	}
	if t1, _ := s.Ticket("T1"); !t1.NotBefore.Equal(now.Add(2 * time.Minute)) {
		t.Errorf("T1 notBefore = %v", t1.NotBefore)
	}
	if t2, _ := s.Ticket("T2"); !t2.Forecast || !t2.NotBefore.IsZero() {
		t.Errorf("T2 = %+v", t2)
	}
	if _, ok := s.Ticket("T3"); ok {
		t.Error("dispatched ticket still pending")
	}

	if c := s.Candidates("Alpha"); len(c) != 1 || c[0].VehicleID != "v9" {
		t.Errorf("candidates = %+v", c)
	}
	if c := s.Candidates("Beta"); len(c) != 0 {
		t.Errorf("unexpected candidates at Beta: %+v", c)
	}

	// v1 runs T1, so settling leaves only the forecast pending.
	n, err := db.SettleTickets(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SettleTickets = %d, %v", n, err)
	}
	if err := s.RefreshRealtime(ctx); err != nil {
		t.Fatal(err)
	}
	if pending := s.PendingTickets(); len(pending) != 1 || pending[0].ID != "T2" {
		t.Errorf("pending after settle = %+v", pending)
	}
	if got := s.Stations(); len(got) != 2 || got[0] != "Alpha" {
		t.Errorf("Stations = %v", got)
	}
	if p, err := s.Searcher("w1").ShortestPath("A", "B"); err != nil || p.Length != 350 {
		t.Errorf("ShortestPath = %+v, %v", p, err)
	}
	if _, err := s.Searcher("w9").ShortestPath("A", "B"); err == nil {
		t.Error("expected error for unloaded world")
	}
}

func TestApplyCommands(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	first := []dispatch.Command{{VehicleID: "v1", TargetSpeed: 15, NextSpeed: 11, Aspect: aspect.Proceed, IssuedAt: now}}
	second := []dispatch.Command{{VehicleID: "v1", Aspect: aspect.Stop, Hold: true, Restricted: true, Reason: "dwell", IssuedAt: now.Add(time.Second)}}
	if err := db.Apply(ctx, first); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := db.Apply(ctx, second); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	c, ok, err := db.Command(ctx, "v1")
	if err != nil || !ok {
		t.Fatalf("Command: %v, %v", ok, err)
	}
	if c.Aspect != aspect.Stop || !c.Hold || !c.Restricted || c.Reason != "dwell" || !c.IssuedAt.Equal(now.Add(time.Second)) {
		t.Errorf("command = %+v", c)
	}
	if _, ok, _ := db.Command(ctx, "v2"); ok {
		t.Error("unexpected command for v2")
	}

	var n int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM rt_vehicle_command_history WHERE vehicle_id = 'v1'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("history rows = %d, want 2", n)
	}
}

func TestJournalRecordsLedgerEvents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	engine := occupancy.NewEngine(occupancy.Config{}, db)
	path := []occupancy.Resource{occupancy.NodeResource("A"), occupancy.EdgeResource(railgraph.EdgeKey("A", "J"))}
	if d := engine.Acquire("v1", path, now); !d.Allowed {
		t.Fatalf("Acquire denied: %+v", d)
	}
	if d := engine.Acquire("v2", path, now); d.Allowed {
		t.Fatal("second holder should be denied")
	}
	engine.Release("v1", now.Add(time.Second))

	v1, err := db.JournalFor(ctx, "v1")
	if err != nil {
		t.Fatalf("JournalFor: %v", err)
	}
	if len(v1) != 4 {
		t.Fatalf("v1 journal = %+v", v1)
	}
	for i, e := range v1 {
		want := string(occupancy.EventGranted)
		if i >= 2 {
			want = string(occupancy.EventReleased)
		}
		if e.Kind != want {
			t.Errorf("entry %d kind = %s, want %s", i, e.Kind, want)
		}
		if e.LeaseID == "" || e.EventID == "" {
			t.Errorf("entry %d missing ids: %+v", i, e)
		}
	}

	v2, err := db.JournalFor(ctx, "v2")
	if err != nil {
		t.Fatal(err)
	}
	if len(v2) != 1 || v2[0].Kind != string(occupancy.EventQueued) || v2[0].ResourceKey != "node:A" {
		t.Errorf("v2 journal = %+v", v2)
	}
}

func TestAccuracyStoreWithLearner(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	learner := metrics.NewAccuracyLearner(db, time.UTC)
	predicted := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	if s, err := db.GetAccuracy(ctx, "R1", 8); err != nil || s != nil {
		t.Fatalf("empty store returned %+v, %v", s, err)
	}
	for _, late := range []time.Duration{10 * time.Second, 30 * time.Second} {
		if _, err := learner.Observe(ctx, "R1", predicted, predicted.Add(late)); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}

	s, err := db.GetAccuracy(ctx, "R1", 8)
	if err != nil || s == nil {
		t.Fatalf("GetAccuracy: %+v, %v", s, err)
	}
	if s.SampleCount != 2 || s.MeanErrorSec != 20 {
		t.Errorf("stats = %+v", s)
	}
	all, err := db.ListAccuracy(ctx)
	if err != nil || len(all) != 1 {
		t.Errorf("ListAccuracy = %+v, %v", all, err)
	}
}

func TestCleanupDropsOldHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()

	cmds := []dispatch.Command{
		{VehicleID: "v1", Aspect: aspect.Proceed, IssuedAt: old},
		{VehicleID: "v2", Aspect: aspect.Proceed, IssuedAt: fresh},
	}
	if err := db.Apply(ctx, cmds); err != nil {
		t.Fatal(err)
	}
	db.Record([]occupancy.Event{
		{Kind: occupancy.EventGranted, Resource: occupancy.NodeResource("A"), Holder: "v1", At: old},
		{Kind: occupancy.EventGranted, Resource: occupancy.NodeResource("B"), Holder: "v2", At: fresh},
	})

	if err := db.Cleanup(ctx, 24*time.Hour); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	count := func(q string) int {
		var n int
		if err := db.conn.QueryRow(q).Scan(&n); err != nil {
			t.Fatal(err)
		}
		return n
	}
	if n := count("SELECT COUNT(*) FROM rt_vehicle_command_history"); n != 1 {
		t.Errorf("history rows = %d, want 1", n)
	}
	if n := count("SELECT COUNT(*) FROM rt_claim_journal"); n != 1 {
		t.Errorf("journal rows = %d, want 1", n)
	}
	// Current commands are not history.
	if n := count("SELECT COUNT(*) FROM rt_vehicle_commands"); n != 2 {
		t.Errorf("current commands = %d, want 2", n)
	}
}
