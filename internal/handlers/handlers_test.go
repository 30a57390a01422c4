package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/go-chi/chi/v5"
	"google.golang.org/protobuf/proto"

	"github.com/mini-rodalies-3d/dispatch/internal/eta"
	"github.com/mini-rodalies-3d/dispatch/internal/occupancy"
	"github.com/mini-rodalies-3d/dispatch/internal/progress"
)

var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeETA struct {
	lastTarget  progress.Target
	lastHorizon time.Duration
	lastLine    string
}

func (f *fakeETA) ForVehicle(vehicleID string, target progress.Target) eta.Result {
	f.lastTarget = target
	if vehicleID != "v1" {
		return eta.Unavailable(eta.ReasonNoVehicle)
	}
	return eta.Result{Status: "2 min", EtaEpochMillis: fixedNow.Add(2 * time.Minute).UnixMilli(), Minutes: 2,
		Reasons: []eta.Reason{}, Confidence: eta.ConfidenceHigh, RouteID: "R1"}
}

func (f *fakeETA) ForTicket(ticketID string, target progress.Target) eta.Result {
	f.lastTarget = target
	if ticketID != "T1" {
		return eta.Unavailable(eta.ReasonNoTicket)
	}
	return eta.Unavailable(eta.ReasonNoPath)
}

func (f *fakeETA) Board(station, line string, horizon time.Duration) eta.BoardResult {
	f.lastHorizon = horizon
	f.lastLine = line
	return eta.BoardResult{
		Station: station,
		Line:    line,
		Rows: []eta.BoardRow{{
			RouteID: "R1", Line: "R1", Source: eta.SourceVehicle, VehicleID: "v1",
			EtaEpochMillis: fixedNow.Add(time.Minute).UnixMilli(), Minutes: 1, Confidence: eta.ConfidenceHigh,
		}},
	}
}

type fakeStations []string

func (f fakeStations) Stations() []string { return f }

type fakeStore struct{ err error }

func (f fakeStore) Ping(context.Context) error { return f.err }

type fakeSnapshots struct{ loaded time.Time }

func (f fakeSnapshots) NetworkLoadedAt() time.Time { return f.loaded }

func newTestRouter(t *testing.T, svc *fakeETA, ledger *occupancy.Engine, store fakeStore, snaps fakeSnapshots) http.Handler {
	t.Helper()
	etaHandler := NewETAHandler(svc, fakeStations{"Alpha", "Beta"})
	etaHandler.now = func() time.Time { return fixedNow }
	r := chi.NewRouter()
	Register(r, etaHandler, NewOccupancyHandler(ledger), NewHealthHandler(store, snaps))
	return r
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestVehicleETA(t *testing.T) {
	svc := &fakeETA{}
	h := newTestRouter(t, svc, occupancy.NewEngine(occupancy.Config{}, nil), fakeStore{}, fakeSnapshots{loaded: fixedNow})

	rec := get(t, h, "/api/vehicles/v1/eta?station=Beta")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var res eta.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Minutes != 2 || res.RouteID != "R1" {
		t.Errorf("result = %+v", res)
	}
	if st, ok := svc.lastTarget.(progress.Station); !ok || st.Name != "Beta" {
		t.Errorf("target = %#v", svc.lastTarget)
	}

	get(t, h, "/api/vehicles/v1/eta?node=X")
	if n, ok := svc.lastTarget.(progress.Node); !ok || n.ID != "X" {
		t.Errorf("target = %#v", svc.lastTarget)
	}
	get(t, h, "/api/vehicles/v1/eta")
	if svc.lastTarget != nil {
		t.Errorf("target = %#v, want nil", svc.lastTarget)
	}

	if rec := get(t, h, "/api/vehicles/ghost/eta"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown vehicle status = %d", rec.Code)
	}
}

func TestTicketETAUnavailableIsStillAnAnswer(t *testing.T) {
	h := newTestRouter(t, &fakeETA{}, occupancy.NewEngine(occupancy.Config{}, nil), fakeStore{}, fakeSnapshots{loaded: fixedNow})

	rec := get(t, h, "/api/tickets/T1/eta")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res eta.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Minutes != -1 || len(res.Reasons) != 1 || res.Reasons[0] != eta.ReasonNoPath {
		t.Errorf("result = %+v", res)
	}

	if rec := get(t, h, "/api/tickets/T9/eta"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown ticket status = %d", rec.Code)
	}
}

func TestStationBoard(t *testing.T) {
	svc := &fakeETA{}
	h := newTestRouter(t, svc, occupancy.NewEngine(occupancy.Config{}, nil), fakeStore{}, fakeSnapshots{loaded: fixedNow})

	tests := []struct {
		query   string
		status  int
		horizon time.Duration
	}{
		{"", http.StatusOK, 0},
		{"?horizon=600", http.StatusOK, 10 * time.Minute},
		{"?horizon=9223372036", http.StatusOK, 24 * time.Hour},
		{"?horizon=99999999999999999999", http.StatusOK, 24 * time.Hour},
		{"?horizon=72h", http.StatusOK, 24 * time.Hour},
		{"?horizon=45m&line=R1", http.StatusOK, 45 * time.Minute},
		{"?horizon=-5", http.StatusBadRequest, 0},
		{"?horizon=-99999999999999999999", http.StatusBadRequest, 0},
		{"?horizon=soon", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			svc.lastHorizon = -1
			rec := get(t, h, "/api/stations/Beta/board"+tt.query)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && svc.lastHorizon != tt.horizon {
				t.Errorf("horizon = %v, want %v", svc.lastHorizon, tt.horizon)
			}
		})
	}
	if svc.lastLine != "R1" {
		t.Errorf("line = %q", svc.lastLine)
	}
}

func TestTripUpdatesFeed(t *testing.T) {
	h := newTestRouter(t, &fakeETA{}, occupancy.NewEngine(occupancy.Config{}, nil), fakeStore{}, fakeSnapshots{loaded: fixedNow})

	rec := get(t, h, "/api/feed/trip-updates")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-protobuf" {
		t.Errorf("content type = %q", ct)
	}
	var msg gtfs.FeedMessage
	if err := proto.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	// One row per station board, both stations listed.
	if len(msg.GetEntity()) != 2 {
		t.Errorf("entities = %d, want 2", len(msg.GetEntity()))
	}

	rec = get(t, h, "/api/feed/trip-updates?station=Beta")
	if err := proto.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if len(msg.GetEntity()) != 1 {
		t.Errorf("entities = %d, want 1", len(msg.GetEntity()))
	}
}

func TestClaims(t *testing.T) {
	ledger := occupancy.NewEngine(occupancy.Config{}, nil)
	a := occupancy.NodeResource("A")
	ledger.Acquire("v1", []occupancy.Resource{a}, fixedNow)
	ledger.Acquire("v2", []occupancy.Resource{a}, fixedNow)
	ledger.Acquire("v3", []occupancy.Resource{occupancy.NodeResource("B")}, fixedNow)
	h := newTestRouter(t, &fakeETA{}, ledger, fakeStore{}, fakeSnapshots{loaded: fixedNow})

	rec := get(t, h, "/api/occupancy/claims?resource=node:A")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ClaimsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
	if len(resp.Queue) != 1 || resp.Queue[0].Holder != "v2" {
		t.Errorf("queue = %+v", resp.Queue)
	}

	rec = get(t, h, "/api/occupancy/claims?holder=v3")
	resp = ClaimsResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Claims[0].Key != "node:B" {
		t.Errorf("claims = %+v", resp.Claims)
	}

	if rec := get(t, h, "/api/occupancy/claims?resource=track:1"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad resource status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		store  fakeStore
		snaps  fakeSnapshots
		status int
	}{
		{"ok", fakeStore{}, fakeSnapshots{loaded: fixedNow}, http.StatusOK},
		{"db down", fakeStore{err: errors.New("closed")}, fakeSnapshots{loaded: fixedNow}, http.StatusServiceUnavailable},
		{"no network", fakeStore{}, fakeSnapshots{}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeETA{}, occupancy.NewEngine(occupancy.Config{}, nil), tt.store, tt.snaps)
			if rec := get(t, h, "/health"); rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}
