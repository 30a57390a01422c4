package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/mini-rodalies-3d/dispatch/internal/eta"
	"github.com/mini-rodalies-3d/dispatch/internal/progress"
)

type knownRoutes map[string]bool

func (k knownRoutes) Route(id string) (progress.Route, bool) {
	return progress.Route{ID: id}, k[id]
}

type ticketSink struct{ got []eta.Ticket }

func (s *ticketSink) UpsertTickets(_ context.Context, tickets []eta.Ticket) error {
	s.got = append(s.got, tickets...)
	return nil
}

func upstreamFeed(due time.Time) *gtfs.FeedMessage {
	trip := func(tripID, routeID string, stus ...*gtfs.TripUpdate_StopTimeUpdate) *gtfs.FeedEntity {
		return &gtfs.FeedEntity{
			Id: proto.String(tripID),
			TripUpdate: &gtfs.TripUpdate{
				Trip:           &gtfs.TripDescriptor{TripId: proto.String(tripID), RouteId: proto.String(routeID)},
				StopTimeUpdate: stus,
			},
		}
	}
	departs := &gtfs.TripUpdate_StopTimeUpdate{
		StopId:    proto.String("Alpha"),
		Departure: &gtfs.TripUpdate_StopTimeEvent{Time: proto.Int64(due.Unix())},
	}
	arrives := &gtfs.TripUpdate_StopTimeUpdate{
		StopId:  proto.String("Alpha"),
		Arrival: &gtfs.TripUpdate_StopTimeEvent{Time: proto.Int64(due.Add(time.Minute).Unix())},
	}
	untimed := &gtfs.TripUpdate_StopTimeUpdate{StopId: proto.String("Alpha")}

	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfs.FeedEntity{
			trip("t1", "R1", departs),
			trip("t2", "R1", arrives),
			trip("t3", "R9", departs),
			trip("t4", "R1"),
			trip("t5", "R1", untimed),
			{Id: proto.String("alert-only")},
		},
	}
}

func TestForecastTickets(t *testing.T) {
	due := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	tickets, skipped := ForecastTickets(upstreamFeed(due), knownRoutes{"R1": true})

	if skipped != 3 {
		t.Errorf("skipped = %d, want 3", skipped)
	}
	if len(tickets) != 2 {
		t.Fatalf("tickets = %+v", tickets)
	}
	if tickets[0].ID != "tt:t1" || !tickets[0].DueAt.Equal(due) || !tickets[0].Forecast || tickets[0].Origin != "Alpha" {
		t.Errorf("t1 = %+v", tickets[0])
	}
	if !tickets[1].DueAt.Equal(due.Add(time.Minute)) {
		t.Errorf("t2 due = %v, want arrival time fallback", tickets[1].DueAt)
	}
}

func TestTimetablePollerPoll(t *testing.T) {
	due := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	body, err := proto.Marshal(upstreamFeed(due))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trip_updates.pb" {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	sink := &ticketSink{}
	p := NewTimetablePoller(srv.URL+"/trip_updates.pb", knownRoutes{"R1": true}, sink)
	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 2 || len(sink.got) != 2 {
		t.Errorf("stored %d (%d), want 2", n, len(sink.got))
	}

	bad := NewTimetablePoller(srv.URL+"/missing.pb", knownRoutes{}, sink)
	if _, err := bad.Poll(context.Background()); err == nil {
		t.Error("expected error for 404 feed")
	}
}
