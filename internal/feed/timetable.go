package feed

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/mini-rodalies-3d/dispatch/internal/eta"
	"github.com/mini-rodalies-3d/dispatch/internal/progress"
)

// ForecastPrefix namespaces ticket ids projected from the timetable feed so they
// never overwrite a real ticket.
const ForecastPrefix = "tt:"

// TicketWriter stores pending tickets.
type TicketWriter interface {
	UpsertTickets(ctx context.Context, tickets []eta.Ticket) error
}

// RouteLookup resolves route ids of the upstream feed.
type RouteLookup interface {
	Route(id string) (progress.Route, bool)
}

// TimetablePoller turns an upstream GTFS-RT TripUpdates feed into forecast tickets.
type TimetablePoller struct {
	url    string
	routes RouteLookup
	store  TicketWriter
	client *http.Client
}

func NewTimetablePoller(url string, routes RouteLookup, store TicketWriter) *TimetablePoller {
	return &TimetablePoller{
		url:    url,
		routes: routes,
		store:  store,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Poll fetches the feed once and upserts the forecast tickets it describes.
func (p *TimetablePoller) Poll(ctx context.Context) (int, error) {
	msg, err := p.fetchFeed(ctx)
	if err != nil {
		return 0, err
	}

	tickets, skipped := ForecastTickets(msg, p.routes)
	if skipped > 0 {
		log.Printf("Timetable: skipped %d trips with unknown routes or no stop times", skipped)
	}
	if len(tickets) == 0 {
		return 0, nil
	}
	if err := p.store.UpsertTickets(ctx, tickets); err != nil {
		return 0, fmt.Errorf("failed to store forecast tickets: %w", err)
	}
	return len(tickets), nil
}

// ForecastTickets maps each TripUpdate to a forecast ticket departing from its
// first stop. It returns the tickets and the number of trips it could not use.
func ForecastTickets(msg *gtfs.FeedMessage, routes RouteLookup) ([]eta.Ticket, int) {
	var tickets []eta.Ticket
	skipped := 0
	for _, entity := range msg.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil || tu.GetTrip().GetTripId() == "" {
			continue
		}

		routeID := tu.GetTrip().GetRouteId()
		if _, ok := routes.Route(routeID); !ok {
			skipped++
			continue
		}

		stops := tu.GetStopTimeUpdate()
		if len(stops) == 0 || stops[0].GetStopId() == "" {
			skipped++
			continue
		}
		first := stops[0]

		var due int64
		switch {
		case first.GetDeparture().GetTime() > 0:
			due = first.GetDeparture().GetTime()
		case first.GetArrival().GetTime() > 0:
			due = first.GetArrival().GetTime()
		default:
			skipped++
			continue
		}

		tickets = append(tickets, eta.Ticket{
			ID:       ForecastPrefix + tu.GetTrip().GetTripId(),
			RouteID:  routeID,
			Origin:   first.GetStopId(),
			DueAt:    time.Unix(due, 0).UTC(),
			Forecast: true,
		})
	}
	return tickets, skipped
}

// fetchFeed fetches the GTFS-RT feed
func (p *TimetablePoller) fetchFeed(ctx context.Context) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	msg := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}

	return msg, nil
}
