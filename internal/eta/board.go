package eta

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mini-rodalies-3d/dispatch/internal/progress"
)

// Row sources.
const (
	SourceVehicle  = "vehicle"
	SourceTicket   = "ticket"
	SourceForecast = "forecast"
)

// BoardRow is one departure or arrival line on a station board.
type BoardRow struct {
	Line           string     `json:"line"`
	RouteID        string     `json:"routeId"`
	Destination    string     `json:"destination"`
	Platform       string     `json:"platform,omitempty"`
	Status         string     `json:"status"`
	Reasons        []Reason   `json:"reasons"`
	Arriving       bool       `json:"arriving"`
	EtaEpochMillis int64      `json:"etaEpochMillis"`
	Minutes        int        `json:"minutes"`
	Confidence     Confidence `json:"confidence"`
	Source         string     `json:"source"`
	VehicleID      string     `json:"vehicleId,omitempty"`
	TicketID       string     `json:"ticketId,omitempty"`
	DepartAtMillis int64      `json:"departAtMillis,omitempty"`
}

type BoardResult struct {
	Station     string     `json:"station"`
	Line        string     `json:"line,omitempty"`
	GeneratedAt time.Time  `json:"generatedAt"`
	HorizonSec  int        `json:"horizonSec"`
	Rows        []BoardRow `json:"rows"`
}

type slot struct {
	routeID  string
	departAt int64
}

// Board lists vehicles and pending tickets reaching station within horizon,
// ordered by ETA. line filters by route line code when non-empty. A ticket whose
// (route, departure) slot already has a row is suppressed.
func (s *Service) Board(station, line string, horizon time.Duration) BoardResult {
	if horizon <= 0 {
		horizon = s.cfg.DefaultHorizon
	}
	key := station + "|" + line + "|" + strconv.FormatInt(int64(horizon/time.Second), 10)
	return s.boards.GetOrCompute(key, func() BoardResult {
		return s.buildBoard(station, line, horizon, s.deps.Now())
	})
}

func (s *Service) buildBoard(station, line string, horizon time.Duration, now time.Time) BoardResult {
	out := BoardResult{
		Station:     station,
		Line:        line,
		GeneratedAt: now,
		HorizonSec:  int(horizon / time.Second),
		Rows:        []BoardRow{},
	}
	limit := now.Add(horizon).UnixMilli()
	target := progress.Station{Name: station}
	seenSlots := make(map[slot]bool)
	seenTickets := make(map[string]bool)

	emit := func(row BoardRow) {
		if row.DepartAtMillis > 0 {
			k := slot{row.RouteID, row.DepartAtMillis}
			if seenSlots[k] {
				return
			}
			seenSlots[k] = true
		}
		out.Rows = append(out.Rows, row)
	}
	keep := func(r Result) bool {
		return r.Available() && r.EtaEpochMillis <= limit
	}

	for _, v := range s.deps.Vehicles.Vehicles() {
		if !s.matchesLine(v.RouteID, line) {
			continue
		}
		r, pl := s.vehicleETA(v, target, now)
		if v.TicketID != "" {
			seenTickets[v.TicketID] = true
		}
		if !keep(r) {
			continue
		}
		row := s.row(r, pl, SourceVehicle)
		row.VehicleID = v.ID
		row.TicketID = v.TicketID
		if !v.DepartAt.IsZero() {
			row.DepartAtMillis = v.DepartAt.UnixMilli()
		}
		emit(row)
	}

	if s.deps.Tickets != nil {
		pending := append([]Ticket(nil), s.deps.Tickets.PendingTickets()...)
		// Real tickets claim their slot before forecasts.
		sort.SliceStable(pending, func(i, j int) bool { return !pending[i].Forecast && pending[j].Forecast })
		for _, t := range pending {
			if seenTickets[t.ID] || !s.matchesLine(t.RouteID, line) {
				continue
			}
			r, pl := s.ticketETA(t, target, now)
			if !keep(r) {
				continue
			}
			source := SourceTicket
			if t.Forecast {
				source = SourceForecast
			}
			row := s.row(r, pl, source)
			row.TicketID = t.ID
			row.DepartAtMillis = t.DueAt.UnixMilli()
			emit(row)
		}
	}

	sort.SliceStable(out.Rows, func(i, j int) bool {
		if out.Rows[i].EtaEpochMillis != out.Rows[j].EtaEpochMillis {
			return out.Rows[i].EtaEpochMillis < out.Rows[j].EtaEpochMillis
		}
		return out.Rows[i].RouteID < out.Rows[j].RouteID
	})
	return out
}

func (s *Service) matchesLine(routeID, line string) bool {
	if line == "" {
		return true
	}
	route, ok := s.deps.Routes.Route(routeID)
	return ok && strings.EqualFold(route.Meta.Line, line)
}

func (s *Service) row(r Result, pl plan, source string) BoardRow {
	row := BoardRow{
		Line:           pl.route.Meta.Line,
		RouteID:        r.RouteID,
		Destination:    pl.route.Meta.DisplayName,
		Status:         r.Status,
		Reasons:        r.Reasons,
		Arriving:       r.Arriving,
		EtaEpochMillis: r.EtaEpochMillis,
		Minutes:        r.Minutes,
		Confidence:     r.Confidence,
		Source:         source,
	}
	if pl.graph != nil {
		if n, ok := pl.graph.Node(r.Target); ok {
			row.Platform = n.Platform
		}
		if dest, ok := pl.graph.Node(pl.route.Destination()); ok && dest.Station != "" {
			row.Destination = dest.Station
		}
	}
	return row
}
