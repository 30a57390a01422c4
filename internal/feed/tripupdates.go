// Package feed exports ETAs as a GTFS-Realtime TripUpdates feed.
package feed

import (
	"fmt"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/mini-rodalies-3d/dispatch/internal/eta"
)

const gtfsRealtimeVersion = "2.0"

// uncertaintySec maps ETA confidence to the StopTimeEvent uncertainty.
var uncertaintySec = map[eta.Confidence]int32{
	eta.ConfidenceHigh:   30,
	eta.ConfidenceMedium: 120,
	eta.ConfidenceLow:    300,
}

// TripUpdates builds a full-dataset feed with one TripUpdate per available
// board row. The station name is used as the stop id.
func TripUpdates(boards []eta.BoardResult, now time.Time) *gtfs.FeedMessage {
	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}

	seen := make(map[string]bool)
	for _, board := range boards {
		for _, row := range board.Rows {
			if row.EtaEpochMillis <= 0 {
				continue
			}
			id := entityID(board.Station, row)
			if seen[id] {
				continue
			}
			seen[id] = true
			msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
				Id:         proto.String(id),
				TripUpdate: tripUpdate(board.Station, row, now),
			})
		}
	}
	return msg
}

// Marshal encodes a feed message in the protobuf wire format.
func Marshal(msg *gtfs.FeedMessage) ([]byte, error) {
	b, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode feed: %w", err)
	}
	return b, nil
}

func tripUpdate(station string, row eta.BoardRow, now time.Time) *gtfs.TripUpdate {
	relationship := gtfs.TripDescriptor_SCHEDULED
	if row.Source == eta.SourceForecast {
		relationship = gtfs.TripDescriptor_ADDED
	}

	tu := &gtfs.TripUpdate{
		Trip: &gtfs.TripDescriptor{
			TripId:               proto.String(tripID(row)),
			RouteId:              proto.String(row.RouteID),
			ScheduleRelationship: relationship.Enum(),
		},
		StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{{
			StopId: proto.String(station),
			Arrival: &gtfs.TripUpdate_StopTimeEvent{
				Time:        proto.Int64(row.EtaEpochMillis / 1000),
				Uncertainty: proto.Int32(uncertaintySec[row.Confidence]),
			},
			ScheduleRelationship: gtfs.TripUpdate_StopTimeUpdate_SCHEDULED.Enum(),
		}},
		Timestamp: proto.Uint64(uint64(now.Unix())),
	}
	if row.DepartAtMillis > 0 {
		tu.Trip.StartTime = proto.String(time.UnixMilli(row.DepartAtMillis).UTC().Format("15:04:05"))
		tu.Trip.StartDate = proto.String(time.UnixMilli(row.DepartAtMillis).UTC().Format("20060102"))
	}
	if row.VehicleID != "" {
		tu.Vehicle = &gtfs.VehicleDescriptor{
			Id:    proto.String(row.VehicleID),
			Label: proto.String(row.Line),
		}
	}
	return tu
}

// tripID names the service slot a row stands for: the ticket when there is one,
// otherwise the vehicle.
func tripID(row eta.BoardRow) string {
	if row.TicketID != "" {
		return row.TicketID
	}
	return row.VehicleID
}

func entityID(station string, row eta.BoardRow) string {
	return row.Source + ":" + tripID(row) + "@" + station
}
