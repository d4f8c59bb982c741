// Package feedtest builds GTFS-RT fixtures for tests.
package feedtest

import (
	"testing"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// HeaderTimestamp is the header timestamp used by Message
const HeaderTimestamp = 1700000000

// Message wraps entities in a FeedMessage with a valid header
func Message(entities ...*gtfs.FeedEntity) *gtfs.FeedMessage {
	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(HeaderTimestamp),
		},
		Entity: entities,
	}
}

// Marshal encodes msg, failing the test on error
func Marshal(t testing.TB, msg *gtfs.FeedMessage) []byte {
	t.Helper()
	data, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal feed message: %v", err)
	}
	return data
}

// Payload is Marshal(t, Message(entities...))
func Payload(t testing.TB, entities ...*gtfs.FeedEntity) []byte {
	t.Helper()
	return Marshal(t, Message(entities...))
}

// TripUpdateEntity builds a trip update entity with the given stop-time-updates
func TripUpdateEntity(id, tripID, routeID, startDate string, stops ...*gtfs.TripUpdate_StopTimeUpdate) *gtfs.FeedEntity {
	trip := &gtfs.TripDescriptor{
		TripId:               proto.String(tripID),
		RouteId:              proto.String(routeID),
		ScheduleRelationship: gtfs.TripDescriptor_SCHEDULED.Enum(),
	}
	if startDate != "" {
		trip.StartDate = proto.String(startDate)
	}
	return &gtfs.FeedEntity{
		Id: proto.String(id),
		TripUpdate: &gtfs.TripUpdate{
			Trip:           trip,
			StopTimeUpdate: stops,
		},
	}
}

// StopTimeUpdate builds a stop-time-update. A nil arrival or departure is omitted.
func StopTimeUpdate(stopID string, arrival, departure *int64) *gtfs.TripUpdate_StopTimeUpdate {
	stu := &gtfs.TripUpdate_StopTimeUpdate{StopId: proto.String(stopID)}
	if arrival != nil {
		stu.Arrival = &gtfs.TripUpdate_StopTimeEvent{Time: arrival}
	}
	if departure != nil {
		stu.Departure = &gtfs.TripUpdate_StopTimeEvent{Time: departure}
	}
	return stu
}

// VehicleEntity builds a vehicle entity in IN_TRANSIT_TO
func VehicleEntity(id, tripID, routeID, stopID string, seq uint32, timestamp uint64) *gtfs.FeedEntity {
	return &gtfs.FeedEntity{
		Id: proto.String(id),
		Vehicle: &gtfs.VehiclePosition{
			Trip: &gtfs.TripDescriptor{
				TripId:  proto.String(tripID),
				RouteId: proto.String(routeID),
			},
			CurrentStopSequence: proto.Uint32(seq),
			StopId:              proto.String(stopID),
			CurrentStatus:       gtfs.VehiclePosition_IN_TRANSIT_TO.Enum(),
			Timestamp:           proto.Uint64(timestamp),
		},
	}
}

// AlertEntity builds an alert with one header translation per text
func AlertEntity(id string, informed []*gtfs.EntitySelector, texts ...string) *gtfs.FeedEntity {
	header := &gtfs.TranslatedString{}
	for _, text := range texts {
		header.Translation = append(header.Translation, &gtfs.TranslatedString_Translation{
			Text:     proto.String(text),
			Language: proto.String("en"),
		})
	}
	return &gtfs.FeedEntity{
		Id: proto.String(id),
		Alert: &gtfs.Alert{
			InformedEntity: informed,
			HeaderText:     header,
		},
	}
}

// TripSelector selects a trip
func TripSelector(tripID, routeID string) *gtfs.EntitySelector {
	return &gtfs.EntitySelector{
		Trip: &gtfs.TripDescriptor{
			TripId:  proto.String(tripID),
			RouteId: proto.String(routeID),
		},
	}
}

// RouteSelector selects a route
func RouteSelector(routeID string) *gtfs.EntitySelector {
	return &gtfs.EntitySelector{RouteId: proto.String(routeID)}
}

// DeletedEntity builds an entity with no trip update, vehicle or alert
func DeletedEntity(id string) *gtfs.FeedEntity {
	return &gtfs.FeedEntity{Id: proto.String(id), IsDeleted: proto.Bool(true)}
}

// Int64 returns a pointer to v
func Int64(v int64) *int64 { return &v }
