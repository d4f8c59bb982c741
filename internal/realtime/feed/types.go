package feed

import "time"

// EntityKind names the populated variant of a FeedEntity
type EntityKind string

const (
	KindTripUpdate   EntityKind = "trip_update"
	KindVehicle      EntityKind = "vehicle"
	KindAlert        EntityKind = "alert"
	KindUnrecognized EntityKind = "unrecognized"
)

// TripUpdate is one stop-time-update of a trip, flattened with its trip descriptor.
// ArrivalTime and DepartureTime are HH:MM:SS in UTC, nil when the feed omits them.
type TripUpdate struct {
	TripID               string
	RouteID              string
	StartDate            string // YYYYMMDD as published
	ScheduleRelationship int32
	ArrivalTime          *string
	DepartureTime        *string
	StopID               string
}

// VehiclePosition is the state of one vehicle entity
type VehiclePosition struct {
	TripID              string
	RouteID             string
	CurrentStopSequence *int64
	StopID              string
	CurrentStatus       int32
	Timestamp           *time.Time // UTC
}

// Alert pairs one informed entity with one header translation
type Alert struct {
	AlertID         string
	TripID          *string
	RouteID         *string
	DescriptionText string
}

// Snapshot is a raw feed payload as received
type Snapshot struct {
	FeedURL    string
	Payload    []byte
	ReceivedAt time.Time
}

// Batch holds the records extracted from one feed message, in entity order
type Batch struct {
	TripUpdates      []TripUpdate
	VehiclePositions []VehiclePosition
	Alerts           []Alert

	Entities      int
	Unrecognized  int
	Failed        int
	FeedTimestamp *time.Time
}

// Records returns the total number of extracted records
func (b *Batch) Records() int {
	return len(b.TripUpdates) + len(b.VehiclePositions) + len(b.Alerts)
}
