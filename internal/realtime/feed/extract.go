package feed

import (
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

// KindOf classifies an entity. The first populated variant wins.
func KindOf(entity *gtfs.FeedEntity) EntityKind {
	switch {
	case entity.GetTripUpdate() != nil:
		return KindTripUpdate
	case entity.GetVehicle() != nil:
		return KindVehicle
	case entity.GetAlert() != nil:
		return KindAlert
	default:
		return KindUnrecognized
	}
}

// ExtractTripUpdates emits one record per stop-time-update, in feed order
func ExtractTripUpdates(entity *gtfs.FeedEntity) []TripUpdate {
	tripUpdate := entity.GetTripUpdate()
	trip := tripUpdate.GetTrip()

	updates := make([]TripUpdate, 0, len(tripUpdate.GetStopTimeUpdate()))
	for _, stu := range tripUpdate.GetStopTimeUpdate() {
		update := TripUpdate{
			TripID:               trip.GetTripId(),
			RouteID:              trip.GetRouteId(),
			StartDate:            trip.GetStartDate(),
			ScheduleRelationship: int32(trip.GetScheduleRelationship()),
		}

		// Arrival / departure: absent event or absent time stays nil
		if stu.Arrival != nil && stu.Arrival.Time != nil {
			t := epochToTime(*stu.Arrival.Time)
			update.ArrivalTime = &t
		}
		if stu.Departure != nil && stu.Departure.Time != nil {
			t := epochToTime(*stu.Departure.Time)
			update.DepartureTime = &t
		}

		if stu.StopId != nil {
			update.StopID = *stu.StopId
		}

		updates = append(updates, update)
	}

	return updates
}

// ExtractVehiclePositions emits exactly one record for a vehicle entity
func ExtractVehiclePositions(entity *gtfs.FeedEntity) []VehiclePosition {
	vehicle := entity.GetVehicle()

	pos := VehiclePosition{
		TripID:        vehicle.GetTrip().GetTripId(),
		RouteID:       vehicle.GetTrip().GetRouteId(),
		StopID:        vehicle.GetStopId(),
		CurrentStatus: int32(vehicle.GetCurrentStatus()),
	}

	if vehicle.CurrentStopSequence != nil {
		seq := int64(*vehicle.CurrentStopSequence)
		pos.CurrentStopSequence = &seq
	}

	if vehicle.Timestamp != nil {
		ts := time.Unix(int64(*vehicle.Timestamp), 0).UTC()
		pos.Timestamp = &ts
	}

	return []VehiclePosition{pos}
}

// ExtractAlerts emits informed_entity x header_text.translation records.
// An alert without informed entities or without translations yields nothing.
func ExtractAlerts(entity *gtfs.FeedEntity) []Alert {
	alert := entity.GetAlert()
	translations := alert.GetHeaderText().GetTranslation()

	alerts := make([]Alert, 0, len(alert.GetInformedEntity())*len(translations))
	for _, ie := range alert.GetInformedEntity() {
		var tripID, routeID *string
		if ie.Trip != nil {
			tripID = cloneString(ie.Trip.TripId)
			routeID = cloneString(ie.Trip.RouteId)
		}
		if ie.RouteId != nil {
			routeID = cloneString(ie.RouteId)
		}

		for _, translation := range translations {
			alerts = append(alerts, Alert{
				AlertID:         entity.GetId(),
				TripID:          tripID,
				RouteID:         routeID,
				DescriptionText: translation.GetText(),
			})
		}
	}

	return alerts
}

// epochToTime renders epoch seconds as a UTC wall-clock time of day
func epochToTime(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format("15:04:05")
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
