package feed

import (
	"errors"
	"math"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/subway-rt/poller/internal/realtime/feed/feedtest"
)

// 2023-11-14 22:13:20 UTC
const epoch = int64(1700000000)

func strPtr(s string) *string { return &s }

func TestDecode(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		payload := feedtest.Payload(t, feedtest.VehicleEntity("v1", "T1", "A", "A01N", 3, uint64(epoch)))

		msg, err := Decode(payload)
		require.NoError(t, err)
		assert.Equal(t, "2.0", msg.GetHeader().GetGtfsRealtimeVersion())
		assert.Len(t, msg.GetEntity(), 1)
	})

	t.Run("no entities", func(t *testing.T) {
		msg, err := Decode(feedtest.Payload(t))
		require.NoError(t, err)
		assert.Empty(t, msg.GetEntity())
	})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"nil", nil},
		{"garbage", []byte{0xff, 0xff, 0xff, 0xff}},
		{"html", []byte("<html>503 Service Unavailable</html>")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.payload)
			require.Error(t, err)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, len(tc.payload), decodeErr.Size)
		})
	}
}

func TestDecode_Truncated(t *testing.T) {
	payload := feedtest.Payload(t,
		feedtest.TripUpdateEntity("e1", "T1", "A", "20231114",
			feedtest.StopTimeUpdate("A01N", feedtest.Int64(epoch), nil)),
	)

	_, err := Decode(payload[:len(payload)/2])
	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name   string
		entity *gtfs.FeedEntity
		want   EntityKind
	}{
		{"trip update", feedtest.TripUpdateEntity("e", "T", "A", ""), KindTripUpdate},
		{"vehicle", feedtest.VehicleEntity("e", "T", "A", "S", 1, 1), KindVehicle},
		{"alert", feedtest.AlertEntity("e", nil, "x"), KindAlert},
		{"deleted", feedtest.DeletedEntity("e"), KindUnrecognized},
		{"both trip update and vehicle", &gtfs.FeedEntity{
			Id:         proto.String("e"),
			TripUpdate: &gtfs.TripUpdate{Trip: &gtfs.TripDescriptor{}},
			Vehicle:    &gtfs.VehiclePosition{},
		}, KindTripUpdate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.entity))
		})
	}
}

func TestExtractTripUpdates(t *testing.T) {
	entity := feedtest.TripUpdateEntity("e1", "T1", "A", "20231114",
		feedtest.StopTimeUpdate("A01N", feedtest.Int64(epoch), feedtest.Int64(epoch+30)),
		feedtest.StopTimeUpdate("A02N", feedtest.Int64(epoch+120), nil),
		feedtest.StopTimeUpdate("A03N", nil, nil),
	)
	// Departure event present but without a time
	entity.TripUpdate.StopTimeUpdate[1].Departure = &gtfs.TripUpdate_StopTimeEvent{Delay: proto.Int32(30)}

	want := []TripUpdate{
		{TripID: "T1", RouteID: "A", StartDate: "20231114", ArrivalTime: strPtr("22:13:20"), DepartureTime: strPtr("22:13:50"), StopID: "A01N"},
		{TripID: "T1", RouteID: "A", StartDate: "20231114", ArrivalTime: strPtr("22:15:20"), StopID: "A02N"},
		{TripID: "T1", RouteID: "A", StartDate: "20231114", StopID: "A03N"},
	}

	got := ExtractTripUpdates(entity)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractTripUpdates() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractTripUpdates_Defaults(t *testing.T) {
	entity := &gtfs.FeedEntity{
		Id: proto.String("e1"),
		TripUpdate: &gtfs.TripUpdate{
			Trip: &gtfs.TripDescriptor{
				TripId:               proto.String("T9"),
				ScheduleRelationship: gtfs.TripDescriptor_CANCELED.Enum(),
			},
			StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{{}},
		},
	}

	got := ExtractTripUpdates(entity)
	require.Len(t, got, 1)
	assert.Equal(t, "T9", got[0].TripID)
	assert.Empty(t, got[0].RouteID)
	assert.Empty(t, got[0].StartDate)
	assert.Empty(t, got[0].StopID)
	assert.Equal(t, int32(gtfs.TripDescriptor_CANCELED), got[0].ScheduleRelationship)
}

func TestExtractTripUpdates_NoStops(t *testing.T) {
	assert.Empty(t, ExtractTripUpdates(feedtest.TripUpdateEntity("e1", "T1", "A", "20231114")))
}

func TestExtractVehiclePositions(t *testing.T) {
	got := ExtractVehiclePositions(feedtest.VehicleEntity("v1", "T1", "A", "A05S", 7, uint64(epoch)))

	seq := int64(7)
	ts := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	want := []VehiclePosition{{
		TripID:              "T1",
		RouteID:             "A",
		CurrentStopSequence: &seq,
		StopID:              "A05S",
		CurrentStatus:       int32(gtfs.VehiclePosition_IN_TRANSIT_TO),
		Timestamp:           &ts,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractVehiclePositions() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractVehiclePositions_Sparse(t *testing.T) {
	entity := &gtfs.FeedEntity{
		Id:      proto.String("v1"),
		Vehicle: &gtfs.VehiclePosition{},
	}

	got := ExtractVehiclePositions(entity)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].CurrentStopSequence)
	assert.Nil(t, got[0].Timestamp)
	assert.Empty(t, got[0].TripID)
	// IN_TRANSIT_TO is the protocol default
	assert.Equal(t, int32(2), got[0].CurrentStatus)
}

func TestExtractVehiclePositions_StopSequenceRange(t *testing.T) {
	got := ExtractVehiclePositions(feedtest.VehicleEntity("v1", "T1", "A", "A05S", math.MaxUint32, uint64(epoch)))

	require.Len(t, got, 1)
	require.NotNil(t, got[0].CurrentStopSequence)
	assert.Equal(t, int64(math.MaxUint32), *got[0].CurrentStopSequence)
}

func TestExtractAlerts(t *testing.T) {
	entity := feedtest.AlertEntity("alert-1",
		[]*gtfs.EntitySelector{
			feedtest.TripSelector("T1", "A"),
			feedtest.RouteSelector("L"),
		},
		"Delays", "Retrasos",
	)

	want := []Alert{
		{AlertID: "alert-1", TripID: strPtr("T1"), RouteID: strPtr("A"), DescriptionText: "Delays"},
		{AlertID: "alert-1", TripID: strPtr("T1"), RouteID: strPtr("A"), DescriptionText: "Retrasos"},
		{AlertID: "alert-1", RouteID: strPtr("L"), DescriptionText: "Delays"},
		{AlertID: "alert-1", RouteID: strPtr("L"), DescriptionText: "Retrasos"},
	}
	if diff := cmp.Diff(want, ExtractAlerts(entity)); diff != "" {
		t.Errorf("ExtractAlerts() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractAlerts_Empty(t *testing.T) {
	tests := []struct {
		name   string
		entity *gtfs.FeedEntity
	}{
		{"no informed entities", feedtest.AlertEntity("a1", nil, "Delays")},
		{"no translations", feedtest.AlertEntity("a1", []*gtfs.EntitySelector{feedtest.RouteSelector("A")})},
		{"no header text", &gtfs.FeedEntity{
			Id:    proto.String("a1"),
			Alert: &gtfs.Alert{InformedEntity: []*gtfs.EntitySelector{feedtest.RouteSelector("A")}},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Empty(t, ExtractAlerts(tc.entity))
		})
	}
}

func TestExtractAlerts_DoesNotAliasMessage(t *testing.T) {
	selector := feedtest.TripSelector("T1", "A")
	entity := feedtest.AlertEntity("a1", []*gtfs.EntitySelector{selector}, "Delays")

	got := ExtractAlerts(entity)
	*selector.Trip.TripId = "changed"

	require.Len(t, got, 1)
	assert.Equal(t, "T1", *got[0].TripID)
}

func TestProcessor_Process(t *testing.T) {
	payload := feedtest.Payload(t,
		feedtest.TripUpdateEntity("e1", "T1", "A", "20231114",
			feedtest.StopTimeUpdate("A01N", feedtest.Int64(epoch), nil),
			feedtest.StopTimeUpdate("A02N", feedtest.Int64(epoch+60), nil),
		),
		feedtest.VehicleEntity("e2", "T1", "A", "A01N", 1, uint64(epoch)),
		feedtest.AlertEntity("e3", []*gtfs.EntitySelector{feedtest.RouteSelector("A")}, "Delays"),
		feedtest.DeletedEntity("e4"),
	)

	batch, err := NewProcessor(zap.NewNop()).Process("ace", payload)
	require.NoError(t, err)

	assert.Len(t, batch.TripUpdates, 2)
	assert.Len(t, batch.VehiclePositions, 1)
	assert.Len(t, batch.Alerts, 1)
	assert.Equal(t, 4, batch.Entities)
	assert.Equal(t, 1, batch.Unrecognized)
	assert.Equal(t, 0, batch.Failed)
	assert.Equal(t, 4, batch.Records())
	require.NotNil(t, batch.FeedTimestamp)
	assert.Equal(t, int64(feedtest.HeaderTimestamp), batch.FeedTimestamp.Unix())

	assert.Equal(t, "A01N", batch.TripUpdates[0].StopID)
	assert.Equal(t, "A02N", batch.TripUpdates[1].StopID)
}

func TestDecode_RoundTrip(t *testing.T) {
	msg := feedtest.Message(
		feedtest.AlertEntity("e1", []*gtfs.EntitySelector{feedtest.RouteSelector("A")}, "Delays"),
		feedtest.TripUpdateEntity("e2", "T1", "A", "20231114",
			feedtest.StopTimeUpdate("A01N", feedtest.Int64(epoch), nil)),
		feedtest.VehicleEntity("e3", "T1", "A", "A01N", 1, uint64(epoch)),
	)

	decoded, err := Decode(feedtest.Marshal(t, msg))
	require.NoError(t, err)
	assert.True(t, proto.Equal(msg, decoded), "decoded message differs from the encoded one")

	var kinds []EntityKind
	for _, entity := range decoded.GetEntity() {
		kinds = append(kinds, KindOf(entity))
	}
	assert.Equal(t, []EntityKind{KindAlert, KindTripUpdate, KindVehicle}, kinds)
}

func TestProcessor_PreservesEntityOrder(t *testing.T) {
	payload := feedtest.Payload(t,
		feedtest.VehicleEntity("v1", "T3", "C", "C01N", 1, uint64(epoch)),
		feedtest.TripUpdateEntity("t1", "T1", "A", "20231114",
			feedtest.StopTimeUpdate("A01N", feedtest.Int64(epoch), nil),
			feedtest.StopTimeUpdate("A02N", feedtest.Int64(epoch+60), nil)),
		feedtest.AlertEntity("a1", []*gtfs.EntitySelector{feedtest.RouteSelector("A")}, "first"),
		feedtest.VehicleEntity("v2", "T4", "E", "E01N", 2, uint64(epoch)),
		feedtest.TripUpdateEntity("t2", "T2", "B", "20231114",
			feedtest.StopTimeUpdate("B01N", feedtest.Int64(epoch), nil)),
		feedtest.AlertEntity("a2", []*gtfs.EntitySelector{feedtest.RouteSelector("B")}, "second"),
	)

	batch, err := NewProcessor(zap.NewNop()).Process("ace", payload)
	require.NoError(t, err)

	var stops []string
	for _, tu := range batch.TripUpdates {
		stops = append(stops, tu.TripID+"/"+tu.StopID)
	}
	assert.Equal(t, []string{"T1/A01N", "T1/A02N", "T2/B01N"}, stops)

	var vehicles []string
	for _, vp := range batch.VehiclePositions {
		vehicles = append(vehicles, vp.TripID)
	}
	assert.Equal(t, []string{"T3", "T4"}, vehicles)

	var alerts []string
	for _, a := range batch.Alerts {
		alerts = append(alerts, a.AlertID)
	}
	assert.Equal(t, []string{"a1", "a2"}, alerts)
}

func TestProcessor_Process_DecodeError(t *testing.T) {
	batch, err := NewProcessor(nil).Process("ace", []byte("not a feed"))
	assert.Nil(t, batch)

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestProcessor_EmptyFeed(t *testing.T) {
	batch, err := NewProcessor(nil).Process("ace", feedtest.Payload(t))
	require.NoError(t, err)

	assert.NotNil(t, batch.TripUpdates)
	assert.NotNil(t, batch.VehiclePositions)
	assert.NotNil(t, batch.Alerts)
	assert.Zero(t, batch.Records())
}

func TestProcessor_IsolatesEntityFailure(t *testing.T) {
	broken := feedtest.TripUpdateEntity("bad", "T2", "A", "20231114",
		feedtest.StopTimeUpdate("A01N", feedtest.Int64(epoch), nil),
		nil,
	)
	msg := feedtest.Message(
		feedtest.TripUpdateEntity("good-1", "T1", "A", "20231114",
			feedtest.StopTimeUpdate("A01N", feedtest.Int64(epoch), nil)),
		broken,
		feedtest.VehicleEntity("good-2", "T3", "A", "A05S", 2, uint64(epoch)),
	)

	batch := NewProcessor(zap.NewNop()).ProcessMessage("ace", msg)

	assert.Equal(t, 3, batch.Entities)
	assert.Equal(t, 1, batch.Failed)
	// No partial records from the failed entity
	require.Len(t, batch.TripUpdates, 1)
	assert.Equal(t, "T1", batch.TripUpdates[0].TripID)
	require.Len(t, batch.VehiclePositions, 1)
	assert.Equal(t, "T3", batch.VehiclePositions[0].TripID)
}

func TestProcessor_ExtractReturnsExtractionError(t *testing.T) {
	p := NewProcessor(nil)
	entity := feedtest.TripUpdateEntity("bad", "T2", "A", "", nil)

	kind, err := p.extract(5, entity, &Batch{})
	assert.Equal(t, KindTripUpdate, kind)

	var extractionErr *ExtractionError
	require.True(t, errors.As(err, &extractionErr))
	assert.Equal(t, 5, extractionErr.Index)
	assert.Equal(t, "bad", extractionErr.EntityID)
	assert.Contains(t, extractionErr.Error(), "panic")
}
