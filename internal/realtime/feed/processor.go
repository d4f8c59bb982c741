package feed

import (
	"fmt"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"go.uber.org/zap"
)

// ExtractionError reports an entity whose extraction failed. The entity's
// partial records are discarded; the rest of the message is unaffected.
type ExtractionError struct {
	Index    int
	EntityID string
	Kind     EntityKind
	Cause    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("entity %d (id=%q, kind=%s): %v", e.Index, e.EntityID, e.Kind, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// Processor turns feed payloads into record batches
type Processor struct {
	logger *zap.Logger
}

// NewProcessor creates a processor that logs per-entity failures to logger
func NewProcessor(logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{logger: logger}
}

// Process decodes payload and extracts all records from it.
// Returns a *DecodeError if the payload cannot be decoded.
func (p *Processor) Process(source string, payload []byte) (*Batch, error) {
	msg, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	return p.ProcessMessage(source, msg), nil
}

// ProcessMessage extracts records from an already decoded message
func (p *Processor) ProcessMessage(source string, msg *gtfs.FeedMessage) *Batch {
	logger := p.logger.With(zap.String("feed", source))

	batch := &Batch{
		TripUpdates:      []TripUpdate{},
		VehiclePositions: []VehiclePosition{},
		Alerts:           []Alert{},
	}

	if header := msg.GetHeader(); header != nil && header.Timestamp != nil {
		t := time.Unix(int64(*header.Timestamp), 0).UTC()
		batch.FeedTimestamp = &t
	}

	for i, entity := range msg.GetEntity() {
		batch.Entities++

		kind, err := p.extract(i, entity, batch)
		if err != nil {
			batch.Failed++
			logger.Error("entity extraction failed",
				zap.Int("entity_index", i),
				zap.String("entity_id", entity.GetId()),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			continue
		}
		if kind == KindUnrecognized {
			batch.Unrecognized++
			logger.Warn("unrecognized entity type",
				zap.Int("entity_index", i),
				zap.String("entity_id", entity.GetId()),
			)
		}
	}

	logger.Debug("feed processed",
		zap.Int("entities", batch.Entities),
		zap.Int("trip_updates", len(batch.TripUpdates)),
		zap.Int("vehicle_positions", len(batch.VehiclePositions)),
		zap.Int("alerts", len(batch.Alerts)),
		zap.Int("unrecognized", batch.Unrecognized),
		zap.Int("failed", batch.Failed),
	)

	return batch
}

// extract appends the entity's records to batch. Records are only appended
// once the whole entity has been extracted.
func (p *Processor) extract(index int, entity *gtfs.FeedEntity, batch *Batch) (kind EntityKind, err error) {
	kind = KindOf(entity)

	defer func() {
		if r := recover(); r != nil {
			err = &ExtractionError{
				Index:    index,
				EntityID: entity.GetId(),
				Kind:     kind,
				Cause:    fmt.Errorf("panic: %v", r),
			}
		}
	}()

	switch kind {
	case KindTripUpdate:
		updates := ExtractTripUpdates(entity)
		batch.TripUpdates = append(batch.TripUpdates, updates...)
	case KindVehicle:
		positions := ExtractVehiclePositions(entity)
		batch.VehiclePositions = append(batch.VehiclePositions, positions...)
	case KindAlert:
		alerts := ExtractAlerts(entity)
		batch.Alerts = append(batch.Alerts, alerts...)
	}

	return kind, nil
}
