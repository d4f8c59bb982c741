package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/subway-rt/poller/internal/realtime/feed"
)

const (
	TableSnapshots        = "realtime_binary_data"
	TableTripUpdates      = "realtime_trip_updates"
	TableVehiclePositions = "realtime_vehicle_positions"
	TableAlerts           = "realtime_alerts"
)

const (
	insertSnapshotSQL = `INSERT INTO realtime_binary_data (binary_data, timestamp) VALUES (?, ?)`

	insertTripUpdateSQL = `INSERT INTO realtime_trip_updates (
		trip_id, route_id, start_date, schedule_relationship,
		arrival_time, departure_time, stop_id
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertVehiclePositionSQL = `INSERT INTO realtime_vehicle_positions (
		trip_id, route_id, current_stop_sequence, stop_id, current_status, timestamp
	) VALUES (?, ?, ?, ?, ?, ?)`

	insertAlertSQL = `INSERT INTO realtime_alerts (
		alert_id, trip_id, route_id, description_text
	) VALUES (?, ?, ?, ?)`
)

// InsertSnapshot stores a raw payload in its own transaction
func (db *DB) InsertSnapshot(ctx context.Context, snap feed.Snapshot) error {
	db.LockWrite()
	defer db.UnlockWrite()

	receivedAt := snap.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	err := db.insertRow(ctx, db.dialect.Rebind(insertSnapshotSQL), snap.Payload, receivedAt.UTC())
	if err != nil {
		return &StorageError{Op: "insert", Table: TableSnapshots, Index: 0, Err: err}
	}
	return nil
}

// InsertTripUpdates stores each record in its own transaction. It returns the
// number of committed rows and the combined row failures.
func (db *DB) InsertTripUpdates(ctx context.Context, updates []feed.TripUpdate) (int, error) {
	return insertEach(ctx, db, TableTripUpdates, insertTripUpdateSQL, updates,
		func(u feed.TripUpdate) []any {
			return []any{
				u.TripID,
				u.RouteID,
				nullIfEmpty(u.StartDate),
				u.ScheduleRelationship,
				nullString(u.ArrivalTime),
				nullString(u.DepartureTime),
				u.StopID,
			}
		},
		func(u feed.TripUpdate) []zap.Field {
			return []zap.Field{zap.String("trip_id", u.TripID), zap.String("stop_id", u.StopID)}
		},
	)
}

// InsertVehiclePositions stores each record in its own transaction
func (db *DB) InsertVehiclePositions(ctx context.Context, positions []feed.VehiclePosition) (int, error) {
	return insertEach(ctx, db, TableVehiclePositions, insertVehiclePositionSQL, positions,
		func(p feed.VehiclePosition) []any {
			return []any{
				p.TripID,
				p.RouteID,
				nullInt64(p.CurrentStopSequence),
				p.StopID,
				p.CurrentStatus,
				nullTime(p.Timestamp),
			}
		},
		func(p feed.VehiclePosition) []zap.Field {
			return []zap.Field{zap.String("trip_id", p.TripID), zap.String("stop_id", p.StopID)}
		},
	)
}

// InsertAlerts stores each record in its own transaction
func (db *DB) InsertAlerts(ctx context.Context, alerts []feed.Alert) (int, error) {
	return insertEach(ctx, db, TableAlerts, insertAlertSQL, alerts,
		func(a feed.Alert) []any {
			return []any{a.AlertID, nullString(a.TripID), nullString(a.RouteID), a.DescriptionText}
		},
		func(a feed.Alert) []zap.Field {
			return []zap.Field{zap.String("alert_id", a.AlertID)}
		},
	)
}

// insertEach runs one transaction per row so a bad row never loses the rest
func insertEach[T any](ctx context.Context, db *DB, table, query string, rows []T,
	args func(T) []any, fields func(T) []zap.Field) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	db.LockWrite()
	defer db.UnlockWrite()

	query = db.dialect.Rebind(query)

	var errs error
	inserted := 0
	for i, row := range rows {
		if err := db.insertRow(ctx, query, args(row)...); err != nil {
			logFields := append([]zap.Field{
				zap.String("table", table),
				zap.Int("batch_index", i),
			}, fields(row)...)
			db.logger.Error("failed to insert row", append(logFields, zap.Error(err))...)

			errs = multierr.Append(errs, &StorageError{Op: "insert", Table: table, Index: i, Err: err})
			continue
		}
		inserted++
	}

	db.logger.Debug("batch written",
		zap.String("table", table),
		zap.Int("rows", len(rows)),
		zap.Int("inserted", inserted),
	)
	return inserted, errs
}

// insertRow executes one statement in its own transaction. Callers hold writeMu.
func (db *DB) insertRow(ctx context.Context, query string, args ...any) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return multierr.Append(err, fmt.Errorf("failed to rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
