package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Trip is one drive of a vehicle from ignition-on to parked. A trip
// without a DestinationDate is still underway (or was abandoned).
type Trip struct {
	ID                     int64
	VIN                    string
	StartDate              *time.Time
	DestinationDate        *time.Time
	StartLatitude          *float64
	StartLongitude         *float64
	DestinationLatitude    *float64
	DestinationLongitude   *float64
	StartOdometer          *float64
	DestinationOdometer    *float64
	StartLocationUID       *string
	DestinationLocationUID *string
	Version                int64
}

// IsCompleted reports whether the trip has reached its destination.
func (t *Trip) IsCompleted() bool { return t.DestinationDate != nil }

const tripColumns = `id, vin, start_date, destination_date,
	start_latitude, start_longitude, destination_latitude, destination_longitude,
	start_odometer, destination_odometer, start_location_uid, destination_location_uid, version`

func scanTrip(row *sql.Row) (*Trip, error) {
	var t Trip
	var start, dest sql.NullInt64
	err := row.Scan(&t.ID, &t.VIN, &start, &dest,
		&t.StartLatitude, &t.StartLongitude, &t.DestinationLatitude, &t.DestinationLongitude,
		&t.StartOdometer, &t.DestinationOdometer, &t.StartLocationUID, &t.DestinationLocationUID,
		&t.Version)
	if err != nil {
		return nil, err
	}
	t.StartDate = timeOf(start)
	t.DestinationDate = timeOf(dest)
	return &t, nil
}

// LatestTrip returns the newest trip for vin, or nil when the vehicle
// has none.
func (db *DB) LatestTrip(vin string) (*Trip, error) {
	row := db.QueryRow(`
		SELECT `+tripColumns+`
		FROM trips
		WHERE vin = ?
		ORDER BY start_date DESC NULLS FIRST, id DESC
		LIMIT 1
	`, vin)

	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		db.observe(nil)
		return nil, nil
	}
	if err != nil {
		return nil, db.observe(fmt.Errorf("failed to query latest trip: %w", err))
	}
	db.observe(nil)
	return t, nil
}

// TripByID fetches one trip by primary key. A vanished row yields
// ErrRecordGone.
func (db *DB) TripByID(id int64) (*Trip, error) {
	row := db.QueryRow(`
		SELECT `+tripColumns+`
		FROM trips
		WHERE id = ?
	`, id)

	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.observe(fmt.Errorf("trip %d: %w", id, ErrRecordGone))
	}
	if err != nil {
		return nil, db.observe(fmt.Errorf("failed to query trip %d: %w", id, err))
	}
	db.observe(nil)
	return t, nil
}

// InsertTrip stores a new trip and fills in its ID and version. A
// duplicate (vin, start_date) yields ErrConflict.
func (db *DB) InsertTrip(t *Trip) error {
	result, err := db.Exec(`
		INSERT INTO trips (
			vin, start_date, destination_date,
			start_latitude, start_longitude, destination_latitude, destination_longitude,
			start_odometer, destination_odometer, start_location_uid, destination_location_uid,
			version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, t.VIN, msOf(t.StartDate), msOf(t.DestinationDate),
		t.StartLatitude, t.StartLongitude, t.DestinationLatitude, t.DestinationLongitude,
		t.StartOdometer, t.DestinationOdometer, t.StartLocationUID, t.DestinationLocationUID)
	if err != nil {
		if isUniqueViolation(err) {
			return db.observe(fmt.Errorf("trip for %s: %w", t.VIN, ErrConflict))
		}
		return db.observe(fmt.Errorf("failed to insert trip: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return db.observe(fmt.Errorf("failed to get last insert ID: %w", err))
	}
	t.ID = id
	t.Version = 1
	db.observe(nil)
	return nil
}

// UpdateTrip writes back every mutable column of t, guarded by its
// version. On success t.Version is advanced to match the store.
func (db *DB) UpdateTrip(t *Trip) error {
	result, err := db.Exec(`
		UPDATE trips
		SET start_date = ?, destination_date = ?,
			start_latitude = ?, start_longitude = ?,
			destination_latitude = ?, destination_longitude = ?,
			start_odometer = ?, destination_odometer = ?,
			start_location_uid = ?, destination_location_uid = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`, msOf(t.StartDate), msOf(t.DestinationDate),
		t.StartLatitude, t.StartLongitude,
		t.DestinationLatitude, t.DestinationLongitude,
		t.StartOdometer, t.DestinationOdometer,
		t.StartLocationUID, t.DestinationLocationUID,
		t.ID, t.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return db.observe(fmt.Errorf("trip %d: %w", t.ID, ErrConflict))
		}
		return db.observe(fmt.Errorf("failed to update trip %d: %w", t.ID, err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return db.observe(fmt.Errorf("failed to get rows affected: %w", err))
	}
	if n == 0 {
		var exists bool
		if err := db.QueryRow(`SELECT COUNT(*) > 0 FROM trips WHERE id = ?`, t.ID).Scan(&exists); err != nil {
			return db.observe(fmt.Errorf("failed to check trip %d: %w", t.ID, err))
		}
		if !exists {
			return db.observe(fmt.Errorf("trip %d: %w", t.ID, ErrRecordGone))
		}
		return db.observe(fmt.Errorf("trip %d: %w", t.ID, ErrStaleRecord))
	}
	t.Version++
	db.observe(nil)
	return nil
}
