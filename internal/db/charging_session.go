package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ChargingSession is one plug-to-unplug episode of a vehicle. Milestone
// timestamps are nullable: which ones are set depends on the order the
// source reported connector, lock, and charging transitions.
type ChargingSession struct {
	ID                   int64
	VIN                  string
	PlugConnectedDate    *time.Time
	PlugLockedDate       *time.Time
	SessionStartDate     *time.Time
	SessionEndDate       *time.Time
	PlugDisconnectedDate *time.Time
	PlugUnlockedDate     *time.Time
	ChargingType         *string
	StartLevel           *float64
	EndLevel             *float64
	Odometer             *float64
	Latitude             *float64
	Longitude            *float64
	LocationUID          *string
	ChargingStationUID   *string
	Version              int64
}

// WasStarted reports whether charging was ever observed in this session.
func (s *ChargingSession) WasStarted() bool { return s.SessionStartDate != nil }

// WasEnded reports whether charging was observed to stop.
func (s *ChargingSession) WasEnded() bool { return s.SessionEndDate != nil }

// WasConnected reports whether the connector was observed plugged in.
func (s *ChargingSession) WasConnected() bool { return s.PlugConnectedDate != nil }

// WasDisconnected reports whether the connector was observed unplugged.
func (s *ChargingSession) WasDisconnected() bool { return s.PlugDisconnectedDate != nil }

// WasLocked reports whether the connector was observed locked.
func (s *ChargingSession) WasLocked() bool { return s.PlugLockedDate != nil }

// WasUnlocked reports whether the connector was observed unlocked.
func (s *ChargingSession) WasUnlocked() bool { return s.PlugUnlockedDate != nil }

// IsClosed reports whether the session has seen any terminal milestone.
func (s *ChargingSession) IsClosed() bool {
	return s.WasEnded() || s.WasUnlocked() || s.WasDisconnected()
}

const chargingSessionColumns = `id, vin, plug_connected_date, plug_locked_date,
	session_start_date, session_end_date, plug_disconnected_date, plug_unlocked_date,
	charging_type, start_level, end_level, odometer, latitude, longitude,
	location_uid, charging_station_uid, version`

func scanChargingSession(row *sql.Row) (*ChargingSession, error) {
	var s ChargingSession
	var connected, locked, started, ended, disconnected, unlocked sql.NullInt64
	err := row.Scan(&s.ID, &s.VIN, &connected, &locked,
		&started, &ended, &disconnected, &unlocked,
		&s.ChargingType, &s.StartLevel, &s.EndLevel, &s.Odometer, &s.Latitude, &s.Longitude,
		&s.LocationUID, &s.ChargingStationUID, &s.Version)
	if err != nil {
		return nil, err
	}
	s.PlugConnectedDate = timeOf(connected)
	s.PlugLockedDate = timeOf(locked)
	s.SessionStartDate = timeOf(started)
	s.SessionEndDate = timeOf(ended)
	s.PlugDisconnectedDate = timeOf(disconnected)
	s.PlugUnlockedDate = timeOf(unlocked)
	return &s, nil
}

// LatestChargingSession returns the newest session for vin, or nil when
// the vehicle has none. Sessions whose start is not yet known sort
// newest so a freshly connected session is found before older complete
// ones.
func (db *DB) LatestChargingSession(vin string) (*ChargingSession, error) {
	row := db.QueryRow(`
		SELECT `+chargingSessionColumns+`
		FROM charging_sessions
		WHERE vin = ?
		ORDER BY session_start_date DESC NULLS FIRST,
			plug_locked_date DESC NULLS FIRST,
			plug_connected_date DESC NULLS FIRST,
			id DESC
		LIMIT 1
	`, vin)

	s, err := scanChargingSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		db.observe(nil)
		return nil, nil
	}
	if err != nil {
		return nil, db.observe(fmt.Errorf("failed to query latest charging session: %w", err))
	}
	db.observe(nil)
	return s, nil
}

// ChargingSessionByID fetches one session by primary key. A vanished
// row yields ErrRecordGone.
func (db *DB) ChargingSessionByID(id int64) (*ChargingSession, error) {
	row := db.QueryRow(`
		SELECT `+chargingSessionColumns+`
		FROM charging_sessions
		WHERE id = ?
	`, id)

	s, err := scanChargingSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.observe(fmt.Errorf("charging session %d: %w", id, ErrRecordGone))
	}
	if err != nil {
		return nil, db.observe(fmt.Errorf("failed to query charging session %d: %w", id, err))
	}
	db.observe(nil)
	return s, nil
}

// InsertChargingSession stores a new session and fills in its ID and
// version. A duplicate (vin, session_start_date) yields ErrConflict.
func (db *DB) InsertChargingSession(s *ChargingSession) error {
	result, err := db.Exec(`
		INSERT INTO charging_sessions (
			vin, plug_connected_date, plug_locked_date,
			session_start_date, session_end_date, plug_disconnected_date, plug_unlocked_date,
			charging_type, start_level, end_level, odometer, latitude, longitude,
			location_uid, charging_station_uid, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, s.VIN, msOf(s.PlugConnectedDate), msOf(s.PlugLockedDate),
		msOf(s.SessionStartDate), msOf(s.SessionEndDate), msOf(s.PlugDisconnectedDate), msOf(s.PlugUnlockedDate),
		s.ChargingType, s.StartLevel, s.EndLevel, s.Odometer, s.Latitude, s.Longitude,
		s.LocationUID, s.ChargingStationUID)
	if err != nil {
		if isUniqueViolation(err) {
			return db.observe(fmt.Errorf("charging session for %s: %w", s.VIN, ErrConflict))
		}
		return db.observe(fmt.Errorf("failed to insert charging session: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return db.observe(fmt.Errorf("failed to get last insert ID: %w", err))
	}
	s.ID = id
	s.Version = 1
	db.observe(nil)
	return nil
}

// UpdateChargingSession writes back every mutable column of s, guarded
// by its version. On success s.Version is advanced to match the store.
func (db *DB) UpdateChargingSession(s *ChargingSession) error {
	result, err := db.Exec(`
		UPDATE charging_sessions
		SET plug_connected_date = ?, plug_locked_date = ?,
			session_start_date = ?, session_end_date = ?,
			plug_disconnected_date = ?, plug_unlocked_date = ?,
			charging_type = ?, start_level = ?, end_level = ?,
			odometer = ?, latitude = ?, longitude = ?,
			location_uid = ?, charging_station_uid = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`, msOf(s.PlugConnectedDate), msOf(s.PlugLockedDate),
		msOf(s.SessionStartDate), msOf(s.SessionEndDate),
		msOf(s.PlugDisconnectedDate), msOf(s.PlugUnlockedDate),
		s.ChargingType, s.StartLevel, s.EndLevel,
		s.Odometer, s.Latitude, s.Longitude,
		s.LocationUID, s.ChargingStationUID,
		s.ID, s.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return db.observe(fmt.Errorf("charging session %d: %w", s.ID, ErrConflict))
		}
		return db.observe(fmt.Errorf("failed to update charging session %d: %w", s.ID, err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return db.observe(fmt.Errorf("failed to get rows affected: %w", err))
	}
	if n == 0 {
		var exists bool
		if err := db.QueryRow(`SELECT COUNT(*) > 0 FROM charging_sessions WHERE id = ?`, s.ID).Scan(&exists); err != nil {
			return db.observe(fmt.Errorf("failed to check charging session %d: %w", s.ID, err))
		}
		if !exists {
			return db.observe(fmt.Errorf("charging session %d: %w", s.ID, ErrRecordGone))
		}
		return db.observe(fmt.Errorf("charging session %d: %w", s.ID, ErrStaleRecord))
	}
	s.Version++
	db.observe(nil)
	return nil
}
