package db

import (
	"fmt"
	"time"
)

// RefuelSession records one detected tank refill: the fuel level before
// and after, and where the vehicle sat while it happened.
type RefuelSession struct {
	ID          int64
	VIN         string
	SessionDate time.Time
	StartLevel  *float64
	EndLevel    *float64
	Odometer    *float64
	Latitude    *float64
	Longitude   *float64
	LocationUID *string
	Version     int64
}

// InsertRefuelSession stores a new refuel session and fills in its ID.
func (db *DB) InsertRefuelSession(s *RefuelSession) error {
	result, err := db.Exec(`
		INSERT INTO refuel_sessions (
			vin, session_date, start_level, end_level, odometer,
			latitude, longitude, location_uid, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, s.VIN, s.SessionDate.UnixMilli(), s.StartLevel, s.EndLevel, s.Odometer,
		s.Latitude, s.Longitude, s.LocationUID)
	if err != nil {
		return db.observe(fmt.Errorf("failed to insert refuel session: %w", err))
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

// RefuelSessions returns every refuel session for vin, oldest first.
func (db *DB) RefuelSessions(vin string) ([]RefuelSession, error) {
	rows, err := db.Query(`
		SELECT id, vin, session_date, start_level, end_level, odometer,
			latitude, longitude, location_uid, version
		FROM refuel_sessions
		WHERE vin = ?
		ORDER BY session_date ASC, id ASC
	`, vin)
	if err != nil {
		return nil, db.observe(fmt.Errorf("failed to query refuel sessions: %w", err))
	}
	defer rows.Close()

	var sessions []RefuelSession
	for rows.Next() {
		var s RefuelSession
		var date int64
		if err := rows.Scan(&s.ID, &s.VIN, &date, &s.StartLevel, &s.EndLevel, &s.Odometer,
			&s.Latitude, &s.Longitude, &s.LocationUID, &s.Version); err != nil {
			return nil, db.observe(fmt.Errorf("failed to scan refuel session: %w", err))
		}
		s.SessionDate = time.UnixMilli(date).UTC()
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, db.observe(fmt.Errorf("failed to read refuel sessions: %w", err))
	}
	db.observe(nil)
	return sessions, nil
}
