package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// Location is a uid-keyed resolved place a vehicle parked, charged, or
// refuelled at.
type Location struct {
	UID       string
	Name      *string
	Latitude  *float64
	Longitude *float64
	Address   *string
}

// ChargingStation is a uid-keyed resolved charging point.
type ChargingStation struct {
	UID       string
	Name      *string
	Latitude  *float64
	Longitude *float64
	Address   *string
	Operator  *string
}

// UpsertLocation creates or refreshes a resolved place.
func (db *DB) UpsertLocation(l *Location) error {
	_, err := db.Exec(`
		INSERT INTO locations (uid, name, latitude, longitude, address)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			name      = COALESCE(excluded.name, name),
			latitude  = COALESCE(excluded.latitude, latitude),
			longitude = COALESCE(excluded.longitude, longitude),
			address   = COALESCE(excluded.address, address)
	`, l.UID, l.Name, l.Latitude, l.Longitude, l.Address)
	if err != nil {
		return db.observe(fmt.Errorf("failed to upsert location %s: %w", l.UID, err))
	}
	db.observe(nil)
	return nil
}

// LocationByUID fetches one resolved place, or nil when unknown.
func (db *DB) LocationByUID(uid string) (*Location, error) {
	var l Location
	err := db.QueryRow(`
		SELECT uid, name, latitude, longitude, address
		FROM locations
		WHERE uid = ?
	`, uid).Scan(&l.UID, &l.Name, &l.Latitude, &l.Longitude, &l.Address)
	if errors.Is(err, sql.ErrNoRows) {
		db.observe(nil)
		return nil, nil
	}
	if err != nil {
		return nil, db.observe(fmt.Errorf("failed to query location %s: %w", uid, err))
	}
	db.observe(nil)
	return &l, nil
}

// UpsertChargingStation creates or refreshes a resolved charging point.
func (db *DB) UpsertChargingStation(c *ChargingStation) error {
	_, err := db.Exec(`
		INSERT INTO charging_stations (uid, name, latitude, longitude, address, operator)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			name      = COALESCE(excluded.name, name),
			latitude  = COALESCE(excluded.latitude, latitude),
			longitude = COALESCE(excluded.longitude, longitude),
			address   = COALESCE(excluded.address, address),
			operator  = COALESCE(excluded.operator, operator)
	`, c.UID, c.Name, c.Latitude, c.Longitude, c.Address, c.Operator)
	if err != nil {
		return db.observe(fmt.Errorf("failed to upsert charging station %s: %w", c.UID, err))
	}
	db.observe(nil)
	return nil
}

// ChargingStationByUID fetches one resolved charging point, or nil when
// unknown.
func (db *DB) ChargingStationByUID(uid string) (*ChargingStation, error) {
	var c ChargingStation
	err := db.QueryRow(`
		SELECT uid, name, latitude, longitude, address, operator
		FROM charging_stations
		WHERE uid = ?
	`, uid).Scan(&c.UID, &c.Name, &c.Latitude, &c.Longitude, &c.Address, &c.Operator)
	if errors.Is(err, sql.ErrNoRows) {
		db.observe(nil)
		return nil, nil
	}
	if err != nil {
		return nil, db.observe(fmt.Errorf("failed to query charging station %s: %w", uid, err))
	}
	db.observe(nil)
	return &c, nil
}
