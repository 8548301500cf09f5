package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Vehicle is the identity record for a VIN. Identity attributes are
// overwritten in place; no history is kept.
type Vehicle struct {
	VIN          string
	Name         *string
	Manufacturer *string
	Model        *string
	ModelYear    *string
	Type         *string
	LicensePlate *string
	UpdatedAt    time.Time
}

// UpsertVehicle creates the identity row for v.VIN or overwrites its
// attributes. Nil attributes leave the stored value untouched.
func (db *DB) UpsertVehicle(v *Vehicle) error {
	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO vehicles (vin, name, manufacturer, model, model_year, type, license_plate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vin) DO UPDATE SET
			name          = COALESCE(excluded.name, name),
			manufacturer  = COALESCE(excluded.manufacturer, manufacturer),
			model         = COALESCE(excluded.model, model),
			model_year    = COALESCE(excluded.model_year, model_year),
			type          = COALESCE(excluded.type, type),
			license_plate = COALESCE(excluded.license_plate, license_plate),
			updated_at    = excluded.updated_at
	`, v.VIN, v.Name, v.Manufacturer, v.Model, v.ModelYear, v.Type, v.LicensePlate,
		now.UnixMilli())
	if err != nil {
		return db.observe(fmt.Errorf("failed to upsert vehicle %s: %w", v.VIN, err))
	}
	v.UpdatedAt = now
	db.observe(nil)
	return nil
}

// VehicleByVIN fetches one identity row, or nil when the VIN is
// unknown.
func (db *DB) VehicleByVIN(vin string) (*Vehicle, error) {
	var v Vehicle
	var updated sql.NullInt64
	err := db.QueryRow(`
		SELECT vin, name, manufacturer, model, model_year, type, license_plate, updated_at
		FROM vehicles
		WHERE vin = ?
	`, vin).Scan(&v.VIN, &v.Name, &v.Manufacturer, &v.Model, &v.ModelYear, &v.Type, &v.LicensePlate, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		db.observe(nil)
		return nil, nil
	}
	if err != nil {
		return nil, db.observe(fmt.Errorf("failed to query vehicle %s: %w", vin, err))
	}
	if t := timeOf(updated); t != nil {
		v.UpdatedAt = *t
	}
	db.observe(nil)
	return &v, nil
}

// RegisterDrive records that vehicle vin has a drive unit of the given
// kind at index idx. Re-registering with a new kind overwrites.
func (db *DB) RegisterDrive(vin string, idx int, kind string) error {
	_, err := db.Exec(`
		INSERT INTO drives (vin, idx, kind)
		VALUES (?, ?, ?)
		ON CONFLICT (vin, idx) DO UPDATE SET kind = excluded.kind
	`, vin, idx, kind)
	if err != nil {
		return db.observe(fmt.Errorf("failed to register drive %s:%d: %w", vin, idx, err))
	}
	db.observe(nil)
	return nil
}

// DriveKind returns the registered kind for drive idx of vin, or "" if
// the drive is unknown.
func (db *DB) DriveKind(vin string, idx int) (string, error) {
	var kind string
	err := db.QueryRow(`SELECT kind FROM drives WHERE vin = ? AND idx = ?`, vin, idx).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		db.observe(nil)
		return "", nil
	}
	if err != nil {
		return "", db.observe(fmt.Errorf("failed to query drive %s:%d: %w", vin, idx, err))
	}
	db.observe(nil)
	return kind, nil
}
