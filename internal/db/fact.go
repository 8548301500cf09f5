package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Fact is one row of interval_facts: a value held by (entity, signal)
// over [FirstDate, LastDate]. Exactly one of TextValue and NumberValue
// is set. Facts for one (entity, signal) never overlap and adjacent
// facts differ in value.
type Fact struct {
	ID          int64
	EntityID    string
	Signal      string
	TextValue   *string
	NumberValue *float64
	FirstDate   time.Time
	LastDate    time.Time
	Version     int64
}

// SameValue reports whether f and g carry an equal payload.
func (f *Fact) SameValue(g *Fact) bool {
	if (f.TextValue == nil) != (g.TextValue == nil) {
		return false
	}
	if f.TextValue != nil {
		return *f.TextValue == *g.TextValue
	}
	if (f.NumberValue == nil) != (g.NumberValue == nil) {
		return false
	}
	return f.NumberValue == nil || *f.NumberValue == *g.NumberValue
}

const factColumns = `id, entity_id, signal, text_value, number_value, first_date, last_date, version`

func scanFact(row *sql.Row) (*Fact, error) {
	var f Fact
	var first, last int64
	err := row.Scan(&f.ID, &f.EntityID, &f.Signal, &f.TextValue, &f.NumberValue, &first, &last, &f.Version)
	if err != nil {
		return nil, err
	}
	f.FirstDate = time.UnixMilli(first).UTC()
	f.LastDate = time.UnixMilli(last).UTC()
	return &f, nil
}

// LatestFact returns the fact with the greatest last_date for
// (entityID, signal), or nil when none exists.
func (db *DB) LatestFact(entityID, signal string) (*Fact, error) {
	row := db.QueryRow(`
		SELECT `+factColumns+`
		FROM interval_facts
		WHERE entity_id = ? AND signal = ?
		ORDER BY last_date DESC, id DESC
		LIMIT 1
	`, entityID, signal)

	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		db.observe(nil)
		return nil, nil
	}
	if err != nil {
		return nil, db.observe(fmt.Errorf("failed to query latest fact: %w", err))
	}
	db.observe(nil)
	return f, nil
}

// FactByID fetches one fact by primary key. A vanished row yields
// ErrRecordGone.
func (db *DB) FactByID(id int64) (*Fact, error) {
	row := db.QueryRow(`
		SELECT `+factColumns+`
		FROM interval_facts
		WHERE id = ?
	`, id)

	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.observe(fmt.Errorf("fact %d: %w", id, ErrRecordGone))
	}
	if err != nil {
		return nil, db.observe(fmt.Errorf("failed to query fact %d: %w", id, err))
	}
	db.observe(nil)
	return f, nil
}

// InsertFact stores a new fact and fills in its ID and version.
func (db *DB) InsertFact(f *Fact) error {
	result, err := db.Exec(`
		INSERT INTO interval_facts (
			entity_id, signal, text_value, number_value, first_date, last_date, version
		) VALUES (?, ?, ?, ?, ?, ?, 1)
	`, f.EntityID, f.Signal, f.TextValue, f.NumberValue,
		f.FirstDate.UnixMilli(), f.LastDate.UnixMilli())
	if err != nil {
		return db.observe(fmt.Errorf("failed to insert fact: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return db.observe(fmt.Errorf("failed to get last insert ID: %w", err))
	}
	f.ID = id
	f.Version = 1
	db.observe(nil)
	return nil
}

// ExtendFact advances last_date of the identified fact. The update only
// applies when the stored version matches; a mismatch yields
// ErrStaleRecord, a vanished row ErrRecordGone.
func (db *DB) ExtendFact(id, version int64, lastDate time.Time) error {
	result, err := db.Exec(`
		UPDATE interval_facts
		SET last_date = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, lastDate.UnixMilli(), id, version)
	if err != nil {
		return db.observe(fmt.Errorf("failed to extend fact %d: %w", id, err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return db.observe(fmt.Errorf("failed to get rows affected: %w", err))
	}
	if n == 0 {
		var exists bool
		if err := db.QueryRow(`SELECT COUNT(*) > 0 FROM interval_facts WHERE id = ?`, id).Scan(&exists); err != nil {
			return db.observe(fmt.Errorf("failed to check fact %d: %w", id, err))
		}
		if !exists {
			return db.observe(fmt.Errorf("fact %d: %w", id, ErrRecordGone))
		}
		return db.observe(fmt.Errorf("fact %d: %w", id, ErrStaleRecord))
	}
	db.observe(nil)
	return nil
}
