package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/drivelog-data/drivelog/internal/health"
	"github.com/drivelog-data/drivelog/internal/monitoring"
)

// DB is the persistence gateway. It is the only component that talks to
// SQLite; reconcilers go through its record methods and never hold rows
// across transactions.
type DB struct {
	*sql.DB
	health *health.Status
}

func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = sqlDB.Exec(`
		CREATE TABLE IF NOT EXISTS vehicles (
			vin               TEXT PRIMARY KEY,
			name              TEXT,
			manufacturer      TEXT,
			model             TEXT,
			model_year        TEXT,
			type              TEXT,
			license_plate     TEXT,
			updated_at        INTEGER
		);
		CREATE TABLE IF NOT EXISTS drives (
			vin               TEXT NOT NULL,
			idx               INTEGER NOT NULL,
			kind              TEXT NOT NULL,
			PRIMARY KEY (vin, idx)
		);
		CREATE TABLE IF NOT EXISTS interval_facts (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id         TEXT NOT NULL,
			signal            TEXT NOT NULL,
			text_value        TEXT,
			number_value      DOUBLE,
			first_date        INTEGER NOT NULL,
			last_date         INTEGER NOT NULL,
			version           INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_facts_entity_signal
			ON interval_facts (entity_id, signal, last_date);
		CREATE TABLE IF NOT EXISTS charging_sessions (
			id                     INTEGER PRIMARY KEY AUTOINCREMENT,
			vin                    TEXT NOT NULL,
			plug_connected_date    INTEGER,
			plug_locked_date       INTEGER,
			session_start_date     INTEGER,
			session_end_date       INTEGER,
			plug_disconnected_date INTEGER,
			plug_unlocked_date     INTEGER,
			charging_type          TEXT,
			start_level            DOUBLE,
			end_level              DOUBLE,
			odometer               DOUBLE,
			latitude               DOUBLE,
			longitude              DOUBLE,
			location_uid           TEXT,
			charging_station_uid   TEXT,
			version                INTEGER NOT NULL DEFAULT 1,
			UNIQUE (vin, session_start_date)
		);
		CREATE TABLE IF NOT EXISTS trips (
			id                       INTEGER PRIMARY KEY AUTOINCREMENT,
			vin                      TEXT NOT NULL,
			start_date               INTEGER,
			destination_date         INTEGER,
			start_latitude           DOUBLE,
			start_longitude          DOUBLE,
			destination_latitude     DOUBLE,
			destination_longitude    DOUBLE,
			start_odometer           DOUBLE,
			destination_odometer     DOUBLE,
			start_location_uid       TEXT,
			destination_location_uid TEXT,
			version                  INTEGER NOT NULL DEFAULT 1,
			UNIQUE (vin, start_date)
		);
		CREATE TABLE IF NOT EXISTS refuel_sessions (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			vin               TEXT NOT NULL,
			session_date      INTEGER NOT NULL,
			start_level       DOUBLE,
			end_level         DOUBLE,
			odometer          DOUBLE,
			latitude          DOUBLE,
			longitude         DOUBLE,
			location_uid      TEXT,
			version           INTEGER NOT NULL DEFAULT 1
		);
		CREATE TABLE IF NOT EXISTS locations (
			uid               TEXT PRIMARY KEY,
			name              TEXT,
			latitude          DOUBLE,
			longitude         DOUBLE,
			address           TEXT
		);
		CREATE TABLE IF NOT EXISTS charging_stations (
			uid               TEXT PRIMARY KEY,
			name              TEXT,
			latitude          DOUBLE,
			longitude         DOUBLE,
			address           TEXT,
			operator          TEXT
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{DB: sqlDB, health: health.NewStatus()}, nil
}

// Health exposes the store health flag for the HTTP layer.
func (db *DB) Health() *health.Status {
	return db.health
}

// observe reports the outcome of a store round trip to the health flag.
// Logical outcomes (stale version, vanished row, unique conflict) do
// not count against store health; they are reconciler-level signals.
func (db *DB) observe(err error) error {
	switch {
	case err == nil, IsLogical(err):
		db.health.Set(true)
	default:
		db.health.Set(false)
	}
	return err
}

// msOf converts an optional time to unix milliseconds for storage.
func msOf(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// timeOf converts a stored millisecond column back to UTC time.
func timeOf(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}

// AttachAdminRoutes mounts the debug surface: a tailsql console over
// the live database and an on-demand gzipped backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("[DB] admin SQL console unavailable: %v", err)
	} else {
		tsql.SetDB("sqlite://drivelog.db", db.DB, &tailsql.DBOptions{
			Label: "Drivelog DB",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// the vacuumed copy is transient; drop it once sent
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("[DB] failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
