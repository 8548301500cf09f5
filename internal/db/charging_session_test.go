package db

import (
	"errors"
	"testing"
	"time"
)

func TestLatestChargingSessionOrdering(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	dated := &ChargingSession{VIN: "WVWZZZ", SessionStartDate: timePtr(t0)}
	if err := db.InsertChargingSession(dated); err != nil {
		t.Fatalf("InsertChargingSession failed: %v", err)
	}

	// A session opened by a connector event has no start date yet. It
	// must sort before any dated session so it stays the resume target.
	undated := &ChargingSession{VIN: "WVWZZZ", PlugConnectedDate: timePtr(t0.Add(time.Hour))}
	if err := db.InsertChargingSession(undated); err != nil {
		t.Fatalf("InsertChargingSession failed: %v", err)
	}

	latest, err := db.LatestChargingSession("WVWZZZ")
	if err != nil {
		t.Fatalf("LatestChargingSession failed: %v", err)
	}
	if latest == nil || latest.ID != undated.ID {
		t.Fatalf("LatestChargingSession = %+v, want undated session %d", latest, undated.ID)
	}

	none, err := db.LatestChargingSession("UNKNOWN")
	if err != nil {
		t.Fatalf("LatestChargingSession failed: %v", err)
	}
	if none != nil {
		t.Errorf("LatestChargingSession for unknown VIN = %+v, want nil", none)
	}
}

func TestInsertChargingSessionConflict(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	first := &ChargingSession{VIN: "WVWZZZ", SessionStartDate: timePtr(t0)}
	if err := db.InsertChargingSession(first); err != nil {
		t.Fatalf("InsertChargingSession failed: %v", err)
	}

	dup := &ChargingSession{VIN: "WVWZZZ", SessionStartDate: timePtr(t0)}
	err := db.InsertChargingSession(dup)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate insert = %v, want ErrConflict", err)
	}

	// Same start date on another vehicle is fine.
	other := &ChargingSession{VIN: "WAUZZZ", SessionStartDate: timePtr(t0)}
	if err := db.InsertChargingSession(other); err != nil {
		t.Errorf("insert for other VIN failed: %v", err)
	}
}

func TestUpdateChargingSessionVersion(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	sess := &ChargingSession{VIN: "WVWZZZ", SessionStartDate: timePtr(t0)}
	if err := db.InsertChargingSession(sess); err != nil {
		t.Fatalf("InsertChargingSession failed: %v", err)
	}

	stale, err := db.ChargingSessionByID(sess.ID)
	if err != nil {
		t.Fatalf("ChargingSessionByID failed: %v", err)
	}

	sess.SessionEndDate = timePtr(t0.Add(2 * time.Hour))
	sess.EndLevel = floatPtr(80)
	if err := db.UpdateChargingSession(sess); err != nil {
		t.Fatalf("UpdateChargingSession failed: %v", err)
	}
	if sess.Version != 2 {
		t.Errorf("version after update = %d, want 2", sess.Version)
	}

	// The copy fetched before the update carries the old version.
	stale.EndLevel = floatPtr(90)
	err = db.UpdateChargingSession(stale)
	if !errors.Is(err, ErrStaleRecord) {
		t.Errorf("stale update = %v, want ErrStaleRecord", err)
	}

	got, err := db.ChargingSessionByID(sess.ID)
	if err != nil {
		t.Fatalf("ChargingSessionByID failed: %v", err)
	}
	if got.EndLevel == nil || *got.EndLevel != 80 {
		t.Errorf("end_level = %v, want 80 (stale write must not stick)", got.EndLevel)
	}
	if got.SessionEndDate == nil || !got.SessionEndDate.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("session_end_date = %v, want %v", got.SessionEndDate, t0.Add(2*time.Hour))
	}

	missing := &ChargingSession{ID: 99999, VIN: "WVWZZZ", Version: 1}
	err = db.UpdateChargingSession(missing)
	if !errors.Is(err, ErrRecordGone) {
		t.Errorf("update of missing session = %v, want ErrRecordGone", err)
	}
}

func TestChargingSessionPredicates(t *testing.T) {
	now := time.Now().UTC()

	open := &ChargingSession{SessionStartDate: &now}
	if open.IsClosed() {
		t.Error("session with only a start date reports closed")
	}

	ended := &ChargingSession{SessionStartDate: &now, SessionEndDate: &now}
	if !ended.IsClosed() {
		t.Error("ended session reports open")
	}

	unlocked := &ChargingSession{PlugLockedDate: &now, PlugUnlockedDate: &now}
	if !unlocked.IsClosed() {
		t.Error("unlocked session reports open")
	}

	disconnected := &ChargingSession{PlugConnectedDate: &now, PlugDisconnectedDate: &now}
	if !disconnected.IsClosed() {
		t.Error("disconnected session reports open")
	}
}
