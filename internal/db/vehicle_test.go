package db

import (
	"testing"
	"time"
)

func TestUpsertVehicleKeepsKnownAttributes(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	if err := db.UpsertVehicle(&Vehicle{VIN: "WVWZZZ", Name: strPtr("Family Car"), Model: strPtr("ID.4")}); err != nil {
		t.Fatalf("UpsertVehicle failed: %v", err)
	}

	// A later upsert with only one attribute must not blank the others.
	if err := db.UpsertVehicle(&Vehicle{VIN: "WVWZZZ", LicensePlate: strPtr("B-AB 1234")}); err != nil {
		t.Fatalf("UpsertVehicle failed: %v", err)
	}

	got, err := db.VehicleByVIN("WVWZZZ")
	if err != nil {
		t.Fatalf("VehicleByVIN failed: %v", err)
	}
	if got == nil {
		t.Fatal("VehicleByVIN returned nil for known VIN")
	}
	if got.Name == nil || *got.Name != "Family Car" {
		t.Errorf("name = %v, want Family Car", got.Name)
	}
	if got.Model == nil || *got.Model != "ID.4" {
		t.Errorf("model = %v, want ID.4", got.Model)
	}
	if got.LicensePlate == nil || *got.LicensePlate != "B-AB 1234" {
		t.Errorf("license plate = %v, want B-AB 1234", got.LicensePlate)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updated_at not set")
	}

	unknown, err := db.VehicleByVIN("UNKNOWN")
	if err != nil {
		t.Fatalf("VehicleByVIN failed: %v", err)
	}
	if unknown != nil {
		t.Errorf("VehicleByVIN for unknown VIN = %+v, want nil", unknown)
	}
}

func TestRegisterDrive(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	if err := db.RegisterDrive("WVWZZZ", 0, "electric"); err != nil {
		t.Fatalf("RegisterDrive failed: %v", err)
	}
	if err := db.RegisterDrive("WVWZZZ", 1, "combustion"); err != nil {
		t.Fatalf("RegisterDrive failed: %v", err)
	}

	kind, err := db.DriveKind("WVWZZZ", 1)
	if err != nil {
		t.Fatalf("DriveKind failed: %v", err)
	}
	if kind != "combustion" {
		t.Errorf("kind = %q, want combustion", kind)
	}

	// Re-registering overwrites.
	if err := db.RegisterDrive("WVWZZZ", 1, "electric"); err != nil {
		t.Fatalf("RegisterDrive failed: %v", err)
	}
	kind, err = db.DriveKind("WVWZZZ", 1)
	if err != nil {
		t.Fatalf("DriveKind failed: %v", err)
	}
	if kind != "electric" {
		t.Errorf("kind after overwrite = %q, want electric", kind)
	}

	kind, err = db.DriveKind("WVWZZZ", 7)
	if err != nil {
		t.Fatalf("DriveKind failed: %v", err)
	}
	if kind != "" {
		t.Errorf("kind for unknown drive = %q, want empty", kind)
	}
}

func TestRefuelSessions(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	t0 := time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC)

	second := &RefuelSession{VIN: "WVWZZZ", SessionDate: t0.Add(48 * time.Hour), StartLevel: floatPtr(30), EndLevel: floatPtr(95)}
	first := &RefuelSession{VIN: "WVWZZZ", SessionDate: t0, StartLevel: floatPtr(20), EndLevel: floatPtr(90)}
	for _, s := range []*RefuelSession{second, first} {
		if err := db.InsertRefuelSession(s); err != nil {
			t.Fatalf("InsertRefuelSession failed: %v", err)
		}
	}

	sessions, err := db.RefuelSessions("WVWZZZ")
	if err != nil {
		t.Fatalf("RefuelSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != first.ID || sessions[1].ID != second.ID {
		t.Errorf("sessions not ordered oldest first: %d, %d", sessions[0].ID, sessions[1].ID)
	}
	if !sessions[0].SessionDate.Equal(t0) {
		t.Errorf("session date = %v, want %v", sessions[0].SessionDate, t0)
	}
}

func TestUpsertLocation(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	loc := &Location{UID: "home", Name: strPtr("Home"), Latitude: floatPtr(52.52), Longitude: floatPtr(13.405)}
	if err := db.UpsertLocation(loc); err != nil {
		t.Fatalf("UpsertLocation failed: %v", err)
	}
	if err := db.UpsertLocation(&Location{UID: "home", Address: strPtr("Unter den Linden 1")}); err != nil {
		t.Fatalf("UpsertLocation failed: %v", err)
	}

	got, err := db.LocationByUID("home")
	if err != nil {
		t.Fatalf("LocationByUID failed: %v", err)
	}
	if got == nil || got.Name == nil || *got.Name != "Home" {
		t.Fatalf("location = %+v, want name Home preserved", got)
	}
	if got.Address == nil || *got.Address != "Unter den Linden 1" {
		t.Errorf("address = %v, want Unter den Linden 1", got.Address)
	}

	station := &ChargingStation{UID: "ionity-17", Name: strPtr("Ionity Werder"), Operator: strPtr("Ionity")}
	if err := db.UpsertChargingStation(station); err != nil {
		t.Fatalf("UpsertChargingStation failed: %v", err)
	}
	gotStation, err := db.ChargingStationByUID("ionity-17")
	if err != nil {
		t.Fatalf("ChargingStationByUID failed: %v", err)
	}
	if gotStation == nil || gotStation.Operator == nil || *gotStation.Operator != "Ionity" {
		t.Fatalf("station = %+v, want operator Ionity", gotStation)
	}
}
