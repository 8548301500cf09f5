package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivelog-data/drivelog/internal/telemetry"
)

func TestConnectVehicle(t *testing.T) {
	store := testStore(t)
	bus := telemetry.NewBus()

	spec := VehicleSpec{
		VIN: "WVWZZZ",
		Drives: []DriveSpec{
			{Index: 0, Kind: "electric"},
			{Index: 1, Kind: "combustion"},
		},
	}

	v, err := ConnectVehicle(store, bus, nil, spec)
	require.NoError(t, err)
	defer v.Disconnect()

	require.NotNil(t, v.Charging)
	require.NotNil(t, v.Trip)
	require.NotNil(t, v.Climate)
	require.NotNil(t, v.State)
	assert.Len(t, v.Drives, 2)
	assert.Len(t, v.Refuels, 1, "one refuel detector per combustion drive")

	// Connecting registers the vehicle and its drives.
	rec, err := store.VehicleByVIN("WVWZZZ")
	require.NoError(t, err)
	require.NotNil(t, rec)

	kind, err := store.DriveKind("WVWZZZ", 0)
	require.NoError(t, err)
	assert.Equal(t, "electric", kind)
	kind, err = store.DriveKind("WVWZZZ", 1)
	require.NoError(t, err)
	assert.Equal(t, "combustion", kind)
}

func TestVehicleIdentityUpdates(t *testing.T) {
	store := testStore(t)
	bus := telemetry.NewBus()
	car := telemetry.Vehicle("WVWZZZ")
	t0 := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

	bus.Publish(textObs(car, telemetry.SignalModel, "ID.4", t0))

	tracker, err := ConnectVehicleState(store, bus, "WVWZZZ")
	require.NoError(t, err)
	defer tracker.Disconnect()

	// The snapshot model was applied at connect; later identity changes
	// overwrite in place.
	bus.Publish(textObs(car, telemetry.SignalName, "Family Car", t0.Add(time.Minute)))
	bus.Publish(textObs(car, telemetry.SignalLicensePlate, "B-AB 1234", t0.Add(time.Minute)))

	rec, err := store.VehicleByVIN("WVWZZZ")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Model)
	assert.Equal(t, "ID.4", *rec.Model)
	require.NotNil(t, rec.Name)
	assert.Equal(t, "Family Car", *rec.Name)
	require.NotNil(t, rec.LicensePlate)
	assert.Equal(t, "B-AB 1234", *rec.LicensePlate)
}

func TestVehicleStateFactsCompacted(t *testing.T) {
	store := testStore(t)
	bus := telemetry.NewBus()
	car := telemetry.Vehicle("WVWZZZ")
	t0 := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

	tracker, err := ConnectVehicleState(store, bus, "WVWZZZ")
	require.NoError(t, err)
	defer tracker.Disconnect()

	bus.Publish(textObs(car, telemetry.SignalConnectionState, "online", t0))
	bus.Publish(textObs(car, telemetry.SignalConnectionState, "online", t0.Add(time.Hour)))
	bus.Publish(textObs(car, telemetry.SignalConnectionState, "offline", t0.Add(2*time.Hour)))
	bus.Publish(numObs(car, telemetry.SignalOutsideTemperature, 14.5, t0))

	assert.Equal(t, 3, countRows(t, store, "interval_facts"))
	latest, err := store.LatestFact("WVWZZZ", "connection_state")
	require.NoError(t, err)
	require.NotNil(t, latest.TextValue)
	assert.Equal(t, "offline", *latest.TextValue)
}

func TestDriveStateFactsCompacted(t *testing.T) {
	store := testStore(t)
	bus := telemetry.NewBus()
	battery := telemetry.Drive("WVWZZZ", 0)
	t0 := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

	tracker, err := ConnectDriveState(store, bus, "WVWZZZ", 0, "electric")
	require.NoError(t, err)
	defer tracker.Disconnect()

	bus.Publish(numObs(battery, telemetry.SignalLevel, 80, t0))
	bus.Publish(numObs(battery, telemetry.SignalRange, 310, t0))
	bus.Publish(numObs(battery, telemetry.SignalConsumption, 17.2, t0))
	bus.Publish(numObs(battery, telemetry.SignalConsumption, 17.2, t0.Add(time.Minute)))
	bus.Publish(numObs(battery, telemetry.SignalConsumption, 21.8, t0.Add(2*time.Minute)))

	// Level, range, and two consumption facts; the repeated consumption
	// reading extends its fact instead of opening a new one.
	assert.Equal(t, 4, countRows(t, store, "interval_facts"))
	latest, err := store.LatestFact("WVWZZZ:0", "consumption")
	require.NoError(t, err)
	require.NotNil(t, latest.NumberValue)
	assert.Equal(t, 21.8, *latest.NumberValue)
}

func TestDriveStateRejectsUnknownKind(t *testing.T) {
	store := testStore(t)
	bus := telemetry.NewBus()

	_, err := ConnectDriveState(store, bus, "WVWZZZ", 0, "steam")
	require.Error(t, err)
}
