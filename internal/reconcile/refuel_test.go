package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivelog-data/drivelog/internal/places"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

func TestRefuelDetected(t *testing.T) {
	store := testStore(t)
	bus := telemetry.NewBus()
	car := telemetry.Vehicle("WVWZZZ")
	tank := telemetry.Drive("WVWZZZ", 1)
	t0 := time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC)

	resolver := places.NewStaticResolver([]places.StaticPlace{
		{Kind: places.KindGasStation, Place: places.Place{UID: "aral-7", Name: "Aral", Latitude: 52.52, Longitude: 13.405}},
	})

	bus.Publish(numObs(tank, telemetry.SignalLevel, 40, t0.Add(-time.Hour)))
	bus.Publish(numObs(car, telemetry.SignalOdometer, 43000, t0.Add(-time.Minute)))
	bus.Publish(numObs(car, telemetry.SignalLatitude, 52.52, t0.Add(-time.Minute)))
	bus.Publish(numObs(car, telemetry.SignalLongitude, 13.405, t0.Add(-time.Minute)))

	r, err := ConnectRefuel(store, bus, resolver, "WVWZZZ", 1)
	require.NoError(t, err)
	defer r.Disconnect()

	bus.Publish(numObs(tank, telemetry.SignalLevel, 46, t0))

	sessions, err := store.RefuelSessions("WVWZZZ")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	sess := sessions[0]
	assert.True(t, sess.SessionDate.Equal(t0))
	require.NotNil(t, sess.StartLevel)
	assert.Equal(t, float64(40), *sess.StartLevel)
	require.NotNil(t, sess.EndLevel)
	assert.Equal(t, float64(46), *sess.EndLevel)
	require.NotNil(t, sess.Odometer)
	assert.Equal(t, float64(43000), *sess.Odometer)
	require.NotNil(t, sess.LocationUID)
	assert.Equal(t, "aral-7", *sess.LocationUID)
}

func TestRefuelSmallRiseIgnored(t *testing.T) {
	store := testStore(t)
	bus := telemetry.NewBus()
	tank := telemetry.Drive("WVWZZZ", 1)
	t0 := time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC)

	bus.Publish(numObs(tank, telemetry.SignalLevel, 40, t0.Add(-time.Hour)))

	r, err := ConnectRefuel(store, bus, nil, "WVWZZZ", 1)
	require.NoError(t, err)
	defer r.Disconnect()

	// Four points is within sensor noise, not a refuel.
	bus.Publish(numObs(tank, telemetry.SignalLevel, 44, t0))

	sessions, err := store.RefuelSessions("WVWZZZ")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRefuelAfterConsumption(t *testing.T) {
	store := testStore(t)
	bus := telemetry.NewBus()
	tank := telemetry.Drive("WVWZZZ", 1)
	t0 := time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC)

	bus.Publish(numObs(tank, telemetry.SignalLevel, 46, t0.Add(-2*time.Hour)))

	r, err := ConnectRefuel(store, bus, nil, "WVWZZZ", 1)
	require.NoError(t, err)
	defer r.Disconnect()

	// Burning fuel is not a refuel.
	bus.Publish(numObs(tank, telemetry.SignalLevel, 20, t0.Add(-time.Hour)))
	sessions, err := store.RefuelSessions("WVWZZZ")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// Filling back up is.
	bus.Publish(numObs(tank, telemetry.SignalLevel, 80, t0))
	sessions, err = store.RefuelSessions("WVWZZZ")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].StartLevel)
	assert.Equal(t, float64(20), *sessions[0].StartLevel)
	require.NotNil(t, sessions[0].EndLevel)
	assert.Equal(t, float64(80), *sessions[0].EndLevel)
}

func TestRefuelFirstReadingWithoutBaseline(t *testing.T) {
	store := testStore(t)
	bus := telemetry.NewBus()
	tank := telemetry.Drive("WVWZZZ", 1)
	t0 := time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC)

	// No snapshot: the first reading establishes the baseline and must
	// not register as a refuel even at a full tank.
	r, err := ConnectRefuel(store, bus, nil, "WVWZZZ", 1)
	require.NoError(t, err)
	defer r.Disconnect()

	bus.Publish(numObs(tank, telemetry.SignalLevel, 100, t0))

	sessions, err := store.RefuelSessions("WVWZZZ")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
