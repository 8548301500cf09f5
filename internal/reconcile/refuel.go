package reconcile

import (
	"errors"

	"github.com/drivelog-data/drivelog/internal/db"
	"github.com/drivelog-data/drivelog/internal/monitoring"
	"github.com/drivelog-data/drivelog/internal/places"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

// refuelThreshold is the minimum rise in fuel level, in percentage
// points, treated as a refuel. Smaller rises are sensor noise.
const refuelThreshold = 5.0

// RefuelDetector watches the fuel level of one combustion drive and
// records a refuel session for every significant rise.
type RefuelDetector struct {
	store    *db.DB
	bus      *telemetry.Bus
	resolver places.Resolver
	vin      string
	vehicle  telemetry.Entity
	tank     telemetry.Entity

	lock      *timeoutLock
	lastLevel *float64

	tokens []telemetry.Token
}

// ConnectRefuel builds the refuel detector for drive tankDrive of vin
// and subscribes it to the bus.
func ConnectRefuel(store *db.DB, bus *telemetry.Bus, resolver places.Resolver, vin string, tankDrive int) (*RefuelDetector, error) {
	if store == nil || bus == nil {
		return nil, errors.New("refuel detector: nil store or bus")
	}
	if vin == "" {
		return nil, errors.New("refuel detector: empty VIN")
	}
	if tankDrive < 0 {
		return nil, errors.New("refuel detector: negative drive index")
	}

	r := &RefuelDetector{
		store:    store,
		bus:      bus,
		resolver: resolver,
		vin:      vin,
		vehicle:  telemetry.Vehicle(vin),
		tank:     telemetry.Drive(vin, tankDrive),
		lock:     newTimeoutLock(),
	}

	// Seed the level cursor from the snapshot so the first live
	// observation compares against the level at startup rather than
	// reading a full tank as a refuel.
	if lvl, ok := bus.CurrentNumber(r.tank, telemetry.SignalLevel); ok {
		r.lastLevel = &lvl
	}

	r.tokens = append(r.tokens,
		bus.Subscribe(r.tank, telemetry.SignalLevel, telemetry.EventChanged, r.onLevel),
	)

	return r, nil
}

// Disconnect removes all bus subscriptions.
func (r *RefuelDetector) Disconnect() {
	for _, tok := range r.tokens {
		r.bus.Unsubscribe(tok)
	}
	r.tokens = nil
}

func (r *RefuelDetector) onLevel(obs telemetry.Observation, _ telemetry.Event) {
	if !obs.Enabled || obs.Value.Kind != telemetry.KindNumber {
		return
	}
	if !r.lock.lock(lockTimeout) {
		monitoring.Logf("[RefuelDetector] lock timeout for %s, skipping observation", r.vin)
		return
	}
	defer r.lock.unlock()

	level := obs.Value.Number
	prev := r.lastLevel
	r.lastLevel = &level

	if prev == nil || level <= *prev+refuelThreshold {
		return
	}

	sess := &db.RefuelSession{
		VIN:         r.vin,
		SessionDate: obs.EventTime(),
		StartLevel:  prev,
		EndLevel:    &level,
	}
	if v, ok := r.bus.CurrentNumber(r.vehicle, telemetry.SignalOdometer); ok {
		sess.Odometer = &v
	}
	if lat, lon, ok := currentPosition(r.bus, r.vehicle); ok {
		sess.Latitude, sess.Longitude = &lat, &lon
		sess.LocationUID = resolvePlace(r.store, r.resolver, places.KindGasStation, lat, lon)
	}

	if err := r.store.InsertRefuelSession(sess); err != nil {
		monitoring.Logf("[RefuelDetector] failed to insert refuel session for %s: %v", r.vin, err)
		return
	}
	monitoring.Logf("[RefuelDetector] recorded refuel for %s: %.1f%% -> %.1f%%", r.vin, *prev, level)
}
