package reconcile

import (
	"errors"
	"time"

	"github.com/drivelog-data/drivelog/internal/db"
	"github.com/drivelog-data/drivelog/internal/monitoring"
	"github.com/drivelog-data/drivelog/internal/places"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

// destBackfillWindow is how long after a trip's destination date a
// late position or location update may still be attached to it. GPS
// and geocoding updates are typically still in flight when the
// ignition-off event fires.
const destBackfillWindow = 5 * time.Minute

// parkedPosition is the rolling cache of the last position seen while
// the vehicle was not moving. A trip's start position falls back to it
// when the live position signal is unavailable at ignition-on.
type parkedPosition struct {
	lat, lon float64
	at       time.Time
	valid    bool
}

// TripReconciler owns the trip state for one vehicle: it opens a trip
// on ignition-on, closes it on parking, and backfills late-arriving
// destination positions.
type TripReconciler struct {
	store    *db.DB
	bus      *telemetry.Bus
	resolver places.Resolver
	vin      string
	vehicle  telemetry.Entity

	tripLock *timeoutLock

	tripID    int64 // 0 = no tracked trip
	lastState string
	parked    parkedPosition

	tokens []telemetry.Token
}

// ConnectTrip builds the trip reconciler for vin, recovers its trip
// cursor from the store, and subscribes it to the bus.
func ConnectTrip(store *db.DB, bus *telemetry.Bus, resolver places.Resolver, vin string) (*TripReconciler, error) {
	if store == nil || bus == nil {
		return nil, errors.New("trip reconciler: nil store or bus")
	}
	if vin == "" {
		return nil, errors.New("trip reconciler: empty VIN")
	}

	r := &TripReconciler{
		store:    store,
		bus:      bus,
		resolver: resolver,
		vin:      vin,
		vehicle:  telemetry.Vehicle(vin),
		tripLock: newTimeoutLock(),
	}

	// The newest trip doubles as the discard target for the next trip
	// start (when open) and the backfill target for late positions
	// (when completed).
	latest, err := store.LatestTrip(vin)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		r.tripID = latest.ID
	}

	// Seed the state cursor so the first live transition is judged
	// against the state the vehicle was in at startup.
	if state, ok := bus.CurrentText(r.vehicle, telemetry.SignalVehicleState); ok {
		r.lastState = state
	}

	r.tokens = append(r.tokens,
		bus.Subscribe(r.vehicle, telemetry.SignalVehicleState, telemetry.EventChanged, r.onVehicleState),
		bus.Subscribe(r.vehicle, telemetry.SignalLatitude, telemetry.EventAll, r.onPosition),
		bus.Subscribe(r.vehicle, telemetry.SignalLongitude, telemetry.EventAll, r.onPosition),
	)

	// Replay the position snapshot to prime the parked cache.
	if obs, ok := bus.Current(r.vehicle, telemetry.SignalLatitude); ok {
		r.onPosition(obs, telemetry.EventChanged)
	}

	return r, nil
}

// Disconnect removes all bus subscriptions.
func (r *TripReconciler) Disconnect() {
	for _, tok := range r.tokens {
		r.bus.Unsubscribe(tok)
	}
	r.tokens = nil
}

func moving(state string) bool {
	return state == telemetry.VehicleDriving || state == telemetry.VehicleIgnition
}

// currentTrip fetches the tracked trip by ID. A vanished row falls back
// to the newest stored trip.
func (r *TripReconciler) currentTrip() (*db.Trip, error) {
	if r.tripID == 0 {
		return nil, nil
	}
	trip, err := r.store.TripByID(r.tripID)
	if err == nil {
		return trip, nil
	}
	if !errors.Is(err, db.ErrRecordGone) {
		return nil, err
	}
	monitoring.Logf("[TripReconciler] trip %d for %s vanished, re-querying latest", r.tripID, r.vin)
	latest, err := r.store.LatestTrip(r.vin)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		r.tripID = 0
		return nil, nil
	}
	r.tripID = latest.ID
	return latest, nil
}

func (r *TripReconciler) save(trip *db.Trip) bool {
	err := r.store.UpdateTrip(trip)
	switch {
	case err == nil:
		return true
	case db.IsLogical(err):
		monitoring.Logf("[TripReconciler] abandoned write to trip %d for %s: %v", trip.ID, r.vin, err)
	default:
		monitoring.Logf("[TripReconciler] failed to update trip %d for %s: %v", trip.ID, r.vin, err)
	}
	return false
}

func (r *TripReconciler) onVehicleState(obs telemetry.Observation, _ telemetry.Event) {
	if !obs.Enabled {
		return
	}
	if !r.tripLock.lock(lockTimeout) {
		monitoring.Logf("[TripReconciler] trip lock timeout for %s, skipping observation", r.vin)
		return
	}
	defer r.tripLock.unlock()

	state := obs.Value.Text
	prev := r.lastState
	r.lastState = state
	if state == prev {
		return
	}

	t := obs.EventTime()
	switch {
	case moving(state) && !moving(prev) && prev != "":
		r.startTrip(t)
	case !moving(state) && moving(prev):
		r.endTrip(t)
	}
}

// startTrip opens a new trip. An already-open trip is an anomaly: the
// new trip always wins and the old one is logged and dropped from the
// cursor (its row stays).
func (r *TripReconciler) startTrip(t time.Time) {
	open, err := r.currentTrip()
	if err != nil {
		monitoring.Logf("[TripReconciler] failed to load trip for %s: %v", r.vin, err)
		return
	}
	if open != nil && !open.IsCompleted() {
		monitoring.Logf("[TripReconciler] discarding open trip %d for %s: a new trip started", open.ID, r.vin)
		r.tripID = 0
	}

	trip := &db.Trip{VIN: r.vin, StartDate: &t}
	if v, ok := r.bus.CurrentNumber(r.vehicle, telemetry.SignalOdometer); ok {
		trip.StartOdometer = &v
	}
	lat, lon, ok := currentPosition(r.bus, r.vehicle)
	if !ok && r.parked.valid {
		lat, lon, ok = r.parked.lat, r.parked.lon, true
	}
	if ok {
		trip.StartLatitude, trip.StartLongitude = &lat, &lon
		trip.StartLocationUID = resolvePlace(r.store, r.resolver, places.KindPlace, lat, lon)
	}

	if err := r.store.InsertTrip(trip); err != nil {
		if errors.Is(err, db.ErrConflict) {
			monitoring.Logf("[TripReconciler] lost trip insert race for %s: %v", r.vin, err)
			return
		}
		monitoring.Logf("[TripReconciler] failed to insert trip for %s: %v", r.vin, err)
		return
	}
	r.tripID = trip.ID
}

// endTrip stamps the destination. Position and location are attempted
// immediately; when unavailable they stay pending for the backfill
// window.
func (r *TripReconciler) endTrip(t time.Time) {
	trip, err := r.currentTrip()
	if err != nil {
		monitoring.Logf("[TripReconciler] failed to load trip for %s: %v", r.vin, err)
		return
	}
	if trip == nil || trip.IsCompleted() {
		return
	}

	trip.DestinationDate = &t
	if v, ok := r.bus.CurrentNumber(r.vehicle, telemetry.SignalOdometer); ok {
		trip.DestinationOdometer = &v
	}
	if lat, lon, ok := currentPosition(r.bus, r.vehicle); ok {
		trip.DestinationLatitude, trip.DestinationLongitude = &lat, &lon
		trip.DestinationLocationUID = resolvePlace(r.store, r.resolver, places.KindPlace, lat, lon)
	}
	r.save(trip)
}

// onPosition keeps the parked-position cache fresh and backfills the
// destination of a recently completed trip.
func (r *TripReconciler) onPosition(obs telemetry.Observation, _ telemetry.Event) {
	if !obs.Enabled || obs.Value.Kind != telemetry.KindNumber {
		return
	}
	w := obs.Watermark()
	if w == nil {
		return
	}
	if !r.tripLock.lock(lockTimeout) {
		monitoring.Logf("[TripReconciler] trip lock timeout for %s, skipping observation", r.vin)
		return
	}
	defer r.tripLock.unlock()

	var lat, lon float64
	var ok bool
	if obs.Signal == telemetry.SignalLatitude {
		lat = obs.Value.Number
		lon, ok = r.bus.CurrentNumber(r.vehicle, telemetry.SignalLongitude)
	} else {
		lon = obs.Value.Number
		lat, ok = r.bus.CurrentNumber(r.vehicle, telemetry.SignalLatitude)
	}
	if !ok {
		return
	}

	if !moving(r.lastState) {
		r.parked = parkedPosition{lat: lat, lon: lon, at: *w, valid: true}
	}

	trip, err := r.currentTrip()
	if err != nil {
		monitoring.Logf("[TripReconciler] failed to load trip for %s: %v", r.vin, err)
		return
	}
	if trip == nil || !trip.IsCompleted() {
		return
	}
	if trip.DestinationLatitude != nil && trip.DestinationLocationUID != nil {
		return
	}
	if d := w.Sub(*trip.DestinationDate); d < 0 || d > destBackfillWindow {
		return
	}

	changed := false
	if trip.DestinationLatitude == nil || trip.DestinationLongitude == nil {
		trip.DestinationLatitude, trip.DestinationLongitude = &lat, &lon
		changed = true
	}
	if trip.DestinationLocationUID == nil {
		if uid := resolvePlace(r.store, r.resolver, places.KindPlace, lat, lon); uid != nil {
			trip.DestinationLocationUID = uid
			changed = true
		}
	}
	if changed {
		r.save(trip)
	}
}
