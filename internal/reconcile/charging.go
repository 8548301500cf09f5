package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/drivelog-data/drivelog/internal/db"
	"github.com/drivelog-data/drivelog/internal/monitoring"
	"github.com/drivelog-data/drivelog/internal/places"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

const (
	// resumeWindow is how long after a session's last closing milestone
	// a new charging or connect event still continues that session.
	resumeWindow = 24 * time.Hour

	// conservationWindow replaces resumeWindow when the new state is
	// conservation charging, which pauses for long stretches without
	// ending the session.
	conservationWindow = 300 * time.Hour

	// lateLevelWindow is how long after session_end_date a higher
	// battery level reading may still overwrite end_level.
	lateLevelWindow = time.Minute
)

// ChargingReconciler owns the charging session state for one vehicle:
// it folds connector, lock, and charging-state transitions into
// plug-to-unplug sessions and compacts the charging telemetry into
// interval facts.
type ChargingReconciler struct {
	store    *db.DB
	bus      *telemetry.Bus
	resolver places.Resolver
	vin      string
	vehicle  telemetry.Entity
	battery  *telemetry.Entity // electric drive, nil when the vehicle has none

	stateLock   *timeoutLock
	sessionLock *timeoutLock

	sessionID int64 // 0 = no tracked session

	// recoveryPending marks an open session found at connect time
	// before any telemetry had arrived. The live-or-stale decision is
	// deferred to the first charging, connector, or lock observation.
	recoveryPending bool

	lastChargingState  string
	lastConnectorState string
	lastLockState      string

	stateFacts *compactor
	rateFacts  *compactor
	powerFacts *compactor
	tempFacts  *compactor

	tokens []telemetry.Token
}

// ConnectCharging builds the charging reconciler for vin, recovers its
// session cursor from the store, and subscribes it to the bus.
// batteryDrive is the index of the vehicle's electric drive, or -1 for
// vehicles without one.
func ConnectCharging(store *db.DB, bus *telemetry.Bus, resolver places.Resolver, vin string, batteryDrive int) (*ChargingReconciler, error) {
	if store == nil || bus == nil {
		return nil, errors.New("charging reconciler: nil store or bus")
	}
	if vin == "" {
		return nil, errors.New("charging reconciler: empty VIN")
	}

	r := &ChargingReconciler{
		store:       store,
		bus:         bus,
		resolver:    resolver,
		vin:         vin,
		vehicle:     telemetry.Vehicle(vin),
		stateLock:   newTimeoutLock(),
		sessionLock: newTimeoutLock(),
	}
	if batteryDrive >= 0 {
		b := telemetry.Drive(vin, batteryDrive)
		r.battery = &b
	}

	var err error
	if r.stateFacts, err = newCompactor(store, r.vehicle, telemetry.SignalChargingState); err != nil {
		return nil, err
	}
	if r.rateFacts, err = newCompactor(store, r.vehicle, telemetry.SignalChargingRate); err != nil {
		return nil, err
	}
	if r.powerFacts, err = newCompactor(store, r.vehicle, telemetry.SignalChargingPower); err != nil {
		return nil, err
	}
	if r.battery != nil {
		if r.tempFacts, err = newCompactor(store, *r.battery, telemetry.SignalBatteryTemperature); err != nil {
			return nil, err
		}
	}

	if err := r.recover(); err != nil {
		return nil, fmt.Errorf("charging reconciler for %s: %w", vin, err)
	}

	r.tokens = append(r.tokens,
		bus.Subscribe(r.vehicle, telemetry.SignalChargingState, telemetry.EventAll, r.onChargingState),
		bus.Subscribe(r.vehicle, telemetry.SignalConnectorState, telemetry.EventChanged, r.onConnector),
		bus.Subscribe(r.vehicle, telemetry.SignalLockState, telemetry.EventChanged, r.onLock),
		bus.Subscribe(r.vehicle, telemetry.SignalChargingType, telemetry.EventChanged, r.onChargingType),
		bus.Subscribe(r.vehicle, telemetry.SignalChargingRate, telemetry.EventAll, r.rateFacts.handler(r.stateLock)),
		bus.Subscribe(r.vehicle, telemetry.SignalChargingPower, telemetry.EventAll, r.powerFacts.handler(r.stateLock)),
	)
	if r.battery != nil {
		r.tokens = append(r.tokens,
			bus.Subscribe(*r.battery, telemetry.SignalBatteryTemperature, telemetry.EventAll, r.tempFacts.handler(r.stateLock)),
			bus.Subscribe(*r.battery, telemetry.SignalLevel, telemetry.EventChanged, r.onBatteryLevel),
		)
	}

	// Replay the snapshot so connector/lock/charging state present at
	// startup is reconciled the same way a live transition would be.
	for _, replay := range []struct {
		signal  telemetry.Signal
		handler telemetry.Handler
	}{
		{telemetry.SignalConnectorState, r.onConnector},
		{telemetry.SignalLockState, r.onLock},
		{telemetry.SignalChargingState, r.onChargingState},
	} {
		if obs, ok := bus.Current(r.vehicle, replay.signal); ok {
			replay.handler(obs, telemetry.EventChanged)
		}
	}

	return r, nil
}

// Disconnect removes all bus subscriptions.
func (r *ChargingReconciler) Disconnect() {
	for _, tok := range r.tokens {
		r.bus.Unsubscribe(tok)
	}
	r.tokens = nil
}

// recover loads the newest session as the tracking cursor. A closed
// session stays tracked so later events can resume it; an open session
// is kept only when the live snapshot still justifies one. With an
// empty snapshot the decision is deferred via recoveryPending.
func (r *ChargingReconciler) recover() error {
	latest, err := r.store.LatestChargingSession(r.vin)
	if err != nil {
		return err
	}
	if latest == nil {
		return nil
	}
	if latest.IsClosed() {
		r.sessionID = latest.ID
		return nil
	}
	charging, haveCharging := r.bus.CurrentText(r.vehicle, telemetry.SignalChargingState)
	connector, haveConnector := r.bus.CurrentText(r.vehicle, telemetry.SignalConnectorState)
	lockState, haveLock := r.bus.CurrentText(r.vehicle, telemetry.SignalLockState)
	if activeCharging(charging) || connector == telemetry.ConnectorConnected || lockState == telemetry.LockLocked {
		r.sessionID = latest.ID
		return nil
	}
	if !haveCharging && !haveConnector && !haveLock {
		// No telemetry yet (ingest typically connects after the
		// reconcilers). Keep the session tracked and decide once the
		// first observation lands, when the snapshot can tell a live
		// session from a stale one.
		r.sessionID = latest.ID
		r.recoveryPending = true
		return nil
	}
	monitoring.Logf("[ChargingReconciler] discarding stale open session %d for %s", latest.ID, r.vin)
	return nil
}

// settleRecovery resolves a deferred recovery decision. Called under
// sessionLock with the triggering observation already in the snapshot.
func (r *ChargingReconciler) settleRecovery() {
	if !r.recoveryPending {
		return
	}
	r.recoveryPending = false
	charging, _ := r.bus.CurrentText(r.vehicle, telemetry.SignalChargingState)
	connector, _ := r.bus.CurrentText(r.vehicle, telemetry.SignalConnectorState)
	lockState, _ := r.bus.CurrentText(r.vehicle, telemetry.SignalLockState)
	if activeCharging(charging) || connector == telemetry.ConnectorConnected || lockState == telemetry.LockLocked {
		return
	}
	monitoring.Logf("[ChargingReconciler] discarding stale open session %d for %s", r.sessionID, r.vin)
	r.sessionID = 0
}

func activeCharging(state string) bool {
	return state == telemetry.ChargingCharging || state == telemetry.ChargingConservation
}

// currentSession fetches the tracked session by ID. A vanished row
// falls back to the newest stored session, which may itself be closed.
func (r *ChargingReconciler) currentSession() (*db.ChargingSession, error) {
	if r.sessionID == 0 {
		return nil, nil
	}
	sess, err := r.store.ChargingSessionByID(r.sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, db.ErrRecordGone) {
		return nil, err
	}
	monitoring.Logf("[ChargingReconciler] session %d for %s vanished, re-querying latest", r.sessionID, r.vin)
	latest, err := r.store.LatestChargingSession(r.vin)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		r.sessionID = 0
		return nil, nil
	}
	r.sessionID = latest.ID
	return latest, nil
}

// save writes sess back, abandoning the write on version races and
// uniqueness conflicts. It reports whether the write stuck.
func (r *ChargingReconciler) save(sess *db.ChargingSession) bool {
	err := r.store.UpdateChargingSession(sess)
	switch {
	case err == nil:
		return true
	case db.IsLogical(err):
		monitoring.Logf("[ChargingReconciler] abandoned write to session %d for %s: %v", sess.ID, r.vin, err)
	default:
		monitoring.Logf("[ChargingReconciler] failed to update session %d for %s: %v", sess.ID, r.vin, err)
	}
	return false
}

func (r *ChargingReconciler) batteryLevel() (float64, bool) {
	if r.battery == nil {
		return 0, false
	}
	return r.bus.CurrentNumber(*r.battery, telemetry.SignalLevel)
}

// enrich fills contextual fields that are still unset. Each field is
// written at most once per session.
func (r *ChargingReconciler) enrich(sess *db.ChargingSession) {
	if sess.Odometer == nil {
		if v, ok := r.bus.CurrentNumber(r.vehicle, telemetry.SignalOdometer); ok {
			sess.Odometer = &v
		}
	}
	if sess.Latitude == nil || sess.Longitude == nil {
		if lat, lon, ok := currentPosition(r.bus, r.vehicle); ok {
			sess.Latitude, sess.Longitude = &lat, &lon
		}
	}
	if sess.ChargingType == nil {
		if v, ok := r.bus.CurrentText(r.vehicle, telemetry.SignalChargingType); ok {
			sess.ChargingType = &v
		}
	}
	if sess.Latitude != nil && sess.Longitude != nil {
		if sess.LocationUID == nil {
			sess.LocationUID = resolvePlace(r.store, r.resolver, places.KindPlace, *sess.Latitude, *sess.Longitude)
		}
		if sess.ChargingStationUID == nil {
			sess.ChargingStationUID = resolvePlace(r.store, r.resolver, places.KindChargingStation, *sess.Latitude, *sess.Longitude)
		}
	}
}

func (r *ChargingReconciler) stampStartLevel(sess *db.ChargingSession) {
	if sess.StartLevel != nil {
		return
	}
	if lvl, ok := r.batteryLevel(); ok {
		sess.StartLevel = &lvl
	}
}

func (r *ChargingReconciler) onChargingState(obs telemetry.Observation, _ telemetry.Event) {
	if !obs.Enabled {
		return
	}
	if !r.stateLock.lock(lockTimeout) {
		monitoring.Logf("[ChargingReconciler] state lock timeout for %s, skipping observation", r.vin)
		return
	}
	defer r.stateLock.unlock()

	if err := r.stateFacts.Apply(obs); err != nil {
		monitoring.Logf("[ChargingReconciler] failed to compact charging state for %s: %v", r.vin, err)
	}

	if !r.sessionLock.lock(lockTimeout) {
		monitoring.Logf("[ChargingReconciler] session lock timeout for %s, skipping observation", r.vin)
		return
	}
	defer r.sessionLock.unlock()
	r.settleRecovery()

	state := obs.Value.Text
	prev := r.lastChargingState
	r.lastChargingState = state
	if state == prev {
		return
	}

	t := obs.EventTime()
	switch {
	case activeCharging(state) && !activeCharging(prev):
		r.beginCharging(state, t)
	case !activeCharging(state) && activeCharging(prev):
		r.endCharging(t)
	}
}

// beginCharging handles entry into charging or conservation. The
// tracked session is the only resume candidate: a closed one whose
// end is absent or within the interruption window is reopened,
// anything else gets a fresh session, and an open one has its start
// milestone backfilled.
func (r *ChargingReconciler) beginCharging(state string, t time.Time) {
	sess, err := r.currentSession()
	if err != nil {
		monitoring.Logf("[ChargingReconciler] failed to load session for %s: %v", r.vin, err)
		return
	}

	if sess == nil || sess.IsClosed() {
		window := resumeWindow
		if state == telemetry.ChargingConservation {
			window = conservationWindow
		}
		if sess != nil && !sess.WasDisconnected() &&
			(sess.SessionEndDate == nil || sess.SessionEndDate.After(t.Add(-window))) {
			monitoring.Logf("[ChargingReconciler] resuming session %d for %s after charging interruption", sess.ID, r.vin)
			sess.SessionEndDate = nil
			sess.EndLevel = nil
			if v, ok := r.bus.CurrentText(r.vehicle, telemetry.SignalChargingType); ok {
				sess.ChargingType = &v
			}
			r.stampStartLevel(sess)
			r.save(sess)
			return
		}
		sess = &db.ChargingSession{VIN: r.vin, SessionStartDate: &t}
		r.enrich(sess)
		r.stampStartLevel(sess)
		if err := r.store.InsertChargingSession(sess); err != nil {
			if errors.Is(err, db.ErrConflict) {
				monitoring.Logf("[ChargingReconciler] lost session insert race for %s: %v", r.vin, err)
				return
			}
			monitoring.Logf("[ChargingReconciler] failed to insert session for %s: %v", r.vin, err)
			return
		}
		r.sessionID = sess.ID
		return
	}

	// A connect or lock event already opened the session before
	// charging began; backfill the start milestone.
	if !sess.WasStarted() {
		sess.SessionStartDate = &t
		r.enrich(sess)
		r.stampStartLevel(sess)
		r.save(sess)
		return
	}
	if sess.StartLevel == nil {
		r.stampStartLevel(sess)
		if sess.StartLevel != nil {
			r.save(sess)
		}
	}
}

func (r *ChargingReconciler) endCharging(t time.Time) {
	sess, err := r.currentSession()
	if err != nil {
		monitoring.Logf("[ChargingReconciler] failed to load session for %s: %v", r.vin, err)
		return
	}
	if sess == nil || sess.WasEnded() {
		return
	}
	sess.SessionEndDate = &t
	if lvl, ok := r.batteryLevel(); ok {
		sess.EndLevel = &lvl
	}
	r.save(sess)
}

func (r *ChargingReconciler) onConnector(obs telemetry.Observation, _ telemetry.Event) {
	if !obs.Enabled {
		return
	}
	if !r.sessionLock.lock(lockTimeout) {
		monitoring.Logf("[ChargingReconciler] session lock timeout for %s, skipping observation", r.vin)
		return
	}
	defer r.sessionLock.unlock()
	r.settleRecovery()

	state := obs.Value.Text
	prev := r.lastConnectorState
	r.lastConnectorState = state
	if state == prev {
		return
	}

	t := obs.EventTime()
	switch {
	case state == telemetry.ConnectorConnected:
		r.plugConnected(t)
	case state == telemetry.ConnectorDisconnected && prev == telemetry.ConnectorConnected:
		r.plugDisconnected(t)
	}
}

// closedWithin reports whether the session's latest closing milestone
// (charge end or unlock) is either absent or newer than t minus the
// resume window. A disconnected session is never resumable.
func closedWithin(sess *db.ChargingSession, t time.Time, window time.Duration) bool {
	if sess.WasDisconnected() {
		return false
	}
	marker := sess.SessionEndDate
	if sess.PlugUnlockedDate != nil && (marker == nil || sess.PlugUnlockedDate.After(*marker)) {
		marker = sess.PlugUnlockedDate
	}
	return marker == nil || marker.After(t.Add(-window))
}

func (r *ChargingReconciler) plugConnected(t time.Time) {
	sess, err := r.currentSession()
	if err != nil {
		monitoring.Logf("[ChargingReconciler] failed to load session for %s: %v", r.vin, err)
		return
	}

	if sess == nil || sess.IsClosed() {
		if sess != nil && closedWithin(sess, t, resumeWindow) {
			monitoring.Logf("[ChargingReconciler] resuming session %d for %s on reconnect", sess.ID, r.vin)
			sess.PlugUnlockedDate = nil
			if !sess.WasConnected() {
				sess.PlugConnectedDate = &t
			}
			r.save(sess)
			return
		}
		sess = &db.ChargingSession{VIN: r.vin, PlugConnectedDate: &t}
		r.enrich(sess)
		if err := r.store.InsertChargingSession(sess); err != nil {
			if errors.Is(err, db.ErrConflict) {
				monitoring.Logf("[ChargingReconciler] lost session insert race for %s: %v", r.vin, err)
				return
			}
			monitoring.Logf("[ChargingReconciler] failed to insert session for %s: %v", r.vin, err)
			return
		}
		r.sessionID = sess.ID
		return
	}

	if !sess.WasConnected() {
		sess.PlugConnectedDate = &t
		r.enrich(sess)
		r.save(sess)
	}
}

func (r *ChargingReconciler) plugDisconnected(t time.Time) {
	sess, err := r.currentSession()
	if err != nil {
		monitoring.Logf("[ChargingReconciler] failed to load session for %s: %v", r.vin, err)
		return
	}
	if sess == nil || sess.WasDisconnected() {
		return
	}
	sess.PlugDisconnectedDate = &t
	r.save(sess)
}

func (r *ChargingReconciler) onLock(obs telemetry.Observation, _ telemetry.Event) {
	if !obs.Enabled {
		return
	}
	if !r.sessionLock.lock(lockTimeout) {
		monitoring.Logf("[ChargingReconciler] session lock timeout for %s, skipping observation", r.vin)
		return
	}
	defer r.sessionLock.unlock()
	r.settleRecovery()

	state := obs.Value.Text
	prev := r.lastLockState
	r.lastLockState = state
	if state == prev {
		return
	}

	t := obs.EventTime()
	switch {
	case state == telemetry.LockLocked:
		r.plugLocked(t)
	case state == telemetry.LockUnlocked && prev == telemetry.LockLocked:
		r.plugUnlocked(t)
	}
}

func (r *ChargingReconciler) plugLocked(t time.Time) {
	sess, err := r.currentSession()
	if err != nil {
		monitoring.Logf("[ChargingReconciler] failed to load session for %s: %v", r.vin, err)
		return
	}

	if sess == nil || sess.IsClosed() {
		if sess != nil && !sess.WasDisconnected() &&
			(sess.PlugUnlockedDate == nil || sess.PlugUnlockedDate.After(t.Add(-resumeWindow))) {
			monitoring.Logf("[ChargingReconciler] resuming session %d for %s on relock", sess.ID, r.vin)
			sess.PlugUnlockedDate = nil
			r.save(sess)
			return
		}
		sess = &db.ChargingSession{VIN: r.vin, PlugLockedDate: &t}
		r.enrich(sess)
		if err := r.store.InsertChargingSession(sess); err != nil {
			if errors.Is(err, db.ErrConflict) {
				monitoring.Logf("[ChargingReconciler] lost session insert race for %s: %v", r.vin, err)
				return
			}
			monitoring.Logf("[ChargingReconciler] failed to insert session for %s: %v", r.vin, err)
			return
		}
		r.sessionID = sess.ID
		return
	}

	if !sess.WasLocked() {
		sess.PlugLockedDate = &t
		r.enrich(sess)
		r.save(sess)
	}
}

func (r *ChargingReconciler) plugUnlocked(t time.Time) {
	sess, err := r.currentSession()
	if err != nil {
		monitoring.Logf("[ChargingReconciler] failed to load session for %s: %v", r.vin, err)
		return
	}
	if sess == nil || sess.WasUnlocked() {
		return
	}
	sess.PlugUnlockedDate = &t
	r.save(sess)
}

// onChargingType writes AC/DC changes into the tracked session while it
// is still open.
func (r *ChargingReconciler) onChargingType(obs telemetry.Observation, _ telemetry.Event) {
	if !obs.Enabled {
		return
	}
	if !r.sessionLock.lock(lockTimeout) {
		monitoring.Logf("[ChargingReconciler] session lock timeout for %s, skipping observation", r.vin)
		return
	}
	defer r.sessionLock.unlock()
	r.settleRecovery()

	sess, err := r.currentSession()
	if err != nil {
		monitoring.Logf("[ChargingReconciler] failed to load session for %s: %v", r.vin, err)
		return
	}
	if sess == nil || sess.IsClosed() {
		return
	}
	v := obs.Value.Text
	sess.ChargingType = &v
	r.save(sess)
}

// onBatteryLevel applies the late end-level rule: a higher reading
// arriving within a minute of session_end_date overwrites end_level.
func (r *ChargingReconciler) onBatteryLevel(obs telemetry.Observation, _ telemetry.Event) {
	if !obs.Enabled || obs.Value.Kind != telemetry.KindNumber {
		return
	}
	if !r.sessionLock.lock(lockTimeout) {
		monitoring.Logf("[ChargingReconciler] session lock timeout for %s, skipping observation", r.vin)
		return
	}
	defer r.sessionLock.unlock()

	sess, err := r.currentSession()
	if err != nil {
		monitoring.Logf("[ChargingReconciler] failed to load session for %s: %v", r.vin, err)
		return
	}
	if sess == nil || !sess.WasEnded() {
		return
	}
	t := obs.EventTime()
	if w := obs.Watermark(); w != nil {
		t = *w
	}
	end := *sess.SessionEndDate
	if t.Before(end) || t.After(end.Add(lateLevelWindow)) {
		return
	}
	lvl := obs.Value.Number
	if sess.EndLevel == nil || lvl > *sess.EndLevel {
		sess.EndLevel = &lvl
		r.save(sess)
	}
}
