package reconcile

import (
	"errors"

	"github.com/drivelog-data/drivelog/internal/db"
	"github.com/drivelog-data/drivelog/internal/monitoring"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

// VehicleStateTracker compacts the operating state, connection state,
// and outside temperature of one vehicle into interval facts, and keeps
// the identity record (name, model, plate) current. Identity fields are
// last-value-wins with no history.
type VehicleStateTracker struct {
	store   *db.DB
	bus     *telemetry.Bus
	vin     string
	vehicle telemetry.Entity

	lock *timeoutLock

	stateFacts *compactor
	connFacts  *compactor
	tempFacts  *compactor

	tokens []telemetry.Token
}

// ConnectVehicleState builds the tracker for vin, ensures the identity
// row exists, and subscribes it to the bus.
func ConnectVehicleState(store *db.DB, bus *telemetry.Bus, vin string) (*VehicleStateTracker, error) {
	if store == nil || bus == nil {
		return nil, errors.New("vehicle state tracker: nil store or bus")
	}
	if vin == "" {
		return nil, errors.New("vehicle state tracker: empty VIN")
	}

	t := &VehicleStateTracker{
		store:   store,
		bus:     bus,
		vin:     vin,
		vehicle: telemetry.Vehicle(vin),
		lock:    newTimeoutLock(),
	}

	var err error
	if t.stateFacts, err = newCompactor(store, t.vehicle, telemetry.SignalVehicleState); err != nil {
		return nil, err
	}
	if t.connFacts, err = newCompactor(store, t.vehicle, telemetry.SignalConnectionState); err != nil {
		return nil, err
	}
	if t.tempFacts, err = newCompactor(store, t.vehicle, telemetry.SignalOutsideTemperature); err != nil {
		return nil, err
	}

	if err := store.UpsertVehicle(&db.Vehicle{VIN: vin}); err != nil {
		return nil, err
	}

	t.tokens = append(t.tokens,
		bus.Subscribe(t.vehicle, telemetry.SignalVehicleState, telemetry.EventAll, t.stateFacts.handler(t.lock)),
		bus.Subscribe(t.vehicle, telemetry.SignalConnectionState, telemetry.EventAll, t.connFacts.handler(t.lock)),
		bus.Subscribe(t.vehicle, telemetry.SignalOutsideTemperature, telemetry.EventAll, t.tempFacts.handler(t.lock)),
	)
	for _, sig := range []telemetry.Signal{
		telemetry.SignalName,
		telemetry.SignalManufacturer,
		telemetry.SignalModel,
		telemetry.SignalModelYear,
		telemetry.SignalVehicleType,
		telemetry.SignalLicensePlate,
	} {
		t.tokens = append(t.tokens, bus.Subscribe(t.vehicle, sig, telemetry.EventChanged, t.onIdentity))
		if obs, ok := bus.Current(t.vehicle, sig); ok {
			t.onIdentity(obs, telemetry.EventChanged)
		}
	}

	return t, nil
}

// Disconnect removes all bus subscriptions.
func (t *VehicleStateTracker) Disconnect() {
	for _, tok := range t.tokens {
		t.bus.Unsubscribe(tok)
	}
	t.tokens = nil
}

func (t *VehicleStateTracker) onIdentity(obs telemetry.Observation, _ telemetry.Event) {
	if !obs.Enabled || obs.Value.Kind != telemetry.KindText {
		return
	}
	if !t.lock.lock(lockTimeout) {
		monitoring.Logf("[VehicleStateTracker] lock timeout for %s, skipping observation", t.vin)
		return
	}
	defer t.lock.unlock()

	v := obs.Value.Text
	rec := &db.Vehicle{VIN: t.vin}
	switch obs.Signal {
	case telemetry.SignalName:
		rec.Name = &v
	case telemetry.SignalManufacturer:
		rec.Manufacturer = &v
	case telemetry.SignalModel:
		rec.Model = &v
	case telemetry.SignalModelYear:
		rec.ModelYear = &v
	case telemetry.SignalVehicleType:
		rec.Type = &v
	case telemetry.SignalLicensePlate:
		rec.LicensePlate = &v
	default:
		return
	}
	if err := t.store.UpsertVehicle(rec); err != nil {
		monitoring.Logf("[VehicleStateTracker] failed to upsert identity for %s: %v", t.vin, err)
	}
}
