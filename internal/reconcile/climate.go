package reconcile

import (
	"errors"

	"github.com/drivelog-data/drivelog/internal/db"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

// ClimatizationTracker compacts the climatization state of one vehicle
// into interval facts.
type ClimatizationTracker struct {
	bus    *telemetry.Bus
	lock   *timeoutLock
	facts  *compactor
	tokens []telemetry.Token
}

// ConnectClimatization builds the tracker for vin and subscribes it to
// the bus.
func ConnectClimatization(store *db.DB, bus *telemetry.Bus, vin string) (*ClimatizationTracker, error) {
	if store == nil || bus == nil {
		return nil, errors.New("climatization tracker: nil store or bus")
	}
	if vin == "" {
		return nil, errors.New("climatization tracker: empty VIN")
	}

	vehicle := telemetry.Vehicle(vin)
	facts, err := newCompactor(store, vehicle, telemetry.SignalClimatizationState)
	if err != nil {
		return nil, err
	}

	t := &ClimatizationTracker{bus: bus, lock: newTimeoutLock(), facts: facts}
	t.tokens = append(t.tokens,
		bus.Subscribe(vehicle, telemetry.SignalClimatizationState, telemetry.EventAll, facts.handler(t.lock)),
	)
	return t, nil
}

// Disconnect removes all bus subscriptions.
func (t *ClimatizationTracker) Disconnect() {
	for _, tok := range t.tokens {
		t.bus.Unsubscribe(tok)
	}
	t.tokens = nil
}
