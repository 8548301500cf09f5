package reconcile

import (
	"errors"
	"fmt"

	"github.com/drivelog-data/drivelog/internal/db"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

// DriveStateTracker compacts the level, range, and consumption of one
// drive unit (battery or tank) into interval facts.
type DriveStateTracker struct {
	bus    *telemetry.Bus
	lock   *timeoutLock
	levels *compactor
	ranges *compactor
	usage  *compactor
	tokens []telemetry.Token
}

// ConnectDriveState registers drive idx of vin under the given kind
// (electric or combustion), builds its tracker, and subscribes it to
// the bus.
func ConnectDriveState(store *db.DB, bus *telemetry.Bus, vin string, idx int, kind string) (*DriveStateTracker, error) {
	if store == nil || bus == nil {
		return nil, errors.New("drive state tracker: nil store or bus")
	}
	if vin == "" {
		return nil, errors.New("drive state tracker: empty VIN")
	}
	if idx < 0 {
		return nil, errors.New("drive state tracker: negative drive index")
	}
	if kind != telemetry.DriveElectric && kind != telemetry.DriveCombustion {
		return nil, fmt.Errorf("drive state tracker: unknown drive kind %q", kind)
	}

	if err := store.RegisterDrive(vin, idx, kind); err != nil {
		return nil, err
	}

	drive := telemetry.Drive(vin, idx)
	t := &DriveStateTracker{bus: bus, lock: newTimeoutLock()}

	var err error
	if t.levels, err = newCompactor(store, drive, telemetry.SignalLevel); err != nil {
		return nil, err
	}
	if t.ranges, err = newCompactor(store, drive, telemetry.SignalRange); err != nil {
		return nil, err
	}
	if t.usage, err = newCompactor(store, drive, telemetry.SignalConsumption); err != nil {
		return nil, err
	}

	t.tokens = append(t.tokens,
		bus.Subscribe(drive, telemetry.SignalLevel, telemetry.EventAll, t.levels.handler(t.lock)),
		bus.Subscribe(drive, telemetry.SignalRange, telemetry.EventAll, t.ranges.handler(t.lock)),
		bus.Subscribe(drive, telemetry.SignalConsumption, telemetry.EventAll, t.usage.handler(t.lock)),
	)
	return t, nil
}

// Disconnect removes all bus subscriptions.
func (t *DriveStateTracker) Disconnect() {
	for _, tok := range t.tokens {
		t.bus.Unsubscribe(tok)
	}
	t.tokens = nil
}
