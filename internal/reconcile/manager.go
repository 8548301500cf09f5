package reconcile

import (
	"fmt"

	"github.com/drivelog-data/drivelog/internal/db"
	"github.com/drivelog-data/drivelog/internal/places"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

// DriveSpec declares one drive unit of a vehicle.
type DriveSpec struct {
	Index int
	Kind  string // electric or combustion
}

// VehicleSpec declares one vehicle to reconcile.
type VehicleSpec struct {
	VIN    string
	Drives []DriveSpec
}

// VehicleReconcilers bundles every reconciler connected for one
// vehicle.
type VehicleReconcilers struct {
	Charging *ChargingReconciler
	Trip     *TripReconciler
	Refuels  []*RefuelDetector
	Climate  *ClimatizationTracker
	State    *VehicleStateTracker
	Drives   []*DriveStateTracker
}

// ConnectVehicle wires the full reconciler set for one vehicle: session
// reconcilers for charging and trips, a refuel detector per combustion
// drive, and the fact trackers. Construction is fail-fast: any
// reconciler that cannot recover its state aborts the whole connect.
func ConnectVehicle(store *db.DB, bus *telemetry.Bus, resolver places.Resolver, spec VehicleSpec) (*VehicleReconcilers, error) {
	v := &VehicleReconcilers{}

	battery := -1
	for _, d := range spec.Drives {
		if d.Kind == telemetry.DriveElectric {
			battery = d.Index
			break
		}
	}

	var err error
	if v.State, err = ConnectVehicleState(store, bus, spec.VIN); err != nil {
		return nil, fmt.Errorf("connect %s: %w", spec.VIN, err)
	}
	for _, d := range spec.Drives {
		tracker, err := ConnectDriveState(store, bus, spec.VIN, d.Index, d.Kind)
		if err != nil {
			v.Disconnect()
			return nil, fmt.Errorf("connect %s: %w", spec.VIN, err)
		}
		v.Drives = append(v.Drives, tracker)
	}
	if v.Charging, err = ConnectCharging(store, bus, resolver, spec.VIN, battery); err != nil {
		v.Disconnect()
		return nil, fmt.Errorf("connect %s: %w", spec.VIN, err)
	}
	if v.Trip, err = ConnectTrip(store, bus, resolver, spec.VIN); err != nil {
		v.Disconnect()
		return nil, fmt.Errorf("connect %s: %w", spec.VIN, err)
	}
	for _, d := range spec.Drives {
		if d.Kind != telemetry.DriveCombustion {
			continue
		}
		det, err := ConnectRefuel(store, bus, resolver, spec.VIN, d.Index)
		if err != nil {
			v.Disconnect()
			return nil, fmt.Errorf("connect %s: %w", spec.VIN, err)
		}
		v.Refuels = append(v.Refuels, det)
	}
	if v.Climate, err = ConnectClimatization(store, bus, spec.VIN); err != nil {
		v.Disconnect()
		return nil, fmt.Errorf("connect %s: %w", spec.VIN, err)
	}

	return v, nil
}

// Disconnect tears down every connected reconciler.
func (v *VehicleReconcilers) Disconnect() {
	if v.Charging != nil {
		v.Charging.Disconnect()
	}
	if v.Trip != nil {
		v.Trip.Disconnect()
	}
	for _, r := range v.Refuels {
		r.Disconnect()
	}
	if v.Climate != nil {
		v.Climate.Disconnect()
	}
	if v.State != nil {
		v.State.Disconnect()
	}
	for _, d := range v.Drives {
		d.Disconnect()
	}
}
