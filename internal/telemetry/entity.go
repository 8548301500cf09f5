// Package telemetry defines the observation model shared by the ingest
// layer and the reconcilers: entities, signals, timestamped values, and
// a typed event bus that fans observations out to subscribers.
package telemetry

import "fmt"

// Entity identifies the source of an observation. A vehicle-level
// entity carries Drive == -1; a drive-level entity (one battery or one
// tank of a specific vehicle) carries the drive's index.
type Entity struct {
	VIN   string
	Drive int
}

// Vehicle returns the vehicle-level entity for vin.
func Vehicle(vin string) Entity {
	return Entity{VIN: vin, Drive: -1}
}

// Drive returns the entity for drive idx of vehicle vin.
func Drive(vin string, idx int) Entity {
	return Entity{VIN: vin, Drive: idx}
}

// IsVehicle reports whether e addresses the vehicle itself rather than
// one of its drives.
func (e Entity) IsVehicle() bool {
	return e.Drive < 0
}

// ID returns a stable string form, "VIN" for vehicle-level entities and
// "VIN:idx" for drive-level ones.
func (e Entity) ID() string {
	if e.IsVehicle() {
		return e.VIN
	}
	return fmt.Sprintf("%s:%d", e.VIN, e.Drive)
}

// Signal names one attribute of an entity.
type Signal string

// Vehicle-level signals.
const (
	SignalChargingState      Signal = "charging_state"
	SignalChargingType       Signal = "charging_type"
	SignalChargingRate       Signal = "charging_rate"
	SignalChargingPower      Signal = "charging_power"
	SignalConnectorState     Signal = "connector_state"
	SignalLockState          Signal = "lock_state"
	SignalVehicleState       Signal = "vehicle_state"
	SignalConnectionState    Signal = "connection_state"
	SignalClimatizationState Signal = "climatization_state"
	SignalOutsideTemperature Signal = "outside_temperature"
	SignalOdometer           Signal = "odometer"
	SignalLatitude           Signal = "latitude"
	SignalLongitude          Signal = "longitude"
	SignalName               Signal = "name"
	SignalManufacturer       Signal = "manufacturer"
	SignalModel              Signal = "model"
	SignalModelYear          Signal = "model_year"
	SignalVehicleType        Signal = "vehicle_type"
	SignalLicensePlate       Signal = "license_plate"
)

// Drive-level signals.
const (
	SignalLevel              Signal = "level"
	SignalRange              Signal = "range"
	SignalConsumption        Signal = "consumption"
	SignalBatteryTemperature Signal = "battery_temperature"
)

// Well-known values for state signals.
const (
	ChargingOff          = "off"
	ChargingReady        = "ready_for_charging"
	ChargingCharging     = "charging"
	ChargingConservation = "conservation"
	ChargingError        = "error"

	ConnectorConnected    = "connected"
	ConnectorDisconnected = "disconnected"

	LockLocked   = "locked"
	LockUnlocked = "unlocked"

	VehicleParked   = "parked"
	VehicleDriving  = "driving"
	VehicleIgnition = "ignition_on"

	ConnectionOnline  = "online"
	ConnectionOffline = "offline"
)

// DriveElectric and DriveCombustion name the two supported drive kinds.
const (
	DriveElectric   = "electric"
	DriveCombustion = "combustion"
)
