package reconcile

import (
	"github.com/drivelog-data/drivelog/internal/db"
	"github.com/drivelog-data/drivelog/internal/monitoring"
	"github.com/drivelog-data/drivelog/internal/places"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

// placeRadius is the lookup radius, in meters, for resolving a parked
// position to a named place or station.
const placeRadius = 150

// currentPosition reads the live position from the snapshot. Both
// coordinates must be enabled for the position to count.
func currentPosition(bus *telemetry.Bus, entity telemetry.Entity) (lat, lon float64, ok bool) {
	lat, ok = bus.CurrentNumber(entity, telemetry.SignalLatitude)
	if !ok {
		return 0, 0, false
	}
	lon, ok = bus.CurrentNumber(entity, telemetry.SignalLongitude)
	if !ok {
		return 0, 0, false
	}
	return lat, lon, true
}

// resolvePlace resolves (lat, lon) to a place of the given kind and
// persists it, returning its UID. Resolution is best-effort: a missing
// resolver, a miss, or a lookup failure all yield nil.
func resolvePlace(store *db.DB, resolver places.Resolver, kind places.Kind, lat, lon float64) *string {
	if resolver == nil {
		return nil
	}
	p, err := resolver.Resolve(kind, lat, lon, placeRadius)
	if err != nil {
		monitoring.Logf("[Places] lookup failed for %s at (%.5f, %.5f): %v", kind, lat, lon, err)
		return nil
	}
	if p == nil {
		return nil
	}

	switch kind {
	case places.KindChargingStation:
		err = store.UpsertChargingStation(&db.ChargingStation{
			UID:       p.UID,
			Name:      strPtrOrNil(p.Name),
			Latitude:  &p.Latitude,
			Longitude: &p.Longitude,
			Address:   strPtrOrNil(p.Address),
		})
	default:
		err = store.UpsertLocation(&db.Location{
			UID:       p.UID,
			Name:      strPtrOrNil(p.Name),
			Latitude:  &p.Latitude,
			Longitude: &p.Longitude,
			Address:   strPtrOrNil(p.Address),
		})
	}
	if err != nil {
		monitoring.Logf("[Places] failed to persist %s %s: %v", kind, p.UID, err)
		return nil
	}
	uid := p.UID
	return &uid
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
