// Package places resolves coordinates to named places. Resolvers are
// pluggable; the reconcilers treat resolution as best-effort and carry
// on with bare coordinates when no resolver matches.
package places

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind selects the category of place a caller is interested in.
type Kind string

const (
	KindPlace           Kind = "place"
	KindGasStation      Kind = "gas_station"
	KindChargingStation Kind = "charging_station"
)

// Place is a resolved point of interest. UID is stable across lookups
// so stored records can reference the place.
type Place struct {
	UID       string
	Name      string
	Latitude  float64
	Longitude float64
	Address   string
}

// Resolver maps a coordinate to the nearest place of the requested kind
// within radius meters. A miss returns (nil, nil); errors are reserved
// for lookup failures.
type Resolver interface {
	Resolve(kind Kind, lat, lon float64, radius float64) (*Place, error)
}

// Registry tries a list of resolvers in order and returns the first
// match. A Registry with no resolvers never matches.
type Registry struct {
	resolvers []Resolver
}

// NewRegistry returns a registry over the given resolvers.
func NewRegistry(resolvers ...Resolver) *Registry {
	return &Registry{resolvers: resolvers}
}

// Add appends a resolver to the registry.
func (r *Registry) Add(res Resolver) {
	r.resolvers = append(r.resolvers, res)
}

// Resolve implements Resolver over the registered resolvers.
func (r *Registry) Resolve(kind Kind, lat, lon float64, radius float64) (*Place, error) {
	for _, res := range r.resolvers {
		p, err := res.Resolve(kind, lat, lon, radius)
		if err != nil {
			return nil, fmt.Errorf("place lookup failed: %w", err)
		}
		if p != nil {
			if p.UID == "" {
				p.UID = uuid.NewString()
			}
			return p, nil
		}
	}
	return nil, nil
}
