package places

import "math"

// StaticPlace is a place declared up front, usually in the config file
// (home, workplace, a preferred gas station).
type StaticPlace struct {
	Place
	Kind Kind
}

// StaticResolver resolves against a fixed list of declared places using
// great-circle distance. Nearest match within the radius wins.
type StaticResolver struct {
	places []StaticPlace
}

// NewStaticResolver returns a resolver over the given places.
func NewStaticResolver(places []StaticPlace) *StaticResolver {
	return &StaticResolver{places: places}
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(kind Kind, lat, lon float64, radius float64) (*Place, error) {
	var best *StaticPlace
	bestDist := radius
	for i := range r.places {
		p := &r.places[i]
		if p.Kind != kind {
			continue
		}
		d := haversineMeters(lat, lon, p.Latitude, p.Longitude)
		if d <= bestDist {
			best = p
			bestDist = d
		}
	}
	if best == nil {
		return nil, nil
	}
	place := best.Place
	return &place, nil
}

const earthRadiusMeters = 6371000

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
