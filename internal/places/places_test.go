package places

import "testing"

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver([]StaticPlace{
		{Kind: KindPlace, Place: Place{UID: "home", Name: "Home", Latitude: 52.5200, Longitude: 13.4050}},
		{Kind: KindPlace, Place: Place{UID: "work", Name: "Work", Latitude: 52.5210, Longitude: 13.4060}},
		{Kind: KindGasStation, Place: Place{UID: "aral-7", Name: "Aral", Latitude: 52.5201, Longitude: 13.4051}},
	})

	// Roughly 15m from home, 130m from work: both in range, home wins.
	p, err := r.Resolve(KindPlace, 52.5201, 13.4051, 150)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p == nil || p.UID != "home" {
		t.Errorf("Resolve = %+v, want home (nearest match)", p)
	}

	// The gas station sits on the same spot but has the wrong kind.
	p, err = r.Resolve(KindChargingStation, 52.5201, 13.4051, 150)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p != nil {
		t.Errorf("Resolve for wrong kind = %+v, want nil", p)
	}

	// Out of radius is a miss, not an error.
	p, err = r.Resolve(KindPlace, 53.0, 13.4, 150)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p != nil {
		t.Errorf("Resolve out of radius = %+v, want nil", p)
	}
}

func TestRegistryFirstMatchWins(t *testing.T) {
	first := NewStaticResolver([]StaticPlace{
		{Kind: KindPlace, Place: Place{UID: "a", Name: "A", Latitude: 52.52, Longitude: 13.405}},
	})
	second := NewStaticResolver([]StaticPlace{
		{Kind: KindPlace, Place: Place{UID: "b", Name: "B", Latitude: 52.52, Longitude: 13.405}},
	})

	reg := NewRegistry(first, second)
	p, err := reg.Resolve(KindPlace, 52.52, 13.405, 150)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p == nil || p.UID != "a" {
		t.Errorf("Resolve = %+v, want a", p)
	}
}

func TestRegistryMintsUID(t *testing.T) {
	anon := NewStaticResolver([]StaticPlace{
		{Kind: KindPlace, Place: Place{Name: "Anonymous", Latitude: 52.52, Longitude: 13.405}},
	})

	reg := NewRegistry(anon)
	p, err := reg.Resolve(KindPlace, 52.52, 13.405, 150)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p == nil {
		t.Fatal("Resolve missed a place in range")
	}
	if p.UID == "" {
		t.Error("registry did not mint a UID for an anonymous place")
	}
}

func TestHaversine(t *testing.T) {
	// Berlin TV tower to Brandenburg Gate is a bit over 2km.
	d := haversineMeters(52.5208, 13.4094, 52.5163, 13.3777)
	if d < 2000 || d > 2500 {
		t.Errorf("haversineMeters = %.0f, want roughly 2200", d)
	}
	if d := haversineMeters(52.52, 13.405, 52.52, 13.405); d != 0 {
		t.Errorf("distance to self = %v, want 0", d)
	}
}
