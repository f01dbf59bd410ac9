package geo

import (
	"math"
	"testing"
)

func TestDistanceKm_KnownCities(t *testing.T) {
	paris := Point{Lat: 48.8566, Lon: 2.3522}
	london := Point{Lat: 51.5074, Lon: -0.1278}

	d := DistanceKm(paris, london)
	if math.Abs(d-344) > 5 {
		t.Errorf("Paris-London = %.1f km, want ~344 km", d)
	}
}

func TestDistanceKm_SamePointIsZero(t *testing.T) {
	p := Point{Lat: 40.7128, Lon: -74.0060}
	if d := DistanceKm(p, p); d != 0 {
		t.Errorf("distance to self = %f, want 0", d)
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	a := Point{Lat: 35.6762, Lon: 139.6503}
	b := Point{Lat: 37.5665, Lon: 126.9780}

	if d1, d2 := DistanceKm(a, b), DistanceKm(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("asymmetric distances: %f vs %f", d1, d2)
	}
}

func TestWithinRadius(t *testing.T) {
	center := Point{Lat: 52.52, Lon: 13.405}
	// ~11 km east of center.
	nearby := Point{Lat: 52.52, Lon: 13.567}

	if !WithinRadius(center, nearby, 20) {
		t.Error("point ~11 km away should be within a 20 km radius")
	}
	if WithinRadius(center, nearby, 5) {
		t.Error("point ~11 km away should not be within a 5 km radius")
	}
}
