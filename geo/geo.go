/*
Package geo provides the small amount of geodesy the mobilization tier
needs: a point type and great-circle distance for the donor radius
filter. Distances are haversine approximations in kilometres, which is
plenty for a 20 km catchment.
*/
package geo

import "math"

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// DistanceKm returns the haversine distance between two points.
func DistanceKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// WithinRadius reports whether b lies within radiusKm of a.
func WithinRadius(a, b Point, radiusKm float64) bool {
	return DistanceKm(a, b) <= radiusKm
}
