package track

import "math"

const (
	earthRadiusKm = 6371.0
	kmPerNM       = 1.852
)

// HaversineKm is the great-circle distance between two points in kilometres.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// ImpliedSpeedKt converts a distance covered in seconds into knots.
// A non-positive interval yields +Inf for any real displacement.
func ImpliedSpeedKt(distanceKm, seconds float64) float64 {
	if seconds <= 0 {
		if distanceKm > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return (distanceKm / kmPerNM) / (seconds / 3600)
}
