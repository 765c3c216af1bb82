package geo

import "math"

// EarthRadiusM is the mean Earth radius used for every distance in this package.
const EarthRadiusM = 6371000.0

// Distance returns the great-circle distance in meters between two points.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	if a > 1 {
		a = 1
	}
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(a))
}

// Offset moves a point north by northM meters, a test and seeding helper.
func Offset(lat, lng, northM float64) (float64, float64) {
	return lat + (northM/EarthRadiusM)*180/math.Pi, lng
}
