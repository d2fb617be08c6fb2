// Package geo holds the pure geographic helpers shared by the geocoders,
// the track merger and the API layer.
package geo

import (
	"math"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// Ukraine bounding box.
const (
	MinLat = 44.0
	MaxLat = 52.5
	MinLon = 22.0
	MaxLon = 40.5
)

// Coordinates is an immutable latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewCoordinates validates lat/lng and returns a pair, or false when the
// point is not finite or outside every accepted area.
func NewCoordinates(lat, lng float64) (Coordinates, bool) {
	if !ValidateCoords(lat, lng) {
		return Coordinates{}, false
	}
	return Coordinates{Lat: lat, Lng: lng}, true
}

// Rounded returns the pair rounded to 4 decimal places (~11 m).
func (c Coordinates) Rounded() Coordinates {
	lat, lng := RoundCoords(c.Lat, c.Lng)
	return Coordinates{Lat: lat, Lng: lng}
}

// Zone is a rectangular area accepted in addition to Ukraine itself.
type Zone struct {
	Name           string
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

func (z Zone) contains(lat, lng float64) bool {
	return lat >= z.MinLat && lat <= z.MaxLat && lng >= z.MinLon && lng <= z.MaxLon
}

// SpecialZones are launch areas outside Ukraine that channels report on.
var SpecialZones = []Zone{
	{Name: "engels-2", MinLat: 51.0, MaxLat: 52.0, MinLon: 45.5, MaxLon: 47.0},
	{Name: "voronezh", MinLat: 51.0, MaxLat: 52.0, MinLon: 38.5, MaxLon: 40.0},
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// IsWithinUkraine reports whether the point lies inside Ukraine's bounding box.
func IsWithinUkraine(lat, lng float64) bool {
	if !finite(lat) || !finite(lng) {
		return false
	}
	return lat >= MinLat && lat <= MaxLat && lng >= MinLon && lng <= MaxLon
}

// ValidateCoords accepts points inside Ukraine or inside one of SpecialZones.
func ValidateCoords(lat, lng float64) bool {
	if !finite(lat) || !finite(lng) {
		return false
	}
	if IsWithinUkraine(lat, lng) {
		return true
	}
	for _, z := range SpecialZones {
		if z.contains(lat, lng) {
			return true
		}
	}
	return false
}

func toRad(d float64) float64 { return d * math.Pi / 180 }
func toDeg(r float64) float64 { return r * 180 / math.Pi }

// Haversine returns the great-circle distance between two points in km.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Distance is Haversine over two Coordinates.
func Distance(a, b Coordinates) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Bearing returns the initial bearing from point 1 to point 2 in degrees [0, 360).
func Bearing(lat1, lng1, lat2, lng2 float64) float64 {
	phi1, phi2 := toRad(lat1), toRad(lat2)
	dLng := toRad(lng2 - lng1)
	x := math.Sin(dLng) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLng)
	return math.Mod(toDeg(math.Atan2(x, y))+360, 360)
}

// Destination returns the point reached after travelling distanceKm from
// the start on the given bearing.
func Destination(lat, lng, bearing, distanceKm float64) (float64, float64) {
	phi1 := toRad(lat)
	lambda1 := toRad(lng)
	theta := toRad(bearing)
	delta := distanceKm / EarthRadiusKm

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)
	return toDeg(phi2), toDeg(lambda2)
}

// Midpoint is the simple arithmetic midpoint, adequate at regional scale.
func Midpoint(lat1, lng1, lat2, lng2 float64) (float64, float64) {
	return (lat1 + lat2) / 2, (lng1 + lng2) / 2
}

// RoundCoords rounds both values to 4 decimal places.
func RoundCoords(lat, lng float64) (float64, float64) {
	return math.Round(lat*1e4) / 1e4, math.Round(lng*1e4) / 1e4
}

var compass = []struct {
	angle float64
	name  string
}{
	{0, "північ"},
	{45, "північний схід"},
	{90, "схід"},
	{135, "південний схід"},
	{180, "південь"},
	{225, "південний захід"},
	{270, "захід"},
	{315, "північний захід"},
	{360, "північ"},
}

// BearingToDirection maps a bearing to the nearest of 8 Ukrainian compass names.
func BearingToDirection(bearing float64) string {
	if !finite(bearing) {
		return "невідомо"
	}
	b := math.Mod(bearing, 360)
	if b < 0 {
		b += 360
	}
	best, result := 361.0, "невідомо"
	for _, c := range compass {
		if d := math.Abs(b - c.angle); d < best {
			best, result = d, c.name
		}
	}
	return result
}
