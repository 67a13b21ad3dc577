package geo

import "math"

const earthRadiusM = 6371000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Valid reports whether the point lies inside the WGS84 ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degreesToRadians(a.Lat))*math.Cos(degreesToRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// Box is an axis-aligned lat/lng rectangle. When it crosses the
// antimeridian MinLng is greater than MaxLng and the longitude range is
// [MinLng, 180] plus [-180, MaxLng].
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// CrossesAntimeridian reports whether the longitude range wraps at ±180.
func (b Box) CrossesAntimeridian() bool {
	return b.MinLng > b.MaxLng
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.CrossesAntimeridian() {
		return p.Lng >= b.MinLng || p.Lng <= b.MaxLng
	}
	return p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// BoundingBox returns a box containing every point within radius meters of
// center. It over-covers near the poles and is meant as a SQL pre-filter ahead
// of an exact Distance check.
func BoundingBox(center Point, radius float64) Box {
	// 1% slack covers the gap between the parallel and the great circle
	dLat := radius * 1.01 / earthRadiusM * 180 / math.Pi

	box := Box{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}

	// a box touching a pole spans every meridian
	cosLat := math.Cos(degreesToRadians(center.Lat))
	if box.MaxLat >= 90 || box.MinLat <= -90 || cosLat <= 1e-9 {
		return box
	}
	dLng := dLat / cosLat
	if dLng >= 180 {
		return box
	}

	box.MinLng = center.Lng - dLng
	box.MaxLng = center.Lng + dLng
	if box.MinLng < -180 {
		box.MinLng += 360
	}
	if box.MaxLng > 180 {
		box.MaxLng -= 360
	}
	return box
}

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}
