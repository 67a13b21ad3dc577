package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistanceKnownPair(t *testing.T) {
	// Connaught Place to India Gate, roughly 2.4 km
	d := Distance(Point{Lat: 28.6315, Lng: 77.2167}, Point{Lat: 28.6129, Lng: 77.2295})
	require.InDelta(t, 2400, d, 150)
}

func TestDistanceZero(t *testing.T) {
	p := Point{Lat: 12.9716, Lng: 77.5946}
	require.Zero(t, Distance(p, p))
}

func TestDistanceSmallMove(t *testing.T) {
	p := Point{Lat: 12.9716, Lng: 77.5946}
	// ~0.00002 degrees of latitude is a bit over 2 m
	d := Distance(p, Point{Lat: p.Lat + 0.00002, Lng: p.Lng})
	require.InDelta(t, 2.2, d, 0.1)
}

func TestValid(t *testing.T) {
	require.True(t, Point{Lat: 0, Lng: 0}.Valid())
	require.True(t, Point{Lat: -90, Lng: 180}.Valid())
	require.False(t, Point{Lat: 91, Lng: 0}.Valid())
	require.False(t, Point{Lat: 0, Lng: -181}.Valid())
	require.False(t, Point{Lat: math.NaN(), Lng: 0}.Valid())
}

func TestBoundingBoxContainsRadius(t *testing.T) {
	center := Point{Lat: 12.9716, Lng: 77.5946}
	box := BoundingBox(center, 10000)

	north := Point{Lat: box.MaxLat, Lng: center.Lng}
	east := Point{Lat: center.Lat, Lng: box.MaxLng}
	require.InDelta(t, 10100, Distance(center, north), 5)
	require.Greater(t, Distance(center, east), 10000.0)
}

func TestBoundingBoxWrapsAntimeridian(t *testing.T) {
	center := Point{Lat: 0, Lng: 179.95}
	box := BoundingBox(center, 10000)

	require.True(t, box.CrossesAntimeridian())
	require.Greater(t, box.MinLng, 179.0)
	require.Less(t, box.MaxLng, -179.0)

	across := Point{Lat: 0, Lng: -179.99}
	require.Less(t, Distance(center, across), 10000.0)
	require.True(t, box.Contains(across))
	require.True(t, box.Contains(Point{Lat: 0, Lng: 179.99}))
	require.False(t, box.Contains(Point{Lat: 0, Lng: 0}))
}

func TestBoundingBoxAtPoleSpansAllMeridians(t *testing.T) {
	box := BoundingBox(Point{Lat: 89.95, Lng: 10}, 10000)

	require.False(t, box.CrossesAntimeridian())
	require.Equal(t, -180.0, box.MinLng)
	require.Equal(t, 180.0, box.MaxLng)
	require.True(t, box.Contains(Point{Lat: 89.96, Lng: -170}))
}
