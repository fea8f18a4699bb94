package db

import (
	"math"
	"strings"

	"github.com/mmcloughlin/geohash"

	"openhouse/models"
)

const earthRadiusMeters = 6371000

// haversineMeters returns the great-circle distance between two points.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// cellDims holds the width and height (meters) of a geohash cell per
// precision, measured at the equator. Height is constant everywhere; width
// shrinks by cos(latitude).
var cellDims = []struct {
	precision uint
	width     float64
	height    float64
}{
	{6, 1220, 610},
	{5, 4890, 4890},
	{4, 39100, 19500},
	{3, 156000, 156000},
	{2, 1250000, 625000},
}

// proximityCells returns the geohash cells that are guaranteed to cover every
// point within radiusMeters of the reference point: the cell containing the
// point plus its eight neighbors, at the finest precision whose cell
// dimensions at the query latitude are at least the radius. A nil slice means
// no precision can guarantee cover (radius too large, or too close to a pole
// where cells narrow to slivers) and every candidate must be distance-checked.
func proximityCells(lat, lng float64, radiusMeters float64) []string {
	cosLat := math.Cos(lat * math.Pi / 180)
	for _, dim := range cellDims {
		if math.Min(dim.width*cosLat, dim.height) >= radiusMeters {
			center := geohash.EncodeWithPrecision(lat, lng, dim.precision)
			return append(geohash.Neighbors(center), center)
		}
	}
	return nil
}

// geoDistance reports the distance from the property to the filter's reference
// point, or ok=false when the property is outside the radius or has no
// coordinates. The geohash prefilter cheaply discards properties whose stored
// cell cannot intersect the search circle; properties without a stored
// geohash fall through to the exact check.
func geoDistance(p models.Property, g *GeoFilter, cells []string) (float64, bool) {
	if !p.Location.HasCoordinates() {
		return 0, false
	}
	if cells != nil && p.Geohash != "" && !inCells(p.Geohash, cells) {
		return 0, false
	}
	d := haversineMeters(g.Lat, g.Lng, p.Location.Latitude(), p.Location.Longitude())
	if d > g.RadiusMeters {
		return 0, false
	}
	return d, true
}

func inCells(hash string, cells []string) bool {
	for _, cell := range cells {
		if strings.HasPrefix(hash, cell) {
			return true
		}
	}
	return false
}
