package geospatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// MinBoundaryVertices is the smallest polygon the map widget can close
const MinBoundaryVertices = 3

var ErrTooFewVertices = errors.New("boundary requires at least 3 points")

// LatLng is a map click in latitude/longitude order
type LatLng [2]float64

// Lat returns the latitude
func (p LatLng) Lat() float64 { return p[0] }

// Lng returns the longitude
func (p LatLng) Lng() float64 { return p[1] }

// Point converts to an orb point (lng, lat)
func (p LatLng) Point() orb.Point {
	return orb.Point{p[1], p[0]}
}

// NewBoundary builds a closed polygon from the vertices captured on the map
func NewBoundary(vertices []LatLng) (orb.Polygon, error) {
	if len(vertices) < MinBoundaryVertices {
		return nil, ErrTooFewVertices
	}

	ring := make(orb.Ring, 0, len(vertices)+1)
	for i, v := range vertices {
		if v.Lat() < -90 || v.Lat() > 90 || v.Lng() < -180 || v.Lng() > 180 {
			return nil, fmt.Errorf("boundary point %d out of range", i)
		}
		ring = append(ring, v.Point())
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}

	return orb.Polygon{ring}, nil
}

// ToGeoJSON encodes a geometry as a GeoJSON feature
func ToGeoJSON(geometry orb.Geometry) ([]byte, error) {
	return geojson.NewFeature(geometry).MarshalJSON()
}

// CalculateArea calculates the geodesic area in square meters for a geometry
func CalculateArea(geometry orb.Geometry) float64 {
	return math.Abs(geo.Area(geometry))
}

// Centroid returns the area-weighted centre of the boundary in latitude/longitude order
func Centroid(polygon orb.Polygon) LatLng {
	c, _ := planar.CentroidArea(polygon)
	return LatLng{c.Lat(), c.Lon()}
}

// ConvertToHectares converts square meters to hectares
func ConvertToHectares(sqMeters float64) float64 {
	return sqMeters / 10000
}
