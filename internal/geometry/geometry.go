package geometry

import (
	"math"
	"sort"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"landvalue/internal/models"
)

// cellSizesKm holds the approximate height and equatorial width of a geohash
// cell, indexed by precision - 1.
var cellSizesKm = [][2]float64{
	{4992, 5009},
	{624, 1252},
	{156, 156},
	{19.5, 39.1},
	{4.89, 4.89},
	{0.61, 1.22},
	{0.153, 0.153},
}

// MaxIndexPrecision is the geohash length stored on property records.
const MaxIndexPrecision = 9

// DistanceKm returns the great-circle distance between two [lng, lat] points.
func DistanceKm(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b) / 1000
}

// Geohash encodes a point at the stored index precision.
func Geohash(p orb.Point) string {
	return geohash.EncodeWithPrecision(p.Lat(), p.Lon(), MaxIndexPrecision)
}

// CellPrecision picks the longest geohash whose cells are at least radiusKm on
// each side at the given latitude, so a cell plus its neighbours covers the circle.
func CellPrecision(radiusKm, lat float64) uint {
	shrink := math.Cos(lat * math.Pi / 180)
	if shrink < 0.01 {
		shrink = 0.01
	}
	precision := uint(1)
	for i, size := range cellSizesKm {
		height, width := size[0], size[1]*shrink
		if height < radiusKm || width < radiusKm {
			break
		}
		precision = uint(i + 1)
	}
	return precision
}

// CoveringCells returns the geohash cell containing center plus its eight
// neighbours, sized so that together they cover radiusKm around center.
func CoveringCells(center orb.Point, radiusKm float64) []string {
	precision := CellPrecision(radiusKm, center.Lat())
	cell := geohash.EncodeWithPrecision(center.Lat(), center.Lon(), precision)

	seen := map[string]bool{cell: true}
	cells := []string{cell}
	for _, n := range geohash.Neighbors(cell) {
		if !seen[n] {
			seen[n] = true
			cells = append(cells, n)
		}
	}
	sort.Strings(cells)
	return cells
}

// WithinRadius filters properties to those within radiusKm of center and orders
// them by distance, nearest first. Properties without coordinates are dropped.
func WithinRadius(properties []models.Property, center orb.Point, radiusKm float64) []models.Property {
	type ranked struct {
		property models.Property
		distance float64
	}
	candidates := make([]ranked, 0, len(properties))
	for _, p := range properties {
		point, ok := p.Point()
		if !ok {
			continue
		}
		d := DistanceKm(center, point)
		if d <= radiusKm {
			candidates = append(candidates, ranked{property: p, distance: d})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	out := make([]models.Property, len(candidates))
	for i, c := range candidates {
		out[i] = c.property
	}
	return out
}

// FeatureCollection renders properties with coordinates as GeoJSON points.
func FeatureCollection(properties []models.Property, center *orb.Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range properties {
		point, ok := p.Point()
		if !ok {
			continue
		}
		feature := geojson.NewFeature(point)
		feature.ID = p.Key()
		feature.Properties = geojson.Properties{
			"url":         p.URL,
			"title":       p.Title,
			"category":    string(p.Category),
			"price":       p.Price,
			"area":        p.Area,
			"near_water":  p.Features.NearWater,
			"road_access": p.Features.RoadAccess,
			"utilities":   p.Features.Utilities,
		}
		if v, ok := p.Observation().UnitPrice(); ok {
			feature.Properties["price_per_unit_area"] = v
		}
		if center != nil {
			feature.Properties["distance_km"] = math.Round(DistanceKm(*center, point)*100) / 100
		}
		fc.Append(feature)
	}
	return fc
}
