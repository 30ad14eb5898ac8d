package models

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Category is the zoning/use label of a parcel.
type Category string

const (
	CategoryResidential  Category = "residential"
	CategoryCommercial   Category = "commercial"
	CategoryAgricultural Category = "agricultural"
	CategoryIndustrial   Category = "industrial"
	CategoryUnknown      Category = "unknown"
)

// ValuationCategories lists the categories a valuation can be requested for
var ValuationCategories = []Category{
	CategoryResidential,
	CategoryCommercial,
	CategoryAgricultural,
	CategoryIndustrial,
}

// categoryKeywords is ordered: the first keyword found in a label wins.
var categoryKeywords = []struct {
	word     string
	category Category
}{
	{"residential", CategoryResidential},
	{"commercial", CategoryCommercial},
	{"agricultur", CategoryAgricultural},
	{"industrial", CategoryIndustrial},
	{"farm", CategoryAgricultural},
	{"ranch", CategoryAgricultural},
	{"warehouse", CategoryIndustrial},
	{"manufacturing", CategoryIndustrial},
	{"retail", CategoryCommercial},
	{"office", CategoryCommercial},
	{"house", CategoryResidential},
	{"home", CategoryResidential},
	{"condo", CategoryResidential},
	{"apartment", CategoryResidential},
}

// NormalizeCategory maps a free-form label from a listing source onto a Category.
// Labels that cannot be mapped become CategoryUnknown.
func NormalizeCategory(label string) Category {
	key := strings.ToLower(strings.TrimSpace(label))
	if key == "" {
		return CategoryUnknown
	}
	for _, kw := range categoryKeywords {
		if strings.Contains(key, kw.word) {
			return kw.category
		}
	}
	return CategoryUnknown
}

// Valid reports whether the category can be used for a valuation request.
func (c Category) Valid() bool {
	for _, v := range ValuationCategories {
		if c == v {
			return true
		}
	}
	return false
}

// Features are the boolean parcel traits that affect value.
type Features struct {
	NearWater  bool `json:"nearWater" gorm:"column:near_water"`
	RoadAccess bool `json:"roadAccess" gorm:"column:road_access"`
	Utilities  bool `json:"utilities" gorm:"column:utilities"`
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat" form:"lat" validate:"min=-90,max=90" binding:"min=-90,max=90"`
	Lng float64 `json:"lng" form:"lng" validate:"min=-180,max=180" binding:"min=-180,max=180"`
}

// OrbPoint converts to orb's [lng, lat] ordering.
func (g GeoPoint) OrbPoint() orb.Point {
	return orb.Point{g.Lng, g.Lat}
}

// Property is a stored listing record.
type Property struct {
	ID                 uint      `json:"id" gorm:"primaryKey" bson:"-"`
	URL                string    `json:"url" gorm:"uniqueIndex;not null" bson:"_id"`
	Source             string    `json:"source" bson:"source"`
	Title              string    `json:"title" bson:"title"`
	Address            string    `json:"address" bson:"address"`
	City               string    `json:"city" gorm:"index" bson:"city"`
	Region             string    `json:"region" bson:"region"`
	Category           Category  `json:"category" gorm:"index" bson:"category"`
	Price              float64   `json:"price" bson:"price"`
	Area               float64   `json:"area" bson:"area"`
	PricePerUnitArea   *float64  `json:"price_per_unit_area" bson:"price_per_unit_area,omitempty"`
	Features           Features  `json:"features" gorm:"embedded" bson:"features"`
	Description        string    `json:"description" bson:"description"`
	Latitude           *float64  `json:"latitude" bson:"latitude,omitempty"`
	Longitude          *float64  `json:"longitude" bson:"longitude,omitempty"`
	Geohash            string    `json:"geohash" gorm:"index" bson:"geohash"`
	GeocodingAttempted bool      `json:"-" bson:"geocoding_attempted"`
	ScrapedAt          time.Time `json:"scraped_at" bson:"scraped_at"`
	CreatedAt          time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" bson:"updated_at"`
}

// Key returns the identity used to deduplicate properties across store queries.
func (p Property) Key() string {
	if p.ID != 0 {
		return strconv.FormatUint(uint64(p.ID), 10)
	}
	return p.URL
}

// Point returns the property location, if known.
func (p Property) Point() (orb.Point, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return orb.Point{}, false
	}
	return orb.Point{*p.Longitude, *p.Latitude}, true
}

// Location joins the free-text location fields.
func (p Property) Location() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Address, p.City, p.Region} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Observation converts the stored record into the shape consumed by the estimator.
func (p Property) Observation() PropertyObservation {
	return PropertyObservation{
		ID:               p.Key(),
		Price:            p.Price,
		Area:             p.Area,
		PricePerUnitArea: p.PricePerUnitArea,
		Category:         p.Category,
		Features:         p.Features,
		Location:         p.Location(),
	}
}

// PropertyFilter narrows ListProperties.
type PropertyFilter struct {
	City     string
	Category Category
	Limit    int
}

type PropertyStats struct {
	TotalProperties        int     `json:"total_properties"`
	AveragePrice           float64 `json:"average_price"`
	AvgPricePerUnitArea    float64 `json:"avg_price_per_unit_area"`
	MedianPricePerUnitArea float64 `json:"median_price_per_unit_area"`
}

// ComputeStats aggregates price statistics. Properties without a usable
// price per unit area still count towards the total and average price.
func ComputeStats(properties []Property) PropertyStats {
	stats := PropertyStats{TotalProperties: len(properties)}
	if len(properties) == 0 {
		return stats
	}

	var priceSum float64
	var priced int
	unitPrices := make([]float64, 0, len(properties))
	for _, p := range properties {
		if p.Price > 0 {
			priceSum += p.Price
			priced++
		}
		if v, ok := p.Observation().UnitPrice(); ok {
			unitPrices = append(unitPrices, v)
		}
	}
	if priced > 0 {
		stats.AveragePrice = priceSum / float64(priced)
	}
	if len(unitPrices) == 0 {
		return stats
	}

	sort.Float64s(unitPrices)
	var sum float64
	for _, v := range unitPrices {
		sum += v
	}
	stats.AvgPricePerUnitArea = sum / float64(len(unitPrices))
	n := len(unitPrices)
	if n%2 == 0 {
		stats.MedianPricePerUnitArea = (unitPrices[n/2-1] + unitPrices[n/2]) / 2
	} else {
		stats.MedianPricePerUnitArea = unitPrices[n/2]
	}
	return stats
}
