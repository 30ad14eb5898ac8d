package scraping

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"landvalue/internal/models"
)

var ErrIncompleteListing = errors.New("incomplete listing")

// Listing is a raw listing as supplied by a scraper or an import file. Price
// and area may be given as numbers or as display text.
type Listing struct {
	URL         string           `json:"url"`
	Source      string           `json:"source"`
	Title       string           `json:"title"`
	Address     string           `json:"address"`
	City        string           `json:"city"`
	Region      string           `json:"region"`
	Category    string           `json:"category"`
	Price       float64          `json:"price"`
	PriceText   string           `json:"price_text"`
	Area        float64          `json:"area"`
	AreaText    string           `json:"area_text"`
	Description string           `json:"description"`
	Latitude    *float64         `json:"latitude"`
	Longitude   *float64         `json:"longitude"`
	Features    *models.Features `json:"features"`
	ScrapedAt   time.Time        `json:"scraped_at"`
}

// ToProperty normalises a listing into a storable property. Listings without
// a URL or a positive price are rejected. Explicit features win over features
// extracted from the free text.
func (l Listing) ToProperty() (*models.Property, error) {
	url := strings.TrimSpace(l.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: missing url", ErrIncompleteListing)
	}

	price := l.Price
	if price <= 0 {
		price, _ = ParsePrice(l.PriceText)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("%w: %s has no usable price", ErrIncompleteListing, url)
	}

	area := l.Area
	if area <= 0 {
		area, _ = ParseArea(l.AreaText)
	}
	if math.IsNaN(area) || math.IsInf(area, 0) || area < 0 {
		area = 0
	}

	p := &models.Property{
		URL:         url,
		Source:      strings.TrimSpace(l.Source),
		Title:       clean(l.Title),
		Address:     clean(l.Address),
		City:        clean(l.City),
		Region:      clean(l.Region),
		Category:    models.NormalizeCategory(l.Category),
		Price:       price,
		Area:        area,
		Description: clean(l.Description),
		ScrapedAt:   l.ScrapedAt,
	}

	if area > 0 {
		ppu := price / area
		p.PricePerUnitArea = &ppu
	}

	if l.Features != nil {
		p.Features = *l.Features
	} else {
		p.Features = ExtractFeatures(l.Title + " " + l.Description)
	}

	if l.Latitude != nil && l.Longitude != nil &&
		*l.Latitude >= -90 && *l.Latitude <= 90 &&
		*l.Longitude >= -180 && *l.Longitude <= 180 {
		lat, lng := *l.Latitude, *l.Longitude
		p.Latitude = &lat
		p.Longitude = &lng
	}

	return p, nil
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
