package models

import "strings"

// AlertFilters narrows which stored properties may trigger a deal alert.
// Zero bounds are ignored.
type AlertFilters struct {
	MinPrice   float64    `json:"min_price" env:"TELEGRAM_MIN_PRICE"`
	MaxPrice   float64    `json:"max_price" env:"TELEGRAM_MAX_PRICE"`
	MinArea    float64    `json:"min_area" env:"TELEGRAM_MIN_AREA"`
	MaxArea    float64    `json:"max_area" env:"TELEGRAM_MAX_AREA"`
	Categories []Category `json:"categories" env:"TELEGRAM_CATEGORIES" envSeparator:","`
	Cities     []string   `json:"cities" env:"TELEGRAM_CITIES" envSeparator:","`
}

// IsPropertyAllowed checks if a property matches the filter criteria
func (f *AlertFilters) IsPropertyAllowed(property *Property) bool {
	if f == nil {
		return true // No filters means allow all
	}

	if f.MinPrice > 0 && property.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && property.Price > f.MaxPrice {
		return false
	}

	if property.Area > 0 {
		if f.MinArea > 0 && property.Area < f.MinArea {
			return false
		}
		if f.MaxArea > 0 && property.Area > f.MaxArea {
			return false
		}
	} else if f.MinArea > 0 || f.MaxArea > 0 {
		return false // Filter requires an area but property has none
	}

	if len(f.Categories) > 0 {
		allowed := false
		for _, c := range f.Categories {
			if c == property.Category {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(f.Cities) > 0 {
		allowed := false
		for _, city := range f.Cities {
			if strings.EqualFold(strings.TrimSpace(city), strings.TrimSpace(property.City)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	return true
}
