package models

import "math"

// PropertyObservation is one comparable listing as seen by the estimator.
type PropertyObservation struct {
	ID               string   `json:"id"`
	Price            float64  `json:"price"`
	Area             float64  `json:"area"`
	PricePerUnitArea *float64 `json:"pricePerUnitArea,omitempty"`
	Category         Category `json:"category"`
	Features         Features `json:"features"`
	Location         string   `json:"location,omitempty"`

	// Placeholder marks an observation synthesized because the store had no data.
	Placeholder bool `json:"placeholder,omitempty"`
}

// UnitPrice returns the price per unit area, derived from price/area when it was
// not precomputed. The second return value is false when no finite positive
// value can be obtained.
func (o PropertyObservation) UnitPrice() (float64, bool) {
	if o.PricePerUnitArea != nil && usable(*o.PricePerUnitArea) {
		return *o.PricePerUnitArea, true
	}
	if usable(o.Price) && usable(o.Area) {
		if v := o.Price / o.Area; usable(v) {
			return v, true
		}
	}
	return 0, false
}

func usable(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// AdjustmentFactor records one multiplicative step applied to an estimate.
type AdjustmentFactor struct {
	Factor     string `json:"factor"`
	Adjustment string `json:"adjustment"`
}

type ValuationResult struct {
	EstimatedValue       float64            `json:"estimatedValue"`
	BasePricePerUnitArea float64            `json:"basePricePerUnitArea"`
	AdjustmentFactors    []AdjustmentFactor `json:"adjustmentFactors"`
	LowConfidence        bool               `json:"lowConfidence"`
}
