package valuation

import (
	"fmt"
	"math"
	"sort"

	"landvalue/internal/models"
)

const (
	// MinimumValue is the floor every estimate is clamped to.
	MinimumValue = 1000.0

	waterPremium      = 1.15
	noRoadDiscount    = 0.70
	noUtilityDiscount = 0.80
	largeLandDiscount = 0.95
	smallLandPremium  = 1.05
	marketTrend       = 1.03

	// quartileSampleSize is the smallest sanitized set that gets outlier filtering.
	quartileSampleSize = 4
	meanWeight         = 0.7
	medianWeight       = 0.3
)

// Factor labels as they appear in ValuationResult.AdjustmentFactors.
const (
	FactorNearWater       = "Near water"
	FactorNoRoadAccess    = "No road access"
	FactorNoUtilities     = "No utilities"
	FactorLargeLand       = "Large land size"
	FactorSmallLand       = "Small land size"
	FactorMarketTrend     = "Market trend adjustment"
	FactorLimitedData     = "Limited comparable data"
	FactorFallbackDefault = "Default estimate (no comparable data)"
)

// fallbackBaselines are conservative price-per-unit-area defaults used when no
// usable comparable exists.
var fallbackBaselines = map[models.Category]float64{
	models.CategoryResidential:  150,
	models.CategoryCommercial:   200,
	models.CategoryAgricultural: 5,
	models.CategoryIndustrial:   80,
}

const defaultBaseline = 10.0

// FallbackBaseline returns the default price per unit area for a category and
// whether the category has one of its own.
func FallbackBaseline(category models.Category) (float64, bool) {
	v, ok := fallbackBaselines[category]
	if !ok {
		return defaultBaseline, false
	}
	return v, true
}

// Subject is the parcel being valued.
type Subject struct {
	Area     float64
	Category models.Category
	Features models.Features
}

type sample struct {
	unitPrice float64
	area      float64
}

// Estimate values the subject against the comparables. It never fails on
// empty or malformed comparables; those degrade to the fallback baseline. The
// only error is a ValidationError for a non-positive or non-finite area.
func Estimate(subject Subject, comparables []models.PropertyObservation) (models.ValuationResult, error) {
	if !(subject.Area > 0) || math.IsInf(subject.Area, 0) {
		return models.ValuationResult{}, &ValidationError{Field: "area", Reason: "must be a finite positive number"}
	}

	samples := sanitize(comparables)
	if len(samples) == 0 {
		return fallbackEstimate(subject), nil
	}

	var (
		result models.ValuationResult
		base   float64
	)
	full := len(samples) >= quartileSampleSize
	if full {
		base = blendedUnitPrice(samples)
	} else {
		base = meanUnitPrice(samples)
		result.LowConfidence = true
		result.AdjustmentFactors = append(result.AdjustmentFactors, models.AdjustmentFactor{
			Factor:     fmt.Sprintf("%s (%d comparables)", FactorLimitedData, len(samples)),
			Adjustment: percent(1),
		})
	}
	result.BasePricePerUnitArea = base

	value := base * subject.Area
	value = applyFeatures(value, subject.Features, &result.AdjustmentFactors)

	if full {
		if meanArea, ok := meanSampleArea(samples); ok {
			switch {
			case subject.Area > 1.5*meanArea:
				value = apply(value, largeLandDiscount, FactorLargeLand, &result.AdjustmentFactors)
			case subject.Area < 0.5*meanArea:
				value = apply(value, smallLandPremium, FactorSmallLand, &result.AdjustmentFactors)
			}
		}
	}

	value = apply(value, marketTrend, FactorMarketTrend, &result.AdjustmentFactors)
	result.EstimatedValue = clamp(value)
	return result, nil
}

// sanitize keeps real comparables with a usable price per unit area. Placeholders
// are excluded so an empty store reaches the labelled fallback baseline.
func sanitize(comparables []models.PropertyObservation) []sample {
	samples := make([]sample, 0, len(comparables))
	for _, c := range comparables {
		if c.Placeholder {
			continue
		}
		v, ok := c.UnitPrice()
		if !ok {
			continue
		}
		samples = append(samples, sample{unitPrice: v, area: c.Area})
	}
	return samples
}

func fallbackEstimate(subject Subject) models.ValuationResult {
	base, _ := FallbackBaseline(subject.Category)
	result := models.ValuationResult{
		BasePricePerUnitArea: base,
		LowConfidence:        true,
		AdjustmentFactors: []models.AdjustmentFactor{{
			Factor:     FactorFallbackDefault,
			Adjustment: percent(1),
		}},
	}
	value := applyFeatures(base*subject.Area, subject.Features, &result.AdjustmentFactors)
	result.EstimatedValue = clamp(value)
	return result
}

func applyFeatures(value float64, f models.Features, factors *[]models.AdjustmentFactor) float64 {
	if f.NearWater {
		value = apply(value, waterPremium, FactorNearWater, factors)
	}
	if !f.RoadAccess {
		value = apply(value, noRoadDiscount, FactorNoRoadAccess, factors)
	}
	if !f.Utilities {
		value = apply(value, noUtilityDiscount, FactorNoUtilities, factors)
	}
	return value
}

func apply(value, multiplier float64, name string, factors *[]models.AdjustmentFactor) float64 {
	*factors = append(*factors, models.AdjustmentFactor{Factor: name, Adjustment: percent(multiplier)})
	return value * multiplier
}

// percent renders a multiplier as a signed whole percentage: 0.95 -> "-5%".
func percent(multiplier float64) string {
	return fmt.Sprintf("%+d%%", int(math.Round((multiplier-1)*100)))
}

func clamp(value float64) float64 {
	if math.IsNaN(value) || value < MinimumValue {
		return MinimumValue
	}
	return value
}

func meanUnitPrice(samples []sample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.unitPrice
	}
	return sum / float64(len(samples))
}

// blendedUnitPrice is 0.7 x the IQR-filtered mean plus 0.3 x the median of the
// unfiltered set. Quartiles are floor-indexed positions, not interpolated.
func blendedUnitPrice(samples []sample) float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.unitPrice
	}
	sort.Float64s(values)

	n := len(values)
	q1 := values[n/4]
	q3 := values[(3*n)/4]
	iqr := q3 - q1
	lower, upper := q1-1.5*iqr, q3+1.5*iqr

	var sum float64
	var kept int
	for _, v := range values {
		if v < lower || v > upper {
			continue
		}
		sum += v
		kept++
	}
	avg := sum / float64(kept)

	var median float64
	if n%2 == 0 {
		median = (values[n/2-1] + values[n/2]) / 2
	} else {
		median = values[n/2]
	}

	return meanWeight*avg + medianWeight*median
}

func meanSampleArea(samples []sample) (float64, bool) {
	var sum float64
	var n int
	for _, s := range samples {
		if s.area > 0 && !math.IsInf(s.area, 0) {
			sum += s.area
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
