package scraping

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"landvalue/internal/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$1,250,000", 1250000, true},
		{"$350K", 350000, true},
		{"1.2M", 1200000, true},
		{"USD 2.5 million", 2500000, true},
		{"45 thousand", 45000, true},
		{"Call agent", 0, false},
		{"$0", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePrice(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestParseArea(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"5 acres", 5 * 43560, true},
		{"40 ac", 40 * 43560, true},
		{"1 Acre", 43560, true},
		{"2 hectares", 2 * 107639.104, true},
		{"1.5 ha", 1.5 * 107639.104, true},
		{"21,780 sq ft", 21780, true},
		{"900 sqft", 900, true},
		{"100 m²", 1076.39104, true},
		{"250 sq. m", 2690.9776, true},
		{"1200", 1200, true},
		{"5k", 0, false},
		{"unknown", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseArea(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestExtractFeatures(t *testing.T) {
	assert.Equal(t,
		models.Features{NearWater: true, RoadAccess: true, Utilities: true},
		ExtractFeatures("Beautiful lakefront lot with paved road"))

	assert.Equal(t,
		models.Features{NearWater: false, RoadAccess: false, Utilities: false},
		ExtractFeatures("Landlocked parcel. No utilities available."))

	assert.False(t, ExtractFeatures("Lot with no lake access").NearWater)
	assert.False(t, ExtractFeatures("Lakeview Estates subdivision").NearWater)
	assert.False(t, ExtractFeatures("Off-grid cabin site").Utilities)
	assert.True(t, ExtractFeatures("").RoadAccess)
}
