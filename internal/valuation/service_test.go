package valuation

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"landvalue/internal/comparables"
	"landvalue/internal/models"
)

type MockSelector struct {
	mock.Mock
}

func (m *MockSelector) SelectComparables(ctx context.Context, point orb.Point, category models.Category) (*comparables.Selection, error) {
	args := m.Called(ctx, point, category)
	sel, _ := args.Get(0).(*comparables.Selection)
	return sel, args.Error(1)
}

func validRequest() Request {
	return Request{
		Area:       2000,
		Category:   models.CategoryResidential,
		Features:   &models.Features{RoadAccess: true, Utilities: true},
		QueryPoint: models.GeoPoint{Lat: 30.27, Lng: -97.74},
	}
}

func TestService_ValidationFailsFast(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(r *Request)
		field string
	}{
		{"non-positive area", func(r *Request) { r.Area = 0 }, "area"},
		{"missing category", func(r *Request) { r.Category = "" }, "category"},
		{"unknown category", func(r *Request) { r.Category = "lunar" }, "category"},
		{"missing features", func(r *Request) { r.Features = nil }, "features"},
		{"latitude out of range", func(r *Request) { r.QueryPoint.Lat = 91 }, "queryPoint.lat"},
		{"longitude out of range", func(r *Request) { r.QueryPoint.Lng = -181 }, "queryPoint.lng"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selector := &MockSelector{}
			svc := NewService(selector, logrus.New())

			req := validRequest()
			tt.edit(&req)
			_, err := svc.Value(context.Background(), req)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			selector.AssertNotCalled(t, "SelectComparables", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestService_Value(t *testing.T) {
	selector := &MockSelector{}
	req := validRequest()
	selector.On("SelectComparables", mock.Anything, orb.Point{-97.74, 30.27}, models.CategoryResidential).Return(&comparables.Selection{
		Observations: []models.PropertyObservation{
			{ID: "1", Price: 50000, Area: 2500},
			{ID: "2", Price: 60000, Area: 3000},
			{ID: "3", Price: 45000, Area: 2200},
			{ID: "4", Price: 55000, Area: 2600},
		},
	}, nil)

	svc := NewService(selector, logrus.New())
	resp, err := svc.Value(context.Background(), req)
	require.NoError(t, err)

	direct, err := Estimate(Subject{Area: req.Area, Category: req.Category, Features: *req.Features}, []models.PropertyObservation{
		{Price: 50000, Area: 2500}, {Price: 60000, Area: 3000}, {Price: 45000, Area: 2200}, {Price: 55000, Area: 2600},
	})
	require.NoError(t, err)

	assert.Equal(t, direct, resp.ValuationResult)
	require.Len(t, resp.ComparablesUsed, 4)
	require.NotNil(t, resp.ComparablesUsed[0].PricePerUnitArea)
	assert.Equal(t, 20.0, *resp.ComparablesUsed[0].PricePerUnitArea)
	selector.AssertExpectations(t)
}

func TestService_SynthesizedPlaceholderIsLowConfidence(t *testing.T) {
	placeholder, ok := PlaceholderObservation(models.CategoryResidential)
	require.True(t, ok)

	selector := &MockSelector{}
	selector.On("SelectComparables", mock.Anything, mock.Anything, models.CategoryResidential).Return(&comparables.Selection{
		Observations: []models.PropertyObservation{placeholder},
		Synthesized:  true,
	}, nil)

	resp, err := NewService(selector, logrus.New()).Value(context.Background(), validRequest())
	require.NoError(t, err)

	assert.True(t, resp.LowConfidence)
	assert.Equal(t, FactorFallbackDefault, resp.AdjustmentFactors[0].Factor)
	require.Len(t, resp.ComparablesUsed, 1)
	assert.True(t, resp.ComparablesUsed[0].Placeholder)
}

func TestService_NoComparablesPropagates(t *testing.T) {
	selector := &MockSelector{}
	selector.On("SelectComparables", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &comparables.NoComparablesError{Category: models.CategoryIndustrial})

	req := validRequest()
	req.Category = models.CategoryIndustrial
	_, err := NewService(selector, logrus.New()).Value(context.Background(), req)
	assert.ErrorIs(t, err, comparables.ErrNoComparables)
}

func TestPlaceholderObservation(t *testing.T) {
	obs, ok := PlaceholderObservation(models.CategoryCommercial)
	require.True(t, ok)
	assert.True(t, obs.Placeholder)
	v, ok := obs.UnitPrice()
	require.True(t, ok)
	assert.Equal(t, 200.0, v)

	_, ok = PlaceholderObservation(models.CategoryUnknown)
	assert.False(t, ok)
}
