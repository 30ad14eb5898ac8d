package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"landvalue/internal/geocoding"
	"landvalue/internal/models"
)

type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) GeocodeAddress(ctx context.Context, address string) (geocoding.Location, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(geocoding.Location), args.Error(1)
}

func setupTestDB(t *testing.T) *Database {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(v float64) *float64 { return &v }

func property(url string, lat, lng float64, category models.Category) *models.Property {
	return &models.Property{
		URL:       url,
		Title:     url,
		Category:  category,
		Price:     100000,
		Area:      1000,
		Latitude:  ptr(lat),
		Longitude: ptr(lng),
	}
}

// Austin, TX
var austin = orb.Point{-97.7431, 30.2672}

func seed(t *testing.T, db *Database) {
	batch := []*models.Property{
		property("https://listings.test/near-res", 30.2700, -97.7400, models.CategoryResidential),
		property("https://listings.test/mid-res", 30.3000, -97.7431, models.CategoryResidential),
		property("https://listings.test/near-com", 30.2680, -97.7420, models.CategoryCommercial),
		property("https://listings.test/round-rock", 30.5083, -97.6789, models.CategoryResidential),
		property("https://listings.test/houston", 29.7604, -95.3698, models.CategoryResidential),
	}
	require.NoError(t, db.UpsertProperties(context.Background(), batch))
}

func urls(props []models.Property) []string {
	out := make([]string, len(props))
	for i, p := range props {
		out[i] = p.URL
	}
	return out
}

func TestNearest(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)
	ctx := context.Background()

	props, err := db.Nearest(ctx, austin, 10, models.CategoryResidential, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://listings.test/near-res", "https://listings.test/mid-res"}, urls(props))

	props, err = db.Nearest(ctx, austin, 10, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://listings.test/near-com",
		"https://listings.test/near-res",
		"https://listings.test/mid-res",
	}, urls(props))

	props, err = db.Nearest(ctx, austin, 40, "", 2)
	require.NoError(t, err)
	assert.Len(t, props, 2)

	props, err = db.Nearest(ctx, austin, 40, models.CategoryResidential, 10)
	require.NoError(t, err)
	assert.Contains(t, urls(props), "https://listings.test/round-rock")
	assert.NotContains(t, urls(props), "https://listings.test/houston")
}

func TestNearest_SkipsPropertiesWithoutCoordinates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertProperties(ctx, []*models.Property{
		{URL: "https://listings.test/no-coords", Category: models.CategoryResidential, Price: 1, Area: 1},
	}))

	props, err := db.Nearest(ctx, austin, 10, "", 10)
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestMatchRegion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertProperties(ctx, []*models.Property{
		{URL: "https://listings.test/1", Address: "12 Lake Rd, Travis County", Price: 1, Area: 1},
		{URL: "https://listings.test/2", City: "Austin", Region: "TRAVIS COUNTY", Price: 1, Area: 1},
		{URL: "https://listings.test/3", City: "Dallas", Region: "Dallas County", Price: 1, Area: 1},
		{URL: "https://listings.test/4", Address: "100%_off lane", Price: 1, Area: 1},
	}))

	props, err := db.MatchRegion(ctx, "travis county", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://listings.test/1", "https://listings.test/2"}, urls(props))

	props, err = db.MatchRegion(ctx, "100%_", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://listings.test/4"}, urls(props))

	props, err = db.MatchRegion(ctx, "%", 10)
	require.NoError(t, err)
	assert.Len(t, props, 1)

	props, err = db.MatchRegion(ctx, "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestSample(t *testing.T) {
	db := setupTestDB(t)
	seed(t, db)

	props, err := db.Sample(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, props, 3)

	props, err = db.Sample(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, props, 5)
}

func TestUpsertProperties_UpdatesByURL(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := property("https://listings.test/a", 30.27, -97.74, models.CategoryResidential)
	require.NoError(t, db.UpsertProperties(ctx, []*models.Property{first}))

	updated := property("https://listings.test/a", 30.27, -97.74, models.CategoryCommercial)
	updated.Price = 250000
	require.NoError(t, db.UpsertProperties(ctx, []*models.Property{updated}))

	props, err := db.ListProperties(ctx, models.PropertyFilter{})
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, 250000.0, props[0].Price)
	assert.Equal(t, models.CategoryCommercial, props[0].Category)
	assert.NotEmpty(t, props[0].Geohash)
	assert.False(t, props[0].ScrapedAt.IsZero())
}

func TestListProperties_Filters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	var batch []*models.Property
	for i := 0; i < 4; i++ {
		p := &models.Property{URL: fmt.Sprintf("https://listings.test/%d", i), City: "Austin", Category: models.CategoryResidential, Price: 1, Area: 1}
		if i%2 == 1 {
			p.City = "Dallas"
			p.Category = models.CategoryIndustrial
		}
		batch = append(batch, p)
	}
	require.NoError(t, db.UpsertProperties(ctx, batch))

	props, err := db.ListProperties(ctx, models.PropertyFilter{City: "austin"})
	require.NoError(t, err)
	assert.Len(t, props, 2)

	props, err = db.ListProperties(ctx, models.PropertyFilter{Category: models.CategoryIndustrial, Limit: 1})
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "Dallas", props[0].City)
}

func TestUpdateMissingCoordinates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertProperties(ctx, []*models.Property{
		{URL: "https://listings.test/ok", Address: "1 Main St", City: "Austin", Price: 1, Area: 1},
		{URL: "https://listings.test/bad", Address: "nowhere", Price: 1, Area: 1},
		property("https://listings.test/located", 30.27, -97.74, models.CategoryResidential),
	}))

	geocoder := &MockGeocoder{}
	geocoder.On("GeocodeAddress", mock.Anything, "1 Main St, Austin").
		Return(geocoding.Location{Lat: 30.2672, Lng: -97.7431, Region: "Texas"}, nil).Once()
	geocoder.On("GeocodeAddress", mock.Anything, "nowhere").
		Return(geocoding.Location{}, errors.New("no results")).Once()

	require.NoError(t, db.UpdateMissingCoordinates(ctx, geocoder))
	geocoder.AssertExpectations(t)

	props, err := db.ListProperties(ctx, models.PropertyFilter{})
	require.NoError(t, err)
	byURL := make(map[string]models.Property)
	for _, p := range props {
		byURL[p.URL] = p
	}

	ok := byURL["https://listings.test/ok"]
	require.NotNil(t, ok.Latitude)
	assert.InDelta(t, 30.2672, *ok.Latitude, 1e-9)
	assert.Equal(t, "Texas", ok.Region)
	assert.NotEmpty(t, ok.Geohash)
	assert.True(t, ok.GeocodingAttempted)

	bad := byURL["https://listings.test/bad"]
	assert.Nil(t, bad.Latitude)
	assert.True(t, bad.GeocodingAttempted)

	// A second run has nothing left to do.
	require.NoError(t, db.UpdateMissingCoordinates(ctx, geocoder))
	geocoder.AssertNumberOfCalls(t, "GeocodeAddress", 2)
}
