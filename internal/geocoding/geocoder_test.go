package geocoding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, calls *int32) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		switch r.URL.Query().Get("q") {
		case "1 Congress Ave, Austin":
			w.Write([]byte(`[{"lat":"30.2642","lon":"-97.7450","display_name":"1 Congress Ave","address":{"city":"Austin","county":"Travis County","state":"Texas"}}]`))
		default:
			w.Write([]byte(`[]`))
		}
	})
	mux.HandleFunc("/reverse", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Query().Get("lat") == "0.000000" {
			w.Write([]byte(`{"error":"Unable to geocode"}`))
			return
		}
		w.Write([]byte(`{"lat":"30.5","lon":"-97.9","display_name":"Somewhere","address":{"village":"Leander","county":"Williamson County","state":"Texas"}}`))
	})
	mux.HandleFunc("/broken/search", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGeocoder(baseURL string, cacheDir string) *Geocoder {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewGeocoder(logger, Options{
		BaseURL:   baseURL,
		UserAgent: "test-agent",
		CacheDir:  cacheDir,
		Timeout:   2 * time.Second,
	})
}

func TestGeocodeAddress(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls)
	g := newTestGeocoder(srv.URL, "")

	loc, err := g.GeocodeAddress(context.Background(), "1 Congress Ave, Austin")
	require.NoError(t, err)
	assert.InDelta(t, 30.2642, loc.Lat, 1e-9)
	assert.InDelta(t, -97.7450, loc.Lng, 1e-9)
	assert.Equal(t, "Austin", loc.City)
	assert.Equal(t, "Texas", loc.Region)

	// Served from the cache, case-insensitively.
	_, err = g.GeocodeAddress(context.Background(), "1 congress ave, austin")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGeocodeAddress_NoResults(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls)
	g := newTestGeocoder(srv.URL, "")

	_, err := g.GeocodeAddress(context.Background(), "middle of nowhere")
	assert.ErrorIs(t, err, ErrNoResults)

	_, err = g.GeocodeAddress(context.Background(), "   ")
	assert.Error(t, err)
}

func TestGeocodeAddress_UpstreamError(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls)
	g := newTestGeocoder(srv.URL+"/broken", "")

	_, err := g.GeocodeAddress(context.Background(), "1 Congress Ave, Austin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestRegionName(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls)
	g := newTestGeocoder(srv.URL, "")

	name, err := g.RegionName(context.Background(), orb.Point{-97.9, 30.5})
	require.NoError(t, err)
	assert.Equal(t, "Leander", name)

	_, err = g.RegionName(context.Background(), orb.Point{0, 0})
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestLocationRegionName(t *testing.T) {
	assert.Equal(t, "Travis County", Location{County: "Travis County", Region: "Texas"}.RegionName())
	assert.Equal(t, "Texas", Location{Region: "Texas"}.RegionName())
	assert.Equal(t, "", Location{}.RegionName())
}

func TestDiskCache(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls)
	dir := t.TempDir()

	g := newTestGeocoder(srv.URL, dir)
	_, err := g.GeocodeAddress(context.Background(), "1 Congress Ave, Austin")
	require.NoError(t, err)
	require.NoError(t, g.Close())

	reloaded := newTestGeocoder(srv.URL, dir)
	loc, err := reloaded.GeocodeAddress(context.Background(), "1 Congress Ave, Austin")
	require.NoError(t, err)
	assert.Equal(t, "Austin", loc.City)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMinInterval(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls)
	g := newTestGeocoder(srv.URL, "")
	g.options.MinInterval = 50 * time.Millisecond

	start := time.Now()
	_, err := g.ReverseGeocode(context.Background(), 30.5, -97.9)
	require.NoError(t, err)
	_, err = g.ReverseGeocode(context.Background(), 30.6, -97.9)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.ReverseGeocode(ctx, 30.7, -97.9)
	assert.ErrorIs(t, err, context.Canceled)
}
