package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

var ErrNoResults = errors.New("no geocoding results")

// Location is a geocoded place.
type Location struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	County      string  `json:"county"`
	DisplayName string  `json:"display_name"`
}

// RegionName returns the most specific administrative name available.
func (l Location) RegionName() string {
	for _, s := range []string{l.City, l.County, l.Region} {
		if s != "" {
			return s
		}
	}
	return ""
}

type Options struct {
	BaseURL     string
	UserAgent   string
	CacheDir    string
	Timeout     time.Duration
	MinInterval time.Duration
}

type Geocoder struct {
	logger    *logrus.Logger
	options   Options
	cache     map[string]Location
	cacheLock sync.RWMutex
	client    *http.Client

	saveLock sync.Mutex
	saves    sync.WaitGroup

	rateLock    sync.Mutex
	lastRequest time.Time
}

func NewGeocoder(logger *logrus.Logger, options Options) *Geocoder {
	if options.BaseURL == "" {
		options.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if options.UserAgent == "" {
		options.UserAgent = "LandValue Estimator/1.0"
	}
	if options.Timeout == 0 {
		options.Timeout = 10 * time.Second
	}
	if options.CacheDir != "" {
		if err := os.MkdirAll(options.CacheDir, 0755); err != nil {
			logger.WithError(err).Warn("Could not create geocode cache directory")
		}
	}

	g := &Geocoder{
		logger:  logger,
		options: options,
		cache:   make(map[string]Location),
		client:  &http.Client{Timeout: options.Timeout},
	}

	g.loadCache()

	return g
}

func (g *Geocoder) cacheFile() string {
	if g.options.CacheDir == "" {
		return ""
	}
	return filepath.Join(g.options.CacheDir, "geocode_cache.json")
}

func (g *Geocoder) loadCache() {
	path := g.cacheFile()
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		g.logger.Warnf("Could not load geocode cache: %v", err)
		return
	}

	g.cacheLock.Lock()
	defer g.cacheLock.Unlock()
	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.Errorf("Failed to parse geocode cache: %v", err)
		return
	}

	g.logger.Infof("Loaded %d cached locations", len(g.cache))
}

func (g *Geocoder) saveCache() {
	path := g.cacheFile()
	if path == "" {
		return
	}

	g.cacheLock.RLock()
	data, err := json.Marshal(g.cache)
	g.cacheLock.RUnlock()
	if err != nil {
		g.logger.Errorf("Failed to marshal geocode cache: %v", err)
		return
	}

	g.saveLock.Lock()
	defer g.saveLock.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		g.logger.Errorf("Failed to save geocode cache: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		g.logger.Errorf("Failed to save geocode cache: %v", err)
		return
	}

	g.logger.Debug("Saved geocode cache to disk")
}

func (g *Geocoder) cached(key string) (Location, bool) {
	g.cacheLock.RLock()
	defer g.cacheLock.RUnlock()
	loc, ok := g.cache[key]
	return loc, ok
}

func (g *Geocoder) store(key string, loc Location) {
	g.cacheLock.Lock()
	g.cache[key] = loc
	g.cacheLock.Unlock()

	g.saves.Add(1)
	go func() {
		defer g.saves.Done()
		g.saveCache()
	}()
}

// Close waits for pending cache writes.
func (g *Geocoder) Close() error {
	g.saves.Wait()
	return nil
}

type nominatimAddress struct {
	City    string `json:"city"`
	Town    string `json:"town"`
	Village string `json:"village"`
	County  string `json:"county"`
	State   string `json:"state"`
}

type nominatimPlace struct {
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
	Error       string           `json:"error"`
}

func (p nominatimPlace) location() (Location, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid latitude %q: %w", p.Lat, err)
	}
	lng, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid longitude %q: %w", p.Lon, err)
	}
	city := p.Address.City
	if city == "" {
		city = p.Address.Town
	}
	if city == "" {
		city = p.Address.Village
	}
	return Location{
		Lat:         lat,
		Lng:         lng,
		City:        city,
		County:      p.Address.County,
		Region:      p.Address.State,
		DisplayName: p.DisplayName,
	}, nil
}

// GeocodeAddress resolves a free-text address to coordinates.
func (g *Geocoder) GeocodeAddress(ctx context.Context, address string) (Location, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Location{}, errors.New("empty address")
	}
	cacheKey := "search|" + strings.ToLower(address)
	if loc, ok := g.cached(cacheKey); ok {
		g.logger.WithFields(logrus.Fields{
			"address": address,
			"source":  "cache",
		}).Debug("Found coordinates in cache")
		return loc, nil
	}

	params := url.Values{
		"q":              []string{address},
		"format":         []string{"json"},
		"limit":          []string{"1"},
		"addressdetails": []string{"1"},
	}

	var places []nominatimPlace
	if err := g.get(ctx, "/search", params, &places); err != nil {
		g.logger.WithError(err).WithField("address", address).Error("Geocoding request failed")
		return Location{}, err
	}
	if len(places) == 0 {
		g.logger.WithField("address", address).Warn("No results found")
		return Location{}, fmt.Errorf("%w for address: %s", ErrNoResults, address)
	}

	loc, err := places[0].location()
	if err != nil {
		return Location{}, err
	}

	g.logger.WithFields(logrus.Fields{
		"address":   address,
		"latitude":  loc.Lat,
		"longitude": loc.Lng,
		"source":    "nominatim",
	}).Info("Successfully geocoded address")

	g.store(cacheKey, loc)
	return loc, nil
}

// ReverseGeocode resolves coordinates to administrative components.
func (g *Geocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (Location, error) {
	cacheKey := fmt.Sprintf("reverse|%.4f|%.4f", lat, lng)
	if loc, ok := g.cached(cacheKey); ok {
		return loc, nil
	}

	params := url.Values{
		"lat":            []string{strconv.FormatFloat(lat, 'f', 6, 64)},
		"lon":            []string{strconv.FormatFloat(lng, 'f', 6, 64)},
		"format":         []string{"json"},
		"addressdetails": []string{"1"},
		"zoom":           []string{"10"},
	}

	var place nominatimPlace
	if err := g.get(ctx, "/reverse", params, &place); err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{"latitude": lat, "longitude": lng}).Error("Reverse geocoding failed")
		return Location{}, err
	}
	if place.Error != "" {
		return Location{}, fmt.Errorf("%w: %s", ErrNoResults, place.Error)
	}

	loc, err := place.location()
	if err != nil {
		return Location{}, err
	}

	g.store(cacheKey, loc)
	return loc, nil
}

// RegionName returns the administrative region name for a point.
func (g *Geocoder) RegionName(ctx context.Context, point orb.Point) (string, error) {
	loc, err := g.ReverseGeocode(ctx, point.Lat(), point.Lon())
	if err != nil {
		return "", err
	}
	return loc.RegionName(), nil
}

func (g *Geocoder) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := g.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(g.options.BaseURL, "/")+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", g.options.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// wait enforces MinInterval between upstream requests (Nominatim usage policy).
func (g *Geocoder) wait(ctx context.Context) error {
	g.rateLock.Lock()
	defer g.rateLock.Unlock()

	if g.options.MinInterval > 0 && !g.lastRequest.IsZero() {
		if d := g.options.MinInterval - time.Since(g.lastRequest); d > 0 {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	g.lastRequest = time.Now()
	return nil
}
