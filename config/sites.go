package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Selectors are the CSS selectors locating listing fields inside a card.
// Every field selector is relative to the card element.
type Selectors struct {
	Card        string `yaml:"card"`
	Title       string `yaml:"title"`
	Price       string `yaml:"price"`
	Area        string `yaml:"area"`
	Address     string `yaml:"address"`
	Description string `yaml:"description"`
	Link        string `yaml:"link"`
	Category    string `yaml:"category"`
	Latitude    string `yaml:"latitude"`
	Longitude   string `yaml:"longitude"`
	NextPage    string `yaml:"next_page"`
}

// Site describes one listing source
type Site struct {
	Name            string    `yaml:"name"`
	StartURLs       []string  `yaml:"start_urls"`
	AllowedDomains  []string  `yaml:"allowed_domains"`
	DefaultCategory string    `yaml:"default_category"`
	City            string    `yaml:"city"`
	Region          string    `yaml:"region"`
	MaxPages        int       `yaml:"max_pages"`
	Selectors       Selectors `yaml:"selectors"`
}

type SitesConfig struct {
	Sites []Site `yaml:"sites"`
}

var (
	sitesConfig *SitesConfig
	sitesLock   sync.RWMutex
)

// ParseSites decodes and validates a sites document
func ParseSites(data []byte) (*SitesConfig, error) {
	var cfg SitesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse sites config: %w", err)
	}

	seen := make(map[string]bool)
	for i, site := range cfg.Sites {
		if site.Name == "" {
			return nil, fmt.Errorf("site %d: name is required", i)
		}
		if seen[site.Name] {
			return nil, fmt.Errorf("site %s: duplicate name", site.Name)
		}
		seen[site.Name] = true
		if len(site.StartURLs) == 0 {
			return nil, fmt.Errorf("site %s: at least one start url is required", site.Name)
		}
		if site.Selectors.Card == "" {
			return nil, fmt.Errorf("site %s: card selector is required", site.Name)
		}
		if site.Selectors.Price == "" {
			return nil, fmt.Errorf("site %s: price selector is required", site.Name)
		}
		if site.MaxPages <= 0 {
			cfg.Sites[i].MaxPages = 1
		}
	}
	return &cfg, nil
}

// LoadSites loads the scraping site configuration from file
func LoadSites(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to read sites file: %w", err)
	}

	cfg, err := ParseSites(data)
	if err != nil {
		return err
	}

	SetSites(cfg.Sites)
	return nil
}

// SetSites replaces the loaded site list
func SetSites(sites []Site) {
	sitesLock.Lock()
	defer sitesLock.Unlock()
	sitesConfig = &SitesConfig{Sites: append([]Site(nil), sites...)}
}

// GetSites returns all configured sites
func GetSites() []Site {
	sitesLock.RLock()
	defer sitesLock.RUnlock()

	if sitesConfig == nil {
		return nil
	}
	return append([]Site(nil), sitesConfig.Sites...)
}

var ErrSiteNotFound = errors.New("site not found")

// GetSiteByName returns a specific site by name
func GetSiteByName(name string) (Site, error) {
	sitesLock.RLock()
	defer sitesLock.RUnlock()

	if sitesConfig != nil {
		for _, site := range sitesConfig.Sites {
			if strings.EqualFold(site.Name, name) {
				return site, nil
			}
		}
	}
	return Site{}, fmt.Errorf("%w: %s", ErrSiteNotFound, name)
}

// GetSiteNames returns the names of all configured sites
func GetSiteNames() []string {
	sites := GetSites()
	names := make([]string, len(sites))
	for i, site := range sites {
		names[i] = site.Name
	}
	return names
}
