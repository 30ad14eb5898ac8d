package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sitesYAML = `
sites:
  - name: landwatch
    start_urls:
      - https://listings.test/land
    default_category: agricultural
    city: Austin
    selectors:
      card: div.listing
      title: h2
      price: .price
      area: .acres
      link: a.details
  - name: loopnet
    start_urls:
      - https://listings.test/commercial
    max_pages: 3
    selectors:
      card: article
      price: span.price
`

func TestParseSites(t *testing.T) {
	cfg, err := ParseSites([]byte(sitesYAML))
	require.NoError(t, err)
	require.Len(t, cfg.Sites, 2)

	site := cfg.Sites[0]
	assert.Equal(t, "landwatch", site.Name)
	assert.Equal(t, []string{"https://listings.test/land"}, site.StartURLs)
	assert.Equal(t, "agricultural", site.DefaultCategory)
	assert.Equal(t, "div.listing", site.Selectors.Card)
	assert.Equal(t, "a.details", site.Selectors.Link)
	assert.Equal(t, 1, site.MaxPages)
	assert.Equal(t, 3, cfg.Sites[1].MaxPages)
}

func TestParseSites_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "sites:\n  - start_urls: [https://a.test]\n    selectors: {card: div, price: .p}\n"},
		{"missing start urls", "sites:\n  - name: a\n    selectors: {card: div, price: .p}\n"},
		{"missing card", "sites:\n  - name: a\n    start_urls: [https://a.test]\n    selectors: {price: .p}\n"},
		{"missing price", "sites:\n  - name: a\n    start_urls: [https://a.test]\n    selectors: {card: div}\n"},
		{"duplicate", "sites:\n  - name: a\n    start_urls: [https://a.test]\n    selectors: {card: div, price: .p}\n  - name: a\n    start_urls: [https://b.test]\n    selectors: {card: div, price: .p}\n"},
		{"malformed", "sites: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSites([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadSites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sitesYAML), 0644))

	require.NoError(t, LoadSites(path))
	assert.Equal(t, []string{"landwatch", "loopnet"}, GetSiteNames())

	site, err := GetSiteByName("LoopNet")
	require.NoError(t, err)
	assert.Equal(t, "article", site.Selectors.Card)

	_, err = GetSiteByName("zillow")
	assert.ErrorIs(t, err, ErrSiteNotFound)
}
