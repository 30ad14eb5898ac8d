package scraping

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"landvalue/config"
)

// ParseListings extracts one listing per card matched by the site's card
// selector. Relative links are resolved against pageURL; cards without a link
// get a stable fragment URL on the page.
func ParseListings(root *goquery.Selection, pageURL string, site config.Site) []Listing {
	base, _ := url.Parse(pageURL)
	sel := site.Selectors

	var listings []Listing
	root.Find(sel.Card).Each(func(i int, card *goquery.Selection) {
		l := Listing{
			Source:      site.Name,
			Title:       text(card, sel.Title),
			PriceText:   text(card, sel.Price),
			AreaText:    text(card, sel.Area),
			Address:     text(card, sel.Address),
			Description: text(card, sel.Description),
			Category:    text(card, sel.Category),
			City:        site.City,
			Region:      site.Region,
		}
		if l.Category == "" {
			l.Category = site.DefaultCategory
		}

		if href := attr(card, sel.Link, "href"); href != "" {
			l.URL = resolve(base, href)
		} else if id, ok := card.Attr("id"); ok && id != "" {
			l.URL = pageURL + "#" + id
		} else {
			l.URL = fmt.Sprintf("%s#listing-%d", pageURL, i)
		}

		l.Latitude = coordinate(card, sel.Latitude, "data-lat")
		l.Longitude = coordinate(card, sel.Longitude, "data-lng")

		listings = append(listings, l)
	})
	return listings
}

// NextPage returns the absolute URL of the next results page, if any.
func NextPage(root *goquery.Selection, pageURL string, site config.Site) string {
	if site.Selectors.NextPage == "" {
		return ""
	}
	href, ok := root.Find(site.Selectors.NextPage).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	base, _ := url.Parse(pageURL)
	return resolve(base, href)
}

func text(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return clean(card.Find(selector).First().Text())
}

func attr(card *goquery.Selection, selector, name string) string {
	s := card
	if selector != "" {
		s = card.Find(selector).First()
	}
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

// coordinate reads a number from the selected element's text, its content
// attribute or the named data attribute.
func coordinate(card *goquery.Selection, selector, dataAttr string) *float64 {
	if selector == "" {
		return nil
	}
	s := card.Find(selector).First()
	if s.Length() == 0 {
		return nil
	}
	candidates := []string{clean(s.Text())}
	for _, name := range []string{"content", dataAttr, "data-value"} {
		if v, ok := s.Attr(name); ok {
			candidates = append(candidates, strings.TrimSpace(v))
		}
	}
	for _, c := range candidates {
		if v, err := strconv.ParseFloat(c, 64); err == nil {
			return &v
		}
	}
	return nil
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if base == nil || ref.IsAbs() {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
