package scraping

import (
	"regexp"
	"strconv"
	"strings"

	"landvalue/internal/models"
)

var (
	numberPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(million|thousand|mm|m|k)?\b`)
	areaPattern   = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(acres?|ac|hectares?|ha|sq\.?\s*ft|sqft|square\s+feet|ft²|ft2|sq\.?\s*m|sqm|square\s+met(?:er|re)s?|m²|m2)`)

	waterPattern       = regexp.MustCompile(`\b(waterfront|lakefront|riverfront|oceanfront|beachfront|water\s+frontage|water\s+views?|creek|pond|lake|river|ocean|stream)s?\b`)
	noWaterPattern     = regexp.MustCompile(`\b(no|not|without)\s+(?:\w+\s+)?(waterfront|water\s+frontage|lake|river|creek|pond|ocean)`)
	noRoadPattern      = regexp.MustCompile(`\b(landlocked|no\s+road(?:\s+access)?|without\s+road\s+access|no\s+access\s+road|no\s+legal\s+access|no\s+access)\b`)
	noUtilitiesPattern = regexp.MustCompile(`\b(no\s+utilities|without\s+utilities|utilities\s+not\s+available|no\s+power|no\s+electricity|off[-\s]grid|no\s+sewer)\b`)
)

// Square feet per unit.
const (
	sqftPerAcre        = 43560.0
	sqftPerHectare     = 107639.104
	sqftPerSquareMetre = 10.7639104
)

// ParsePrice reads the first amount in a display string such as "$1,250,000"
// or "$350K". It reports false when no amount is present.
func ParsePrice(s string) (float64, bool) {
	m := numberPattern.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "k", "thousand":
		v *= 1e3
	case "m", "mm", "million":
		v *= 1e6
	}
	return v, v > 0
}

// ParseArea reads an area such as "2.5 acres" or "1,200 sq ft" and returns
// it in square feet. A bare number is taken to be square feet already.
func ParseArea(s string) (float64, bool) {
	lower := strings.ToLower(s)
	if m := areaPattern.FindStringSubmatch(lower); m != nil {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			return 0, false
		}
		unit := strings.Join(strings.Fields(strings.ReplaceAll(m[2], ".", "")), " ")
		switch {
		case strings.HasPrefix(unit, "ac"):
			v *= sqftPerAcre
		case strings.HasPrefix(unit, "h"):
			v *= sqftPerHectare
		case strings.Contains(unit, "m"):
			v *= sqftPerSquareMetre
		}
		return v, v > 0
	}

	m := numberPattern.FindStringSubmatch(lower)
	if m == nil || m[2] != "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, v > 0
}

// ExtractFeatures infers parcel features from listing text. Road access and
// utilities are assumed unless the text says otherwise; water proximity needs
// a positive mention.
func ExtractFeatures(text string) models.Features {
	lower := strings.ToLower(text)
	return models.Features{
		NearWater:  waterPattern.MatchString(lower) && !noWaterPattern.MatchString(lower),
		RoadAccess: !noRoadPattern.MatchString(lower),
		Utilities:  !noUtilitiesPattern.MatchString(lower),
	}
}
