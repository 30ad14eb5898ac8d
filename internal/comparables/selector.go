package comparables

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"landvalue/internal/models"
)

var ErrNoComparables = errors.New("no comparable data available")

// NoComparablesError is returned when every stage came back empty and no
// placeholder could be synthesized.
type NoComparablesError struct {
	Category models.Category
}

func (e *NoComparablesError) Error() string {
	return fmt.Sprintf("%s for category %q", ErrNoComparables, e.Category)
}

func (e *NoComparablesError) Unwrap() error { return ErrNoComparables }

// Store is the geospatial property store the selector queries.
type Store interface {
	// Nearest returns up to limit properties within radiusKm of center, closest
	// first. An empty category matches every category.
	Nearest(ctx context.Context, center orb.Point, radiusKm float64, category models.Category, limit int) ([]models.Property, error)
	// MatchRegion returns properties whose free-text location fields contain region.
	MatchRegion(ctx context.Context, region string, limit int) ([]models.Property, error)
	// Sample returns up to limit properties in no particular order.
	Sample(ctx context.Context, limit int) ([]models.Property, error)
}

// RegionResolver maps a point to an administrative region name.
type RegionResolver interface {
	RegionName(ctx context.Context, point orb.Point) (string, error)
}

// PlaceholderFunc builds the synthetic observation used when the store is
// empty. It returns false when no placeholder exists for the category.
type PlaceholderFunc func(category models.Category) (models.PropertyObservation, bool)

type Options struct {
	MinDesired   int
	MaxDesired   int
	RadiusKm     float64
	StageTimeout time.Duration
	Placeholder  PlaceholderFunc
}

func DefaultOptions() Options {
	return Options{
		MinDesired:   5,
		MaxDesired:   10,
		RadiusKm:     10,
		StageTimeout: 3 * time.Second,
	}
}

// Query is the input shared by every stage.
type Query struct {
	Point    orb.Point
	Category models.Category
	Limit    int
}

// Stage is one selection strategy.
type Stage struct {
	Name string
	Run  func(ctx context.Context, q Query) ([]models.Property, error)
}

// Selection is the outcome of SelectComparables.
type Selection struct {
	Observations []models.PropertyObservation
	// Stages lists the names of the stages that ran, in order.
	Stages []string
	// Synthesized is set when the observations are a fallback placeholder.
	Synthesized bool
}

// Selector retrieves comparables by widening its criteria stage by stage.
type Selector struct {
	stages  []Stage
	options Options
	logger  *logrus.Logger
}

func NewSelector(store Store, regions RegionResolver, options Options, logger *logrus.Logger) *Selector {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Selector{
		stages:  DefaultStages(store, regions, options.RadiusKm),
		options: options,
		logger:  logger,
	}
}

// NewSelectorWithStages builds a selector from an explicit strategy list.
func NewSelectorWithStages(stages []Stage, options Options, logger *logrus.Logger) *Selector {
	s := NewSelector(nil, nil, options, logger)
	s.stages = stages
	return s
}

// DefaultStages returns the widening order: same category nearby, any
// category at twice the radius, region text match, then an unfiltered sample.
func DefaultStages(store Store, regions RegionResolver, radiusKm float64) []Stage {
	return []Stage{
		{
			Name: "nearby_category",
			Run: func(ctx context.Context, q Query) ([]models.Property, error) {
				return store.Nearest(ctx, q.Point, radiusKm, q.Category, q.Limit)
			},
		},
		{
			Name: "wider_radius",
			Run: func(ctx context.Context, q Query) ([]models.Property, error) {
				return store.Nearest(ctx, q.Point, 2*radiusKm, "", q.Limit)
			},
		},
		{
			Name: "region_text",
			Run: func(ctx context.Context, q Query) ([]models.Property, error) {
				if regions == nil {
					return nil, errors.New("no region resolver configured")
				}
				region, err := regions.RegionName(ctx, q.Point)
				if err != nil {
					return nil, fmt.Errorf("failed to resolve region: %w", err)
				}
				if region == "" {
					return nil, nil
				}
				return store.MatchRegion(ctx, region, q.Limit)
			},
		},
		{
			Name: "sample",
			Run: func(ctx context.Context, q Query) ([]models.Property, error) {
				return store.Sample(ctx, q.Limit)
			},
		},
	}
}

// SelectComparables runs the stages in order until MinDesired observations
// have been gathered. The first stage may contribute up to MaxDesired; later
// stages only fill the shortfall to MinDesired. A failing stage counts as
// empty. When nothing is found a placeholder is synthesized if possible.
func (s *Selector) SelectComparables(ctx context.Context, point orb.Point, category models.Category) (*Selection, error) {
	minDesired, maxDesired := s.bounds()
	selection := &Selection{}
	seen := make(map[string]bool)

	for i, stage := range s.stages {
		if len(selection.Observations) >= minDesired {
			break
		}
		selection.Stages = append(selection.Stages, stage.Name)

		properties, err := s.runStage(ctx, stage, Query{Point: point, Category: category, Limit: maxDesired})
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"stage":    stage.Name,
				"category": category,
			}).Warn("Comparable selection stage failed")
			continue
		}

		target := minDesired
		if i == 0 {
			target = maxDesired
		}
		for _, p := range properties {
			if len(selection.Observations) >= target {
				break
			}
			obs := p.Observation()
			if seen[obs.ID] {
				continue
			}
			seen[obs.ID] = true
			selection.Observations = append(selection.Observations, obs)
		}

		s.logger.WithFields(logrus.Fields{
			"stage":    stage.Name,
			"returned": len(properties),
			"total":    len(selection.Observations),
		}).Debug("Comparable selection stage completed")
	}

	if len(selection.Observations) > 0 {
		return selection, nil
	}

	if s.options.Placeholder != nil {
		if obs, ok := s.options.Placeholder(category); ok {
			obs.Placeholder = true
			selection.Observations = []models.PropertyObservation{obs}
			selection.Synthesized = true
			s.logger.WithField("category", category).Warn("No comparables found, using fallback placeholder")
			return selection, nil
		}
	}

	return nil, &NoComparablesError{Category: category}
}

func (s *Selector) runStage(ctx context.Context, stage Stage, q Query) ([]models.Property, error) {
	if s.options.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.options.StageTimeout)
		defer cancel()
	}
	return stage.Run(ctx, q)
}

func (s *Selector) bounds() (int, int) {
	minDesired, maxDesired := s.options.MinDesired, s.options.MaxDesired
	if minDesired <= 0 {
		minDesired = DefaultOptions().MinDesired
	}
	if maxDesired < minDesired {
		maxDesired = minDesired
	}
	return minDesired, maxDesired
}
