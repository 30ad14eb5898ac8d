package valuation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"landvalue/internal/comparables"
	"landvalue/internal/models"
)

// ComparableSelector is satisfied by *comparables.Selector.
type ComparableSelector interface {
	SelectComparables(ctx context.Context, point orb.Point, category models.Category) (*comparables.Selection, error)
}

// Request is a valuation request for a subject parcel.
type Request struct {
	Area       float64          `json:"area" validate:"gt=0"`
	Category   models.Category  `json:"category" validate:"required"`
	Features   *models.Features `json:"features" validate:"required"`
	QueryPoint models.GeoPoint  `json:"queryPoint"`
}

// ComparableUsed is the per-comparable breakdown returned to callers.
type ComparableUsed struct {
	ID               string          `json:"id"`
	Price            float64         `json:"price"`
	Area             float64         `json:"area"`
	PricePerUnitArea *float64        `json:"pricePerUnitArea"`
	Features         models.Features `json:"features"`
	Placeholder      bool            `json:"placeholder,omitempty"`
}

type Response struct {
	models.ValuationResult
	ComparablesUsed []ComparableUsed `json:"comparablesUsed"`
}

type Service struct {
	selector ComparableSelector
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewService(selector ComparableSelector, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Service{
		selector: selector,
		validate: validator.New(),
		logger:   logger,
	}
}

// Validate checks a request before any store access.
func (s *Service) Validate(req Request) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fieldName(fe.Namespace()), Reason: describe(fe)}
		}
		return &ValidationError{Field: "request", Reason: err.Error()}
	}
	if !req.Category.Valid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("must be one of %v", models.ValuationCategories)}
	}
	return nil
}

// Value validates the request, selects comparables around the query point and
// estimates the subject's value.
func (s *Service) Value(ctx context.Context, req Request) (*Response, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	selection, err := s.selector.SelectComparables(ctx, req.QueryPoint.OrbPoint(), req.Category)
	if err != nil {
		return nil, err
	}

	result, err := Estimate(Subject{Area: req.Area, Category: req.Category, Features: *req.Features}, selection.Observations)
	if err != nil {
		return nil, err
	}
	if selection.Synthesized {
		result.LowConfidence = true
	}

	s.logger.WithFields(logrus.Fields{
		"category":        req.Category,
		"area":            req.Area,
		"comparables":     len(selection.Observations),
		"synthesized":     selection.Synthesized,
		"estimated_value": result.EstimatedValue,
		"low_confidence":  result.LowConfidence,
	}).Info("Valuation completed")

	return &Response{
		ValuationResult: result,
		ComparablesUsed: comparablesUsed(selection.Observations),
	}, nil
}

func comparablesUsed(observations []models.PropertyObservation) []ComparableUsed {
	used := make([]ComparableUsed, 0, len(observations))
	for _, o := range observations {
		c := ComparableUsed{
			ID:          o.ID,
			Price:       o.Price,
			Area:        o.Area,
			Features:    o.Features,
			Placeholder: o.Placeholder,
		}
		if v, ok := o.UnitPrice(); ok {
			c.PricePerUnitArea = &v
		}
		used = append(used, c)
	}
	return used
}

// PlaceholderObservation builds the synthetic comparable used when the store is
// empty: it carries the category's fallback baseline as its unit price.
func PlaceholderObservation(category models.Category) (models.PropertyObservation, bool) {
	base, ok := FallbackBaseline(category)
	if !ok {
		return models.PropertyObservation{}, false
	}
	return models.PropertyObservation{
		ID:               "fallback-" + string(category),
		PricePerUnitArea: &base,
		Category:         category,
		Placeholder:      true,
	}, true
}

func fieldName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
