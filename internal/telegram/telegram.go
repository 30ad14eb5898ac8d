package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"landvalue/internal/models"
	"landvalue/internal/valuation"
)

// ComparableFinder is satisfied by both property stores.
type ComparableFinder interface {
	Nearest(ctx context.Context, center orb.Point, radiusKm float64, category models.Category, limit int) ([]models.Property, error)
}

type Options struct {
	Enabled        bool
	BotToken       string
	ChatID         string
	APIBaseURL     string
	UndervaluedPct float64
	RadiusKm       float64
	MaxComparables int
	Filters        models.AlertFilters
}

// Deal is a stored property priced below its estimate.
type Deal struct {
	Property    *models.Property
	Estimate    models.ValuationResult
	Comparables int
	DiscountPct float64
}

type Service struct {
	logger  *logrus.Logger
	client  *http.Client
	finder  ComparableFinder
	options Options
}

func NewService(finder ComparableFinder, options Options, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if options.APIBaseURL == "" {
		options.APIBaseURL = "https://api.telegram.org"
	}
	if options.RadiusKm <= 0 {
		options.RadiusKm = 10
	}
	if options.MaxComparables <= 0 {
		options.MaxComparables = 10
	}
	return &Service{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		finder:  finder,
		options: options,
	}
}

// NotifyStored checks freshly stored properties for deals and sends one
// message per deal. Errors are logged and never returned.
func (s *Service) NotifyStored(ctx context.Context, properties []*models.Property) {
	if !s.options.Enabled {
		return
	}
	for _, p := range properties {
		if ctx.Err() != nil {
			return
		}
		deal, err := s.Evaluate(ctx, p)
		if err != nil {
			s.logger.WithError(err).WithField("url", p.URL).Warn("Failed to evaluate property for deal alert")
			continue
		}
		if deal == nil {
			continue
		}
		if err := s.SendMessage(ctx, FormatDeal(deal)); err != nil {
			s.logger.WithError(err).WithField("url", p.URL).Error("Failed to send deal alert")
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"url":          p.URL,
			"discount_pct": deal.DiscountPct,
		}).Info("Sent deal alert")
	}
}

// Evaluate values a property against its nearest same-category neighbours,
// excluding itself. It returns nil when the property does not qualify: it is
// filtered out, lacks coordinates or area, has too little comparable data for
// a confident estimate, or is not far enough below that estimate.
func (s *Service) Evaluate(ctx context.Context, p *models.Property) (*Deal, error) {
	if !s.options.Filters.IsPropertyAllowed(p) || !p.Category.Valid() || p.Area <= 0 {
		return nil, nil
	}
	point, ok := p.Point()
	if !ok {
		return nil, nil
	}

	nearby, err := s.finder.Nearest(ctx, point, s.options.RadiusKm, p.Category, s.options.MaxComparables+1)
	if err != nil {
		return nil, fmt.Errorf("failed to load comparables: %w", err)
	}
	observations := make([]models.PropertyObservation, 0, len(nearby))
	for _, n := range nearby {
		if n.URL == p.URL {
			continue
		}
		observations = append(observations, n.Observation())
		if len(observations) == s.options.MaxComparables {
			break
		}
	}
	if len(observations) == 0 {
		return nil, nil
	}

	estimate, err := valuation.Estimate(valuation.Subject{Area: p.Area, Category: p.Category, Features: p.Features}, observations)
	if err != nil {
		return nil, err
	}
	if estimate.LowConfidence || estimate.EstimatedValue <= 0 {
		return nil, nil
	}

	discount := (estimate.EstimatedValue - p.Price) / estimate.EstimatedValue * 100
	if discount < s.options.UndervaluedPct {
		return nil, nil
	}
	return &Deal{
		Property:    p,
		Estimate:    estimate,
		Comparables: len(observations),
		DiscountPct: discount,
	}, nil
}

// FormatDeal renders a deal as a Telegram HTML message.
func FormatDeal(d *Deal) string {
	p := d.Property
	title := p.Title
	if title == "" {
		title = "Untitled listing"
	}
	location := p.Location()
	if location == "" {
		location = "Unknown location"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Undervalued %s land: %.1f%% below estimate</b>\n\n", p.Category, d.DiscountPct)
	fmt.Fprintf(&b, "🏞️ %s\n", html.EscapeString(title))
	fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(location))
	fmt.Fprintf(&b, "💰 $%.0f (estimate $%.0f)\n", p.Price, d.Estimate.EstimatedValue)
	fmt.Fprintf(&b, "📐 %.0f sq ft\n", p.Area)
	fmt.Fprintf(&b, "📊 Based on %d comparables\n", d.Comparables)
	if p.URL != "" {
		fmt.Fprintf(&b, "\n🔗 <a href=\"%s\">View listing</a>", html.EscapeString(p.URL))
	}
	return b.String()
}

// SendMessage sends a message to the configured Telegram chat
func (s *Service) SendMessage(ctx context.Context, message string) error {
	if !s.options.Enabled {
		return nil
	}
	if s.options.BotToken == "" {
		return errors.New("telegram bot token is not configured")
	}
	if s.options.ChatID == "" {
		return errors.New("telegram chat ID is not configured")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(s.options.APIBaseURL, "/"), s.options.BotToken)
	payload := map[string]interface{}{
		"chat_id":    s.options.ChatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return errors.New("invalid bot token - please check your token from @BotFather")
		case http.StatusBadRequest:
			return fmt.Errorf("invalid chat ID or message format: %s", string(body))
		case http.StatusForbidden:
			return errors.New("bot was blocked by the user or chat")
		case http.StatusNotFound:
			return errors.New("bot not found - please check your token from @BotFather")
		default:
			return fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, string(body))
		}
	}

	return nil
}
