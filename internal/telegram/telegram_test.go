package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landvalue/internal/models"
)

type fakeFinder struct {
	properties []models.Property
	err        error
	limits     []int
}

func (f *fakeFinder) Nearest(ctx context.Context, center orb.Point, radiusKm float64, category models.Category, limit int) ([]models.Property, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Property
	for _, p := range f.properties {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

type sentMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type fakeBotAPI struct {
	mu       sync.Mutex
	messages []sentMessage
	status   int
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		var msg sentMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.status != 0 {
			w.WriteHeader(f.status)
			w.Write([]byte(`{"ok":false}`))
			return
		}
		f.messages = append(f.messages, msg)
		w.Write([]byte(`{"ok":true}`))
	}
}

func (f *fakeBotAPI) Messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.messages...)
}

func ptr(v float64) *float64 { return &v }

func land(url string, price, area float64) models.Property {
	return models.Property{
		URL:       url,
		Title:     "Lot " + url,
		City:      "Austin",
		Category:  models.CategoryResidential,
		Price:     price,
		Area:      area,
		Features:  models.Features{RoadAccess: true, Utilities: true},
		Latitude:  ptr(30.27),
		Longitude: ptr(-97.74),
	}
}

// Five neighbours at 100/sq ft value a 1000 sq ft lot at 103000.
func neighbours() []models.Property {
	var out []models.Property
	for i := 0; i < 5; i++ {
		out = append(out, land(fmt.Sprintf("https://listings.test/n%d", i), 100000, 1000))
	}
	return out
}

func newTestService(t *testing.T, finder ComparableFinder, api *fakeBotAPI) *Service {
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewService(finder, Options{
		Enabled:        true,
		BotToken:       "test-token",
		ChatID:         "42",
		APIBaseURL:     srv.URL,
		UndervaluedPct: 15,
	}, logger)
}

func TestEvaluate(t *testing.T) {
	subject := land("https://listings.test/subject", 80000, 1000)
	finder := &fakeFinder{properties: append(neighbours(), subject)}
	s := newTestService(t, finder, &fakeBotAPI{})

	deal, err := s.Evaluate(context.Background(), &subject)
	require.NoError(t, err)
	require.NotNil(t, deal)
	assert.Equal(t, 5, deal.Comparables)
	assert.InDelta(t, 103000, deal.Estimate.EstimatedValue, 1e-6)
	assert.InDelta(t, (103000.0-80000)/103000*100, deal.DiscountPct, 1e-9)
	assert.Equal(t, []int{11}, finder.limits)

	fair := land("https://listings.test/fair", 95000, 1000)
	deal, err = s.Evaluate(context.Background(), &fair)
	require.NoError(t, err)
	assert.Nil(t, deal)
}

func TestEvaluate_SkipsUnqualified(t *testing.T) {
	finder := &fakeFinder{properties: neighbours()}
	s := newTestService(t, finder, &fakeBotAPI{})
	ctx := context.Background()

	noCoords := land("https://listings.test/a", 1000, 1000)
	noCoords.Latitude = nil
	deal, err := s.Evaluate(ctx, &noCoords)
	require.NoError(t, err)
	assert.Nil(t, deal)

	unknown := land("https://listings.test/b", 1000, 1000)
	unknown.Category = models.CategoryUnknown
	deal, err = s.Evaluate(ctx, &unknown)
	require.NoError(t, err)
	assert.Nil(t, deal)

	s.options.Filters = models.AlertFilters{Cities: []string{"Dallas"}}
	filtered := land("https://listings.test/c", 1000, 1000)
	deal, err = s.Evaluate(ctx, &filtered)
	require.NoError(t, err)
	assert.Nil(t, deal)
	assert.Empty(t, finder.limits)
}

func TestEvaluate_LimitedDataIsNotADeal(t *testing.T) {
	finder := &fakeFinder{properties: neighbours()[:2]}
	s := newTestService(t, finder, &fakeBotAPI{})

	cheap := land("https://listings.test/cheap", 1000, 1000)
	deal, err := s.Evaluate(context.Background(), &cheap)
	require.NoError(t, err)
	assert.Nil(t, deal)
}

func TestEvaluate_FinderError(t *testing.T) {
	s := newTestService(t, &fakeFinder{err: errors.New("store down")}, &fakeBotAPI{})

	cheap := land("https://listings.test/cheap", 1000, 1000)
	_, err := s.Evaluate(context.Background(), &cheap)
	assert.ErrorContains(t, err, "store down")
}

func TestNotifyStored(t *testing.T) {
	api := &fakeBotAPI{}
	cheap := land("https://listings.test/cheap?a=1&b=2", 50000, 1000)
	cheap.Title = "Lot <5 acres>"
	fair := land("https://listings.test/fair", 100000, 1000)
	s := newTestService(t, &fakeFinder{properties: neighbours()}, api)

	s.NotifyStored(context.Background(), []*models.Property{&cheap, &fair})

	messages := api.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "42", messages[0].ChatID)
	assert.Equal(t, "HTML", messages[0].ParseMode)
	assert.Contains(t, messages[0].Text, "Lot &lt;5 acres&gt;")
	assert.Contains(t, messages[0].Text, "https://listings.test/cheap?a=1&amp;b=2")
	assert.Contains(t, messages[0].Text, "$50000 (estimate $103000)")
}

func TestNotifyStored_Disabled(t *testing.T) {
	api := &fakeBotAPI{}
	s := newTestService(t, &fakeFinder{properties: neighbours()}, api)
	s.options.Enabled = false

	cheap := land("https://listings.test/cheap", 1000, 1000)
	s.NotifyStored(context.Background(), []*models.Property{&cheap})
	assert.Empty(t, api.Messages())
}

func TestSendMessage_Errors(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "invalid bot token"},
		{http.StatusBadRequest, "invalid chat ID"},
		{http.StatusForbidden, "blocked"},
		{http.StatusTooManyRequests, "status 429"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			s := newTestService(t, &fakeFinder{}, &fakeBotAPI{status: tt.status})
			err := s.SendMessage(context.Background(), "hello")
			assert.ErrorContains(t, err, tt.want)
		})
	}

	s := newTestService(t, &fakeFinder{}, &fakeBotAPI{})
	s.options.ChatID = ""
	assert.ErrorContains(t, s.SendMessage(context.Background(), "hello"), "chat ID")
}
