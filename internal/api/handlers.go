package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"landvalue/config"
	"landvalue/internal/comparables"
	"landvalue/internal/geometry"
	"landvalue/internal/jobs"
	"landvalue/internal/models"
	"landvalue/internal/queue"
	"landvalue/internal/scraping"
	"landvalue/internal/valuation"
)

const (
	defaultNearbyRadiusKm = 10
	defaultLimit          = 100
	maxImportListings     = 10000
)

// PropertyStore is satisfied by both property stores.
type PropertyStore interface {
	Nearest(ctx context.Context, center orb.Point, radiusKm float64, category models.Category, limit int) ([]models.Property, error)
	ListProperties(ctx context.Context, filter models.PropertyFilter) ([]models.Property, error)
}

type Valuer interface {
	Value(ctx context.Context, req valuation.Request) (*valuation.Response, error)
}

type BatchPusher interface {
	Push(batch queue.Batch) error
}

type ScrapeStarter interface {
	StartScrape(ctx context.Context, siteName string) (jobs.Job, error)
}

type Handler struct {
	store   PropertyStore
	valuer  Valuer
	queue   BatchPusher
	tracker *jobs.Tracker
	scraper ScrapeStarter
	logger  *logrus.Logger
}

type NearbyQuery struct {
	models.GeoPoint
	RadiusKm float64         `form:"radius_km" binding:"omitempty,gt=0,max=500"`
	Category models.Category `form:"category"`
	Limit    int             `form:"limit" binding:"omitempty,min=1,max=1000"`
	Format   string          `form:"format" binding:"omitempty,oneof=json geojson"`
}

type ListQuery struct {
	City     string          `form:"city"`
	Category models.Category `form:"category"`
	Limit    int             `form:"limit" binding:"omitempty,min=1,max=1000"`
}

type ScrapeRequest struct {
	Site string `json:"site" binding:"required"`
}

// NewHandler builds the API handler. scraper may be nil when no sites are
// configured.
func NewHandler(store PropertyStore, valuer Valuer, q BatchPusher, tracker *jobs.Tracker, scraper ScrapeStarter, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Handler{
		store:   store,
		valuer:  valuer,
		queue:   q,
		tracker: tracker,
		scraper: scraper,
		logger:  logger,
	}
}

func (h *Handler) CreateValuation(c *gin.Context) {
	var req valuation.Request
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	resp, err := h.valuer.Value(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, "Failed to estimate value")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetNearbyProperties(c *gin.Context) {
	if c.Query("lat") == "" || c.Query("lng") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}
	var q NearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query: " + err.Error()})
		return
	}
	if q.RadiusKm == 0 {
		q.RadiusKm = defaultNearbyRadiusKm
	}
	if q.Limit == 0 {
		q.Limit = defaultLimit
	}
	if q.Category != "" {
		q.Category = models.NormalizeCategory(string(q.Category))
	}

	center := q.OrbPoint()
	properties, err := h.store.Nearest(c.Request.Context(), center, q.RadiusKm, q.Category, q.Limit)
	if err != nil {
		h.respondError(c, err, "Failed to get nearby properties")
		return
	}

	if q.Format == "geojson" {
		c.JSON(http.StatusOK, geometry.FeatureCollection(properties, &center))
		return
	}
	c.JSON(http.StatusOK, properties)
}

func (h *Handler) GetAllProperties(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query: " + err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultLimit
	}

	properties, err := h.store.ListProperties(c.Request.Context(), h.filter(q))
	if err != nil {
		h.respondError(c, err, "Failed to get properties")
		return
	}
	c.JSON(http.StatusOK, properties)
}

func (h *Handler) GetPropertyStats(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query: " + err.Error()})
		return
	}
	q.Limit = 0

	properties, err := h.store.ListProperties(c.Request.Context(), h.filter(q))
	if err != nil {
		h.respondError(c, err, "Failed to get property stats")
		return
	}
	c.JSON(http.StatusOK, models.ComputeStats(properties))
}

// ImportListings queues a JSON array of listings and returns the import job.
func (h *Handler) ImportListings(c *gin.Context) {
	var listings []scraping.Listing
	if err := c.ShouldBindJSON(&listings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if len(listings) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No listings provided"})
		return
	}
	if len(listings) > maxImportListings {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many listings in one import"})
		return
	}

	properties := scraping.ToProperties(listings, h.logger)
	if len(properties) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No valid listings provided"})
		return
	}

	source := c.DefaultQuery("source", "api")
	job := h.tracker.Create(jobs.KindImport, source, len(properties))
	if err := h.queue.Push(queue.Batch{JobID: job.ID, Properties: properties}); err != nil {
		h.tracker.Fail(job.ID, err)
		h.respondError(c, err, "Failed to queue import")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"received": len(listings),
		"queued":   len(properties),
	}).Info("Queued listing import")
	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) StartScrape(c *gin.Context) {
	if h.scraper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scraping is not configured"})
		return
	}
	var req ScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	job, err := h.scraper.StartScrape(c.Request.Context(), req.Site)
	if err != nil {
		h.respondError(c, err, "Failed to start scrape")
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.List())
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.tracker.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to get job")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
		"sites":  config.GetSiteNames(),
	})
}

func (h *Handler) filter(q ListQuery) models.PropertyFilter {
	f := models.PropertyFilter{City: strings.TrimSpace(q.City), Limit: q.Limit}
	if q.Category != "" {
		f.Category = models.NormalizeCategory(string(q.Category))
	}
	return f
}

// respondError maps domain errors onto status codes. Unexpected errors are
// logged and reported with a generic message.
func (h *Handler) respondError(c *gin.Context, err error, message string) {
	var verr *valuation.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, comparables.ErrNoComparables):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, config.ErrSiteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scraping.ErrScrapeInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": message})
	default:
		h.logger.WithError(err).Error(message)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}
