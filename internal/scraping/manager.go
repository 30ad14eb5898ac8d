package scraping

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"landvalue/config"
	"landvalue/internal/jobs"
	"landvalue/internal/models"
	"landvalue/internal/queue"
)

var ErrScrapeInProgress = errors.New("a scrape is already running")

// BatchPusher is satisfied by *queue.PropertyQueue.
type BatchPusher interface {
	Push(batch queue.Batch) error
}

type Options struct {
	UserAgent string
	Timeout   time.Duration
	Delay     time.Duration
}

// Manager runs site scrapes as tracked jobs and hands the resulting
// properties to the import queue. One scrape runs at a time.
type Manager struct {
	logger   *logrus.Logger
	options  Options
	queue    BatchPusher
	tracker  *jobs.Tracker
	jobMutex sync.Mutex
}

func NewManager(queue BatchPusher, tracker *jobs.Tracker, options Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if options.Timeout == 0 {
		options.Timeout = 30 * time.Second
	}
	return &Manager{
		logger:  logger,
		options: options,
		queue:   queue,
		tracker: tracker,
	}
}

// Scrape fetches every start URL of the site, following next-page links up
// to MaxPages per start URL, and returns the parsed listings. It fails only
// when no start URL could be fetched.
func (m *Manager) Scrape(ctx context.Context, site config.Site) ([]Listing, error) {
	opts := []colly.CollectorOption{colly.UserAgent(m.options.UserAgent)}
	if len(site.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(site.AllowedDomains...))
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(m.options.Timeout)
	if m.options.Delay > 0 {
		if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1, Delay: m.options.Delay}); err != nil {
			return nil, fmt.Errorf("failed to set limit rule: %w", err)
		}
	}

	maxPages := site.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var (
		listings []Listing
		pages    int
		errs     []error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		m.logger.WithFields(logrus.Fields{
			"site": site.Name,
			"url":  r.URL.String(),
		}).Debug("Fetching listings page")
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		pageURL := e.Request.URL.String()
		found := ParseListings(e.DOM, pageURL, site)
		now := time.Now().UTC()
		for i := range found {
			found[i].ScrapedAt = now
		}
		listings = append(listings, found...)
		pages++

		page, _ := e.Request.Ctx.GetAny("page").(int)
		if next := NextPage(e.DOM, pageURL, site); next != "" && page < maxPages {
			e.Request.Ctx.Put("page", page+1)
			if err := e.Request.Visit(next); err != nil && !errors.Is(err, colly.ErrAlreadyVisited) {
				m.logger.WithError(err).WithField("url", next).Warn("Failed to follow next page")
			}
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		status := r.StatusCode
		m.logger.WithError(err).WithFields(logrus.Fields{
			"site":   site.Name,
			"url":    r.Request.URL.String(),
			"status": status,
		}).Warn("Failed to fetch listings page")
		errs = append(errs, fmt.Errorf("request to %s failed with status %d: %w", r.Request.URL, status, err))
	})

	for _, start := range site.StartURLs {
		if err := ctx.Err(); err != nil {
			return listings, err
		}
		reqCtx := colly.NewContext()
		reqCtx.Put("page", 1)
		if err := c.Request("GET", start, nil, reqCtx, nil); err != nil {
			errs = append(errs, fmt.Errorf("failed to visit %s: %w", start, err))
		}
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return listings, err
	}
	if pages == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	m.logger.WithFields(logrus.Fields{
		"site":     site.Name,
		"pages":    pages,
		"listings": len(listings),
		"errors":   len(errs),
	}).Info("Scrape finished")

	return listings, nil
}

// StartScrape looks up a configured site and scrapes it in the background.
// It returns the queued job, or ErrScrapeInProgress when another scrape holds
// the lock.
func (m *Manager) StartScrape(ctx context.Context, siteName string) (jobs.Job, error) {
	site, err := config.GetSiteByName(siteName)
	if err != nil {
		return jobs.Job{}, err
	}
	if !m.jobMutex.TryLock() {
		return jobs.Job{}, ErrScrapeInProgress
	}

	job := m.tracker.Create(jobs.KindScrape, site.Name, 0)
	go func() {
		defer m.jobMutex.Unlock()
		m.run(context.WithoutCancel(ctx), site, job.ID)
	}()
	return job, nil
}

// RunSite scrapes a site synchronously, waiting for any running scrape first.
func (m *Manager) RunSite(ctx context.Context, site config.Site) (jobs.Job, error) {
	m.jobMutex.Lock()
	defer m.jobMutex.Unlock()

	job := m.tracker.Create(jobs.KindScrape, site.Name, 0)
	err := m.run(ctx, site, job.ID)
	snapshot, _ := m.tracker.Get(job.ID)
	return snapshot, err
}

func (m *Manager) run(ctx context.Context, site config.Site, jobID string) error {
	if err := m.tracker.Start(jobID); err != nil {
		return err
	}

	listings, err := m.Scrape(ctx, site)
	if err != nil {
		m.tracker.Fail(jobID, err)
		return err
	}

	properties := ToProperties(listings, m.logger)
	m.tracker.SetReceived(jobID, len(properties))
	if len(properties) == 0 {
		return m.tracker.Complete(jobID, 0)
	}

	if err := m.queue.Push(queue.Batch{JobID: jobID, Properties: properties}); err != nil {
		err = fmt.Errorf("failed to queue %d properties: %w", len(properties), err)
		m.tracker.Fail(jobID, err)
		return err
	}
	return nil
}

// ToProperties normalises listings, logging and skipping incomplete ones.
func ToProperties(listings []Listing, logger *logrus.Logger) []*models.Property {
	properties := make([]*models.Property, 0, len(listings))
	seen := make(map[string]bool, len(listings))
	for _, l := range listings {
		p, err := l.ToProperty()
		if err != nil {
			logger.WithError(err).WithField("url", l.URL).Debug("Skipping listing")
			continue
		}
		if seen[p.URL] {
			continue
		}
		seen[p.URL] = true
		properties = append(properties, p)
	}
	return properties
}
