package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"landvalue/config"
	"landvalue/internal/jobs"
)

// SiteRunner is satisfied by *scraping.Manager.
type SiteRunner interface {
	RunSite(ctx context.Context, site config.Site) (jobs.Job, error)
}

// Scheduler scrapes every configured site on a fixed interval
type Scheduler struct {
	runner       SiteRunner
	logger       *logrus.Logger
	interval     time.Duration
	sites        func() []config.Site
	ctx          context.Context
	cancel       context.CancelFunc
	stopChan     chan struct{}
	wg           sync.WaitGroup
	jobMutex     sync.Mutex  // Ensures sequential runs
	isStartupRun atomic.Bool // Tracks whether the startup run is still going
}

// NewScheduler creates a scheduler over the globally configured sites
func NewScheduler(runner SiteRunner, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:   runner,
		logger:   logger,
		interval: interval,
		sites:    config.GetSites,
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
	s.isStartupRun.Store(true)
	return s
}

// Start runs every site once and then again on each tick
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.runScheduler()
}

func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.jobMutex.Lock()
		defer s.jobMutex.Unlock()
		s.logger.Info("Running startup scrape")
		s.runAllSites()
		s.isStartupRun.Store(false)
		s.logger.Info("Startup scrape completed")
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case t := <-ticker.C:
			s.executeScheduledRun(t)
		}
	}
}

func (s *Scheduler) executeScheduledRun(t time.Time) {
	if s.isStartupRun.Load() {
		s.logger.Debug("Skipping scheduled scrape while startup is in progress")
		return
	}
	if !s.jobMutex.TryLock() {
		s.logger.Debug("Skipping scheduled scrape, previous run still in progress")
		return
	}
	defer s.jobMutex.Unlock()

	s.logger.WithField("tick", t.Format(time.RFC3339)).Info("Starting scheduled scrape")
	s.runAllSites()
	s.logger.Info("Completed scheduled scrape")
}

// runAllSites scrapes the configured sites sequentially
func (s *Scheduler) runAllSites() {
	for _, site := range s.sites() {
		if s.ctx.Err() != nil {
			return
		}
		fields := logrus.Fields{"site": site.Name}
		s.logger.WithFields(fields).Info("Starting scrape job")

		job, err := s.runner.RunSite(s.ctx, site)
		fields["job_id"] = job.ID
		if err != nil {
			s.logger.WithError(err).WithFields(fields).Error("Scrape job failed")
			continue
		}
		fields["received"] = job.Received
		s.logger.WithFields(fields).Info("Scrape job queued")
	}
}

// Stop cancels any in-flight scrape and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.cancel()
	close(s.stopChan)
	s.wg.Wait()
}
