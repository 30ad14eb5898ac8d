package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"landvalue/config"
	"landvalue/internal/api"
	"landvalue/internal/comparables"
	"landvalue/internal/database"
	"landvalue/internal/geocoding"
	"landvalue/internal/jobs"
	"landvalue/internal/processor"
	"landvalue/internal/queue"
	"landvalue/internal/scheduler"
	"landvalue/internal/scraping"
	"landvalue/internal/telegram"
	"landvalue/internal/valuation"
)

const jobRetention = 200

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Server.LogLevel).Warn("Unknown log level, using info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	logger.WithField("backend", cfg.Database.Backend).Info("Opening property store")
	store, closeStore, err := database.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize property store")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeStore(closeCtx); err != nil {
			logger.WithError(err).Error("Failed to close property store")
		}
	}()

	// Initialize geocoder
	geocoder := geocoding.NewGeocoder(logger, geocoding.Options{
		BaseURL:     cfg.Geocoding.BaseURL,
		UserAgent:   cfg.Geocoding.UserAgent,
		CacheDir:    cfg.Geocoding.CacheDir,
		Timeout:     cfg.Geocoding.Timeout,
		MinInterval: cfg.Geocoding.MinInterval,
	})
	defer geocoder.Close()

	// Backfill coordinates for rows stored without them
	if db, ok := store.(*database.Database); ok {
		go func() {
			logger.Info("Starting initial geocoding of properties without coordinates...")
			if err := db.UpdateMissingCoordinates(ctx, geocoder); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Failed to update coordinates")
			}
		}()
	}

	// Valuation
	selectorOptions := comparables.Options{
		MinDesired:   cfg.Selection.MinDesired,
		MaxDesired:   cfg.Selection.MaxDesired,
		RadiusKm:     cfg.Selection.RadiusKm,
		StageTimeout: cfg.Selection.StageTimeout,
	}
	if cfg.Selection.SynthesizeFallback {
		selectorOptions.Placeholder = valuation.PlaceholderObservation
	}
	selector := comparables.NewSelector(store, geocoder, selectorOptions, logger)
	valuationService := valuation.NewService(selector, logger)

	// Import pipeline
	tracker := jobs.NewTracker(jobRetention, logger)
	propertyQueue := queue.NewPropertyQueue(cfg.BatchProcessing.QueueSize, logger)
	alerts := telegram.NewService(store, telegram.Options{
		Enabled:        cfg.Telegram.Enabled,
		BotToken:       cfg.Telegram.BotToken,
		ChatID:         cfg.Telegram.ChatID,
		APIBaseURL:     cfg.Telegram.APIBaseURL,
		UndervaluedPct: cfg.Telegram.UndervaluedPct,
		RadiusKm:       cfg.Selection.RadiusKm,
		MaxComparables: cfg.Selection.MaxDesired,
		Filters:        cfg.Telegram.Filters,
	}, logger)
	batchProcessor := processor.NewBatchProcessor(store, propertyQueue, tracker, geocoder, alerts, processor.Options{
		MaxBatchSize: cfg.BatchProcessing.MaxBatchSize,
		MaxRetries:   cfg.BatchProcessing.MaxRetries,
		RetryDelay:   time.Duration(cfg.BatchProcessing.RetryDelay) * time.Second,
	}, logger)
	batchProcessor.Start()

	// Scraping
	if err := config.LoadSites(cfg.Scraping.SitesFile); err != nil {
		logger.WithError(err).WithField("file", cfg.Scraping.SitesFile).Warn("No scraping sites loaded")
	}
	scraper := scraping.NewManager(propertyQueue, tracker, scraping.Options{
		UserAgent: cfg.Scraping.UserAgent,
		Timeout:   cfg.Scraping.Timeout,
		Delay:     cfg.Scraping.Delay,
	}, logger)

	var sched *scheduler.Scheduler
	if sites := config.GetSiteNames(); len(sites) > 0 {
		logger.WithFields(logrus.Fields{
			"sites":    sites,
			"interval": cfg.Scraping.Interval.String(),
		}).Info("Starting scrape scheduler")
		sched = scheduler.NewScheduler(scraper, cfg.Scraping.Interval, logger)
		sched.Start()
	}

	handler := api.NewHandler(store, valuationService, propertyQueue, tracker, scraper, logger)
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server")
	}
	if sched != nil {
		sched.Stop()
	}
	batchProcessor.Stop()
	logger.Info("Shutdown complete")
}
