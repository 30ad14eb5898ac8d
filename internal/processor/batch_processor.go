package processor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"landvalue/internal/geocoding"
	"landvalue/internal/jobs"
	"landvalue/internal/models"
	"landvalue/internal/queue"
)

// PropertyWriter is satisfied by both property stores.
type PropertyWriter interface {
	UpsertProperties(ctx context.Context, properties []*models.Property) error
}

type AddressGeocoder interface {
	GeocodeAddress(ctx context.Context, address string) (geocoding.Location, error)
}

// Notifier is told about every stored chunk, e.g. to send deal alerts.
type Notifier interface {
	NotifyStored(ctx context.Context, properties []*models.Property)
}

type Options struct {
	MaxBatchSize int
	MaxRetries   int
	RetryDelay   time.Duration
}

// BatchProcessor stores queued import batches and settles their jobs
type BatchProcessor struct {
	store    PropertyWriter
	queue    *queue.PropertyQueue
	tracker  *jobs.Tracker
	geocoder AddressGeocoder
	notifier Notifier
	options  Options
	logger   *logrus.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewBatchProcessor creates a new batch processor instance. geocoder and
// notifier may be nil.
func NewBatchProcessor(store PropertyWriter, q *queue.PropertyQueue, tracker *jobs.Tracker, geocoder AddressGeocoder, notifier Notifier, options Options, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if options.MaxBatchSize <= 0 {
		options.MaxBatchSize = 100
	}
	if options.MaxRetries < 0 {
		options.MaxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		store:    store,
		queue:    q,
		tracker:  tracker,
		geocoder: geocoder,
		notifier: notifier,
		options:  options,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the queue and begins consuming batches
func (p *BatchProcessor) Start() {
	p.queue.Subscribe(p.HandleBatch)
	p.queue.Start()
}

// Stop drains the queue, then cancels anything still retrying
func (p *BatchProcessor) Stop() {
	if err := p.queue.Close(); err != nil {
		p.logger.WithError(err).Warn("Failed to close property queue")
	}
	p.cancel()
}

// HandleBatch geocodes, stores and reports one queued batch. The batch is
// written in chunks of MaxBatchSize; the job fails on the first chunk that
// cannot be stored.
func (p *BatchProcessor) HandleBatch(batch queue.Batch) error {
	log := p.logger.WithFields(logrus.Fields{
		"job_id":     batch.JobID,
		"properties": len(batch.Properties),
	})

	if job, err := p.tracker.Get(batch.JobID); err == nil && job.Status == jobs.StatusQueued {
		if err := p.tracker.Start(batch.JobID); err != nil {
			log.WithError(err).Warn("Failed to mark job running")
		}
	}

	p.geocodeMissing(batch.Properties)

	stored := 0
	for start := 0; start < len(batch.Properties); start += p.options.MaxBatchSize {
		end := min(start+p.options.MaxBatchSize, len(batch.Properties))
		chunk := batch.Properties[start:end]

		if err := p.processChunk(chunk); err != nil {
			log.WithError(err).WithField("stored", stored).Error("Batch processing failed")
			p.tracker.Fail(batch.JobID, err)
			return err
		}
		stored += len(chunk)

		if p.notifier != nil {
			p.notifier.NotifyStored(p.ctx, chunk)
		}
	}

	if err := p.tracker.Complete(batch.JobID, stored); err != nil {
		log.WithError(err).Warn("Failed to mark job completed")
	}
	log.WithField("stored", stored).Info("Successfully processed batch")
	return nil
}

// processChunk upserts one chunk with retry logic
func (p *BatchProcessor) processChunk(chunk []*models.Property) error {
	var err error
	for attempt := 0; attempt <= p.options.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch processing, attempt %d of %d", attempt, p.options.MaxRetries)
			select {
			case <-time.After(p.options.RetryDelay):
			case <-p.ctx.Done():
				return fmt.Errorf("batch processing cancelled: %w", p.ctx.Err())
			}
		}

		err = p.store.UpsertProperties(p.ctx, chunk)
		if err == nil {
			return nil
		}
		p.logger.WithError(err).Warn("Failed to upsert properties")
	}

	return fmt.Errorf("failed to process batch after %d attempts: %w", p.options.MaxRetries+1, err)
}

// geocodeMissing fills in coordinates for properties that arrive with an
// address but no location. Failures are recorded on the property and skipped.
func (p *BatchProcessor) geocodeMissing(properties []*models.Property) {
	if p.geocoder == nil {
		return
	}
	for _, prop := range properties {
		if _, ok := prop.Point(); ok || prop.GeocodingAttempted {
			continue
		}
		address := prop.Location()
		if address == "" {
			continue
		}
		if p.ctx.Err() != nil {
			return
		}

		prop.GeocodingAttempted = true
		loc, err := p.geocoder.GeocodeAddress(p.ctx, address)
		if err != nil {
			p.logger.WithError(err).WithField("address", address).Debug("Failed to geocode property")
			continue
		}
		lat, lng := loc.Lat, loc.Lng
		prop.Latitude = &lat
		prop.Longitude = &lng
		if prop.City == "" {
			prop.City = loc.City
		}
		if prop.Region == "" {
			prop.Region = loc.Region
		}
	}
}
