package queue

import (
	"errors"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"landvalue/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Batch is a group of properties imported together. JobID is empty for
// imports that are not tracked.
type Batch struct {
	JobID      string
	Properties []*models.Property
}

// Handler processes one batch
type Handler func(Batch) error

// PropertyQueue represents an in-memory queue for property batches
type PropertyQueue struct {
	items    chan Batch
	stopped  chan struct{}
	maxSize  int
	started  bool
	closed   bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []Handler
}

// NewPropertyQueue creates a new property queue with the specified buffer size
func NewPropertyQueue(bufferSize int, logger *logrus.Logger) *PropertyQueue {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &PropertyQueue{
		items:    make(chan Batch, bufferSize),
		stopped:  make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]Handler, 0),
	}
}

// Push adds a batch to the queue without blocking
func (q *PropertyQueue) Push(batch Batch) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- batch:
		q.logger.WithFields(logrus.Fields{
			"batch_size": len(batch.Properties),
			"job_id":     batch.JobID,
		}).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe adds a handler function that will be called for each batch
func (q *PropertyQueue) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start begins processing items in the queue
func (q *PropertyQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.process()
}

func (q *PropertyQueue) process() {
	defer close(q.stopped)
	for batch := range q.items {
		q.processBatch(batch)
	}
}

// processBatch sends the batch to all subscribed handlers in order
func (q *PropertyQueue) processBatch(batch Batch) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).WithField("job_id", batch.JobID).Error("Handler failed to process batch")
		}
	}
}

// Close rejects new pushes and waits for queued batches to be handled
func (q *PropertyQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.items)
	started := q.started
	q.mu.Unlock()

	if started {
		<-q.stopped
	}
	return nil
}

// Len returns the current number of batches in the queue
func (q *PropertyQueue) Len() int {
	return len(q.items)
}

// Cap returns the maximum number of queued batches
func (q *PropertyQueue) Cap() int {
	return q.maxSize
}

// IsClosed returns whether the queue has been closed
func (q *PropertyQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
