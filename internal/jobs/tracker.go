package jobs

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Kind string

const (
	KindImport Kind = "import"
	KindScrape Kind = "scrape"
)

// transitions lists the allowed next states. A queued job may fail without
// ever running when its work cannot be scheduled.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// Job is a snapshot of an asynchronous import or scrape.
type Job struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Source     string     `json:"source"`
	Status     Status     `json:"status"`
	Received   int        `json:"received"`
	Stored     int        `json:"stored"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Tracker is the keyed store of job states. Finished jobs beyond the
// retention limit are evicted oldest first.
type Tracker struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	retain  int
	logger  *logrus.Logger
	now     func() time.Time
	counter uint64
	seq     map[string]uint64
}

func NewTracker(retain int, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if retain <= 0 {
		retain = 500
	}
	return &Tracker{
		jobs:   make(map[string]*Job),
		seq:    make(map[string]uint64),
		retain: retain,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new queued job and returns its snapshot.
func (t *Tracker) Create(kind Kind, source string, received int) Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Source:    source,
		Status:    StatusQueued,
		Received:  received,
		CreatedAt: t.now(),
	}
	t.counter++
	t.jobs[job.ID] = job
	t.seq[job.ID] = t.counter
	t.evict()

	t.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"kind":   kind,
		"source": source,
	}).Info("Job queued")

	return *job
}

func (t *Tracker) Start(id string) error {
	return t.transition(id, StatusRunning, func(j *Job) {
		now := t.now()
		j.StartedAt = &now
	})
}

// SetReceived records how many listings a running job is handling.
func (t *Tracker) SetReceived(id string, received int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.Finished() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}
	job.Received = received
	return nil
}

func (t *Tracker) Complete(id string, stored int) error {
	return t.transition(id, StatusCompleted, func(j *Job) {
		now := t.now()
		j.Stored = stored
		j.FinishedAt = &now
	})
}

func (t *Tracker) Fail(id string, cause error) error {
	return t.transition(id, StatusFailed, func(j *Job) {
		now := t.now()
		if cause != nil {
			j.Error = cause.Error()
		}
		j.FinishedAt = &now
	})
}

func (t *Tracker) Get(id string) (Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return *job, nil
}

// List returns all retained jobs, newest first.
func (t *Tracker) List() []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return t.seq[out[i].ID] > t.seq[out[j].ID]
	})
	return out
}

// Active reports whether any job of kind is queued or running.
func (t *Tracker) Active(kind Kind) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, job := range t.jobs {
		if job.Kind == kind && !job.Status.Finished() {
			return true
		}
	}
	return false
}

func (t *Tracker) transition(id string, to Status, apply func(*Job)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !allowed(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}

	from := job.Status
	job.Status = to
	apply(job)
	if to.Finished() {
		t.evict()
	}

	entry := t.logger.WithFields(logrus.Fields{
		"job_id": id,
		"kind":   job.Kind,
		"from":   from,
		"to":     to,
	})
	if to == StatusFailed {
		entry.WithField("error", job.Error).Warn("Job failed")
	} else {
		entry.Info("Job state changed")
	}
	return nil
}

func allowed(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// evict drops the oldest finished jobs once more than retain are held.
// Callers hold t.mu.
func (t *Tracker) evict() {
	if len(t.jobs) <= t.retain {
		return
	}
	finished := make([]string, 0)
	for id, job := range t.jobs {
		if job.Status.Finished() {
			finished = append(finished, id)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return t.seq[finished[i]] < t.seq[finished[j]]
	})
	for _, id := range finished {
		if len(t.jobs) <= t.retain {
			break
		}
		delete(t.jobs, id)
		delete(t.seq, id)
	}
}
