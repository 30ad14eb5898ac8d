package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landvalue/config"
	"landvalue/internal/jobs"
)

type fakeRunner struct {
	mu    sync.Mutex
	runs  []string
	fail  map[string]bool
	block chan struct{}
}

func (f *fakeRunner) RunSite(ctx context.Context, site config.Site) (jobs.Job, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return jobs.Job{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, site.Name)
	if f.fail[site.Name] {
		return jobs.Job{ID: site.Name}, errors.New("boom")
	}
	return jobs.Job{ID: site.Name, Received: 1}, nil
}

func (f *fakeRunner) Runs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...)
}

func newTestScheduler(runner SiteRunner, interval time.Duration, sites ...string) *Scheduler {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	s := NewScheduler(runner, interval, logger)
	s.sites = func() []config.Site {
		out := make([]config.Site, len(sites))
		for i, name := range sites {
			out[i] = config.Site{Name: name}
		}
		return out
	}
	return s
}

func TestScheduler_StartupRunCoversAllSites(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"b": true}}
	s := newTestScheduler(runner, time.Hour, "a", "b", "c")
	s.Start()

	require.Eventually(t, func() bool { return len(runner.Runs()) == 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, []string{"a", "b", "c"}, runner.Runs())
	assert.False(t, s.isStartupRun.Load())
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(runner, 20*time.Millisecond, "a")
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return len(runner.Runs()) >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_SkipsTicksDuringStartup(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(runner, time.Hour, "a")

	s.executeScheduledRun(time.Now())
	assert.Empty(t, runner.Runs())

	s.isStartupRun.Store(false)
	s.executeScheduledRun(time.Now())
	assert.Equal(t, []string{"a"}, runner.Runs())
}

func TestScheduler_StopCancelsInFlightRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := newTestScheduler(runner, time.Hour, "a", "b")
	s.Start()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Empty(t, runner.Runs())
}
