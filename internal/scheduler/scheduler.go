// Package scheduler runs the periodic sweep and retention jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	alertapp "swapstation-ops/internal/alerts/application"
)

const defaultJobTimeout = 5 * time.Minute

// Func is one job execution.
type Func func(ctx context.Context) error

// Scheduler wraps a seconds-precision cron with per-job timeouts and logging.
type Scheduler struct {
	cron       *cron.Cron
	log        logrus.FieldLogger
	jobTimeout time.Duration

	mu      sync.Mutex
	running bool
	jobs    map[string]cron.EntryID
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Option configures a scheduler.
type Option func(*Scheduler)

// WithJobTimeout bounds each job run.
func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

// New constructs a scheduler in the named timezone. Overlapping runs of the
// same job are skipped and panics are recovered.
func New(timezone string, log logrus.FieldLogger, opts ...Option) (*Scheduler, error) {
	loc := time.UTC
	if timezone != "" {
		tz, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler: timezone %q: %w", timezone, err)
		}
		loc = tz
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "scheduler")
	cronLog := cron.VerbosePrintfLogger(log)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(
				cron.SkipIfStillRunning(cronLog),
				cron.Recover(cronLog),
			),
		),
		log:        log,
		jobTimeout: defaultJobTimeout,
		jobs:       make(map[string]cron.EntryID),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Add registers a named job on a six-field cron spec.
func (s *Scheduler) Add(name, spec string, run Func) error {
	if name == "" || run == nil {
		return errors.New("scheduler: job name and func required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, run) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q spec %q: %w", name, spec, err)
	}
	s.jobs[name] = id
	return nil
}

// Next returns the next run time of a job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins running jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler: already running")
	}
	s.cron.Start()
	s.running = true
	s.log.WithField("jobs", len(s.jobs)).Info("scheduler started")
	return nil
}

// Stop cancels in-flight jobs and waits for them until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: stop: %w", ctx.Err())
	}
}

func (s *Scheduler) run(name string, job Func) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.jobTimeout)
	defer cancel()
	start := time.Now()
	entry := s.log.WithField("job", name)
	if err := job(ctx); err != nil {
		entry.WithError(err).WithField("duration", time.Since(start)).Error("scheduled job failed")
		return
	}
	entry.WithField("duration", time.Since(start)).Debug("scheduled job finished")
}

// Sweeper runs one rule sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (*alertapp.SweepSummary, error)
}

// SweepJob evaluates active stations.
func SweepJob(sweeper Sweeper, log logrus.FieldLogger) Func {
	return func(ctx context.Context) error {
		summary, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		if log != nil && summary.AlertsCreated > 0 {
			log.WithFields(logrus.Fields{
				"stations": summary.StationsProcessed,
				"created":  summary.AlertsCreated,
				"errors":   len(summary.Errors),
			}).Info("sweep raised alerts")
		}
		return nil
	}
}

// Purger deletes rows older than a cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention pairs a store with how long its rows are kept.
type Retention struct {
	Name   string
	Store  Purger
	MaxAge time.Duration
}

// RetentionJob purges every store. All stores are attempted; failures are joined.
func RetentionJob(now func() time.Time, log logrus.FieldLogger, targets ...Retention) Func {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		var errs []error
		for _, target := range targets {
			if target.Store == nil || target.MaxAge <= 0 {
				continue
			}
			cutoff := now().UTC().Add(-target.MaxAge)
			n, err := target.Store.PurgeBefore(ctx, cutoff)
			if err != nil {
				errs = append(errs, fmt.Errorf("purge %s: %w", target.Name, err))
				continue
			}
			if log != nil {
				log.WithFields(logrus.Fields{"store": target.Name, "deleted": n, "cutoff": cutoff}).Info("retention purge")
			}
		}
		return errors.Join(errs...)
	}
}
