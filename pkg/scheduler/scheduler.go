package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/pinboard/pkg/logger"
)

// JobFunc is one run of a periodic job. It must be idempotent: a missed or
// repeated run may only delay work.
type JobFunc func(ctx context.Context) error

// Observer receives the outcome of every run, e.g. for metrics.
type Observer func(job string, duration time.Duration, err error)

type job struct {
	name       string
	schedule   Schedule
	fn         JobFunc
	timeout    time.Duration
	runOnStart bool
}

// Scheduler runs registered jobs, each on its own timer, until the context
// passed to Run is canceled. A slow or failing job never delays another.
type Scheduler struct {
	mu       sync.Mutex
	jobs     []*job
	names    map[string]struct{}
	running  bool
	log      *slog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// JobOption configures a single job.
type JobOption func(*job)

// WithTimeout bounds a single run. Defaults to one minute.
func WithTimeout(d time.Duration) JobOption {
	return func(j *job) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// RunOnStart runs the job once immediately when the scheduler starts.
func RunOnStart() JobOption {
	return func(j *job) { j.runOnStart = true }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		names: make(map[string]struct{}),
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a named job. It must be called before Run.
func (s *Scheduler) Register(name string, schedule Schedule, fn JobFunc, opts ...JobOption) error {
	if name == "" || schedule == nil || fn == nil {
		return ErrInvalidJob
	}

	j := &job{name: name, schedule: schedule, fn: fn, timeout: time.Minute}
	for _, opt := range opts {
		opt(j)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if _, ok := s.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, name)
	}
	s.names[name] = struct{}{}
	s.jobs = append(s.jobs, j)

	s.log.Info("registered periodic job", logger.Job(name), slog.String("schedule", schedule.String()))
	return nil
}

// Run blocks until ctx is canceled. Job errors are logged, never returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(s.jobs) == 0 {
		s.mu.Unlock()
		return ErrNoJobs
	}
	s.running = true
	jobs := append([]*job(nil), s.jobs...)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	err := g.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.Info("scheduler stopped")
	return err
}

// RunNow executes a registered job once, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *job
	for _, j := range s.jobs {
		if j.name == name {
			target = j
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return fmt.Errorf("%w: unknown job %q", ErrInvalidJob, name)
	}
	return s.execute(ctx, target)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	if j.runOnStart {
		_ = s.execute(ctx, j)
	}

	planned := s.now()
	for {
		planned = j.schedule.Next(planned)
		// Skip runs missed while the previous one was executing.
		if now := s.now(); planned.Before(now) {
			planned = j.schedule.Next(now)
		}

		timer := time.NewTimer(time.Until(planned))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		_ = s.execute(ctx, j)
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", j.name, r)
			s.log.Error("periodic job panicked",
				logger.Job(j.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		elapsed := time.Since(started)
		if s.observer != nil {
			s.observer(j.name, elapsed, err)
		}
		if err != nil {
			s.log.Error("periodic job failed", logger.Job(j.name), logger.Duration(elapsed), logger.Error(err))
			return
		}
		s.log.Debug("periodic job finished", logger.Job(j.name), logger.Duration(elapsed))
	}()

	return j.fn(ctx)
}
