package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
)

// Func is a scheduled job body. It reports how many records it touched.
type Func func(ctx context.Context) (int, error)

type job struct {
	name     string
	schedule Schedule
	fn       Func
	next     time.Time
	running  atomic.Bool
}

// Scheduler runs named jobs in-process on their schedules. A job never
// overlaps with itself: a tick that finds it still running skips it.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*job
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
	metrics  Metrics
	wg       sync.WaitGroup
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]*job),
		interval: 30 * time.Second,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("scheduler"))
	return s
}

// Register adds a job. Its first run is the schedule's next slot after now.
func (s *Scheduler) Register(name string, schedule Schedule, fn Func) error {
	if name == "" || schedule == nil || fn == nil {
		return ErrInvalidJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, name)
	}
	s.jobs[name] = &job{
		name:     name,
		schedule: schedule,
		fn:       fn,
		next:     schedule.Next(s.now()),
	}
	s.log.Debug("job registered", logger.Job(name), slog.String("schedule", schedule.String()))
	return nil
}

// Jobs returns the registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NextRun reports when the named job is due next.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return j.next, nil
}

// Start checks for due jobs on every tick until ctx is done, then waits for
// in-flight runs to return.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.Jobs()) == 0 {
		return ErrNoJobs
	}

	s.log.InfoContext(ctx, "scheduler started", slog.Duration("check_interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick launches every job whose next run is due. Start calls it on each
// interval; it is exported for callers that drive their own clock.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if j.next.After(now) {
			continue
		}
		j.next = j.schedule.Next(now)
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		if !j.running.CompareAndSwap(false, true) {
			s.log.WarnContext(ctx, "job still running, skipping slot", logger.Job(j.name))
			s.observe(j.name, "skipped", 0)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer j.running.Store(false)
			_ = s.run(ctx, j)
		}()
	}
}

// Wait blocks until all runs launched by Tick have returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// RunNow runs the named job synchronously outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	if !j.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	defer j.running.Store(false)
	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j *job) (err error) {
	start := s.now()
	log := s.log.With(logger.Job(j.name))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrJobPanicked, j.name, r)
		}
		elapsed := s.now().Sub(start)
		if err != nil {
			log.ErrorContext(ctx, "job failed", logger.Error(err), logger.Duration(elapsed))
			s.observe(j.name, "failed", elapsed)
		}
	}()

	n, err := j.fn(ctx)
	if err != nil {
		return err
	}

	elapsed := s.now().Sub(start)
	log.InfoContext(ctx, "job finished", slog.Int("affected", n), logger.Duration(elapsed))
	s.observe(j.name, "ok", elapsed)
	return nil
}

func (s *Scheduler) observe(name, outcome string, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveJob(name, outcome, elapsed)
	}
}
