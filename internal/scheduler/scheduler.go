// Package scheduler is the job clock: cron specs fire named jobs on trading
// days and a single worker runs them one at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TradingDayFunc reports whether t falls on a trading day.
type TradingDayFunc func(ctx context.Context, t time.Time) (bool, error)

// Job is one named operation on the clock.
type Job struct {
	Name string
	Spec string // five-field cron expression
	Run  func(ctx context.Context) error
	// Until stops firings at or after this wall-clock time (HH:MM). Empty
	// means no cutoff.
	Until string
}

// Options configures a Scheduler.
type Options struct {
	Location   *time.Location
	JobTimeout time.Duration // zero means no per-job deadline
	QueueSize  int
}

type registered struct {
	job         Job
	untilMinute int // minutes after midnight, -1 when unset
}

// Scheduler fires jobs from cron and serialises their execution. A job
// that is already waiting in the queue is not queued again.
type Scheduler struct {
	cron       *cron.Cron
	loc        *time.Location
	timeout    time.Duration
	tradingDay TradingDayFunc
	fallback   TradingDayFunc
	log        *slog.Logger
	now        func() time.Time

	queue chan string

	mu      sync.Mutex
	jobs    map[string]registered
	pending map[string]bool
}

// New creates a Scheduler. tradingDay is consulted before each run; when it
// fails, fallback decides. Either may be nil, in which case every day
// counts.
func New(tradingDay, fallback TradingDayFunc, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	log := logger.With("component", "scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.Recover(cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelError)))),
		),
		loc:        opts.Location,
		timeout:    opts.JobTimeout,
		tradingDay: tradingDay,
		fallback:   fallback,
		log:        log,
		now:        time.Now,
		queue:      make(chan string, opts.QueueSize),
		jobs:       make(map[string]registered),
		pending:    make(map[string]bool),
	}
}

// Add registers job with the clock.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	r := registered{job: job, untilMinute: -1}
	if job.Until != "" {
		t, err := time.Parse("15:04", job.Until)
		if err != nil {
			return fmt.Errorf("job %s: invalid cutoff %q: want HH:MM", job.Name, job.Until)
		}
		r.untilMinute = t.Hour()*60 + t.Minute()
	}

	s.mu.Lock()
	if _, dup := s.jobs[job.Name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = r
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(job.Spec, func() { s.fire(job.Name) }); err != nil {
		s.mu.Lock()
		delete(s.jobs, job.Name)
		s.mu.Unlock()
		return fmt.Errorf("job %s: invalid spec %q: %w", job.Name, job.Spec, err)
	}
	s.log.Info("job registered", "job", job.Name, "spec", job.Spec, "until", job.Until)
	return nil
}

// fire is the cron callback: it applies the cutoff and queues the job.
func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	r, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	if r.untilMinute >= 0 {
		now := s.now().In(s.loc)
		if now.Hour()*60+now.Minute() >= r.untilMinute {
			s.log.Debug("job past cutoff", "job", name, "until", r.job.Until)
			return
		}
	}
	s.Enqueue(name)
}

// Enqueue queues a registered job for the worker. It returns false when the
// job is unknown, already pending or the queue is full.
func (s *Scheduler) Enqueue(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; !ok {
		s.log.Warn("unknown job", "job", name)
		return false
	}
	if s.pending[name] {
		s.log.Info("job already pending, skipping", "job", name)
		return false
	}
	select {
	case s.queue <- name:
		s.pending[name] = true
		return true
	default:
		s.log.Warn("job queue full, dropping", "job", name)
		return false
	}
}

// Run starts the clock and the worker and blocks until ctx is cancelled.
// The job in progress, if any, sees the cancellation through its context.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.log.Info("next run", "entry", e.ID, "at", e.Next)
	}
	defer func() {
		<-s.cron.Stop().Done()
		s.log.Info("scheduler stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case name := <-s.queue:
			s.mu.Lock()
			delete(s.pending, name)
			r := s.jobs[name]
			s.mu.Unlock()
			s.runJob(ctx, r.job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	log := s.log.With("job", job.Name)

	now := s.now()
	if ok := s.isTradingDay(ctx, now); !ok {
		log.Info("not a trading day, skipping", "date", now.In(s.loc).Format("2006-01-02"))
		return
	}

	jobCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", r)
		}
	}()

	start := time.Now()
	log.Info("job started")
	if err := job.Run(jobCtx); err != nil {
		log.Error("job failed", "error", err, "elapsed", time.Since(start))
		return
	}
	log.Info("job finished", "elapsed", time.Since(start))
}

func (s *Scheduler) isTradingDay(ctx context.Context, t time.Time) bool {
	if s.tradingDay != nil {
		ok, err := s.tradingDay(ctx, t)
		if err == nil {
			return ok
		}
		s.log.Warn("trading day check failed, using fallback calendar", "error", err)
	}
	if s.fallback != nil {
		ok, err := s.fallback(ctx, t)
		if err == nil {
			return ok
		}
		s.log.Warn("fallback calendar failed", "error", err)
	}
	return true
}
