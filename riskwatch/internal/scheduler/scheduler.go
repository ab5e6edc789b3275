// Package scheduler fires the scan pipeline on a cadence chosen by the
// operator configuration.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Schedule is a named cadence. Unknown names behave as Daily.
type Schedule string

const (
	Hourly      Schedule = "hourly"
	Every6Hours Schedule = "every6hours"
	Daily       Schedule = "daily"
	Weekly      Schedule = "weekly"
)

// Schedules lists the accepted selectors.
var Schedules = []Schedule{Hourly, Every6Hours, Daily, Weekly}

// Parse maps a configuration selector to its schedule.
func Parse(selector string) Schedule {
	switch s := Schedule(selector); s {
	case Hourly, Every6Hours, Daily, Weekly:
		return s
	}
	return Daily
}

// Valid reports whether selector names a known schedule.
func Valid(selector string) bool {
	switch Schedule(selector) {
	case Hourly, Every6Hours, Daily, Weekly:
		return true
	}
	return false
}

// Cron returns the equivalent five-field cron expression.
func (s Schedule) Cron() string {
	switch s {
	case Hourly:
		return "0 * * * *"
	case Every6Hours:
		return "0 */6 * * *"
	case Weekly:
		return "0 9 * * 1"
	}
	return "0 9 * * *"
}

// Next returns the first firing strictly after t, in t's location.
func (s Schedule) Next(t time.Time) time.Time {
	loc := t.Location()
	y, m, d := t.Date()
	h := t.Hour()

	switch s {
	case Hourly:
		return time.Date(y, m, d, h+1, 0, 0, 0, loc)
	case Every6Hours:
		return time.Date(y, m, d, (h/6+1)*6, 0, 0, 0, loc)
	case Weekly:
		days := (int(time.Monday) - int(t.Weekday()) + 7) % 7
		next := time.Date(y, m, d+days, 9, 0, 0, 0, loc)
		if !next.After(t) {
			next = time.Date(y, m, d+days+7, 9, 0, 0, 0, loc)
		}
		return next
	}
	next := time.Date(y, m, d, 9, 0, 0, 0, loc)
	if !next.After(t) {
		next = time.Date(y, m, d+1, 9, 0, 0, 0, loc)
	}
	return next
}

// RunFunc is invoked at every firing. Its error is logged only.
type RunFunc func(ctx context.Context) error

// Options configures a Scheduler.
type Options struct {
	// Location anchors the wall-clock cadences. Default: time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

// Scheduler owns a single trigger loop. Reconfigure swaps its cadence in
// place, so there is never more than one pending firing. A stopped
// scheduler is re-armed by the next Start or Reconfigure.
type Scheduler struct {
	run    RunFunc
	loc    *time.Location
	logger *slog.Logger

	mu       sync.Mutex
	schedule Schedule
	next     time.Time
	parent   context.Context
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	reset    chan struct{}

	now  func() time.Time
	wait func(d time.Duration) (<-chan time.Time, func() bool)
}

// New creates a stopped scheduler with the Daily cadence.
func New(run RunFunc, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		run:      run,
		loc:      opts.Location,
		logger:   opts.Logger,
		schedule: Daily,
		now:      time.Now,
		wait: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
}

// Start arms the trigger with the given selector. Loops launched from now
// on, including re-arms after Stop, run under ctx. Calling Start on a
// running scheduler only changes its cadence.
func (s *Scheduler) Start(ctx context.Context, selector string) {
	s.mu.Lock()
	s.parent = ctx
	s.mu.Unlock()
	s.Reconfigure(selector)
}

// Reconfigure replaces the cadence. The pending firing is discarded and
// the next one is computed from the new schedule. When no loop is running
// one is launched, under the Start context or context.Background.
func (s *Scheduler) Reconfigure(selector string) Schedule {
	sched := Parse(selector)
	if sched != Schedule(selector) {
		s.logger.Warn("scheduler: unknown interval, using daily", "interval", selector)
	}
	s.mu.Lock()
	s.schedule = sched
	if s.running {
		select {
		case s.reset <- struct{}{}:
		default:
		}
	} else {
		s.launchLocked()
	}
	s.mu.Unlock()

	s.logger.Info("scheduler: reconfigured", "interval", string(sched), "cron", sched.Cron())
	return sched
}

func (s *Scheduler) launchLocked() {
	parent := s.parent
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.reset = make(chan struct{}, 1)
	s.running = true
	go s.loop(ctx, s.done, s.reset)
}

// Stop cancels the trigger and waits for the loop to exit. A run in
// flight sees its context cancelled. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Interval returns the current schedule.
func (s *Scheduler) Interval() Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// NextRun returns the pending firing time, zero when none is armed.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Active reports the number of armed triggers: 1 while running, 0 otherwise.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return 1
	}
	return 0
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}, reset <-chan struct{}) {
	defer close(done)
	defer func() {
		// A newer loop may already own the scheduler state.
		s.mu.Lock()
		if s.done == done {
			s.next = time.Time{}
			s.running = false
		}
		s.mu.Unlock()
	}()

	for {
		now := s.now().In(s.loc)
		s.mu.Lock()
		sched := s.schedule
		next := sched.Next(now)
		s.next = next
		s.mu.Unlock()

		fire, stop := s.wait(next.Sub(now))
		select {
		case <-ctx.Done():
			stop()
			return
		case <-reset:
			stop()
			continue
		case <-fire:
		}

		start := time.Now()
		s.logger.Info("scheduler: firing", "interval", string(sched))
		if err := s.run(ctx); err != nil {
			s.logger.Error("scheduler: scheduled run failed", "interval", string(sched), "error", err)
		} else {
			s.logger.Info("scheduler: run done", "interval", string(sched), "duration", time.Since(start))
		}
	}
}
