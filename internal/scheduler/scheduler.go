// Package scheduler fires backup passes at fixed local wall-clock
// times, once per day per configured time.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sbak/internal/engine"
)

// Job is the work the scheduler triggers. The context is the
// scheduler's run context; a canceled context means shutdown.
type Job func(ctx context.Context)

// Scheduler runs one job daily at each configured "HH:MM" time.
type Scheduler struct {
	times  []string
	job    Job
	logger engine.Logger
}

// New validates the configured times and builds a Scheduler. At least
// one time is required.
func New(times []string, job Job, logger engine.Logger) (*Scheduler, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("no schedule times configured")
	}
	for _, t := range times {
		if _, err := CronSpec(t); err != nil {
			return nil, err
		}
	}
	return &Scheduler{times: times, job: job, logger: logger}, nil
}

// CronSpec converts a "HH:MM" wall-clock time into a five-field cron
// spec firing daily.
func CronSpec(hhmm string) (string, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("schedule time %q is not HH:MM", hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("schedule time %q is not HH:MM", hhmm)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("schedule time %q is not HH:MM", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// guarded wraps the job so only one invocation runs at a time. A fire
// arriving while a pass is still running is skipped and logged, never
// run concurrently: overlapping passes would race the same per-host
// index and current tree.
func (s *Scheduler) guarded(ctx context.Context) func() {
	var busy sync.Mutex
	return func() {
		if !busy.TryLock() {
			s.logger.Warn("previous backup pass still running, skipping this fire")
			return
		}
		defer busy.Unlock()
		s.job(ctx)
	}
}

// Run blocks until ctx is canceled, firing the job at each configured
// time. Every entry shares one guard, so adjacent fire times can
// never run two passes at once. A job still running at shutdown is
// waited for.
func (s *Scheduler) Run(ctx context.Context) error {
	run := s.guarded(ctx)

	c := cron.New()
	for _, t := range s.times {
		spec, err := CronSpec(t)
		if err != nil {
			return err
		}
		if _, err := c.AddFunc(spec, run); err != nil {
			return fmt.Errorf("scheduling %s: %w", t, err)
		}
	}

	c.Start()
	s.logger.Info("scheduler started",
		"times", strings.Join(s.times, ","), "next", s.NextRun(time.Now()).Format(time.RFC3339))

	<-ctx.Done()

	// Stop accepts no new runs; its context drains the running one.
	stopped := c.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// NextRun returns the earliest upcoming fire time across the
// configured times, or the zero time if none parse.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	var next time.Time
	for _, t := range s.times {
		spec, err := CronSpec(t)
		if err != nil {
			continue
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			continue
		}
		if n := sched.Next(now); next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}
