// Package scheduler runs the periodic conversation sweeps.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"whatsapp-crm/internal/logger"

	"github.com/robfig/cron/v3"
)

// EveryMinute is the schedule of every sweep.
const EveryMinute = "* * * * *"

// Job is one sweep. now is the tick time in UTC.
type Job interface {
	Sweep(ctx context.Context, now time.Time)
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, now time.Time)

func (f JobFunc) Sweep(ctx context.Context, now time.Time) {
	f(ctx, now)
}

// Scheduler provides cron-based sweeps. Overlapping ticks are allowed; jobs
// guard their own writes.
type Scheduler struct {
	cron *cron.Cron
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cronLogger{})))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: c, now: time.Now, ctx: ctx, cancel: cancel}
}

// WithClock overrides the clock that stamps each tick.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// AddJob schedules job under name using the 5-field cron expression expr.
func (s *Scheduler) AddJob(expr, name string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() { s.run(name, job) })
	return err
}

// RunAfter runs job once after delay unless the scheduler stops first.
func (s *Scheduler) RunAfter(delay time.Duration, name string, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
		case <-t.C:
			s.run(name, job)
		}
	}()
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

func (s *Scheduler) run(name string, job Job) {
	ctx := logger.WithLogFields(s.ctx, logger.LogFields{Component: name})
	start := time.Now()
	job.Sweep(ctx, s.now().UTC())
	slog.DebugContext(ctx, "sweep finished", "duration", time.Since(start))
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
