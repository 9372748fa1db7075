// Package scheduler runs the process-wide periodic monitoring task.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-price-watch/models"
	"github.com/aluiziolira/go-price-watch/store"
	"github.com/robfig/cron/v3"
)

// ErrTickInProgress is returned when a tick is requested while another one
// is still running.
var ErrTickInProgress = errors.New("tick already in progress")

// TickFunc performs one monitoring pass.
type TickFunc func(ctx context.Context) (*models.TickResult, error)

// PeriodForFrequency maps a checks-per-day preference to a tick period.
// Non-positive values fall back to the default frequency.
func PeriodForFrequency(checksPerDay int) time.Duration {
	if checksPerDay <= 0 {
		checksPerDay = store.DefaultChecksPerDay
	}
	return 24 * time.Hour / time.Duration(checksPerDay)
}

// Scheduler owns a single cron entry firing TickFunc every period. Ticks
// never overlap: a run that fires while the previous one is still going is
// skipped.
type Scheduler struct {
	cron   *cron.Cron
	tick   TickFunc
	logger *slog.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	period  time.Duration
	started bool

	running atomic.Bool
	// ctx is replaced on every Start and cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	// OnResult, when set, receives every completed scheduled tick.
	OnResult func(*models.TickResult)
}

// New creates a stopped scheduler.
func New(tick TickFunc, period time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if tick == nil {
		return nil, fmt.Errorf("tick function is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		tick:   tick,
		logger: logger,
	}
	if err := s.SetPeriod(period); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins firing ticks. Calling Start twice is a no-op; Start after
// Stop resumes with a fresh tick context.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Duration("period", s.period))
}

// Stop cancels the running tick context and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-s.cron.Stop().Done()
	}
	s.logger.Info("scheduler stopped")
}

// SetPeriod replaces the scheduled entry with one firing every period.
func (s *Scheduler) SetPeriod(period time.Duration) error {
	if period < time.Second {
		return fmt.Errorf("period must be at least 1s, got %s", period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = s.cron.Schedule(cron.Every(period), cron.FuncJob(s.run))
	s.period = period
	s.logger.Debug("scheduler period set", slog.Duration("period", period))
	return nil
}

// Period reports the current tick period.
func (s *Scheduler) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// Next reports when the next tick fires. It is zero while stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron.Entry(s.entry).Next
}

// Running reports whether a tick is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Trigger runs one tick immediately unless one is already in progress.
func (s *Scheduler) Trigger(ctx context.Context) (*models.TickResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer s.running.Store(false)
	return s.tick(ctx)
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	result, err := s.Trigger(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		s.logger.Warn("skipping tick, previous one still running")
		return
	case err != nil:
		s.logger.Error("tick failed", slog.Any("error", err))
	}
	if result == nil {
		return
	}
	s.logger.Info("tick complete",
		slog.Int("checked", result.Checked),
		slog.Int("changed", result.Changed),
		slog.Int("errors", result.ErrorCount),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)
	if s.OnResult != nil {
		s.OnResult(result)
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
