package gatekeeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunScheduler is responsible for scheduling periodic runs.
type RunScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(func(ctx context.Context) error)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
	LastCompleted() time.Time
}

// DefaultRunScheduler runs the callback immediately and then once per interval.
// Runs never overlap: the next interval starts after the previous run returns.
type DefaultRunScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	callback func(ctx context.Context) error

	running       atomic.Bool
	lastCompleted atomic.Int64
	done          chan struct{}
	wg            sync.WaitGroup
}

var _ RunScheduler = (*DefaultRunScheduler)(nil)

// NewDefaultRunScheduler creates a new DefaultRunScheduler.
func NewDefaultRunScheduler(interval time.Duration, runOnce bool, logger log.Logger) *DefaultRunScheduler {
	if logger == nil {
		logger = log.New()
	}
	return &DefaultRunScheduler{
		interval: interval,
		runOnce:  runOnce,
		logger:   logger.New("component", "scheduler"),
		done:     make(chan struct{}),
	}
}

// RegisterCallback registers the callback to be called for each run.
func (s *DefaultRunScheduler) RegisterCallback(callback func(ctx context.Context) error) {
	s.callback = callback
}

// LastCompleted returns when the last run finished, or the zero time before the first one.
func (s *DefaultRunScheduler) LastCompleted() time.Time {
	ns := s.lastCompleted.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *DefaultRunScheduler) runCallback(ctx context.Context) error {
	err := s.callback(ctx)
	s.lastCompleted.Store(time.Now().UnixNano())
	return err
}

// Start starts the scheduler. In run-once mode it returns the callback's error;
// in continuous mode only the first run's error is returned.
func (s *DefaultRunScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}
	if !s.runOnce && s.interval <= 0 {
		return errors.New("run interval must be positive in continuous mode")
	}

	s.done = make(chan struct{})
	s.running.Store(true)

	if s.runOnce {
		s.logger.Info("Starting scheduler in run-once mode")
		return s.runCallback(ctx)
	}

	s.logger.Info("Starting scheduler in continuous mode", "interval", s.interval)

	// Run immediately on startup
	if err := s.runCallback(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.interval)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				if !s.running.Load() {
					s.logger.Debug("Scheduler stopped, exiting periodic runner")
					return
				}

				s.logger.Info("Starting periodic run")
				if err := s.runCallback(ctx); err != nil {
					s.logger.Error("Error in periodic run", "error", err)
				}
				timer.Reset(s.interval)

			case <-s.done:
				s.logger.Debug("Done signal received, stopping periodic runner")
				return

			case <-ctx.Done():
				s.logger.Debug("Context canceled, stopping periodic runner")
				s.running.Store(false)
				return
			}
		}
	}()

	return nil
}

// Stop stops the scheduler.
func (s *DefaultRunScheduler) Stop() error {
	// done is closed at most once
	if !s.running.CompareAndSwap(true, false) {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}
	close(s.done)
	return nil
}

// Stopped returns true if the scheduler is stopped.
func (s *DefaultRunScheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
func (s *DefaultRunScheduler) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
