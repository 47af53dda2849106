package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task runs Fn every Interval. A tick that arrives while the previous run
// is still in flight is skipped.
type Task struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context)

	logger  *zap.Logger
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewTask(name string, interval time.Duration, fn func(ctx context.Context), logger *zap.Logger) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Task{
		Name:     name,
		Interval: interval,
		Fn:       fn,
		logger:   logger.With(zap.String("task", name)),
	}
}

// Run blocks until ctx is cancelled, then waits for the in-flight run.
func (t *Task) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	defer t.wg.Wait()

	t.logger.Info("periodic task started", zap.Duration("interval", t.Interval))
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("periodic task stopping")
			return nil
		case <-ticker.C:
			if !t.start(ctx) {
				t.logger.Debug("previous run still in progress, skipping tick")
			}
		}
	}
}

// RunOnce triggers a run in the background unless one is already active.
func (t *Task) RunOnce(ctx context.Context) bool {
	return t.start(ctx)
}

// Running reports whether a run is currently in flight.
func (t *Task) Running() bool {
	return t.running.Load()
}

// Wait blocks until the in-flight run, if any, returns.
func (t *Task) Wait() {
	t.wg.Wait()
}

func (t *Task) start(ctx context.Context) bool {
	if !t.running.CompareAndSwap(false, true) {
		return false
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("periodic task panicked", zap.Any("panic", r))
			}
		}()
		t.Fn(ctx)
	}()
	return true
}
