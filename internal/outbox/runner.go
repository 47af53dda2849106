package outbox

import (
	"context"
	"time"

	"sentinal-relay/internal/repository"
	"sentinal-relay/internal/scheduler"

	"go.uber.org/zap"
)

// Runner drives the processor and, when retention is positive, prunes SENT
// records older than retention.
type Runner struct {
	publish *scheduler.Task
	prune   *scheduler.Task
}

func NewRunner(processor *Processor, repo repository.OutboxRepository, interval, retention, retentionInterval time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		publish: scheduler.NewTask("outbox-publisher", interval, processor.Tick, logger),
	}
	if retention > 0 {
		r.prune = scheduler.NewTask("outbox-retention", retentionInterval, func(ctx context.Context) {
			n, err := repo.PruneSent(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error("outbox retention failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("pruned sent outbox records", zap.Int64("count", n))
			}
		}, logger)
	}
	return r
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r.prune == nil {
		return r.publish.Run(ctx)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.prune.Run(ctx)
	}()
	err := r.publish.Run(ctx)
	<-done
	return err
}
