package rescan

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Maintainer runs one maintenance pass.
type Maintainer interface {
	Maintain(ctx context.Context) (*Report, error)
}

// Scheduler runs maintenance passes on a fixed interval in the background.
type Scheduler struct {
	runner   Maintainer
	interval time.Duration
}

// NewScheduler creates a Scheduler. A non-positive interval disables it.
func NewScheduler(runner Maintainer, interval time.Duration) *Scheduler {
	return &Scheduler{runner: runner, interval: interval}
}

// Run starts the tick loop. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "rescan.scheduler"))
	if s.interval <= 0 {
		log.Debug("scheduled maintenance disabled")
		return
	}
	log.Info("starting maintenance scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx, log)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, log *zap.Logger) {
	report, err := s.runner.Maintain(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		log.Info("maintenance skipped, another pass is running")
	case err != nil:
		log.Error("scheduled maintenance failed", zap.Error(err))
	default:
		log.Info("scheduled maintenance complete",
			zap.String("run_id", report.RunID),
			zap.String("elapsed", report.Elapsed),
		)
	}
}
