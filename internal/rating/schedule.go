package rating

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/game-reviews/internal/logging"
)

// Scheduler runs the job on a fixed interval. It implements suture.Service.
type Scheduler struct {
	job      *Job
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewScheduler(job *Job, interval, timeout time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{job: job, interval: interval, timeout: timeout, logger: logging.OrNop(logger).Named("scheduler")}
}

// Serve blocks until ctx is done, running one recompute per tick.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := s.job.RecomputeAll(runCtx)
	switch {
	case errors.Is(err, ErrRunning):
		s.logger.Info("skipping tick, recompute already running")
	case err != nil:
		s.logger.Error("scheduled recompute failed", zap.Error(err), zap.Int("updated", res.Updated), zap.Int("failed", res.Failed))
	}
}

func (s *Scheduler) String() string { return "recompute-scheduler" }
