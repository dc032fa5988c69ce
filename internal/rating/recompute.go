package rating

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/game-reviews/internal/domain"
	"github.com/Clark-Hu/game-reviews/internal/logging"
	"github.com/Clark-Hu/game-reviews/internal/metrics"
	"github.com/Clark-Hu/game-reviews/internal/repository"
)

// ErrRunning is returned when a recompute is requested while one is in progress.
var ErrRunning = errors.New("recompute already running")

// Tx is the transaction-scoped view the job needs for one game.
type Tx interface {
	RecordReader
	AggregateWriter
	// LockGame takes the game's row lock; repository.ErrNotFound if it is gone.
	LockGame(ctx context.Context, gameID string) error
	// SetAverageRatingAtRevision writes avg only if the game's reviews have not
	// changed since revision was read.
	SetAverageRatingAtRevision(ctx context.Context, gameID string, avg decimal.NullDecimal, revision int64) (bool, error)
}

// Backend enumerates games and scopes per-game transactions.
type Backend interface {
	ReviewSnapshots(ctx context.Context) ([]domain.GameSnapshot, error)
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Result summarises one recompute run.
type Result struct {
	Updated int `json:"updatedCount"`
	Failed  int `json:"failedCount"`
}

// JobOptions tunes the bulk recompute.
type JobOptions struct {
	// Workers bounds how many games are written concurrently. Defaults to 1.
	Workers int
}

// Job rebuilds every game's average from scratch.
type Job struct {
	backend    Backend
	aggregator *Aggregator
	workers    int
	logger     *zap.Logger
	running    sync.Mutex
}

func NewJob(backend Backend, aggregator *Aggregator, opts JobOptions, logger *zap.Logger) *Job {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Job{
		backend:    backend,
		aggregator: aggregator,
		workers:    workers,
		logger:     logging.OrNop(logger).Named("recompute"),
	}
}

// RecomputeAll loads every game with its reviews in one pass and rewrites
// each game's average in its own transaction. A game that fails is logged and
// counted in Result.Failed without stopping the run. Only a failed enumeration
// aborts, with a *domain.StorageError. When ctx ends no further games are
// started; games already written stay written and ctx.Err() is returned with
// the partial Result.
func (j *Job) RecomputeAll(ctx context.Context) (Result, error) {
	if !j.running.TryLock() {
		return Result{}, ErrRunning
	}
	defer j.running.Unlock()

	start := time.Now()
	defer func() { metrics.RecomputeDuration.Observe(time.Since(start).Seconds()) }()

	snapshots, err := j.backend.ReviewSnapshots(ctx)
	if err != nil {
		return Result{}, &domain.StorageError{Op: "enumerate games", Err: err}
	}

	var (
		mu      sync.Mutex
		result  Result
		skipped int
		g       errgroup.Group
	)
	g.SetLimit(j.workers)

	for _, snap := range snapshots {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			dropped, outcome, err := j.recomputeOne(ctx, snap)

			mu.Lock()
			defer mu.Unlock()
			skipped += dropped
			switch {
			case err == nil:
				result.Updated++
				metrics.RecordRecomputeEntity(outcome)
			case ctx.Err() != nil:
				// Interrupted, not failed.
			default:
				result.Failed++
				metrics.RecordRecomputeEntity("failed")
				j.logger.Warn("recompute game failed", zap.String("game_id", snap.GameID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	fields := []zap.Field{
		zap.Int("games", len(snapshots)),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Int("skipped_records", skipped),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err := ctx.Err(); err != nil {
		j.logger.Warn("recompute interrupted", append(fields, zap.Error(err))...)
		return result, err
	}
	j.logger.Info("recompute finished", fields...)
	return result, nil
}

// recomputeOne writes the snapshot's mean-of-means unless the game's reviews
// moved on since enumeration, in which case the average is rebuilt from the
// current rows under the game lock.
func (j *Job) recomputeOne(ctx context.Context, snap domain.GameSnapshot) (int, string, error) {
	dropped := 0
	for _, avg := range snap.Averages {
		if !avg.Valid {
			dropped++
		}
	}
	if dropped > 0 {
		metrics.RecomputeSkippedRecords.Add(float64(dropped))
		j.logger.Debug("ignoring reviews without a stored average",
			zap.String("game_id", snap.GameID), zap.Int("count", dropped))
	}

	avg := domain.MeanOfMeans(snap.Averages)
	outcome := "updated"
	err := j.backend.InTx(ctx, func(tx Tx) error {
		written, err := tx.SetAverageRatingAtRevision(ctx, snap.GameID, avg, snap.Revision)
		if err != nil {
			return err
		}
		if written {
			return nil
		}
		if err := tx.LockGame(ctx, snap.GameID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		outcome = "refreshed"
		_, err = j.aggregator.Refresh(ctx, tx, tx, snap.GameID)
		return err
	})
	return dropped, outcome, err
}
