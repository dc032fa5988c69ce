// Command recompute rewrites every game's stored average from its reviews.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/game-reviews/internal/config"
	"github.com/Clark-Hu/game-reviews/internal/logging"
	"github.com/Clark-Hu/game-reviews/internal/rating"
	"github.com/Clark-Hu/game-reviews/internal/store"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config error: %v", err)
		return 1
	}

	timeout := flag.Duration("timeout", cfg.RecomputeTimeout, "stop starting new games after this long")
	workers := flag.Int("workers", cfg.RecomputeWorkers, "games recomputed in parallel")
	flag.Parse()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Printf("init logger: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	return run(ctx, cfg, *workers, logger)
}

func run(ctx context.Context, cfg config.Config, workers int, logger *zap.Logger) int {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := store.New(dbCtx, cfg.DBURL, store.OptionsFromConfig(cfg, logger))
	if err != nil {
		logger.Error("connect database", zap.Error(err))
		return 1
	}
	defer st.Close()

	job := rating.NewJob(rating.NewPostgresBackend(st), rating.NewAggregator(logger), rating.JobOptions{Workers: workers}, logger)
	res, err := job.RecomputeAll(ctx)
	fields := []zap.Field{zap.Int("updated", res.Updated), zap.Int("failed", res.Failed)}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		logger.Warn("recompute interrupted", append(fields, zap.Error(err))...)
		return 2
	case err != nil:
		logger.Error("recompute failed", append(fields, zap.Error(err))...)
		return 1
	case res.Failed > 0:
		logger.Warn("recompute finished with failures", fields...)
		return 1
	}
	logger.Info("recompute finished", fields...)
	return 0
}
