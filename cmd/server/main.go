package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/Clark-Hu/game-reviews/internal/config"
	"github.com/Clark-Hu/game-reviews/internal/events"
	httpserver "github.com/Clark-Hu/game-reviews/internal/http"
	"github.com/Clark-Hu/game-reviews/internal/logging"
	"github.com/Clark-Hu/game-reviews/internal/rating"
	"github.com/Clark-Hu/game-reviews/internal/review"
	"github.com/Clark-Hu/game-reviews/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("server stopped gracefully")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := store.New(dbCtx, cfg.DBURL, store.OptionsFromConfig(cfg, logger))
	if err != nil {
		return err
	}
	defer st.Close()

	aggregator := rating.NewAggregator(logger)
	reviews := review.NewService(st, aggregator, review.Options{
		OneReviewPerAuthor: cfg.OneReviewPerAuthor,
		PublishEvents:      cfg.EventsEnabled(),
	}, logger)
	job := rating.NewJob(rating.NewPostgresBackend(st), aggregator, rating.JobOptions{Workers: cfg.RecomputeWorkers}, logger)

	root := suture.New("game-reviews", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn(e.String(), zap.Any("event", e.Map()))
		},
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
	root.Add(httpserver.New(cfg, st, reviews, job, logger))

	if cfg.RecomputeInterval > 0 {
		root.Add(rating.NewScheduler(job, cfg.RecomputeInterval, cfg.RecomputeTimeout, logger))
	}

	if cfg.EventsEnabled() {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("game-reviews"), nats.MaxReconnects(-1))
		if err != nil {
			return err
		}
		defer nc.Drain()

		js, err := nc.JetStream()
		if err != nil {
			return err
		}
		if err := events.EnsureStream(js, cfg.NATSStream); err != nil {
			return err
		}
		root.Add(events.NewRelay(st, js, events.RelayOptions{
			BatchSize:    cfg.OutboxBatchSize,
			PollInterval: cfg.OutboxPollInterval,
		}, logger))
	}

	err = root.Serve(ctx)
	if report, rerr := root.UnstoppedServiceReport(); rerr == nil {
		for _, svc := range report {
			logger.Warn("service failed to stop within timeout", zap.String("service", svc.Name))
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
