package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/Clark-Hu/game-reviews/internal/logging"
	"github.com/Clark-Hu/game-reviews/internal/metrics"
	"github.com/Clark-Hu/game-reviews/internal/repository"
	"github.com/Clark-Hu/game-reviews/internal/store"
)

// Publisher is the subset of nats.JetStreamContext used by the relay.
type Publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// RelayOptions tunes polling and the publish circuit breaker.
type RelayOptions struct {
	BatchSize        int
	PollInterval     time.Duration
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// Relay drains the review outbox into JetStream. It implements suture.Service.
type Relay struct {
	store     *store.Store
	js        Publisher
	breaker   *gobreaker.CircuitBreaker[*nats.PubAck]
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
}

func NewRelay(st *store.Store, js Publisher, opts RelayOptions, logger *zap.Logger) *Relay {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	logger = logging.OrNop(logger).Named("outbox")

	r := &Relay{
		store:     st,
		js:        js,
		batchSize: opts.BatchSize,
		interval:  opts.PollInterval,
		logger:    logger,
	}
	r.breaker = gobreaker.NewCircuitBreaker[*nats.PubAck](gobreaker.Settings{
		Name:        "outbox-publish",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.OutboxBreakerState.Set(float64(to))
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	return r
}

// EnsureStream creates the review stream, or binds its subjects if it exists.
func EnsureStream(js nats.JetStreamContext, name string) error {
	info, err := js.StreamInfo(name)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == StreamSubjects {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = append(cfg.Subjects, StreamSubjects)
		_, err = js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       name,
		Subjects:   []string{StreamSubjects},
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	return err
}

// Serve polls the outbox until ctx is done.
func (r *Relay) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.FlushOnce(ctx); err != nil {
				r.logger.Warn("outbox flush failed", zap.Error(err))
			}
		}
	}
}

// FlushOnce publishes one batch of pending events and returns how many were
// delivered. Events published before a failure are still marked delivered;
// the rest stay pending for the next flush. JetStream de-duplicates on the
// event id if a marked batch is ever replayed.
func (r *Relay) FlushOnce(ctx context.Context) (int, error) {
	var (
		published  int
		publishErr error
	)
	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		outbox := repository.NewWithDB(tx).Outbox
		msgs, err := outbox.ClaimPending(ctx, r.batchSize)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(msgs))
		for _, msg := range msgs {
			_, err := r.breaker.Execute(func() (*nats.PubAck, error) {
				return r.js.Publish(msg.Subject, msg.Payload, nats.MsgId(msg.ID), nats.Context(ctx))
			})
			if err != nil {
				metrics.OutboxPublishFailures.Inc()
				publishErr = fmt.Errorf("publish %s %s: %w", msg.Subject, msg.ID, err)
				break
			}
			metrics.OutboxPublished.Inc()
			ids = append(ids, msg.ID)
		}
		published = len(ids)
		return outbox.MarkPublished(ctx, ids)
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		r.logger.Debug("outbox flushed", zap.Int("published", published))
	}
	return published, publishErr
}

func (r *Relay) String() string { return "outbox-relay" }
