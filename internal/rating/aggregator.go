// Package rating maintains each game's average rating: the mean of its
// reviews' stored averages, rounded to two places, or null with no reviews.
package rating

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Clark-Hu/game-reviews/internal/domain"
	"github.com/Clark-Hu/game-reviews/internal/logging"
	"github.com/Clark-Hu/game-reviews/internal/metrics"
)

// RecordReader loads the reviews of one game.
type RecordReader interface {
	ListByGame(ctx context.Context, gameID string) ([]domain.Review, error)
}

// AggregateWriter persists a game's average rating.
type AggregateWriter interface {
	SetAverageRating(ctx context.Context, gameID string, avg decimal.NullDecimal) error
}

// Aggregator recomputes a game's average from its current reviews.
type Aggregator struct {
	logger *zap.Logger
}

func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{logger: logging.OrNop(logger).Named("aggregator")}
}

// Refresh reads every review of gameID through records and writes the
// mean-of-means through aggregates exactly once. Both must be bound to the
// transaction of the mutation that triggered the refresh. A game with no
// reviews, or no game at all, gets a null average.
func (a *Aggregator) Refresh(ctx context.Context, records RecordReader, aggregates AggregateWriter, gameID string) (decimal.NullDecimal, error) {
	start := time.Now()
	defer func() { metrics.ObserveAggregateRefresh(time.Since(start)) }()

	reviews, err := records.ListByGame(ctx, gameID)
	if err != nil {
		return decimal.NullDecimal{}, &domain.StorageError{Op: "load reviews for aggregate", Err: err}
	}

	avg := domain.MeanOfMeans(domain.ReviewAverages(reviews))
	if err := aggregates.SetAverageRating(ctx, gameID, avg); err != nil {
		return decimal.NullDecimal{}, &domain.StorageError{Op: "write aggregate", Err: err}
	}

	a.logger.Debug("aggregate refreshed",
		zap.String("game_id", gameID),
		zap.Int("reviews", len(reviews)),
		zap.Stringer("average", nullString(avg)))
	return avg, nil
}

type nullString decimal.NullDecimal

func (n nullString) String() string {
	if !n.Valid {
		return "null"
	}
	return n.Decimal.StringFixed(domain.AveragePlaces)
}
