// Package review implements the review lifecycle: every create, update and
// delete validates and authorizes first, then writes the review and refreshes
// the game's average in a single transaction.
package review

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Clark-Hu/game-reviews/internal/domain"
	"github.com/Clark-Hu/game-reviews/internal/events"
	"github.com/Clark-Hu/game-reviews/internal/logging"
	"github.com/Clark-Hu/game-reviews/internal/metrics"
	"github.com/Clark-Hu/game-reviews/internal/rating"
	"github.com/Clark-Hu/game-reviews/internal/repository"
	"github.com/Clark-Hu/game-reviews/internal/store"
)

// Refresher recomputes a game's average inside the caller's transaction.
// *rating.Aggregator implements it.
type Refresher interface {
	Refresh(ctx context.Context, records rating.RecordReader, aggregates rating.AggregateWriter, gameID string) (decimal.NullDecimal, error)
}

// Options are policy switches for the service.
type Options struct {
	// OneReviewPerAuthor rejects a second review of the same game by the same author.
	OneReviewPerAuthor bool
	// PublishEvents writes an outbox event for every committed mutation.
	PublishEvents bool
	Now           func() time.Time
}

// Service orchestrates review mutations.
type Service struct {
	store      *store.Store
	reader     *repository.Repository
	aggregator Refresher
	opts       Options
	logger     *zap.Logger
}

func NewService(st *store.Store, aggregator Refresher, opts Options, logger *zap.Logger) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:      st,
		reader:     repository.New(st),
		aggregator: aggregator,
		opts:       opts,
		logger:     logging.OrNop(logger).Named("reviews"),
	}
}

// CreateParams is a new review. AuthorID must come from the authenticated caller.
type CreateParams struct {
	GameID   string
	AuthorID string
	Scores   ScoreInput
	Comment  *string
}

// UpdateParams replaces all scores and the comment of a review.
type UpdateParams struct {
	ReviewID string
	AuthorID string
	Scores   ScoreInput
	Comment  *string
}

// Create stores a review of an existing game and refreshes the game's average.
func (s *Service) Create(ctx context.Context, p CreateParams) (created domain.Review, err error) {
	defer func() { metrics.RecordReviewMutation("create", err) }()

	scores, err := validateSubmission(p.Scores, p.Comment)
	if err != nil {
		return domain.Review{}, err
	}
	if p.AuthorID == "" {
		return domain.Review{}, &domain.AuthorizationError{Action: "create"}
	}

	err = s.inTx(ctx, "create review", func(repo *repository.Repository) error {
		if err := lockGame(ctx, repo, p.GameID); err != nil {
			return err
		}
		if s.opts.OneReviewPerAuthor {
			n, err := repo.Reviews.CountByGameAndAuthor(ctx, p.GameID, p.AuthorID)
			if err != nil {
				return err
			}
			if n > 0 {
				return &domain.ValidationError{Fields: []domain.FieldError{{Field: "gameId", Message: "already reviewed by this author"}}}
			}
		}

		review, err := repo.Reviews.Insert(ctx, repository.ReviewCreateParams{
			GameID:   p.GameID,
			AuthorID: p.AuthorID,
			Scores:   scores,
			Average:  scores.Average(),
			Comment:  p.Comment,
		})
		if err != nil {
			return err
		}

		avg, err := s.aggregator.Refresh(ctx, repo.Reviews, repo.Games, p.GameID)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, repo, events.SubjectReviewCreated, review, avg); err != nil {
			return err
		}
		created = review
		return nil
	})
	if err != nil {
		return domain.Review{}, err
	}

	s.logger.Info("review created",
		zap.String("review_id", created.ID),
		zap.String("game_id", created.GameID),
		zap.String("author_id", created.AuthorID))
	return created, nil
}

// Update replaces a review's scores and comment. Only its author may do so.
func (s *Service) Update(ctx context.Context, p UpdateParams) (updated domain.Review, err error) {
	defer func() { metrics.RecordReviewMutation("update", err) }()

	scores, err := validateSubmission(p.Scores, p.Comment)
	if err != nil {
		return domain.Review{}, err
	}

	err = s.inTx(ctx, "update review", func(repo *repository.Repository) error {
		current, err := s.authorize(ctx, repo, "update", p.ReviewID, p.AuthorID)
		if err != nil {
			return err
		}
		if err := lockGame(ctx, repo, current.GameID); err != nil {
			return err
		}

		review, err := repo.Reviews.Update(ctx, p.ReviewID, repository.ReviewUpdateParams{
			Scores:  scores,
			Average: scores.Average(),
			Comment: p.Comment,
		})
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return &domain.NotFoundError{Resource: "review", ID: p.ReviewID}
			}
			return err
		}

		avg, err := s.aggregator.Refresh(ctx, repo.Reviews, repo.Games, current.GameID)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, repo, events.SubjectReviewUpdated, review, avg); err != nil {
			return err
		}
		updated = review
		return nil
	})
	if err != nil {
		return domain.Review{}, err
	}

	s.logger.Info("review updated", zap.String("review_id", updated.ID), zap.String("game_id", updated.GameID))
	return updated, nil
}

// Delete removes a review. Only its author may do so.
func (s *Service) Delete(ctx context.Context, reviewID, authorID string) (err error) {
	defer func() { metrics.RecordReviewMutation("delete", err) }()

	var gameID string
	err = s.inTx(ctx, "delete review", func(repo *repository.Repository) error {
		current, err := s.authorize(ctx, repo, "delete", reviewID, authorID)
		if err != nil {
			return err
		}
		gameID = current.GameID
		if err := lockGame(ctx, repo, gameID); err != nil {
			return err
		}

		if err := repo.Reviews.Delete(ctx, reviewID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return &domain.NotFoundError{Resource: "review", ID: reviewID}
			}
			return err
		}

		avg, err := s.aggregator.Refresh(ctx, repo.Reviews, repo.Games, gameID)
		if err != nil {
			return err
		}
		return s.emit(ctx, repo, events.SubjectReviewDeleted, current, avg)
	})
	if err != nil {
		return err
	}

	s.logger.Info("review deleted", zap.String("review_id", reviewID), zap.String("game_id", gameID))
	return nil
}

// Get returns one review.
func (s *Service) Get(ctx context.Context, reviewID string) (domain.Review, error) {
	review, err := s.reader.Reviews.GetByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Review{}, &domain.NotFoundError{Resource: "review", ID: reviewID}
		}
		return domain.Review{}, &domain.StorageError{Op: "get review", Err: err}
	}
	return review, nil
}

// ListByGame returns a game's reviews, newest first.
func (s *Service) ListByGame(ctx context.Context, gameID string) ([]domain.Review, error) {
	reviews, err := s.reader.Reviews.ListByGame(ctx, gameID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list game reviews", Err: err}
	}
	return reviews, nil
}

// ListByAuthor returns an author's reviews, newest first.
func (s *Service) ListByAuthor(ctx context.Context, authorID string) ([]domain.Review, error) {
	reviews, err := s.reader.Reviews.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list author reviews", Err: err}
	}
	return reviews, nil
}

// authorize loads the review and checks that authorID wrote it.
func (s *Service) authorize(ctx context.Context, repo *repository.Repository, action, reviewID, authorID string) (domain.Review, error) {
	current, err := repo.Reviews.GetByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Review{}, &domain.NotFoundError{Resource: "review", ID: reviewID}
		}
		return domain.Review{}, err
	}
	if authorID == "" || current.AuthorID != authorID {
		s.logger.Warn("review mutation denied",
			zap.String("action", action),
			zap.String("review_id", reviewID),
			zap.String("author_id", authorID))
		return domain.Review{}, &domain.AuthorizationError{Action: action, ReviewID: reviewID}
	}
	return current, nil
}

func (s *Service) emit(ctx context.Context, repo *repository.Repository, subject string, review domain.Review, avg decimal.NullDecimal) error {
	if !s.opts.PublishEvents {
		return nil
	}
	msg, err := events.NewReviewMessage(subject, review, avg, s.opts.Now())
	if err != nil {
		return err
	}
	return repo.Outbox.Insert(ctx, msg)
}

func (s *Service) inTx(ctx context.Context, op string, fn func(repo *repository.Repository) error) error {
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(repository.NewWithDB(tx))
	})
	return domain.AsStorage(op, err)
}

// lockGame serializes all review mutations of one game on its row.
func lockGame(ctx context.Context, repo *repository.Repository, gameID string) error {
	if _, err := repo.Games.LockForUpdate(ctx, gameID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &domain.NotFoundError{Resource: "game", ID: gameID}
		}
		return err
	}
	return nil
}
