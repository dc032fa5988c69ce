package rating

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/game-reviews/internal/domain"
	"github.com/Clark-Hu/game-reviews/internal/repository"
	"github.com/Clark-Hu/game-reviews/internal/store"
)

// PostgresBackend runs the job against the store.
type PostgresBackend struct {
	store *store.Store
}

func NewPostgresBackend(st *store.Store) *PostgresBackend {
	return &PostgresBackend{store: st}
}

func (b *PostgresBackend) ReviewSnapshots(ctx context.Context) ([]domain.GameSnapshot, error) {
	return repository.New(b.store).Games.ReviewSnapshots(ctx)
}

func (b *PostgresBackend) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return b.store.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(repoTx{repo: repository.NewWithDB(tx)})
	})
}

type repoTx struct {
	repo *repository.Repository
}

func (t repoTx) ListByGame(ctx context.Context, gameID string) ([]domain.Review, error) {
	return t.repo.Reviews.ListByGame(ctx, gameID)
}

func (t repoTx) SetAverageRating(ctx context.Context, gameID string, avg decimal.NullDecimal) error {
	return t.repo.Games.SetAverageRating(ctx, gameID, avg)
}

func (t repoTx) LockGame(ctx context.Context, gameID string) error {
	_, err := t.repo.Games.LockForUpdate(ctx, gameID)
	return err
}

func (t repoTx) SetAverageRatingAtRevision(ctx context.Context, gameID string, avg decimal.NullDecimal, revision int64) (bool, error) {
	return t.repo.Games.SetAverageRatingAtRevision(ctx, gameID, avg, revision)
}
