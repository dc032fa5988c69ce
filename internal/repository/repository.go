package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Clark-Hu/game-reviews/internal/store"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a unique constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so every repository can
// run against the pool or inside a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Games   *GamesRepository
	Reviews *ReviewsRepository
	Outbox  *OutboxRepository
}

// New constructs a Repository backed by the store's pool.
func New(st *store.Store) *Repository {
	return NewWithDB(st.Pool())
}

// NewWithDB binds repositories to a pool or a transaction.
func NewWithDB(db DBTX) *Repository {
	return &Repository{
		Games:   &GamesRepository{db: db},
		Reviews: &ReviewsRepository{db: db},
		Outbox:  &OutboxRepository{db: db},
	}
}

// validID reports whether id can name a row. Malformed ids never match
// anything, so callers treat them as missing rather than as driver errors.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
