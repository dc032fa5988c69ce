package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/game-reviews/internal/domain"
)

// GamesRepository provides persistence helpers for games and their stored
// average rating.
type GamesRepository struct {
	db DBTX
}

const gameColumns = `
    id,
    name,
    release_date,
    genres,
    average_rating,
    reviews_revision,
    created_at,
    updated_at
`

// GameCreateParams bundles the fields required to create a game.
type GameCreateParams struct {
	Name        string
	ReleaseDate time.Time
	Genres      []string
}

// GameListFilters encapsulates search and pagination options.
type GameListFilters struct {
	Query  *string
	Genre  *string
	Limit  int
	Cursor *GameCursor
}

// GameCursor allows stable pagination by created_at/id.
type GameCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// GameListResult returns the paginated payload.
type GameListResult struct {
	Items      []domain.Game
	NextCursor *string
}

// Create inserts a new game. A duplicate name yields ErrConflict.
func (r *GamesRepository) Create(ctx context.Context, params GameCreateParams) (domain.Game, error) {
	genres := params.Genres
	if genres == nil {
		genres = []string{}
	}
	query := fmt.Sprintf(`
        INSERT INTO games (name, release_date, genres)
        VALUES ($1,$2,$3)
        RETURNING %s
    `, gameColumns)

	game, err := scanGame(r.db.QueryRow(ctx, query, params.Name, params.ReleaseDate, genres))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Game{}, ErrConflict
		}
		return domain.Game{}, fmt.Errorf("insert game: %w", err)
	}
	return game, nil
}

// GetByID fetches a game by its identifier.
func (r *GamesRepository) GetByID(ctx context.Context, id string) (domain.Game, error) {
	if !validID(id) {
		return domain.Game{}, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM games WHERE id = $1`, gameColumns)
	game, err := scanGame(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Game{}, notFound(err)
	}
	return game, nil
}

// Exists reports whether a game with id is present.
func (r *GamesRepository) Exists(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("game exists: %w", err)
	}
	return exists, nil
}

// LockForUpdate takes the game's row lock for the rest of the transaction and
// returns its current reviews revision. Every review mutation takes this lock
// before touching review rows.
func (r *GamesRepository) LockForUpdate(ctx context.Context, id string) (int64, error) {
	if !validID(id) {
		return 0, ErrNotFound
	}
	var revision int64
	err := r.db.QueryRow(ctx, `SELECT reviews_revision FROM games WHERE id = $1 FOR NO KEY UPDATE`, id).Scan(&revision)
	if err != nil {
		return 0, notFound(err)
	}
	return revision, nil
}

// SetAverageRating stores the game's aggregate and bumps its reviews
// revision. A missing game is not an error.
func (r *GamesRepository) SetAverageRating(ctx context.Context, id string, avg decimal.NullDecimal) error {
	if !validID(id) {
		return nil
	}
	const query = `
        UPDATE games
        SET average_rating = $2,
            reviews_revision = reviews_revision + 1,
            updated_at = now()
        WHERE id = $1
    `
	if _, err := r.db.Exec(ctx, query, id, avg); err != nil {
		return fmt.Errorf("set average rating: %w", err)
	}
	return nil
}

// SetAverageRatingAtRevision stores avg only if the game's reviews revision
// still equals revision. It reports whether the row was written.
func (r *GamesRepository) SetAverageRatingAtRevision(ctx context.Context, id string, avg decimal.NullDecimal, revision int64) (bool, error) {
	const query = `
        UPDATE games
        SET average_rating = $2,
            updated_at = now()
        WHERE id = $1 AND reviews_revision = $3
    `
	tag, err := r.db.Exec(ctx, query, id, avg, revision)
	if err != nil {
		return false, fmt.Errorf("set average rating at revision: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReviewSnapshots loads every game with the stored averages of its reviews in
// a single query. Games without reviews carry an empty Averages slice.
func (r *GamesRepository) ReviewSnapshots(ctx context.Context) ([]domain.GameSnapshot, error) {
	const query = `
        SELECT g.id, g.reviews_revision, r.id IS NOT NULL, r.average_rating
        FROM games g
        LEFT JOIN reviews r ON r.game_id = g.id
        ORDER BY g.id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query review snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]domain.GameSnapshot, 0)
	for rows.Next() {
		var (
			gameID    string
			revision  int64
			hasReview bool
			avg       decimal.NullDecimal
		)
		if err := rows.Scan(&gameID, &revision, &hasReview, &avg); err != nil {
			return nil, fmt.Errorf("scan review snapshot: %w", err)
		}
		if n := len(snapshots); n == 0 || snapshots[n-1].GameID != gameID {
			snapshots = append(snapshots, domain.GameSnapshot{GameID: gameID, Revision: revision, Averages: []decimal.NullDecimal{}})
		}
		if hasReview {
			last := &snapshots[len(snapshots)-1]
			last.Averages = append(last.Averages, avg)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review snapshots: %w", err)
	}
	return snapshots, nil
}

// List returns games that match the provided filters, newest first.
func (r *GamesRepository) List(ctx context.Context, filters GameListFilters) (GameListResult, error) {
	if filters.Limit <= 0 {
		filters.Limit = 20
	} else if filters.Limit > 100 {
		filters.Limit = 100
	}

	where := make([]string, 0)
	args := make([]interface{}, 0)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Query != nil && strings.TrimSpace(*filters.Query) != "" {
		where = append(where, fmt.Sprintf("name ILIKE %s", arg("%"+strings.TrimSpace(*filters.Query)+"%")))
	}
	if filters.Genre != nil && strings.TrimSpace(*filters.Genre) != "" {
		where = append(where, fmt.Sprintf("%s = ANY(genres)", arg(strings.ToUpper(strings.TrimSpace(*filters.Genre)))))
	}
	if filters.Cursor != nil {
		cursorCreated := arg(filters.Cursor.CreatedAt)
		cursorID := arg(filters.Cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s::uuid)", cursorCreated, cursorID))
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("SELECT ")
	queryBuilder.WriteString(gameColumns)
	queryBuilder.WriteString(" FROM games")

	if len(where) > 0 {
		queryBuilder.WriteString(" WHERE ")
		queryBuilder.WriteString(strings.Join(where, " AND "))
	}

	queryBuilder.WriteString(" ORDER BY created_at DESC, id DESC")
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT %d", filters.Limit))

	rows, err := r.db.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return GameListResult{}, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Game, 0)
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return GameListResult{}, err
		}
		items = append(items, game)
	}
	if err := rows.Err(); err != nil {
		return GameListResult{}, err
	}

	var nextCursor *string
	if len(items) == filters.Limit {
		last := items[len(items)-1]
		token, err := encodeCursor(GameCursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return GameListResult{}, err
		}
		nextCursor = &token
	}

	return GameListResult{Items: items, NextCursor: nextCursor}, nil
}

func scanGame(row pgx.Row) (domain.Game, error) {
	var game domain.Game
	err := row.Scan(
		&game.ID,
		&game.Name,
		&game.ReleaseDate,
		&game.Genres,
		&game.AverageRating,
		&game.ReviewsRevision,
		&game.CreatedAt,
		&game.UpdatedAt,
	)
	if err != nil {
		return domain.Game{}, err
	}
	return game, nil
}

func encodeCursor(c GameCursor) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecodeCursor parses a cursor token into a GameCursor.
func DecodeCursor(token string) (*GameCursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var cursor GameCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("invalid cursor payload: %w", err)
	}
	if !validID(cursor.ID) {
		return nil, fmt.Errorf("invalid cursor id")
	}
	return &cursor, nil
}
