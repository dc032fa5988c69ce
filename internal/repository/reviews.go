package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/game-reviews/internal/domain"
)

// ReviewsRepository provides helpers for game reviews.
type ReviewsRepository struct {
	db DBTX
}

const reviewColumns = `
    id,
    game_id,
    author_id,
    gameplay_rating,
    visual_rating,
    audio_rating,
    difficulty_rating,
    immersion_rating,
    history_rating,
    average_rating,
    comment,
    created_at,
    updated_at
`

// ReviewCreateParams captures the payload required to insert a review.
type ReviewCreateParams struct {
	GameID   string
	AuthorID string
	Scores   domain.Scores
	Average  decimal.Decimal
	Comment  *string
}

// ReviewUpdateParams replaces every mutable field of a review.
type ReviewUpdateParams struct {
	Scores  domain.Scores
	Average decimal.Decimal
	Comment *string
}

// Insert stores a new review and returns it.
func (r *ReviewsRepository) Insert(ctx context.Context, params ReviewCreateParams) (domain.Review, error) {
	query := fmt.Sprintf(`
        INSERT INTO reviews (
            game_id, author_id,
            gameplay_rating, visual_rating, audio_rating,
            difficulty_rating, immersion_rating, history_rating,
            average_rating, comment
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING %s
    `, reviewColumns)

	s := params.Scores
	review, err := scanReview(r.db.QueryRow(ctx, query,
		params.GameID, params.AuthorID,
		s.Gameplay, s.Visual, s.Audio, s.Difficulty, s.Immersion, s.History,
		params.Average, params.Comment,
	))
	if err != nil {
		return domain.Review{}, fmt.Errorf("insert review: %w", err)
	}
	return review, nil
}

// GetByID fetches a review by its identifier.
func (r *ReviewsRepository) GetByID(ctx context.Context, id string) (domain.Review, error) {
	if !validID(id) {
		return domain.Review{}, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE id = $1`, reviewColumns)
	review, err := scanReview(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Review{}, notFound(err)
	}
	return review, nil
}

// Update replaces all scores and the comment of a review and bumps updated_at.
func (r *ReviewsRepository) Update(ctx context.Context, id string, params ReviewUpdateParams) (domain.Review, error) {
	if !validID(id) {
		return domain.Review{}, ErrNotFound
	}
	query := fmt.Sprintf(`
        UPDATE reviews
        SET gameplay_rating = $2,
            visual_rating = $3,
            audio_rating = $4,
            difficulty_rating = $5,
            immersion_rating = $6,
            history_rating = $7,
            average_rating = $8,
            comment = $9,
            updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, reviewColumns)

	s := params.Scores
	review, err := scanReview(r.db.QueryRow(ctx, query, id,
		s.Gameplay, s.Visual, s.Audio, s.Difficulty, s.Immersion, s.History,
		params.Average, params.Comment,
	))
	if err != nil {
		return domain.Review{}, notFound(err)
	}
	return review, nil
}

// Delete removes a review.
func (r *ReviewsRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByGame returns a game's reviews, newest first.
func (r *ReviewsRepository) ListByGame(ctx context.Context, gameID string) ([]domain.Review, error) {
	if !validID(gameID) {
		return []domain.Review{}, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE game_id = $1 ORDER BY created_at DESC, id DESC`, reviewColumns)
	return r.list(ctx, query, gameID)
}

// ListByAuthor returns an author's reviews, newest first.
func (r *ReviewsRepository) ListByAuthor(ctx context.Context, authorID string) ([]domain.Review, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE author_id = $1 ORDER BY created_at DESC, id DESC`, reviewColumns)
	return r.list(ctx, query, authorID)
}

// CountByGameAndAuthor returns how many reviews authorID has written for gameID.
func (r *ReviewsRepository) CountByGameAndAuthor(ctx context.Context, gameID, authorID string) (int, error) {
	if !validID(gameID) {
		return 0, nil
	}
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM reviews WHERE game_id = $1 AND author_id = $2`, gameID, authorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return n, nil
}

func (r *ReviewsRepository) list(ctx context.Context, query string, args ...any) ([]domain.Review, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]domain.Review, 0)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return reviews, nil
}

func scanReview(row pgx.Row) (domain.Review, error) {
	var (
		review domain.Review
		s      [6]int16
	)
	err := row.Scan(
		&review.ID,
		&review.GameID,
		&review.AuthorID,
		&s[0], &s[1], &s[2], &s[3], &s[4], &s[5],
		&review.Average,
		&review.Comment,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		return domain.Review{}, err
	}
	review.Scores = domain.Scores{
		Gameplay:   int(s[0]),
		Visual:     int(s[1]),
		Audio:      int(s[2]),
		Difficulty: int(s[3]),
		Immersion:  int(s[4]),
		History:    int(s[5]),
	}
	return review, nil
}
