package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Genres accepted for a game, in catalog order.
var Genres = []string{
	"ACTION",
	"ADVENTURE",
	"INDIE",
	"MASSIVELY_MULTIPLAYER",
	"PLATFORMER",
	"PUZZLE",
	"RPG",
	"RACING",
	"SHOOTER",
	"SPORTS",
}

// Game is a reviewable catalog entry. AverageRating is derived from the
// game's reviews and is invalid (null) while the game has none.
type Game struct {
	ID              string
	Name            string
	ReleaseDate     time.Time
	Genres          []string
	AverageRating   decimal.NullDecimal
	ReviewsRevision int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GameSnapshot is one game as seen by a bulk recompute pass: its reviews'
// stored averages plus the revision they were read at.
type GameSnapshot struct {
	GameID   string
	Revision int64
	Averages []decimal.NullDecimal
}
