package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinScore = 0
	MaxScore = 5

	// AveragePlaces is the number of decimal places kept for every average.
	AveragePlaces = 2
)

// Scores holds the six sub-scores of a review.
type Scores struct {
	Gameplay   int `json:"gameplayRating" validate:"min=0,max=5"`
	Visual     int `json:"visualRating" validate:"min=0,max=5"`
	Audio      int `json:"audioRating" validate:"min=0,max=5"`
	Difficulty int `json:"difficultyRating" validate:"min=0,max=5"`
	Immersion  int `json:"immersionRating" validate:"min=0,max=5"`
	History    int `json:"historyRating" validate:"min=0,max=5"`
}

// Values returns the sub-scores in declaration order.
func (s Scores) Values() [6]int {
	return [6]int{s.Gameplay, s.Visual, s.Audio, s.Difficulty, s.Immersion, s.History}
}

// Average is the mean of the six sub-scores rounded to two places.
func (s Scores) Average() decimal.Decimal {
	var sum int64
	for _, v := range s.Values() {
		sum += int64(v)
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(6)).Round(AveragePlaces)
}

// Review is one author's rating of one game.
type Review struct {
	ID        string
	GameID    string
	AuthorID  string
	Scores    Scores
	Average   decimal.NullDecimal
	Comment   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MeanOfMeans averages the given per-review averages, skipping null ones.
// The result is rounded half away from zero to two places and is null when
// no valid average remains.
func MeanOfMeans(averages []decimal.NullDecimal) decimal.NullDecimal {
	sum := decimal.Zero
	n := int64(0)
	for _, avg := range averages {
		if !avg.Valid {
			continue
		}
		sum = sum.Add(avg.Decimal)
		n++
	}
	if n == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(sum.Div(decimal.NewFromInt(n)).Round(AveragePlaces))
}

// ReviewAverages extracts the stored averages of reviews.
func ReviewAverages(reviews []Review) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, r.Average)
	}
	return out
}
