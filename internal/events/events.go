// Package events carries review changes to NATS JetStream through a
// transactional outbox.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/game-reviews/internal/domain"
	"github.com/Clark-Hu/game-reviews/internal/repository"
)

const (
	SubjectReviewCreated = "reviews.created"
	SubjectReviewUpdated = "reviews.updated"
	SubjectReviewDeleted = "reviews.deleted"

	// StreamSubjects is bound to the review stream.
	StreamSubjects = "reviews.>"
)

// ReviewEvent is the JSON body of every review event.
type ReviewEvent struct {
	EventID     string         `json:"eventId"`
	Type        string         `json:"type"`
	ReviewID    string         `json:"reviewId"`
	GameID      string         `json:"gameId"`
	AuthorID    string         `json:"authorId"`
	Scores      *domain.Scores `json:"scores,omitempty"`
	Average     *string        `json:"average,omitempty"`
	GameAverage *string        `json:"gameAverage"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

// NewReviewMessage builds the outbox row for a review change. gameAverage is
// the game's average after the change; deleted reviews carry no scores.
func NewReviewMessage(subject string, review domain.Review, gameAverage decimal.NullDecimal, now time.Time) (repository.OutboxMessage, error) {
	id := uuid.NewString()
	evt := ReviewEvent{
		EventID:     id,
		Type:        subject,
		ReviewID:    review.ID,
		GameID:      review.GameID,
		AuthorID:    review.AuthorID,
		GameAverage: fixed(gameAverage),
		OccurredAt:  now.UTC(),
	}
	if subject != SubjectReviewDeleted {
		scores := review.Scores
		evt.Scores = &scores
		evt.Average = fixed(review.Average)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return repository.OutboxMessage{}, fmt.Errorf("marshal %s event: %w", subject, err)
	}
	return repository.OutboxMessage{ID: id, Subject: subject, Payload: payload}, nil
}

func fixed(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.StringFixed(domain.AveragePlaces)
	return &s
}
