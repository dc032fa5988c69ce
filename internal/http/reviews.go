package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/game-reviews/internal/domain"
	"github.com/Clark-Hu/game-reviews/internal/review"
)

// The author always comes from the bearer token, so neither request carries one.
type reviewCreateRequest struct {
	GameID string `json:"gameId"`
	review.ScoreInput
	Comment *string `json:"comment"`
}

type reviewUpdateRequest struct {
	review.ScoreInput
	Comment *string `json:"comment"`
}

type reviewResponse struct {
	ID               string       `json:"id"`
	GameID           string       `json:"gameId"`
	AuthorID         string       `json:"authorId"`
	GameplayRating   int          `json:"gameplayRating"`
	VisualRating     int          `json:"visualRating"`
	AudioRating      int          `json:"audioRating"`
	DifficultyRating int          `json:"difficultyRating"`
	ImmersionRating  int          `json:"immersionRating"`
	HistoryRating    int          `json:"historyRating"`
	AverageRating    *json.Number `json:"averageRating"`
	Comment          *string      `json:"comment"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	rv, err := s.reviews.Get(r.Context(), chi.URLParam(r, "reviewID"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponse(rv))
}

func (s *Server) handleListGameReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.reviews.ListByGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponses(reviews))
}

func (s *Server) handleListAuthorReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.reviews.ListByAuthor(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponses(reviews))
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	author, _ := AuthorFromContext(r.Context())

	var req reviewCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	gameID := strings.TrimSpace(req.GameID)
	if gameID == "" {
		s.respondServiceError(w, r, &domain.ValidationError{Fields: []domain.FieldError{{Field: "gameId", Message: "is required"}}})
		return
	}

	created, err := s.reviews.Create(r.Context(), review.CreateParams{
		GameID:   gameID,
		AuthorID: author,
		Scores:   req.ScoreInput,
		Comment:  normalizeStringPtr(req.Comment),
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/reviews/"+created.ID)
	s.respondJSON(w, http.StatusCreated, toReviewResponse(created))
}

func (s *Server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	author, _ := AuthorFromContext(r.Context())

	var req reviewUpdateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	updated, err := s.reviews.Update(r.Context(), review.UpdateParams{
		ReviewID: chi.URLParam(r, "reviewID"),
		AuthorID: author,
		Scores:   req.ScoreInput,
		Comment:  normalizeStringPtr(req.Comment),
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponse(updated))
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	author, _ := AuthorFromContext(r.Context())

	if err := s.reviews.Delete(r.Context(), chi.URLParam(r, "reviewID"), author); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toReviewResponse(rv domain.Review) reviewResponse {
	return reviewResponse{
		ID:               rv.ID,
		GameID:           rv.GameID,
		AuthorID:         rv.AuthorID,
		GameplayRating:   rv.Scores.Gameplay,
		VisualRating:     rv.Scores.Visual,
		AudioRating:      rv.Scores.Audio,
		DifficultyRating: rv.Scores.Difficulty,
		ImmersionRating:  rv.Scores.Immersion,
		HistoryRating:    rv.Scores.History,
		AverageRating:    fixed(rv.Average),
		Comment:          rv.Comment,
		CreatedAt:        rv.CreatedAt,
		UpdatedAt:        rv.UpdatedAt,
	}
}

func toReviewResponses(reviews []domain.Review) []reviewResponse {
	out := make([]reviewResponse, 0, len(reviews))
	for _, rv := range reviews {
		out = append(out, toReviewResponse(rv))
	}
	return out
}

func normalizeStringPtr(ptr *string) *string {
	if ptr == nil {
		return nil
	}
	val := strings.TrimSpace(*ptr)
	if val == "" {
		return nil
	}
	return &val
}
