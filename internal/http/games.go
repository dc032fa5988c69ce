package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Clark-Hu/game-reviews/internal/domain"
	"github.com/Clark-Hu/game-reviews/internal/repository"
)

const dateLayout = "2006-01-02"

var (
	requestValidator     *validator.Validate
	requestValidatorOnce sync.Once
)

func getValidator() *validator.Validate {
	requestValidatorOnce.Do(func() {
		requestValidator = validator.New(validator.WithRequiredStructEnabled())
		requestValidator.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		})
		_ = requestValidator.RegisterValidation("genre", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			for _, g := range domain.Genres {
				if g == v {
					return true
				}
			}
			return false
		})
	})
	return requestValidator
}

type gameCreateRequest struct {
	Name        string   `json:"name" validate:"required,max=200"`
	ReleaseDate string   `json:"releaseDate" validate:"required,datetime=2006-01-02"`
	Genres      []string `json:"genres" validate:"omitempty,unique,dive,genre"`
}

type gameResponse struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ReleaseDate   string       `json:"releaseDate"`
	Genres        []string     `json:"genres"`
	AverageRating *json.Number `json:"averageRating"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

type gameListResponse struct {
	Items      []gameResponse `json:"items"`
	NextCursor *string        `json:"nextCursor,omitempty"`
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	filters, err := buildGameFilters(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	result, err := s.repo.Games.List(r.Context(), filters)
	if err != nil {
		s.logger.Error("list games", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list games")
		return
	}

	items := make([]gameResponse, 0, len(result.Items))
	for _, g := range result.Items {
		items = append(items, toGameResponse(g))
	}
	s.respondJSON(w, http.StatusOK, gameListResponse{Items: items, NextCursor: result.NextCursor})
}

func buildGameFilters(query url.Values) (repository.GameListFilters, error) {
	var filters repository.GameListFilters

	if q := strings.TrimSpace(query.Get("q")); q != "" {
		filters.Query = &q
	}
	if val := strings.TrimSpace(query.Get("genre")); val != "" {
		filters.Genre = &val
	}
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil || limit < 0 {
			return filters, fmt.Errorf("invalid limit value")
		}
		filters.Limit = limit
	}
	if val := strings.TrimSpace(query.Get("cursor")); val != "" {
		cursor, err := repository.DecodeCursor(val)
		if err != nil {
			return filters, fmt.Errorf("invalid cursor")
		}
		filters.Cursor = cursor
	}
	return filters, nil
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	game, err := s.repo.Games.GetByID(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "NOT_FOUND", "game not found")
			return
		}
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toGameResponse(game))
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req gameCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	if err := getValidator().Struct(req); err != nil {
		s.respondServiceError(w, r, toValidationError(err))
		return
	}
	releaseDate, _ := time.Parse(dateLayout, req.ReleaseDate)

	game, err := s.repo.Games.Create(r.Context(), repository.GameCreateParams{
		Name:        req.Name,
		ReleaseDate: releaseDate,
		Genres:      req.Genres,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.respondError(w, http.StatusConflict, "CONFLICT", "a game with this name already exists")
			return
		}
		s.respondServiceError(w, r, err)
		return
	}

	s.logger.Info("game created", zap.String("game_id", game.ID), zap.String("name", game.Name))
	w.Header().Set("Location", "/games/"+game.ID)
	s.respondJSON(w, http.StatusCreated, toGameResponse(game))
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]domain.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg := "is invalid"
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "datetime":
			msg = "must follow YYYY-MM-DD format"
		case "genre":
			msg = "must be one of " + strings.Join(domain.Genres, ", ")
		case "unique":
			msg = "must not repeat"
		case "max":
			msg = "is too long"
		}
		fields = append(fields, domain.FieldError{Field: fe.Field(), Message: msg})
	}
	return &domain.ValidationError{Fields: fields}
}

func toGameResponse(g domain.Game) gameResponse {
	genres := g.Genres
	if genres == nil {
		genres = []string{}
	}
	return gameResponse{
		ID:            g.ID,
		Name:          g.Name,
		ReleaseDate:   g.ReleaseDate.Format(dateLayout),
		Genres:        genres,
		AverageRating: fixed(g.AverageRating),
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
}
