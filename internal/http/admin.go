package httpserver

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Clark-Hu/game-reviews/internal/rating"
)

// handleRecompute runs the bulk job synchronously, bounded by the request context.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	res, err := s.job.RecomputeAll(r.Context())
	switch {
	case errors.Is(err, rating.ErrRunning):
		s.respondError(w, http.StatusConflict, "CONFLICT", "a recompute is already running")
		return
	case err != nil && res.Updated == 0 && res.Failed == 0:
		s.respondServiceError(w, r, err)
		return
	case err != nil:
		s.logger.Warn("recompute stopped early", zap.Error(err),
			zap.Int("updated", res.Updated), zap.Int("failed", res.Failed))
	}
	s.respondJSON(w, http.StatusOK, res)
}
