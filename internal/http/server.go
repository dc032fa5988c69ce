// Package httpserver exposes the catalog and review lifecycle over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Clark-Hu/game-reviews/internal/config"
	"github.com/Clark-Hu/game-reviews/internal/logging"
	"github.com/Clark-Hu/game-reviews/internal/rating"
	"github.com/Clark-Hu/game-reviews/internal/repository"
	"github.com/Clark-Hu/game-reviews/internal/review"
	"github.com/Clark-Hu/game-reviews/internal/store"
)

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	store    *store.Store
	repo     *repository.Repository
	reviews  *review.Service
	job      *rating.Job
	verifier JWTVerifier
	logger   *zap.Logger
	router   chi.Router
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, st *store.Store, reviews *review.Service, job *rating.Job, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		repo:     repository.New(st),
		reviews:  reviews,
		job:      job,
		verifier: JWTVerifier{Secret: []byte(cfg.JWTSecret)},
		logger:   logging.OrNop(logger).Named("http"),
		router:   chi.NewRouter(),
	}
	s.router.Use(requestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsHandler(cfg.CORSOrigins))
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/games", func(r chi.Router) {
		r.Get("/", s.handleListGames)
		r.With(s.requireAuthor, s.requireRole(RoleAdmin)).Post("/", s.handleCreateGame)
		r.Route("/{gameID}", func(r chi.Router) {
			r.Get("/", s.handleGetGame)
			r.Get("/reviews", s.handleListGameReviews)
		})
	})

	s.router.Get("/users/{userID}/reviews", s.handleListAuthorReviews)

	s.router.Route("/reviews", func(r chi.Router) {
		r.Get("/{reviewID}", s.handleGetReview)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuthor)
			r.Use(s.rateLimitByAuthor(s.cfg.RateLimitPerMinute))
			r.Post("/", s.handleCreateReview)
			r.Put("/{reviewID}", s.handleUpdateReview)
			r.Delete("/{reviewID}", s.handleDeleteReview)
		})
	})

	s.router.With(s.requireAuthor, s.requireRole(RoleAdmin)).Post("/admin/recompute", s.handleRecompute)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is done, then shuts down gracefully. It implements
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown", zap.Error(err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) String() string { return "http-server" }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
