// Package api exposes the HTTP interface of the card service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/halfbloodedyash/Letterboxd/internal/config"
	"github.com/halfbloodedyash/Letterboxd/internal/history"
	"github.com/halfbloodedyash/Letterboxd/internal/ratelimit"
	"github.com/halfbloodedyash/Letterboxd/internal/review"
	"github.com/halfbloodedyash/Letterboxd/internal/telemetry"
)

// CardService is the pipeline surface the handlers call into.
type CardService interface {
	FetchMetadata(ctx context.Context, rawURL string) (review.Summary, error)
	Session(ctx context.Context, sessionID string) (review.Metadata, error)
	Render(ctx context.Context, req review.RenderRequest) (review.RenderResult, error)
	RecentRenders(ctx context.Context, limit int) ([]history.RenderRecord, error)
	Health(ctx context.Context) review.HealthStatus
}

// Server wires HTTP handlers to the card pipeline.
type Server struct {
	router chi.Router
	svc    CardService
	logger *zap.Logger
	cfg    config.Config
}

// NewServer constructs a Server with middleware and routes. The limiter
// guards only the two extraction-and-render paths.
func NewServer(svc CardService, limiter *ratelimit.Limiter, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
		cfg:    cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger, s.writeError))
	r.Use(timeoutMiddleware(time.Duration(cfg.Server.TimeoutSeconds) * time.Second))
	r.Use(telemetry.Middleware)
	if cfg.Auth.Enabled {
		r.Use(s.apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", telemetry.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		limited := r
		if limiter != nil {
			limited = r.With(limiter.Middleware(logger, s.writeError))
		}
		limited.Post("/metadata", s.fetchMetadata)
		limited.Post("/render", s.render)

		r.Get("/metadata/{session_id}", s.getSession)
		r.Get("/renders", s.recentRenders)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := s.svc.Health(r.Context())
	httpStatus := http.StatusOK
	if status == review.HealthUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	s.writeJSON(w, httpStatus, map[string]string{"status": string(status)})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type metadataRequest struct {
	URL string `json:"url"`
}

func (s *Server) fetchMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, review.NewError(review.CodeInvalidURLFormat, "invalid JSON body"))
		return
	}

	summary, err := s.svc.FetchMetadata(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	meta, err := s.svc.Session(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

type renderRequest struct {
	URL             string        `json:"url"`
	SessionID       string        `json:"session_id"`
	Preset          review.Preset `json:"preset"`
	FontScale       int           `json:"font_scale"`
	Style           string        `json:"style"`
	TemplateVersion string        `json:"template_version"`
}

func (s *Server) render(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, review.NewError(review.CodeInvalidURLFormat, "invalid JSON body"))
		return
	}

	result, err := s.svc.Render(r.Context(), review.RenderRequest{
		URL:       req.URL,
		SessionID: req.SessionID,
		Options: review.StyleOptions{
			Preset:          req.Preset,
			FontScale:       req.FontScale,
			Style:           req.Style,
			TemplateVersion: req.TemplateVersion,
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cacheState := "MISS"
	if result.CacheHit {
		cacheState = "HIT"
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Cache", cacheState)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.PNG); err != nil {
		s.logger.Error("write png response", zap.Error(err))
	}
}

func (s *Server) recentRenders(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			s.writeError(w, r, review.NewError(review.CodeInvalidURLFormat, "limit must be 1-100"))
			return
		}
		limit = parsed
	}

	records, err := s.svc.RecentRenders(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []history.RenderRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"renders": records})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON response", zap.Error(err))
	}
}
