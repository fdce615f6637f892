// Package app initializes and holds the long-lived services of the card
// server, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/halfbloodedyash/Letterboxd/internal/api"
	"github.com/halfbloodedyash/Letterboxd/internal/cache"
	"github.com/halfbloodedyash/Letterboxd/internal/clock/system"
	"github.com/halfbloodedyash/Letterboxd/internal/config"
	"github.com/halfbloodedyash/Letterboxd/internal/extractor"
	"github.com/halfbloodedyash/Letterboxd/internal/history"
	"github.com/halfbloodedyash/Letterboxd/internal/id/uuid"
	"github.com/halfbloodedyash/Letterboxd/internal/layout"
	"github.com/halfbloodedyash/Letterboxd/internal/normalizer"
	"github.com/halfbloodedyash/Letterboxd/internal/ratelimit"
	"github.com/halfbloodedyash/Letterboxd/internal/renderer"
	"github.com/halfbloodedyash/Letterboxd/internal/service"
	"github.com/halfbloodedyash/Letterboxd/internal/tmdb"
)

// App owns every long-lived component and tears them down in Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	sessions *cache.SessionStore
	images   *cache.ImageStore
	limiter  *ratelimit.Limiter
	engine   *renderer.Engine
	hist     history.Store
	server   *api.Server
}

// New builds the full pipeline from configuration. It fails fast when
// any component cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	clock := system.New()
	ids := uuid.New()

	sessions := cache.NewSessionStore(
		cfg.Cache.SessionCapacity,
		cfg.Cache.SessionTTL(),
		cfg.Cache.SweepInterval(),
		clock,
		ids,
	)
	images := cache.NewImageStore(
		cfg.Cache.ImageCapacity,
		cfg.Cache.ImageTTL(),
		cfg.Cache.SweepInterval(),
		clock,
	)

	fetcher := extractor.NewPageFetcher(extractor.FetcherConfig{
		UserAgent: cfg.Extractor.UserAgent,
		Timeout:   cfg.Extractor.Timeout(),
	})
	embedder := extractor.NewImageEmbedder(extractor.EmbedderConfig{
		UserAgent:  cfg.Extractor.UserAgent,
		Timeout:    cfg.Extractor.Timeout(),
		MaxRetries: uint64(cfg.Extractor.MaxRetries),
		RetryDelay: cfg.Extractor.RetryDelay(),
		QPS:        cfg.Extractor.ImageQPS,
	}, logger.Named("extractor"))

	var posters extractor.PosterSearcher
	if cfg.TMDB.APIKey != "" {
		posters = tmdb.NewClient(cfg.TMDB.APIKey,
			tmdb.WithBaseURL(cfg.TMDB.BaseURL),
			tmdb.WithRetry(uint64(cfg.Extractor.MaxRetries), cfg.Extractor.RetryDelay()),
		)
		logger.Info("poster lookup enabled")
	} else {
		logger.Info("poster lookup disabled, scraped posters only")
	}

	ext := extractor.New(fetcher, posters, embedder, logger.Named("extractor"))
	norm := normalizer.New(logger.Named("normalizer"), normalizer.WithUserAgent(cfg.Extractor.UserAgent))

	builder, err := layout.New()
	if err != nil {
		return nil, fmt.Errorf("build layout templates: %w", err)
	}

	engine := renderer.New(renderer.Config{
		PoolSize: cfg.Renderer.PoolSize,
		Timeout:  cfg.Renderer.Timeout(),
		Settle:   cfg.Renderer.Settle(),
	}, logger.Named("renderer"))

	hist, err := newHistoryStore(ctx, cfg.History, logger.Named("history"))
	if err != nil {
		sessions.Close()
		images.Close()
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window(), clock)

	svc := service.New(service.Deps{
		Normalizer:      norm,
		Extractor:       ext,
		Sessions:        sessions,
		Images:          images,
		Layout:          builder,
		Renderer:        engine,
		History:         hist,
		RecordIDs:       ids,
		Clock:           clock,
		Logger:          logger.Named("service"),
		TemplateVersion: layout.Version,
	})

	return &App{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		images:   images,
		limiter:  limiter,
		engine:   engine,
		hist:     hist,
		server:   api.NewServer(svc, limiter, cfg, logger.Named("api")),
	}, nil
}

func newHistoryStore(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (history.Store, error) {
	switch cfg.Provider {
	case "postgres":
		logger.Info("render history enabled", zap.String("table", cfg.Table))
		store, err := history.NewPostgres(ctx, history.PostgresConfig{
			DSN:      cfg.DSN,
			Table:    cfg.Table,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize history store: %w", err)
		}
		return store, nil
	case "noop", "":
		logger.Info("render history disabled")
		return history.NewNoop(), nil
	default:
		return nil, fmt.Errorf("unknown history provider: %s", cfg.Provider)
	}
}

// Handler exposes the HTTP surface for serving and tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// Close releases every long-lived resource.
func (a *App) Close(ctx context.Context) {
	a.limiter.Close()
	if err := a.engine.Close(ctx); err != nil {
		a.logger.Warn("close render engine", zap.Error(err))
	}
	a.sessions.Close()
	a.images.Close()
	a.hist.Close()
}
