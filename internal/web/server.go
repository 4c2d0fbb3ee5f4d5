// Package web serves the trading demo over HTTP and WebSocket.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"crypto_demo/internal/domain"
	"crypto_demo/internal/engine"
	"crypto_demo/internal/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Market is the cached listing the handlers read and invalidate.
type Market interface {
	All() []domain.Asset
	Currency() string
	UpdatedAt() time.Time
	Clear()
}

// Refresher triggers an out-of-band listing fetch. engine.Poller implements it.
type Refresher interface {
	Refresh()
}

// IconSource maps an asset id to its cached icon file.
type IconSource interface {
	GetIconPath(assetID string) string
}

// AssetIndex lists the locally synced asset metadata. storage.Storage implements it.
type AssetIndex interface {
	ListAssets() ([]domain.AssetInfo, error)
}

// Deps are the collaborators of the HTTP server. Icons, Assets and Refresher may be nil.
type Deps struct {
	Config    *infra.Config
	Sequencer *engine.Sequencer
	Market    Market
	Feed      domain.PriceFeed
	Refresher Refresher
	Icons     IconSource
	Assets    AssetIndex
	Hub       *Hub
	Metrics   *infra.Metrics
}

// Server holds the HTTP handlers.
type Server struct {
	cfg       *infra.Config
	seq       *engine.Sequencer
	market    Market
	feed      domain.PriceFeed
	refresher Refresher
	icons     IconSource
	assets    AssetIndex
	hub       *Hub
	metrics   *infra.Metrics
	logger    *slog.Logger
}

// NewServer creates the server from its dependencies.
func NewServer(d Deps) *Server {
	return &Server{
		cfg:       d.Config,
		seq:       d.Sequencer,
		market:    d.Market,
		feed:      d.Feed,
		refresher: d.Refresher,
		icons:     d.Icons,
		assets:    d.Assets,
		hub:       d.Hub,
		metrics:   d.Metrics,
		logger:    slog.Default().With("module", "web"),
	}
}

// Routes builds the router with its middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	r.Use(c.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": s.cfg.App.Name})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.hub != nil {
		// Long-lived; kept outside the request timeout
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/icons/{id}", s.handleIcon)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/markets", s.handleMarkets)
			r.Get("/markets/{id}/chart", s.handleChart)
			r.Get("/assets", s.handleAssets)

			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/history", s.handleHistory)
			r.Get("/history/export", s.handleExport)

			r.Post("/trade", s.handleTrade)
			r.Post("/reset", s.handleReset)
			r.Put("/currency", s.handleCurrency)
		})
	})

	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	return srv.Shutdown(shutdownCtx)
}
