// Package server exposes the locate pipeline over HTTP
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	chicors "github.com/go-chi/cors"

	vlmlocate "github.com/menta2k/vlm-locate"
	"github.com/menta2k/vlm-locate/internal/config"
	"github.com/menta2k/vlm-locate/internal/logger"
)

// Server is a thin wrapper over chi + stdlib http.Server
type Server struct {
	addr string
	mux  *chi.Mux
	srv  *http.Server
	h    *handlers
}

// New mounts the API routes for loc
func New(cfg *config.Config, loc *vlmlocate.Locator) *Server {
	h := &handlers{cfg: cfg, loc: loc, log: logger.Named("server")}

	m := chi.NewRouter()
	m.Use(chimw.RealIP, chimw.RequestID, requestLogger, chimw.Recoverer)
	m.Use(accessLog(5 * time.Second))
	m.Use(chicors.Handler(chicors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	m.Get("/healthz", h.health)
	m.Route("/v1", func(r chi.Router) {
		r.Get("/providers", h.providers)
		r.Post("/locate", h.locate)
	})

	return &Server{
		addr: cfg.Server.Addr,
		mux:  m,
		h:    h,
		srv: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           m,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listening address
func (s *Server) Addr() string { return s.addr }

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.h.log.Info().Str("addr", s.addr).Str("provider", s.h.loc.Provider()).Msg("http listening")
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
