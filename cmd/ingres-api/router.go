// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ingres-ai/ingres-assistant/cmd/ingres-api/handlers"
	"github.com/ingres-ai/ingres-assistant/cmd/ingres-api/middleware"
	"github.com/ingres-ai/ingres-assistant/internal/config"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

// RPCMount is a Connect handler and the path prefix it serves.
type RPCMount struct {
	Path    string
	Handler http.Handler
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg config.ServerConfig, assistant handlers.Assistant, rpc *RPCMount) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	h := handlers.NewAssistantHandler(logger, assistant)

	r.Get("/", h.Health)
	r.Get("/health", h.Health)
	r.Get("/news", h.News)
	r.Post("/ask", h.Ask)

	if rpc != nil {
		r.Handle(rpc.Path+"*", rpc.Handler)
	}

	return r
}
