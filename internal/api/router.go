package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apiMiddleware "github.com/phrazzld/weatherdash/internal/api/middleware"
)

// NewRouter creates the router with the standard middleware and every route
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(h.logger))

	r.Get("/health", h.Health)
	r.Get("/services", h.Services)
	r.Get("/breakers", h.Breakers)
	r.Post("/breakers/{name}/reset", h.ResetBreaker)

	r.Route("/api", func(r chi.Router) {
		r.Get("/weather/{location}", h.Weather)
		r.Get("/weather/{location}/activities", h.Activities)
		r.Get("/locations", h.Locations)
		r.Get("/notifications", h.Notifications)
		r.Post("/exports", h.Export)
	})

	return r
}
