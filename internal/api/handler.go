package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/weatherdash/internal/activity"
	"github.com/phrazzld/weatherdash/internal/api/shared"
	"github.com/phrazzld/weatherdash/internal/events"
	"github.com/phrazzld/weatherdash/internal/resilience"
	"github.com/phrazzld/weatherdash/internal/services"
	"github.com/phrazzld/weatherdash/internal/weather"
)

// DefaultRequestTimeout bounds every upstream call made by a handler
const DefaultRequestTimeout = 20 * time.Second

// Services is the part of the service manager the handlers use
type Services interface {
	Summary() services.Summary
	Breakers() *resilience.Registry
	Aggregator() (*services.Aggregator, bool)
	Geocoder() (*weather.Geocoder, bool)
	Activities() (*activity.Suggester, bool)
	Notifier() (*services.Notifier, bool)
	Exporter(ctx context.Context) (*services.Exporter, error)
}

// Handler serves the HTTP endpoints
type Handler struct {
	services Services
	health   *resilience.HealthCheck
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHandler creates a Handler
func NewHandler(svc Services, health *resilience.HealthCheck, logger *slog.Logger) *Handler {
	return &Handler{
		services: svc,
		health:   health,
		timeout:  DefaultRequestTimeout,
		logger:   logger.With("component", "api"),
	}
}

// WeatherResponse is the body of GET /weather/{location}
type WeatherResponse struct {
	Snapshot services.Snapshot `json:"snapshot"`
	Alerts   []*events.Event   `json:"alerts,omitempty"`
}

// ActivitiesResponse is the body of GET /weather/{location}/activities
type ActivitiesResponse struct {
	Conditions weather.Conditions  `json:"conditions"`
	Activities []activity.Activity `json:"activities"`
	Source     activity.Source     `json:"source"`
	FromCache  bool                `json:"from_cache"`
}

// ExportResponse is the body of POST /exports
type ExportResponse struct {
	Path string `json:"path"`
}

// Health runs every health check. An unhealthy status answers 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
		h.logger.Warn("health check failed", "errors", status.Errors)
	}
	shared.RespondWithJSON(w, r, code, status)
}

// Services reports the state of every declared service
func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.services.Summary())
}

// Breakers reports every circuit breaker
func (h *Handler) Breakers(w http.ResponseWriter, r *http.Request) {
	statuses := []resilience.BreakerStatus{}
	if registry := h.services.Breakers(); registry != nil {
		statuses = registry.Snapshot()
	}
	shared.RespondWithJSON(w, r, http.StatusOK, statuses)
}

// ResetBreaker closes one circuit breaker and returns its status
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	registry := h.services.Breakers()
	if registry == nil || !registry.Reset(name) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Circuit breaker not found")
		return
	}
	h.logger.Info("circuit breaker reset via api", "breaker", name)

	for _, status := range registry.Snapshot() {
		if status.Name == name {
			shared.RespondWithJSON(w, r, http.StatusOK, status)
			return
		}
	}
	shared.RespondWithError(w, r, http.StatusNotFound, "Circuit breaker not found")
}

// Weather returns the snapshot of one location and the alerts it raised
func (h *Handler) Weather(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, ok := h.snapshot(ctx, w, r)
	if !ok {
		return
	}

	resp := WeatherResponse{Snapshot: snap}
	if notifier, ok := h.services.Notifier(); ok {
		resp.Alerts = notifier.CheckConditions(ctx, snap.Conditions)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Activities suggests activities for the conditions at one location
func (h *Handler) Activities(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	suggester, ok := h.services.Activities()
	if !ok {
		h.respondError(w, r, services.ErrUnavailable)
		return
	}
	snap, ok := h.snapshot(ctx, w, r)
	if !ok {
		return
	}

	suggestions, err := suggester.Suggest(ctx, snap.Conditions)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ActivitiesResponse{
		Conditions: snap.Conditions,
		Activities: suggestions.Activities,
		Source:     suggestions.Source,
		FromCache:  suggestions.FromCache,
	})
}

// Locations searches places by name or coordinates
func (h *Handler) Locations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	geocoder, ok := h.services.Geocoder()
	if !ok {
		h.respondError(w, r, services.ErrUnavailable)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	locations, err := geocoder.Search(ctx, r.URL.Query().Get("q"), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, locations)
}

// Notifications lists recent notifications, newest last
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	notifier, ok := h.services.Notifier()
	if !ok {
		h.respondError(w, r, services.ErrUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	shared.RespondWithJSON(w, r, http.StatusOK, notifier.Recent(limit))
}

// Export writes an export file, resolving the export service on first use
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	exporter, err := h.services.Exporter(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	path, err := exporter.Export(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Export failed", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, ExportResponse{Path: path})
}

func (h *Handler) snapshot(ctx context.Context, w http.ResponseWriter, r *http.Request) (services.Snapshot, bool) {
	location := strings.TrimSpace(chi.URLParam(r, "location"))
	if location == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Location is required")
		return services.Snapshot{}, false
	}

	agg, ok := h.services.Aggregator()
	if !ok {
		h.respondError(w, r, services.ErrUnavailable)
		return services.Snapshot{}, false
	}
	snap, err := agg.Snapshot(ctx, location)
	if err != nil {
		h.respondError(w, r, err)
		return services.Snapshot{}, false
	}
	return snap, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
