package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/phrazzld/weatherdash/internal/resilience"
	"github.com/phrazzld/weatherdash/internal/services"
	"github.com/phrazzld/weatherdash/internal/weather"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, services.ErrUnavailable),
		errors.Is(err, services.ErrNotInitialized),
		errors.Is(err, weather.ErrOffline):
		return http.StatusServiceUnavailable

	case errors.Is(err, services.ErrUnknownService):
		return http.StatusNotFound

	case errors.Is(err, weather.ErrQueryTooShort),
		errors.Is(err, services.ErrUnknownLayer):
		return http.StatusBadRequest

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	kind, ok := resilience.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case resilience.KindNotFound:
		return http.StatusNotFound
	case resilience.KindRateLimit:
		return http.StatusTooManyRequests
	case resilience.KindNetwork, resilience.KindProviderUnavailable, resilience.KindAuthentication:
		return http.StatusBadGateway
	case resilience.KindConfiguration, resilience.KindDependencyUnmet:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-friendly message for err that carries
// no provider URLs or credentials
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, weather.ErrOffline):
		return "Weather data is offline and nothing is cached"
	case errors.Is(err, services.ErrUnavailable), errors.Is(err, services.ErrNotInitialized):
		return "Feature unavailable"
	case errors.Is(err, services.ErrUnknownService):
		return "Unknown service"
	case errors.Is(err, weather.ErrQueryTooShort):
		return "Search query must be at least 2 characters"
	case errors.Is(err, services.ErrUnknownLayer):
		return "Unknown map layer"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	}

	kind, _ := resilience.KindOf(err)
	switch kind {
	case resilience.KindNotFound:
		return "Location not found"
	case resilience.KindRateLimit:
		return "Weather provider rate limit reached, try again later"
	case resilience.KindAuthentication:
		return "Weather provider rejected the configured credentials"
	case resilience.KindNetwork, resilience.KindProviderUnavailable:
		return "Weather provider unavailable"
	case resilience.KindConfiguration, resilience.KindDependencyUnmet:
		return "Feature unavailable"
	default:
		return "An unexpected error occurred"
	}
}
