package weather

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/phrazzld/weatherdash/internal/cache"
)

// Endpoint identifies the kind of lookup
type Endpoint string

const (
	EndpointCurrent        Endpoint = "current"
	EndpointForecast       Endpoint = "forecast"
	EndpointAirQuality     Endpoint = "air_quality"
	EndpointGeocode        Endpoint = "geocode"
	EndpointReverseGeocode Endpoint = "reverse_geocode"
)

// Category returns the cache category that sets the TTL of the endpoint
func (e Endpoint) Category() cache.Category {
	switch e {
	case EndpointCurrent:
		return cache.CategoryCurrent
	case EndpointForecast:
		return cache.CategoryForecast
	case EndpointAirQuality:
		return cache.CategoryAirQuality
	case EndpointGeocode, EndpointReverseGeocode:
		return cache.CategoryGeocoding
	default:
		return cache.CategoryCurrent
	}
}

// isLocationLookup reports whether a 404 means "no such place"
func (e Endpoint) isLocationLookup() bool {
	return e == EndpointGeocode || e == EndpointReverseGeocode
}

var (
	// ErrInvalidRequest is returned for a request missing its location
	ErrInvalidRequest = errors.New("invalid weather request")

	// ErrOffline is returned when the client skips the network in offline mode
	ErrOffline = errors.New("weather client is offline")
)

// Request describes one lookup. Current and forecast lookups use Query when
// set and coordinates otherwise; air quality and reverse geocoding always use
// coordinates; geocoding uses Query.
type Request struct {
	Endpoint Endpoint
	Query    string
	Lat      float64
	Lon      float64
	HasCoord bool
	Limit    int
}

func (r Request) op() string {
	return "weather." + string(r.Endpoint)
}

func (r Request) validate() error {
	switch r.Endpoint {
	case EndpointCurrent, EndpointForecast:
		if strings.TrimSpace(r.Query) == "" && !r.HasCoord {
			return fmt.Errorf("%w: %s needs a query or coordinates", ErrInvalidRequest, r.Endpoint)
		}
	case EndpointAirQuality, EndpointReverseGeocode:
		if !r.HasCoord {
			return fmt.Errorf("%w: %s needs coordinates", ErrInvalidRequest, r.Endpoint)
		}
	case EndpointGeocode:
		if strings.TrimSpace(r.Query) == "" {
			return fmt.Errorf("%w: geocode needs a query", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown endpoint %q", ErrInvalidRequest, r.Endpoint)
	}
	return nil
}

// usesQuery reports whether the location is expressed by Query
func (r Request) usesQuery() bool {
	switch r.Endpoint {
	case EndpointGeocode:
		return true
	case EndpointCurrent, EndpointForecast:
		return strings.TrimSpace(r.Query) != ""
	default:
		return false
	}
}

func (r Request) coords() string {
	return strconv.FormatFloat(r.Lat, 'f', 4, 64) + "," + strconv.FormatFloat(r.Lon, 'f', 4, 64)
}

// location is the "q" value understood by providers taking a free text location
func (r Request) location() string {
	if r.usesQuery() {
		return strings.TrimSpace(r.Query)
	}
	return r.coords()
}

// CacheKey is independent of the provider so that failover shares the cache
func (r Request) CacheKey() string {
	key := string(r.Endpoint) + ":" + strings.ToLower(r.location())
	if r.Endpoint.isLocationLookup() {
		key += ":" + strconv.Itoa(r.Limit)
	}
	return key
}
