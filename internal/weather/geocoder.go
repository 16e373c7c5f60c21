package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 20
	minQueryLength     = 2
)

// ErrQueryTooShort is returned for searches shorter than two characters
var ErrQueryTooShort = errors.New("search query must be at least 2 characters")

var coordinatePattern = regexp.MustCompile(`^(-?\d+\.?\d*),\s*(-?\d+\.?\d*)$`)

// Location is one geocoding match
type Location struct {
	Name    string  `json:"name"`
	State   string  `json:"state,omitempty"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Display returns "Name, State, Country", omitting empty parts
func (l Location) Display() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Name, l.State, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Geocoder turns place names and coordinates into Locations
type Geocoder struct {
	client *Client
	logger *slog.Logger
}

// NewGeocoder creates a Geocoder on top of client
func NewGeocoder(client *Client, logger *slog.Logger) *Geocoder {
	return &Geocoder{
		client: client,
		logger: logger.With("component", "geocoder"),
	}
}

// ClampLimit bounds a search limit to 1..20, defaulting to 5
func ClampLimit(limit int) int {
	switch {
	case limit < 1:
		return defaultSearchLimit
	case limit > maxSearchLimit:
		return maxSearchLimit
	default:
		return limit
	}
}

// ParseCoordinates recognizes "lat,lon" queries
func ParseCoordinates(query string) (lat, lon float64, ok bool) {
	m := coordinatePattern.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return 0, 0, false
	}
	lat, errLat := strconv.ParseFloat(m[1], 64)
	lon, errLon := strconv.ParseFloat(m[2], 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

// Search resolves a free text query. Coordinates are reverse geocoded. No
// match yields an empty slice and no error.
func (g *Geocoder) Search(ctx context.Context, query string, limit int) ([]Location, error) {
	query = strings.TrimSpace(query)
	if len(query) < minQueryLength {
		return nil, ErrQueryTooShort
	}
	limit = ClampLimit(limit)

	if lat, lon, ok := ParseCoordinates(query); ok {
		return g.Reverse(ctx, lat, lon, limit)
	}

	result, err := g.client.Geocode(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	locations, err := g.decode(result)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("location search", "query", query, "matches", len(locations), "from_cache", result.FromCache)
	return truncate(locations, limit), nil
}

// Reverse resolves coordinates to nearby places
func (g *Geocoder) Reverse(ctx context.Context, lat, lon float64, limit int) ([]Location, error) {
	limit = ClampLimit(limit)
	result, err := g.client.ReverseGeocode(ctx, lat, lon, limit)
	if err != nil {
		return nil, err
	}
	locations, err := g.decode(result)
	if err != nil {
		return nil, err
	}
	return truncate(locations, limit), nil
}

func (g *Geocoder) decode(result Result) ([]Location, error) {
	if result.NotFound || len(result.Payload) == 0 {
		return []Location{}, nil
	}
	return ParseLocations(result.Payload)
}

// providerLocation covers both the openweather and weatherapi shapes
type providerLocation struct {
	Name    string  `json:"name"`
	State   string  `json:"state"`
	Region  string  `json:"region"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// ParseLocations decodes a geocoding payload from any provider
func ParseLocations(payload json.RawMessage) ([]Location, error) {
	var raw []providerLocation
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode geocoding payload: %w", err)
	}

	locations := make([]Location, 0, len(raw))
	for _, r := range raw {
		if r.Name == "" {
			continue
		}
		locations = append(locations, Location{
			Name:    r.Name,
			State:   firstNonEmpty(r.State, r.Region),
			Country: r.Country,
			Lat:     r.Lat,
			Lon:     r.Lon,
		})
	}
	return locations, nil
}

func truncate(locations []Location, limit int) []Location {
	if len(locations) > limit {
		return locations[:limit]
	}
	return locations
}
