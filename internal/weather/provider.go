package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Dialect is the request convention of a provider
type Dialect string

const (
	DialectOpenWeather Dialect = "openweather"
	DialectWeatherAPI  Dialect = "weatherapi"
)

// Provider names in chain order
const (
	ProviderPrimary   = "openweather"
	ProviderBackup    = "openweather_backup"
	ProviderAlternate = "weatherapi"
)

// Default endpoints
const (
	DefaultOpenWeatherURL    = "https://api.openweathermap.org/data/2.5"
	DefaultOpenWeatherGeoURL = "https://api.openweathermap.org/geo/1.0"
	DefaultWeatherAPIURL     = "https://api.weatherapi.com/v1"
)

// Provider is one upstream HTTP API with its credentials
type Provider struct {
	Name    string
	Dialect Dialect
	BaseURL string
	// GeoBaseURL is used by the openweather dialect for geocoding
	GeoBaseURL string
	APIKey     string
	Units      string
}

// ChainConfig describes the providers of a chain. Providers without a key
// are left out, except the primary which is always first.
type ChainConfig struct {
	PrimaryKey        string
	BackupKey         string
	AlternateKey      string
	Units             string
	OpenWeatherURL    string
	OpenWeatherGeoURL string
	WeatherAPIURL     string
}

// BuildChain returns the ordered provider chain
func BuildChain(cfg ChainConfig) []Provider {
	owURL := firstNonEmpty(cfg.OpenWeatherURL, DefaultOpenWeatherURL)
	geoURL := firstNonEmpty(cfg.OpenWeatherGeoURL, DefaultOpenWeatherGeoURL)
	units := firstNonEmpty(cfg.Units, "metric")

	chain := []Provider{{
		Name:       ProviderPrimary,
		Dialect:    DialectOpenWeather,
		BaseURL:    owURL,
		GeoBaseURL: geoURL,
		APIKey:     cfg.PrimaryKey,
		Units:      units,
	}}
	if cfg.BackupKey != "" {
		chain = append(chain, Provider{
			Name:       ProviderBackup,
			Dialect:    DialectOpenWeather,
			BaseURL:    owURL,
			GeoBaseURL: geoURL,
			APIKey:     cfg.BackupKey,
			Units:      units,
		})
	}
	if cfg.AlternateKey != "" {
		chain = append(chain, Provider{
			Name:    ProviderAlternate,
			Dialect: DialectWeatherAPI,
			BaseURL: firstNonEmpty(cfg.WeatherAPIURL, DefaultWeatherAPIURL),
			APIKey:  cfg.AlternateKey,
			Units:   units,
		})
	}
	return chain
}

// newRequest translates req into the provider's URL and query parameters
func (p Provider) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	var (
		endpoint string
		params   = url.Values{}
	)

	switch p.Dialect {
	case DialectOpenWeather:
		endpoint, params = p.openWeather(req)
	case DialectWeatherAPI:
		endpoint, params = p.weatherAPI(req)
	default:
		return nil, fmt.Errorf("unknown provider dialect %q", p.Dialect)
	}

	target := endpoint
	if encoded := params.Encode(); encoded != "" {
		target += "?" + encoded
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", p.Name, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	return httpReq, nil
}

func (p Provider) openWeather(req Request) (string, url.Values) {
	params := url.Values{}
	params.Set("appid", p.APIKey)

	switch req.Endpoint {
	case EndpointGeocode:
		params.Set("q", strings.TrimSpace(req.Query))
		params.Set("limit", strconv.Itoa(req.Limit))
		return p.GeoBaseURL + "/direct", params
	case EndpointReverseGeocode:
		setCoords(params, req)
		params.Set("limit", strconv.Itoa(req.Limit))
		return p.GeoBaseURL + "/reverse", params
	case EndpointAirQuality:
		setCoords(params, req)
		return p.BaseURL + "/air_pollution", params
	case EndpointForecast:
		p.setLocation(params, req)
		return p.BaseURL + "/forecast", params
	default:
		p.setLocation(params, req)
		return p.BaseURL + "/weather", params
	}
}

func (p Provider) setLocation(params url.Values, req Request) {
	if req.usesQuery() {
		params.Set("q", strings.TrimSpace(req.Query))
	} else {
		setCoords(params, req)
	}
	params.Set("units", p.Units)
}

func setCoords(params url.Values, req Request) {
	params.Set("lat", strconv.FormatFloat(req.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(req.Lon, 'f', -1, 64))
}

// weatherAPI maps every lookup onto current.json, forecast.json or search.json
func (p Provider) weatherAPI(req Request) (string, url.Values) {
	params := url.Values{}
	params.Set("key", p.APIKey)
	params.Set("q", req.location())

	switch req.Endpoint {
	case EndpointGeocode, EndpointReverseGeocode:
		return p.BaseURL + "/search.json", params
	case EndpointForecast:
		params.Set("aqi", "yes")
		params.Set("days", "7")
		params.Set("alerts", "yes")
		return p.BaseURL + "/forecast.json", params
	default:
		// Air quality is part of the current conditions payload
		params.Set("aqi", "yes")
		return p.BaseURL + "/current.json", params
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
