package weather

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildChain(t *testing.T) {
	chain := BuildChain(ChainConfig{PrimaryKey: "p"})
	require.Len(t, chain, 1)
	assert.Equal(t, ProviderPrimary, chain[0].Name)
	assert.Equal(t, DefaultOpenWeatherURL, chain[0].BaseURL)
	assert.Equal(t, "metric", chain[0].Units)

	// Without a backup key the chain skips straight to the alternate
	chain = BuildChain(ChainConfig{PrimaryKey: "p", AlternateKey: "a"})
	require.Len(t, chain, 2)
	assert.Equal(t, ProviderAlternate, chain[1].Name)
	assert.Equal(t, DialectWeatherAPI, chain[1].Dialect)

	chain = BuildChain(ChainConfig{PrimaryKey: "p", BackupKey: "b", AlternateKey: "a", Units: "imperial"})
	require.Len(t, chain, 3)
	assert.Equal(t, []string{ProviderPrimary, ProviderBackup, ProviderAlternate},
		[]string{chain[0].Name, chain[1].Name, chain[2].Name})
	assert.Equal(t, "b", chain[1].APIKey)
	assert.Equal(t, "imperial", chain[1].Units)
}

func TestProvider_RequestTranslation(t *testing.T) {
	ow := Provider{
		Name: ProviderPrimary, Dialect: DialectOpenWeather,
		BaseURL: "https://ow.test/data/2.5", GeoBaseURL: "https://ow.test/geo/1.0",
		APIKey: "owkey", Units: "metric",
	}
	wa := Provider{Name: ProviderAlternate, Dialect: DialectWeatherAPI, BaseURL: "https://wa.test/v1", APIKey: "wakey"}

	tests := []struct {
		name     string
		provider Provider
		req      Request
		path     string
		params   map[string]string
	}{
		{
			name: "openweather current by name", provider: ow,
			req:    Request{Endpoint: EndpointCurrent, Query: " London "},
			path:   "/data/2.5/weather",
			params: map[string]string{"q": "London", "appid": "owkey", "units": "metric"},
		},
		{
			name: "openweather forecast by coordinates", provider: ow,
			req:    Request{Endpoint: EndpointForecast, Lat: 51.5, Lon: -0.12, HasCoord: true},
			path:   "/data/2.5/forecast",
			params: map[string]string{"lat": "51.5", "lon": "-0.12", "units": "metric"},
		},
		{
			name: "openweather air quality", provider: ow,
			req:    Request{Endpoint: EndpointAirQuality, Lat: 1, Lon: 2, HasCoord: true},
			path:   "/data/2.5/air_pollution",
			params: map[string]string{"lat": "1", "lon": "2"},
		},
		{
			name: "openweather geocode", provider: ow,
			req:    Request{Endpoint: EndpointGeocode, Query: "Paris", Limit: 3},
			path:   "/geo/1.0/direct",
			params: map[string]string{"q": "Paris", "limit": "3"},
		},
		{
			name: "openweather reverse geocode", provider: ow,
			req:    Request{Endpoint: EndpointReverseGeocode, Lat: 48.85, Lon: 2.35, HasCoord: true, Limit: 1},
			path:   "/geo/1.0/reverse",
			params: map[string]string{"lat": "48.85", "lon": "2.35", "limit": "1"},
		},
		{
			name: "weatherapi current", provider: wa,
			req:    Request{Endpoint: EndpointCurrent, Query: "London"},
			path:   "/v1/current.json",
			params: map[string]string{"key": "wakey", "q": "London", "aqi": "yes"},
		},
		{
			name: "weatherapi forecast", provider: wa,
			req:    Request{Endpoint: EndpointForecast, Query: "London"},
			path:   "/v1/forecast.json",
			params: map[string]string{"q": "London", "days": "7", "alerts": "yes", "aqi": "yes"},
		},
		{
			name: "weatherapi air quality maps to current", provider: wa,
			req:    Request{Endpoint: EndpointAirQuality, Lat: 1.5, Lon: 2.25, HasCoord: true},
			path:   "/v1/current.json",
			params: map[string]string{"q": "1.5000,2.2500", "aqi": "yes"},
		},
		{
			name: "weatherapi geocode uses search", provider: wa,
			req:    Request{Endpoint: EndpointGeocode, Query: "Paris", Limit: 5},
			path:   "/v1/search.json",
			params: map[string]string{"q": "Paris"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpReq, err := tt.provider.newRequest(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.path, httpReq.URL.Path)
			query := httpReq.URL.Query()
			for k, v := range tt.params {
				assert.Equal(t, v, query.Get(k), "param %s", k)
			}
		})
	}
}

func TestProvider_UnknownDialect(t *testing.T) {
	_, err := Provider{Name: "x", Dialect: "carrier-pigeon"}.newRequest(context.Background(), Request{Endpoint: EndpointCurrent, Query: "a"})
	assert.Error(t, err)
}

func TestRequest_CacheKeyIgnoresCaseAndProvider(t *testing.T) {
	a := Request{Endpoint: EndpointCurrent, Query: "London"}
	b := Request{Endpoint: EndpointCurrent, Query: " london"}
	assert.Equal(t, a.CacheKey(), b.CacheKey())

	geo5 := Request{Endpoint: EndpointGeocode, Query: "London", Limit: 5}
	geo1 := Request{Endpoint: EndpointGeocode, Query: "London", Limit: 1}
	assert.NotEqual(t, geo5.CacheKey(), geo1.CacheKey())

	coords := Request{Endpoint: EndpointAirQuality, Lat: 51.50731, Lon: -0.12764, HasCoord: true}
	assert.Equal(t, "air_quality:51.5073,-0.1276", coords.CacheKey())
}
