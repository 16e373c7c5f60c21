package services

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/weatherdash/internal/config"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

const (
	londonCurrent = `{"name":"London","coord":{"lat":51.51,"lon":-0.13},` +
		`"main":{"temp":18.5,"feels_like":17.9,"humidity":70},` +
		`"weather":[{"main":"Clouds","description":"broken clouds"}],"wind":{"speed":4.1}}`
	londonForecast = `{"list":[{"dt":1717243200,"main":{"temp":19.2}}]}`
	londonAir      = `{"list":[{"main":{"aqi":4}}]}`
	londonGeo      = `[{"name":"London","country":"GB","lat":51.51,"lon":-0.13}]`
)

// fakeProvider serves the openweather routes. Each route can be switched to
// a failing status.
type fakeProvider struct {
	server         *httptest.Server
	currentStatus  atomic.Int32
	forecastStatus atomic.Int32
	airStatus      atomic.Int32
	calls          atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}

	route := func(status *atomic.Int32, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			p.calls.Add(1)
			if code := int(status.Load()); code != 0 {
				w.WriteHeader(code)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
	}

	var none atomic.Int32
	r := chi.NewRouter()
	r.Get("/weather", route(&p.currentStatus, londonCurrent))
	r.Get("/forecast", route(&p.forecastStatus, londonForecast))
	r.Get("/air_pollution", route(&p.airStatus, londonAir))
	r.Get("/geo/direct", route(&none, londonGeo))
	r.Get("/geo/reverse", route(&none, londonGeo))

	p.server = httptest.NewServer(r)
	t.Cleanup(p.server.Close)
	return p
}

// testConfig returns a valid configuration pointing every provider at url
func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		App: config.AppConfig{
			Name:      "weatherdash",
			DataDir:   dir,
			ExportDir: filepath.Join(dir, "exports"),
		},
		Server: config.ServerConfig{LogLevel: "debug"},
		Weather: config.WeatherConfig{
			APIKey:               "primary-key",
			Units:                "metric",
			OpenWeatherURL:       url,
			OpenWeatherGeoURL:    url + "/geo",
			WeatherAPIURL:        url + "/weatherapi",
			DefaultLocation:      "London",
			Timeout:              2 * time.Second,
			SwitchThreshold:      3,
			OfflineThreshold:     time.Minute,
			OfflineRetryInterval: time.Minute,
		},
		Retry: config.RetryConfig{
			MaxAttempts:     1,
			BaseDelay:       time.Millisecond,
			MaxDelay:        time.Millisecond,
			ExponentialBase: 2,
		},
		Breaker: config.BreakerConfig{Threshold: 5, Cooldown: time.Minute},
		Cache: config.CacheConfig{
			Backend:      "memory",
			File:         filepath.Join(dir, "weather_cache.json"),
			StaleCeiling: 2 * time.Hour,
		},
		Loader: config.LoaderConfig{
			Workers:        4,
			QueueSize:      16,
			RetryBackoff:   time.Millisecond,
			DefaultTimeout: 5 * time.Second,
		},
		Maps: config.MapsConfig{
			APIKey:       "maps-key",
			TileURL:      "https://tile.openweathermap.org/map",
			StaticMapURL: "https://maps.geoapify.com/v1/staticmap",
		},
		AI: config.AIConfig{Model: "gemini-2.0-flash"},
	}
}

// newTestManager creates a Manager whose logging service writes to stdout
func newTestManager(t *testing.T, cfg *config.Config) *Manager {
	t.Helper()
	m := NewManager(Options{
		Config:    cfg,
		LogOutput: os.Stdout,
		LogLevel:  "debug",
		Logger:    setupTestLogger(),
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}
