package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/weatherdash/internal/activity"
	"github.com/phrazzld/weatherdash/internal/api/shared"
	"github.com/phrazzld/weatherdash/internal/cache"
	"github.com/phrazzld/weatherdash/internal/loader"
	"github.com/phrazzld/weatherdash/internal/resilience"
	"github.com/phrazzld/weatherdash/internal/services"
	"github.com/phrazzld/weatherdash/internal/weather"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

const hotCurrent = `{"name":"Seville","coord":{"lat":37.39,"lon":-5.98},` +
	`"main":{"temp":41,"feels_like":43,"humidity":20},` +
	`"weather":[{"main":"Clear","description":"clear sky"}],"wind":{"speed":2}}`

// mockServices implements Services with func fields
type mockServices struct {
	summaryFn  func() services.Summary
	breakers   *resilience.Registry
	aggregator *services.Aggregator
	geocoder   *weather.Geocoder
	activities *activity.Suggester
	notifier   *services.Notifier
	exporterFn func(ctx context.Context) (*services.Exporter, error)
}

func (m *mockServices) Summary() services.Summary {
	if m.summaryFn == nil {
		return services.Summary{}
	}
	return m.summaryFn()
}

func (m *mockServices) Breakers() *resilience.Registry { return m.breakers }

func (m *mockServices) Aggregator() (*services.Aggregator, bool) {
	return m.aggregator, m.aggregator != nil
}

func (m *mockServices) Geocoder() (*weather.Geocoder, bool) {
	return m.geocoder, m.geocoder != nil
}

func (m *mockServices) Activities() (*activity.Suggester, bool) {
	return m.activities, m.activities != nil
}

func (m *mockServices) Notifier() (*services.Notifier, bool) {
	return m.notifier, m.notifier != nil
}

func (m *mockServices) Exporter(ctx context.Context) (*services.Exporter, error) {
	if m.exporterFn == nil {
		return nil, services.ErrUnavailable
	}
	return m.exporterFn(ctx)
}

// newProviderServer fakes the openweather routes
func newProviderServer(t *testing.T, currentStatus *atomic.Int32) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/weather", func(w http.ResponseWriter, r *http.Request) {
		if code := int(currentStatus.Load()); code != 0 {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write([]byte(hotCurrent))
	})
	r.Get("/forecast", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list":[]}`))
	})
	r.Get("/air_pollution", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list":[{"main":{"aqi":2}}]}`))
	})
	r.Get("/geo/direct", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"Seville","country":"ES","lat":37.39,"lon":-5.98}]`))
	})
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

// newFullServices wires real services against a fake provider
func newFullServices(t *testing.T, currentStatus *atomic.Int32) *mockServices {
	t.Helper()
	logger := setupTestLogger()
	server := newProviderServer(t, currentStatus)

	client, err := weather.NewClient(weather.Options{
		Providers: weather.BuildChain(weather.ChainConfig{
			PrimaryKey:        "key",
			OpenWeatherURL:    server.URL,
			OpenWeatherGeoURL: server.URL + "/geo",
		}),
		Cache:  cache.New[json.RawMessage](cache.Options{Logger: logger}, nil),
		Policy: resilience.Policy{MaxAttempts: 1, ExponentialBase: 1},
		Logger: logger,
	})
	require.NoError(t, err)

	registry := services.NewRegistry()
	registry.Record(map[string]loader.Result{
		services.WeatherClient: {Success: true, Value: client},
	})

	breakers := resilience.NewRegistry(resilience.DefaultBreakerConfig(), logger)
	breakers.Get("weather")

	exportDir := t.TempDir()
	return &mockServices{
		summaryFn:  func() services.Summary { return services.Summary{Total: 10, Available: 10} },
		breakers:   breakers,
		aggregator: services.NewAggregator(registry, logger),
		geocoder:   weather.NewGeocoder(client, logger),
		activities: activity.NewSuggester(nil, activity.DefaultPolicy(), nil, nil, logger),
		notifier:   services.NewNotifier(services.DefaultAlertThresholds(), logger),
		exporterFn: func(ctx context.Context) (*services.Exporter, error) {
			return services.NewExporter(exportDir, func() services.Summary { return services.Summary{} }, nil, logger), nil
		},
	}
}

func serve(t *testing.T, svc Services, health *resilience.HealthCheck, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	if health == nil {
		health = resilience.NewHealthCheck("test")
	}
	router := NewRouter(NewHandler(svc, health, setupTestLogger()))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	healthy := resilience.NewHealthCheck("test")
	healthy.Add("ok", func(ctx context.Context) error { return nil })
	w := serve(t, &mockServices{}, healthy, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	unhealthy := resilience.NewHealthCheck("test")
	unhealthy.Add("weather_client", func(ctx context.Context) error { return errors.New("offline") })
	w = serve(t, &mockServices{}, unhealthy, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var status resilience.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, "offline", status.Checks["weather_client"].Error)
}

func TestServicesAndBreakers(t *testing.T) {
	var status atomic.Int32
	svc := newFullServices(t, &status)

	w := serve(t, svc, nil, http.MethodGet, "/services")
	require.Equal(t, http.StatusOK, w.Code)
	var summary services.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 10, summary.Available)

	w = serve(t, svc, nil, http.MethodGet, "/breakers")
	require.Equal(t, http.StatusOK, w.Code)
	var breakers []resilience.BreakerStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &breakers))
	require.Len(t, breakers, 1)
	assert.Equal(t, resilience.StateClosed, breakers[0].State)
}

func TestBreakersBeforeConfiguration(t *testing.T) {
	w := serve(t, &mockServices{}, nil, http.MethodGet, "/breakers")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestResetBreaker(t *testing.T) {
	logger := setupTestLogger()
	breakers := resilience.NewRegistry(resilience.BreakerConfig{Threshold: 1, Cooldown: time.Hour}, logger)
	_, err := breakers.Get("weather").Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("down")
	})
	require.Error(t, err)
	require.Equal(t, resilience.StateOpen, breakers.Get("weather").State())
	svc := &mockServices{breakers: breakers}

	w := serve(t, svc, nil, http.MethodPost, "/breakers/weather/reset")
	require.Equal(t, http.StatusOK, w.Code)
	var status resilience.BreakerStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "weather", status.Name)
	assert.Equal(t, resilience.StateClosed, status.State)
	assert.Equal(t, resilience.StateClosed, breakers.Get("weather").State())

	w = serve(t, svc, nil, http.MethodPost, "/breakers/unknown/reset")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, &mockServices{}, nil, http.MethodPost, "/breakers/weather/reset")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWeather_RaisesAlerts(t *testing.T) {
	var status atomic.Int32
	svc := newFullServices(t, &status)

	w := serve(t, svc, nil, http.MethodGet, "/api/weather/Seville")
	require.Equal(t, http.StatusOK, w.Code)

	var resp WeatherResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Seville", resp.Snapshot.Conditions.Location)
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "Extreme heat in Seville", resp.Alerts[0].Title)

	w = serve(t, svc, nil, http.MethodGet, "/api/notifications")
	require.Equal(t, http.StatusOK, w.Code)
	var recent []json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recent))
	assert.Len(t, recent, 1)
}

func TestWeather_ErrorsAreMapped(t *testing.T) {
	tests := []struct {
		name     string
		status   int32
		expected int
		message  string
	}{
		{name: "rejected key", status: http.StatusUnauthorized, expected: http.StatusBadGateway, message: "Weather provider rejected the configured credentials"},
		{name: "unknown location", status: http.StatusNotFound, expected: http.StatusNotFound, message: "Location not found"},
		{name: "provider down", status: http.StatusInternalServerError, expected: http.StatusBadGateway, message: "Weather provider unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var status atomic.Int32
			status.Store(tt.status)
			svc := newFullServices(t, &status)

			w := serve(t, svc, nil, http.MethodGet, "/api/weather/Atlantis")
			assert.Equal(t, tt.expected, w.Code)

			var resp shared.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.message, resp.Error)
			assert.NotEmpty(t, resp.TraceID)
			assert.NotContains(t, w.Body.String(), "appid")
		})
	}
}

func TestUnavailableServices(t *testing.T) {
	for _, path := range []string{"/api/weather/London", "/api/weather/London/activities", "/api/locations?q=London", "/api/notifications"} {
		w := serve(t, &mockServices{}, nil, http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)

		var resp shared.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Feature unavailable", resp.Error, path)
	}
}

func TestActivities(t *testing.T) {
	var status atomic.Int32
	svc := newFullServices(t, &status)

	w := serve(t, svc, nil, http.MethodGet, "/api/weather/Seville/activities")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ActivitiesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, activity.SourceRules, resp.Source)
	assert.NotEmpty(t, resp.Activities)
}

func TestLocations(t *testing.T) {
	var status atomic.Int32
	svc := newFullServices(t, &status)

	w := serve(t, svc, nil, http.MethodGet, "/api/locations?q=Sev&limit=3")
	require.Equal(t, http.StatusOK, w.Code)
	var locations []weather.Location
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &locations))
	require.Len(t, locations, 1)
	assert.Equal(t, "ES", locations[0].Country)

	w = serve(t, svc, nil, http.MethodGet, "/api/locations?q=S")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExport(t *testing.T) {
	var status atomic.Int32
	svc := newFullServices(t, &status)

	w := serve(t, svc, nil, http.MethodPost, "/api/exports")
	require.Equal(t, http.StatusCreated, w.Code)
	var resp ExportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	_, err := os.Stat(resp.Path)
	assert.NoError(t, err)

	w = serve(t, &mockServices{}, nil, http.MethodPost, "/api/exports")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{services.ErrUnavailable, http.StatusServiceUnavailable},
		{services.ErrUnknownService, http.StatusNotFound},
		{weather.ErrQueryTooShort, http.StatusBadRequest},
		{resilience.RateLimitError("op", time.Second, errors.New("slow down")), http.StatusTooManyRequests},
		{resilience.NetworkError("op", weather.ErrOffline), http.StatusServiceUnavailable},
		{resilience.DependencyUnmetError("op", errors.New("dep")), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, MapErrorToStatusCode(tt.err), tt.err.Error())
		assert.NotEmpty(t, GetSafeErrorMessage(tt.err))
	}
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}
