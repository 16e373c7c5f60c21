package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/phrazzld/weatherdash/internal/activity"
	"github.com/phrazzld/weatherdash/internal/cache"
	"github.com/phrazzld/weatherdash/internal/config"
	"github.com/phrazzld/weatherdash/internal/events"
	"github.com/phrazzld/weatherdash/internal/loader"
	"github.com/phrazzld/weatherdash/internal/platform/gemini"
	"github.com/phrazzld/weatherdash/internal/platform/logger"
	"github.com/phrazzld/weatherdash/internal/resilience"
	"github.com/phrazzld/weatherdash/internal/weather"
)

var (
	// ErrCriticalService is returned by Initialize when a Critical tier service fails
	ErrCriticalService = errors.New("critical service failed")

	// ErrNotInitialized is returned when a service is requested before Initialize succeeded
	ErrNotInitialized = errors.New("service manager is not initialized")

	// ErrUnknownService is returned for names the Manager does not declare
	ErrUnknownService = errors.New("unknown service")
)

// Breaker names
const (
	weatherBreaker   = "weather"
	geocodingBreaker = "geocoding"
	geminiBreaker    = "gemini"
)

// Options configures a Manager
type Options struct {
	// Config is validated by the configuration service. When nil the
	// configuration service loads it with config.Load.
	Config *config.Config

	// LogOutput and LogLevel configure the logging service. Defaults are
	// stdout and info.
	LogOutput io.Writer
	LogLevel  string

	// Loader overrides the scheduler settings of Config
	Loader *loader.Config

	// HTTPClient is shared by the weather and geocoding clients
	HTTPClient *http.Client

	// Alerts overrides DefaultAlertThresholds
	Alerts *AlertThresholds

	Logger *slog.Logger
}

// Manager declares the startup task graph, runs it through the loader and
// owns the resulting services.
type Manager struct {
	opts     Options
	loader   *loader.Loader
	registry *Registry
	logger   *slog.Logger

	mu          sync.RWMutex
	cfg         *config.Config
	breakers    *resilience.Registry
	payloads    *cache.Store[json.RawMessage]
	suggestions *cache.Store[activity.Suggestions]
	backend     *cacheBackend
	startedAt   time.Time
	duration    time.Duration
	initialized bool

	// deferredMu serializes first-use resolution of deferred services
	deferredMu sync.Mutex

	// intercept, when set, wraps every service operation
	intercept func(name string, op loader.Operation) loader.Operation
}

// NewManager creates a Manager. Nothing is started until Initialize.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	loaderConfig := loader.DefaultConfig()
	switch {
	case opts.Loader != nil:
		loaderConfig = *opts.Loader
	case opts.Config != nil:
		loaderConfig = loader.Config{
			Workers:        opts.Config.Loader.Workers,
			QueueSize:      opts.Config.Loader.QueueSize,
			RetryBackoff:   opts.Config.Loader.RetryBackoff,
			DefaultTimeout: opts.Config.Loader.DefaultTimeout,
		}
	}

	taskCache := cache.New[any](cache.Options{Logger: log}, nil)

	return &Manager{
		opts:     opts,
		loader:   loader.New(loaderConfig, taskCache, log),
		registry: NewRegistry(),
		logger:   log.With("component", "service_manager"),
	}
}

// Initialize runs the Critical tier, then the High, Normal and Low tiers
// against the critical results. A Critical failure returns
// ErrCriticalService and nothing else is scheduled. Other failures are
// recorded in the registry and logged.
func (m *Manager) Initialize(ctx context.Context) error {
	start := time.Now()
	m.mu.Lock()
	m.startedAt = start
	m.mu.Unlock()

	var critical, rest []loader.Task
	for _, task := range m.tasks() {
		switch task.Priority {
		case loader.PriorityCritical:
			critical = append(critical, task)
		case loader.PriorityDeferred:
		default:
			rest = append(rest, task)
		}
	}

	m.logger.Info("initializing services", "critical", len(critical), "eager", len(rest))

	results, err := m.loader.Run(ctx, critical, nil)
	m.registry.Record(results)
	if err != nil {
		m.finish(start)
		return fmt.Errorf("critical tier: %w", err)
	}
	for _, name := range loader.Names(results) {
		if result := results[name]; !result.Success {
			m.finish(start)
			m.logger.Error("critical service failed", "service", name, "error", result.Err)
			return fmt.Errorf("%w: %s: %w", ErrCriticalService, name, result.Err)
		}
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()

	results, err = m.loader.Run(ctx, rest, results)
	m.registry.Record(results)
	m.finish(start)

	failed := m.reportFailures(ctx, rest)
	m.logger.Info("services initialized",
		"available", len(m.registry.Names()),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds())

	if err != nil {
		return fmt.Errorf("service startup: %w", err)
	}
	return nil
}

func (m *Manager) finish(start time.Time) {
	m.mu.Lock()
	m.duration = time.Since(start)
	m.mu.Unlock()
}

// reportFailures logs every failed task and publishes it when notifications
// are available
func (m *Manager) reportFailures(ctx context.Context, tasks []loader.Task) int {
	notifier, _ := m.Notifier()
	failed := 0
	for _, task := range tasks {
		result, ok := m.registry.Result(task.Name)
		if !ok || result.Success {
			continue
		}
		failed++
		m.logger.Warn("service unavailable", "service", task.Name, "error", result.Err)

		if notifier == nil {
			continue
		}
		event, err := events.NewEvent(events.TypeServiceState, events.SeverityWarning,
			fmt.Sprintf("%s unavailable", task.Name),
			map[string]string{"service": task.Name, "error": errorString(result.Err)})
		if err == nil {
			notifier.Notify(ctx, event)
		}
	}
	return failed
}

// Service returns the named service, resolving a deferred service on first
// use
func (m *Manager) Service(ctx context.Context, name string) (any, error) {
	if instance, ok := m.registry.Get(name); ok {
		return instance, nil
	}
	s, declared := declarations[name]
	if !declared {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	if s.priority != loader.PriorityDeferred {
		return nil, m.unavailable(name)
	}

	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()
	if !initialized {
		return nil, ErrNotInitialized
	}

	m.deferredMu.Lock()
	defer m.deferredMu.Unlock()

	if instance, ok := m.registry.Get(name); ok {
		return instance, nil
	}

	task := m.task(name)
	results, err := m.loader.Run(ctx, []loader.Task{task}, m.registry.Results())
	if err != nil {
		return nil, err
	}
	m.registry.Record(map[string]loader.Result{name: results[name]})

	if instance, ok := m.registry.Get(name); ok {
		m.logger.Info("deferred service resolved", "service", name)
		return instance, nil
	}
	return nil, m.unavailable(name)
}

func (m *Manager) unavailable(name string) error {
	if result, ok := m.registry.Result(name); ok && result.Err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, name, result.Err)
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, name)
}

// Get returns an eagerly started service
func (m *Manager) Get(name string) (any, bool) {
	return m.registry.Get(name)
}

// Available reports whether name resolved to a service
func (m *Manager) Available(name string) bool {
	return m.registry.Available(name)
}

// Registry returns the service registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Config returns the loaded configuration
func (m *Manager) Config() (*config.Config, bool) {
	return Lookup[*config.Config](m.registry, Configuration)
}

// Logger returns the logger built by the logging service
func (m *Manager) Logger() (*slog.Logger, bool) {
	return Lookup[*slog.Logger](m.registry, Logging)
}

// WeatherClient returns the resilient weather client
func (m *Manager) WeatherClient() (*weather.Client, bool) {
	return Lookup[*weather.Client](m.registry, WeatherClient)
}

// Geocoder returns the geocoding service
func (m *Manager) Geocoder() (*weather.Geocoder, bool) {
	return Lookup[*weather.Geocoder](m.registry, Geocoding)
}

// Aggregator returns the data aggregation service
func (m *Manager) Aggregator() (*Aggregator, bool) {
	return Lookup[*Aggregator](m.registry, DataAggregation)
}

// Maps returns the maps service
func (m *Manager) Maps() (*MapsService, bool) {
	return Lookup[*MapsService](m.registry, Maps)
}

// Activities returns the activity suggestion service
func (m *Manager) Activities() (*activity.Suggester, bool) {
	return Lookup[*activity.Suggester](m.registry, ActivitySuggestions)
}

// Notifier returns the notification service
func (m *Manager) Notifier() (*Notifier, bool) {
	return Lookup[*Notifier](m.registry, Notifications)
}

// Exporter resolves the deferred export service
func (m *Manager) Exporter(ctx context.Context) (*Exporter, error) {
	instance, err := m.Service(ctx, Export)
	if err != nil {
		return nil, err
	}
	return instance.(*Exporter), nil
}

// Breakers returns the breaker registry, nil before configuration loaded
func (m *Manager) Breakers() *resilience.Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers
}

// Payloads returns the weather payload cache, nil before configuration loaded
func (m *Manager) Payloads() *cache.Store[json.RawMessage] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.payloads
}

// OnProgress registers a progress callback
func (m *Manager) OnProgress(fn loader.ProgressFunc) {
	m.loader.OnProgress(fn)
}

// Cancel stops any tier or task not yet started
func (m *Manager) Cancel() {
	m.loader.Cancel()
}

// ServiceStatus describes one declared service
type ServiceStatus struct {
	Name      string `json:"name"`
	Priority  string `json:"priority"`
	Available bool   `json:"available"`
	// Pending is set for deferred services not resolved yet
	Pending    bool   `json:"pending,omitempty"`
	FromCache  bool   `json:"from_cache,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Summary describes the state of every declared service
type Summary struct {
	Services   []ServiceStatus `json:"services"`
	Total      int             `json:"total"`
	Available  int             `json:"available"`
	Failed     int             `json:"failed"`
	DurationMs int64           `json:"duration_ms"`
	Cache      cache.Stats     `json:"cache"`
	TaskCache  cache.Stats     `json:"task_cache"`
	Weather    *weather.Status `json:"weather,omitempty"`
}

// Summary returns the current state of every declared service
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	duration := m.duration
	payloads := m.payloads
	m.mu.RUnlock()

	summary := Summary{
		Services:   make([]ServiceStatus, 0, len(order)),
		Total:      len(order),
		DurationMs: duration.Milliseconds(),
		TaskCache:  m.loader.CacheStats(),
	}
	if payloads != nil {
		summary.Cache = payloads.Stats()
	}
	if client, ok := m.WeatherClient(); ok {
		status := client.Status()
		summary.Weather = &status
	}

	for _, name := range order {
		status := ServiceStatus{
			Name:      name,
			Priority:  declarations[name].priority.String(),
			Available: m.registry.Available(name),
		}
		result, ok := m.registry.Result(name)
		switch {
		case ok:
			status.FromCache = result.FromCache
			status.Attempts = result.Attempts
			status.DurationMs = result.Duration.Milliseconds()
			status.Error = errorString(result.Err)
		case declarations[name].priority == loader.PriorityDeferred:
			status.Pending = true
		}
		if status.Available {
			summary.Available++
		} else if ok {
			summary.Failed++
		}
		summary.Services = append(summary.Services, status)
	}
	return summary
}

// HealthCheck returns checks over configuration, the weather client and the
// breakers
func (m *Manager) HealthCheck() *resilience.HealthCheck {
	health := resilience.NewHealthCheck("weatherdash")
	health.Add(Configuration, func(ctx context.Context) error {
		if !m.registry.Available(Configuration) {
			return m.unavailable(Configuration)
		}
		return nil
	})
	health.Add(WeatherClient, func(ctx context.Context) error {
		client, ok := m.WeatherClient()
		if !ok {
			return m.unavailable(WeatherClient)
		}
		if status := client.Status(); status.Offline {
			return fmt.Errorf("weather client offline after %d failures", status.ConsecutiveFailures)
		}
		return nil
	})
	health.Add("breakers", func(ctx context.Context) error {
		breakers := m.Breakers()
		if breakers == nil {
			return nil
		}
		for _, status := range breakers.Snapshot() {
			if status.State == resilience.StateOpen {
				return fmt.Errorf("circuit breaker %s is open", status.Name)
			}
		}
		return nil
	})
	return health
}

// Close flushes the caches, closes the cache backend and stops the loader
func (m *Manager) Close(ctx context.Context) error {
	m.mu.RLock()
	payloads, suggestions, backend := m.payloads, m.suggestions, m.backend
	m.mu.RUnlock()

	var errs []error
	if payloads != nil {
		errs = append(errs, payloads.Flush(ctx))
	}
	if suggestions != nil {
		errs = append(errs, suggestions.Flush(ctx))
	}
	if backend != nil {
		if err := backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close cache backend: %w", err))
		}
	}
	m.loader.Close()

	m.logger.Info("service manager closed")
	return errors.Join(errs...)
}

// tasks declares every service in order
func (m *Manager) tasks() []loader.Task {
	tasks := make([]loader.Task, 0, len(order))
	for _, name := range order {
		tasks = append(tasks, m.task(name))
	}
	return tasks
}

func (m *Manager) task(name string) loader.Task {
	s := declarations[name]
	op := m.operation(name)
	if m.intercept != nil {
		op = m.intercept(name, op)
	}
	return loader.Task{
		Name:         name,
		Operation:    op,
		Priority:     s.priority,
		Timeout:      s.timeout,
		Dependencies: s.deps,
		MaxAttempts:  s.maxAttempts,
		CacheKey:     cacheKey(name),
	}
}

func (m *Manager) operation(name string) loader.Operation {
	switch name {
	case Configuration:
		return m.startConfiguration
	case Logging:
		return m.startLogging
	case WeatherClient:
		return m.startWeatherClient
	case Geocoding:
		return m.startGeocoding
	case Cache:
		return m.startCache
	case DataAggregation:
		return m.startAggregation
	case Maps:
		return m.startMaps
	case ActivitySuggestions:
		return m.startActivities
	case Notifications:
		return m.startNotifications
	case Export:
		return m.startExport
	}
	return func(context.Context) (any, error) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
}

// serviceLogger prefers the logger built by the logging service
func (m *Manager) serviceLogger() *slog.Logger {
	if log, ok := m.Logger(); ok {
		return log
	}
	return m.logger
}

// config returns the configuration loaded by the configuration service
func (m *Manager) config() (*config.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return nil, resilience.ConfigurationError("services", ErrNotInitialized)
	}
	return m.cfg, nil
}

func (m *Manager) startConfiguration(ctx context.Context) (any, error) {
	cfg := m.opts.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, resilience.ConfigurationError("config.load", err)
		}
		cfg = loaded
	} else if err := config.Validate(cfg); err != nil {
		return nil, resilience.ConfigurationError("config.validate", err)
	}

	storeOpts := cache.Options{StaleCeiling: cfg.Cache.StaleCeiling, Logger: m.logger}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	if m.breakers == nil {
		m.breakers = resilience.NewRegistry(resilience.BreakerConfig{
			Threshold: cfg.Breaker.Threshold,
			Cooldown:  cfg.Breaker.Cooldown,
		}, m.logger)
	}
	if m.payloads == nil {
		m.payloads = cache.New[json.RawMessage](storeOpts, nil)
		m.suggestions = cache.New[activity.Suggestions](storeOpts, nil)
	}
	return cfg, nil
}

func (m *Manager) startLogging(ctx context.Context) (any, error) {
	out := m.opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	level := m.opts.LogLevel
	if level == "" {
		level = "info"
	}
	if _, ok := logger.ParseLevel(level); !ok {
		return nil, resilience.ConfigurationError("logging", fmt.Errorf("invalid log level %q", level))
	}
	return logger.New(out, level), nil
}

func (m *Manager) newWeatherClient(cfg *config.Config, breaker string) (*weather.Client, error) {
	httpClient := m.opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Weather.Timeout}
	}
	return weather.NewClient(weather.Options{
		Providers: weather.BuildChain(weather.ChainConfig{
			PrimaryKey:        cfg.Weather.APIKey,
			BackupKey:         cfg.Weather.BackupAPIKey,
			AlternateKey:      cfg.Weather.AlternateAPIKey,
			Units:             cfg.Weather.Units,
			OpenWeatherURL:    cfg.Weather.OpenWeatherURL,
			OpenWeatherGeoURL: cfg.Weather.OpenWeatherGeoURL,
			WeatherAPIURL:     cfg.Weather.WeatherAPIURL,
		}),
		Cache:      m.Payloads(),
		HTTPClient: httpClient,
		Policy: resilience.Policy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			BaseDelay:       cfg.Retry.BaseDelay,
			MaxDelay:        cfg.Retry.MaxDelay,
			ExponentialBase: cfg.Retry.ExponentialBase,
			Jitter:          cfg.Retry.Jitter,
		},
		Breaker:              m.Breakers().Get(breaker),
		SwitchThreshold:      cfg.Weather.SwitchThreshold,
		OfflineThreshold:     cfg.Weather.OfflineThreshold,
		OfflineRetryInterval: cfg.Weather.OfflineRetryInterval,
		Logger:               m.serviceLogger(),
	})
}

func (m *Manager) startWeatherClient(ctx context.Context) (any, error) {
	cfg, err := m.config()
	if err != nil {
		return nil, err
	}
	return m.newWeatherClient(cfg, weatherBreaker)
}

// startGeocoding builds a client of its own so geocoding failures trip a
// separate breaker
func (m *Manager) startGeocoding(ctx context.Context) (any, error) {
	cfg, err := m.config()
	if err != nil {
		return nil, err
	}
	client, err := m.newWeatherClient(cfg, geocodingBreaker)
	if err != nil {
		return nil, err
	}
	return weather.NewGeocoder(client, m.serviceLogger()), nil
}

func (m *Manager) startCache(ctx context.Context) (any, error) {
	cfg, err := m.config()
	if err != nil {
		return nil, err
	}
	log := m.serviceLogger()

	backend, err := openCacheBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	// An attempt that outlived its timeout must not replace the backend of
	// the attempt that followed it
	m.mu.Lock()
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		_ = backend.Close()
		return nil, err
	}
	previous := m.backend
	m.backend = backend
	payloads, suggestions := m.payloads, m.suggestions
	m.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}

	if backend.payloads != nil {
		if err := payloads.Attach(ctx, backend.payloads); err != nil {
			log.Warn("cache attached but not flushed", "backend", cfg.Cache.Backend, "error", err)
		}
	}
	if backend.suggestions != nil {
		if err := suggestions.Attach(ctx, backend.suggestions); err != nil {
			log.Warn("suggestion cache attached but not flushed", "backend", cfg.Cache.Backend, "error", err)
		}
	}
	if purged := payloads.Purge(); purged > 0 {
		log.Info("purged expired cache entries", "purged", purged)
	}
	return payloads, nil
}

func (m *Manager) startAggregation(ctx context.Context) (any, error) {
	return NewAggregator(m.registry, m.serviceLogger()), nil
}

func (m *Manager) startMaps(ctx context.Context) (any, error) {
	cfg, err := m.config()
	if err != nil {
		return nil, err
	}
	key, err := cfg.Require("maps.api_key")
	if err != nil {
		return nil, err
	}
	return NewMapsService(key, cfg.Maps.TileURL, cfg.Maps.StaticMapURL), nil
}

func (m *Manager) startActivities(ctx context.Context) (any, error) {
	cfg, err := m.config()
	if err != nil {
		return nil, err
	}
	log := m.serviceLogger()

	var backend activity.Backend
	if cfg.AI.GeminiAPIKey != "" {
		suggester, err := gemini.NewSuggester(ctx, cfg.AI, log)
		if err != nil {
			return nil, err
		}
		backend = suggester
	} else {
		log.Info("no gemini api key, activity suggestions use rules only")
	}

	m.mu.RLock()
	suggestions := m.suggestions
	m.mu.RUnlock()
	return activity.NewSuggester(backend, activity.DefaultPolicy(), m.Breakers().Get(geminiBreaker), suggestions, log), nil
}

func (m *Manager) startNotifications(ctx context.Context) (any, error) {
	thresholds := DefaultAlertThresholds()
	if m.opts.Alerts != nil {
		thresholds = *m.opts.Alerts
	}
	notifier := NewNotifier(thresholds, m.serviceLogger())

	m.Breakers().RegisterStateChangeListener(resilience.StateChangeFunc(func(name string, from, to resilience.State) {
		severity := events.SeverityInfo
		if to == resilience.StateOpen {
			severity = events.SeverityCritical
		}
		event, err := events.NewEvent(events.TypeBreakerChange, severity,
			fmt.Sprintf("circuit breaker %s %s", name, to),
			map[string]string{"breaker": name, "from": string(from), "to": string(to)})
		if err != nil {
			return
		}
		notifier.Notify(context.Background(), event)
	}))
	return notifier, nil
}

func (m *Manager) startExport(ctx context.Context) (any, error) {
	cfg, err := m.config()
	if err != nil {
		return nil, err
	}
	return NewExporter(cfg.App.ExportDir, m.Summary, m.Payloads(), m.serviceLogger()), nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
