package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/phrazzld/weatherdash/internal/cache"
	"github.com/phrazzld/weatherdash/internal/resilience"
)

const (
	// DefaultSwitchThreshold is the consecutive failure count that advances the provider chain
	DefaultSwitchThreshold = 3

	// DefaultOfflineThreshold is how long failures must persist before offline mode
	DefaultOfflineThreshold = 30 * time.Second

	// DefaultOfflineRetryInterval is the minimum gap between network probes while offline
	DefaultOfflineRetryInterval = time.Minute

	// DefaultTimeout bounds each HTTP request
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 5 << 20
)

// DefaultPolicy is the backoff between provider calls
func DefaultPolicy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        32 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// Result is the outcome of a successful or degraded fetch
type Result struct {
	Payload  json.RawMessage
	Provider string
	// FromCache is set when the payload was served without a network call
	FromCache bool
	// Stale is set when the payload is a fallback past its freshness TTL
	Stale bool
	// Age of a cached payload
	Age time.Duration
	// NotFound is a valid answer to a location lookup with no match
	NotFound bool
	// NoData is a valid answer to an air quality lookup with no coverage
	NoData bool
}

// Status is a point-in-time view of the client's degradation state
type Status struct {
	Offline             bool      `json:"offline"`
	Provider            string    `json:"provider"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	FailingSince        time.Time `json:"failing_since,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
}

// Options configures a Client. Providers and Cache are required.
type Options struct {
	Providers  []Provider
	Cache      *cache.Store[json.RawMessage]
	HTTPClient *http.Client

	// Policy drives the backoff between calls; DefaultPolicy when zero
	Policy resilience.Policy

	// Breaker, if set, observes the aggregate outcome of each fetch's retries
	Breaker *resilience.CircuitBreaker

	SwitchThreshold      int
	OfflineThreshold     time.Duration
	OfflineRetryInterval time.Duration

	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Client is the resilient network client. It is safe for concurrent use.
type Client struct {
	providers            []Provider
	store                *cache.Store[json.RawMessage]
	http                 *http.Client
	policy               resilience.Policy
	invoker              resilience.Invoker
	switchThreshold      int
	offlineThreshold     time.Duration
	offlineRetryInterval time.Duration
	now                  func() time.Time
	sleep                func(ctx context.Context, d time.Duration) error
	logger               *slog.Logger

	mu                  sync.Mutex
	current             int
	consecutiveFailures int
	failingSince        time.Time
	offline             bool
	lastAttempt         time.Time
	lastSuccess         time.Time
}

// Common client construction errors
var (
	ErrNoProviders = errors.New("weather client needs at least one provider")
	ErrNoCache     = errors.New("weather client needs a cache store")
)

// NewClient creates a Client. A primary provider without an API key is a
// Configuration error.
func NewClient(opts Options) (*Client, error) {
	if len(opts.Providers) == 0 {
		return nil, resilience.ConfigurationError("weather.client", ErrNoProviders)
	}
	if opts.Providers[0].APIKey == "" {
		return nil, resilience.ConfigurationError("weather.client",
			fmt.Errorf("missing API key for provider %s", opts.Providers[0].Name))
	}
	if opts.Cache == nil {
		return nil, resilience.ConfigurationError("weather.client", ErrNoCache)
	}

	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = DefaultPolicy()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		providers:            opts.Providers,
		store:                opts.Cache,
		http:                 httpClient,
		policy:               policy,
		switchThreshold:      opts.SwitchThreshold,
		offlineThreshold:     opts.OfflineThreshold,
		offlineRetryInterval: opts.OfflineRetryInterval,
		now:                  opts.Now,
		sleep:                opts.Sleep,
		logger:               logger.With("component", "weather_client"),
	}
	if c.switchThreshold <= 0 {
		c.switchThreshold = DefaultSwitchThreshold
	}
	if c.offlineThreshold <= 0 {
		c.offlineThreshold = DefaultOfflineThreshold
	}
	if c.offlineRetryInterval <= 0 {
		c.offlineRetryInterval = DefaultOfflineRetryInterval
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = resilience.SleepContext
	}

	c.invoker = &resilience.Breaker{
		Circuit: opts.Breaker,
		Next: &resilience.Retry{
			Policy: policy,
			Sleep:  c.sleep,
			Logger: c.logger,
			Next:   resilience.Direct{},
		},
	}
	return c, nil
}

// Fetch performs one lookup with layered degradation: fresh cache, network
// through breaker and retry, then stale cache.
func (c *Client) Fetch(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, resilience.ConfigurationError(req.op(), err)
	}

	key := req.CacheKey()
	if payload, ok := c.store.Fresh(key); ok {
		c.logger.Debug("serving fresh cache entry", "key", key)
		return Result{Payload: payload, FromCache: true}, nil
	}

	var (
		value any
		err   error
	)
	if c.skipNetwork() {
		err = resilience.NetworkError(req.op(), ErrOffline)
	} else {
		attempt := 0
		value, err = c.invoker.Invoke(ctx, func(ctx context.Context) (any, error) {
			attempt++
			return c.call(ctx, req, attempt)
		})
	}

	if err == nil {
		result, ok := value.(Result)
		if !ok {
			return Result{}, fmt.Errorf("unexpected result type %T", value)
		}
		if !result.NotFound && !result.NoData {
			if setErr := c.store.Set(ctx, key, req.Endpoint.Category(), result.Payload); setErr != nil {
				c.logger.Warn("fetched payload not persisted", "key", key, "error", setErr)
			}
		}
		return result, nil
	}

	if resilience.IsFatal(err) || resilience.IsKind(err, resilience.KindNotFound) || errors.Is(err, context.Canceled) {
		return Result{}, err
	}

	if payload, age, ok := c.store.Stale(key); ok {
		c.logger.Warn("fetch failed, serving stale cache entry",
			"key", key,
			"age", age,
			"error", err)
		return Result{Payload: payload, FromCache: true, Stale: true, Age: age}, nil
	}
	return Result{}, err
}

// call makes one HTTP attempt against the current provider
func (c *Client) call(ctx context.Context, req Request, attempt int) (any, error) {
	provider, failures := c.currentProvider()

	// Backoff carried over from earlier fetches; later attempts are spaced by Retry
	if attempt == 1 && failures > 0 {
		delay := c.policy.Delay(failures)
		c.logger.Info("applying backoff before request", "delay", delay, "consecutive_failures", failures)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	httpReq, err := provider.newRequest(ctx, req)
	if err != nil {
		return nil, resilience.ConfigurationError(req.op(), err)
	}

	c.markAttempt()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.recordFailure(provider.Name)
		return nil, resilience.NetworkError(req.op(), fmt.Errorf("%s: %w", provider.Name, err))
	}
	defer func() { _ = resp.Body.Close() }()

	result, err := c.classify(req, provider, resp)
	if err != nil {
		c.logger.Warn("provider request failed",
			"provider", provider.Name,
			"endpoint", req.Endpoint,
			"attempt", attempt,
			"error", err)
		return nil, err
	}

	c.recordSuccess(provider.Name)
	return result, nil
}

// classify maps an HTTP response to a Result or a tagged error
func (c *Client) classify(req Request, provider Provider, resp *http.Response) (Result, error) {
	op := req.op()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			c.recordFailure(provider.Name)
			return Result{}, resilience.NetworkError(op, fmt.Errorf("%s: reading body: %w", provider.Name, err))
		}
		if !json.Valid(body) {
			c.recordFailure(provider.Name)
			return Result{}, resilience.ProviderUnavailableError(op, fmt.Errorf("%s: malformed JSON response", provider.Name))
		}
		return Result{Payload: json.RawMessage(body), Provider: provider.Name}, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return Result{}, resilience.AuthenticationError(op, fmt.Errorf("%s rejected the API key", provider.Name))

	case resp.StatusCode == http.StatusTooManyRequests:
		c.recordFailure(provider.Name)
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return Result{}, resilience.RateLimitError(op, retryAfter, fmt.Errorf("%s: HTTP 429", provider.Name))

	case resp.StatusCode == http.StatusNotFound && req.Endpoint.isLocationLookup():
		return Result{Provider: provider.Name, NotFound: true}, nil

	case resp.StatusCode == http.StatusNotFound && req.Endpoint == EndpointAirQuality:
		return Result{Provider: provider.Name, NoData: true}, nil

	case resp.StatusCode == http.StatusNotFound:
		return Result{}, resilience.NotFoundError(op, fmt.Errorf("%s: location not found", provider.Name))

	default:
		c.recordFailure(provider.Name)
		return Result{}, resilience.ProviderUnavailableError(op,
			fmt.Errorf("%s returned status %d", provider.Name, resp.StatusCode))
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP date
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func (c *Client) currentProvider() (Provider, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.providers[c.current], c.consecutiveFailures
}

// skipNetwork reports whether offline mode suppresses this call
func (c *Client) skipNetwork() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offline && c.now().Sub(c.lastAttempt) < c.offlineRetryInterval
}

func (c *Client) markAttempt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAttempt = c.now()
}

func (c *Client) recordSuccess(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.offline {
		c.logger.Info("leaving offline mode", "provider", provider)
	}
	c.offline = false
	c.consecutiveFailures = 0
	c.failingSince = time.Time{}
	c.lastSuccess = c.now()
}

// recordFailure advances the counter, the provider pointer and the offline flag
func (c *Client) recordFailure(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.consecutiveFailures++
	if c.failingSince.IsZero() {
		c.failingSince = now
	}

	if c.consecutiveFailures >= c.switchThreshold {
		if c.current < len(c.providers)-1 {
			c.current++
			c.logger.Warn("switching provider after sustained failure",
				"from", provider,
				"to", c.providers[c.current].Name,
				"consecutive_failures", c.consecutiveFailures)
		}
		c.consecutiveFailures = 0
	}

	if !c.offline && now.Sub(c.failingSince) >= c.offlineThreshold {
		c.offline = true
		c.logger.Warn("entering offline mode", "failing_for", now.Sub(c.failingSince))
	}
}

// Status returns the current degradation state
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Offline:             c.offline,
		Provider:            c.providers[c.current].Name,
		ConsecutiveFailures: c.consecutiveFailures,
		FailingSince:        c.failingSince,
		LastSuccess:         c.lastSuccess,
	}
}

// Providers returns the names of the chain in order
func (c *Client) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name
	}
	return names
}

// Current fetches current conditions for a free text location
func (c *Client) Current(ctx context.Context, query string) (Result, error) {
	return c.Fetch(ctx, Request{Endpoint: EndpointCurrent, Query: query})
}

// CurrentAt fetches current conditions for coordinates
func (c *Client) CurrentAt(ctx context.Context, lat, lon float64) (Result, error) {
	return c.Fetch(ctx, Request{Endpoint: EndpointCurrent, Lat: lat, Lon: lon, HasCoord: true})
}

// Forecast fetches the forecast for a free text location
func (c *Client) Forecast(ctx context.Context, query string) (Result, error) {
	return c.Fetch(ctx, Request{Endpoint: EndpointForecast, Query: query})
}

// ForecastAt fetches the forecast for coordinates
func (c *Client) ForecastAt(ctx context.Context, lat, lon float64) (Result, error) {
	return c.Fetch(ctx, Request{Endpoint: EndpointForecast, Lat: lat, Lon: lon, HasCoord: true})
}

// AirQuality fetches air quality; Result.NoData is set where there is no coverage
func (c *Client) AirQuality(ctx context.Context, lat, lon float64) (Result, error) {
	return c.Fetch(ctx, Request{Endpoint: EndpointAirQuality, Lat: lat, Lon: lon, HasCoord: true})
}

// Geocode resolves a place name; Result.NotFound is set when nothing matches
func (c *Client) Geocode(ctx context.Context, query string, limit int) (Result, error) {
	return c.Fetch(ctx, Request{Endpoint: EndpointGeocode, Query: query, Limit: limit})
}

// ReverseGeocode resolves coordinates to place names
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64, limit int) (Result, error) {
	return c.Fetch(ctx, Request{Endpoint: EndpointReverseGeocode, Lat: lat, Lon: lon, HasCoord: true, Limit: limit})
}

// Cache returns the store backing the client
func (c *Client) Cache() *cache.Store[json.RawMessage] {
	return c.store
}
