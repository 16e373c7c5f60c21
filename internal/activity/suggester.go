package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/phrazzld/weatherdash/internal/cache"
	"github.com/phrazzld/weatherdash/internal/resilience"
	"github.com/phrazzld/weatherdash/internal/weather"
)

// ErrNoSuggestions is returned by a backend answering with nothing
var ErrNoSuggestions = errors.New("backend returned no suggestions")

// Source names where a suggestion set came from
type Source string

const (
	SourceBackend Source = "backend"
	SourceRules   Source = "rules"
)

// Suggestions is the answer of Suggester.Suggest
type Suggestions struct {
	Activities []Activity `json:"activities"`
	Source     Source     `json:"source"`
	FromCache  bool       `json:"from_cache"`
}

// DefaultPolicy is the retry policy around the backend
func DefaultPolicy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts:     2,
		BaseDelay:       time.Second,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// Suggester answers from its cache, then the backend, then the rules
type Suggester struct {
	backend Backend
	invoker resilience.Invoker
	cache   *cache.Store[Suggestions]
	logger  *slog.Logger
}

// NewSuggester creates a Suggester. backend, circuit and store may be nil.
func NewSuggester(backend Backend, policy resilience.Policy, circuit *resilience.CircuitBreaker, store *cache.Store[Suggestions], logger *slog.Logger) *Suggester {
	logger = logger.With("component", "activity_suggester")
	s := &Suggester{
		backend: backend,
		cache:   store,
		logger:  logger,
	}
	if backend != nil {
		s.invoker = resilience.NewResilient(policy, circuit, nil, logger)
	}
	return s
}

// HasBackend reports whether a backend is configured
func (s *Suggester) HasBackend() bool {
	return s.backend != nil
}

// Suggest returns activities for conditions. Backend failures are answered
// by the rules, so an error is only returned for a done context.
func (s *Suggester) Suggest(ctx context.Context, conditions weather.Conditions) (Suggestions, error) {
	key := cacheKey(conditions)
	if s.cache != nil {
		if cached, ok := s.cache.Fresh(key); ok {
			cached.FromCache = true
			return cached, nil
		}
	}

	rules := Suggestions{Activities: Rules(conditions), Source: SourceRules}
	result := rules
	if s.invoker != nil {
		inv := &resilience.Fallback{
			Func: func(ctx context.Context, err error) (any, error) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return rules, nil
			},
			Logger: s.logger,
			Next:   s.invoker,
		}

		var err error
		result, err = resilience.Do(ctx, inv, func(ctx context.Context) (Suggestions, error) {
			activities, err := s.backend.Suggest(ctx, conditions)
			if err != nil {
				return Suggestions{}, err
			}
			if len(activities) == 0 {
				return Suggestions{}, resilience.ProviderUnavailableError("activity_backend", ErrNoSuggestions)
			}
			return Suggestions{Activities: activities, Source: SourceBackend}, nil
		})
		if err != nil {
			return Suggestions{}, err
		}
	}

	// A rules fallback for a failed backend is not cached, so the next call
	// asks the backend again
	if s.cache != nil && !(s.HasBackend() && result.Source == SourceRules) {
		if err := s.cache.Set(ctx, key, cache.CategoryActivity, result); err != nil {
			s.logger.Warn("suggestions not cached", "error", err)
		}
	}
	return result, nil
}

func cacheKey(c weather.Conditions) string {
	return fmt.Sprintf("activity:%s:%s:%d:%d",
		strings.ToLower(c.Location), c.Summary, int(math.Round(c.Temperature)), c.AirQuality)
}
