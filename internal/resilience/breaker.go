package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State represents circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the circuit
	Threshold uint32 `mapstructure:"threshold" validate:"gte=1"`

	// Cooldown is how long the circuit stays open before a probe is allowed
	Cooldown time.Duration `mapstructure:"cooldown" validate:"gt=0"`
}

// DefaultBreakerConfig returns the breaker settings used for provider calls
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Cooldown:  60 * time.Second,
	}
}

// Counts represents circuit breaker statistics
type Counts struct {
	Requests            uint32
	TotalFailures       uint32
	ConsecutiveFailures uint32
}

// CircuitBreaker guards calls to one named operation.
// Closed trips to Open after Threshold consecutive failures, Open admits a
// single probe (HalfOpen) once Cooldown has elapsed since it opened, and the
// probe's outcome closes or re-opens the circuit.
//
// Calls cancelled by the caller are not counted. A cancelled HalfOpen probe
// re-opens the circuit since it proved nothing about recovery.
type CircuitBreaker struct {
	name     string
	settings gobreaker.Settings

	mu      sync.RWMutex
	breaker *gobreaker.TwoStepCircuitBreaker
}

// NewCircuitBreaker creates a breaker. onChange may be nil.
func NewCircuitBreaker(name string, cfg BreakerConfig, onChange func(name string, from, to State)) *CircuitBreaker {
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = DefaultBreakerConfig().Threshold
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultBreakerConfig().Cooldown
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0, // never clear counts while closed
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
	if onChange != nil {
		settings.OnStateChange = func(_ string, from gobreaker.State, to gobreaker.State) {
			onChange(name, convertState(from), convertState(to))
		}
	}

	return &CircuitBreaker{
		name:     name,
		settings: settings,
		breaker:  gobreaker.NewTwoStepCircuitBreaker(settings),
	}
}

func (b *CircuitBreaker) current() *gobreaker.TwoStepCircuitBreaker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.breaker
}

// Reset closes the circuit and clears its counts. Calls already admitted
// finish against the old state and are not counted.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breaker = gobreaker.NewTwoStepCircuitBreaker(b.settings)
}

// Name returns the breaker name
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Execute runs op through the breaker. A rejected call returns a
// ProviderUnavailable error wrapping ErrCircuitOpen and op is not invoked.
// A context that is already done returns its error without touching the
// breaker.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation) (value any, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cb := b.current()
	done, err := cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ProviderUnavailableError(b.name, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name))
		}
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			done(false)
			panic(rec)
		}
	}()

	value, err = op(ctx)
	switch {
	case err == nil || IsKind(err, KindNotFound):
		// "not found" is a valid answer from a healthy provider
		done(true)
	case errors.Is(err, context.Canceled):
		// done is a no-op for a request from an earlier generation
		if cb.State() == gobreaker.StateHalfOpen {
			done(false)
		}
	default:
		done(false)
	}
	return value, err
}

// Wrap returns the guarded form of op.
func (b *CircuitBreaker) Wrap(op Operation) Operation {
	return func(ctx context.Context) (any, error) {
		return b.Execute(ctx, op)
	}
}

// State returns the current state. Reading the state also performs the
// Open to HalfOpen transition once the cooldown has elapsed.
func (b *CircuitBreaker) State() State {
	return convertState(b.current().State())
}

// Counts returns the counters of the current generation
func (b *CircuitBreaker) Counts() Counts {
	counts := b.current().Counts()
	return Counts{
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}

// StateChangeListener is notified when a breaker owned by a Registry changes state
type StateChangeListener interface {
	OnStateChange(name string, from State, to State)
}

// StateChangeFunc adapts a function to StateChangeListener
type StateChangeFunc func(name string, from State, to State)

// OnStateChange implements StateChangeListener
func (f StateChangeFunc) OnStateChange(name string, from State, to State) {
	f(name, from, to)
}

// BreakerStatus is a point-in-time view of one breaker
type BreakerStatus struct {
	Name                string `json:"name"`
	State               State  `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	TotalFailures       uint32 `json:"total_failures"`
	Requests            uint32 `json:"requests"`
}

// Registry owns named circuit breakers. It is constructed explicitly and
// passed to the components that need breakers.
type Registry struct {
	config    BreakerConfig
	breakers  map[string]*CircuitBreaker
	listeners []StateChangeListener
	mu        sync.RWMutex
	logger    *slog.Logger
}

// NewRegistry creates a registry whose breakers use cfg
func NewRegistry(cfg BreakerConfig, logger *slog.Logger) *Registry {
	return &Registry{
		config:    cfg,
		breakers:  make(map[string]*CircuitBreaker),
		listeners: make([]StateChangeListener, 0),
		logger:    logger.With("component", "breaker_registry"),
	}
}

// Get returns the breaker for name, creating it on first use
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	breaker, exists := r.breakers[name]
	r.mu.RUnlock()
	if exists {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists = r.breakers[name]; exists {
		return breaker
	}

	breaker = NewCircuitBreaker(name, r.config, r.handleStateChange)
	r.breakers[name] = breaker
	r.logger.Debug("created circuit breaker", "breaker", name)

	return breaker
}

// Reset closes the named breaker in place, so holders of the breaker see
// the reset. It reports false for an unknown name.
func (r *Registry) Reset(name string) bool {
	r.mu.RLock()
	breaker, exists := r.breakers[name]
	r.mu.RUnlock()
	if !exists {
		return false
	}

	from := breaker.State()
	breaker.Reset()
	r.logger.Info("circuit breaker reset", "breaker", name, "from", from)
	if from != StateClosed {
		r.handleStateChange(name, from, StateClosed)
	}
	return true
}

// RegisterStateChangeListener registers a listener for state change notifications
func (r *Registry) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		r.logger.Warn("attempted to register a nil state change listener")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// Snapshot returns the status of every breaker, sorted by name
func (r *Registry) Snapshot() []BreakerStatus {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	statuses := make([]BreakerStatus, 0, len(breakers))
	for _, b := range breakers {
		counts := b.Counts()
		statuses = append(statuses, BreakerStatus{
			Name:                b.Name(),
			State:               b.State(),
			ConsecutiveFailures: counts.ConsecutiveFailures,
			TotalFailures:       counts.TotalFailures,
			Requests:            counts.Requests,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// handleStateChange runs while gobreaker holds its own lock, so listeners are
// notified from separate goroutines.
func (r *Registry) handleStateChange(name string, from State, to State) {
	switch to {
	case StateOpen:
		r.logger.Error("circuit breaker opened, requests will fail fast", "breaker", name, "from", from)
	case StateHalfOpen:
		r.logger.Info("circuit breaker half-open, probing recovery", "breaker", name)
	case StateClosed:
		r.logger.Info("circuit breaker closed", "breaker", name, "from", from)
	}

	r.mu.RLock()
	listeners := make([]StateChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, listener := range listeners {
		go func(l StateChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("state change listener panicked", "breaker", name, "panic", rec)
				}
			}()
			l.OnStateChange(name, from, to)
		}(listener)
	}
}
