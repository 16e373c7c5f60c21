package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure so that retry and fatal decisions are made by
// matching on a closed set of variants rather than inspecting messages.
type Kind int

// Failure kinds. NotFound is carried as a value for callers that need to
// distinguish "no such location" from a transport failure; the network client
// converts the valid 404 cases into results before they reach callers.
const (
	KindConfiguration Kind = iota + 1
	KindAuthentication
	KindRateLimit
	KindNetwork
	KindProviderUnavailable
	KindNotFound
	KindDependencyUnmet
)

// String returns the snake_case name of the kind, used in logs.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindNotFound:
		return "not_found"
	case KindDependencyUnmet:
		return "dependency_unmet"
	default:
		return "unknown"
	}
}

// Common errors returned by the resilience package
var (
	// ErrCircuitOpen is returned when a breaker rejects a call without forwarding it
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRetriesExhausted wraps the last error once every attempt has failed
	ErrRetriesExhausted = errors.New("retry attempts exhausted")
)

// Error is the tagged failure type shared by the network client, the task
// loader and the service manager.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "weather.current"
	Op string
	// RetryAfter is the server supplied hint for KindRateLimit, zero otherwise
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Kind == KindRateLimit && e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a tagged error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ConfigurationError reports a missing or invalid setting.
func ConfigurationError(op string, err error) *Error {
	return NewError(KindConfiguration, op, err)
}

// AuthenticationError reports a rejected credential (HTTP 401).
func AuthenticationError(op string, err error) *Error {
	return NewError(KindAuthentication, op, err)
}

// RateLimitError reports HTTP 429 together with the retry-after hint.
func RateLimitError(op string, retryAfter time.Duration, err error) *Error {
	e := NewError(KindRateLimit, op, err)
	e.RetryAfter = retryAfter
	return e
}

// NetworkError reports a timeout or connection failure.
func NetworkError(op string, err error) *Error {
	return NewError(KindNetwork, op, err)
}

// ProviderUnavailableError reports an upstream provider answering with an
// unexpected status or being short-circuited by its breaker.
func ProviderUnavailableError(op string, err error) *Error {
	return NewError(KindProviderUnavailable, op, err)
}

// NotFoundError reports a lookup that has no answer.
func NotFoundError(op string, err error) *Error {
	return NewError(KindNotFound, op, err)
}

// DependencyUnmetError reports a task whose prerequisites did not succeed.
func DependencyUnmetError(op string, err error) *Error {
	return NewError(KindDependencyUnmet, op, err)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// RetryAfter returns the rate limit hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimit {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable reports whether another attempt may succeed.
// Untagged errors are not retried.
func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindRateLimit, KindNetwork, KindProviderUnavailable:
		return true
	case KindConfiguration, KindAuthentication, KindNotFound, KindDependencyUnmet:
		return false
	default:
		return false
	}
}

// IsFatal reports whether err must stop the caller instead of being retried
// or degraded.
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindConfiguration, KindAuthentication:
		return true
	case KindRateLimit, KindNetwork, KindProviderUnavailable, KindNotFound, KindDependencyUnmet:
		return false
	default:
		return false
	}
}
