package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// CheckFunc reports the health of one dependency
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one named check
type CheckResult struct {
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthStatus aggregates every check of a HealthCheck
type HealthStatus struct {
	Service   string                 `json:"service"`
	Healthy   bool                   `json:"healthy"`
	Checks    map[string]CheckResult `json:"checks"`
	Errors    []string               `json:"errors,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
}

// HealthCheck runs a set of named checks and keeps the last status.
type HealthCheck struct {
	name   string
	checks map[string]CheckFunc
	last   *HealthStatus
	mu     sync.RWMutex
}

// NewHealthCheck creates an empty HealthCheck
func NewHealthCheck(name string) *HealthCheck {
	return &HealthCheck{
		name:   name,
		checks: make(map[string]CheckFunc),
	}
}

// Add registers a check, replacing any previous check with the same name
func (h *HealthCheck) Add(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every check. A panicking check is reported unhealthy.
func (h *HealthCheck) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Service:   h.name,
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(names)),
		CheckedAt: time.Now(),
	}
	for _, name := range names {
		err := runCheck(ctx, checks[name])
		result := CheckResult{Healthy: err == nil, CheckedAt: time.Now()}
		if err != nil {
			result.Error = err.Error()
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("health check %q failed: %v", name, err))
		}
		status.Checks[name] = result
	}

	h.mu.Lock()
	h.last = &status
	h.mu.Unlock()

	return status
}

// Last returns the most recent status, if Check has run
func (h *HealthCheck) Last() (HealthStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return HealthStatus{}, false
	}
	return *h.last, true
}

func runCheck(ctx context.Context, check CheckFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("check panicked: %v", rec)
		}
	}()
	return check(ctx)
}
