package loader

import (
	"context"
	"time"
)

// Priority orders tiers; lower values run first
type Priority int

const (
	PriorityCritical Priority = iota + 1
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityDeferred
)

// Priorities lists every tier in scheduling order
var Priorities = []Priority{
	PriorityCritical,
	PriorityHigh,
	PriorityNormal,
	PriorityLow,
	PriorityDeferred,
}

// String returns the lowercase tier name
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

func (p Priority) valid() bool {
	return p >= PriorityCritical && p <= PriorityDeferred
}

// Operation produces the value of a task
type Operation func(ctx context.Context) (any, error)

// Task is one named unit of initialization work. Dependencies must name
// tasks on strictly earlier tiers or results supplied to Run.
type Task struct {
	Name         string
	Operation    Operation
	Priority     Priority
	Timeout      time.Duration
	Dependencies []string
	// MaxAttempts is the total number of attempts; zero means one
	MaxAttempts int
	// CacheKey, if set, lets a fresh task cache entry answer the task
	CacheKey string
}

// Result is the outcome of one task
type Result struct {
	TaskName  string
	Success   bool
	Value     any
	Err       error
	Duration  time.Duration
	FromCache bool
	Attempts  int
}
