package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/weatherdash/internal/cache"
	"github.com/phrazzld/weatherdash/internal/resilience"
)

// Common errors returned by the loader
var (
	// ErrInvalidGraph is returned by Validate for a malformed task set
	ErrInvalidGraph = errors.New("invalid task graph")

	// ErrCancelled marks tasks and runs stopped by Cancel
	ErrCancelled = errors.New("loading cancelled")

	// ErrTaskTimeout is returned when an attempt outlives its timeout
	ErrTaskTimeout = errors.New("task timed out")
)

// OverallProgress is the task name under which aggregate progress is reported
const OverallProgress = "overall"

// Config holds loader settings
type Config struct {
	// Workers bounds how many tasks run at once
	Workers int

	// QueueSize is the worker pool buffer
	QueueSize int

	// RetryBackoff is multiplied by the attempt number between attempts
	RetryBackoff time.Duration

	// DefaultTimeout applies to tasks without a timeout
	DefaultTimeout time.Duration
}

// DefaultConfig returns the loader defaults
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      64,
		RetryBackoff:   500 * time.Millisecond,
		DefaultTimeout: 30 * time.Second,
	}
}

// ProgressFunc receives a task name and a completion fraction in [0, 1]
type ProgressFunc func(name string, fraction float64)

// Loader schedules task graphs. Its cancel flag is shared by every run.
type Loader struct {
	config    Config
	pool      *WorkerPool
	cache     *cache.Store[any]
	logger    *slog.Logger
	cancelled atomic.Bool

	progressMu sync.Mutex
	progress   []ProgressFunc

	// sleep is replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Loader and starts its worker pool. store may be nil to
// disable task caching.
func New(config Config, store *cache.Store[any], logger *slog.Logger) *Loader {
	defaults := DefaultConfig()
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.RetryBackoff < 0 {
		config.RetryBackoff = 0
	}

	logger = logger.With("component", "loader")
	pool := NewWorkerPool(WorkerPoolConfig{
		WorkerCount: config.Workers,
		QueueSize:   config.QueueSize,
	}, logger)
	pool.Start()

	return &Loader{
		config: config,
		pool:   pool,
		cache:  store,
		logger: logger,
		sleep:  resilience.SleepContext,
	}
}

// OnProgress registers a progress callback
func (l *Loader) OnProgress(fn ProgressFunc) {
	if fn == nil {
		return
	}
	l.progressMu.Lock()
	defer l.progressMu.Unlock()
	l.progress = append(l.progress, fn)
}

// Cancel stops new tiers and tasks from starting. In-flight attempts run to
// completion or to their timeout.
func (l *Loader) Cancel() {
	if l.cancelled.CompareAndSwap(false, true) {
		l.logger.Warn("loading cancelled")
	}
}

// Cancelled reports whether Cancel has been called since the last Reset
func (l *Loader) Cancelled() bool {
	return l.cancelled.Load()
}

// Reset clears the cancel flag
func (l *Loader) Reset() {
	l.cancelled.Store(false)
}

// CacheStats returns the task cache statistics
func (l *Loader) CacheStats() cache.Stats {
	if l.cache == nil {
		return cache.Stats{}
	}
	return l.cache.Stats()
}

// Close stops the worker pool
func (l *Loader) Close() {
	l.pool.Stop()
}

// Validate checks a task set against already resolved results. It returns
// the tasks with defaults applied.
func (l *Loader) Validate(tasks []Task, resolved map[string]Result) ([]Task, error) {
	priorities := make(map[string]Priority, len(tasks))
	for _, t := range tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: task with empty name", ErrInvalidGraph)
		}
		if _, dup := priorities[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate task %q", ErrInvalidGraph, t.Name)
		}
		if _, dup := resolved[t.Name]; dup {
			return nil, fmt.Errorf("%w: task %q already resolved", ErrInvalidGraph, t.Name)
		}
		if !t.Priority.valid() {
			return nil, fmt.Errorf("%w: task %q has invalid priority %d", ErrInvalidGraph, t.Name, t.Priority)
		}
		priorities[t.Name] = t.Priority
	}

	normalized := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Operation == nil {
			return nil, fmt.Errorf("%w: task %q has no operation", ErrInvalidGraph, t.Name)
		}
		if t.MaxAttempts < 0 {
			return nil, fmt.Errorf("%w: task %q has negative max attempts", ErrInvalidGraph, t.Name)
		}
		if t.Timeout < 0 {
			return nil, fmt.Errorf("%w: task %q has negative timeout", ErrInvalidGraph, t.Name)
		}
		for _, dep := range t.Dependencies {
			depPriority, declared := priorities[dep]
			if declared && depPriority >= t.Priority {
				return nil, fmt.Errorf("%w: task %q (%s) depends on %q (%s) which is not on an earlier tier",
					ErrInvalidGraph, t.Name, t.Priority, dep, depPriority)
			}
		}

		if t.MaxAttempts == 0 {
			t.MaxAttempts = 1
		}
		if t.Timeout == 0 {
			t.Timeout = l.config.DefaultTimeout
		}
		normalized = append(normalized, t)
	}
	return normalized, nil
}

// Schedule runs tasks with no prior results
func (l *Loader) Schedule(ctx context.Context, tasks []Task) (map[string]Result, error) {
	return l.Run(ctx, tasks, nil)
}

// Run executes tasks tier by tier. resolved holds the results of earlier
// runs that tasks may depend on; they are included in the returned map.
// Task failures are recorded in their Result; the returned error is only
// set for an invalid graph, a cancelled run or a done context.
func (l *Loader) Run(ctx context.Context, tasks []Task, resolved map[string]Result) (map[string]Result, error) {
	tasks, err := l.Validate(tasks, resolved)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	logger := l.logger.With("run_id", runID)
	results := newResultSet(resolved)
	tracker := &progressTracker{loader: l, total: len(tasks)}

	tiers := groupByPriority(tasks)
	logger.Info("starting task run", "tasks", len(tasks), "tiers", len(tiers))
	start := time.Now()

	for _, tier := range tiers {
		if l.Cancelled() {
			logger.Warn("run cancelled before tier", "priority", tier.priority)
			return results.snapshot(), ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return results.snapshot(), fmt.Errorf("run aborted: %w", err)
		}

		tierStart := time.Now()
		l.runTier(ctx, logger, tier.tasks, results, tracker)
		logger.Info("tier complete",
			"priority", tier.priority,
			"tasks", len(tier.tasks),
			"duration", time.Since(tierStart))
	}

	logger.Info("task run complete", "duration", time.Since(start))
	if l.Cancelled() {
		return results.snapshot(), ErrCancelled
	}
	return results.snapshot(), nil
}

// runTier fans the tier out onto the pool and waits for every result
func (l *Loader) runTier(ctx context.Context, logger *slog.Logger, tasks []Task, results *resultSet, tracker *progressTracker) {
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		err := l.pool.Submit(ctx, func() {
			defer wg.Done()
			result := l.runTask(ctx, logger, t, results)
			results.put(result)
			tracker.complete(t.Name)
		})
		if err != nil {
			wg.Done()
			results.put(Result{TaskName: t.Name, Err: fmt.Errorf("task not started: %w", err)})
			tracker.complete(t.Name)
		}
	}
	wg.Wait()
}

// runTask resolves one task: dependency check, cache lookup, then attempts
func (l *Loader) runTask(ctx context.Context, logger *slog.Logger, t Task, results *resultSet) Result {
	start := time.Now()
	logger = logger.With("task_name", t.Name)
	fail := func(err error, attempts int) Result {
		return Result{TaskName: t.Name, Err: err, Duration: time.Since(start), Attempts: attempts}
	}

	if l.Cancelled() {
		return fail(ErrCancelled, 0)
	}

	for _, dep := range t.Dependencies {
		r, ok := results.get(dep)
		switch {
		case !ok:
			logger.Warn("dependency missing", "dependency", dep)
			return fail(resilience.DependencyUnmetError(t.Name, fmt.Errorf("dependency %q is missing", dep)), 0)
		case !r.Success:
			logger.Warn("dependency failed", "dependency", dep)
			return fail(resilience.DependencyUnmetError(t.Name, fmt.Errorf("dependency %q failed: %w", dep, r.Err)), 0)
		}
	}

	if t.CacheKey != "" && l.cache != nil {
		if value, ok := l.cache.Fresh(t.CacheKey); ok {
			logger.Debug("task answered from cache", "cache_key", t.CacheKey)
			return Result{TaskName: t.Name, Success: true, Value: value, Duration: time.Since(start), FromCache: true}
		}
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= t.MaxAttempts; attempt++ {
		if l.Cancelled() {
			lastErr = ErrCancelled
			break
		}

		attempts = attempt
		value, err := l.attempt(ctx, t)
		if err == nil {
			if t.CacheKey != "" && l.cache != nil {
				if setErr := l.cache.Set(ctx, t.CacheKey, cache.CategoryTask, value); setErr != nil {
					logger.Warn("task result not cached", "error", setErr)
				}
			}
			logger.Info("task succeeded", "attempts", attempt, "duration", time.Since(start))
			return Result{TaskName: t.Name, Success: true, Value: value, Duration: time.Since(start), Attempts: attempt}
		}

		lastErr = err
		logger.Warn("task attempt failed",
			"attempt", attempt,
			"max_attempts", t.MaxAttempts,
			"error", err)

		if resilience.IsFatal(err) || ctx.Err() != nil {
			break
		}
		if attempt < t.MaxAttempts {
			if err := l.sleep(ctx, l.config.RetryBackoff*time.Duration(attempt)); err != nil {
				lastErr = fmt.Errorf("retry interrupted: %w", err)
				break
			}
		}
	}

	logger.Error("task failed", "attempts", attempts, "error", lastErr)
	return fail(lastErr, attempts)
}

type outcome struct {
	value any
	err   error
}

// attempt races one call of the operation against its timeout. A timed out
// operation is abandoned, not stopped: its goroutine runs outside the worker
// pool until it returns, so operations must check ctx before publishing side
// effects.
func (l *Loader) attempt(ctx context.Context, t Task) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("task %q panicked: %v", t.Name, rec)}
			}
		}()
		value, err := t.Operation(attemptCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s after %s", ErrTaskTimeout, t.Name, t.Timeout)
	}
}

type tier struct {
	priority Priority
	tasks    []Task
}

// groupByPriority returns the non-empty tiers in scheduling order
func groupByPriority(tasks []Task) []tier {
	byPriority := make(map[Priority][]Task)
	for _, t := range tasks {
		byPriority[t.Priority] = append(byPriority[t.Priority], t)
	}

	tiers := make([]tier, 0, len(byPriority))
	for _, p := range Priorities {
		if ts, ok := byPriority[p]; ok {
			tiers = append(tiers, tier{priority: p, tasks: ts})
		}
	}
	return tiers
}

// resultSet is the synchronized result map of one run
type resultSet struct {
	mu      sync.RWMutex
	results map[string]Result
}

func newResultSet(resolved map[string]Result) *resultSet {
	results := make(map[string]Result, len(resolved))
	for name, r := range resolved {
		results[name] = r
	}
	return &resultSet{results: results}
}

func (s *resultSet) get(name string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[name]
	return r, ok
}

func (s *resultSet) put(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.TaskName] = r
}

func (s *resultSet) snapshot() map[string]Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Result, len(s.results))
	for name, r := range s.results {
		out[name] = r
	}
	return out
}

// Names returns the sorted task names of results
func Names(results map[string]Result) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
