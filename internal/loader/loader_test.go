package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/weatherdash/internal/cache"
	"github.com/phrazzld/weatherdash/internal/resilience"
)

func newTestLoader(t *testing.T, store *cache.Store[any]) *Loader {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	l := New(cfg, store, setupTestLogger())
	t.Cleanup(l.Close)
	return l
}

func value(v any) Operation {
	return func(ctx context.Context) (any, error) { return v, nil }
}

func failing(err error) Operation {
	return func(ctx context.Context) (any, error) { return nil, err }
}

// countingOp records how often it was invoked
type countingOp struct {
	calls atomic.Int32
	fn    Operation
}

func (c *countingOp) op(ctx context.Context) (any, error) {
	c.calls.Add(1)
	return c.fn(ctx)
}

func TestSchedule_DependencyRunsFirst(t *testing.T) {
	l := newTestLoader(t, nil)

	var aDone atomic.Bool
	dependent := func(ctx context.Context) (any, error) {
		if !aDone.Load() {
			return nil, errors.New("started before dependency")
		}
		return "ok", nil
	}

	results, err := l.Schedule(context.Background(), []Task{
		{Name: "b", Operation: dependent, Priority: PriorityHigh, Dependencies: []string{"a"}},
		{Name: "c", Operation: dependent, Priority: PriorityHigh, Dependencies: []string{"a"}},
		{Name: "a", Priority: PriorityCritical, Operation: func(ctx context.Context) (any, error) {
			time.Sleep(20 * time.Millisecond)
			aDone.Store(true)
			return "config", nil
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, Names(results))
	for _, name := range []string{"a", "b", "c"} {
		assert.True(t, results[name].Success, name)
	}
	assert.Equal(t, "config", results["a"].Value)
}

func TestSchedule_FailedDependencySkipsDependents(t *testing.T) {
	l := newTestLoader(t, nil)

	b := &countingOp{fn: value("b")}
	c := &countingOp{fn: value("c")}

	results, err := l.Schedule(context.Background(), []Task{
		{Name: "a", Operation: failing(errors.New("boom")), Priority: PriorityCritical},
		{Name: "b", Operation: b.op, Priority: PriorityHigh, Dependencies: []string{"a"}, MaxAttempts: 3},
		{Name: "c", Operation: c.op, Priority: PriorityHigh, Dependencies: []string{"a"}, CacheKey: "c"},
	})
	require.NoError(t, err)

	assert.False(t, results["a"].Success)
	for _, name := range []string{"b", "c"} {
		r := results[name]
		assert.False(t, r.Success)
		assert.True(t, resilience.IsKind(r.Err, resilience.KindDependencyUnmet), name)
		assert.Zero(t, r.Attempts)
	}
	assert.Zero(t, b.calls.Load())
	assert.Zero(t, c.calls.Load())
}

func TestSchedule_UnknownDependencyIsUnmet(t *testing.T) {
	l := newTestLoader(t, nil)

	results, err := l.Schedule(context.Background(), []Task{
		{Name: "b", Operation: value("b"), Priority: PriorityNormal, Dependencies: []string{"ghost"}},
	})
	require.NoError(t, err)
	assert.True(t, resilience.IsKind(results["b"].Err, resilience.KindDependencyUnmet))
}

func TestSchedule_SameTierRunsConcurrently(t *testing.T) {
	l := newTestLoader(t, nil)

	sleepy := func(d time.Duration) Operation {
		return func(ctx context.Context) (any, error) {
			time.Sleep(d)
			return nil, nil
		}
	}

	start := time.Now()
	results, err := l.Schedule(context.Background(), []Task{
		{Name: "one", Operation: sleepy(100 * time.Millisecond), Priority: PriorityNormal},
		{Name: "two", Operation: sleepy(100 * time.Millisecond), Priority: PriorityNormal},
		{Name: "three", Operation: sleepy(100 * time.Millisecond), Priority: PriorityNormal},
		{Name: "four", Operation: sleepy(150 * time.Millisecond), Priority: PriorityNormal},
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Len(t, results, 4)
	assert.Less(t, elapsed, 350*time.Millisecond, "tasks should overlap")
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestSchedule_RetriesUntilSuccess(t *testing.T) {
	l := newTestLoader(t, nil)

	var sleeps []time.Duration
	var mu sync.Mutex
	l.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		sleeps = append(sleeps, d)
		return nil
	}

	flaky := &countingOp{}
	flaky.fn = func(ctx context.Context) (any, error) {
		if flaky.calls.Load() < 3 {
			return nil, errors.New("not yet")
		}
		return "weather", nil
	}

	results, err := l.Schedule(context.Background(), []Task{
		{Name: "configuration", Operation: value("cfg"), Priority: PriorityCritical},
		{Name: "weather", Operation: flaky.op, Priority: PriorityHigh, Dependencies: []string{"configuration"}, MaxAttempts: 3},
	})
	require.NoError(t, err)

	r := results["weather"]
	assert.True(t, r.Success)
	assert.Equal(t, "weather", r.Value)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, sleeps)
}

func TestSchedule_ExhaustedRetriesKeepLastError(t *testing.T) {
	l := newTestLoader(t, nil)

	op := &countingOp{fn: failing(errors.New("still broken"))}
	results, err := l.Schedule(context.Background(), []Task{
		{Name: "maps", Operation: op.op, Priority: PriorityNormal, MaxAttempts: 2},
	})
	require.NoError(t, err)

	r := results["maps"]
	assert.False(t, r.Success)
	assert.EqualError(t, r.Err, "still broken")
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, int32(2), op.calls.Load())
}

func TestSchedule_FatalErrorIsNotRetried(t *testing.T) {
	l := newTestLoader(t, nil)

	op := &countingOp{fn: failing(resilience.ConfigurationError("weather", errors.New("missing api key")))}
	results, err := l.Schedule(context.Background(), []Task{
		{Name: "weather", Operation: op.op, Priority: PriorityHigh, MaxAttempts: 3},
	})
	require.NoError(t, err)

	assert.True(t, resilience.IsKind(results["weather"].Err, resilience.KindConfiguration))
	assert.Equal(t, int32(1), op.calls.Load())
}

func TestSchedule_Timeout(t *testing.T) {
	l := newTestLoader(t, nil)

	results, err := l.Schedule(context.Background(), []Task{
		{
			Name:     "slow",
			Priority: PriorityNormal,
			Timeout:  20 * time.Millisecond,
			Operation: func(ctx context.Context) (any, error) {
				time.Sleep(200 * time.Millisecond)
				return "late", nil
			},
		},
	})
	require.NoError(t, err)

	r := results["slow"]
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Err, ErrTaskTimeout)
	assert.Less(t, r.Duration, 150*time.Millisecond)
}

func TestSchedule_PanicBecomesFailure(t *testing.T) {
	l := newTestLoader(t, nil)

	results, err := l.Schedule(context.Background(), []Task{
		{Name: "bad", Priority: PriorityLow, Operation: func(ctx context.Context) (any, error) {
			panic("kaboom")
		}},
	})
	require.NoError(t, err)
	assert.False(t, results["bad"].Success)
	assert.ErrorContains(t, results["bad"].Err, "kaboom")
}

func TestSchedule_CacheHitSkipsExecution(t *testing.T) {
	store := cache.New[any](cache.Options{Logger: setupTestLogger()}, nil)
	l := newTestLoader(t, store)

	op := &countingOp{fn: value("computed")}
	tasks := []Task{{Name: "geocoding", Operation: op.op, Priority: PriorityHigh, CacheKey: "task:geocoding"}}

	first, err := l.Schedule(context.Background(), tasks)
	require.NoError(t, err)
	assert.False(t, first["geocoding"].FromCache)

	second, err := l.Schedule(context.Background(), tasks)
	require.NoError(t, err)
	assert.True(t, second["geocoding"].FromCache)
	assert.Equal(t, "computed", second["geocoding"].Value)
	assert.Equal(t, int32(1), op.calls.Load())
	assert.Equal(t, uint64(1), l.CacheStats().Hits)
}

func TestSchedule_Cancel(t *testing.T) {
	l := newTestLoader(t, nil)

	later := &countingOp{fn: value("later")}
	results, err := l.Schedule(context.Background(), []Task{
		{Name: "first", Priority: PriorityCritical, Operation: func(ctx context.Context) (any, error) {
			l.Cancel()
			return "done", nil
		}},
		{Name: "second", Operation: later.op, Priority: PriorityHigh},
	})
	assert.ErrorIs(t, err, ErrCancelled)

	// In-flight work completes; the next tier never starts
	assert.True(t, results["first"].Success)
	_, ran := results["second"]
	assert.False(t, ran)
	assert.Zero(t, later.calls.Load())

	l.Reset()
	assert.False(t, l.Cancelled())
	_, err = l.Schedule(context.Background(), []Task{{Name: "second", Operation: later.op, Priority: PriorityHigh}})
	assert.NoError(t, err)
	assert.Equal(t, int32(1), later.calls.Load())
}

func TestSchedule_ContextDone(t *testing.T) {
	l := newTestLoader(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Schedule(ctx, []Task{{Name: "a", Operation: value(1), Priority: PriorityCritical}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSchedule_ProgressCallbacks(t *testing.T) {
	l := newTestLoader(t, nil)

	var mu sync.Mutex
	perTask := map[string]float64{}
	var overall []float64

	l.OnProgress(func(name string, fraction float64) {
		panic("untrusted consumer")
	})
	l.OnProgress(func(name string, fraction float64) {
		mu.Lock()
		defer mu.Unlock()
		if name == OverallProgress {
			overall = append(overall, fraction)
			return
		}
		perTask[name] = fraction
	})

	results, err := l.Schedule(context.Background(), []Task{
		{Name: "a", Operation: value(1), Priority: PriorityCritical},
		{Name: "b", Operation: failing(errors.New("x")), Priority: PriorityHigh},
		{Name: "c", Operation: value(3), Priority: PriorityHigh},
		{Name: "d", Operation: value(4), Priority: PriorityLow},
	})
	require.NoError(t, err)
	assert.Len(t, results, 4)

	assert.Equal(t, map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1}, perTask)
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1}, overall)
}

func TestRun_SeedResultsSatisfyDependencies(t *testing.T) {
	l := newTestLoader(t, nil)

	seed := map[string]Result{
		"configuration": {TaskName: "configuration", Success: true, Value: "cfg"},
	}
	results, err := l.Run(context.Background(), []Task{
		{Name: "maps", Operation: value("maps"), Priority: PriorityNormal, Dependencies: []string{"configuration"}},
	}, seed)
	require.NoError(t, err)

	assert.Equal(t, []string{"configuration", "maps"}, Names(results))
	assert.True(t, results["maps"].Success)
}

func TestValidate(t *testing.T) {
	l := newTestLoader(t, nil)

	tests := []struct {
		name    string
		tasks   []Task
		seed    map[string]Result
		wantErr bool
	}{
		{
			name:  "valid",
			tasks: []Task{{Name: "a", Operation: value(1), Priority: PriorityCritical}},
		},
		{
			name:    "empty name",
			tasks:   []Task{{Operation: value(1), Priority: PriorityCritical}},
			wantErr: true,
		},
		{
			name: "duplicate name",
			tasks: []Task{
				{Name: "a", Operation: value(1), Priority: PriorityCritical},
				{Name: "a", Operation: value(1), Priority: PriorityHigh},
			},
			wantErr: true,
		},
		{
			name:    "collides with seed",
			tasks:   []Task{{Name: "a", Operation: value(1), Priority: PriorityHigh}},
			seed:    map[string]Result{"a": {TaskName: "a", Success: true}},
			wantErr: true,
		},
		{
			name:    "nil operation",
			tasks:   []Task{{Name: "a", Priority: PriorityCritical}},
			wantErr: true,
		},
		{
			name:    "invalid priority",
			tasks:   []Task{{Name: "a", Operation: value(1), Priority: 9}},
			wantErr: true,
		},
		{
			name:    "negative attempts",
			tasks:   []Task{{Name: "a", Operation: value(1), Priority: PriorityLow, MaxAttempts: -1}},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			tasks:   []Task{{Name: "a", Operation: value(1), Priority: PriorityLow, Timeout: -time.Second}},
			wantErr: true,
		},
		{
			name: "same tier dependency",
			tasks: []Task{
				{Name: "a", Operation: value(1), Priority: PriorityHigh},
				{Name: "b", Operation: value(1), Priority: PriorityHigh, Dependencies: []string{"a"}},
			},
			wantErr: true,
		},
		{
			name: "later tier dependency",
			tasks: []Task{
				{Name: "a", Operation: value(1), Priority: PriorityHigh, Dependencies: []string{"b"}},
				{Name: "b", Operation: value(1), Priority: PriorityLow},
			},
			wantErr: true,
		},
		{
			name:    "self dependency",
			tasks:   []Task{{Name: "a", Operation: value(1), Priority: PriorityHigh, Dependencies: []string{"a"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Validate(tt.tasks, tt.seed)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGraph)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	l := newTestLoader(t, nil)

	tasks, err := l.Validate([]Task{{Name: "a", Operation: value(1), Priority: PriorityCritical}}, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].MaxAttempts)
	assert.Equal(t, DefaultConfig().DefaultTimeout, tasks[0].Timeout)
}

func TestSchedule_InvalidGraphRunsNothing(t *testing.T) {
	l := newTestLoader(t, nil)

	op := &countingOp{fn: value(1)}
	_, err := l.Schedule(context.Background(), []Task{
		{Name: "a", Operation: op.op, Priority: PriorityCritical},
		{Name: "a", Operation: op.op, Priority: PriorityHigh},
	})
	assert.ErrorIs(t, err, ErrInvalidGraph)
	assert.Zero(t, op.calls.Load())
}

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "deferred", PriorityDeferred.String())
	assert.Equal(t, "unknown", Priority(0).String())
}
