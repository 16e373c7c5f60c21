package loader

import "sync"

// progressTracker reports per task and aggregate progress for one run.
// Callbacks are invoked one at a time.
type progressTracker struct {
	loader *Loader
	total  int

	mu        sync.Mutex
	completed int
}

func (t *progressTracker) complete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed++
	overall := 1.0
	if t.total > 0 {
		overall = float64(t.completed) / float64(t.total)
	}
	t.loader.notify(name, 1.0)
	t.loader.notify(OverallProgress, overall)
}

// notify calls every registered callback, containing panics
func (l *Loader) notify(name string, fraction float64) {
	l.progressMu.Lock()
	callbacks := make([]ProgressFunc, len(l.progress))
	copy(callbacks, l.progress)
	l.progressMu.Unlock()

	for _, fn := range callbacks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					l.logger.Error("progress callback panicked",
						"task_name", name,
						"panic", rec)
				}
			}()
			fn(name, fraction)
		}()
	}
}
