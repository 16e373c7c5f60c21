package services

import (
	"sort"
	"sync"

	"github.com/phrazzld/weatherdash/internal/loader"
)

// Registry maps service names to instances and keeps the task result
// behind each name, successful or not.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]any
	results   map[string]loader.Result
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]any),
		results:   make(map[string]loader.Result),
	}
}

// Record stores results. Successful results with a value become instances.
func (r *Registry) Record(results map[string]loader.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, result := range results {
		r.results[name] = result
		if result.Success && result.Value != nil {
			r.instances[name] = result.Value
		} else {
			delete(r.instances, name)
		}
	}
}

// Get returns the instance registered under name
func (r *Registry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[name]
	return instance, ok
}

// Available reports whether name resolved to an instance
func (r *Registry) Available(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Result returns the task result recorded for name
func (r *Registry) Result(name string) (loader.Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.results[name]
	return result, ok
}

// Results returns a copy of every recorded result
func (r *Registry) Results() map[string]loader.Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]loader.Result, len(r.results))
	for name, result := range r.results {
		out[name] = result
	}
	return out
}

// Names returns the sorted names of available services
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the instance under name as a T. A missing name or an
// instance of another type reports false.
func Lookup[T any](r *Registry, name string) (T, bool) {
	var zero T
	instance, ok := r.Get(name)
	if !ok {
		return zero, false
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
