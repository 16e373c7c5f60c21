package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter stores registered handlers in memory and dispatches
// events to them in registration order. It keeps a bounded history of
// recent events.
type InMemoryEventEmitter struct {
	handlers   []EventHandler
	history    []*Event
	maxHistory int
	mu         sync.RWMutex
	logger     *slog.Logger
}

// DefaultHistorySize is the number of recent events kept by an emitter
const DefaultHistorySize = 100

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		handlers:   make([]EventHandler, 0),
		maxHistory: DefaultHistorySize,
		logger:     logger.With("component", "event_emitter"),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
}

// EmitEvent publishes the given event to all registered handlers.
// If any handler returns an error or panics, the event is still sent to all
// other handlers, and the first error encountered is returned.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *Event) error {
	e.mu.Lock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.history = append(e.history, event)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}
	e.mu.Unlock()

	e.logger.Debug("emitting event",
		"event_id", event.ID,
		"event_type", event.Type,
		"handler_count", len(handlers))

	if len(handlers) == 0 {
		e.logger.Debug("no handlers registered for event",
			"event_id", event.ID,
			"event_type", event.Type)
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := dispatch(ctx, handler, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Recent returns up to n of the most recent events, newest last
func (e *InMemoryEventEmitter) Recent(n int) []*Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if n <= 0 || n > len(e.history) {
		n = len(e.history)
	}
	out := make([]*Event, n)
	copy(out, e.history[len(e.history)-n:])
	return out
}

func dispatch(ctx context.Context, handler EventHandler, event *Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("event handler panicked: %v", rec)
		}
	}()
	return handler.HandleEvent(ctx, event)
}
