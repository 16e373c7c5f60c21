package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity ranks how urgently an event should be surfaced
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event types raised by the application
const (
	TypeWeatherAlert  = "weather_alert"
	TypeServiceState  = "service_state"
	TypeBreakerChange = "breaker_change"
)

// Event represents one notification.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type names the kind of event, e.g. TypeWeatherAlert
	Type string `json:"type"`

	Severity Severity `json:"severity"`

	// Title is a short human readable summary
	Title string `json:"title"`

	// Payload contains the event specific data serialized as JSON
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent creates a new Event with the specified type and payload.
func NewEvent(eventType string, severity Severity, title string, payload any) (*Event, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = b
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Severity:  severity,
		Title:     title,
		Payload:   payloadBytes,
		CreatedAt: time.Now(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to EventHandler
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent implements EventHandler
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *Event) error
}
