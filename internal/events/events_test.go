package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	type alertPayload struct {
		Location    string  `json:"location"`
		Temperature float64 `json:"temperature"`
	}

	payload := alertPayload{Location: "Madrid", Temperature: 41}

	event, err := NewEvent(TypeWeatherAlert, SeverityCritical, "Extreme heat", payload)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, TypeWeatherAlert, event.Type)
	assert.Equal(t, SeverityCritical, event.Severity)
	assert.Equal(t, "Extreme heat", event.Title)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)

	var decoded alertPayload
	require.NoError(t, event.UnmarshalPayload(&decoded))
	assert.Equal(t, payload, decoded)
}

func TestNewEvent_NilPayload(t *testing.T) {
	event, err := NewEvent(TypeServiceState, SeverityInfo, "ready", nil)
	require.NoError(t, err)
	assert.Nil(t, event.Payload)
}

func TestNewEvent_UnencodablePayload(t *testing.T) {
	_, err := NewEvent(TypeServiceState, SeverityInfo, "bad", map[string]any{"ch": make(chan int)})
	var unsupported *json.UnsupportedTypeError
	assert.ErrorAs(t, err, &unsupported)
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *Event
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *Event) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}
