package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/weatherdash/internal/events"
	"github.com/phrazzld/weatherdash/internal/weather"
)

// AlertThresholds decide which conditions raise a weather alert
type AlertThresholds struct {
	HeatTemperature   float64
	FreezeTemperature float64
	// WindSpeed in m/s
	WindSpeed float64
	// AirQuality on the 1..5 index
	AirQuality int
}

// DefaultAlertThresholds returns the metric alert thresholds
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		HeatTemperature:   35,
		FreezeTemperature: -10,
		WindSpeed:         17,
		AirQuality:        4,
	}
}

// alertPayload is the payload of a weather alert event
type alertPayload struct {
	Location string  `json:"location"`
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
	Limit    float64 `json:"limit"`
}

// Notifier raises weather alerts and fans them out to subscribers
type Notifier struct {
	emitter    *events.InMemoryEventEmitter
	thresholds AlertThresholds
	logger     *slog.Logger
}

// NewNotifier creates a Notifier
func NewNotifier(thresholds AlertThresholds, logger *slog.Logger) *Notifier {
	return &Notifier{
		emitter:    events.NewInMemoryEventEmitter(logger),
		thresholds: thresholds,
		logger:     logger.With("component", "notifications"),
	}
}

// Subscribe registers a handler for every notification
func (n *Notifier) Subscribe(handler events.EventHandler) {
	n.emitter.RegisterHandler(handler)
}

// Notify publishes one event. Subscriber failures are logged, not returned.
func (n *Notifier) Notify(ctx context.Context, event *events.Event) {
	if err := n.emitter.EmitEvent(ctx, event); err != nil {
		n.logger.Warn("notification subscriber failed", "event_type", event.Type, "error", err)
	}
}

// Recent returns up to limit recent notifications
func (n *Notifier) Recent(limit int) []*events.Event {
	return n.emitter.Recent(limit)
}

// CheckConditions raises an alert for every threshold conditions cross and
// returns the alerts raised.
func (n *Notifier) CheckConditions(ctx context.Context, c weather.Conditions) []*events.Event {
	t := n.thresholds
	var raised []*events.Event

	alert := func(severity events.Severity, title, metric string, value, limit float64) {
		event, err := events.NewEvent(events.TypeWeatherAlert, severity, title, alertPayload{
			Location: c.Location,
			Metric:   metric,
			Value:    value,
			Limit:    limit,
		})
		if err != nil {
			n.logger.Error("failed to build alert", "metric", metric, "error", err)
			return
		}
		raised = append(raised, event)
	}

	if c.Temperature >= t.HeatTemperature {
		alert(events.SeverityCritical, fmt.Sprintf("Extreme heat in %s", c.Location), "temperature", c.Temperature, t.HeatTemperature)
	}
	if c.Temperature <= t.FreezeTemperature {
		alert(events.SeverityCritical, fmt.Sprintf("Extreme cold in %s", c.Location), "temperature", c.Temperature, t.FreezeTemperature)
	}
	if c.WindSpeed >= t.WindSpeed {
		alert(events.SeverityWarning, fmt.Sprintf("High winds in %s", c.Location), "wind_speed", c.WindSpeed, t.WindSpeed)
	}
	if t.AirQuality > 0 && c.AirQuality >= t.AirQuality {
		alert(events.SeverityWarning, fmt.Sprintf("Poor air quality in %s", c.Location), "air_quality", float64(c.AirQuality), float64(t.AirQuality))
	}
	if c.Summary == "thunderstorm" {
		alert(events.SeverityWarning, fmt.Sprintf("Thunderstorms in %s", c.Location), "summary", 1, 1)
	}

	for _, event := range raised {
		n.Notify(ctx, event)
	}
	return raised
}
