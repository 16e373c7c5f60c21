package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/weatherdash/internal/weather"
)

// ErrUnavailable is returned when a service a call needs did not start
var ErrUnavailable = errors.New("service unavailable")

// Snapshot combines the data of one location
type Snapshot struct {
	Location   string             `json:"location"`
	Conditions weather.Conditions `json:"conditions"`
	Current    json.RawMessage    `json:"current"`
	Forecast   json.RawMessage    `json:"forecast,omitempty"`
	AirQuality json.RawMessage    `json:"air_quality,omitempty"`
	// Stale is set when any part was served past its freshness TTL
	Stale bool `json:"stale"`
	// Warnings lists the optional parts that could not be fetched
	Warnings  []string  `json:"warnings,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Aggregator fetches current conditions, forecast and air quality together.
// The weather client is resolved from the registry on every call, so the
// aggregator keeps working once the client becomes available.
type Aggregator struct {
	registry *Registry
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator over registry
func NewAggregator(registry *Registry, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		registry: registry,
		logger:   logger.With("component", "data_aggregation"),
	}
}

// Snapshot fetches everything known about location. Current conditions are
// required; forecast and air quality failures become warnings.
func (a *Aggregator) Snapshot(ctx context.Context, location string) (Snapshot, error) {
	client, ok := Lookup[*weather.Client](a.registry, WeatherClient)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnavailable, WeatherClient)
	}

	current, err := a.current(ctx, client, location)
	if err != nil {
		return Snapshot{}, err
	}
	conditions, err := weather.ParseConditions(current.Payload)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Location:   location,
		Conditions: conditions,
		Current:    current.Payload,
		Stale:      current.Stale,
		FetchedAt:  time.Now(),
	}

	var (
		forecast, air weather.Result
		forecastErr   error
		airErr        error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		forecast, forecastErr = client.ForecastAt(gctx, conditions.Lat, conditions.Lon)
		return nil
	})
	g.Go(func() error {
		air, airErr = client.AirQuality(gctx, conditions.Lat, conditions.Lon)
		return nil
	})
	_ = g.Wait()

	if forecastErr != nil {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("forecast: %v", forecastErr))
	} else {
		snap.Forecast = forecast.Payload
		snap.Stale = snap.Stale || forecast.Stale
	}

	switch {
	case airErr != nil:
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("air quality: %v", airErr))
	case air.NoData:
		snap.Warnings = append(snap.Warnings, "air quality: no data for location")
	default:
		snap.AirQuality = air.Payload
		snap.Stale = snap.Stale || air.Stale
		if aqi, err := weather.ParseAirQuality(air.Payload); err == nil && aqi > 0 {
			snap.Conditions.AirQuality = aqi
		}
	}

	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	a.logger.Debug("snapshot assembled",
		"location", location,
		"stale", snap.Stale,
		"warnings", len(snap.Warnings))
	return snap, nil
}

func (a *Aggregator) current(ctx context.Context, client *weather.Client, location string) (weather.Result, error) {
	if lat, lon, ok := weather.ParseCoordinates(location); ok {
		return client.CurrentAt(ctx, lat, lon)
	}
	return client.Current(ctx, location)
}
