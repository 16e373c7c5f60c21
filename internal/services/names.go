package services

import (
	"time"

	"github.com/phrazzld/weatherdash/internal/loader"
)

// Service names registered by the Manager
const (
	Configuration       = "configuration"
	Logging             = "logging"
	WeatherClient       = "weather_client"
	Geocoding           = "geocoding"
	Cache               = "cache"
	DataAggregation     = "data_aggregation"
	Maps                = "maps"
	ActivitySuggestions = "activity_suggestions"
	Notifications       = "notifications"
	Export              = "export"
)

// declaration is the static part of a service task. Cached services keep
// their instance in the loader's task cache, so a later run inside the task
// TTL reuses it. Services that own connections or register listeners are
// rebuilt on every run.
type declaration struct {
	priority    loader.Priority
	timeout     time.Duration
	deps        []string
	maxAttempts int
	cached      bool
}

var declarations = map[string]declaration{
	Configuration:       {loader.PriorityCritical, 10 * time.Second, nil, 3, false},
	Logging:             {loader.PriorityCritical, 5 * time.Second, nil, 3, false},
	WeatherClient:       {loader.PriorityHigh, 15 * time.Second, []string{Configuration}, 3, true},
	Geocoding:           {loader.PriorityHigh, 10 * time.Second, []string{Configuration}, 3, true},
	Cache:               {loader.PriorityHigh, 8 * time.Second, []string{Configuration}, 3, false},
	DataAggregation:     {loader.PriorityNormal, 12 * time.Second, []string{Configuration, Cache}, 3, true},
	Maps:                {loader.PriorityNormal, 10 * time.Second, []string{Configuration}, 3, true},
	ActivitySuggestions: {loader.PriorityLow, 20 * time.Second, []string{WeatherClient}, 2, true},
	Notifications:       {loader.PriorityLow, 8 * time.Second, []string{Configuration}, 3, false},
	Export:              {loader.PriorityDeferred, 5 * time.Second, []string{Configuration}, 3, true},
}

// cacheKey is the task cache key of a cached service
func cacheKey(name string) string {
	if !declarations[name].cached {
		return ""
	}
	return "service:" + name
}

// order lists every service in declaration order
var order = []string{
	Configuration, Logging,
	WeatherClient, Geocoding, Cache,
	DataAggregation, Maps,
	ActivitySuggestions, Notifications,
	Export,
}
