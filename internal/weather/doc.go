// Package weather implements the resilient network client used for every
// weather, air quality and geocoding lookup.
//
// A Client owns an ordered provider chain (primary, backup, alternate), a
// consecutive failure counter, an offline flag and a cache store. Each fetch
// serves a fresh cache entry without touching the network; otherwise it calls
// the current provider through a circuit breaker wrapping an exponential
// backoff retry. Sustained failure advances the provider pointer and, after
// the offline threshold, suppresses network calls for a cooldown. When a
// fetch fails, a stale-but-usable cache entry is served before the error is
// surfaced.
package weather
