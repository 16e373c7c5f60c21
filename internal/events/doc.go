// Package events carries application notifications, such as weather alerts
// and service state changes, from the components that raise them to any
// number of registered handlers.
//
// The primary components are:
// - Event: a typed, timestamped notification with a JSON payload
// - EventHandler: interface for components that consume events
// - InMemoryEventEmitter: fans each event out to every registered handler
package events
