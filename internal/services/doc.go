// Package services declares the application's startup task graph and owns
// the service instances it produces.
//
// The Manager runs the Critical tier (configuration, logging) first and
// treats any failure there as fatal. The High, Normal and Low tiers are then
// scheduled against the critical results; their failures are recorded and
// the service reads as unavailable. Deferred services are built on first
// use. Consumers look services up by name through the Registry and must
// handle a missing name as a feature that is unavailable.
package services
