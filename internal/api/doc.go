// Package api serves the diagnostics and dashboard HTTP surface over the
// service manager. It translates HTTP concerns to service calls and maps the
// service error taxonomy to status codes without leaking provider details.
package api
