// Package postgres provides a PostgreSQL backed cache.Persister so that
// several instances can share one weather cache, together with the embedded
// goose migrations that create its table.
package postgres
