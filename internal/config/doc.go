// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional YAML file. It also provides the
// read-only dotted key lookup used by startup tasks to fetch API keys.
package config
