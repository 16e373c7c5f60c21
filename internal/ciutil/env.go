package ciutil

import (
	"log/slog"
	"os"

	"github.com/phrazzld/weatherdash/internal/redact"
)

// Environment variables read by this package
const (
	// CI environment detection variables
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitLabCI      = "GITLAB_CI"
	EnvJenkinsURL    = "JENKINS_URL"
	EnvCircleCI      = "CIRCLECI"

	// Database connection environment variables, preferred name first
	EnvTestDatabaseURL = "WEATHERDASH_TEST_DATABASE_URL"
	EnvDatabaseURL     = "WEATHERDASH_DATABASE_URL"
)

// IsCI returns true if the current environment is a CI environment.
// It checks for common CI environment variables across different CI providers.
func IsCI() bool {
	return os.Getenv(EnvCI) != "" ||
		os.Getenv(EnvGitHubActions) != "" ||
		os.Getenv(EnvGitLabCI) != "" ||
		os.Getenv(EnvJenkinsURL) != "" ||
		os.Getenv(EnvCircleCI) != ""
}

// envWithFallbacks returns the value of the first non-empty environment variable
// from the provided list. If no environment variables are set, it returns the defaultValue.
// A fallback other than the first name is logged as legacy.
func envWithFallbacks(envVars []string, defaultValue string, logger *slog.Logger) string {
	for i, envVar := range envVars {
		if val := os.Getenv(envVar); val != "" {
			if i > 0 && logger != nil {
				logger.Warn("using fallback environment variable",
					"used_var", envVar,
					"preferred_var", envVars[0],
					"value", redact.String(val),
				)
			}
			return val
		}
	}
	return defaultValue
}

// TestDatabaseURL returns the postgres URL for integration tests, or an
// empty string when none is configured
func TestDatabaseURL(logger *slog.Logger) string {
	return envWithFallbacks([]string{EnvTestDatabaseURL, EnvDatabaseURL}, "", logger)
}
