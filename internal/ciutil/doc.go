// Package ciutil detects CI environments and resolves the settings that
// integration tests read from the environment.
package ciutil
