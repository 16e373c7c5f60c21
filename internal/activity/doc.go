// Package activity suggests things to do for the current weather. A rule
// engine always answers; an optional Backend such as an LLM is tried first
// behind retry and a circuit breaker, falling back to the rules.
package activity
