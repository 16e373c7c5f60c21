// Package redact removes credentials from strings before they are logged or
// returned in error responses. Provider errors routinely embed request URLs,
// which carry API keys as query parameters.
package redact

import "regexp"

// Placeholders substituted for redacted content
const (
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

var rules = []rule{
	// API keys passed as query parameters: appid (openweather), key
	// (weatherapi), apiKey (geoapify)
	{
		pattern:     regexp.MustCompile(`(?i)([?&](?:appid|key|api_?key)=)[^&\s"'#]+`),
		replacement: "${1}" + RedactedKeyPlaceholder,
	},
	// user:password@ in connection URLs
	{
		pattern:     regexp.MustCompile(`(?i)\b(postgres(?:ql)?|rediss?)://[^@\s/]+@`),
		replacement: "${1}://" + RedactedCredentialPlaceholder + "@",
	},
	// Google API keys (gemini)
	{
		pattern:     regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		replacement: RedactedKeyPlaceholder,
	},
	// key=value pairs naming a secret
	{
		pattern:     regexp.MustCompile(`(?i)\b(api[_-]?key|password|secret|token)(\s*[=:]\s*)['"]?[^'"&\s,]{4,}['"]?`),
		replacement: "${1}${2}" + RedactedKeyPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`),
		replacement: RedactedStackPlaceholder,
	},
}

// String redacts credentials from input
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts credentials from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
