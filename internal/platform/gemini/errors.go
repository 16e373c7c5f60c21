package gemini

import (
	"errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/phrazzld/weatherdash/internal/resilience"
)

// Error definitions for the gemini package.
var (
	// ErrInvalidResponse is returned when a response cannot be used
	ErrInvalidResponse = errors.New("invalid response from gemini")

	// ErrContentBlocked is returned when safety filters stop a response
	ErrContentBlocked = errors.New("content blocked by safety filters")
)

// classifyError maps a GenerateContent failure to a resilience kind.
// Rejected keys are fatal; quota errors are retried as rate limits.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return resilience.AuthenticationError("gemini", err)
		case http.StatusTooManyRequests:
			return resilience.RateLimitError("gemini", 0, err)
		case http.StatusBadRequest, http.StatusNotFound:
			// invalid keys and unknown models are reported as 400 and 404
			return resilience.ConfigurationError("gemini", err)
		}
	}
	return resilience.ProviderUnavailableError("gemini", err)
}
