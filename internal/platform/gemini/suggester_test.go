package gemini

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/phrazzld/weatherdash/internal/config"
	"github.com/phrazzld/weatherdash/internal/resilience"
	"github.com/phrazzld/weatherdash/internal/weather"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// mockModels implements modelClient with a function field
type mockModels struct {
	GenerateContentFn func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	lastPrompt        string
}

func (m *mockModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		m.lastPrompt = contents[0].Parts[0].Text
	}
	return m.GenerateContentFn(ctx, model, contents, cfg)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func newTestSuggester(m *mockModels) *Suggester {
	s := newSuggester(m, "gemini-test", setupTestLogger())
	s.now = func() time.Time { return time.Date(2024, time.July, 1, 14, 0, 0, 0, time.UTC) }
	return s
}

func TestNewSuggester_RequiresKey(t *testing.T) {
	_, err := NewSuggester(context.Background(), config.AIConfig{Model: "gemini-2.0-flash"}, setupTestLogger())
	assert.True(t, resilience.IsKind(err, resilience.KindConfiguration))

	_, err = NewSuggester(context.Background(), config.AIConfig{GeminiAPIKey: "key"}, setupTestLogger())
	assert.True(t, resilience.IsKind(err, resilience.KindConfiguration))
}

func TestSuggest_ParsesActivities(t *testing.T) {
	m := &mockModels{GenerateContentFn: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		assert.Equal(t, "gemini-test", model)
		assert.Equal(t, "application/json", cfg.ResponseMIMEType)
		return textResponse("```json\n" + `{"activities": [
			{"name": "Beach Volleyball", "category": "outdoor", "description": "Sun and sand", "duration": "2 hours"},
			{"name": "", "category": "indoor"}
		]}` + "\n```"), nil
	}}
	s := newTestSuggester(m)

	activities, err := s.Suggest(context.Background(), weather.Conditions{
		Location:    "Lisbon",
		Summary:     "clear",
		Description: "clear sky",
		Temperature: 29,
		AirQuality:  2,
	})
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "Beach Volleyball", activities[0].Name)

	assert.Contains(t, m.lastPrompt, "Location: Lisbon")
	assert.Contains(t, m.lastPrompt, "Temperature: 29.0")
	assert.Contains(t, m.lastPrompt, "Air quality index (1 good to 5 very poor): 2")
	assert.Contains(t, m.lastPrompt, "Time of day: afternoon")
	assert.Contains(t, m.lastPrompt, "Season: summer")
}

func TestSuggest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		resp  *genai.GenerateContentResponse
		err   error
		check func(t *testing.T, err error)
	}{
		{
			name: "api failure is provider unavailable",
			err:  errors.New("503 service unavailable"),
			check: func(t *testing.T, err error) {
				assert.True(t, resilience.IsKind(err, resilience.KindProviderUnavailable))
			},
		},
		{
			name: "rejected key is fatal",
			err:  genai.APIError{Code: 403, Message: "permission denied", Status: "PERMISSION_DENIED"},
			check: func(t *testing.T, err error) {
				assert.True(t, resilience.IsKind(err, resilience.KindAuthentication))
				assert.True(t, resilience.IsFatal(err))
			},
		},
		{
			name: "unauthorized is fatal",
			err:  genai.APIError{Code: 401, Status: "UNAUTHENTICATED"},
			check: func(t *testing.T, err error) {
				assert.True(t, resilience.IsKind(err, resilience.KindAuthentication))
			},
		},
		{
			name: "quota exhausted is a rate limit",
			err:  genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"},
			check: func(t *testing.T, err error) {
				assert.True(t, resilience.IsKind(err, resilience.KindRateLimit))
				assert.True(t, resilience.IsRetryable(err))
			},
		},
		{
			name: "invalid argument is configuration",
			err:  genai.APIError{Code: 400, Message: "API key not valid", Status: "INVALID_ARGUMENT"},
			check: func(t *testing.T, err error) {
				assert.True(t, resilience.IsKind(err, resilience.KindConfiguration))
			},
		},
		{
			name: "server error is provider unavailable",
			err:  genai.APIError{Code: 500, Status: "INTERNAL"},
			check: func(t *testing.T, err error) {
				assert.True(t, resilience.IsKind(err, resilience.KindProviderUnavailable))
			},
		},
		{
			name: "nil response",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidResponse)
			},
		},
		{
			name: "no candidates",
			resp: &genai.GenerateContentResponse{},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidResponse)
			},
		},
		{
			name: "blocked",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrContentBlocked)
			},
		},
		{
			name: "not json",
			resp: textResponse("here are some ideas"),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidResponse)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockModels{GenerateContentFn: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return tt.resp, tt.err
			}}
			_, err := newTestSuggester(m).Suggest(context.Background(), weather.Conditions{})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestSuggest_CancelledContext(t *testing.T) {
	m := &mockModels{GenerateContentFn: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return nil, ctx.Err()
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestSuggester(m).Suggest(ctx, weather.Conditions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, resilience.IsKind(err, resilience.KindProviderUnavailable))
}

func TestTimeOfDayAndSeason(t *testing.T) {
	assert.Equal(t, "morning", timeOfDay(time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)))
	assert.Equal(t, "evening", timeOfDay(time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC)))
	assert.Equal(t, "night", timeOfDay(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, "winter", season(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "autumn", season(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)))
}
