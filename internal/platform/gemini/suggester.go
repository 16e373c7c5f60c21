package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/weatherdash/internal/activity"
	"github.com/phrazzld/weatherdash/internal/config"
	"github.com/phrazzld/weatherdash/internal/resilience"
	"github.com/phrazzld/weatherdash/internal/weather"
)

const promptText = `You are an activity recommendation system. Suggest {{.Count}} diverse activities for the weather below.

Location: {{.Location}}
Conditions: {{.Description}} ({{.Summary}})
Temperature: {{printf "%.1f" .Temperature}} (feels like {{printf "%.1f" .FeelsLike}})
Humidity: {{printf "%.0f" .Humidity}}%
Wind speed: {{printf "%.1f" .WindSpeed}} m/s
{{- if .AirQuality}}
Air quality index (1 good to 5 very poor): {{.AirQuality}}
{{- end}}
Time of day: {{.TimeOfDay}}
Season: {{.Season}}

Respond with JSON only, in the form:
{"activities": [{"name": "...", "category": "outdoor|indoor|social|seasonal", "description": "...", "duration": "..."}]}
`

var promptTemplate = template.Must(template.New("activities").Parse(promptText))

// modelClient is the subset of *genai.Models used here
type modelClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// promptData represents the data passed to the prompt template
type promptData struct {
	weather.Conditions
	Count     int
	TimeOfDay string
	Season    string
}

// responseSchema is the expected JSON answer
type responseSchema struct {
	Activities []activity.Activity `json:"activities"`
}

// Suggester implements activity.Backend with Gemini
type Suggester struct {
	models modelClient
	model  string
	now    func() time.Time
	logger *slog.Logger
}

var _ activity.Backend = (*Suggester)(nil)

// NewSuggester creates a Suggester from the AI settings. A missing API key
// is a Configuration error.
func NewSuggester(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (*Suggester, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, resilience.ConfigurationError("gemini", errors.New("ai.gemini_api_key is not set"))
	}
	if cfg.Model == "" {
		return nil, resilience.ConfigurationError("gemini", errors.New("ai.model is not set"))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, resilience.ConfigurationError("gemini", fmt.Errorf("failed to create Gemini client: %w", err))
	}

	return newSuggester(client.Models, cfg.Model, logger), nil
}

func newSuggester(models modelClient, model string, logger *slog.Logger) *Suggester {
	return &Suggester{
		models: models,
		model:  model,
		now:    time.Now,
		logger: logger.With("component", "gemini_suggester", "model", model),
	}
}

// Suggest asks the model for activities suited to conditions
func (s *Suggester) Suggest(ctx context.Context, conditions weather.Conditions) ([]activity.Activity, error) {
	prompt, err := s.createPrompt(conditions)
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "calling gemini", "prompt_length", len(prompt))
	resp, err := s.models.GenerateContent(ctx, s.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyError(err)
	}

	activities, err := parseResponse(resp)
	if err != nil {
		s.logger.WarnContext(ctx, "unusable gemini response", "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "gemini suggestions received", "count", len(activities))
	return activities, nil
}

// createPrompt renders the prompt template for conditions
func (s *Suggester) createPrompt(conditions weather.Conditions) (string, error) {
	now := s.now()
	data := promptData{
		Conditions: conditions,
		Count:      6,
		TimeOfDay:  timeOfDay(now),
		Season:     season(now),
	}

	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// parseResponse extracts the activities from the first candidate
func parseResponse(resp *genai.GenerateContentResponse) ([]activity.Activity, error) {
	switch {
	case resp == nil:
		return nil, fmt.Errorf("%w: nil response", ErrInvalidResponse)
	case len(resp.Candidates) == 0:
		return nil, fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	case resp.Candidates[0].FinishReason == genai.FinishReasonSafety:
		return nil, ErrContentBlocked
	case resp.Candidates[0].Content == nil:
		return nil, fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	raw := strings.TrimSpace(text.String())
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```"), "```")

	var parsed responseSchema
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}

	activities := make([]activity.Activity, 0, len(parsed.Activities))
	for _, a := range parsed.Activities {
		if strings.TrimSpace(a.Name) == "" {
			continue
		}
		activities = append(activities, a)
	}
	return activities, nil
}

func timeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	default:
		return "night"
	}
}

func season(t time.Time) string {
	switch t.Month() {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}
