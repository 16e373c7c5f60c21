package weather

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConditions_OpenWeather(t *testing.T) {
	payload := json.RawMessage(`{
		"name": "London",
		"coord": {"lat": 51.5085, "lon": -0.1257},
		"main": {"temp": 18.5, "feels_like": 17.9, "humidity": 72},
		"weather": [{"main": "Rain", "description": "light rain"}],
		"wind": {"speed": 4.1}
	}`)

	c, err := ParseConditions(payload)
	require.NoError(t, err)
	assert.Equal(t, "London", c.Location)
	assert.InDelta(t, 51.5085, c.Lat, 0.0001)
	assert.InDelta(t, -0.1257, c.Lon, 0.0001)
	assert.Equal(t, "rain", c.Summary)
	assert.Equal(t, "light rain", c.Description)
	assert.InDelta(t, 18.5, c.Temperature, 0.001)
	assert.InDelta(t, 72, c.Humidity, 0.001)
	assert.InDelta(t, 4.1, c.WindSpeed, 0.001)
	assert.Zero(t, c.AirQuality)
}

func TestParseConditions_WeatherAPI(t *testing.T) {
	payload := json.RawMessage(`{
		"location": {"name": "Paris", "lat": 48.87, "lon": 2.33},
		"current": {
			"temp_c": 31, "feelslike_c": 33, "humidity": 40, "wind_kph": 36,
			"condition": {"text": "Patchy light drizzle"},
			"air_quality": {"us-epa-index": 6}
		}
	}`)

	c, err := ParseConditions(payload)
	require.NoError(t, err)
	assert.Equal(t, "Paris", c.Location)
	assert.InDelta(t, 48.87, c.Lat, 0.0001)
	assert.Equal(t, "drizzle", c.Summary)
	assert.InDelta(t, 31, c.Temperature, 0.001)
	assert.InDelta(t, 10, c.WindSpeed, 0.001)
	assert.Equal(t, 5, c.AirQuality)
}

func TestParseConditions_Unrecognized(t *testing.T) {
	_, err := ParseConditions(json.RawMessage(`{"cod": 200}`))
	assert.ErrorIs(t, err, ErrUnrecognizedPayload)

	_, err = ParseConditions(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestParseAirQuality(t *testing.T) {
	aqi, err := ParseAirQuality(json.RawMessage(`{"list": [{"main": {"aqi": 3}}]}`))
	require.NoError(t, err)
	assert.Equal(t, 3, aqi)

	aqi, err = ParseAirQuality(json.RawMessage(`{"list": []}`))
	require.NoError(t, err)
	assert.Zero(t, aqi)
}
