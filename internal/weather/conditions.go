package weather

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Conditions is the provider independent subset of a current conditions
// payload that alerting and suggestions work from. WeatherAPI payloads are
// read in metric units.
type Conditions struct {
	Location    string  `json:"location"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Summary     string  `json:"summary"`
	Description string  `json:"description"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
	// AirQuality is the 1 (good) to 5 (very poor) index, zero when unknown
	AirQuality int `json:"air_quality,omitempty"`
}

// ErrUnrecognizedPayload is returned for payloads of no known provider shape
var ErrUnrecognizedPayload = errors.New("unrecognized conditions payload")

type openWeatherCurrent struct {
	Name  string `json:"name"`
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Main *struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

type weatherAPICurrent struct {
	Location struct {
		Name string  `json:"name"`
		Lat  float64 `json:"lat"`
		Lon  float64 `json:"lon"`
	} `json:"location"`
	Current *struct {
		TempC      float64 `json:"temp_c"`
		FeelsLikeC float64 `json:"feelslike_c"`
		Humidity   float64 `json:"humidity"`
		WindKph    float64 `json:"wind_kph"`
		Condition  struct {
			Text string `json:"text"`
		} `json:"condition"`
		AirQuality struct {
			EPAIndex int `json:"us-epa-index"`
		} `json:"air_quality"`
	} `json:"current"`
}

type openWeatherAir struct {
	List []struct {
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
	} `json:"list"`
}

// ParseConditions decodes a current conditions payload from any provider
func ParseConditions(payload json.RawMessage) (Conditions, error) {
	var ow openWeatherCurrent
	if err := json.Unmarshal(payload, &ow); err != nil {
		return Conditions{}, fmt.Errorf("failed to decode conditions payload: %w", err)
	}
	if ow.Main != nil {
		c := Conditions{
			Location:    ow.Name,
			Lat:         ow.Coord.Lat,
			Lon:         ow.Coord.Lon,
			Temperature: ow.Main.Temp,
			FeelsLike:   ow.Main.FeelsLike,
			Humidity:    ow.Main.Humidity,
			WindSpeed:   ow.Wind.Speed,
		}
		if len(ow.Weather) > 0 {
			c.Summary = strings.ToLower(ow.Weather[0].Main)
			c.Description = ow.Weather[0].Description
		}
		return c, nil
	}

	var wa weatherAPICurrent
	if err := json.Unmarshal(payload, &wa); err != nil {
		return Conditions{}, fmt.Errorf("failed to decode conditions payload: %w", err)
	}
	if wa.Current != nil {
		return Conditions{
			Location:    wa.Location.Name,
			Lat:         wa.Location.Lat,
			Lon:         wa.Location.Lon,
			Summary:     summarize(wa.Current.Condition.Text),
			Description: wa.Current.Condition.Text,
			Temperature: wa.Current.TempC,
			FeelsLike:   wa.Current.FeelsLikeC,
			Humidity:    wa.Current.Humidity,
			WindSpeed:   wa.Current.WindKph / 3.6,
			AirQuality:  epaToIndex(wa.Current.AirQuality.EPAIndex),
		}, nil
	}

	return Conditions{}, ErrUnrecognizedPayload
}

// ParseAirQuality returns the 1..5 index of an air quality payload, zero
// when the payload carries none.
func ParseAirQuality(payload json.RawMessage) (int, error) {
	var air openWeatherAir
	if err := json.Unmarshal(payload, &air); err != nil {
		return 0, fmt.Errorf("failed to decode air quality payload: %w", err)
	}
	if len(air.List) == 0 {
		return 0, nil
	}
	return air.List[0].Main.AQI, nil
}

// summarize maps free text conditions onto openweather's main groups
func summarize(text string) string {
	text = strings.ToLower(text)
	for _, group := range []struct{ needle, summary string }{
		{"thunder", "thunderstorm"},
		{"snow", "snow"},
		{"sleet", "snow"},
		{"drizzle", "drizzle"},
		{"rain", "rain"},
		{"shower", "rain"},
		{"fog", "fog"},
		{"mist", "mist"},
		{"cloud", "clouds"},
		{"overcast", "clouds"},
		{"sun", "clear"},
		{"clear", "clear"},
	} {
		if strings.Contains(text, group.needle) {
			return group.summary
		}
	}
	return text
}

// epaToIndex folds the six step US EPA index onto the five step scale
func epaToIndex(epa int) int {
	switch {
	case epa <= 0:
		return 0
	case epa >= 5:
		return 5
	default:
		return epa
	}
}
