package activity

import (
	"context"

	"github.com/phrazzld/weatherdash/internal/weather"
)

// Category groups activities
type Category string

const (
	CategoryOutdoor  Category = "outdoor"
	CategoryIndoor   Category = "indoor"
	CategorySocial   Category = "social"
	CategorySeasonal Category = "seasonal"
)

// Activity is one suggestion
type Activity struct {
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Duration    string   `json:"duration"`
}

// Backend produces suggestions from an external source
type Backend interface {
	Suggest(ctx context.Context, conditions weather.Conditions) ([]Activity, error)
}

const (
	hotThreshold   = 25.0
	coldThreshold  = 10.0
	windyThreshold = 10.0
)

// Rules returns rule-based suggestions for conditions. It never returns an
// empty slice.
func Rules(c weather.Conditions) []Activity {
	var out []Activity

	switch c.Summary {
	case "rain", "drizzle", "thunderstorm":
		out = append(out,
			Activity{"Movie Marathon", CategoryIndoor, "Catch up on films while the rain passes", "2-4 hours"},
			Activity{"Cook Something New", CategoryIndoor, "Try a recipe you have been saving", "1-2 hours"},
		)
	case "snow":
		out = append(out,
			Activity{"Sledding", CategorySeasonal, "Find a hill and enjoy the fresh snow", "1-2 hours"},
			Activity{"Build a Snowman", CategorySeasonal, "A classic snow day project", "1 hour"},
		)
	case "clear":
		if c.Temperature >= coldThreshold && c.Temperature <= hotThreshold {
			out = append(out,
				Activity{"Hiking", CategoryOutdoor, "Clear skies make for good trail views", "2-4 hours"},
				Activity{"Picnic in the Park", CategorySocial, "Pack lunch and enjoy the sun", "1-2 hours"},
			)
		}
	}

	switch {
	case c.Temperature > hotThreshold:
		out = append(out,
			Activity{"Swimming", CategoryOutdoor, "Cool off with a refreshing swim", "1-2 hours"},
			Activity{"Ice Cream Walk", CategorySocial, "Enjoy ice cream on a leisurely walk", "30 minutes"},
		)
	case c.Temperature < coldThreshold:
		out = append(out,
			Activity{"Hot Chocolate and Reading", CategoryIndoor, "Cozy up with a warm drink and a good book", "1-3 hours"},
			Activity{"Museum Visit", CategoryIndoor, "Explore an exhibit somewhere warm", "2-3 hours"},
		)
	default:
		out = append(out, Activity{"Cycling", CategoryOutdoor, "Mild temperatures suit a bike ride", "1-2 hours"})
	}

	if c.WindSpeed >= windyThreshold {
		out = append(out, Activity{"Kite Flying", CategoryOutdoor, "Put the wind to use", "1 hour"})
	}
	if c.AirQuality >= 4 {
		out = filterOut(out, CategoryOutdoor)
		out = append(out, Activity{"Indoor Climbing", CategoryIndoor, "Stay active while the air is poor", "1-2 hours"})
	}

	if len(out) == 0 {
		out = append(out, Activity{"Board Games", CategorySocial, "Gather friends for a game night", "2-3 hours"})
	}
	return out
}

func filterOut(activities []Activity, category Category) []Activity {
	kept := activities[:0]
	for _, a := range activities {
		if a.Category != category {
			kept = append(kept, a)
		}
	}
	return kept
}
