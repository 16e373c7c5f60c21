package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/phrazzld/weatherdash/internal/resilience"
)

// EnvPrefix prefixes every environment variable, e.g. WEATHERDASH_WEATHER_API_KEY
const EnvPrefix = "WEATHERDASH"

// ErrUnknownKey is returned by Lookup for keys that name no setting
var ErrUnknownKey = errors.New("unknown configuration key")

// setDefaults registers a default for every key so that environment
// variables are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".weatherdash")

	v.SetDefault("app.name", "weatherdash")
	v.SetDefault("app.data_dir", dataDir)
	v.SetDefault("app.export_dir", filepath.Join(dataDir, "exports"))

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.backup_api_key", "")
	v.SetDefault("weather.alternate_api_key", "")
	v.SetDefault("weather.units", "metric")
	v.SetDefault("weather.openweather_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("weather.openweather_geo_url", "https://api.openweathermap.org/geo/1.0")
	v.SetDefault("weather.weatherapi_url", "https://api.weatherapi.com/v1")
	v.SetDefault("weather.default_location", "London")
	v.SetDefault("weather.timeout", 10*time.Second)
	v.SetDefault("weather.switch_threshold", 3)
	v.SetDefault("weather.offline_threshold", 30*time.Second)
	v.SetDefault("weather.offline_retry_interval", time.Minute)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 32*time.Second)
	v.SetDefault("retry.exponential_base", 2.0)
	v.SetDefault("retry.jitter", true)

	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown", time.Minute)

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.file", "")
	v.SetDefault("cache.stale_ceiling", 2*time.Hour)

	v.SetDefault("database.url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("loader.workers", 4)
	v.SetDefault("loader.queue_size", 64)
	v.SetDefault("loader.retry_backoff", 500*time.Millisecond)
	v.SetDefault("loader.default_timeout", 30*time.Second)

	v.SetDefault("maps.api_key", "")
	v.SetDefault("maps.tile_url", "https://tile.openweathermap.org/map")
	v.SetDefault("maps.static_map_url", "https://maps.geoapify.com/v1/staticmap")

	v.SetDefault("ai.gemini_api_key", "")
	v.SetDefault("ai.model", "gemini-2.0-flash")
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return load("")
}

// LoadFile behaves like Load but reads the given YAML file instead of
// searching the default locations. The file must exist.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("weatherdash")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "weatherdash"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Cache.File == "" {
		cfg.Cache.File = filepath.Join(cfg.App.DataDir, "weather_cache.json")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the settings each cache backend needs
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	switch cfg.Cache.Backend {
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("validation failed: database.url is required for the postgres cache backend")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			return errors.New("validation failed: redis.addr is required for the redis cache backend")
		}
	}
	return nil
}

// Lookup returns the setting under a dotted key such as "weather.api_key"
func (c *Config) Lookup(key string) (string, error) {
	field, err := c.field(key)
	if err != nil {
		return "", err
	}
	if field.Kind() == reflect.String {
		return field.String(), nil
	}
	return fmt.Sprint(field.Interface()), nil
}

// Require returns a non-empty setting or a Configuration error naming key
func (c *Config) Require(key string) (string, error) {
	value, err := c.Lookup(key)
	if err != nil {
		return "", resilience.ConfigurationError(key, err)
	}
	if value == "" {
		return "", resilience.ConfigurationError(key, fmt.Errorf("required setting %s is not set", key))
	}
	return value, nil
}

// field walks the mapstructure tags of Config along key
func (c *Config) field(key string) (reflect.Value, error) {
	current := reflect.ValueOf(c).Elem()
	for _, part := range strings.Split(key, ".") {
		if current.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		next, ok := fieldByTag(current, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		current = next
	}
	if current.Kind() == reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %s names a group", ErrUnknownKey, key)
	}
	return current, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("mapstructure") == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
