package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	App      AppConfig      `mapstructure:"app" validate:"required"`
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Weather  WeatherConfig  `mapstructure:"weather" validate:"required"`
	Retry    RetryConfig    `mapstructure:"retry" validate:"required"`
	Breaker  BreakerConfig  `mapstructure:"breaker" validate:"required"`
	Cache    CacheConfig    `mapstructure:"cache" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Loader   LoaderConfig   `mapstructure:"loader" validate:"required"`
	Maps     MapsConfig     `mapstructure:"maps"`
	AI       AIConfig       `mapstructure:"ai"`
}

// AppConfig contains application-wide paths and identity.
type AppConfig struct {
	Name      string `mapstructure:"name" validate:"required"`
	DataDir   string `mapstructure:"data_dir" validate:"required"`
	ExportDir string `mapstructure:"export_dir" validate:"required"`
}

// ServerConfig contains the diagnostics server settings. A zero port
// disables the server.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"gte=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// WeatherConfig contains provider credentials and client tuning.
type WeatherConfig struct {
	// API keys are checked by the weather client task, not at load time
	APIKey          string `mapstructure:"api_key"`
	BackupAPIKey    string `mapstructure:"backup_api_key"`
	AlternateAPIKey string `mapstructure:"alternate_api_key"`

	Units             string `mapstructure:"units" validate:"required,oneof=metric imperial standard"`
	OpenWeatherURL    string `mapstructure:"openweather_url" validate:"required,url"`
	OpenWeatherGeoURL string `mapstructure:"openweather_geo_url" validate:"required,url"`
	WeatherAPIURL     string `mapstructure:"weatherapi_url" validate:"required,url"`
	DefaultLocation   string `mapstructure:"default_location"`

	Timeout              time.Duration `mapstructure:"timeout" validate:"gt=0"`
	SwitchThreshold      int           `mapstructure:"switch_threshold" validate:"gte=1"`
	OfflineThreshold     time.Duration `mapstructure:"offline_threshold" validate:"gt=0"`
	OfflineRetryInterval time.Duration `mapstructure:"offline_retry_interval" validate:"gt=0"`
}

// RetryConfig is the exponential backoff policy for provider calls.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay       time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay        time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	ExponentialBase float64       `mapstructure:"exponential_base" validate:"gte=1"`
	Jitter          bool          `mapstructure:"jitter"`
}

// BreakerConfig configures every named circuit breaker.
type BreakerConfig struct {
	Threshold uint32        `mapstructure:"threshold" validate:"gte=1"`
	Cooldown  time.Duration `mapstructure:"cooldown" validate:"gt=0"`
}

// CacheConfig selects where cached payloads are persisted.
type CacheConfig struct {
	Backend      string        `mapstructure:"backend" validate:"required,oneof=memory file postgres redis"`
	File         string        `mapstructure:"file"`
	StaleCeiling time.Duration `mapstructure:"stale_ceiling" validate:"gt=0"`
}

// DatabaseConfig is used by the postgres cache backend.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// RedisConfig is used by the redis cache backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// LoaderConfig tunes the startup task scheduler.
type LoaderConfig struct {
	Workers        int           `mapstructure:"workers" validate:"gte=1,lte=64"`
	QueueSize      int           `mapstructure:"queue_size" validate:"gte=0"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
}

// MapsConfig contains map tile provider settings.
type MapsConfig struct {
	APIKey       string `mapstructure:"api_key"`
	TileURL      string `mapstructure:"tile_url" validate:"required,url"`
	StaticMapURL string `mapstructure:"static_map_url" validate:"required,url"`
}

// AIConfig contains the optional LLM suggestion backend settings.
type AIConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model" validate:"required"`
}
