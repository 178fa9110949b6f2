package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/agroassist/internal/geo"
)

var validate = validator.New()

// AppConfig holds runtime settings for the gateway and its clients.
type AppConfig struct {
	Port string `validate:"required,numeric"`

	// BackendBaseURL is the agricultural backend serving analysis and health endpoints.
	BackendBaseURL string `validate:"required,url"`

	Weather  WeatherConfig
	Location LocationConfig
	Timeouts TimeoutConfig
	Store    StoreConfig
	Outbox   OutboxConfig
	Logging  LoggingConfig

	// RefreshInterval controls how often the scheduler probes and refreshes weather.
	RefreshInterval time.Duration `validate:"gt=0"`
}

// WeatherConfig controls the third-party weather API client. Without an
// OpenWeatherMap key the keyless Open-Meteo API is used.
type WeatherConfig struct {
	BaseURL        string        `validate:"required,url"`
	APIKey         string
	OpenMeteoURL   string        `validate:"required,url"`
	Units          string        `validate:"oneof=metric imperial standard"`
	Lang           string        `validate:"required"`
	CacheTTL       time.Duration `validate:"gt=0"`
	RetryBaseDelay time.Duration `validate:"gt=0"`
	RetryMax       int           `validate:"gte=0,lte=10"`
}

// LocationConfig describes the device position and the fixed fallback place.
type LocationConfig struct {
	// Device is nil when no device position is available, which the resolver
	// treats as a denied permission.
	Device         *geo.Coordinates
	Default        geo.Coordinates
	DefaultCity    string `validate:"required"`
	DefaultCountry string `validate:"required"`
	CacheTTL       time.Duration `validate:"gt=0"`
	GeocoderAPIKey string
}

// TimeoutConfig bounds every outbound call.
type TimeoutConfig struct {
	Probe    time.Duration `validate:"gt=0"`
	Analysis time.Duration `validate:"gt=0"`
	Weather  time.Duration `validate:"gt=0"`
}

// StoreConfig selects the KV backend for caches.
type StoreConfig struct {
	Backend     string `validate:"oneof=memory valkey postgres"`
	ValkeyAddr  string `validate:"required_if=Backend valkey"`
	PostgresDSN string `validate:"required_if=Backend postgres"`
}

// OutboxConfig bounds the backend event outbox.
type OutboxConfig struct {
	Capacity int    `validate:"gt=0"`
	Policy   string `validate:"oneof=drop-oldest reject"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string
	Format string `validate:"omitempty,oneof=json text"`
}

// Load reads configuration from the environment (and .env when present),
// applies defaults and validates the result.
func Load() (*AppConfig, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := &AppConfig{
		Port:           getenvDefault("PORT", "8080"),
		BackendBaseURL: strings.TrimRight(getenvDefault("BACKEND_BASE_URL", "http://localhost:8000"), "/"),
		Weather: WeatherConfig{
			BaseURL:      strings.TrimRight(getenvDefault("WEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5"), "/"),
			APIKey:       os.Getenv("OPENWEATHER_API_KEY"),
			OpenMeteoURL: getenvDefault("OPENMETEO_URL", "https://api.open-meteo.com/v1/forecast"),
			Units:        getenvDefault("WEATHER_UNITS", "metric"),
			Lang:         getenvDefault("WEATHER_LANG", "fr"),
		},
		Location: LocationConfig{
			DefaultCity:    getenvDefault("DEFAULT_CITY", "Dakar"),
			DefaultCountry: getenvDefault("DEFAULT_COUNTRY", "SN"),
			GeocoderAPIKey: os.Getenv("GEOCODER_API_KEY"),
		},
		Store: StoreConfig{
			Backend:     getenvDefault("STORE_BACKEND", "memory"),
			ValkeyAddr:  os.Getenv("VALKEY_ADDR"),
			PostgresDSN: os.Getenv("POSTGRES_DSN"),
		},
		Outbox: OutboxConfig{
			Capacity: getenvInt("OUTBOX_CAPACITY", 64),
			Policy:   getenvDefault("OUTBOX_POLICY", "drop-oldest"),
		},
		Logging: LoggingConfig{
			Level:  getenvDefault("LOG_LEVEL", "info"),
			Format: os.Getenv("LOG_FORMAT"),
		},
	}
	cfg.Weather.RetryMax = getenvInt("RETRY_MAX", 2)

	var err error
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"PROBE_TIMEOUT", "5s", &cfg.Timeouts.Probe},
		{"ANALYSIS_TIMEOUT", "30s", &cfg.Timeouts.Analysis},
		{"WEATHER_TIMEOUT", "8s", &cfg.Timeouts.Weather},
		{"WEATHER_CACHE_TTL", "20m", &cfg.Weather.CacheTTL},
		{"LOCATION_CACHE_TTL", "60m", &cfg.Location.CacheTTL},
		{"RETRY_BASE_DELAY", "500ms", &cfg.Weather.RetryBaseDelay},
		{"REFRESH_INTERVAL", "15m", &cfg.RefreshInterval},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(getenvDefault(d.key, d.def)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	if cfg.Location.Default, err = parseCoordinates(getenvDefault("DEFAULT_LAT", "14.6937"), getenvDefault("DEFAULT_LON", "-17.4441")); err != nil {
		return nil, fmt.Errorf("invalid default location: %w", err)
	}

	if lat, lon := os.Getenv("DEVICE_LAT"), os.Getenv("DEVICE_LON"); lat != "" || lon != "" {
		device, err := parseCoordinates(lat, lon)
		if err != nil {
			return nil, fmt.Errorf("invalid device location: %w", err)
		}
		cfg.Location.Device = &device
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks struct constraints, including nested coordinates.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := validate.Struct(c.Location.Default); err != nil {
		return fmt.Errorf("default location: %w", err)
	}
	if c.Location.Device != nil {
		if err := validate.Struct(c.Location.Device); err != nil {
			return fmt.Errorf("device location: %w", err)
		}
	}
	return nil
}

func parseCoordinates(lat, lon string) (geo.Coordinates, error) {
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return geo.Coordinates{}, fmt.Errorf("latitude %q: %w", lat, err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return geo.Coordinates{}, fmt.Errorf("longitude %q: %w", lon, err)
	}
	return geo.Coordinates{Lat: la, Lon: lo}, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
