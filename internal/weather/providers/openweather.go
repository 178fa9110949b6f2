package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/agroassist/internal/geo"
	"github.com/i474232898/agroassist/internal/weather"
)

// DefaultOpenWeatherURL is the OpenWeatherMap 2.5 API root.
const DefaultOpenWeatherURL = "https://api.openweathermap.org/data/2.5"

const mphToMs = 0.44704

// OpenWeatherConfig configures the OpenWeatherMap provider.
type OpenWeatherConfig struct {
	BaseURL string
	APIKey  string
	Units   string // metric or imperial
	Lang    string
}

// OpenWeatherProvider implements weather.Provider for OpenWeatherMap's
// /weather and /forecast endpoints.
type OpenWeatherProvider struct {
	name    string
	cfg     OpenWeatherConfig
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

func NewOpenWeatherProvider(cfg OpenWeatherConfig, httpCfg HTTPClientConfig, logger zerolog.Logger) *OpenWeatherProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenWeatherURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	return &OpenWeatherProvider{
		name:    "openweathermap",
		cfg:     cfg,
		httpCfg: httpCfg,
		circuit: newBreaker("openweather"),
		logger:  logger.With().Str("component", "weather.openweather").Logger(),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

type owmCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

func (p *OpenWeatherProvider) Current(ctx context.Context, at geo.Coordinates) (weather.Current, error) {
	if p.cfg.APIKey == "" {
		return weather.Current{}, fmt.Errorf("openweather api key is not configured")
	}

	var payload struct {
		Weather []owmCondition `json:"weather"`
		Main    struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
			Pressure float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Sys struct {
			Sunrise int64 `json:"sunrise"`
			Sunset  int64 `json:"sunset"`
		} `json:"sys"`
	}
	if err := p.get(ctx, "weather", at, &payload); err != nil {
		return weather.Current{}, err
	}

	desc, icon, cond := firstCondition(payload.Weather)
	return weather.Current{
		Temperature:  payload.Main.Temp,
		Description:  desc,
		Icon:         icon,
		Condition:    cond,
		Humidity:     payload.Main.Humidity,
		WindSpeedMs:  p.windMs(payload.Wind.Speed),
		Pressure:     payload.Main.Pressure,
		SunriseEpoch: payload.Sys.Sunrise,
		SunsetEpoch:  payload.Sys.Sunset,
	}, nil
}

func (p *OpenWeatherProvider) Forecast(ctx context.Context, at geo.Coordinates) (weather.Forecast, error) {
	if p.cfg.APIKey == "" {
		return weather.Forecast{}, fmt.Errorf("openweather api key is not configured")
	}

	var payload struct {
		List []struct {
			Dt   int64 `json:"dt"`
			Main struct {
				Temp     float64 `json:"temp"`
				Humidity float64 `json:"humidity"`
			} `json:"main"`
			Weather []owmCondition `json:"weather"`
			Wind    struct {
				Speed float64 `json:"speed"`
			} `json:"wind"`
			Pop float64 `json:"pop"`
		} `json:"list"`
		City struct {
			Timezone int `json:"timezone"`
		} `json:"city"`
	}
	if err := p.get(ctx, "forecast", at, &payload); err != nil {
		return weather.Forecast{}, err
	}

	readings := make([]weather.Reading, 0, len(payload.List))
	for _, item := range payload.List {
		desc, icon, cond := firstCondition(item.Weather)
		readings = append(readings, weather.Reading{
			Time:              time.Unix(item.Dt, 0).UTC(),
			Temperature:       item.Main.Temp,
			Humidity:          item.Main.Humidity,
			WindSpeedMs:       p.windMs(item.Wind.Speed),
			Description:       desc,
			Icon:              icon,
			Condition:         cond,
			PrecipProbability: item.Pop,
		})
	}
	return weather.Forecast{Readings: readings, UTCOffset: payload.City.Timezone}, nil
}

func (p *OpenWeatherProvider) get(ctx context.Context, path string, at geo.Coordinates, out any) error {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", strconv.FormatFloat(at.Lat, 'f', 4, 64))
		values.Set("lon", strconv.FormatFloat(at.Lon, 'f', 4, 64))
		values.Set("appid", p.cfg.APIKey)
		values.Set("units", p.cfg.Units)
		if p.cfg.Lang != "" {
			values.Set("lang", p.cfg.Lang)
		}

		u := fmt.Sprintf("%s/%s?%s", p.cfg.BaseURL, path, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
	return getJSONWithResilience(ctx, p.httpCfg, p.circuit, "openweather."+path, p.logger, buildRequest, out)
}

func (p *OpenWeatherProvider) windMs(speed float64) float64 {
	if p.cfg.Units == "imperial" {
		return speed * mphToMs
	}
	return speed
}

func firstCondition(items []owmCondition) (string, string, weather.Condition) {
	if len(items) == 0 {
		return "", "", weather.ConditionUnknown
	}
	return items[0].Description, items[0].Icon, mapOpenWeatherCondition(items[0].Main)
}

func mapOpenWeatherCondition(main string) weather.Condition {
	switch main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke", "Dust", "Sand":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}
