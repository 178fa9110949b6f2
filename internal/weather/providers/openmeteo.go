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

// DefaultOpenMeteoURL is the keyless Open-Meteo forecast endpoint.
const DefaultOpenMeteoURL = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoProvider implements weather.Provider for Open-Meteo. It needs no
// API key and serves as the provider when none is configured.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

func NewOpenMeteoProvider(baseURL string, httpCfg HTTPClientConfig, logger zerolog.Logger) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: httpCfg,
		circuit: newBreaker("openmeteo"),
		logger:  logger.With().Str("component", "weather.openmeteo").Logger(),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Current(ctx context.Context, at geo.Coordinates) (weather.Current, error) {
	var payload struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
			Humidity    float64 `json:"relative_humidity_2m"`
			WindSpeed   float64 `json:"wind_speed_10m"`
			Pressure    float64 `json:"surface_pressure"`
			WeatherCode int     `json:"weather_code"`
			IsDay       int     `json:"is_day"`
		} `json:"current"`
		Daily struct {
			Sunrise []int64 `json:"sunrise"`
			Sunset  []int64 `json:"sunset"`
		} `json:"daily"`
	}

	err := p.get(ctx, "current", at, url.Values{
		"current":       {"temperature_2m,relative_humidity_2m,wind_speed_10m,surface_pressure,weather_code,is_day"},
		"daily":         {"sunrise,sunset"},
		"forecast_days": {"1"},
	}, &payload)
	if err != nil {
		return weather.Current{}, err
	}

	c := payload.Current
	desc, icon, cond := mapOpenMeteoCondition(c.WeatherCode, c.IsDay == 1)
	out := weather.Current{
		Temperature: c.Temperature,
		Description: desc,
		Icon:        icon,
		Condition:   cond,
		Humidity:    c.Humidity,
		WindSpeedMs: c.WindSpeed,
		Pressure:    c.Pressure,
	}
	if len(payload.Daily.Sunrise) > 0 {
		out.SunriseEpoch = payload.Daily.Sunrise[0]
	}
	if len(payload.Daily.Sunset) > 0 {
		out.SunsetEpoch = payload.Daily.Sunset[0]
	}
	return out, nil
}

func (p *OpenMeteoProvider) Forecast(ctx context.Context, at geo.Coordinates) (weather.Forecast, error) {
	var payload struct {
		UTCOffset int `json:"utc_offset_seconds"`
		Hourly    struct {
			Time        []int64   `json:"time"`
			Temperature []float64 `json:"temperature_2m"`
			Humidity    []float64 `json:"relative_humidity_2m"`
			WindSpeed   []float64 `json:"wind_speed_10m"`
			WeatherCode []int     `json:"weather_code"`
			PrecipProb  []float64 `json:"precipitation_probability"`
		} `json:"hourly"`
	}

	err := p.get(ctx, "forecast", at, url.Values{
		"hourly":        {"temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code,precipitation_probability"},
		"forecast_days": {strconv.Itoa(weather.MaxForecastDays)},
	}, &payload)
	if err != nil {
		return weather.Forecast{}, err
	}

	h := payload.Hourly
	n := len(h.Time)
	if len(h.Temperature) != n || len(h.Humidity) != n || len(h.WindSpeed) != n || len(h.WeatherCode) != n {
		return weather.Forecast{}, &UpstreamError{
			Endpoint:   "openmeteo.forecast",
			Class:      ClassDecode,
			StatusCode: http.StatusOK,
			Attempts:   1,
			Err:        fmt.Errorf("hourly series lengths differ"),
		}
	}

	readings := make([]weather.Reading, 0, n)
	for i := 0; i < n; i++ {
		desc, icon, cond := mapOpenMeteoCondition(h.WeatherCode[i], true)
		r := weather.Reading{
			Time:        time.Unix(h.Time[i], 0).UTC(),
			Temperature: h.Temperature[i],
			Humidity:    h.Humidity[i],
			WindSpeedMs: h.WindSpeed[i],
			Description: desc,
			Icon:        icon,
			Condition:   cond,
		}
		if i < len(h.PrecipProb) {
			r.PrecipProbability = h.PrecipProb[i] / 100
		}
		readings = append(readings, r)
	}
	return weather.Forecast{Readings: readings, UTCOffset: payload.UTCOffset}, nil
}

func (p *OpenMeteoProvider) get(ctx context.Context, name string, at geo.Coordinates, extra url.Values, out any) error {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(at.Lat, 'f', 4, 64))
		values.Set("longitude", strconv.FormatFloat(at.Lon, 'f', 4, 64))
		values.Set("wind_speed_unit", "ms")
		values.Set("timeformat", "unixtime")
		values.Set("timezone", "auto")
		for k, v := range extra {
			values[k] = v
		}

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
	return getJSONWithResilience(ctx, p.httpCfg, p.circuit, "openmeteo."+name, p.logger, buildRequest, out)
}

// mapOpenMeteoCondition maps WMO weather codes to a French description, an
// OpenWeatherMap-style icon and a Condition.
func mapOpenMeteoCondition(code int, day bool) (string, string, weather.Condition) {
	suffix := "n"
	if day {
		suffix = "d"
	}
	switch {
	case code == 0:
		return "ciel dégagé", "01" + suffix, weather.ConditionClear
	case code >= 1 && code <= 3:
		return "nuageux", "03" + suffix, weather.ConditionCloudy
	case code == 45 || code == 48:
		return "brouillard", "50" + suffix, weather.ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return "pluie", "10" + suffix, weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return "neige", "13" + suffix, weather.ConditionSnow
	case code >= 95:
		return "orage", "11" + suffix, weather.ConditionStorm
	default:
		return "", "", weather.ConditionUnknown
	}
}
