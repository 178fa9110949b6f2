package weather

import (
	"context"

	"github.com/i474232898/agroassist/internal/geo"
)

// Provider abstracts a weather data source (e.g. OpenWeatherMap, Open-Meteo).
// Implementations own their retry and circuit breaking.
type Provider interface {
	Name() string
	Current(ctx context.Context, at geo.Coordinates) (Current, error)
	Forecast(ctx context.Context, at geo.Coordinates) (Forecast, error)
}
