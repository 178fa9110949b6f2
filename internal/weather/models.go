package weather

import (
	"time"

	"github.com/i474232898/agroassist/internal/geo"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// MaxForecastDays caps Snapshot.ForecastDays.
const MaxForecastDays = 6

// Location is a resolved place. Fallback is set when the device position was
// unavailable and the configured default was used instead.
type Location struct {
	geo.Coordinates
	City     string `json:"city"`
	Country  string `json:"country"`
	Fallback bool   `json:"fallback"`
}

// Current is the observation at fetch time.
type Current struct {
	Temperature  float64   `json:"temperature"`
	Description  string    `json:"description"`
	Icon         string    `json:"icon"`
	Condition    Condition `json:"condition"`
	Humidity     float64   `json:"humidity"`
	WindSpeedMs  float64   `json:"windSpeedMs"`
	Pressure     float64   `json:"pressure"`
	SunriseEpoch int64     `json:"sunriseEpoch"`
	SunsetEpoch  int64     `json:"sunsetEpoch"`
}

// DailySample summarizes one local calendar day of forecast.
type DailySample struct {
	Date              string    `json:"date"` // YYYY-MM-DD, local to the location
	TempMin           float64   `json:"tempMin"`
	TempMax           float64   `json:"tempMax"`
	Humidity          float64   `json:"humidity"`
	WindSpeedMs       float64   `json:"windSpeedMs"`
	Description       string    `json:"description"`
	Icon              string    `json:"icon"`
	Condition         Condition `json:"condition"`
	PrecipProbability float64   `json:"precipProbability"` // 0..1
}

// Reading is a single forecast point as returned by a provider, usually 1h or 3h apart.
type Reading struct {
	Time              time.Time
	Temperature       float64
	Humidity          float64
	WindSpeedMs       float64
	Description       string
	Icon              string
	Condition         Condition
	PrecipProbability float64
}

// Forecast is a provider's forecast response. UTCOffset is the location's
// offset from UTC in seconds.
type Forecast struct {
	Readings  []Reading
	UTCOffset int
}

// Snapshot is the combined current and forecast view for a location.
// Synthetic snapshots carry placeholder values and must never be mistaken for data.
type Snapshot struct {
	Location     Location      `json:"location"`
	Current      Current       `json:"current"`
	ForecastDays []DailySample `json:"forecastDays"`
	Tomorrow     *DailySample  `json:"tomorrow"`
	FetchedAt    time.Time     `json:"fetchedAt"`
	Synthetic    bool          `json:"synthetic"`
}
