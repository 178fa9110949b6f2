package weather

import "fmt"

// Spray condition labels.
const (
	LabelFavorable   = "Favorable"
	LabelModerate    = "Modéré"
	LabelUnfavorable = "Défavorable"
)

// Scoring bands.
const (
	sprayTempMin     = 15.0
	sprayTempMax     = 30.0
	sprayHumidityMin = 40.0
	sprayHumidityMax = 80.0
	sprayWindMax     = 5.0

	tempPoints     = 34
	humidityPoints = 33
	windPoints     = 33
)

// Factor is one contribution to a ConditionScore.
type Factor struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Points int     `json:"points"`
	Max    int     `json:"max"`
	Detail string  `json:"detail"`
}

// ConditionScore rates how suitable the current weather is for spraying.
type ConditionScore struct {
	Score   int      `json:"score"`
	Label   string   `json:"label"`
	Factors []Factor `json:"factors"`
}

// ScoreCondition scores c on temperature, humidity and wind, each pass-or-fail.
// It is pure.
func ScoreCondition(c Current) ConditionScore {
	factors := []Factor{
		band("temperature", c.Temperature, sprayTempMin, sprayTempMax, tempPoints, "°C"),
		band("humidity", c.Humidity, sprayHumidityMin, sprayHumidityMax, humidityPoints, "%"),
		wind(c.WindSpeedMs),
	}

	total := 0
	for _, f := range factors {
		total += f.Points
	}
	return ConditionScore{Score: total, Label: labelFor(total), Factors: factors}
}

func band(name string, v, lo, hi float64, max int, unit string) Factor {
	f := Factor{Name: name, Value: v, Max: max}
	if v >= lo && v <= hi {
		f.Points = max
		f.Detail = fmt.Sprintf("%.0f%s dans la plage %.0f-%.0f%s", v, unit, lo, hi, unit)
	} else {
		f.Detail = fmt.Sprintf("%.0f%s hors de la plage %.0f-%.0f%s", v, unit, lo, hi, unit)
	}
	return f
}

func wind(v float64) Factor {
	f := Factor{Name: "wind", Value: v, Max: windPoints}
	if v < sprayWindMax {
		f.Points = windPoints
		f.Detail = fmt.Sprintf("vent %.1f m/s sous %.0f m/s", v, sprayWindMax)
	} else {
		f.Detail = fmt.Sprintf("vent %.1f m/s trop fort", v)
	}
	return f
}

func labelFor(score int) string {
	switch {
	case score >= 80:
		return LabelFavorable
	case score >= 50:
		return LabelModerate
	default:
		return LabelUnfavorable
	}
}
