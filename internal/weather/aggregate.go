package weather

import (
	"math"
	"sort"
	"time"
)

// AggregateDaily groups readings by local calendar day (offset seconds east of
// UTC) and summarizes each day: min/max temperature, mean humidity, max wind,
// max precipitation probability, and the description of the reading closest to
// local noon. At most MaxForecastDays days are returned, oldest first.
func AggregateDaily(readings []Reading, offset int) []DailySample {
	if len(readings) == 0 {
		return nil
	}
	zone := time.FixedZone("", offset)

	byDay := make(map[string][]Reading)
	for _, r := range readings {
		day := r.Time.In(zone).Format(time.DateOnly)
		byDay[day] = append(byDay[day], r)
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)
	if len(days) > MaxForecastDays {
		days = days[:MaxForecastDays]
	}

	out := make([]DailySample, 0, len(days))
	for _, d := range days {
		out = append(out, summarizeDay(d, byDay[d], zone))
	}
	return out
}

func summarizeDay(day string, readings []Reading, zone *time.Location) DailySample {
	s := DailySample{
		Date:    day,
		TempMin: math.Inf(1),
		TempMax: math.Inf(-1),
	}

	var sumHumidity float64
	bestNoonGap := math.MaxFloat64
	for _, r := range readings {
		s.TempMin = math.Min(s.TempMin, r.Temperature)
		s.TempMax = math.Max(s.TempMax, r.Temperature)
		s.WindSpeedMs = math.Max(s.WindSpeedMs, r.WindSpeedMs)
		s.PrecipProbability = math.Max(s.PrecipProbability, r.PrecipProbability)
		sumHumidity += r.Humidity

		local := r.Time.In(zone)
		gap := math.Abs(float64(local.Hour()*60+local.Minute()) - 12*60)
		if gap < bestNoonGap {
			bestNoonGap = gap
			s.Description = r.Description
			s.Icon = r.Icon
			s.Condition = r.Condition
		}
	}
	s.Humidity = math.Round(sumHumidity / float64(len(readings)))
	if s.Condition == "" {
		s.Condition = ConditionUnknown
	}
	return s
}

// DayAfter returns the sample dated the day after now in the given offset, if present.
func DayAfter(days []DailySample, now time.Time, offset int) *DailySample {
	want := now.In(time.FixedZone("", offset)).AddDate(0, 0, 1).Format(time.DateOnly)
	for i := range days {
		if days[i].Date == want {
			d := days[i]
			return &d
		}
	}
	return nil
}
