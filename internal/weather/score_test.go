package weather

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreCondition(t *testing.T) {
	cases := []struct {
		name  string
		in    Current
		score int
		label string
	}{
		{"ideal", Current{Temperature: 20, Humidity: 50, WindSpeedMs: 2}, 100, LabelFavorable},
		{"hot humid windy", Current{Temperature: 38, Humidity: 95, WindSpeedMs: 8}, 0, LabelUnfavorable},
		{"windy only", Current{Temperature: 25, Humidity: 60, WindSpeedMs: 5}, 67, LabelModerate},
		{"temperature only", Current{Temperature: 15, Humidity: 90, WindSpeedMs: 9}, 34, LabelUnfavorable},
		{"band edges", Current{Temperature: 30, Humidity: 80, WindSpeedMs: 4.9}, 100, LabelFavorable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreCondition(tc.in)
			require.Equal(t, tc.score, got.Score)
			require.Equal(t, tc.label, got.Label)
			require.Len(t, got.Factors, 3)
		})
	}
}

func TestScoreConditionFactors(t *testing.T) {
	got := ScoreCondition(Current{Temperature: 20, Humidity: 30, WindSpeedMs: 1})
	require.Equal(t, 67, got.Score)
	require.Equal(t, "humidity", got.Factors[1].Name)
	require.Zero(t, got.Factors[1].Points)
	require.Equal(t, 33, got.Factors[1].Max)
}
