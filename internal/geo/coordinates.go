package geo

import (
	"fmt"
	"math"
)

// DefaultTolerance is the maximum per-axis difference, in degrees, for two
// coordinates to be treated as the same place.
const DefaultTolerance = 0.01

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Near reports whether c and other differ by at most tol degrees on both axes.
func (c Coordinates) Near(other Coordinates, tol float64) bool {
	return math.Abs(c.Lat-other.Lat) <= tol && math.Abs(c.Lon-other.Lon) <= tol
}

// String formats the pair with four decimals (roughly 10m).
func (c Coordinates) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}
