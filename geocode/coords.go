package geocode

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CoordinatePrecision is the number of decimal places coordinates are rounded
// to when used as cache keys (about 11 m of latitude).
const CoordinatePrecision = 4

var coordPattern = regexp.MustCompile(`^(-?\d+\.?\d*),\s*(-?\d+\.?\d*)$`)

// ParseCoordinates parses a literal "lat, lon" string such as
// "32.0853, 34.7818". ok is false for anything else.
func ParseCoordinates(s string) (lat, lon float64, ok bool) {
	m := coordPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// FormatCoordinates renders a point the way it is keyed and displayed.
func FormatCoordinates(lat, lon float64) string {
	return fmt.Sprintf("%.*f, %.*f", CoordinatePrecision, lat, CoordinatePrecision, lon)
}

func validCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
