package geocode

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeQuery maps equivalent spellings of a free-text query onto one
// cache key: Unicode NFC, case folded, whitespace collapsed.
func normalizeQuery(q string) string {
	q = norm.NFC.String(q)
	// Casers carry state, so one is created per call.
	q = cases.Fold().String(q)
	return strings.Join(strings.Fields(q), " ")
}

// reverseKey rounds a point to CoordinatePrecision decimals. Components that
// round to zero lose their sign, so -0.00001 and 0.00001 share a key.
func reverseKey(lat, lon float64) string {
	return roundedComponent(lat) + ", " + roundedComponent(lon)
}

func roundedComponent(v float64) string {
	s := strconv.FormatFloat(v, 'f', CoordinatePrecision, 64)
	if strings.Trim(s, "-0.") == "" {
		return strings.TrimPrefix(s, "-")
	}
	return s
}
