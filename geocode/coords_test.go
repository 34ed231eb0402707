package geocode

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		in       string
		lat, lon float64
		ok       bool
	}{
		{in: "32.0853, 34.7818", lat: 32.0853, lon: 34.7818, ok: true},
		{in: "32.0853,34.7818", lat: 32.0853, lon: 34.7818, ok: true},
		{in: "  -33.86, 151.2 ", lat: -33.86, lon: 151.2, ok: true},
		{in: "32, 34", lat: 32, lon: 34, ok: true},
		{in: "32.0853 34.7818"},
		{in: "Tel Aviv"},
		{in: "32.0853, 34.7818, 5"},
		{in: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lat, lon, ok := ParseCoordinates(tt.in)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.InDelta(t, tt.lat, lat, 1e-9)
				require.InDelta(t, tt.lon, lon, 1e-9)
			}
		})
	}
}

func TestFormatCoordinates(t *testing.T) {
	require.Equal(t, "32.0853, 34.7818", FormatCoordinates(32.0853, 34.7818))
	require.Equal(t, "32.0853, 34.7818", FormatCoordinates(32.08531, 34.78179))
	require.Equal(t, "-1.0000, 2.5000", FormatCoordinates(-1, 2.5))

	lat, lon, ok := ParseCoordinates(FormatCoordinates(31.7683, 35.2137))
	require.True(t, ok)
	require.InDelta(t, 31.7683, lat, 1e-9)
	require.InDelta(t, 35.2137, lon, 1e-9)
}

func TestValidCoordinate(t *testing.T) {
	require.True(t, validCoordinate(0, 0))
	require.True(t, validCoordinate(-90, 180))
	require.False(t, validCoordinate(90.1, 0))
	require.False(t, validCoordinate(0, -180.1))
	require.False(t, validCoordinate(math.NaN(), 0))
	require.False(t, validCoordinate(0, math.Inf(1)))
}
