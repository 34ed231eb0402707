package geocode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsraelContains(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{name: "tel aviv", lat: 32.0853, lon: 34.7818, want: true},
		{name: "eilat", lat: 29.5577, lon: 34.9519, want: true},
		{name: "south west corner", lat: 29.4, lon: 34.2, want: true},
		{name: "north east corner", lat: 33.5, lon: 35.9, want: true},
		{name: "just south", lat: 29.3999, lon: 34.9, want: false},
		{name: "just east", lat: 31.5, lon: 35.9001, want: false},
		{name: "paris", lat: 48.8566, lon: 2.3522, want: false},
		{name: "origin", lat: 0, lon: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Israel.Contains(tt.lat, tt.lon))
		})
	}
}

func TestRegionClamp(t *testing.T) {
	lat, lon := Israel.Clamp(48.8566, 2.3522)
	require.Equal(t, 33.5, lat)
	require.Equal(t, 34.2, lon)

	lat, lon = Israel.Clamp(32.0853, 34.7818)
	require.Equal(t, 32.0853, lat)
	require.Equal(t, 34.7818, lon)

	lat, lon = Israel.Clamp(-10, 90)
	require.True(t, Israel.Contains(lat, lon))
}

func TestRegionViewBox(t *testing.T) {
	require.Equal(t, "34.2,33.5,35.9,29.4", Israel.ViewBox())
	require.Equal(t, "il", Israel.CountryCodeList())

	lat, lon := Israel.Center()
	require.Equal(t, 32.0853, lat)
	require.Equal(t, 34.7818, lon)
	require.True(t, Israel.Contains(lat, lon))
}
