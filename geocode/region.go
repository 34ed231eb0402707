package geocode

import (
	"strconv"
	"strings"
)

// Region is a rectangular geographic envelope used both to constrain
// provider searches and to validate the coordinates they return.
type Region struct {
	Name         string
	MinLat       float64
	MaxLat       float64
	MinLon       float64
	MaxLon       float64
	CenterLat    float64
	CenterLon    float64
	CountryCodes []string // ISO 3166-1 alpha-2, lower case
}

// Israel is the region the application is scoped to. The centre is Tel Aviv.
var Israel = Region{
	Name:         "israel",
	MinLat:       29.4,
	MaxLat:       33.5,
	MinLon:       34.2,
	MaxLon:       35.9,
	CenterLat:    32.0853,
	CenterLon:    34.7818,
	CountryCodes: []string{"il"},
}

// Contains reports whether the point lies inside the region, edges included.
func (r Region) Contains(lat, lon float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

// Clamp moves a point onto the nearest position inside the region.
func (r Region) Clamp(lat, lon float64) (float64, float64) {
	return max(r.MinLat, min(r.MaxLat, lat)), max(r.MinLon, min(r.MaxLon, lon))
}

// Center returns the region's default map centre.
func (r Region) Center() (lat, lon float64) {
	return r.CenterLat, r.CenterLon
}

// ViewBox returns the region in Nominatim viewbox order:
// lon_min,lat_max,lon_max,lat_min.
func (r Region) ViewBox() string {
	return strings.Join([]string{
		formatFloat(r.MinLon),
		formatFloat(r.MaxLat),
		formatFloat(r.MaxLon),
		formatFloat(r.MinLat),
	}, ",")
}

// CountryCodeList returns the country codes as a comma separated list.
func (r Region) CountryCodeList() string {
	return strings.Join(r.CountryCodes, ",")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
