package geocode

// Address holds the structured address components returned by the provider.
// Only the fields used for labels and display are kept.
type Address struct {
	HouseNumber   string `json:"house_number,omitempty"`
	Road          string `json:"road,omitempty"`
	Street        string `json:"street,omitempty"`
	Pedestrian    string `json:"pedestrian,omitempty"`
	Suburb        string `json:"suburb,omitempty"`
	Neighbourhood string `json:"neighbourhood,omitempty"`
	City          string `json:"city,omitempty"`
	Town          string `json:"town,omitempty"`
	Village       string `json:"village,omitempty"`
	Postcode      string `json:"postcode,omitempty"`
	Country       string `json:"country,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
}

// Place is a forward geocoding result.
type Place struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
	Label       string  `json:"label,omitempty"`
	Address     Address `json:"address"`
}

// ReverseResult is a reverse geocoding result.
type ReverseResult struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Label       string  `json:"label"`
	DisplayName string  `json:"display_name,omitempty"`
	Address     Address `json:"address"`
}
