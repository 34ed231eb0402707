package geocode

import "strings"

// FormatAddress composes a short human-readable label, preferring the most
// specific components present:
//
//	"1 Rothschild, Tel Aviv"   house number, street and locality
//	"Florentin, Tel Aviv"      neighbourhood and locality
//	"Tel Aviv"                 locality only
//
// When no component is usable it falls back to the first segment of
// displayName, and returns "" if that is empty too.
func FormatAddress(a Address, displayName string) string {
	street := firstNonEmpty(a.Road, a.Street, a.Pedestrian)
	area := firstNonEmpty(a.Suburb, a.Neighbourhood)
	locality := firstNonEmpty(a.City, a.Town, a.Village)

	if street != "" && a.HouseNumber != "" {
		street = a.HouseNumber + " " + street
	}

	var head string
	switch {
	case street != "":
		head = street
	case area != "":
		head = area
	}

	switch {
	case head != "" && locality != "" && head != locality:
		return head + ", " + locality
	case head != "":
		return head
	case locality != "":
		return locality
	}

	first, _, _ := strings.Cut(displayName, ",")
	return strings.TrimSpace(first)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
