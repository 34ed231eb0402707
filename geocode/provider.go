// Package geocode resolves free-text locations and coordinates through an
// external geocoding provider, memoizing successful answers for the lifetime
// of a Cache.
package geocode

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a Provider when it has no match.
	ErrNotFound = errors.New("no geocoding result")

	// ErrResponseTooLarge is returned when a provider response exceeds MaxResponseSize.
	ErrResponseTooLarge = errors.New("geocoding response too large")

	// errOutOfRegion marks a provider answer outside the configured region.
	errOutOfRegion = errors.New("result outside region")
)

// Provider is an external geocoding service.
type Provider interface {
	// Search returns up to limit candidates for query, ranked best first,
	// constrained to region.
	Search(ctx context.Context, query string, limit int, region Region) ([]Place, error)

	// Reverse returns the address nearest to the point.
	Reverse(ctx context.Context, lat, lon float64) (*ReverseResult, error)
}
