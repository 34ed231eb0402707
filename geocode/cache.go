package geocode

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/wolfeidau/doto-cache/telemetry"
)

const (
	// DefaultMaxEntries bounds each of the forward and reverse memos.
	DefaultMaxEntries = 1024

	// MinSuggestLength is the shortest query, in characters, that Suggest sends.
	MinSuggestLength = 2

	// MaxSuggestions caps the number of suggestions returned.
	MaxSuggestions = 5
)

// Lookup kinds used for metrics.
const (
	kindSearch  = "search"
	kindSuggest = "suggest"
	kindReverse = "reverse"
)

// Cache memoizes successful geocoding answers. It is owned by whoever creates
// it and is safe for concurrent use. Failed and out-of-region answers are
// never cached; concurrent misses for the same key share one provider call.
type Cache struct {
	provider   Provider
	region     Region
	logger     *slog.Logger
	maxEntries int

	forward *lru.Cache[string, Place]
	reverse *lru.Cache[string, ReverseResult]
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithRegion sets the region searches are constrained to. Default is Israel.
func WithRegion(r Region) Option {
	return func(c *Cache) {
		c.region = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMaxEntries bounds each memo. The least recently used entry is dropped
// when a memo is full.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		c.maxEntries = n
	}
}

// NewCache creates a Cache in front of provider.
func NewCache(provider Provider, opts ...Option) (*Cache, error) {
	c := &Cache{
		provider:   provider,
		region:     Israel,
		logger:     slog.Default(),
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "geocode", "region", c.region.Name)

	var err error
	if c.forward, err = lru.New[string, Place](c.maxEntries); err != nil {
		return nil, err
	}
	if c.reverse, err = lru.New[string, ReverseResult](c.maxEntries); err != nil {
		return nil, err
	}
	return c, nil
}

// Region returns the configured region.
func (c *Cache) Region() Region {
	return c.region
}

// ResolveAddress returns the best in-region match for query, or nil.
// Empty queries return nil without calling the provider.
func (c *Cache) ResolveAddress(ctx context.Context, query string) *Place {
	q := strings.TrimSpace(query)
	if q == "" {
		telemetry.RecordGeocodeLookup(ctx, kindSearch, "skipped")
		return nil
	}
	key := normalizeQuery(q)

	if p, ok := c.forward.Get(key); ok {
		telemetry.RecordGeocodeLookup(ctx, kindSearch, "hit")
		return &p
	}

	v, err := c.shared(ctx, "search:"+key, func(ctx context.Context) (any, error) {
		places, err := c.provider.Search(ctx, q, 1, c.region)
		if err != nil {
			return nil, err
		}
		if len(places) == 0 {
			return nil, ErrNotFound
		}
		p := places[0]
		if !c.region.Contains(p.Lat, p.Lon) {
			return nil, errOutOfRegion
		}
		p.Label = FormatAddress(p.Address, p.DisplayName)
		c.forward.Add(key, p)
		telemetry.UpdateGeocodeMemoEntries(ctx, c.Len())
		return p, nil
	})
	if err != nil {
		c.failed(ctx, kindSearch, err, "query", q)
		return nil
	}

	telemetry.RecordGeocodeLookup(ctx, kindSearch, "miss")
	p := v.(Place)
	return &p
}

// Suggest returns up to MaxSuggestions in-region candidates for a partially
// typed query. Results are not cached. Queries shorter than MinSuggestLength
// characters return an empty slice without calling the provider.
//
// Callers driving Suggest from keystrokes should debounce input (300ms works
// well); the provider is rate limited and slow responses queue behind it.
func (c *Cache) Suggest(ctx context.Context, query string) []Place {
	q := strings.TrimSpace(query)
	if utf8.RuneCountInString(q) < MinSuggestLength {
		telemetry.RecordGeocodeLookup(ctx, kindSuggest, "skipped")
		return []Place{}
	}

	places, err := c.provider.Search(ctx, q, MaxSuggestions, c.region)
	if err != nil {
		c.failed(ctx, kindSuggest, err, "query", q)
		return []Place{}
	}

	out := make([]Place, 0, min(len(places), MaxSuggestions))
	for _, p := range places {
		if len(out) == MaxSuggestions {
			break
		}
		if !c.region.Contains(p.Lat, p.Lon) {
			c.logger.Debug("dropping out-of-region suggestion", "query", q, "lat", p.Lat, "lon", p.Lon)
			continue
		}
		p.Label = FormatAddress(p.Address, p.DisplayName)
		out = append(out, p)
	}

	outcome := "miss"
	if len(out) == 0 {
		outcome = "empty"
	}
	telemetry.RecordGeocodeLookup(ctx, kindSuggest, outcome)
	return out
}

// ReverseResolve returns a labelled address for the point, or nil.
// Results are keyed by the point rounded to CoordinatePrecision decimals.
func (c *Cache) ReverseResolve(ctx context.Context, lat, lon float64) *ReverseResult {
	if !validCoordinate(lat, lon) {
		telemetry.RecordGeocodeLookup(ctx, kindReverse, "skipped")
		return nil
	}
	key := reverseKey(lat, lon)

	if r, ok := c.reverse.Get(key); ok {
		telemetry.RecordGeocodeLookup(ctx, kindReverse, "hit")
		return &r
	}

	v, err := c.shared(ctx, "reverse:"+key, func(ctx context.Context) (any, error) {
		res, err := c.provider.Reverse(ctx, lat, lon)
		if err != nil {
			return nil, err
		}
		label := FormatAddress(res.Address, res.DisplayName)
		if label == "" {
			return nil, ErrNotFound
		}
		r := *res
		r.Label = label
		c.reverse.Add(key, r)
		telemetry.UpdateGeocodeMemoEntries(ctx, c.Len())
		return r, nil
	})
	if err != nil {
		c.failed(ctx, kindReverse, err, "point", key)
		return nil
	}

	telemetry.RecordGeocodeLookup(ctx, kindReverse, "miss")
	r := v.(ReverseResult)
	return &r
}

// InRegion reports whether a location lies inside the region. Literal
// "lat, lon" strings are checked directly; anything else is resolved.
func (c *Cache) InRegion(ctx context.Context, location string) bool {
	if lat, lon, ok := ParseCoordinates(location); ok {
		return c.region.Contains(lat, lon)
	}
	return c.ResolveAddress(ctx, location) != nil
}

// Len returns the number of memoized answers.
func (c *Cache) Len() int {
	return c.forward.Len() + c.reverse.Len()
}

// Purge drops every memoized answer.
func (c *Cache) Purge() {
	c.forward.Purge()
	c.reverse.Purge()
}

// shared runs fn once per key across concurrent callers. fn runs detached from
// caller cancellation and is bounded by the HTTP client timeout. A cancelled
// caller stops waiting and gets ctx.Err().
func (c *Cache) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// failed logs a lookup failure at a level matching its kind. Missing,
// out-of-region and abandoned lookups are normal; provider failures are errors.
func (c *Cache) failed(ctx context.Context, kind string, err error, args ...any) {
	args = append(args, "kind", kind, "error", err)
	switch {
	case errors.Is(err, ErrNotFound):
		c.logger.Debug("no geocoding result", args...)
		telemetry.RecordGeocodeLookup(ctx, kind, "empty")
	case errors.Is(err, errOutOfRegion):
		c.logger.Debug("ignoring out-of-region result", args...)
		telemetry.RecordGeocodeLookup(ctx, kind, "out_of_region")
	case ctx.Err() != nil:
		c.logger.Debug("geocoding abandoned by caller", args...)
		telemetry.RecordGeocodeLookup(ctx, kind, "canceled")
	default:
		c.logger.Error("geocoding failed", args...)
		telemetry.RecordGeocodeLookup(ctx, kind, "error")
	}
}
